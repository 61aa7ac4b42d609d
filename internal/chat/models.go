package chat

import "time"

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// Content is a tagged payload. The kind discriminates text from image
// references explicitly; nothing is inferred from the value itself.
type Content struct {
	Kind  ContentKind `json:"kind"`
	Value string      `json:"value"`
}

func Text(value string) Content  { return Content{Kind: ContentText, Value: value} }
func Image(value string) Content { return Content{Kind: ContentImage, Value: value} }

type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
)

type Message struct {
	ID         string       `json:"id"`
	SenderID   string       `json:"sender_id"`
	ReceiverID string       `json:"receiver_id"`
	Content    Content      `json:"content"`
	CreatedAt  time.Time    `json:"created_at"`
	State      MessageState `json:"state,omitempty"`
}

// Conversation holds one peer's thread. Messages are ordered by
// creation timestamp with arrival order breaking ties.
type Conversation struct {
	PeerID   string    `json:"peer_id"`
	Messages []Message `json:"messages"`
	Unread   int       `json:"unread"`
}

// SendPayload is the send_message client event.
type SendPayload struct {
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Content    Content `json:"content"`
}

// PhotoPayload is the send_photo_message client event.
type PhotoPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	FileData   string `json:"fileData"`
	FileType   string `json:"fileType"`
}
