package notify

import "context"

// API is the slice of the REST boundary the relay needs.
type API interface {
	PostJSON(ctx context.Context, path string, body, out any) error
	PutJSON(ctx context.Context, path string, body, out any) error
}

// Emitter is the slice of the event channel session the relay needs.
type Emitter interface {
	Emit(event string, payload any) error
}

// Payload is the sendNotification event.
type Payload struct {
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	PostID    string `json:"related_post_id,omitempty"`
}

// Relay delivers "you were the target of an action" events: a durable
// REST record first, the live event only once that write succeeded, so
// a recipient never sees a notification that was not persisted.
type Relay struct {
	api     API
	session Emitter
}

func NewRelay(api API, session Emitter) *Relay {
	return &Relay{api: api, session: session}
}

// Notify writes the durable record and then emits the live event.
// Live delivery is best effort and at most once: a recipient who is
// not connected catches up from the notification list later.
func (r *Relay) Notify(ctx context.Context, recipientID, kind, postID string) error {
	payload := Payload{Recipient: recipientID, Type: kind, PostID: postID}
	if err := r.api.PostJSON(ctx, "/api/notifications", payload, nil); err != nil {
		return err
	}
	// the record is durable; a failed emit only costs liveness
	_ = r.session.Emit("sendNotification", payload)
	return nil
}

// AcceptFriendRequest confirms the request and notifies the sender
// that it was accepted.
func (r *Relay) AcceptFriendRequest(ctx context.Context, requestID, fromUserID string) error {
	if err := r.api.PutJSON(ctx, "/api/friendRequest/accept/"+requestID, nil, nil); err != nil {
		return err
	}
	return r.Notify(ctx, fromUserID, "friend_accept", "")
}
