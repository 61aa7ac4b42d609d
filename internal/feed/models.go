package feed

import "time"

type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Post struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"`
	Likes     []string  `json:"likes"`
	Comments  []Comment `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

// LikeDelta is the post_liked broadcast: the full resulting liker set,
// not a diff, which keeps applying it idempotent.
type LikeDelta struct {
	PostID string   `json:"postId"`
	Likes  []string `json:"likes"`
}

// CommentDelta is the new_comment broadcast carrying the post's
// comment sequence after the append.
type CommentDelta struct {
	PostID   string    `json:"postId"`
	Comments []Comment `json:"comments"`
}
