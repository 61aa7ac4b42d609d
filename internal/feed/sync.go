package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"linkup-realtime/internal/channel"
	"linkup-realtime/internal/ledger"
)

// API is the slice of the REST boundary the feed needs.
type API interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, body, out any) error
}

// Channel is the slice of the event channel session the feed needs.
type Channel interface {
	Subscribe(topic string, h channel.Handler) (cancel func())
	OnReconnect(fn func())
}

// Synchronizer is the single source of truth for the feed's posts for
// the lifetime of the feed view. REST snapshots, push deltas and
// optimistic local edits all converge here.
type Synchronizer struct {
	selfID string
	api    API
	ledger *ledger.Ledger

	mu     sync.Mutex
	posts  []Post
	index  map[string]int
	subs   []func()
	closed bool
}

func NewSynchronizer(selfID string, api API, led *ledger.Ledger) *Synchronizer {
	return &Synchronizer{
		selfID: selfID,
		api:    api,
		ledger: led,
		index:  map[string]int{},
	}
}

// Attach subscribes the synchronizer to post events for the lifetime
// of the feed view. Close releases the subscriptions.
func (s *Synchronizer) Attach(ch Channel) {
	s.mu.Lock()
	s.subs = append(s.subs,
		ch.Subscribe("post_liked", s.handlePostLiked),
		ch.Subscribe("new_comment", s.handleNewComment),
	)
	s.mu.Unlock()

	// events lost while disconnected are not replayed, so re-fetch
	ch.OnReconnect(func() {
		if err := s.Refresh(context.Background()); err != nil {
			log.Printf("feed: refresh after reconnect failed: %v", err)
		}
	})
}

// Close cancels the channel subscriptions and marks late REST
// responses as irrelevant.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}

// Load replaces the working set wholesale from a REST snapshot.
func (s *Synchronizer) Load(posts []Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(posts)
}

func (s *Synchronizer) loadLocked(posts []Post) {
	s.posts = make([]Post, len(posts))
	s.index = make(map[string]int, len(posts))
	for i, p := range posts {
		p.Likes = dedupe(p.Likes)
		s.posts[i] = p
		s.index[p.ID] = i
	}
}

// Refresh re-fetches the feed snapshot. A response landing after Close
// is discarded.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	var posts []Post
	if err := s.api.GetJSON(ctx, "/api/post/all", &posts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.loadLocked(posts)
	return nil
}

// ApplyLikeDelta replaces the liker set for a post with the broadcast
// value. The server sends the full set, so this is idempotent and last
// write wins per post.
func (s *Synchronizer) ApplyLikeDelta(postID string, likes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[postID]
	if !ok {
		return
	}
	s.posts[i].Likes = dedupe(likes)
}

// ApplyNewComment appends a comment unless one with the same id is
// already present. The optimistic local render and the broadcast echo
// of the same comment may both arrive; the id de-dup absorbs that.
func (s *Synchronizer) ApplyNewComment(postID string, comment Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyNewCommentLocked(postID, comment)
}

func (s *Synchronizer) applyNewCommentLocked(postID string, comment Comment) {
	i, ok := s.index[postID]
	if !ok {
		return
	}
	for _, c := range s.posts[i].Comments {
		if c.ID == comment.ID {
			return
		}
	}
	s.posts[i].Comments = append(s.posts[i].Comments, comment)
}

// ToggleLike flips membership of userID in the post's liker set for
// immediate feedback. Idempotent per user: a rapid double click cannot
// double-insert.
func (s *Synchronizer) ToggleLike(postID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggleLikeLocked(postID, userID)
}

func (s *Synchronizer) toggleLikeLocked(postID, userID string) {
	i, ok := s.index[postID]
	if !ok {
		return
	}
	likes := s.posts[i].Likes
	for j, id := range likes {
		if id == userID {
			s.posts[i].Likes = append(likes[:j:j], likes[j+1:]...)
			return
		}
	}
	s.posts[i].Likes = append(likes, userID)
}

// Like applies the optimistic toggle, records the pending mutation and
// issues the REST call. On failure the toggle is rolled back and the
// error surfaced once; retry is a user-initiated repeat.
func (s *Synchronizer) Like(ctx context.Context, postID string) error {
	s.mu.Lock()
	provID := s.ledger.Begin(ledger.KindLike, postID, s.selfID)
	s.toggleLikeLocked(postID, s.selfID)
	s.mu.Unlock()

	if err := s.api.PostJSON(ctx, "/api/post/like/"+postID, nil, nil); err != nil {
		if _, ok := s.ledger.Resolve(provID); ok {
			s.mu.Lock()
			if !s.closed {
				s.toggleLikeLocked(postID, s.selfID)
			}
			s.mu.Unlock()
		}
		return err
	}
	s.ledger.Resolve(provID)
	return nil
}

// AddComment renders the comment speculatively under a provisional id,
// persists it, and supersedes the placeholder with the authoritative
// copy so the broadcast echo de-dups cleanly.
func (s *Synchronizer) AddComment(ctx context.Context, postID, text string) error {
	optimistic := Comment{
		ID:        ledger.NewProvisionalID(),
		User:      User{ID: s.selfID},
		Text:      text,
		CreatedAt: time.Now(),
	}

	// each comment owns its ledger slot, keyed by the provisional id,
	// so concurrent comments on one post settle independently
	s.mu.Lock()
	provID := s.ledger.Begin(ledger.KindComment, optimistic.ID, postID)
	s.applyNewCommentLocked(postID, optimistic)
	s.mu.Unlock()

	var confirmed Comment
	err := s.api.PostJSON(ctx, "/api/post/comment/"+postID, map[string]string{"text": text}, &confirmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.removeCommentLocked(postID, optimistic.ID)
		s.ledger.Resolve(provID)
		return err
	}
	s.ledger.Resolve(provID)
	s.replaceCommentLocked(postID, optimistic.ID, confirmed)
	return nil
}

func (s *Synchronizer) removeCommentLocked(postID, commentID string) {
	i, ok := s.index[postID]
	if !ok {
		return
	}
	comments := s.posts[i].Comments
	for j, c := range comments {
		if c.ID == commentID {
			s.posts[i].Comments = append(comments[:j:j], comments[j+1:]...)
			return
		}
	}
}

// replaceCommentLocked supersedes the placeholder with the
// authoritative copy. When the broadcast echo already delivered the
// confirmed comment the placeholder is simply dropped.
func (s *Synchronizer) replaceCommentLocked(postID, provisionalID string, confirmed Comment) {
	i, ok := s.index[postID]
	if !ok {
		return
	}
	for _, c := range s.posts[i].Comments {
		if c.ID == confirmed.ID {
			s.removeCommentLocked(postID, provisionalID)
			return
		}
	}
	for j, c := range s.posts[i].Comments {
		if c.ID == provisionalID {
			s.posts[i].Comments[j] = confirmed
			return
		}
	}
	s.applyNewCommentLocked(postID, confirmed)
}

// Posts returns a snapshot of the working set.
func (s *Synchronizer) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Post, len(s.posts))
	for i, p := range s.posts {
		p.Likes = append([]string(nil), p.Likes...)
		p.Comments = append([]Comment(nil), p.Comments...)
		out[i] = p
	}
	return out
}

func (s *Synchronizer) handlePostLiked(data json.RawMessage) {
	var delta LikeDelta
	if err := json.Unmarshal(data, &delta); err != nil || delta.PostID == "" {
		log.Printf("feed: dropping malformed post_liked payload")
		return
	}
	// the echo of our own toggle settles the pending entry
	s.ledger.ReconcileIncoming(ledger.KindLike, delta.PostID)
	s.ApplyLikeDelta(delta.PostID, delta.Likes)
}

func (s *Synchronizer) handleNewComment(data json.RawMessage) {
	var delta CommentDelta
	if err := json.Unmarshal(data, &delta); err != nil || delta.PostID == "" {
		log.Printf("feed: dropping malformed new_comment payload")
		return
	}
	for _, c := range delta.Comments {
		s.applyIncomingComment(delta.PostID, c)
	}
}

// applyIncomingComment absorbs one broadcast comment. The echo of our
// own still-pending comment settles its placeholder in place rather
// than appending a second copy; everything else is an id-de-duped
// append.
func (s *Synchronizer) applyIncomingComment(postID string, c Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[postID]
	if !ok {
		return
	}
	for _, existing := range s.posts[i].Comments {
		if existing.ID == c.ID {
			return
		}
	}
	if c.User.ID == s.selfID && s.reconcileCommentEchoLocked(i, c) {
		return
	}
	s.posts[i].Comments = append(s.posts[i].Comments, c)
}

// reconcileCommentEchoLocked matches the confirmed echo against the
// oldest placeholder with the same author and text. The backend never
// learns the provisional id, so this is the only correlation available.
func (s *Synchronizer) reconcileCommentEchoLocked(i int, confirmed Comment) bool {
	for j, existing := range s.posts[i].Comments {
		if !ledger.IsProvisional(existing.ID) {
			continue
		}
		if existing.User.ID != confirmed.User.ID || existing.Text != confirmed.Text {
			continue
		}
		s.posts[i].Comments[j] = confirmed
		s.ledger.ReconcileIncoming(ledger.KindComment, existing.ID)
		return true
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
