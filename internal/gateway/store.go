package gateway

import (
	"context"

	"linkup-realtime/internal/chat"
	"linkup-realtime/internal/db"

	"github.com/google/uuid"
)

// MessageStore owns chat durability. Clients only ever hold in-memory
// threads; history always comes back from here.
type MessageStore struct {
	db db.Querier
}

func NewMessageStore(db db.Querier) *MessageStore {
	return &MessageStore{db: db}
}

// Save assigns the durable id and timestamp that supersede the
// client's provisional ones.
func (s *MessageStore) Save(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.NewString()
	row := s.db.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content_kind, content_value)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, msg.ID, msg.SenderID, msg.ReceiverID, string(msg.Content.Kind), msg.Content.Value)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return chat.Message{}, err
	}
	msg.State = chat.StateConfirmed
	return msg, nil
}

// History returns the full thread between two users in creation order.
func (s *MessageStore) History(ctx context.Context, userID, peerID string) ([]chat.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender_id, receiver_id, content_kind, content_value, created_at
		FROM messages
		WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
		ORDER BY created_at
	`, userID, peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var m chat.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &kind, &m.Content.Value, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content.Kind = chat.ContentKind(kind)
		m.State = chat.StateConfirmed
		messages = append(messages, m)
	}
	return messages, nil
}
