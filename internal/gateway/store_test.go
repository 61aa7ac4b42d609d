package gateway

import (
	"context"
	"testing"
	"time"

	"linkup-realtime/internal/chat"

	"github.com/pashagolub/pgxmock/v3"
)

func TestMessageStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Now()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), "u1", "u2", "text", "hi").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	store := NewMessageStore(mock)
	saved, err := store.Save(context.Background(), chat.Message{
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    chat.Text("hi"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected durable id assigned")
	}
	if saved.State != chat.StateConfirmed {
		t.Fatalf("expected confirmed state, got %q", saved.State)
	}
	if !saved.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected server timestamp")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMessageStoreHistory(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	earlier := time.Now().Add(-time.Minute)
	later := time.Now()
	mock.ExpectQuery(`SELECT id, sender_id, receiver_id, content_kind, content_value, created_at`).
		WithArgs("u1", "u2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "sender_id", "receiver_id", "content_kind", "content_value", "created_at"}).
			AddRow("m1", "u2", "u1", "text", "yo", earlier).
			AddRow("m2", "u1", "u2", "image", "data:image/png;base64,AAA", later))

	store := NewMessageStore(mock)
	messages, err := store.History(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != "m1" || messages[0].Content.Kind != chat.ContentText {
		t.Fatalf("unexpected first message %+v", messages[0])
	}
	if messages[1].Content.Kind != chat.ContentImage {
		t.Fatalf("expected tagged image content, got %+v", messages[1].Content)
	}
	for _, m := range messages {
		if m.State != chat.StateConfirmed {
			t.Fatalf("history must be confirmed, got %+v", m)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMessageStoreSaveError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), "u1", "u2", "text", "hi").
		WillReturnError(context.DeadlineExceeded)

	store := NewMessageStore(mock)
	if _, err := store.Save(context.Background(), chat.Message{SenderID: "u1", ReceiverID: "u2", Content: chat.Text("hi")}); err == nil {
		t.Fatalf("expected save error")
	}
}
