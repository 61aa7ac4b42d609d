package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"linkup-realtime/internal/auth"
	"linkup-realtime/internal/chat"
	"linkup-realtime/internal/config"
	"linkup-realtime/internal/feed"
	"linkup-realtime/internal/gateway"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{UserID: userID})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func startGateway(t *testing.T, store *gateway.MessageStore) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	gateway.RegisterRoutes(app.Group("/stream"), app.Group("/api"), gateway.NewHub(nil), store, testSecret)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestLoginSendLogout(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), "u1", "p2", "text", "hi").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	gwAddr := startGateway(t, gateway.NewMessageStore(mock))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/post/all":
			_ = json.NewEncoder(w).Encode([]feed.Post{{ID: "p1", Likes: []string{"u9"}}})
		case strings.HasPrefix(r.URL.Path, "/api/messages/"):
			_ = json.NewEncoder(w).Encode([]chat.Message{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	cfg := config.Config{
		ChannelURL: "ws://" + gwAddr + "/stream/ws",
		APIBaseURL: api.URL,
		APIToken:   signToken(t, "u1"),
	}

	c := New(cfg, "u1")
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	defer c.Logout()

	if posts := c.Feed.Posts(); len(posts) != 1 || posts[0].ID != "p1" {
		t.Fatalf("expected initial feed snapshot, got %+v", posts)
	}

	if err := c.Chat.Select(context.Background(), "p2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	msg, err := c.Chat.Send(chat.Text("hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.State != chat.StatePending {
		t.Fatalf("expected pending optimistic message")
	}

	// the gateway persists the message and echoes the confirmed copy
	deadline := time.Now().Add(2 * time.Second)
	for {
		conv := c.Chat.Conversation("p2")
		if len(conv.Messages) == 1 && conv.Messages[0].State == chat.StateConfirmed {
			if strings.HasPrefix(conv.Messages[0].ID, "temp_") {
				t.Fatalf("confirmed message kept provisional id")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("confirmation never reconciled: %+v", conv.Messages)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if c.Ledger.Len() != 0 {
		t.Fatalf("expected ledger drained after confirmation")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChannelURLCarriesToken(t *testing.T) {
	cfg := config.Config{ChannelURL: "ws://gw/stream/ws", APIToken: "tok"}
	if got := channelURL(cfg); got != "ws://gw/stream/ws?token=tok" {
		t.Fatalf("unexpected url %q", got)
	}

	cfg.APIToken = ""
	if got := channelURL(cfg); got != "ws://gw/stream/ws" {
		t.Fatalf("expected bare url, got %q", got)
	}
}
