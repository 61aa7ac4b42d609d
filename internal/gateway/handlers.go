package gateway

import (
	"context"
	"encoding/json"
	"log"

	"linkup-realtime/internal/auth"
	"linkup-realtime/internal/channel"
	"linkup-realtime/internal/chat"
	"linkup-realtime/internal/notify"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the push endpoint on the stream group and the
// message history endpoint on the api group.
func RegisterRoutes(stream fiber.Router, api fiber.Router, hub *Hub, store *MessageStore, jwtSecret string) {
	stream.Get("/ws", websocket.New(func(c *websocket.Conn) {
		claims, err := auth.ParseToken(c.Query("token"), jwtSecret)
		if err != nil {
			_ = c.WriteJSON(fiber.Map{"error": "unauthorized"})
			return
		}
		handleSocket(c, hub, store, claims)
	}))

	api.Get("/messages/:peerID", auth.JWTMiddleware(jwtSecret), func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		messages, err := store.History(c.Context(), userID, c.Params("peerID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if messages == nil {
			messages = []chat.Message{}
		}
		return c.JSON(messages)
	})
}

func handleSocket(c *websocket.Conn, hub *Hub, store *MessageStore, claims *auth.Claims) {
	var client *Client
	var done chan struct{}
	detach := func() {
		if client == nil {
			return
		}
		hub.Unregister(client)
		<-done
		client = nil
	}
	defer detach()

	for {
		var ev channel.Event
		if err := c.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Name {
		case "setup":
			var setup channel.Setup
			if err := json.Unmarshal(ev.Data, &setup); err != nil || setup.UserID == "" {
				log.Printf("gateway: dropping malformed setup")
				continue
			}
			if setup.UserID != claims.UserID {
				log.Printf("gateway: setup identity %q does not match token", setup.UserID)
				continue
			}
			detach()
			client = hub.Register(setup.UserID)
			done = make(chan struct{})
			go writePump(c, client, done)

		case "send_message":
			var p chat.SendPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil || p.ReceiverID == "" || p.Content.Kind == "" {
				log.Printf("gateway: dropping malformed send_message")
				continue
			}
			deliver(hub, store, chat.Message{
				SenderID:   claims.UserID,
				ReceiverID: p.ReceiverID,
				Content:    p.Content,
			})

		case "send_photo_message":
			var p chat.PhotoPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil || p.ReceiverID == "" || p.FileData == "" {
				log.Printf("gateway: dropping malformed send_photo_message")
				continue
			}
			deliver(hub, store, chat.Message{
				SenderID:   claims.UserID,
				ReceiverID: p.ReceiverID,
				Content:    chat.Image(p.FileData),
			})

		case "sendNotification":
			var p notify.Payload
			if err := json.Unmarshal(ev.Data, &p); err != nil || p.Recipient == "" {
				log.Printf("gateway: dropping malformed sendNotification")
				continue
			}
			env, _ := json.Marshal(channel.Event{Name: "sendNotification", Data: ev.Data})
			hub.Broadcast(p.Recipient, env)

		default:
			log.Printf("gateway: ignoring unknown event %q", ev.Name)
		}
	}
}

func writePump(c *websocket.Conn, client *Client, done chan struct{}) {
	for msg := range client.Send {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	close(done)
}

// deliver persists the message and broadcasts the confirmed copy to
// both participants. The sender's copy is the confirmation echo that
// settles their optimistic entry.
func deliver(hub *Hub, store *MessageStore, msg chat.Message) {
	saved, err := store.Save(context.Background(), msg)
	if err != nil {
		log.Printf("gateway: message save failed: %v", err)
		return
	}

	data, _ := json.Marshal(saved)
	env, _ := json.Marshal(channel.Event{Name: "receive_message", Data: data})
	hub.Broadcast(saved.ReceiverID, env)
	if saved.SenderID != saved.ReceiverID {
		hub.Broadcast(saved.SenderID, env)
	}
}
