package client

import (
	"context"
	"net/url"

	"linkup-realtime/internal/channel"
	"linkup-realtime/internal/chat"
	"linkup-realtime/internal/config"
	"linkup-realtime/internal/feed"
	"linkup-realtime/internal/ledger"
	"linkup-realtime/internal/notify"
	"linkup-realtime/internal/rest"
)

// Client owns one user's realtime state: the event channel session,
// the mutation ledger and the synchronizers built on top of them. It
// is created at login and torn down at logout; nothing here survives
// the session.
type Client struct {
	Session *channel.Session
	Ledger  *ledger.Ledger
	API     *rest.Client
	Feed    *feed.Synchronizer
	Chat    *chat.Store
	Notify  *notify.Relay

	userID string
}

func New(cfg config.Config, userID string) *Client {
	api := rest.NewClient(cfg.APIBaseURL, cfg.APIToken)
	session := channel.NewSession(channelURL(cfg))
	led := ledger.New()

	c := &Client{
		Session: session,
		Ledger:  led,
		API:     api,
		Feed:    feed.NewSynchronizer(userID, api, led),
		Chat:    chat.NewStore(userID, api, session, led),
		Notify:  notify.NewRelay(api, session),
		userID:  userID,
	}
	return c
}

// Login opens the channel, announces the identity and attaches the
// synchronizers. The initial feed snapshot is fetched afterwards so
// no broadcast between fetch and subscribe can be missed.
func (c *Client) Login(ctx context.Context) error {
	c.Feed.Attach(c.Session)
	c.Chat.Attach()
	if err := c.Session.Open(ctx, c.userID); err != nil {
		return err
	}
	return c.Feed.Refresh(ctx)
}

// Logout detaches the synchronizers and closes the channel.
func (c *Client) Logout() {
	c.Feed.Close()
	c.Chat.Close()
	c.Session.Close()
}

func channelURL(cfg config.Config) string {
	if cfg.APIToken == "" {
		return cfg.ChannelURL
	}
	u, err := url.Parse(cfg.ChannelURL)
	if err != nil {
		return cfg.ChannelURL
	}
	q := u.Query()
	q.Set("token", cfg.APIToken)
	u.RawQuery = q.Encode()
	return u.String()
}
