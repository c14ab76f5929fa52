package player

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSChannel is a Channel over a websocket to a player host. Messages read
// from the socket are handed to a Bridge as coming from the host's origin.
type WSChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	origin string
}

// DialWS connects to the player host at wsURL, announcing origin as the
// embedding page.
func DialWS(ctx context.Context, wsURL, origin string) (*WSChannel, error) {
	peer, err := peerOrigin(wsURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial player channel: %w", err)
	}
	return &WSChannel{conn: conn, origin: peer}, nil
}

// NewWSChannel wraps an established connection whose messages come from
// origin.
func NewWSChannel(conn *websocket.Conn, origin string) *WSChannel {
	return &WSChannel{conn: conn, origin: origin}
}

// Origin is the origin inbound messages are attributed to.
func (c *WSChannel) Origin() string { return c.origin }

func (c *WSChannel) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// Serve feeds inbound messages to b until the connection closes or ctx is
// done. A normal closure returns nil.
func (c *WSChannel) Serve(ctx context.Context, b *Bridge) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("player channel read failed: %w", err)
		}
		b.Receive(c.origin, data)
	}
}

func peerOrigin(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid player channel url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid player channel url scheme %q", u.Scheme)
	}
	return u.Scheme + "://" + u.Host, nil
}
