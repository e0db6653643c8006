package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/veilchat/veilchat/protocol"
)

// Socket is one open real-time connection. The manager is the only writer;
// no other component touches the socket directly.
type Socket interface {
	// ReadEvent blocks until the next event frame arrives.
	ReadEvent() (protocol.Event, error)

	// WriteEvent sends one event frame.
	WriteEvent(event protocol.Event) error

	// Close tears the connection down, best-effort, without a graceful
	// protocol shutdown.
	Close() error
}

// Dialer opens sockets. Implementations must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}

// WebSocketDialer dials the relay's websocket endpoint, authenticating with
// the session token as the relay expects it (a query parameter).
type WebSocketDialer struct {
	URL       string
	AuthToken string
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Socket, error) {
	url := d.URL
	if d.AuthToken != "" {
		url += "?token=" + d.AuthToken
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return &webSocket{conn: conn}, nil
}

type webSocket struct {
	conn *websocket.Conn
}

func (s *webSocket) ReadEvent() (protocol.Event, error) {
	var event protocol.Event
	if err := s.conn.ReadJSON(&event); err != nil {
		return protocol.Event{}, err
	}
	return event, nil
}

func (s *webSocket) WriteEvent(event protocol.Event) error {
	return s.conn.WriteJSON(event)
}

func (s *webSocket) Close() error {
	return s.conn.Close()
}
