package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/ironkeep/transport"
)

// ErrUnauthorized is returned by WebSocketDialer when the server rejects
// the access token.
var ErrUnauthorized = errors.New("realtime: unauthorized")

// WebSocketDialer opens the push channel over a WebSocket, authenticating
// with the session's bearer token.
type WebSocketDialer struct {
	URL    string
	Tokens transport.TokenSource
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	token, err := d.Tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting access token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
