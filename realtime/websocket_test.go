package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironkeep/transport"
)

func TestWebSocketDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"sync","type":"vault"}`))
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("Reads", func(t *testing.T) {
		d := &WebSocketDialer{URL: url, Tokens: transport.StaticToken("good")}
		conn, err := d.Dial(t.Context())
		require.NoError(t, err)
		defer conn.Close()

		msg, err := conn.Read()
		require.NoError(t, err)
		n, err := Parse(msg)
		require.NoError(t, err)
		assert.Equal(t, TypeVault, n.Type)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		d := &WebSocketDialer{URL: url, Tokens: transport.StaticToken("bad")}
		_, err := d.Dial(t.Context())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("NoToken", func(t *testing.T) {
		d := &WebSocketDialer{URL: url, Tokens: &transport.TokenHolder{}}
		_, err := d.Dial(t.Context())
		assert.ErrorIs(t, err, transport.ErrNoToken)
	})
}
