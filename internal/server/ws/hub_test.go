package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubStatusThenBroadcast(t *testing.T) {
	hub, url := startHub(t, Config{Mode: "view", Strategies: []string{"mirror"}})
	conn := dial(t, url)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, "view", status.Mode)
	assert.Equal(t, []string{"mirror"}, status.Strategies)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), "bbo", []byte(`{"bid":"99"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "bbo", env.Channel)
	assert.JSONEq(t, `{"bid":"99"}`, string(env.Data))
}

func TestHubSubscriptions(t *testing.T) {
	hub, url := startHub(t, Config{Channels: []string{"bbo"}})
	conn := dial(t, url)
	_, _, err := conn.ReadMessage() // status
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"alerts*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"bbo"}}))

	// Subscription changes are applied by the read pump; poll by publishing
	// until the wildcard match is delivered.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return c.isSubscribed("alerts.mid_drop") && !c.isSubscribed("bbo")
		}
		return false
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, "bbo", []byte(`1`)))
	require.NoError(t, hub.Publish(ctx, "alerts.mid_drop", []byte(`2`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "alerts.mid_drop", env.Channel)
	assert.Equal(t, "2", string(env.Data))
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, url := startHub(t, Config{})
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"bbo": true, "trades.*": true}}
	assert.True(t, c.isSubscribed("bbo"))
	assert.True(t, c.isSubscribed("trades.bitbank"))
	assert.False(t, c.isSubscribed("trades"))
	assert.False(t, c.isSubscribed("alerts"))

	all := &client{subs: map[string]bool{"*": true}}
	assert.True(t, all.isSubscribed("anything"))
}
