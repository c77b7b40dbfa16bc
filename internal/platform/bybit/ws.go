// Package bybit is the transport for bybit's v5 public WebSocket stream.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

// DefaultStreamURL is the spot public stream.
const DefaultStreamURL = "wss://stream.bybit.com/v5/public/spot"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait bounds the silence between two reads.
	pongWait = 60 * time.Second

	// pingPeriod is how often an application-level ping is sent. Bybit
	// drops connections that stay silent for more than 30 seconds.
	pingPeriod = 20 * time.Second

	// maxArgsPerSubscribe is the venue limit on topics per request.
	maxArgsPerSubscribe = 10
)

// WSClient is a single connection to the bybit stream. Like the bitbank
// client it reports a dropped connection on Disconnected instead of
// reconnecting.
type WSClient struct {
	wsURL  string
	logger *slog.Logger
	now    func() time.Time
	reqID  atomic.Int64

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	topics   []string
	closed   bool
	handlers []platform.FrameHandler

	disconnected chan error
	done         chan struct{}
}

// NewWSClient creates a client for wsURL; an empty URL selects
// DefaultStreamURL.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	if wsURL == "" {
		wsURL = DefaultStreamURL
	}
	return &WSClient{
		wsURL:        wsURL,
		logger:       logger.With(slog.String("component", "bybit_ws")),
		now:          time.Now,
		disconnected: make(chan error, 1),
		done:         make(chan struct{}),
	}
}

// OnFrame registers a handler for topic pushes.
func (w *WSClient) OnFrame(h platform.FrameHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect dials the stream and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()

	go w.readLoop(conn)
	go w.pingLoop()
	return nil
}

// Subscribe subscribes to topics in batches the venue accepts and remembers
// them.
func (w *WSClient) Subscribe(topics []string) error {
	for start := 0; start < len(topics); start += maxArgsPerSubscribe {
		end := min(start+maxArgsPerSubscribe, len(topics))
		cmd := Command{
			ReqID: nextReqID(w.reqID.Add(1)),
			Op:    "subscribe",
			Args:  topics[start:end],
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("bybit/ws: subscribe: %w", err)
		}
	}
	w.mu.Lock()
	w.topics = append(w.topics, topics...)
	w.mu.Unlock()
	return nil
}

// Topics returns the topics subscribed so far.
func (w *WSClient) Topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.topics...)
}

// Disconnected delivers the error that ended the read loop. It never fires
// after Close.
func (w *WSClient) Disconnected() <-chan error { return w.disconnected }

// Close shuts the connection down.
func (w *WSClient) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return w.conn.Close()
}

func (w *WSClient) sendCommand(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.fail(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleMessage(raw)
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.sendCommand(Command{ReqID: nextReqID(w.reqID.Add(1)), Op: "ping"}); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) fail(err error) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.disconnected <- fmt.Errorf("bybit/ws: %w: %w", domain.ErrWSDisconnect, err):
	default:
	}
}

// handleMessage routes topic pushes to handlers and logs command responses.
func (w *WSClient) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Warn("dropping unparseable message", slog.String("error", err.Error()))
		return
	}
	if env.Topic == "" {
		if env.Success != nil && !*env.Success {
			w.logger.Error("command rejected",
				slog.String("op", env.Op),
				slog.String("ret_msg", env.RetMsg),
			)
		}
		return
	}

	f := platform.Frame{
		Venue:      domain.VenueBybit,
		Key:        env.Topic,
		Data:       json.RawMessage(raw),
		ReceivedAt: w.now(),
	}
	w.mu.Lock()
	handlers := w.handlers
	w.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}
