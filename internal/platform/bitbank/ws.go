// Package bitbank is the transport for bitbank's public socket.io stream.
package bitbank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

// DefaultStreamURL is bitbank's public stream speaking Engine.IO v4.
const DefaultStreamURL = "wss://stream.bitbank.cc/socket.io/?EIO=4&transport=websocket"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait bounds the silence between two reads. The server pings every
	// 25 seconds, so a healthy connection always reads within it.
	pongWait = 60 * time.Second

	// handshakeTimeout bounds the dial and the Engine.IO open packet.
	handshakeTimeout = 15 * time.Second
)

// Engine.IO / Socket.IO packet prefixes.
const (
	packetOpen       = '0'
	packetClose      = '1'
	packetPing       = '2'
	packetPong       = '3'
	packetMessage    = '4'
	sioConnect       = '0'
	sioDisconnect    = '1'
	sioEvent         = '2'
	sioConnectError  = '4'
	eventJoinRoom    = "join-room"
	eventRoomMessage = "message"
)

// WSClient is a single connection to the bitbank stream. It does not
// reconnect by itself: when the connection drops the error is delivered on
// Disconnected and the owner decides whether to dial again.
type WSClient struct {
	wsURL  string
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	rooms    []string
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
		logger:       logger.With(slog.String("component", "bitbank_ws")),
		now:          time.Now,
		disconnected: make(chan error, 1),
		done:         make(chan struct{}),
	}
}

// OnFrame registers a handler for room messages.
func (w *WSClient) OnFrame(h platform.FrameHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect dials the stream, completes the Engine.IO and Socket.IO handshakes
// and starts the read loop.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return fmt.Errorf("bitbank/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bitbank/ws: connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, open, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("bitbank/ws: read open packet: %w", err)
	}
	if len(open) == 0 || open[0] != packetOpen {
		conn.Close()
		return fmt.Errorf("bitbank/ws: unexpected open packet %q", open)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()

	if err := w.write([]byte{packetMessage, sioConnect}); err != nil {
		conn.Close()
		return fmt.Errorf("bitbank/ws: socket.io connect: %w", err)
	}

	go w.readLoop(conn)
	return nil
}

// JoinRooms subscribes to rooms and remembers them for Rejoin.
func (w *WSClient) JoinRooms(rooms []string) error {
	for _, room := range rooms {
		if err := w.join(room); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.rooms = append(w.rooms, rooms...)
	w.mu.Unlock()
	return nil
}

// Rooms returns the rooms joined so far.
func (w *WSClient) Rooms() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.rooms...)
}

func (w *WSClient) join(room string) error {
	payload, err := json.Marshal([]string{eventJoinRoom, room})
	if err != nil {
		return fmt.Errorf("bitbank/ws: marshal join: %w", err)
	}
	if err := w.write(append([]byte{packetMessage, sioEvent}, payload...)); err != nil {
		return fmt.Errorf("bitbank/ws: join %s: %w", room, err)
	}
	return nil
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

func (w *WSClient) write(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("bitbank/ws: not connected")
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
		if err := w.handlePacket(raw); err != nil {
			w.fail(err)
			return
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
	case w.disconnected <- fmt.Errorf("bitbank/ws: %w: %w", domain.ErrWSDisconnect, err):
	default:
	}
}

// handlePacket answers pings and routes room messages. It returns an error
// only when the server ends the session.
func (w *WSClient) handlePacket(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case packetPing:
		return w.write([]byte{packetPong})
	case packetClose:
		return fmt.Errorf("server closed the session")
	case packetMessage:
		return w.handleSocketIO(raw[1:])
	default:
		return nil
	}
}

func (w *WSClient) handleSocketIO(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case sioConnect:
		w.logger.Debug("socket.io namespace connected")
		return nil
	case sioDisconnect:
		return fmt.Errorf("socket.io namespace disconnected")
	case sioConnectError:
		return fmt.Errorf("socket.io connect error: %s", raw[1:])
	case sioEvent:
		frame, ok, err := ParseEvent(raw[1:])
		if err != nil {
			w.logger.Warn("dropping malformed socket.io event", slog.String("error", err.Error()))
			return nil
		}
		if !ok {
			return nil
		}
		frame.ReceivedAt = w.now()
		w.dispatch(frame)
		return nil
	default:
		return nil
	}
}

func (w *WSClient) dispatch(f platform.Frame) {
	w.mu.Lock()
	handlers := w.handlers
	w.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}

// ParseEvent decodes the body of a socket.io EVENT packet, i.e. what follows
// "42". It reports false for events other than room messages.
func ParseEvent(body []byte) (platform.Frame, bool, error) {
	// Acknowledged events carry a numeric id before the array.
	body = bytes.TrimLeft(body, "0123456789")

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return platform.Frame{}, false, fmt.Errorf("%w: event: %v", domain.ErrMalformed, err)
	}
	if len(args) < 2 {
		return platform.Frame{}, false, nil
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil || name != eventRoomMessage {
		return platform.Frame{}, false, nil
	}
	var msg RoomMessage
	if err := json.Unmarshal(args[1], &msg); err != nil {
		return platform.Frame{}, false, fmt.Errorf("%w: room message: %v", domain.ErrMalformed, err)
	}
	if msg.RoomName == "" {
		return platform.Frame{}, false, fmt.Errorf("%w: room message without room_name", domain.ErrMalformed)
	}
	return platform.Frame{
		Venue: domain.VenueBitbank,
		Key:   msg.RoomName,
		Data:  msg.Message.Data,
	}, true, nil
}
