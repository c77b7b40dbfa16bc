// Package platform holds what the venue transports have in common. Each
// venue lives in its own subpackage.
package platform

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Frame is one routed message from a venue stream: the room or topic it
// arrived on and its undecoded payload.
type Frame struct {
	Venue      domain.Venue
	Key        string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// FrameHandler is called on the transport's read goroutine for every frame.
// It must not block.
type FrameHandler func(Frame)
