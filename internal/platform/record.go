package platform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Record is the JSON line form of a Frame, shared by capture files and the
// Redis frame relay.
type Record struct {
	Venue            domain.Venue    `json:"venue"`
	Key              string          `json:"key"`
	ReceivedAtMicros int64           `json:"received_at_micros"`
	Data             json.RawMessage `json:"data"`
}

// EncodeFrame marshals f as a Record.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(Record{
		Venue:            f.Venue,
		Key:              f.Key,
		ReceivedAtMicros: f.ReceivedAt.UnixMicro(),
		Data:             f.Data,
	})
}

// DecodeFrame parses a Record. Older bitbank captures name the room
// "room_name", carry the payload under "data_<room>" and have no venue; those
// are accepted too.
func DecodeFrame(line []byte) (Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: record: %v", domain.ErrMalformed, err)
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Frame{}, fmt.Errorf("%w: record: %v", domain.ErrMalformed, err)
	}
	if rec.Key == "" {
		if v, ok := raw["room_name"]; ok {
			_ = json.Unmarshal(v, &rec.Key)
		}
	}
	if rec.Key == "" {
		return Frame{}, fmt.Errorf("%w: record without key", domain.ErrMalformed)
	}
	if len(rec.Data) == 0 {
		rec.Data = raw["data_"+rec.Key]
	}
	if len(rec.Data) == 0 {
		return Frame{}, fmt.Errorf("%w: no payload for %s", domain.ErrMalformed, rec.Key)
	}
	if rec.Venue == "" {
		rec.Venue = guessVenue(rec.Key)
	}
	return Frame{
		Venue:      rec.Venue,
		Key:        rec.Key,
		Data:       rec.Data,
		ReceivedAt: time.UnixMicro(rec.ReceivedAtMicros),
	}, nil
}

func guessVenue(key string) domain.Venue {
	if strings.Contains(key, ".") {
		return domain.VenueBybit
	}
	return domain.VenueBitbank
}
