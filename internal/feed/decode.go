// Package feed turns venue transports into event producers for the runtime:
// it decodes frames into domain events and keeps the connection alive.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform"
	"github.com/alanyoungcy/depthbot/internal/platform/bitbank"
	"github.com/alanyoungcy/depthbot/internal/platform/bybit"
)

// Decoder turns one frame into one event.
type Decoder func(platform.Frame) (domain.Event, error)

// DecoderFor returns the decoder for a venue.
func DecoderFor(v domain.Venue) (Decoder, error) {
	switch v {
	case domain.VenueBitbank:
		return DecodeBitbank, nil
	case domain.VenueBybit:
		return DecodeBybit, nil
	default:
		return nil, fmt.Errorf("feed: %w: %q", domain.ErrUnknownVenue, v)
	}
}

// Decode picks the decoder from the frame's venue.
func Decode(f platform.Frame) (domain.Event, error) {
	dec, err := DecoderFor(f.Venue)
	if err != nil {
		return nil, err
	}
	return dec(f)
}

// DecodeBitbank routes a room message by its room prefix. The pair is what
// follows the prefix.
func DecodeBitbank(f platform.Frame) (domain.Event, error) {
	room := f.Key
	origin := func(prefix string) domain.Origin {
		return domain.Origin{Venue: domain.VenueBitbank, Symbol: domain.Symbol(strings.TrimPrefix(room, prefix))}
	}

	switch {
	case strings.HasPrefix(room, bitbank.RoomDepthDiff):
		var p bitbank.DepthDiff
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return event(p.ToDomain(origin(bitbank.RoomDepthDiff)))
	case strings.HasPrefix(room, bitbank.RoomDepthWhole):
		var p bitbank.DepthWhole
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return event(p.ToDomain(origin(bitbank.RoomDepthWhole)))
	case strings.HasPrefix(room, bitbank.RoomTransactions):
		var p bitbank.TransactionsData
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return event(p.ToDomain(origin(bitbank.RoomTransactions)))
	case strings.HasPrefix(room, bitbank.RoomTicker):
		var p bitbank.Ticker
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return event(p.ToDomain(origin(bitbank.RoomTicker)))
	case strings.HasPrefix(room, bitbank.RoomCircuitBreak):
		var p bitbank.CircuitBreakInfo
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return event(p.ToDomain(origin(bitbank.RoomCircuitBreak)))
	default:
		return nil, fmt.Errorf("feed: bitbank room %q: %w", room, domain.ErrUnroutable)
	}
}

// DecodeBybit routes a topic push by its channel. The frame data is the whole
// message, so the envelope's type and timestamp are available.
func DecodeBybit(f platform.Frame) (domain.Event, error) {
	channel, symbol, ok := bybit.SplitTopic(f.Key)
	if !ok {
		return nil, fmt.Errorf("feed: bybit topic %q: %w", f.Key, domain.ErrUnroutable)
	}
	var env bybit.Envelope
	if err := unmarshal(f, &env); err != nil {
		return nil, err
	}
	origin := domain.Origin{Venue: domain.VenueBybit, Symbol: symbol}

	switch channel {
	case bybit.TopicOrderbook:
		return event(bybit.OrderbookToDomain(&env, origin))
	case bybit.TopicTrade:
		return event(bybit.TradesToDomain(&env, origin))
	default:
		return nil, fmt.Errorf("feed: bybit topic %q: %w", f.Key, domain.ErrUnroutable)
	}
}

func unmarshal(f platform.Frame, v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("feed: %s %s: %w: %v", f.Venue, f.Key, domain.ErrMalformed, err)
	}
	return nil
}

// event adapts a concrete conversion result to an Event without leaking a
// typed zero value on error.
func event[E domain.Event](ev E, err error) (domain.Event, error) {
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	return ev, nil
}
