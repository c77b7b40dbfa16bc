package domain

import (
	"fmt"
	"strings"
)

// Venue identifies an exchange family. Venues differ in symbol spelling and in
// how their order-book streams must be reconciled.
type Venue string

const (
	// VenueBitbank publishes incremental diffs plus periodic whole snapshots.
	VenueBitbank Venue = "bitbank"
	// VenueBybit publishes a snapshot followed by in-place deltas.
	VenueBybit Venue = "bybit"
)

// Venues lists every venue the runtime knows how to reconcile.
var Venues = []Venue{VenueBitbank, VenueBybit}

// ParseVenue converts a configuration string into a Venue.
func ParseVenue(s string) (Venue, error) {
	switch v := Venue(strings.ToLower(strings.TrimSpace(s))); v {
	case VenueBitbank, VenueBybit:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVenue, s)
	}
}

func (v Venue) String() string { return string(v) }
