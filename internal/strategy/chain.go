package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
)

// Chain runs several strategies in order. The first error stops the chain and
// is returned tagged with the failing member's name.
type Chain []Strategy

var (
	_ Strategy            = Chain(nil)
	_ TickerHandler       = Chain(nil)
	_ CircuitBreakHandler = Chain(nil)
	_ Initializer         = Chain(nil)
	_ Closer              = Chain(nil)
)

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (c Chain) Init(ctx context.Context) error {
	for _, s := range c {
		if in, ok := s.(Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return fmt.Errorf("strategy %s init: %w", s.Name(), err)
			}
		}
	}
	return nil
}

func (c Chain) OnTrades(ctx context.Context, origin domain.Origin, trades []domain.Trade) error {
	for _, s := range c {
		if err := s.OnTrades(ctx, origin, trades); err != nil {
			return fmt.Errorf("strategy %s OnTrades: %w", s.Name(), err)
		}
	}
	return nil
}

func (c Chain) OnDepth(ctx context.Context, book orderbook.View) error {
	for _, s := range c {
		if err := s.OnDepth(ctx, book); err != nil {
			return fmt.Errorf("strategy %s OnDepth: %w", s.Name(), err)
		}
	}
	return nil
}

func (c Chain) OnTicker(ctx context.Context, t domain.Ticker) error {
	for _, s := range c {
		if h, ok := s.(TickerHandler); ok {
			if err := h.OnTicker(ctx, t); err != nil {
				return fmt.Errorf("strategy %s OnTicker: %w", s.Name(), err)
			}
		}
	}
	return nil
}

func (c Chain) OnCircuitBreak(ctx context.Context, cb domain.CircuitBreak) error {
	for _, s := range c {
		if h, ok := s.(CircuitBreakHandler); ok {
			if err := h.OnCircuitBreak(ctx, cb); err != nil {
				return fmt.Errorf("strategy %s OnCircuitBreak: %w", s.Name(), err)
			}
		}
	}
	return nil
}

// Close closes every member and joins their errors.
func (c Chain) Close() error {
	var errs []error
	for _, s := range c {
		if cl, ok := s.(Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("strategy %s close: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
