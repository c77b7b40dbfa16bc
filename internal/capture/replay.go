package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthbot/internal/feed"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

// DefaultSpeed replays 500 times faster than recorded.
const DefaultSpeed = 500.0

// ReplayOptions controls Replay.
type ReplayOptions struct {
	// Speed scales the recorded gaps between frames: 2 replays twice as fast.
	// Zero or less replays without pacing.
	Speed  float64
	Logger *slog.Logger
}

// Stats summarises a replay.
type Stats struct {
	Frames  int
	Events  int
	Skipped int
}

// Replay decodes frames and sends the events through out in order. Sends
// block instead of dropping so a replay is lossless. Frames that do not
// decode are counted and skipped.
func Replay(ctx context.Context, frames []platform.Frame, out *mailbox.Sender, opts ReplayOptions) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "replay"))

	var st Stats
	var prev time.Time
	for _, f := range frames {
		st.Frames++
		if opts.Speed > 0 && !prev.IsZero() {
			if err := sleep(ctx, scale(f.ReceivedAt.Sub(prev), opts.Speed)); err != nil {
				return st, err
			}
		}
		prev = f.ReceivedAt

		ev, err := feed.Decode(f)
		if err != nil {
			st.Skipped++
			logger.Warn("skipping frame", slog.String("key", f.Key), slog.String("error", err.Error()))
			continue
		}
		if err := out.Send(ctx, ev); err != nil {
			if errors.Is(err, mailbox.ErrClosed) {
				return st, nil
			}
			return st, err
		}
		st.Events++
	}
	logger.Info("replay finished",
		slog.Int("frames", st.Frames),
		slog.Int("events", st.Events),
		slog.Int("skipped", st.Skipped),
	)
	return st, nil
}

func scale(d time.Duration, speed float64) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) / speed)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
