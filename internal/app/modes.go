package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthbot/internal/actor"
	"github.com/alanyoungcy/depthbot/internal/capture"
	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/feed"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/notify"
	"github.com/alanyoungcy/depthbot/internal/orderbook"
	"github.com/alanyoungcy/depthbot/internal/platform"
	"github.com/alanyoungcy/depthbot/internal/runtime"
	"github.com/alanyoungcy/depthbot/internal/server"
	"github.com/alanyoungcy/depthbot/internal/server/handler"
	"github.com/alanyoungcy/depthbot/internal/strategy"
)

// archiveTimeout bounds the uploads made after a record run has stopped.
const archiveTimeout = 5 * time.Minute

// LiveMode streams the configured venues into the aggregator until ctx is
// cancelled. With record set, every raw frame is also written to a capture
// file which is archived to S3 on shutdown when enabled.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies, record bool) error {
	a.logger.InfoContext(ctx, "starting live mode", slog.Bool("record", record))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	a.startServices(ctx, g, deps)

	opts := []feed.Option{feed.WithMetrics(deps.Metrics), feed.WithLogger(a.logger)}

	var writer *capture.Writer
	if record {
		lease, err := a.acquireRecorderLock(ctx, deps)
		if err != nil {
			return err
		}
		if lease != nil {
			defer lease.Release()
			g.Go(func() error { return a.keepLease(ctx, lease) })
		}

		writer, err = capture.NewWriter(a.cfg.Capture.Dir, a.logger)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		opts = append(opts, feed.WithTap(writer.Tap))
	}

	if a.cfg.Redis.RelayPublish {
		relay := feed.NewRelay(deps.SignalBus, a.cfg.Redis.RelayChannel, a.cfg.Runtime.MailboxCapacity, a.logger)
		opts = append(opts, feed.WithTap(relay.Tap))
		g.Go(func() error { return relay.Run(ctx) })
	}

	strat, err := a.buildStrategy(deps)
	if err != nil {
		return err
	}

	// A relay subscriber takes its frames from Redis instead of the venues.
	var newAdapter runtime.AdapterFactory
	if !a.cfg.Redis.RelaySubscribe {
		newAdapter = a.adapterFactory(opts)
	}
	split := a.cfg.Runtime.Topology == "split" && !a.cfg.Redis.RelaySubscribe
	started := time.Now()
	h, err := a.spawn(ctx, strat, newAdapter, deps, split)
	if err != nil {
		return err
	}

	if a.cfg.Redis.RelaySubscribe {
		out := h.Sender()
		rf := feed.NewRedisFeed(deps.SignalBus, a.cfg.Redis.RelayChannel, deps.Metrics, a.logger)
		g.Go(func() error {
			defer out.Close()
			return rf.Run(ctx, out)
		})
	}

	g.Go(func() error {
		defer cancel()
		return a.supervise(ctx, h)
	})

	err = g.Wait()
	a.notifyStopped(deps, err)
	if writer != nil {
		if cerr := writer.Close(); cerr != nil {
			a.logger.Error("close capture", slog.String("error", cerr.Error()))
		}
		a.archive(deps, writer, started)
	}
	return err
}

// ReplayMode feeds a recorded capture through a fresh aggregator and returns
// once every frame has been consumed.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("path", a.cfg.Capture.ReplayPath))

	frames, err := a.loadCapture(ctx, deps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	a.startServices(ctx, g, deps)

	strat, err := a.buildStrategy(deps)
	if err != nil {
		return err
	}
	h, err := a.spawn(ctx, strat, nil, deps, false)
	if err != nil {
		return err
	}

	out := h.Sender()
	g.Go(func() error {
		defer out.Close()
		_, err := capture.Replay(ctx, frames, out, capture.ReplayOptions{
			Speed:  a.cfg.Capture.ReplaySpeed,
			Logger: a.logger,
		})
		return err
	})
	g.Go(func() error {
		defer cancel()
		return a.supervise(ctx, h)
	})
	return g.Wait()
}

func (a *App) loadCapture(ctx context.Context, deps *Dependencies) ([]platform.Frame, error) {
	rc, err := capture.Open(ctx, a.cfg.Capture.ReplayPath, deps.BlobReader)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	defer rc.Close()

	frames, err := capture.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("app: read capture: %w", err)
	}
	a.logger.Info("capture loaded", slog.Int("frames", len(frames)))
	return frames, nil
}

// supervise waits for the runtime to finish on its own, or shuts it down
// within the configured timeout once ctx is cancelled.
func (a *App) supervise(ctx context.Context, h *runtime.Handle) error {
	select {
	case <-h.Done():
		return h.Wait()
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Runtime.ShutdownTimeout.Duration)
		defer cancel()
		return h.Shutdown(shutCtx)
	}
}

// startServices runs the enabled side services in g until ctx is cancelled.
func (a *App) startServices(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return deps.Metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger)
		})
	}
	if deps.Hub != nil {
		g.Go(func() error { return deps.Hub.Run(ctx) })
	}
	if a.cfg.Server.Enabled {
		srv := a.apiServer(deps)
		g.Go(func() error { return srv.Run(ctx, a.cfg.Runtime.ShutdownTimeout.Duration) })
	}
	if deps.Notifier != nil {
		g.Go(func() error { return deps.Notifier.Run(ctx) })
	}
}

func (a *App) apiServer(deps *Dependencies) *server.Server {
	var clients func() int
	if deps.Hub != nil {
		clients = deps.Hub.ClientCount
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, a.cfg.Strategies, clients, a.logger),
	}
	if deps.BookCache != nil {
		handlers.Books = handler.NewBookHandler(deps.BookCache, a.origins(), a.logger)
	}
	if deps.TradeStore != nil {
		handlers.Trades = handler.NewTradeHandler(deps.TradeStore, a.logger)
	}
	sc := a.cfg.Server
	return server.NewServer(server.Config{
		Addr:        sc.Addr,
		CORSOrigins: sc.CORSOrigins,
		APIKey:      sc.APIKey,
		RatePerSec:  sc.RatePerSec,
		RateBurst:   sc.RateBurst,
	}, handlers, deps.Hub, a.logger)
}

// notifyStopped alerts operators when a live run ends with an error.
func (a *App) notifyStopped(deps *Dependencies, err error) {
	if deps.Notifier == nil || err == nil || errors.Is(err, context.Canceled) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = deps.Notifier.Notify(ctx, notify.EventRuntime, "depthbot stopped", err.Error())
}

// buildStrategy registers every strategy the wired backends allow and
// selects the configured ones, in order.
func (a *App) buildStrategy(deps *Dependencies) (strategy.Strategy, error) {
	sc := a.cfg.Strategy
	reg := strategy.NewRegistry()
	reg.Register(strategy.NewBoardViewer(sc.BoardLevels, sc.BoardInterval.Duration, a.logger))
	reg.Register(strategy.NewMidTracker(sc.MidWindow.Duration, sc.MidDropThreshold, a.logger))
	if pub := deps.publisher(); deps.BookCache != nil || pub != nil {
		reg.Register(strategy.NewMirror(deps.BookCache, pub, sc.MirrorLevels, sc.MirrorInterval.Duration, a.logger))
	}
	if deps.TradeStore != nil {
		reg.Register(strategy.NewRecorder(deps.TradeStore, a.origins(), sc.RecorderTimeout.Duration, a.logger))
	}
	if deps.Notifier != nil {
		reg.Register(strategy.NewAlerter(deps.Notifier, sc.MidWindow.Duration, sc.MidDropThreshold, a.cfg.Notify.Cooldown.Duration, a.logger))
	}

	names := make([]string, len(a.cfg.Strategies))
	for i, n := range a.cfg.Strategies {
		names[i] = strings.ToLower(strings.TrimSpace(n))
	}
	chain, err := reg.Select(names)
	if err != nil {
		return nil, fmt.Errorf("app: strategies (available: %s): %w", strings.Join(reg.List(), ", "), err)
	}
	a.logger.Info("strategies selected", slog.String("chain", chain.Name()))
	return chain, nil
}

// venues returns the enabled venues. A replay with none enabled registers
// books for every known venue so any recorded frame finds its book.
func (a *App) venues() []domain.Venue {
	if vs := a.cfg.Venues(); len(vs) > 0 || a.cfg.Mode != "replay" {
		return vs
	}
	return domain.Venues
}

// origins lists every book the runtime will register, in venue order.
func (a *App) origins() []domain.Origin {
	var out []domain.Origin
	for _, v := range a.venues() {
		for _, s := range domain.MapSymbols(v, a.cfg.CanonicalSymbols()) {
			out = append(out, domain.Origin{Venue: v, Symbol: s})
		}
	}
	return out
}

func (a *App) adapterFactory(opts []feed.Option) runtime.AdapterFactory {
	return func(v domain.Venue, symbols []domain.Symbol) (runtime.Adapter, error) {
		switch v {
		case domain.VenueBitbank:
			return feed.NewBitbankFeed(a.cfg.Bitbank.URL, symbols, opts...), nil
		case domain.VenueBybit:
			return feed.NewBybitFeed(a.cfg.Bybit.URL, a.cfg.Bybit.Depth, symbols, opts...), nil
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVenue, v)
		}
	}
}

func (a *App) spawn(ctx context.Context, strat strategy.Strategy, newAdapter runtime.AdapterFactory, deps *Dependencies, split bool) (*runtime.Handle, error) {
	rc := a.cfg.Runtime
	// Both were validated at load time.
	failure, _ := actor.ParseFailurePolicy(rc.FailurePolicy)
	delta, _ := orderbook.ParseDeltaPolicy(rc.DeltaPolicy)

	cfg := runtime.Config{
		Venues:          a.venues(),
		MailboxCapacity: rc.MailboxCapacity,
		Policy:          mailbox.Policy{WarnPercent: rc.WarnPercent, DropBelow: rc.DropBelow},
		Sink:            mailbox.MultiSink{mailbox.NewLogSink(a.logger), deps.Metrics.MailboxSink()},
		NewAdapter:      newAdapter,
		Aggregator: []actor.Option{
			actor.WithFailurePolicy(failure),
			actor.WithDeltaPolicy(delta),
			actor.WithMaxBufferedDiffs(rc.MaxBufferedDiffs),
			actor.WithMetrics(deps.Metrics),
		},
		Logger: a.logger,
	}
	if split {
		return runtime.SpawnSplit(ctx, strat, a.cfg.CanonicalSymbols(), cfg)
	}
	return runtime.Spawn(ctx, strat, a.cfg.CanonicalSymbols(), cfg)
}

// acquireRecorderLock takes the recorder lease when configured. It returns a
// nil lease when locking is disabled.
func (a *App) acquireRecorderLock(ctx context.Context, deps *Dependencies) (domain.Lease, error) {
	if !a.cfg.Redis.RecorderLock || deps.LockManager == nil {
		return nil, nil
	}
	key := recorderLockKey(a.origins())
	lease, err := deps.LockManager.Acquire(ctx, key, a.cfg.Redis.RecorderLockTTL.Duration)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("app: another recorder holds %s: %w", key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("app: recorder lock: %w", err)
	}
	a.logger.Info("recorder lock acquired", slog.String("key", key))
	return lease, nil
}

func recorderLockKey(origins []domain.Origin) string {
	parts := make([]string, len(origins))
	for i, o := range origins {
		parts[i] = o.Venue.String() + "/" + o.Symbol.String()
	}
	return "recorder:" + strings.Join(parts, ",")
}

// keepLease refreshes the lease at a third of its TTL. Losing it stops the
// run so two recorders never write the same stream.
func (a *App) keepLease(ctx context.Context, lease domain.Lease) error {
	ticker := time.NewTicker(a.cfg.Redis.RecorderLockTTL.Duration / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: recorder lock lost: %w", err)
			}
		}
	}
}

// archive uploads the closed capture and the trades recorded since started.
// Failures are logged; the local capture file is kept either way.
func (a *App) archive(deps *Dependencies, writer *capture.Writer, started time.Time) {
	if !a.cfg.Capture.Upload || deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if writer.Count() > 0 {
		if _, err := deps.Archiver.ArchiveCapture(ctx, writer.Path()); err != nil {
			a.logger.Error("archive capture", slog.String("path", writer.Path()), slog.String("error", err.Error()))
		}
	}
	if deps.TradeStore == nil {
		return
	}
	for _, o := range a.origins() {
		if _, _, err := deps.Archiver.ArchiveTrades(ctx, deps.TradeStore, o, started); err != nil {
			a.logger.Error("archive trades",
				slog.String("venue", o.Venue.String()),
				slog.String("symbol", o.Symbol.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
