// Package resync rebuilds the market cache from authoritative snapshots. A
// sweep runs periodically and whenever a consumer reports dropped events,
// since a gap in the stream means the cache may be missing updates it will
// never see again.
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hward/marketboard/internal/cache"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// SnapshotProvider fetches the authoritative state of one world.
type SnapshotProvider interface {
	WorldSnapshot(ctx context.Context, world model.WorldID) (cache.Snapshot, error)
}

// SnapshotProviderFunc is a function adapter for SnapshotProvider.
type SnapshotProviderFunc func(context.Context, model.WorldID) (cache.Snapshot, error)

func (f SnapshotProviderFunc) WorldSnapshot(ctx context.Context, world model.WorldID) (cache.Snapshot, error) {
	return f(ctx, world)
}

// Config holds sweeper configuration.
type Config struct {
	Interval    time.Duration // periodic sweep interval (default: 15m)
	Concurrency int           // max worlds fetched at once (default: 8)
	Timeout     time.Duration // per-world fetch timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Minute,
		Concurrency: 8,
		Timeout:     30 * time.Second,
	}
}

// Sweeper resynchronizes every indexed world from the snapshot provider.
type Sweeper struct {
	cfg      Config
	provider SnapshotProvider
	market   *cache.Market
	index    *scope.Index
	logger   *slog.Logger

	// trigger coalesces on-demand requests: a request during a running
	// sweep schedules exactly one follow-up sweep.
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper.
func New(cfg Config, provider SnapshotProvider, market *cache.Market, index *scope.Index, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		provider: provider,
		market:   market,
		index:    index,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Request schedules a sweep. Safe to call from any goroutine; concurrent
// requests collapse into a single pending sweep.
func (s *Sweeper) Request(reason string) {
	select {
	case s.trigger <- struct{}{}:
		s.logger.Info("resync requested", "reason", reason)
	default:
		// A sweep is already pending.
	}
}

// Start begins the sweep loop with an immediate initial sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("resync sweeper started",
		"interval", s.cfg.Interval,
		"concurrency", s.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("resync sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Prime the cache on start.
	s.sweepAll()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll()
		case <-s.trigger:
			s.sweepAll()
		}
	}
}

// sweepAll fetches and applies a snapshot for every indexed world with
// bounded concurrency. A failed world keeps its current cached state.
func (s *Sweeper) sweepAll() {
	start := time.Now()
	worlds := s.index.AllWorlds()

	g, ctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.cfg.Concurrency)

	var synced, failed atomic.Int64
	for _, w := range worlds {
		world := w.ID
		g.Go(func() error {
			if err := s.sweepWorld(ctx, world); err != nil {
				s.logger.Warn("world resync failed", "world", world, "error", err)
				failed.Add(1)
				// Other worlds still sweep.
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	g.Wait()

	s.logger.Info("resync sweep complete",
		"worlds", len(worlds),
		"synced", synced.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)
}

func (s *Sweeper) sweepWorld(ctx context.Context, world model.WorldID) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	snap, err := s.provider.WorldSnapshot(ctx, world)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}
	if err := s.market.FullResync(world, snap); err != nil {
		return fmt.Errorf("applying snapshot: %w", err)
	}
	return nil
}
