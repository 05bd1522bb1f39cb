package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hward/marketboard/internal/bus"
)

// ResyncFunc requests a full-sweep resynchronization. The cache calls it when
// its event subscription reports a gap, since dropped events mean the cached
// state can no longer be trusted to be complete.
type ResyncFunc func(reason string)

// Consumer feeds the market cache from the event bus.
type Consumer struct {
	market *Market
	hub    *bus.Hub
	resync ResyncFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a cache consumer. resync may be nil if no resync path
// is wired (tests).
func NewConsumer(market *Market, hub *bus.Hub, resync ResyncFunc, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		market: market,
		hub:    hub,
		resync: resync,
		logger: logger,
	}
}

// Start subscribes to the listing and sale categories and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	listings := c.hub.Listings.Subscribe()
	sales := c.hub.Sales.Subscribe()

	c.wg.Add(2)
	go c.consumeListings(listings)
	go c.consumeSales(sales)

	c.logger.Info("cache consumer started")
	return nil
}

// Stop shuts the consumer down, waiting for the loops to exit or ctx to
// expire.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("cache consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("cache consumer stop timed out")
		return ctx.Err()
	}
}

func (c *Consumer) consumeListings(sub *bus.Subscription[bus.ListingsChanged]) {
	defer c.wg.Done()
	defer sub.Close()

	for {
		ev, lag, err := sub.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				c.logger.Error("listings subscription failed", "error", err)
			}
			return
		}
		if lag > 0 {
			c.requestResync("listing events dropped", lag)
		}
		c.market.ApplyListings(ev.World, ev.Item, ev.Listings, ev.Sales)
	}
}

func (c *Consumer) consumeSales(sub *bus.Subscription[bus.SaleHistoryAdded]) {
	defer c.wg.Done()
	defer sub.Close()

	for {
		ev, lag, err := sub.Receive(c.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				c.logger.Error("sales subscription failed", "error", err)
			}
			return
		}
		if lag > 0 {
			c.requestResync("sale events dropped", lag)
		}
		c.market.ApplySales(ev.Records)
	}
}

func (c *Consumer) requestResync(reason string, lag uint64) {
	c.logger.Warn("event gap detected, requesting full resync", "reason", reason, "dropped", lag)
	if c.resync != nil {
		c.resync(reason)
	}
}
