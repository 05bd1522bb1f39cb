package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/bus"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// Evaluator consumes the listing stream and publishes alert and undercut
// events for matching registrations.
type Evaluator struct {
	index    *scope.Index
	hub      *bus.Hub
	registry *registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewEvaluator creates an evaluator with an empty registry.
func NewEvaluator(index *scope.Index, hub *bus.Hub, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		index:    index,
		hub:      hub,
		registry: newRegistry(),
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterPrice adds a price alert and returns its id. The scope must exist
// in the index.
func (e *Evaluator) RegisterPrice(owner string, item model.ItemID, sel scope.Selector, threshold int64, quality Quality) (uuid.UUID, error) {
	if threshold <= 0 {
		return uuid.Nil, ErrInvalidThreshold
	}
	if _, err := e.index.Worlds(sel); err != nil {
		return uuid.Nil, err
	}
	a := PriceAlert{
		ID:        uuid.New(),
		Owner:     owner,
		Item:      item,
		Scope:     sel,
		Threshold: threshold,
		Quality:   quality,
	}
	e.registry.addPrice(a)
	e.logger.Info("price alert registered",
		"alert_id", a.ID, "owner", owner, "item", item, "scope", sel.String(), "threshold", threshold)
	return a.ID, nil
}

// RemovePrice deletes a price alert.
func (e *Evaluator) RemovePrice(id uuid.UUID) error {
	if !e.registry.removePrice(id) {
		return ErrNotFound
	}
	return nil
}

// RegisterUndercut adds an undercut alert over the given retainers and
// returns its id. Retainer additions are announced on the retainer topic.
func (e *Evaluator) RegisterUndercut(owner string, marginPercent int64, retainers map[uuid.UUID]string) (uuid.UUID, error) {
	if marginPercent < 0 || marginPercent >= 100 {
		return uuid.Nil, ErrInvalidMargin
	}
	if len(retainers) == 0 {
		return uuid.Nil, ErrNoRetainers
	}
	a := UndercutAlert{
		ID:            uuid.New(),
		Owner:         owner,
		MarginPercent: marginPercent,
		Retainers:     make(map[uuid.UUID]string, len(retainers)),
	}
	for id, name := range retainers {
		a.Retainers[id] = name
		e.hub.Retainers.Publish(bus.RetainerChanged{RetainerID: id, Name: name, Owner: owner})
	}
	e.registry.addUndercut(a)
	e.logger.Info("undercut alert registered",
		"alert_id", a.ID, "owner", owner, "margin_percent", marginPercent, "retainers", len(retainers))
	return a.ID, nil
}

// RemoveUndercut deletes an undercut alert and announces the retainer
// removals.
func (e *Evaluator) RemoveUndercut(id uuid.UUID) error {
	a, ok := e.registry.removeUndercut(id)
	if !ok {
		return ErrNotFound
	}
	for rid, name := range a.Retainers {
		e.hub.Retainers.Publish(bus.RetainerChanged{RetainerID: rid, Name: name, Owner: a.Owner, Removed: true})
	}
	return nil
}

// Start subscribes to the listing stream and begins evaluating.
func (e *Evaluator) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	sub := e.hub.Listings.Subscribe()
	e.wg.Add(1)
	go e.consume(sub)

	e.logger.Info("alert evaluator started")
	return nil
}

// Stop shuts the evaluator down, waiting for the loop to exit or ctx to
// expire.
func (e *Evaluator) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("alert evaluator stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("alert evaluator stop timed out")
		return ctx.Err()
	}
}

func (e *Evaluator) consume(sub *bus.Subscription[bus.ListingsChanged]) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		ev, lag, err := sub.Receive(e.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClosed) {
				e.logger.Error("listings subscription failed", "error", err)
			}
			return
		}
		if lag > 0 {
			// Missed batches can only delay an alert, never corrupt state,
			// so a gap is worth a warning but not a resync.
			e.logger.Warn("alert evaluator lagging", "dropped", lag)
		}
		e.evaluatePrice(ev)
		e.evaluateUndercuts(ev)
	}
}

// evaluatePrice fires at most one alert event per registered alert per batch,
// carrying the lowest qualifying price.
func (e *Evaluator) evaluatePrice(ev bus.ListingsChanged) {
	alerts := e.registry.priceAlertsFor(ev.Item)
	if len(alerts) == 0 {
		return
	}

	for _, a := range alerts {
		if !e.scopeContains(a.Scope, ev.World) {
			continue
		}
		var best *model.Listing
		for i := range ev.Listings {
			l := &ev.Listings[i]
			if !a.Quality.matches(l.HQ) || l.PricePerUnit > a.Threshold {
				continue
			}
			if best == nil || l.PricePerUnit < best.PricePerUnit {
				best = l
			}
		}
		if best == nil {
			continue
		}
		e.hub.Alerts.Publish(bus.AlertFired{
			AlertID: a.ID,
			Owner:   a.Owner,
			Item:    a.Item,
			HQ:      best.HQ,
			World:   ev.World,
			Scope:   a.Scope,
			Price:   best.PricePerUnit,
			FiredAt: e.now().UTC(),
		})
	}
}

// evaluateUndercuts compares each tracked retainer's cheapest listing in the
// batch against the cheapest competing listing on the same price line.
func (e *Evaluator) evaluateUndercuts(ev bus.ListingsChanged) {
	if !e.registry.anyTracked(ev.Listings) {
		return
	}

	for _, a := range e.registry.undercutAlerts() {
		for _, hq := range []bool{false, true} {
			undercuts := undercutsOnLine(a, ev.Listings, hq)
			if len(undercuts) == 0 {
				continue
			}
			e.hub.Undercuts.Publish(bus.UndercutDetected{
				AlertID:   a.ID,
				Owner:     a.Owner,
				Item:      ev.Item,
				HQ:        hq,
				World:     ev.World,
				Retainers: undercuts,
			})
		}
	}
}

// undercutsOnLine returns the tracked retainers undercut on one price line.
// A retainer counts as undercut when a competitor's price is below the
// retainer's cheapest listing by more than the alert margin.
func undercutsOnLine(a UndercutAlert, listings []model.Listing, hq bool) []bus.UndercutRetainer {
	lowestOwn := make(map[uuid.UUID]int64)
	lowestOther := int64(0)
	haveOther := false

	for _, l := range listings {
		if l.HQ != hq {
			continue
		}
		if _, tracked := a.Retainers[l.RetainerID]; tracked {
			if cur, ok := lowestOwn[l.RetainerID]; !ok || l.PricePerUnit < cur {
				lowestOwn[l.RetainerID] = l.PricePerUnit
			}
			continue
		}
		if !haveOther || l.PricePerUnit < lowestOther {
			lowestOther = l.PricePerUnit
			haveOther = true
		}
	}
	if !haveOther || len(lowestOwn) == 0 {
		return nil
	}

	var out []bus.UndercutRetainer
	for rid, own := range lowestOwn {
		// Margin shrinks the price the retainer must stay under.
		floor := own - own*a.MarginPercent/100
		if lowestOther < floor {
			out = append(out, bus.UndercutRetainer{
				ID:       rid,
				Name:     a.Retainers[rid],
				Undercut: own - lowestOther,
			})
		}
	}
	return out
}

func (e *Evaluator) scopeContains(sel scope.Selector, world model.WorldID) bool {
	worlds, err := e.index.Worlds(sel)
	if err != nil {
		return false
	}
	for _, w := range worlds {
		if w == world {
			return true
		}
	}
	return false
}
