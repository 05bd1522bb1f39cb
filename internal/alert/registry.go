// Package alert evaluates user alerts against the live listing stream: price
// alerts that fire when an item lists at or below a threshold inside a scope,
// and
// undercut alerts that fire when a tracked retainer is no longer the cheapest
// seller.
package alert

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

var (
	ErrNotFound         = errors.New("alert: not found")
	ErrInvalidThreshold = errors.New("alert: threshold must be positive")
	ErrInvalidMargin    = errors.New("alert: margin percent must be in [0, 100)")
	ErrNoRetainers      = errors.New("alert: undercut alert needs at least one retainer")
)

// Quality restricts which price lines an alert watches.
type Quality uint8

const (
	AnyQuality Quality = iota
	NormalOnly
	HighOnly
)

func (q Quality) matches(hq bool) bool {
	switch q {
	case NormalOnly:
		return !hq
	case HighOnly:
		return hq
	}
	return true
}

// PriceAlert fires when a listing for Item appears at or below Threshold on
// any world inside Scope.
type PriceAlert struct {
	ID        uuid.UUID
	Owner     string
	Item      model.ItemID
	Scope     scope.Selector
	Threshold int64
	Quality   Quality
}

// UndercutAlert fires when one of the tracked retainers holds a listing that
// a competitor undercuts by more than MarginPercent of the retainer's price.
type UndercutAlert struct {
	ID            uuid.UUID
	Owner         string
	MarginPercent int64
	// Retainers maps tracked retainer ids to their display names.
	Retainers map[uuid.UUID]string
}

// registry is the synchronized alert store. Price alerts are indexed by item
// so the hot path touches only alerts for the item that changed; undercut
// alerts are few per install and scanned linearly.
type registry struct {
	mu       sync.RWMutex
	price    map[model.ItemID][]PriceAlert
	undercut map[uuid.UUID]UndercutAlert
	// tracked caches the union of retainer ids across undercut alerts so the
	// hot path can reject batches with no tracked retainer in one lookup.
	tracked map[uuid.UUID]struct{}
}

func newRegistry() *registry {
	return &registry{
		price:    make(map[model.ItemID][]PriceAlert),
		undercut: make(map[uuid.UUID]UndercutAlert),
		tracked:  make(map[uuid.UUID]struct{}),
	}
}

func (r *registry) addPrice(a PriceAlert) {
	r.mu.Lock()
	r.price[a.Item] = append(r.price[a.Item], a)
	r.mu.Unlock()
}

func (r *registry) removePrice(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for item, alerts := range r.price {
		for i, a := range alerts {
			if a.ID != id {
				continue
			}
			alerts = append(alerts[:i], alerts[i+1:]...)
			if len(alerts) == 0 {
				delete(r.price, item)
			} else {
				r.price[item] = alerts
			}
			return true
		}
	}
	return false
}

// priceAlertsFor returns a copy of the alerts watching item, safe to evaluate
// without holding the lock.
func (r *registry) priceAlertsFor(item model.ItemID) []PriceAlert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alerts := r.price[item]
	if len(alerts) == 0 {
		return nil
	}
	out := make([]PriceAlert, len(alerts))
	copy(out, alerts)
	return out
}

func (r *registry) addUndercut(a UndercutAlert) {
	r.mu.Lock()
	r.undercut[a.ID] = a
	r.rebuildTracked()
	r.mu.Unlock()
}

func (r *registry) removeUndercut(id uuid.UUID) (UndercutAlert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.undercut[id]
	if !ok {
		return UndercutAlert{}, false
	}
	delete(r.undercut, id)
	r.rebuildTracked()
	return a, true
}

func (r *registry) rebuildTracked() {
	r.tracked = make(map[uuid.UUID]struct{})
	for _, a := range r.undercut {
		for rid := range a.Retainers {
			r.tracked[rid] = struct{}{}
		}
	}
}

func (r *registry) anyTracked(listings []model.Listing) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.tracked) == 0 {
		return false
	}
	for _, l := range listings {
		if _, ok := r.tracked[l.RetainerID]; ok {
			return true
		}
	}
	return false
}

// undercutAlerts returns a snapshot of all undercut alerts.
func (r *registry) undercutAlerts() []UndercutAlert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.undercut) == 0 {
		return nil
	}
	out := make([]UndercutAlert, 0, len(r.undercut))
	for _, a := range r.undercut {
		out = append(out, a)
	}
	return out
}
