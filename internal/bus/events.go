package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// Event payloads are immutable once published; consumers must not mutate the
// slices they carry.

// ListingsChanged reports that the listing set for an item on a world has
// been reconciled upstream. Listings is the complete current set for the
// affected price lines, not a delta: an empty set for a line means nothing is
// for sale. Sales carries any sale records reconciled in the same upstream
// event.
type ListingsChanged struct {
	World    model.WorldID
	Item     model.ItemID
	Listings []model.Listing
	Sales    []model.SaleRecord
}

// SaleHistoryAdded reports newly observed completed sales.
type SaleHistoryAdded struct {
	Records []model.SaleRecord
}

// RetainerChanged reports that a tracked retainer was added, renamed, or
// removed upstream.
type RetainerChanged struct {
	RetainerID uuid.UUID
	Name       string
	Owner      string
	Removed    bool
}

// AlertFired reports a price alert whose threshold was met by a listing batch.
type AlertFired struct {
	AlertID uuid.UUID
	Owner   string
	Item    model.ItemID
	HQ      bool
	World   model.WorldID
	Scope   scope.Selector
	Price   int64
	FiredAt time.Time
}

// UndercutRetainer names one tracked retainer that has been undercut and by
// how much.
type UndercutRetainer struct {
	ID       uuid.UUID
	Name     string
	Undercut int64
}

// UndercutDetected reports tracked retainers whose listings are now priced
// above a competitor's beyond the configured margin.
type UndercutDetected struct {
	AlertID   uuid.UUID
	Owner     string
	Item      model.ItemID
	HQ        bool
	World     model.WorldID
	Retainers []UndercutRetainer
}

// Hub bundles the five event categories. Constructed once at startup and
// passed by handle to every component; there is one topic per category and no
// cross-category ordering guarantee.
type Hub struct {
	Listings  *Topic[ListingsChanged]
	Sales     *Topic[SaleHistoryAdded]
	Retainers *Topic[RetainerChanged]
	Alerts    *Topic[AlertFired]
	Undercuts *Topic[UndercutDetected]
}

// HubConfig sets per-category subscription buffer sizes.
type HubConfig struct {
	ListingsCapacity  int
	SalesCapacity     int
	RetainersCapacity int
	AlertsCapacity    int
	UndercutsCapacity int
}

// DefaultHubConfig mirrors the relative traffic of the categories: listings
// dominate, the rest trickle.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ListingsCapacity:  1024,
		SalesCapacity:     512,
		RetainersCapacity: 64,
		AlertsCapacity:    128,
		UndercutsCapacity: 128,
	}
}

// NewHub creates all five topics.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		Listings:  NewTopic[ListingsChanged](cfg.ListingsCapacity),
		Sales:     NewTopic[SaleHistoryAdded](cfg.SalesCapacity),
		Retainers: NewTopic[RetainerChanged](cfg.RetainersCapacity),
		Alerts:    NewTopic[AlertFired](cfg.AlertsCapacity),
		Undercuts: NewTopic[UndercutDetected](cfg.UndercutsCapacity),
	}
}

// Close shuts down every topic.
func (h *Hub) Close() {
	h.Listings.Close()
	h.Sales.Close()
	h.Retainers.Close()
	h.Alerts.Close()
	h.Undercuts.Close()
}
