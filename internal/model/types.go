package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

// WorldID identifies a single trading world.
type WorldID int32

// DatacenterID identifies a datacenter (a group of worlds).
type DatacenterID int32

// RegionID identifies a region (a group of datacenters).
type RegionID int32

// ItemID identifies a tradeable item.
type ItemID int32

// ListingKey identifies one independent price line: an item split by quality.
// Every item has up to two lines, NQ and HQ.
type ListingKey struct {
	Item ItemID
	HQ   bool
}

// -----------------------------------------------------------------------------
// Market Types
// -----------------------------------------------------------------------------

// Listing is an active sell order for an item on a specific world.
type Listing struct {
	ID           uuid.UUID // Upstream listing id
	Item         ItemID
	World        WorldID
	PricePerUnit int64
	Quantity     int32
	HQ           bool
	RetainerID   uuid.UUID // Seller's retainer
	RetainerName string
	ListedAt     time.Time
}

// Key returns the price line this listing belongs to.
func (l Listing) Key() ListingKey {
	return ListingKey{Item: l.Item, HQ: l.HQ}
}

// SaleRecord is a completed sale observed on a specific world.
type SaleRecord struct {
	Item         ItemID
	World        WorldID
	PricePerUnit int64
	Quantity     int32
	HQ           bool
	BuyerName    string
	SoldAt       time.Time
}

// Key returns the price line this sale belongs to.
func (s SaleRecord) Key() ListingKey {
	return ListingKey{Item: s.Item, HQ: s.HQ}
}

// CheapestEntry is the lowest observed unit price for a price line within a
// scope, and which world carries it.
type CheapestEntry struct {
	Price int64
	World WorldID
}
