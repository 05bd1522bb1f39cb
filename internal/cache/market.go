// Package cache holds the live market data: per world, the cheapest current
// price per price line and a bounded window of recent sales. World-level maps
// are the source of truth; datacenter and region views are folded from the
// constituent worlds at read time, so a parent scope can never run ahead of a
// child.
//
// Writers build a replacement shard off to the side and swap it in under the
// lock; the lock is never held during computation, and any number of readers
// proceed in parallel against the immutable shards they grabbed.
package cache

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// ErrUnknownScope is returned for selectors absent from the scope index. An
// empty map for a known scope is a legitimate answer (nothing for sale) and
// is not an error.
var ErrUnknownScope = errors.New("cache: unknown scope")

// DefaultSaleWindow is the per-line recent-sales window size.
const DefaultSaleWindow = 6

// Config holds market cache settings.
type Config struct {
	// SaleWindow caps the recent-sales list kept per price line.
	SaleWindow int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{SaleWindow: DefaultSaleWindow}
}

// Snapshot is a complete replacement for one world's cached state, used by
// full resynchronization.
type Snapshot struct {
	Cheapest map[model.ListingKey]model.CheapestEntry
	Sales    map[model.ListingKey][]model.SaleRecord
}

// worldShard is one world's view. Shards are immutable once published;
// updates replace the whole shard pointer.
type worldShard struct {
	cheapest map[model.ListingKey]model.CheapestEntry
	sales    map[model.ListingKey][]model.SaleRecord
}

var emptyShard = &worldShard{
	cheapest: map[model.ListingKey]model.CheapestEntry{},
	sales:    map[model.ListingKey][]model.SaleRecord{},
}

// Market is the concurrent market-data cache.
type Market struct {
	cfg    Config
	index  *scope.Index
	logger *slog.Logger

	// writeMu serializes writers; mu guards only the shard pointer map and
	// is held just long enough to read or swap pointers.
	writeMu sync.Mutex
	mu      sync.RWMutex
	worlds  map[model.WorldID]*worldShard
}

// New creates an empty cache covering every world in the index.
func New(cfg Config, index *scope.Index, logger *slog.Logger) *Market {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SaleWindow <= 0 {
		cfg.SaleWindow = DefaultSaleWindow
	}

	worlds := make(map[model.WorldID]*worldShard)
	for _, w := range index.AllWorlds() {
		worlds[w.ID] = emptyShard
	}

	return &Market{
		cfg:    cfg,
		index:  index,
		logger: logger,
		worlds: worlds,
	}
}

// shard returns the current shard pointer for a world.
func (m *Market) shard(id model.WorldID) (*worldShard, bool) {
	m.mu.RLock()
	s, ok := m.worlds[id]
	m.mu.RUnlock()
	return s, ok
}

// swap publishes a new shard for a world.
func (m *Market) swap(id model.WorldID, s *worldShard) {
	m.mu.Lock()
	m.worlds[id] = s
	m.mu.Unlock()
}

// ApplyListings replaces the cheapest entries for an item on one world with
// the minimums of the given listing set. The set is the complete current
// state for the item, so a price line with no listings in it is removed, not
// left stale. Sale records carried with the batch update the sales window.
func (m *Market) ApplyListings(world model.WorldID, item model.ItemID, listings []model.Listing, sales []model.SaleRecord) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	old, ok := m.shard(world)
	if !ok {
		m.logger.Warn("listings for unknown world dropped", "world", world, "item", item)
		return
	}

	next := cloneShard(old)

	// Full per-line replacement: both quality lines of the item are
	// recomputed from the batch, and absent lines are deleted.
	delete(next.cheapest, model.ListingKey{Item: item, HQ: false})
	delete(next.cheapest, model.ListingKey{Item: item, HQ: true})
	for _, l := range listings {
		if l.Item != item {
			m.logger.Warn("listing for mismatched item dropped", "world", world, "item", item, "listing_item", l.Item)
			continue
		}
		key := l.Key()
		entry, ok := next.cheapest[key]
		if !ok || l.PricePerUnit < entry.Price {
			next.cheapest[key] = model.CheapestEntry{Price: l.PricePerUnit, World: world}
		}
	}

	for _, s := range sales {
		insertSale(next.sales, s, m.cfg.SaleWindow)
	}

	m.swap(world, next)
}

// ApplySales folds newly observed sales into the affected worlds' windows.
func (m *Market) ApplySales(records []model.SaleRecord) {
	if len(records) == 0 {
		return
	}

	byWorld := make(map[model.WorldID][]model.SaleRecord)
	for _, r := range records {
		byWorld[r.World] = append(byWorld[r.World], r)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	for world, worldRecords := range byWorld {
		old, ok := m.shard(world)
		if !ok {
			m.logger.Warn("sales for unknown world dropped", "world", world, "count", len(worldRecords))
			continue
		}
		next := cloneShard(old)
		for _, r := range worldRecords {
			insertSale(next.sales, r, m.cfg.SaleWindow)
		}
		m.swap(world, next)
	}
}

// FullResync atomically replaces a world's entire cached state with the
// provided snapshot. Concurrent readers observe either the old shard or the
// new one in full, never a mix.
func (m *Market) FullResync(world model.WorldID, snap Snapshot) error {
	if _, err := m.index.World(world); err != nil {
		return ErrUnknownScope
	}

	next := &worldShard{
		cheapest: make(map[model.ListingKey]model.CheapestEntry, len(snap.Cheapest)),
		sales:    make(map[model.ListingKey][]model.SaleRecord, len(snap.Sales)),
	}
	for k, v := range snap.Cheapest {
		next.cheapest[k] = v
	}
	for k, records := range snap.Sales {
		window := make([]model.SaleRecord, len(records))
		copy(window, records)
		sortSalesNewestFirst(window)
		if len(window) > m.cfg.SaleWindow {
			window = window[:m.cfg.SaleWindow]
		}
		next.sales[k] = window
	}

	m.writeMu.Lock()
	m.swap(world, next)
	m.writeMu.Unlock()
	return nil
}

// ReadCheapest returns the cheapest-entry view for a scope. For a world
// selector this is the world's own map; for datacenter and region selectors
// it is the per-line minimum folded across the constituent worlds at call
// time. The returned map must not be mutated.
func (m *Market) ReadCheapest(sel scope.Selector) (map[model.ListingKey]model.CheapestEntry, error) {
	worlds, err := m.index.Worlds(sel)
	if err != nil {
		return nil, ErrUnknownScope
	}

	if sel.Kind == scope.KindWorld {
		s, ok := m.shard(worlds[0])
		if !ok {
			return nil, ErrUnknownScope
		}
		return s.cheapest, nil
	}

	merged := make(map[model.ListingKey]model.CheapestEntry)
	for _, w := range worlds {
		s, ok := m.shard(w)
		if !ok {
			continue
		}
		for key, entry := range s.cheapest {
			best, seen := merged[key]
			if !seen || entry.Price < best.Price {
				merged[key] = entry
			}
		}
	}
	return merged, nil
}

// ReadSaleHistory builds the recent-sales view for a scope (per line: the
// union across constituent worlds, newest first, truncated to the window) and
// applies the caller's read-only projection to it.
func (m *Market) ReadSaleHistory(sel scope.Selector, project func(map[model.ListingKey][]model.SaleRecord)) error {
	worlds, err := m.index.Worlds(sel)
	if err != nil {
		return ErrUnknownScope
	}

	if sel.Kind == scope.KindWorld {
		s, ok := m.shard(worlds[0])
		if !ok {
			return ErrUnknownScope
		}
		project(s.sales)
		return nil
	}

	merged := make(map[model.ListingKey][]model.SaleRecord)
	for _, w := range worlds {
		s, ok := m.shard(w)
		if !ok {
			continue
		}
		for key, records := range s.sales {
			merged[key] = append(merged[key], records...)
		}
	}
	for key, records := range merged {
		sortSalesNewestFirst(records)
		if len(records) > m.cfg.SaleWindow {
			merged[key] = records[:m.cfg.SaleWindow]
		}
	}
	project(merged)
	return nil
}

func cloneShard(s *worldShard) *worldShard {
	next := &worldShard{
		cheapest: make(map[model.ListingKey]model.CheapestEntry, len(s.cheapest)),
		sales:    make(map[model.ListingKey][]model.SaleRecord, len(s.sales)),
	}
	for k, v := range s.cheapest {
		next.cheapest[k] = v
	}
	// Sale windows are copy-on-write: shared slices are replaced, never
	// appended to, by insertSale.
	for k, v := range s.sales {
		next.sales[k] = v
	}
	return next
}

// insertSale adds a record to its line's window, keeping newest-first order
// and the window bound. The existing slice is left untouched.
func insertSale(sales map[model.ListingKey][]model.SaleRecord, r model.SaleRecord, window int) {
	key := r.Key()
	old := sales[key]

	if len(old) >= window && !r.SoldAt.After(old[len(old)-1].SoldAt) {
		// Older than everything we keep.
		return
	}

	next := make([]model.SaleRecord, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, r)
	sortSalesNewestFirst(next)
	if len(next) > window {
		next = next[:window]
	}
	sales[key] = next
}

func sortSalesNewestFirst(records []model.SaleRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SoldAt.After(records[j].SoldAt)
	})
}
