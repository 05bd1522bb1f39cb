// Package analyzer computes read-only analytics over the market cache:
// buy-low/sell-high resale candidates and per-world trend lists. Everything
// here is a pure read against cache views and is safe to call concurrently
// with cache writers.
package analyzer

import (
	"log/slog"
	"sort"
	"time"

	"github.com/hward/marketboard/internal/cache"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

// SoldPeriod is the trailing period a liquidity filter looks back over.
type SoldPeriod uint8

const (
	SoldToday SoldPeriod = iota + 1
	SoldWeek
	SoldMonth
	SoldYear
	SoldYearsAgo
)

// SoldWithin requires at least MinCount sales within the trailing period for
// a resale candidate to qualify, filtering out illiquid items whose paper
// profit is not realizable.
type SoldWithin struct {
	Period   SoldPeriod
	Years    int // only for SoldYearsAgo
	MinCount int
}

// Duration returns the trailing window the filter covers.
func (s SoldWithin) Duration() time.Duration {
	const day = 24 * time.Hour
	switch s.Period {
	case SoldToday:
		return day
	case SoldWeek:
		return 7 * day
	case SoldMonth:
		return 4 * 7 * day
	case SoldYear:
		return 52 * 7 * day
	case SoldYearsAgo:
		years := s.Years
		if years < 1 {
			years = 1
		}
		return time.Duration(years) * 52 * 7 * day
	}
	return 0
}

// ResaleOptions filters and thresholds for a best-resale query. Zero values
// disable the corresponding filter.
type ResaleOptions struct {
	MinimumProfit    int64
	FilterWorld      model.WorldID      // only candidates bought on this world
	FilterDatacenter model.DatacenterID // only candidates bought in this datacenter
	FilterSale       *SoldWithin
}

// ResaleStats is one ranked resale candidate: buy at the cheapest listing,
// sell where the recent sale happened.
type ResaleStats struct {
	Item          model.ItemID
	HQ            bool
	BuyWorld      model.WorldID
	SaleWorld     model.WorldID
	CheapestPrice int64
	BestSalePrice int64
	Profit        int64
	// ReturnOnInvestment is Profit / CheapestPrice.
	ReturnOnInvestment float64
	// ProfitPerDay estimates realizable profit from observed sale velocity.
	ProfitPerDay float64
	RecentSales  int
}

// TravelCosts is the flat step function subtracted from resale profit.
type TravelCosts struct {
	SameWorld      int64
	SameDatacenter int64
	CrossDC        int64
}

// DefaultTravelCosts returns the standard step function.
func DefaultTravelCosts() TravelCosts {
	return TravelCosts{SameWorld: 0, SameDatacenter: 100, CrossDC: 500}
}

// Analyzer serves resale and trend queries.
type Analyzer struct {
	market *cache.Market
	index  *scope.Index
	travel TravelCosts
	logger *slog.Logger

	now func() time.Time // injectable for tests
}

// New creates an analyzer over the given cache and index.
func New(market *cache.Market, index *scope.Index, travel TravelCosts, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		market: market,
		index:  index,
		travel: travel,
		logger: logger,
		now:    time.Now,
	}
}

// saleLine is the per-line digest of the source scope's sales window.
type saleLine struct {
	bestPrice int64
	bestWorld model.WorldID
	count     int // sales within the qualifying window
	oldest    time.Time
	newest    time.Time
}

// BestResale finds profitable resale candidates: items whose cheapest listing
// anywhere in the source scope's region undercuts their recent sale price at
// the source scope, net of travel cost. Results are ranked by return on
// investment, descending, ties broken by estimated profit per day.
func (a *Analyzer) BestResale(source scope.Selector, opts ResaleOptions) ([]ResaleStats, error) {
	region, err := a.index.RegionOf(source)
	if err != nil {
		return nil, err
	}

	buyView, err := a.market.ReadCheapest(scope.SelectRegion(region.ID))
	if err != nil {
		return nil, err
	}

	now := a.now()
	var cutoff time.Time
	if opts.FilterSale != nil {
		cutoff = now.Add(-opts.FilterSale.Duration())
	}

	sales := make(map[model.ListingKey]saleLine)
	err = a.market.ReadSaleHistory(source, func(view map[model.ListingKey][]model.SaleRecord) {
		for key, window := range view {
			var line saleLine
			for _, sale := range window {
				if opts.FilterSale != nil && sale.SoldAt.Before(cutoff) {
					continue
				}
				if line.count == 0 || sale.PricePerUnit > line.bestPrice {
					line.bestPrice = sale.PricePerUnit
					line.bestWorld = sale.World
				}
				if line.count == 0 || sale.SoldAt.Before(line.oldest) {
					line.oldest = sale.SoldAt
				}
				if line.count == 0 || sale.SoldAt.After(line.newest) {
					line.newest = sale.SoldAt
				}
				line.count++
			}
			if line.count > 0 {
				sales[key] = line
			}
		}
	})
	if err != nil {
		return nil, err
	}

	var results []ResaleStats
	for key, cheapest := range buyView {
		if cheapest.Price <= 0 {
			// No meaningful ROI; excluded, not divided by zero.
			continue
		}
		line, ok := sales[key]
		if !ok {
			continue
		}
		if opts.FilterSale != nil && line.count < opts.FilterSale.MinCount {
			continue
		}
		if opts.FilterWorld != 0 && cheapest.World != opts.FilterWorld {
			continue
		}
		if opts.FilterDatacenter != 0 {
			dc, err := a.index.ParentDatacenter(cheapest.World)
			if err != nil || dc.ID != opts.FilterDatacenter {
				continue
			}
		}

		profit := line.bestPrice - cheapest.Price - a.travelCost(cheapest.World, line.bestWorld)
		if profit < opts.MinimumProfit || (opts.MinimumProfit == 0 && profit <= 0) {
			continue
		}

		results = append(results, ResaleStats{
			Item:               key.Item,
			HQ:                 key.HQ,
			BuyWorld:           cheapest.World,
			SaleWorld:          line.bestWorld,
			CheapestPrice:      cheapest.Price,
			BestSalePrice:      line.bestPrice,
			Profit:             profit,
			ReturnOnInvestment: float64(profit) / float64(cheapest.Price),
			ProfitPerDay:       float64(profit) * a.salesPerDay(line, opts.FilterSale, now),
			RecentSales:        line.count,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].ReturnOnInvestment != results[j].ReturnOnInvestment {
			return results[i].ReturnOnInvestment > results[j].ReturnOnInvestment
		}
		return results[i].ProfitPerDay > results[j].ProfitPerDay
	})

	return results, nil
}

// travelCost applies the flat step function between the buy world and the
// world the sale is expected on.
func (a *Analyzer) travelCost(buy, sell model.WorldID) int64 {
	if buy == sell {
		return a.travel.SameWorld
	}
	buyDC, err := a.index.ParentDatacenter(buy)
	if err != nil {
		return a.travel.CrossDC
	}
	sellDC, err := a.index.ParentDatacenter(sell)
	if err != nil {
		return a.travel.CrossDC
	}
	if buyDC.ID == sellDC.ID {
		return a.travel.SameDatacenter
	}
	return a.travel.CrossDC
}

// salesPerDay estimates observed sale velocity for the profit-per-day tie
// break. With a liquidity filter the window length is the filter period;
// otherwise it is the observed span of the sales window, floored at one day.
func (a *Analyzer) salesPerDay(line saleLine, filter *SoldWithin, now time.Time) float64 {
	var days float64
	if filter != nil {
		days = filter.Duration().Hours() / 24
	} else {
		days = now.Sub(line.oldest).Hours() / 24
	}
	if days < 1 {
		days = 1
	}
	return float64(line.count) / days
}
