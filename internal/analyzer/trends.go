package analyzer

import (
	"sort"

	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

const (
	// trendListCap bounds each trend list.
	trendListCap = 50
	// highVelocityPerWeek is the minimum sales/week for the velocity list.
	highVelocityPerWeek = 10.0
	// risingRatio and fallingRatio compare the current cheapest listing to
	// the average recent sale price.
	risingRatio  = 1.5
	fallingRatio = 0.5
)

// TrendItem is one entry in a trend list.
type TrendItem struct {
	Item         model.ItemID
	HQ           bool
	Cheapest     int64
	AverageSale  int64
	SalesPerWeek float64
}

// Trends groups the per-world market movement lists.
type Trends struct {
	HighVelocity []TrendItem
	RisingPrice  []TrendItem
	FallingPrice []TrendItem
}

// WorldTrends computes high-velocity, rising and falling lists for one world
// from its sales windows and current cheapest listings.
func (a *Analyzer) WorldTrends(world model.WorldID) (Trends, error) {
	sel := scope.SelectWorld(world)
	cheapest, err := a.market.ReadCheapest(sel)
	if err != nil {
		return Trends{}, err
	}

	now := a.now()
	var trends Trends
	err = a.market.ReadSaleHistory(sel, func(view map[model.ListingKey][]model.SaleRecord) {
		for key, window := range view {
			if len(window) == 0 {
				continue
			}
			entry, listed := cheapest[key]

			var sum int64
			oldest := window[0].SoldAt
			for _, sale := range window {
				sum += sale.PricePerUnit
				if sale.SoldAt.Before(oldest) {
					oldest = sale.SoldAt
				}
			}
			avg := sum / int64(len(window))

			weeks := now.Sub(oldest).Hours() / (24 * 7)
			if weeks < 1.0/7 {
				weeks = 1.0 / 7
			}
			item := TrendItem{
				Item:         key.Item,
				HQ:           key.HQ,
				AverageSale:  avg,
				SalesPerWeek: float64(len(window)) / weeks,
			}
			if listed {
				item.Cheapest = entry.Price
			}

			if item.SalesPerWeek >= highVelocityPerWeek {
				trends.HighVelocity = append(trends.HighVelocity, item)
			}
			if listed && avg > 0 {
				ratio := float64(entry.Price) / float64(avg)
				if ratio >= risingRatio {
					trends.RisingPrice = append(trends.RisingPrice, item)
				} else if ratio <= fallingRatio {
					trends.FallingPrice = append(trends.FallingPrice, item)
				}
			}
		}
	})
	if err != nil {
		return Trends{}, err
	}

	sort.Slice(trends.HighVelocity, func(i, j int) bool {
		return trends.HighVelocity[i].SalesPerWeek > trends.HighVelocity[j].SalesPerWeek
	})
	byRatio := func(list []TrendItem, desc bool) {
		sort.Slice(list, func(i, j int) bool {
			ri := ratioOf(list[i])
			rj := ratioOf(list[j])
			if desc {
				return ri > rj
			}
			return ri < rj
		})
	}
	byRatio(trends.RisingPrice, true)
	byRatio(trends.FallingPrice, false)

	trends.HighVelocity = capList(trends.HighVelocity)
	trends.RisingPrice = capList(trends.RisingPrice)
	trends.FallingPrice = capList(trends.FallingPrice)
	return trends, nil
}

// ratioOf is the listing-to-average-sale price ratio used to order the
// rising and falling lists.
func ratioOf(item TrendItem) float64 {
	if item.AverageSale == 0 {
		return 0
	}
	return float64(item.Cheapest) / float64(item.AverageSale)
}

func capList(list []TrendItem) []TrendItem {
	if len(list) > trendListCap {
		return list[:trendListCap]
	}
	return list
}
