package analyzer

import (
	"testing"
	"time"

	"github.com/hward/marketboard/internal/cache"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testIndex(t *testing.T) *scope.Index {
	t.Helper()
	idx, err := scope.NewIndex([]scope.WorldSeed{
		{ID: 1, Name: "Adamant", Datacenter: 10, DatacenterName: "Crystal", Region: 100, RegionName: "West"},
		{ID: 2, Name: "Basalt", Datacenter: 10, DatacenterName: "Crystal", Region: 100, RegionName: "West"},
		{ID: 3, Name: "Cinder", Datacenter: 11, DatacenterName: "Obsidian", Region: 100, RegionName: "West"},
	})
	if err != nil {
		t.Fatalf("building index: %v", err)
	}
	return idx
}

func testAnalyzer(t *testing.T) (*Analyzer, *cache.Market) {
	t.Helper()
	idx := testIndex(t)
	market := cache.New(cache.DefaultConfig(), idx, nil)
	a := New(market, idx, DefaultTravelCosts(), nil)
	a.now = func() time.Time { return fixedNow }
	return a, market
}

func seed(t *testing.T, market *cache.Market, world model.WorldID, snap cache.Snapshot) {
	t.Helper()
	if err := market.FullResync(world, snap); err != nil {
		t.Fatalf("seeding world %d: %v", world, err)
	}
}

func soldAgo(d time.Duration) time.Time { return fixedNow.Add(-d) }

func TestBestResaleTravelCostEatsMargin(t *testing.T) {
	a, market := testAnalyzer(t)
	key := model.ListingKey{Item: 50}

	// Cheapest listing 100 on world 1, recent sale 200 on world 2. Same
	// datacenter, so travel costs 100 and the margin is exactly zero.
	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{key: {Price: 100, World: 1}},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{key: {
			{Item: 50, World: 2, PricePerUnit: 200, Quantity: 1, SoldAt: soldAgo(time.Hour)},
		}},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{MinimumProfit: 1})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("zero-profit candidate not excluded: %+v", got)
	}

	// With no minimum either: profit must be strictly positive.
	got, err = a.BestResale(scope.SelectWorld(2), ResaleOptions{})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("non-positive candidate not excluded: %+v", got)
	}
}

func TestBestResaleProfitAndRanking(t *testing.T) {
	a, market := testAnalyzer(t)
	keyA := model.ListingKey{Item: 60}
	keyB := model.ListingKey{Item: 61}

	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{
			keyA: {Price: 100, World: 1},
			keyB: {Price: 1000, World: 1},
		},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{
			// Profit 500-100-100 = 300, ROI 3.0.
			keyA: {{Item: 60, World: 2, PricePerUnit: 500, SoldAt: soldAgo(time.Hour)}},
			// Profit 2100-1000-100 = 1000, ROI 1.0.
			keyB: {{Item: 61, World: 2, PricePerUnit: 2100, SoldAt: soldAgo(2 * time.Hour)}},
		},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Item != 60 || got[1].Item != 61 {
		t.Fatalf("ROI ordering wrong: %+v", got)
	}
	if got[0].Profit != 300 || got[1].Profit != 1000 {
		t.Fatalf("profits wrong: %+v", got)
	}
	if got[0].BuyWorld != 1 || got[0].SaleWorld != 2 {
		t.Fatalf("worlds wrong: %+v", got[0])
	}
}

func TestBestResaleCrossDatacenterTravel(t *testing.T) {
	a, market := testAnalyzer(t)
	key := model.ListingKey{Item: 70}

	// Buy on world 3 (Obsidian), sell on world 1 (Crystal): travel 500.
	seed(t, market, 3, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{key: {Price: 100, World: 3}},
	})
	seed(t, market, 1, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{key: {
			{Item: 70, World: 1, PricePerUnit: 1100, SoldAt: soldAgo(time.Hour)},
		}},
	})

	got, err := a.BestResale(scope.SelectWorld(1), ResaleOptions{})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 1 || got[0].Profit != 500 {
		t.Fatalf("want single candidate with profit 500, got %+v", got)
	}
}

func TestBestResaleLiquidityFilter(t *testing.T) {
	a, market := testAnalyzer(t)
	liquid := model.ListingKey{Item: 80}
	illiquid := model.ListingKey{Item: 81}

	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{
			liquid:   {Price: 100, World: 1},
			illiquid: {Price: 100, World: 1},
		},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{
			liquid: {
				{Item: 80, World: 2, PricePerUnit: 500, SoldAt: soldAgo(24 * time.Hour)},
				{Item: 80, World: 2, PricePerUnit: 480, SoldAt: soldAgo(48 * time.Hour)},
				{Item: 80, World: 2, PricePerUnit: 490, SoldAt: soldAgo(72 * time.Hour)},
			},
			illiquid: {
				{Item: 81, World: 2, PricePerUnit: 500, SoldAt: soldAgo(24 * time.Hour)},
			},
		},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{
		FilterSale: &SoldWithin{Period: SoldWeek, MinCount: 3},
	})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 1 || got[0].Item != 80 {
		t.Fatalf("liquidity filter wrong, got %+v", got)
	}
	if got[0].RecentSales != 3 {
		t.Fatalf("want 3 recent sales, got %d", got[0].RecentSales)
	}
}

func TestBestResaleStaleSalesOutsideWindow(t *testing.T) {
	a, market := testAnalyzer(t)
	key := model.ListingKey{Item: 90}

	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{key: {Price: 100, World: 1}},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{key: {
			{Item: 90, World: 2, PricePerUnit: 500, SoldAt: soldAgo(30 * 24 * time.Hour)},
		}},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{
		FilterSale: &SoldWithin{Period: SoldWeek, MinCount: 1},
	})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("month-old sale passed a one-week filter: %+v", got)
	}
}

func TestBestResaleBuyWorldFilters(t *testing.T) {
	a, market := testAnalyzer(t)
	key := model.ListingKey{Item: 95}

	seed(t, market, 3, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{key: {Price: 100, World: 3}},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{key: {
			{Item: 95, World: 2, PricePerUnit: 5000, SoldAt: soldAgo(time.Hour)},
		}},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{FilterWorld: 1})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("world filter ignored: %+v", got)
	}

	got, err = a.BestResale(scope.SelectWorld(2), ResaleOptions{FilterDatacenter: 10})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("datacenter filter ignored: %+v", got)
	}

	got, err = a.BestResale(scope.SelectWorld(2), ResaleOptions{FilterDatacenter: 11})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 1 || got[0].BuyWorld != 3 {
		t.Fatalf("matching datacenter filter dropped candidate: %+v", got)
	}
}

func TestBestResaleZeroPriceExcluded(t *testing.T) {
	a, market := testAnalyzer(t)
	key := model.ListingKey{Item: 99}

	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{key: {Price: 0, World: 1}},
	})
	seed(t, market, 2, cache.Snapshot{
		Sales: map[model.ListingKey][]model.SaleRecord{key: {
			{Item: 99, World: 2, PricePerUnit: 500, SoldAt: soldAgo(time.Hour)},
		}},
	})

	got, err := a.BestResale(scope.SelectWorld(2), ResaleOptions{})
	if err != nil {
		t.Fatalf("BestResale: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("zero-price line produced a candidate: %+v", got)
	}
}

func TestWorldTrends(t *testing.T) {
	a, market := testAnalyzer(t)
	fast := model.ListingKey{Item: 10}
	rising := model.ListingKey{Item: 11}
	falling := model.ListingKey{Item: 12}

	fastSales := make([]model.SaleRecord, 0, 6)
	for i := 0; i < 6; i++ {
		fastSales = append(fastSales, model.SaleRecord{
			Item: 10, World: 1, PricePerUnit: 100,
			SoldAt: soldAgo(time.Duration(i+1) * time.Hour),
		})
	}

	seed(t, market, 1, cache.Snapshot{
		Cheapest: map[model.ListingKey]model.CheapestEntry{
			fast:    {Price: 100, World: 1},
			rising:  {Price: 200, World: 1}, // 2x average sale
			falling: {Price: 40, World: 1},  // 0.4x average sale
		},
		Sales: map[model.ListingKey][]model.SaleRecord{
			fast:    fastSales,
			rising:  {{Item: 11, World: 1, PricePerUnit: 100, SoldAt: soldAgo(24 * time.Hour)}},
			falling: {{Item: 12, World: 1, PricePerUnit: 100, SoldAt: soldAgo(24 * time.Hour)}},
		},
	})

	trends, err := a.WorldTrends(1)
	if err != nil {
		t.Fatalf("WorldTrends: %v", err)
	}
	if len(trends.HighVelocity) != 1 || trends.HighVelocity[0].Item != 10 {
		t.Fatalf("high velocity wrong: %+v", trends.HighVelocity)
	}
	if len(trends.RisingPrice) != 1 || trends.RisingPrice[0].Item != 11 {
		t.Fatalf("rising wrong: %+v", trends.RisingPrice)
	}
	if len(trends.FallingPrice) != 1 || trends.FallingPrice[0].Item != 12 {
		t.Fatalf("falling wrong: %+v", trends.FallingPrice)
	}
}
