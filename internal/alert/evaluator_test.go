package alert

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/bus"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

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

func startEvaluator(t *testing.T) (*Evaluator, *bus.Hub) {
	t.Helper()
	hub := bus.NewHub(bus.DefaultHubConfig())
	ev := NewEvaluator(testIndex(t), hub, nil)
	if err := ev.Start(context.Background()); err != nil {
		t.Fatalf("starting evaluator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := ev.Stop(ctx); err != nil {
			t.Errorf("stopping evaluator: %v", err)
		}
		hub.Close()
	})
	return ev, hub
}

func listing(item model.ItemID, world model.WorldID, price int64, hq bool) model.Listing {
	return model.Listing{
		ID:           uuid.New(),
		Item:         item,
		World:        world,
		PricePerUnit: price,
		Quantity:     1,
		HQ:           hq,
		RetainerID:   uuid.New(),
		RetainerName: "Vendor",
		ListedAt:     time.Now().UTC(),
	}
}

func receiveAlert(t *testing.T, sub *bus.Subscription[bus.AlertFired]) bus.AlertFired {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fired, _, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("waiting for alert: %v", err)
	}
	return fired
}

func expectNoAlert(t *testing.T, sub *bus.Subscription[bus.AlertFired]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if fired, _, err := sub.Receive(ctx); err == nil {
		t.Fatalf("unexpected alert fired: %+v", fired)
	}
}

func TestPriceAlertFiresOncePerBatch(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Alerts.Subscribe()
	defer sub.Close()

	id, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(1), 95, AnyQuality)
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{
			listing(50, 1, 100, false),
			listing(50, 1, 90, false),
		},
	})

	fired := receiveAlert(t, sub)
	if fired.AlertID != id || fired.Price != 90 || fired.World != 1 {
		t.Fatalf("wrong alert: %+v", fired)
	}
	// Nothing further from the same batch.
	expectNoAlert(t, sub)
}

func TestPriceAlertThresholdIsInclusive(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Alerts.Subscribe()
	defer sub.Close()

	id, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(1), 95, AnyQuality)
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	// A listing at exactly the threshold fires.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{listing(50, 1, 95, false)},
	})
	fired := receiveAlert(t, sub)
	if fired.AlertID != id || fired.Price != 95 {
		t.Fatalf("wrong alert at threshold: %+v", fired)
	}

	// One unit above does not.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{listing(50, 1, 96, false)},
	})
	expectNoAlert(t, sub)
}

func TestPriceAlertScopeRestriction(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Alerts.Subscribe()
	defer sub.Close()

	if _, err := ev.RegisterPrice("hana", 50, scope.SelectDatacenter(10), 95, AnyQuality); err != nil {
		t.Fatalf("registering: %v", err)
	}

	// World 3 is in another datacenter.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 3, Item: 50,
		Listings: []model.Listing{listing(50, 3, 10, false)},
	})
	expectNoAlert(t, sub)

	// World 2 is inside the alert's datacenter.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 2, Item: 50,
		Listings: []model.Listing{listing(50, 2, 10, false)},
	})
	fired := receiveAlert(t, sub)
	if fired.World != 2 || fired.Price != 10 {
		t.Fatalf("wrong alert: %+v", fired)
	}
}

func TestPriceAlertQualityFilter(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Alerts.Subscribe()
	defer sub.Close()

	if _, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(1), 95, HighOnly); err != nil {
		t.Fatalf("registering: %v", err)
	}

	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{
			listing(50, 1, 10, false),
			listing(50, 1, 80, true),
		},
	})
	fired := receiveAlert(t, sub)
	if !fired.HQ || fired.Price != 80 {
		t.Fatalf("quality filter wrong: %+v", fired)
	}
}

func TestPriceAlertRemove(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Alerts.Subscribe()
	defer sub.Close()

	id, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(1), 95, AnyQuality)
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	if err := ev.RemovePrice(id); err != nil {
		t.Fatalf("removing: %v", err)
	}
	if err := ev.RemovePrice(id); err != ErrNotFound {
		t.Fatalf("want ErrNotFound on double remove, got %v", err)
	}

	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{listing(50, 1, 10, false)},
	})
	expectNoAlert(t, sub)
}

func TestRegisterPriceValidation(t *testing.T) {
	ev, _ := startEvaluator(t)

	if _, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(1), 0, AnyQuality); err != ErrInvalidThreshold {
		t.Fatalf("want ErrInvalidThreshold, got %v", err)
	}
	if _, err := ev.RegisterPrice("hana", 50, scope.SelectWorld(99), 10, AnyQuality); err == nil {
		t.Fatal("want error for unknown scope")
	}
}

func TestUndercutDetection(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Undercuts.Subscribe()
	defer sub.Close()
	retainers := hub.Retainers.Subscribe()
	defer retainers.Close()

	mine := uuid.New()
	id, err := ev.RegisterUndercut("hana", 10, map[uuid.UUID]string{mine: "Mercante"})
	if err != nil {
		t.Fatalf("registering: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	change, _, err := retainers.Receive(ctx)
	if err != nil || change.RetainerID != mine || change.Removed {
		t.Fatalf("retainer announcement wrong: %+v err=%v", change, err)
	}

	own := listing(50, 1, 100, false)
	own.RetainerID = mine
	own.RetainerName = "Mercante"

	// Competitor at 95 is inside the 10% margin floor of 90: no event.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{own, listing(50, 1, 95, false)},
	})
	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	if got, _, err := sub.Receive(short); err == nil {
		cancelShort()
		t.Fatalf("margin ignored: %+v", got)
	}
	cancelShort()

	// Competitor at 80 is below the floor: undercut by 20.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{own, listing(50, 1, 80, false)},
	})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	got, _, err := sub.Receive(ctx2)
	if err != nil {
		t.Fatalf("waiting for undercut: %v", err)
	}
	if got.AlertID != id || len(got.Retainers) != 1 {
		t.Fatalf("wrong undercut event: %+v", got)
	}
	r := got.Retainers[0]
	if r.ID != mine || r.Name != "Mercante" || r.Undercut != 20 {
		t.Fatalf("wrong retainer entry: %+v", r)
	}

	if err := ev.RemoveUndercut(id); err != nil {
		t.Fatalf("removing: %v", err)
	}
	change, _, err = retainers.Receive(ctx2)
	if err != nil || !change.Removed {
		t.Fatalf("retainer removal not announced: %+v err=%v", change, err)
	}
}

func TestUndercutIgnoresOtherQualityLine(t *testing.T) {
	ev, hub := startEvaluator(t)
	sub := hub.Undercuts.Subscribe()
	defer sub.Close()

	mine := uuid.New()
	if _, err := ev.RegisterUndercut("hana", 0, map[uuid.UUID]string{mine: "Mercante"}); err != nil {
		t.Fatalf("registering: %v", err)
	}

	own := listing(50, 1, 100, true)
	own.RetainerID = mine

	// The cheaper listing is on the normal-quality line; the HQ line is not
	// undercut.
	hub.Listings.Publish(bus.ListingsChanged{
		World: 1, Item: 50,
		Listings: []model.Listing{own, listing(50, 1, 10, false)},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if got, _, err := sub.Receive(ctx); err == nil {
		t.Fatalf("cross-quality undercut fired: %+v", got)
	}
}
