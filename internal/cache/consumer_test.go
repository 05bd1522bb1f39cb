package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hward/marketboard/internal/bus"
	"github.com/hward/marketboard/internal/model"
	"github.com/hward/marketboard/internal/scope"
)

func TestConsumerAppliesListingEvents(t *testing.T) {
	m := New(DefaultConfig(), testIndex(t), nil)
	hub := bus.NewHub(bus.DefaultHubConfig())
	defer hub.Close()

	consumer := NewConsumer(m, hub, nil, nil)
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		consumer.Stop(ctx)
	}()

	hub.Listings.Publish(bus.ListingsChanged{
		World: 1,
		Item:  50,
		Listings: []model.Listing{
			{Item: 50, World: 1, PricePerUnit: 100, Quantity: 1},
			{Item: 50, World: 1, PricePerUnit: 90, Quantity: 2},
		},
	})

	key := model.ListingKey{Item: 50, HQ: false}
	deadline := time.Now().Add(2 * time.Second)
	for {
		view, err := m.ReadCheapest(scope.SelectWorld(1))
		if err != nil {
			t.Fatalf("ReadCheapest: %v", err)
		}
		if entry, ok := view[key]; ok {
			if entry.Price != 90 || entry.World != 1 {
				t.Fatalf("entry = %+v, want {90 1}", entry)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("listing event never reached the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumerRequestsResyncOnLag(t *testing.T) {
	m := New(DefaultConfig(), testIndex(t), nil)
	hub := bus.NewHub(bus.HubConfig{ListingsCapacity: 2, SalesCapacity: 2})
	defer hub.Close()

	requested := make(chan string, 1)
	consumer := NewConsumer(m, hub, func(reason string) {
		select {
		case requested <- reason:
		default:
		}
	}, nil)

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		consumer.Stop(ctx)
	}()

	// Flood a two-slot ring faster than the consumer can clone shards.
	for i := 0; i < 10000; i++ {
		hub.Listings.Publish(bus.ListingsChanged{World: 1, Item: model.ItemID(i%100 + 1)})
	}

	select {
	case <-requested:
	case <-time.After(2 * time.Second):
		t.Fatal("resync was never requested despite dropped events")
	}
}
