package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribeOrder(t *testing.T) {
	topic := NewTopic[int](10)
	sub := topic.Subscribe()

	for i := 0; i < 5; i++ {
		topic.Publish(i)
	}

	for i := 0; i < 5; i++ {
		ev, lag, ok := sub.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() empty at %d", i)
		}
		if ev != i {
			t.Errorf("received %d, want %d", ev, i)
		}
		if lag != 0 {
			t.Errorf("lag = %d, want 0", lag)
		}
	}

	if _, _, ok := sub.TryReceive(); ok {
		t.Error("TryReceive() on drained subscription returned ok")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	const capacity = 4
	topic := NewTopic[int](capacity)
	slow := topic.Subscribe()
	fast := topic.Subscribe()

	// Drain fast concurrently so only slow overflows.
	var fastGot []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for len(fastGot) < 10 {
			ev, lag, err := fast.Receive(ctx)
			if err != nil {
				t.Errorf("fast Receive: %v", err)
				return
			}
			if lag != 0 {
				t.Errorf("fast subscriber lagged by %d", lag)
			}
			fastGot = append(fastGot, ev)
		}
	}()

	for i := 0; i < 10; i++ {
		topic.Publish(i)
		// Give the fast consumer a chance to keep up.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	// Slow subscriber sees exactly the capacity most recent events, in
	// publish order, with the gap reported once.
	ev, lag, ok := slow.TryReceive()
	if !ok {
		t.Fatal("slow TryReceive() empty")
	}
	if ev != 10-capacity {
		t.Errorf("first surviving event = %d, want %d", ev, 10-capacity)
	}
	if lag != 10-capacity {
		t.Errorf("lag = %d, want %d", lag, 10-capacity)
	}
	for want := 10 - capacity + 1; want < 10; want++ {
		ev, lag, ok := slow.TryReceive()
		if !ok {
			t.Fatalf("slow TryReceive() empty at %d", want)
		}
		if ev != want {
			t.Errorf("received %d, want %d", ev, want)
		}
		if lag != 0 {
			t.Errorf("lag = %d after gap already reported", lag)
		}
	}

	// Fast subscriber saw everything.
	for i, ev := range fastGot {
		if ev != i {
			t.Errorf("fast received %d at %d", ev, i)
		}
	}
}

func TestFanOutIndependentCopies(t *testing.T) {
	topic := NewTopic[string](8)
	a := topic.Subscribe()
	b := topic.Subscribe()

	topic.Publish("x")
	topic.Publish("y")

	for _, sub := range []*Subscription[string]{a, b} {
		if got, _, ok := sub.TryReceive(); !ok || got != "x" {
			t.Errorf("first event = %q ok=%v, want x", got, ok)
		}
		if got, _, ok := sub.TryReceive(); !ok || got != "y" {
			t.Errorf("second event = %q ok=%v, want y", got, ok)
		}
	}
}

func TestReceiveBlocksUntilPublish(t *testing.T) {
	topic := NewTopic[int](4)
	sub := topic.Subscribe()

	got := make(chan int, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ev, _, err := sub.Receive(ctx)
		if err != nil {
			t.Errorf("Receive: %v", err)
			return
		}
		got <- ev
	}()

	time.Sleep(10 * time.Millisecond)
	topic.Publish(42)

	select {
	case ev := <-got:
		if ev != 42 {
			t.Errorf("received %d, want 42", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on publish")
	}
}

func TestReceiveContextCancel(t *testing.T) {
	topic := NewTopic[int](4)
	sub := topic.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := sub.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive err = %v, want context.Canceled", err)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	topic := NewTopic[int](4)
	sub := topic.Subscribe()

	topic.Publish(1)
	topic.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, _, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive buffered after close: %v", err)
	}
	if ev != 1 {
		t.Errorf("received %d, want 1", ev)
	}

	if _, _, err := sub.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive err = %v, want ErrClosed", err)
	}
}

func TestUnsubscribedDoesNotReceive(t *testing.T) {
	topic := NewTopic[int](4)
	sub := topic.Subscribe()
	sub.Close()

	topic.Publish(7)

	if _, _, ok := sub.TryReceive(); ok {
		t.Error("closed subscription received an event")
	}
}

func TestConcurrentPublishers(t *testing.T) {
	topic := NewTopic[int](1024)
	sub := topic.Subscribe()

	const publishers = 8
	const perPublisher = 100

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				topic.Publish(i)
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		_, lag, ok := sub.TryReceive()
		if !ok {
			break
		}
		if lag != 0 {
			t.Errorf("unexpected lag %d with capacity headroom", lag)
		}
		total++
	}
	if total != publishers*perPublisher {
		t.Errorf("received %d events, want %d", total, publishers*perPublisher)
	}
}
