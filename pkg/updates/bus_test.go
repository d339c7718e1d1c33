package updates

import (
	"context"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	b := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := b.Subscribe(ctx, 4)
	sub2 := b.Subscribe(ctx, 4)

	// Give the run loop a moment to register both listeners.
	time.Sleep(10 * time.Millisecond)

	b.Publish(Update{Source: "ref", Measurements: 10})

	for i, sub := range []<-chan Update{sub1, sub2} {
		select {
		case u := <-sub:
			if u.Source != "ref" || u.Measurements != 10 {
				t.Fatalf("subscriber %d got unexpected update: %+v", i, u)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the update", i)
		}
	}
}

func TestBusUnsubscribeOnContextEnd(t *testing.T) {
	t.Parallel()

	b := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, 1)
	time.Sleep(10 * time.Millisecond)

	cancel()

	// The channel closes once the context ends; draining must finish.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}
