// Package updates fans merge notifications out to stream subscribers
// without locks. Channels keep the orchestrator decoupled from however
// many map clients are listening, so a slow client never stalls a merge.
package updates

import "context"

// Update announces that one source's entities were replaced in the
// merged view, or that its fetch failed.
type Update struct {
	CycleID      string `json:"cycleId"`
	Source       string `json:"source"`
	Measurements int    `json:"measurements"`
	Reports      int    `json:"reports"`
	Err          string `json:"error,omitempty"`
}

// Bus broadcasts updates to subscribed listeners. A dedicated goroutine
// owns the listener set; subscribe and unsubscribe are messages too.
type Bus struct {
	publish     chan Update
	subscribe   chan chan Update
	unsubscribe chan chan Update
}

// NewBus constructs a broadcaster. The goroutine is tied to the process
// lifetime and relies on caller contexts to prune subscribers.
func NewBus(buffer int) *Bus {
	b := &Bus{
		publish:     make(chan Update, buffer),
		subscribe:   make(chan chan Update),
		unsubscribe: make(chan chan Update),
	}
	go b.run()
	return b
}

// Publish forwards an update to all listeners. Non-blocking so an absent
// or saturated listener never delays the publisher.
func (b *Bus) Publish(u Update) {
	select {
	case b.publish <- u:
	default:
	}
}

// Subscribe registers a listener. The returned channel closes when the
// provided context ends.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan Update {
	ch := make(chan Update, buffer)
	b.subscribe <- ch

	go func() {
		<-ctx.Done()
		b.unsubscribe <- ch
		close(ch)
	}()

	return ch
}

func (b *Bus) run() {
	listeners := make(map[chan Update]struct{})

	for {
		select {
		case ch := <-b.subscribe:
			listeners[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(listeners, ch)
		case u := <-b.publish:
			for ch := range listeners {
				select {
				case ch <- u:
				default:
				}
			}
		}
	}
}
