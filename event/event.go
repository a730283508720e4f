// Package event defines the ordered queue between the proxy pumps and the
// mapper worker. Both pumps (and the timer service) produce; the mapper is
// the only consumer, which is what lets it own the map without locks.
package event

import (
	"sync/atomic"

	"github.com/drake/mapperproxy/internal/buffer"
)

// Kind identifies the source of a bus item.
type Kind int

const (
	KindUserData Kind = iota // A mapper command typed in the user's client
	KindMudEvent             // A decoded event from the server stream
	KindTimer                // A fired timer, dispatched onto the mapper goroutine
	KindShutdown             // Tells the consumer to exit
)

// Item is the universal packet sent to the mapper worker.
type Item struct {
	Kind Kind
	Name string // MudEvent name: "movement", "name", "description", ...
	Data []byte // UserData or MudEvent payload

	// Timer fields
	TimerID   int
	Repeating bool
}

// UserData wraps client command bytes.
func UserData(data []byte) Item {
	return Item{Kind: KindUserData, Data: data}
}

// MudEvent wraps a decoded server event.
func MudEvent(name string, data []byte) Item {
	return Item{Kind: KindMudEvent, Name: name, Data: data}
}

// Timer wraps a fired timer.
func Timer(id int, repeating bool) Item {
	return Item{Kind: KindTimer, TimerID: id, Repeating: repeating}
}

// Shutdown is the sentinel that stops the consumer.
func Shutdown() Item {
	return Item{Kind: KindShutdown}
}

// Bus is the FIFO, unbounded, multi-producer single-consumer queue.
// Posting never blocks the pumps; delivery order matches arrival order.
type Bus struct {
	in    chan<- Item
	out   <-chan Item
	depth atomic.Int64
}

// NewBus creates a bus. The hard limit only matters if the consumer dies;
// the mapper normally drains far faster than a MUD can talk.
func NewBus() *Bus {
	in, raw := buffer.Unbounded[Item](128, 100000)
	b := &Bus{in: in}
	out := make(chan Item)
	b.out = out
	go func() {
		defer close(out)
		for item := range raw {
			out <- item
			b.depth.Add(-1)
		}
	}()
	return b
}

// Post enqueues an item. Safe from any goroutine.
func (b *Bus) Post(item Item) {
	b.depth.Add(1)
	b.in <- item
}

// Items returns the consumer side of the queue.
func (b *Bus) Items() <-chan Item {
	return b.out
}

// Depth approximates the number of items waiting for the consumer. Only
// the debug monitor reads it.
func (b *Bus) Depth() int {
	if d := b.depth.Load(); d > 0 {
		return int(d)
	}
	return 0
}

// Close flushes and closes the queue. Only the owner may call it, and only
// after every producer has stopped posting.
func (b *Bus) Close() {
	close(b.in)
}
