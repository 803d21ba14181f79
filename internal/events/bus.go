package events

import "sync"

// busCapacity bounds the per-request event channel. Overflow drops
// heartbeat events first, since they carry no information the client
// cannot reconstruct from the next real event.
const busCapacity = 64

// Bus is the per-request bounded event channel consumed by the stream
// writer (HTTP handler) and fed by the orchestrator. One Bus is created per
// request and closed once the terminal event has been sent.
type Bus struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func NewBus() *Bus {
	return &Bus{ch: make(chan Event, busCapacity)}
}

// Publish sends e, dropping a pending heartbeat to make room if the channel
// is full rather than blocking the orchestrator on a slow reader. Terminal
// events are never dropped: they evict buffered events until they fit, so
// exactly one final/error always reaches the reader.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- e:
		return
	default:
	}

	if e.Terminal() {
		for {
			select {
			case b.ch <- e:
				return
			default:
			}
			select {
			case <-b.ch:
			default:
			}
		}
	}

	if e.Name != NameHeartbeat {
		select {
		case dropped := <-b.ch:
			if dropped.Name != NameHeartbeat {
				// Put back anything that wasn't a heartbeat; best effort
				// non-blocking re-send, drop it if the buffer refilled.
				select {
				case b.ch <- dropped:
				default:
				}
			}
		default:
		}
	}

	select {
	case b.ch <- e:
	default:
		// Channel still full of non-heartbeat events under heavy
		// back-pressure; drop e rather than block.
	}
}

// Events returns the channel for range-based consumption by the stream
// writer.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the channel after the terminal event has been published.
// Safe to call once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
