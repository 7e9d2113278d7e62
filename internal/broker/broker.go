// Package broker implements the process-wide, in-memory event broker: a
// per-run keyed publish/subscribe fan-out with bounded per-subscriber
// buffering. It follows the subscriber-map-under-mutex shape of a typical
// in-process pub/sub broker, adapted from database-notification fan-out to
// direct in-process publish, and from drop-newest to the drop-oldest
// semantics this spec requires.
package broker

import (
	"sync"

	"github.com/loomrun/loom/internal/model"
)

// bufferSize is the per-subscriber channel capacity; beyond it, Publish
// drops the oldest buffered event rather than blocking.
const bufferSize = 256

// Broker fans out events to subscribers, keyed by run id.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu          sync.Mutex
	subscribers map[chan model.Event]struct{}
	closed      bool
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscribe returns a channel of events for runID and an unsubscribe
// function that must be called on every exit path of the caller. The
// channel is closed when the caller unsubscribes or when Close(runID) is
// called following the run's terminal transition.
func (b *Broker) Subscribe(runID string) (<-chan model.Event, func()) {
	t := b.topicFor(runID)

	ch := make(chan model.Event, bufferSize)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subscribers[ch]; ok {
				delete(t.subscribers, ch)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish delivers evt to every current subscriber of runID. Never blocks:
// a subscriber whose buffer is full has its oldest buffered event dropped
// to make room for evt.
func (b *Broker) Publish(runID string, evt model.Event) {
	t := b.topicFor(runID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for ch := range t.subscribers {
		select {
		case ch <- evt:
		default:
			// Buffer full: drop the oldest queued event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
				// Another goroutine drained/filled it between the two
				// selects; the event is lost, which is within the
				// best-effort delivery contract.
			}
		}
	}
}

// Close marks runID's topic terminal: every current subscriber's channel is
// closed and future Subscribe calls receive an already-closed channel. Call
// this once the run reaches a terminal status.
func (b *Broker) Close(runID string) {
	t := b.topicFor(runID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, ch)
	}
}

func (b *Broker) topicFor(runID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subscribers: make(map[chan model.Event]struct{})}
		b.topics[runID] = t
	}
	return t
}

// FormatSSE frames evt as a Server-Sent Events `data:` line, ready for an
// external HTTP handler to write verbatim to a response body.
func FormatSSE(evt model.Event, marshal func(any) ([]byte, error)) ([]byte, error) {
	data, err := marshal(evt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}
