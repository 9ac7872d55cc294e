package adminclient

import (
	"errors"
	"sync"
)

// ErrPublisherBroken is returned by Value after a publisher stops.
var ErrPublisherBroken = errors.New("publisher broken")

// Publisher holds the latest value of one record and forwards it to its
// subscribers. Publishing a value equal to the current one is a no-op.
// A subscriber only ever sees the most recent value it has not consumed.
type Publisher[V any] struct {
	equal func(a, b V) bool

	mu          sync.Mutex
	value       V
	err         error
	nextID      int
	subscribers map[int]chan V
}

func NewPublisher[V any](initial V, equal func(a, b V) bool) *Publisher[V] {
	return &Publisher[V]{
		equal:       equal,
		value:       initial,
		subscribers: make(map[int]chan V),
	}
}

// Subscribe returns a channel that first yields the current value, then
// each change. The channel is closed when the publisher breaks or the
// returned cancel func is called.
func (p *Publisher[V]) Subscribe() (<-chan V, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan V, 1)
	if p.err != nil {
		close(ch)
		return ch, func() {}
	}
	ch <- p.value
	id := p.nextID
	p.nextID++
	p.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subscribers[id]; ok {
				delete(p.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish replaces the current value and reports whether it changed.
func (p *Publisher[V]) Publish(value V) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil || p.equal(p.value, value) {
		return false
	}
	p.value = value
	for _, ch := range p.subscribers {
		offer(ch, value)
	}
	return true
}

// Break stops the publisher with err and closes every subscription.
func (p *Publisher[V]) Break(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = err
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
}

// Value returns the current value, or the error the publisher broke with.
func (p *Publisher[V]) Value() (V, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		var zero V
		return zero, errors.Join(ErrPublisherBroken, p.err)
	}
	return p.value, nil
}

func (p *Publisher[V]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// offer replaces any unconsumed value in ch with value. Callers hold the
// publisher lock, so they are the only sender.
func offer[V any](ch chan V, value V) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- value
}
