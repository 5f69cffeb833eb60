package api

import (
	"sync"
)

// SSEEvent is a plan-scoped event fanned out to SSE and WebSocket clients.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // planDate -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(planDate string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[planDate] == nil {
		b.subs[planDate] = map[chan SSEEvent]struct{}{}
	}
	b.subs[planDate][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(planDate string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[planDate]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, planDate)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(planDate string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[planDate] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
