package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
	Subscribe(planDate string) chan SSEEvent
	Unsubscribe(planDate string, ch chan SSEEvent)
	Publish(planDate string, evt SSEEvent)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so events reach
// subscribers on every API instance.
type RedisBroker struct {
	rdb *redis.Client
	mu  sync.Mutex
	ps  map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, ps: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(planDate string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(planDate))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(planDate string, ch chan SSEEvent) {
	b.mu.Lock()
	ps := b.ps[ch]
	delete(b.ps, ch)
	b.mu.Unlock()
	// Closing the PubSub ends the fanout goroutine, which closes ch.
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(planDate string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(planDate), data).Err()
}

func (b *RedisBroker) chanName(planDate string) string { return "plan:" + planDate }
