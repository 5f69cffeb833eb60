package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"routeday/internal/store"
)

// Event types emitted by the planning API.
const (
	EventCandidateSaved = "candidate.saved"
	EventPlanApplied    = "plan.applied"
	EventPlanNormalized = "plan.normalized"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues one delivery per subscription matching the event type.
// Failures are swallowed; webhook fan-out never blocks the request path.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body)
	}
}
