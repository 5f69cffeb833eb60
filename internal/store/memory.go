package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"routeday/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	items      map[string]model.PlanItem        // id -> item
	byDate     map[string][]string              // planDate -> item ids
	candidates map[string]model.CandidateResult // id -> candidate
	candByDate map[string][]string              // planDate -> candidate ids, insertion order
	subs       []model.Subscription
	deliveries map[string]*memDelivery
	dueOrder   []string
}

func NewMemory() *Memory {
	return &Memory{
		items:      map[string]model.PlanItem{},
		byDate:     map[string][]string{},
		candidates: map[string]model.CandidateResult{},
		candByDate: map[string][]string{},
		deliveries: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling state.
type memDelivery struct {
	WebhookDelivery
	LastError    string
	ResponseCode int
	LatencyMs    int
	DeliveredAt  *time.Time
	Dead         bool
}

func (m *Memory) CreatePlanItems(ctx context.Context, items []model.PlanItem) ([]model.PlanItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PlanItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Source == "" {
			it.Source = model.SourceManual
		}
		if it.Seq != nil && m.seqTakenLocked(it.PlanDate, *it.Seq, it.ID) {
			return nil, ErrSeqConflict
		}
		m.items[it.ID] = it
		m.byDate[it.PlanDate] = append(m.byDate[it.PlanDate], it.ID)
		out = append(out, it)
	}
	return out, nil
}

func (m *Memory) ListPlanItems(ctx context.Context, planDate string) ([]model.PlanItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PlanItem, 0, len(m.byDate[planDate]))
	for _, id := range m.byDate[planDate] {
		out = append(out, m.items[id])
	}
	sort.Slice(out, func(a, b int) bool {
		sa, sb := out[a].Seq, out[b].Seq
		switch {
		case sa == nil && sb == nil:
			return out[a].ID < out[b].ID
		case sa == nil:
			return false
		case sb == nil:
			return true
		case *sa != *sb:
			return *sa < *sb
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (m *Memory) SetSeqs(ctx context.Context, planDate string, moves []SeqMove, markOptimized bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range moves {
		it, ok := m.items[mv.ItemID]
		if !ok || it.PlanDate != planDate {
			return ErrNotFound
		}
		if m.seqTakenLocked(planDate, mv.Seq, mv.ItemID) {
			return ErrSeqConflict
		}
		seq := mv.Seq
		it.Seq = &seq
		if markOptimized {
			it.IsManual = true
			it.Source = model.SourceOptimized
		}
		m.items[mv.ItemID] = it
	}
	return nil
}

func (m *Memory) seqTakenLocked(planDate string, seq int, exceptID string) bool {
	for _, id := range m.byDate[planDate] {
		if id == exceptID {
			continue
		}
		if it := m.items[id]; it.Seq != nil && *it.Seq == seq {
			return true
		}
	}
	return false
}

func (m *Memory) UpdateTravelMinutes(ctx context.Context, planDate string, minutes map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mins := range minutes {
		it, ok := m.items[id]
		if !ok || it.PlanDate != planDate {
			return ErrNotFound
		}
		it.TravelMinutes = mins
		m.items[id] = it
	}
	return nil
}

func (m *Memory) SaveCandidate(ctx context.Context, c model.CandidateResult) (model.CandidateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.candidates[c.ID] = c
	m.candByDate[c.PlanDate] = append(m.candByDate[c.PlanDate], c.ID)
	return c, nil
}

func (m *Memory) GetCandidate(ctx context.Context, id string) (model.CandidateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return model.CandidateResult{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCandidates(ctx context.Context, planDate string, limit int) ([]model.CandidateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.candByDate[planDate]
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]model.CandidateResult, 0, limit)
	// Newest first.
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.candidates[ids[i]])
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{WebhookDelivery: WebhookDelivery{
		ID: id, SubscriptionID: subscriptionID, EventType: eventType,
		URL: url, Secret: secret, Payload: payload, NextAttemptAt: time.Now(),
	}}
	m.dueOrder = append(m.dueOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	now := time.Now()
	var out []WebhookDelivery
	for _, id := range m.dueOrder {
		d := m.deliveries[id]
		if d == nil || d.Dead || d.DeliveredAt != nil || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		now := time.Now()
		d.DeliveredAt = &now
	} else if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	d.Dead = true
	return nil
}
