package store

import (
	"context"
	"errors"
	"time"

	"routeday/internal/model"
)

// SeqMove assigns one plan item a new sequence slot.
type SeqMove struct {
	ItemID string
	Seq    int
}

// Store is the persistence interface used by the API server and the plan
// service.
type Store interface {
	// Plan items
	CreatePlanItems(ctx context.Context, items []model.PlanItem) ([]model.PlanItem, error)
	ListPlanItems(ctx context.Context, planDate string) ([]model.PlanItem, error)
	// SetSeqs applies moves one row at a time; a move that would collide
	// with an existing (plan_date, seq) pair fails with ErrSeqConflict and
	// leaves earlier moves in place.
	SetSeqs(ctx context.Context, planDate string, moves []SeqMove, markOptimized bool) error
	UpdateTravelMinutes(ctx context.Context, planDate string, minutes map[string]int) error

	// Candidates
	SaveCandidate(ctx context.Context, c model.CandidateResult) (model.CandidateResult, error)
	GetCandidate(ctx context.Context, id string) (model.CandidateResult, error)
	ListCandidates(ctx context.Context, planDate string, limit int) ([]model.CandidateResult, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// WebhookDelivery is one pending outbound delivery.
type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Attempts       int
	NextAttemptAt  time.Time
}

var (
	ErrNotFound    = errors.New("not found")
	ErrSeqConflict = errors.New("sequence slot already occupied")
)
