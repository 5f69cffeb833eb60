package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeday/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// DB exposes the underlying handle so other components (the travel-time
// cache) can share the pool.
func (p *Postgres) DB() *sql.DB { return p.db }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// EnsureSchema creates the tables if they do not exist. The partial unique
// index on (plan_date, seq) enforces one item per slot while leaving
// unsequenced rows unconstrained.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plan_items (
  id TEXT PRIMARY KEY,
  plan_date TEXT NOT NULL,
  client_id TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  seq INT,
  locked BOOLEAN NOT NULL DEFAULT FALSE,
  is_manual BOOLEAN NOT NULL DEFAULT FALSE,
  service_minutes_base INT NOT NULL DEFAULT 0,
  service_minutes_override INT,
  travel_minutes INT NOT NULL DEFAULT 0,
  source TEXT NOT NULL DEFAULT 'MANUAL'
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS plan_items_date_seq ON plan_items (plan_date, seq) WHERE seq IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS candidates (
  id TEXT PRIMARY KEY,
  plan_date TEXT NOT NULL,
  client_order JSONB NOT NULL,
  input_snapshot JSONB,
  meta JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS candidates_date ON candidates (plan_date, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL,
  events JSONB NOT NULL,
  secret TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  url TEXT NOT NULL,
  secret TEXT NOT NULL DEFAULT '',
  payload JSONB,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  delivered_at TIMESTAMPTZ,
  dead BOOLEAN NOT NULL DEFAULT FALSE,
  last_error TEXT NOT NULL DEFAULT '',
  response_code INT NOT NULL DEFAULT 0,
  latency_ms INT NOT NULL DEFAULT 0
)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreatePlanItems(ctx context.Context, items []model.PlanItem) ([]model.PlanItem, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]model.PlanItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Source == "" {
			it.Source = model.SourceManual
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO plan_items
  (id, plan_date, client_id, lat, lng, seq, locked, is_manual, service_minutes_base, service_minutes_override, travel_minutes, source)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			it.ID, it.PlanDate, it.ClientID, it.Lat, it.Lng, nullableInt(it.Seq), it.Locked, it.IsManual,
			it.ServiceMinutesBase, nullableInt(it.ServiceMinutesOverride), it.TravelMinutes, it.Source)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrSeqConflict
			}
			return nil, err
		}
		out = append(out, it)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ListPlanItems(ctx context.Context, planDate string) ([]model.PlanItem, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, plan_date, client_id, lat, lng, seq, locked, is_manual,
  service_minutes_base, service_minutes_override, travel_minutes, source
  FROM plan_items WHERE plan_date=$1 ORDER BY seq NULLS LAST, id`, planDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanItem{}
	for rows.Next() {
		var it model.PlanItem
		var seq, override sql.NullInt64
		if err := rows.Scan(&it.ID, &it.PlanDate, &it.ClientID, &it.Lat, &it.Lng, &seq, &it.Locked, &it.IsManual,
			&it.ServiceMinutesBase, &override, &it.TravelMinutes, &it.Source); err != nil {
			return nil, err
		}
		if seq.Valid {
			v := int(seq.Int64)
			it.Seq = &v
		}
		if override.Valid {
			v := int(override.Int64)
			it.ServiceMinutesOverride = &v
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SetSeqs applies each move as its own statement so a collision surfaces at
// the exact row, mirroring the per-row updates the two-phase rewrite relies
// on. It deliberately does not wrap the moves in a transaction.
func (p *Postgres) SetSeqs(ctx context.Context, planDate string, moves []SeqMove, markOptimized bool) error {
	for _, mv := range moves {
		var res sql.Result
		var err error
		if markOptimized {
			res, err = p.db.ExecContext(ctx, `UPDATE plan_items SET seq=$1, is_manual=TRUE, source=$4 WHERE id=$2 AND plan_date=$3`,
				mv.Seq, mv.ItemID, planDate, model.SourceOptimized)
		} else {
			res, err = p.db.ExecContext(ctx, `UPDATE plan_items SET seq=$1 WHERE id=$2 AND plan_date=$3`,
				mv.Seq, mv.ItemID, planDate)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return ErrSeqConflict
			}
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) UpdateTravelMinutes(ctx context.Context, planDate string, minutes map[string]int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for id, mins := range minutes {
		res, err := tx.ExecContext(ctx, `UPDATE plan_items SET travel_minutes=$1 WHERE id=$2 AND plan_date=$3`, mins, id, planDate)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit()
}

func (p *Postgres) SaveCandidate(ctx context.Context, c model.CandidateResult) (model.CandidateResult, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	order, err := json.Marshal(c.ClientOrder)
	if err != nil {
		return model.CandidateResult{}, err
	}
	meta, err := json.Marshal(c.Meta)
	if err != nil {
		return model.CandidateResult{}, err
	}
	snapshot := []byte(c.InputSnapshot)
	if len(snapshot) == 0 {
		snapshot = []byte("null")
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO candidates (id, plan_date, client_order, input_snapshot, meta, created_at)
  VALUES ($1,$2,$3,$4,$5,$6)`, c.ID, c.PlanDate, order, snapshot, meta, c.CreatedAt)
	if err != nil {
		return model.CandidateResult{}, err
	}
	return c, nil
}

func (p *Postgres) GetCandidate(ctx context.Context, id string) (model.CandidateResult, error) {
	var c model.CandidateResult
	var order, meta, snapshot []byte
	err := p.db.QueryRowContext(ctx, `SELECT id, plan_date, client_order, input_snapshot, meta, created_at
  FROM candidates WHERE id=$1`, id).Scan(&c.ID, &c.PlanDate, &order, &snapshot, &meta, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(order, &c.ClientOrder); err != nil {
		return c, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Meta)
	}
	c.InputSnapshot = json.RawMessage(snapshot)
	return c, nil
}

func (p *Postgres) ListCandidates(ctx context.Context, planDate string, limit int) ([]model.CandidateResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, plan_date, client_order, input_snapshot, meta, created_at
  FROM candidates WHERE plan_date=$1 ORDER BY created_at DESC, id LIMIT $2`, planDate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CandidateResult{}
	for rows.Next() {
		var c model.CandidateResult
		var order, meta, snapshot []byte
		if err := rows.Scan(&c.ID, &c.PlanDate, &order, &snapshot, &meta, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(order, &c.ClientOrder); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &c.Meta)
		}
		c.InputSnapshot = json.RawMessage(snapshot)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	events, err := json.Marshal(req.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`,
		sub.ID, sub.URL, events, sub.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, url, events, secret FROM subscriptions
  WHERE events @> to_jsonb($1::text) OR events @> '"*"'::jsonb`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(events, &s.Events); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload)
  VALUES ($1,$2,$3,$4,$5,$6)`, id, subscriptionID, eventType, url, secret, payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, subscription_id, event_type, url, secret, payload, attempts, next_attempt_at
  FROM webhook_deliveries
  WHERE delivered_at IS NULL AND NOT dead AND next_attempt_at <= now()
  ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Attempts, &d.NextAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	var err error
	if success {
		_, err = p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, delivered_at=now(),
  last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`, id, lastError, responseCode, latencyMs)
	} else {
		var next any
		if nextAttemptAt != nil {
			next = *nextAttemptAt
		}
		_, err = p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1,
  next_attempt_at=COALESCE($2, next_attempt_at), last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, next, lastError, responseCode, latencyMs)
	}
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, dead=TRUE,
  last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
