package traveltime

import (
	"context"
	"database/sql"
	"strings"
)

// PGCache persists travel-time entries in Postgres. Unlike the Redis cache
// it survives restarts, which matters for the weekend buckets that are only
// warmed once a week.
type PGCache struct {
	db *sql.DB
}

func NewPGCache(db *sql.DB) *PGCache { return &PGCache{db: db} }

func (c *PGCache) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS travel_time_cache (
  plan_date       TEXT NOT NULL,
  bucket_min      INT  NOT NULL,
  origin          TEXT NOT NULL,
  dest            TEXT NOT NULL,
  travel_minutes  INT  NOT NULL,
  distance_meters INT,
  mode            TEXT NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (plan_date, bucket_min, origin, dest)
)`)
	return err
}

func (c *PGCache) GetBatch(ctx context.Context, keys []Key) (map[Key]Entry, error) {
	out := make(map[Key]Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	// All keys in one batch share the same plan date and bucket, so fetch by
	// pair id within that bucket in a single round trip.
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.Origin + "|" + k.Dest
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT origin, dest, travel_minutes, distance_meters, mode
FROM travel_time_cache
WHERE plan_date = $1 AND bucket_min = $2 AND origin || '|' || dest = ANY($3::text[])`,
		keys[0].PlanDate, keys[0].BucketMin, pgTextArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k Key
		var e Entry
		var dist sql.NullInt64
		k.PlanDate = keys[0].PlanDate
		k.BucketMin = keys[0].BucketMin
		if err := rows.Scan(&k.Origin, &k.Dest, &e.TravelMinutes, &dist, &e.Mode); err != nil {
			return nil, err
		}
		if dist.Valid {
			v := int(dist.Int64)
			e.DistanceMeters = &v
		}
		out[k] = e
	}
	return out, rows.Err()
}

func (c *PGCache) PutBatch(ctx context.Context, entries map[Key]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, e := range entries {
		var dist any
		if e.DistanceMeters != nil {
			dist = *e.DistanceMeters
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO travel_time_cache (plan_date, bucket_min, origin, dest, travel_minutes, distance_meters, mode, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (plan_date, bucket_min, origin, dest)
DO UPDATE SET travel_minutes = EXCLUDED.travel_minutes, distance_meters = EXCLUDED.distance_meters,
  mode = EXCLUDED.mode, updated_at = now()`,
			k.PlanDate, k.BucketMin, k.Origin, k.Dest, e.TravelMinutes, dist, e.Mode); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// pgTextArray renders ids as a Postgres text[] literal.
func pgTextArray(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		id = strings.ReplaceAll(id, `\`, `\\`)
		id = strings.ReplaceAll(id, `"`, `\"`)
		quoted[i] = `"` + id + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
