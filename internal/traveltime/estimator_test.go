package traveltime

import (
	"context"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"routeday/internal/config"
	"routeday/internal/fault"
	"routeday/internal/model"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	secs  int
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Route(ctx context.Context, origin, dest model.GeoPoint, departure time.Time) (Leg, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return Leg{}, f.err
	}
	return Leg{DurationSeconds: f.secs, DistanceMeters: 5000}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testStops() []model.Stop {
	return []model.Stop{
		{ID: "a", Lat: 37.50, Lng: 127.03},
		{ID: "b", Lat: 37.52, Lng: 127.05},
	}
}

func TestComputeMatrixUsesProviderThenCache(t *testing.T) {
	fp := &fakeProvider{secs: 600}
	est := NewEstimator(fp, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	res, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	if res.Matrix[0][1] != 10 || res.Matrix[1][0] != 10 {
		t.Fatalf("matrix = %v, want 10 both ways", res.Matrix)
	}
	if res.DayType != DayWeekday {
		t.Fatalf("dayType = %q, want weekday", res.DayType)
	}
	if res.ProviderCalls != 2 || fp.callCount() != 2 {
		t.Fatalf("provider calls = %d/%d, want 2", res.ProviderCalls, fp.callCount())
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %+v", res.Failures)
	}

	res2, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("second ComputeMatrix: %v", err)
	}
	if res2.CacheHits != 2 {
		t.Fatalf("cacheHits = %d, want 2", res2.CacheHits)
	}
	if fp.callCount() != 2 {
		t.Fatalf("provider called again on cached pairs: %d", fp.callCount())
	}
}

func TestComputeMatrixCacheIsPerDate(t *testing.T) {
	fp := &fakeProvider{secs: 600}
	est := NewEstimator(fp, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	if _, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00"); err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	// 2026-09-08 is the same weekday class but a different date; its pairs
	// must not hit the first date's entries.
	res, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-08", "09:00")
	if err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	if res.CacheHits != 0 {
		t.Fatalf("cacheHits = %d, want 0 across dates", res.CacheHits)
	}
	if fp.callCount() != 4 {
		t.Fatalf("provider calls = %d, want 4", fp.callCount())
	}
}

func TestComputeMatrixCachesDistance(t *testing.T) {
	fp := &fakeProvider{secs: 600}
	cache := NewMemoryCache()
	est := NewEstimator(fp, cache, config.Default(), log.New(&strings.Builder{}, "", 0))

	if _, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00"); err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}

	// 09:00 weekday departure lands in the 540-minute bucket.
	k := Key{PlanDate: "2026-09-01", BucketMin: 540, Origin: "a", Dest: "b"}
	got, err := cache.GetBatch(context.Background(), []Key{k})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	ent, ok := got[k]
	if !ok {
		t.Fatalf("entry for %v not cached", k)
	}
	if ent.Mode != ModeProvider {
		t.Fatalf("mode = %q, want provider", ent.Mode)
	}
	if ent.DistanceMeters == nil || *ent.DistanceMeters != 5000 {
		t.Fatalf("distanceMeters = %v, want 5000", ent.DistanceMeters)
	}
}

func TestComputeMatrixFallbackHasNoDistance(t *testing.T) {
	cache := NewMemoryCache()
	est := NewEstimator(nil, cache, config.Default(), log.New(&strings.Builder{}, "", 0))

	if _, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00"); err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	k := Key{PlanDate: "2026-09-01", BucketMin: 540, Origin: "a", Dest: "b"}
	got, err := cache.GetBatch(context.Background(), []Key{k})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if ent := got[k]; ent.Mode != ModeFallback || ent.DistanceMeters != nil {
		t.Fatalf("entry = %+v, want fallback with nil distance", ent)
	}
}

func TestComputeMatrixSkipsSameCoord(t *testing.T) {
	stops := []model.Stop{
		{ID: "a", Lat: 37.50, Lng: 127.03},
		{ID: "b", Lat: 37.50, Lng: 127.03},
	}
	fp := &fakeProvider{secs: 600}
	est := NewEstimator(fp, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	res, err := est.ComputeMatrix(context.Background(), stops, "2026-09-01", "")
	if err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	if res.SkippedSameCoord != 2 {
		t.Fatalf("skippedSameCoord = %d, want 2", res.SkippedSameCoord)
	}
	if res.Matrix[0][1] != 0 || res.Matrix[1][0] != 0 {
		t.Fatalf("same-coord pairs must be zero minutes, got %v", res.Matrix)
	}
	if fp.callCount() != 0 {
		t.Fatalf("provider consulted for same-coord pair")
	}
}

func TestComputeMatrixDegradesProviderErrors(t *testing.T) {
	fp := &fakeProvider{err: &ProviderError{Reason: "fake_http_500"}}
	est := NewEstimator(fp, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	res, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("per-pair failure must not fail the matrix: %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(res.Failures))
	}
	// Failure order is deterministic regardless of goroutine timing.
	if res.Failures[0].Origin != "a" || res.Failures[1].Origin != "b" {
		t.Fatalf("failures not sorted: %+v", res.Failures)
	}
	for _, f := range res.Failures {
		if f.Reason != "fake_http_500" {
			t.Fatalf("reason = %q, want fake_http_500", f.Reason)
		}
		if f.Mode != ModeFallback {
			t.Fatalf("mode = %q, want fallback", f.Mode)
		}
		if f.UsedMinutes <= 0 {
			t.Fatalf("fallback minutes not recorded: %+v", f)
		}
	}
	if res.Matrix[0][1] <= 0 {
		t.Fatalf("failed pair must still get a finite estimate, got %d", res.Matrix[0][1])
	}

	// Fallback results are cached too, so the broken provider is not
	// hammered on the next build.
	res2, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("second ComputeMatrix: %v", err)
	}
	if res2.CacheHits != 2 || len(res2.Failures) != 0 {
		t.Fatalf("cacheHits = %d failures = %d, want 2/0", res2.CacheHits, len(res2.Failures))
	}
}

func TestComputeMatrixRejectsImplausibleDurations(t *testing.T) {
	pol := config.Default()
	fp := &fakeProvider{secs: pol.CeilingMinutes * 60}
	est := NewEstimator(fp, NewMemoryCache(), pol, log.New(&strings.Builder{}, "", 0))

	res, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(res.Failures))
	}
	if res.Failures[0].Reason != "fake_implausible" {
		t.Fatalf("reason = %q, want fake_implausible", res.Failures[0].Reason)
	}
	if res.Matrix[0][1] >= pol.CeilingMinutes {
		t.Fatalf("implausible duration leaked into matrix: %d", res.Matrix[0][1])
	}
}

func TestComputeMatrixNilProviderFallsBackQuietly(t *testing.T) {
	est := NewEstimator(nil, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	res, err := est.ComputeMatrix(context.Background(), testStops(), "2026-09-01", "09:00")
	if err != nil {
		t.Fatalf("ComputeMatrix: %v", err)
	}
	if res.Matrix[0][1] <= 0 {
		t.Fatalf("fallback estimate missing: %v", res.Matrix)
	}
	if len(res.Failures) != 0 {
		t.Fatalf("no provider configured is not a failure: %+v", res.Failures)
	}
	if res.ProviderCalls != 0 {
		t.Fatalf("providerCalls = %d, want 0", res.ProviderCalls)
	}
}

func TestComputeMatrixValidation(t *testing.T) {
	est := NewEstimator(nil, NewMemoryCache(), config.Default(), log.New(&strings.Builder{}, "", 0))

	cases := []struct {
		name  string
		stops []model.Stop
		date  string
	}{
		{"too few stops", testStops()[:1], "2026-09-01"},
		{"duplicate id", []model.Stop{{ID: "a", Lat: 37.5, Lng: 127.0}, {ID: "a", Lat: 37.6, Lng: 127.1}}, "2026-09-01"},
		{"empty id", []model.Stop{{ID: "", Lat: 37.5, Lng: 127.0}, {ID: "b", Lat: 37.6, Lng: 127.1}}, "2026-09-01"},
		{"bad coords", []model.Stop{{ID: "a", Lat: 99, Lng: 127.0}, {ID: "b", Lat: 37.6, Lng: 127.1}}, "2026-09-01"},
		{"bad date", testStops(), "09/01/2026"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := est.ComputeMatrix(context.Background(), tc.stops, tc.date, "")
			if fault.KindOf(err) != fault.InvalidInput {
				t.Fatalf("err = %v, want invalid_input", err)
			}
		})
	}

	big := make([]model.Stop, MaxStops+1)
	for i := range big {
		big[i] = model.Stop{ID: string(rune('a' + i)), Lat: 37.5 + float64(i)*0.01, Lng: 127.0}
	}
	if _, err := est.ComputeMatrix(context.Background(), big, "2026-09-01", ""); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("oversized stop list: err = %v, want invalid_input", err)
	}
}
