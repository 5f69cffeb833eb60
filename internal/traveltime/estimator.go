package traveltime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"routeday/internal/config"
	"routeday/internal/fault"
	"routeday/internal/geo"
	"routeday/internal/metrics"
	"routeday/internal/model"
)

// MinStops and MaxStops bound the stop count of one matrix build; the live
// provider is queried pairwise, so the cap keeps a build under its quota.
const (
	MinStops = 2
	MaxStops = 15
)

const providerCallTimeout = 8 * time.Second

// Estimator builds an NxN travel-time matrix for a day's stops. Lookups go
// cache first, then the live provider, then the deterministic fallback.
// Per-pair provider failures degrade that one cell to the fallback estimate
// and are reported as diagnostics; they never fail the whole matrix.
type Estimator struct {
	Provider Provider // may be nil, in which case every miss uses the fallback
	Cache    Cache
	Policy   config.Policy
	Logger   *log.Logger

	locOnce sync.Once
	loc     *time.Location
}

func NewEstimator(p Provider, c Cache, pol config.Policy, lg *log.Logger) *Estimator {
	if c == nil {
		c = NewMemoryCache()
	}
	if lg == nil {
		lg = log.Default()
	}
	return &Estimator{Provider: p, Cache: c, Policy: pol, Logger: lg}
}

func (e *Estimator) location() *time.Location {
	e.locOnce.Do(func() {
		loc, err := time.LoadLocation(e.Policy.Timezone)
		if err != nil {
			e.Logger.Printf("traveltime: unknown timezone %q, using local", e.Policy.Timezone)
			loc = time.Local
		}
		e.loc = loc
	})
	return e.loc
}

type pair struct{ i, j int }

// ComputeMatrix estimates directed travel minutes between every ordered pair
// of stops for the given plan date and departure time ("HH:MM", empty means
// the policy default).
func (e *Estimator) ComputeMatrix(ctx context.Context, stops []model.Stop, planDate, departure string) (*model.MatrixResult, error) {
	start := time.Now()

	if len(stops) < MinStops || len(stops) > MaxStops {
		return nil, fault.New(fault.InvalidInput, "stop count %d outside [%d,%d]", len(stops), MinStops, MaxStops)
	}
	seen := make(map[string]bool, len(stops))
	for _, s := range stops {
		if s.ID == "" {
			return nil, fault.New(fault.InvalidInput, "stop with empty id")
		}
		if seen[s.ID] {
			return nil, fault.New(fault.InvalidInput, "duplicate stop id %q", s.ID)
		}
		seen[s.ID] = true
		if !geo.ValidCoord(s.Lat, s.Lng) {
			return nil, fault.New(fault.InvalidInput, "stop %q has invalid coordinates", s.ID)
		}
	}
	day, err := time.ParseInLocation("2006-01-02", planDate, e.location())
	if err != nil {
		return nil, fault.New(fault.InvalidInput, "bad plan date %q", planDate)
	}

	dayType := DayType(day)
	depMin := ParseDeparture(departure, e.Policy)
	bucket := BucketStart(depMin, BucketWidth(dayType, e.Policy))
	departAt := day.Add(time.Duration(depMin) * time.Minute)

	n := len(stops)
	matrix := make([][]int, n)
	for i := range matrix {
		matrix[i] = make([]int, n)
	}
	res := &model.MatrixResult{
		Matrix:         matrix,
		DayType:        dayType,
		BucketStartMin: bucket,
	}

	// Same-coordinate pairs never leave the process. Everything else is a
	// cache key.
	var keys []Key
	lookup := make(map[Key]pair)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if geo.SameCoord(stops[i].Lat, stops[i].Lng, stops[j].Lat, stops[j].Lng) {
				res.SkippedSameCoord++
				continue
			}
			k := Key{PlanDate: planDate, BucketMin: bucket, Origin: stops[i].ID, Dest: stops[j].ID}
			keys = append(keys, k)
			lookup[k] = pair{i, j}
		}
	}

	cached, err := e.Cache.GetBatch(ctx, keys)
	if err != nil {
		return nil, fault.Wrap(fault.UpstreamUnavailable, err, "travel cache lookup")
	}
	var misses []Key
	for _, k := range keys {
		if ent, ok := cached[k]; ok {
			matrix[lookup[k].i][lookup[k].j] = clampMinutes(ent.TravelMinutes, e.Policy)
			res.CacheHits++
			metrics.CacheLookups.WithLabelValues("hit").Inc()
		} else {
			misses = append(misses, k)
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	fresh := e.resolveMisses(ctx, stops, misses, lookup, dayType, depMin, departAt, res)

	if len(fresh) > 0 {
		if err := e.Cache.PutBatch(ctx, fresh); err != nil {
			e.Logger.Printf("traveltime: cache write failed: %v", err)
		}
	}

	metrics.MatrixDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// resolveMisses fans the uncached pairs out over a bounded worker pool and
// fills the matrix. It returns the entries to write back to the cache.
func (e *Estimator) resolveMisses(ctx context.Context, stops []model.Stop, misses []Key, lookup map[Key]pair, dayType string, depMin int, departAt time.Time, res *model.MatrixResult) map[Key]Entry {
	fresh := make(map[Key]Entry, len(misses))
	if len(misses) == 0 {
		return fresh
	}

	conc := e.Policy.Concurrency
	if conc < 1 {
		conc = 1
	}
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, k := range misses {
		k := k
		p := lookup[k]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ent, failure := e.estimatePair(ctx, stops[p.i], stops[p.j], dayType, depMin, departAt)
			ent.TravelMinutes = clampMinutes(ent.TravelMinutes, e.Policy)

			mu.Lock()
			res.Matrix[p.i][p.j] = ent.TravelMinutes
			if ent.Mode == ModeProvider {
				res.ProviderCalls++
			}
			if failure != nil {
				failure.UsedMinutes = ent.TravelMinutes
				res.Failures = append(res.Failures, *failure)
			}
			fresh[k] = ent
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(res.Failures, func(a, b int) bool {
		if res.Failures[a].Origin != res.Failures[b].Origin {
			return res.Failures[a].Origin < res.Failures[b].Origin
		}
		return res.Failures[a].Dest < res.Failures[b].Dest
	})
	return fresh
}

func (e *Estimator) estimatePair(ctx context.Context, from, to model.Stop, dayType string, depMin int, departAt time.Time) (Entry, *model.PairFailure) {
	fb := func(reason string) (Entry, *model.PairFailure) {
		m := FallbackEstimate(from.Lat, from.Lng, to.Lat, to.Lng, dayType, depMin, e.Policy)
		var f *model.PairFailure
		if reason != "" {
			metrics.Fallbacks.WithLabelValues(reason).Inc()
			f = &model.PairFailure{Origin: from.ID, Dest: to.ID, Reason: reason, Mode: ModeFallback}
		}
		return Entry{TravelMinutes: m, Mode: ModeFallback}, f
	}

	if e.Provider == nil {
		return fb("")
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	leg, err := e.Provider.Route(callCtx, model.GeoPoint{Lat: from.Lat, Lng: from.Lng}, model.GeoPoint{Lat: to.Lat, Lng: to.Lng}, departAt)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(e.Provider.Name(), "error").Inc()
		return fb(failureReason(err))
	}
	metrics.ProviderRequests.WithLabelValues(e.Provider.Name(), "ok").Inc()

	minutes := int(math.Ceil(float64(leg.DurationSeconds) / 60.0))
	if minutes >= e.Policy.CeilingMinutes {
		return fb(fmt.Sprintf("%s_implausible", e.Provider.Name()))
	}
	dist := leg.DistanceMeters
	return Entry{TravelMinutes: minutes, DistanceMeters: &dist, Mode: ModeProvider}, nil
}

func failureReason(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "provider_error"
}

func clampMinutes(m int, p config.Policy) int {
	if m < 0 {
		return 0
	}
	if m > p.CeilingMinutes {
		return p.CeilingMinutes
	}
	return m
}
