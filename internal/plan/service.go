// Package plan owns the committed day plan: saving solver candidates,
// reconciling a candidate into the live sequence, and normalizing sequence
// numbers back to a dense 1..N.
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"routeday/internal/fault"
	"routeday/internal/locks"
	"routeday/internal/metrics"
	"routeday/internal/model"
	"routeday/internal/solver"
	"routeday/internal/store"
	"routeday/internal/traveltime"
)

// seqTempOffset parks rows far above any real slot during the first phase
// of a rewrite so the second phase never collides with a not-yet-moved row.
const seqTempOffset = 100000

const lockTTL = 30 * time.Second

type Service struct {
	Store  store.Store
	Est    *traveltime.Estimator
	Solver solver.Solver
	Locks  locks.Locker
	Logger *log.Logger
}

func NewService(st store.Store, est *traveltime.Estimator, sv solver.Solver, lk locks.Locker, lg *log.Logger) *Service {
	if lk == nil {
		lk = locks.NewMemory()
	}
	if lg == nil {
		lg = log.Default()
	}
	return &Service{Store: st, Est: est, Solver: sv, Locks: lk, Logger: lg}
}

// SaveCandidate stores an immutable ordering proposal for a plan date.
func (s *Service) SaveCandidate(ctx context.Context, planDate string, order []string, snapshot json.RawMessage, meta map[string]any) (model.CandidateResult, error) {
	if len(order) == 0 {
		return model.CandidateResult{}, fault.New(fault.InvalidInput, "empty client order")
	}
	seen := map[string]bool{}
	for _, id := range order {
		if id == "" {
			return model.CandidateResult{}, fault.New(fault.InvalidInput, "empty id in client order")
		}
		if seen[id] {
			return model.CandidateResult{}, fault.New(fault.InvalidInput, "duplicate id %q in client order", id)
		}
		seen[id] = true
	}
	c, err := s.Store.SaveCandidate(ctx, model.CandidateResult{
		PlanDate:      planDate,
		ClientOrder:   order,
		InputSnapshot: snapshot,
		Meta:          meta,
	})
	if err != nil {
		return model.CandidateResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "save candidate")
	}
	return c, nil
}

// ApplyParams carries the optional travel-annotation inputs for Apply. When
// Origin is nil the seq rewrite still runs but travel minutes are left
// untouched.
type ApplyParams struct {
	CandidateID string
	Origin      *model.GeoPoint
	Departure   string
}

// Apply commits a stored candidate into the live plan. Locked rows keep
// their slots; unlocked rows are rewritten in two phases so the unique
// (plan_date, seq) constraint never trips mid-rewrite. A stale candidate
// that misses rows appends them in their prior order rather than dropping
// them. Travel-minute annotation afterwards is best-effort and never rolls
// back a committed sequence.
func (s *Service) Apply(ctx context.Context, planDate string, p ApplyParams) (model.ApplyResult, error) {
	ok, err := s.Locks.TryLock(ctx, "plan:"+planDate, lockTTL)
	if err != nil {
		return model.ApplyResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "acquire plan lock")
	}
	if !ok {
		metrics.Applies.WithLabelValues("rejected").Inc()
		return model.ApplyResult{}, fault.New(fault.Conflict, "another apply is in progress for %s", planDate)
	}
	defer func() { _ = s.Locks.Unlock(ctx, "plan:"+planDate) }()

	items, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return model.ApplyResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "load plan items")
	}
	if len(items) == 0 {
		return model.ApplyResult{}, fault.New(fault.NotFound, "no plan items for %s", planDate)
	}

	cand, err := s.Store.GetCandidate(ctx, p.CandidateID)
	if errors.Is(err, store.ErrNotFound) {
		return model.ApplyResult{}, fault.New(fault.NotFound, "candidate %s", p.CandidateID)
	}
	if err != nil {
		return model.ApplyResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "load candidate")
	}
	if cand.PlanDate != planDate {
		return model.ApplyResult{}, fault.New(fault.Mismatch, "candidate %s belongs to %s, not %s", cand.ID, cand.PlanDate, planDate)
	}

	ordered, finalSeqs, err := reconcileOrder(items, cand.ClientOrder)
	if err != nil {
		metrics.Applies.WithLabelValues("slot_mismatch").Inc()
		return model.ApplyResult{}, err
	}

	if err := s.twoPhase(ctx, planDate, ordered, finalSeqs, true); err != nil {
		metrics.Applies.WithLabelValues("error").Inc()
		return model.ApplyResult{}, err
	}
	metrics.Applies.WithLabelValues("ok").Inc()

	warning := s.annotateTravel(ctx, planDate, p)

	rows, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return model.ApplyResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "reload plan items")
	}
	return model.ApplyResult{Rows: rows, TravelWarning: warning}, nil
}

// reconcileOrder resolves the final slot for every unlocked item. It
// returns the unlocked items in target order and their final seq values.
func reconcileOrder(items []model.PlanItem, candOrder []string) ([]model.PlanItem, []int, error) {
	n := len(items)
	byID := make(map[string]model.PlanItem, n)
	lockedSeq := map[int]bool{}
	var unlocked []model.PlanItem
	for _, it := range items {
		byID[it.ID] = it
		if it.Locked {
			if it.Seq == nil {
				return nil, nil, fault.New(fault.SlotMismatch, "locked item %s has no seq; normalize the plan first", it.ID)
			}
			lockedSeq[*it.Seq] = true
			continue
		}
		unlocked = append(unlocked, it)
	}

	var free []int
	for seq := 1; seq <= n; seq++ {
		if !lockedSeq[seq] {
			free = append(free, seq)
		}
	}
	if len(free) != len(unlocked) {
		return nil, nil, fault.New(fault.SlotMismatch, "%d free slots for %d unlocked items; normalize the plan first", len(free), len(unlocked))
	}

	// Take the candidate's order for the items it still knows about, then
	// append anything it misses in prior-seq order so no row is dropped.
	inOrder := map[string]bool{}
	var ordered []model.PlanItem
	for _, id := range candOrder {
		it, ok := byID[id]
		if !ok || it.Locked || inOrder[id] {
			continue
		}
		inOrder[id] = true
		ordered = append(ordered, it)
	}
	var missing []model.PlanItem
	for _, it := range unlocked {
		if !inOrder[it.ID] {
			missing = append(missing, it)
		}
	}
	sort.Slice(missing, func(a, b int) bool { return seqLess(missing[a], missing[b]) })
	ordered = append(ordered, missing...)

	return ordered, free, nil
}

func seqLess(a, b model.PlanItem) bool {
	switch {
	case a.Seq == nil && b.Seq == nil:
		return a.ID < b.ID
	case a.Seq == nil:
		return false
	case b.Seq == nil:
		return true
	case *a.Seq != *b.Seq:
		return *a.Seq < *b.Seq
	}
	return a.ID < b.ID
}

// twoPhase moves ordered[i] to finalSeqs[i] without ever tripping the
// per-date uniqueness constraint: first park every row at a temp slot far
// above the real range, then place each at its final slot. On failure it
// tries to put already-moved rows back where they were.
func (s *Service) twoPhase(ctx context.Context, planDate string, ordered []model.PlanItem, finalSeqs []int, markOptimized bool) error {
	if len(ordered) != len(finalSeqs) {
		return fault.New(fault.ConstraintConflict, "%d items for %d slots", len(ordered), len(finalSeqs))
	}
	if len(ordered) == 0 {
		return nil
	}

	temp := make([]store.SeqMove, len(ordered))
	final := make([]store.SeqMove, len(ordered))
	for i, it := range ordered {
		temp[i] = store.SeqMove{ItemID: it.ID, Seq: seqTempOffset + i}
		final[i] = store.SeqMove{ItemID: it.ID, Seq: finalSeqs[i]}
	}

	if err := s.Store.SetSeqs(ctx, planDate, temp, false); err != nil {
		s.revert(ctx, planDate, ordered)
		return wrapSeqErr(err, "stage sequence rewrite")
	}
	if err := s.Store.SetSeqs(ctx, planDate, final, markOptimized); err != nil {
		s.revert(ctx, planDate, ordered)
		return wrapSeqErr(err, "commit sequence rewrite")
	}
	return nil
}

// revert best-effort restores prior seq values after a failed phase. Rows
// that had no seq before cannot be restored to null here; a later
// normalize repairs them.
func (s *Service) revert(ctx context.Context, planDate string, ordered []model.PlanItem) {
	for _, it := range ordered {
		if it.Seq == nil {
			continue
		}
		mv := []store.SeqMove{{ItemID: it.ID, Seq: *it.Seq}}
		if err := s.Store.SetSeqs(ctx, planDate, mv, false); err != nil {
			s.Logger.Printf("plan: revert of %s to seq %d failed: %v", it.ID, *it.Seq, err)
		}
	}
}

func wrapSeqErr(err error, msg string) error {
	if errors.Is(err, store.ErrSeqConflict) {
		return fault.Wrap(fault.ConstraintConflict, err, "%s", msg)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fault.Wrap(fault.NotFound, err, "%s", msg)
	}
	return fault.Wrap(fault.UpstreamUnavailable, err, "%s", msg)
}

// annotateTravel recomputes per-row travel minutes after a committed
// rewrite. Any failure here is reported as a warning, never an error.
func (s *Service) annotateTravel(ctx context.Context, planDate string, p ApplyParams) string {
	if p.Origin == nil || s.Est == nil {
		return ""
	}
	rows, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return fmt.Sprintf("travel annotation skipped: %v", err)
	}
	stops := []model.Stop{{ID: "__origin__", Lat: p.Origin.Lat, Lng: p.Origin.Lng}}
	var ids []string
	for _, it := range rows {
		if it.Seq == nil {
			continue
		}
		stops = append(stops, model.Stop{ID: it.ID, Lat: it.Lat, Lng: it.Lng})
		ids = append(ids, it.ID)
	}
	if len(stops) < 2 {
		return ""
	}
	if len(stops) > traveltime.MaxStops {
		return fmt.Sprintf("travel annotation skipped: plan has %d sequenced items, annotation handles at most %d", len(stops)-1, traveltime.MaxStops-1)
	}
	res, err := s.Est.ComputeMatrix(ctx, stops, planDate, p.Departure)
	if err != nil {
		return fmt.Sprintf("travel annotation failed: %v", err)
	}
	minutes := make(map[string]int, len(ids))
	for i, id := range ids {
		minutes[id] = res.Matrix[i][i+1]
	}
	if err := s.Store.UpdateTravelMinutes(ctx, planDate, minutes); err != nil {
		return fmt.Sprintf("travel annotation write failed: %v", err)
	}
	return ""
}

// Normalize rewrites a date's seq values to a dense 1..N, preserving the
// current relative order. Rows without a seq go last, ordered by id. A plan
// that is already dense is left untouched.
func (s *Service) Normalize(ctx context.Context, planDate string) ([]model.PlanItem, bool, error) {
	ok, err := s.Locks.TryLock(ctx, "plan:"+planDate, lockTTL)
	if err != nil {
		return nil, false, fault.Wrap(fault.UpstreamUnavailable, err, "acquire plan lock")
	}
	if !ok {
		return nil, false, fault.New(fault.Conflict, "another rewrite is in progress for %s", planDate)
	}
	defer func() { _ = s.Locks.Unlock(ctx, "plan:"+planDate) }()

	items, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return nil, false, fault.Wrap(fault.UpstreamUnavailable, err, "load plan items")
	}
	if len(items) == 0 {
		return []model.PlanItem{}, false, nil
	}

	ordered := append([]model.PlanItem(nil), items...)
	sort.Slice(ordered, func(a, b int) bool { return seqLess(ordered[a], ordered[b]) })

	dense := true
	finalSeqs := make([]int, len(ordered))
	for i, it := range ordered {
		finalSeqs[i] = i + 1
		if it.Seq == nil || *it.Seq != i+1 {
			dense = false
		}
	}
	if dense {
		return ordered, false, nil
	}

	if err := s.twoPhase(ctx, planDate, ordered, finalSeqs, false); err != nil {
		return nil, false, err
	}
	rows, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return nil, false, fault.Wrap(fault.UpstreamUnavailable, err, "reload plan items")
	}
	return rows, true, nil
}

// OptimizeParams configures a solve over a date's stored plan items.
type OptimizeParams struct {
	Origin    model.GeoPoint
	Departure string
	TimeLimit time.Duration
}

// Optimize builds a travel matrix for the date's plan items, runs the
// solver with the currently locked slots pinned, and stores the resulting
// order as a new candidate.
func (s *Service) Optimize(ctx context.Context, planDate string, p OptimizeParams) (model.CandidateResult, error) {
	items, err := s.Store.ListPlanItems(ctx, planDate)
	if err != nil {
		return model.CandidateResult{}, fault.Wrap(fault.UpstreamUnavailable, err, "load plan items")
	}
	if len(items) == 0 {
		return model.CandidateResult{}, fault.New(fault.NotFound, "no plan items for %s", planDate)
	}
	// The origin takes one matrix slot on top of the items.
	if len(items)+1 > traveltime.MaxStops {
		return model.CandidateResult{}, fault.New(fault.InvalidInput,
			"plan has %d items; optimize handles at most %d per date", len(items), traveltime.MaxStops-1)
	}

	stops := []model.Stop{{ID: "__origin__", Lat: p.Origin.Lat, Lng: p.Origin.Lng}}
	for _, it := range items {
		stops = append(stops, model.Stop{ID: it.ID, Lat: it.Lat, Lng: it.Lng})
	}
	mat, err := s.Est.ComputeMatrix(ctx, stops, planDate, p.Departure)
	if err != nil {
		return model.CandidateResult{}, err
	}

	req := solver.Request{
		Matrix:    mat.Matrix,
		TimeLimit: p.TimeLimit,
		Locked:    map[string]int{},
	}
	for _, it := range items {
		req.ClientIDs = append(req.ClientIDs, it.ID)
		req.ServiceMinutes = append(req.ServiceMinutes, it.ServiceMinutes())
		if it.Locked {
			if it.Seq == nil {
				return model.CandidateResult{}, fault.New(fault.SlotMismatch, "locked item %s has no seq; normalize the plan first", it.ID)
			}
			req.Locked[it.ID] = *it.Seq
		}
	}
	resp, err := s.Solver.Solve(ctx, req)
	if err != nil {
		return model.CandidateResult{}, err
	}

	snapshot, _ := json.Marshal(map[string]any{
		"origin":    p.Origin,
		"departure": p.Departure,
		"matrix":    mat.Matrix,
	})
	meta := map[string]any{
		"status":              resp.Status,
		"totalTravelMinutes":  resp.TotalTravelMinutes,
		"totalServiceMinutes": resp.TotalServiceMinutes,
		"dayType":             mat.DayType,
		"bucketStartMin":      mat.BucketStartMin,
		"cacheHits":           mat.CacheHits,
		"providerCalls":       mat.ProviderCalls,
		"fallbackPairs":       len(mat.Failures),
	}
	return s.SaveCandidate(ctx, planDate, resp.Order, snapshot, meta)
}
