package model

import (
	"encoding/json"
	"time"
)

// Plan item provenance values.
const (
	SourceManual    = "MANUAL"
	SourceOptimized = "OPTIMIZED"
	SourceAuto      = "AUTO"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a location to visit within one plan date. The anchor (origin)
// stop is always locked at position 0 and is not a serviceable client.
type Stop struct {
	ID             string  `json:"id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	ServiceMinutes int     `json:"serviceMinutes,omitempty"`
	Priority       bool    `json:"priority,omitempty"`
	Locked         bool    `json:"locked,omitempty"`
	Seq            *int    `json:"seq,omitempty"`
}

// PairFailure records one origin->dest pair that fell back to the local
// travel-time model instead of the live provider.
type PairFailure struct {
	Origin      string `json:"origin"`
	Dest        string `json:"dest"`
	Reason      string `json:"reason"`
	UsedMinutes int    `json:"usedMinutes"`
	Mode        string `json:"mode"`
}

// MatrixResult is a fully populated NxN travel-duration matrix in minutes
// plus the diagnostics collected while building it. The matrix is always
// finite: unresolved pairs hold the unreachable ceiling, never a gap.
type MatrixResult struct {
	Matrix           [][]int       `json:"matrix"`
	DayType          string        `json:"dayType"`
	BucketStartMin   int           `json:"bucketStartMin"`
	Failures         []PairFailure `json:"failures"`
	CacheHits        int           `json:"cacheHits"`
	ProviderCalls    int           `json:"providerCalls"`
	SkippedSameCoord int           `json:"skippedSameCoord"`
}

// PlanItem is one persisted stop of a day's committed plan. For a fixed
// plan date the non-null seq values are unique; after reconciliation they
// are exactly {1..N}.
type PlanItem struct {
	ID                     string  `json:"id"`
	PlanDate               string  `json:"planDate"`
	ClientID               string  `json:"clientId"`
	Lat                    float64 `json:"lat"`
	Lng                    float64 `json:"lng"`
	Seq                    *int    `json:"seq"`
	Locked                 bool    `json:"locked"`
	IsManual               bool    `json:"isManual"`
	ServiceMinutesBase     int     `json:"serviceMinutesBase"`
	ServiceMinutesOverride *int    `json:"serviceMinutesOverride,omitempty"`
	TravelMinutes          int     `json:"travelMinutes"`
	Source                 string  `json:"source"`
}

// ServiceMinutes returns the effective service duration, preferring the
// per-day override over the base value.
func (p PlanItem) ServiceMinutes() int {
	if p.ServiceMinutesOverride != nil {
		return *p.ServiceMinutesOverride
	}
	return p.ServiceMinutesBase
}

// CandidateResult is an immutable stored proposal for a day's visit order.
// Applying one does not invalidate the others; history is retained.
type CandidateResult struct {
	ID            string          `json:"id"`
	PlanDate      string          `json:"planDate"`
	ClientOrder   []string        `json:"clientOrder"`
	InputSnapshot json.RawMessage `json:"inputSnapshot,omitempty"`
	Meta          map[string]any  `json:"meta,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ApplyResult is the outcome of committing a candidate into the live plan.
// TravelWarning is set when the seq commit succeeded but the travel-time
// annotation pass failed; the commit is never rolled back for that.
type ApplyResult struct {
	Rows          []PlanItem `json:"rows"`
	TravelWarning string     `json:"travelWarning,omitempty"`
}

// Webhook subscription models (admin-registered endpoints notified on
// candidate.saved / plan.applied / plan.normalized).
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
