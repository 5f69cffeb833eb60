package traveltime

import (
	"context"
	"time"

	"routeday/internal/model"
)

// Leg is one origin->destination answer from the live routing provider.
type Leg struct {
	DurationSeconds int
	DistanceMeters  int
}

// Provider is the live routing port. Any failure it returns is recoverable:
// the estimator absorbs it into a fallback estimate and records a
// diagnostic, it never fails the matrix build.
type Provider interface {
	// Name prefixes the reason codes attributed to this provider
	// (e.g. "kakao" -> "kakao_http_500").
	Name() string
	Route(ctx context.Context, origin, dest model.GeoPoint, departure time.Time) (Leg, error)
}

// ProviderError tags a provider failure with the reason code that ends up
// in the pair diagnostics.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *ProviderError) Unwrap() error { return e.Err }
