package traveltime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"routeday/internal/model"
)

const kakaoBaseURL = "https://apis-navi.kakaomobility.com/v1/directions"

// Kakao queries the Kakao Mobility directions API for a single
// origin->destination leg. Calls are rate-limited; the estimator's worker
// pool bounds concurrency on top of that.
type Kakao struct {
	apiKey  string
	baseURL string
	session *http.Client
	limiter *rate.Limiter
}

func NewKakao(apiKey string) *Kakao {
	return &Kakao{
		apiKey:  apiKey,
		baseURL: kakaoBaseURL,
		session: &http.Client{Timeout: 10 * time.Second},
		// 10 req/s with a small burst keeps a full 15-stop matrix under
		// the provider's quota.
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
}

func (k *Kakao) Name() string { return "kakao" }

type kakaoResponse struct {
	Routes []struct {
		ResultCode int `json:"result_code"`
		Summary    struct {
			Distance int             `json:"distance"`
			Duration json.RawMessage `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}

func (k *Kakao) Route(ctx context.Context, origin, dest model.GeoPoint, departure time.Time) (Leg, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return Leg{}, &ProviderError{Reason: k.Name() + "_timeout", Err: err}
	}

	q := url.Values{}
	// Kakao expects lng,lat order.
	q.Set("origin", fmt.Sprintf("%f,%f", origin.Lng, origin.Lat))
	q.Set("destination", fmt.Sprintf("%f,%f", dest.Lng, dest.Lat))
	q.Set("departure_time", departure.Format("200601021504"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Leg{}, &ProviderError{Reason: k.Name() + "_bad_request", Err: err}
	}
	req.Header.Set("Authorization", "KakaoAK "+k.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := k.session.Do(req)
	if err != nil {
		reason := k.Name() + "_unreachable"
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			reason = k.Name() + "_timeout"
		}
		return Leg{}, &ProviderError{Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Leg{}, &ProviderError{
			Reason: fmt.Sprintf("%s_http_%d", k.Name(), resp.StatusCode),
			Err:    fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var kr kakaoResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return Leg{}, &ProviderError{Reason: k.Name() + "_bad_payload", Err: err}
	}
	if len(kr.Routes) == 0 || kr.Routes[0].ResultCode != 0 {
		return Leg{}, &ProviderError{Reason: k.Name() + "_no_route", Err: fmt.Errorf("empty or failed route")}
	}

	secs, err := normalizeDurationSeconds(kr.Routes[0].Summary.Duration)
	if err != nil {
		return Leg{}, &ProviderError{Reason: k.Name() + "_bad_payload", Err: err}
	}
	return Leg{DurationSeconds: secs, DistanceMeters: kr.Routes[0].Summary.Distance}, nil
}

// normalizeDurationSeconds decodes a duration that the provider sometimes
// duplicates in a millisecond scale. A value that only becomes plausible
// after dividing by 1000 is treated as milliseconds.
func normalizeDurationSeconds(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing duration")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Some payloads quote the number.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return 0, fmt.Errorf("duration not numeric: %w", err)
		}
		if _, err2 := fmt.Sscanf(s, "%f", &f); err2 != nil {
			return 0, fmt.Errorf("duration not numeric: %q", s)
		}
	}
	if f < 0 {
		return 0, fmt.Errorf("negative duration %f", f)
	}
	const daySeconds = 24 * 60 * 60
	secs := int(f)
	if secs >= daySeconds && secs/1000 < daySeconds {
		secs = secs / 1000
	}
	return secs, nil
}
