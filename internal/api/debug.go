package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"routeday/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"policy": map[string]any{
			"timezone":         s.Policy.Timezone,
			"weekdayBucketMin": s.Policy.WeekdayBucketMin,
			"weekendBucketMin": s.Policy.WeekendBucketMin,
			"ceilingMinutes":   s.Policy.CeilingMinutes,
			"concurrency":      s.Policy.Concurrency,
		},
		"config": map[string]any{
			"PORT":                 os.Getenv("PORT"),
			"POLICY_FILE":          os.Getenv("POLICY_FILE"),
			"WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
			"HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
			"HAS_KAKAO_KEY":        os.Getenv("KAKAO_REST_API_KEY") != "",
			"HAS_SOLVER_URL":       os.Getenv("SOLVER_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
