package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"routeday/internal/fault"
)

func TestRemoteSolveIDOrder(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"visit_order":["b","a"],"status":"OK"}`))
	}))
	defer srv.Close()

	rm := NewRemote(srv.URL)
	rm.Client = srv.Client()
	req := lineRequest("a", "b")
	req.ServiceMinutes = []int{7, 9}

	resp, err := rm.Solve(context.Background(), req)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(resp.Order) != 2 || resp.Order[0] != "b" || resp.Order[1] != "a" {
		t.Fatalf("order = %v, want [b a]", resp.Order)
	}
	// anchor->b (20) + b->a (10), totals recomputed locally.
	if resp.TotalTravelMinutes != 30 {
		t.Fatalf("travel = %d, want 30", resp.TotalTravelMinutes)
	}
	if resp.TotalServiceMinutes != 16 {
		t.Fatalf("service = %d, want 16", resp.TotalServiceMinutes)
	}
	if len(got.ClientIDs) != 2 || got.StartIndex != 0 || len(got.MatrixMinutes) != 3 {
		t.Fatalf("request payload = %+v", got)
	}
}

func TestRemoteSolveWrappedIndexOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Index envelope counting the anchor as node 0.
		w.Write([]byte(`{"result":{"order":[0,2,1]}}`))
	}))
	defer srv.Close()

	rm := NewRemote(srv.URL)
	rm.Client = srv.Client()

	resp, err := rm.Solve(context.Background(), lineRequest("a", "b"))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(resp.Order) != 2 || resp.Order[0] != "b" || resp.Order[1] != "a" {
		t.Fatalf("order = %v, want [b a]", resp.Order)
	}
}

func TestRemoteSolveBadResponses(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"no order key", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"OK"}`))
		}},
		{"incomplete order", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"visit_order":["a"]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			rm := NewRemote(srv.URL)
			rm.Client = srv.Client()
			_, err := rm.Solve(context.Background(), lineRequest("a", "b"))
			if fault.KindOf(err) != fault.UpstreamUnavailable {
				t.Fatalf("err = %v, want upstream_unavailable", err)
			}
		})
	}
}

func TestFallbackUsesBackupOnUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rm := NewRemote(srv.URL)
	rm.Client = srv.Client()
	fb := Fallback{Primary: rm, Backup: Heuristic{}}

	resp, err := fb.Solve(context.Background(), lineRequest("a", "b", "c"))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(resp.Order) != 3 {
		t.Fatalf("order = %v", resp.Order)
	}
}

func TestFallbackDoesNotRetryBadInput(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"visit_order":[]}`))
	}))
	defer srv.Close()

	rm := NewRemote(srv.URL)
	rm.Client = srv.Client()
	fb := Fallback{Primary: rm, Backup: Heuristic{}}

	req := lineRequest("a", "b", "c")
	req.Locked = map[string]int{"a": 2, "b": 2}
	_, err := fb.Solve(context.Background(), req)
	if fault.KindOf(err) != fault.ConstraintConflict {
		t.Fatalf("err = %v, want constraint_conflict", err)
	}
	if called {
		t.Fatalf("malformed request must not reach the remote solver")
	}
}
