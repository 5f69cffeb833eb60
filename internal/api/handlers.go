package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"routeday/internal/buildinfo"
	"routeday/internal/fault"
	"routeday/internal/model"
	"routeday/internal/plan"
	"routeday/internal/solver"
	"routeday/internal/store"
	"routeday/internal/webhooks"
)

// MatrixHandler handles POST /v1/travel-matrix
func (s *Server) MatrixHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Stops     []model.Stop `json:"stops"`
		PlanDate  string       `json:"planDate"`
		Departure string       `json:"departure"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Est.ComputeMatrix(r.Context(), req.Stops, req.PlanDate, req.Departure)
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SolveHandler handles POST /v1/solve: builds the travel matrix for the
// given stops and runs the sequencing solver in one request.
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Origin           model.GeoPoint `json:"origin"`
		Stops            []model.Stop   `json:"stops"`
		PlanDate         string         `json:"planDate"`
		Departure        string         `json:"departure"`
		TimeLimitSeconds int            `json:"timeLimitSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveStops(req.Stops); err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}

	all := append([]model.Stop{{ID: "__origin__", Lat: req.Origin.Lat, Lng: req.Origin.Lng}}, req.Stops...)
	mat, err := s.Est.ComputeMatrix(r.Context(), all, req.PlanDate, req.Departure)
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}

	sreq := solver.Request{Matrix: mat.Matrix, Locked: map[string]int{}}
	if req.TimeLimitSeconds > 0 {
		sreq.TimeLimit = time.Duration(req.TimeLimitSeconds) * time.Second
	}
	for _, st := range req.Stops {
		sreq.ClientIDs = append(sreq.ClientIDs, st.ID)
		sreq.ServiceMinutes = append(sreq.ServiceMinutes, st.ServiceMinutes)
		sreq.Priority = append(sreq.Priority, st.Priority)
		if st.Locked && st.Seq != nil {
			sreq.Locked[st.ID] = *st.Seq
		}
	}
	resp, err := s.Solver.Solve(r.Context(), sreq)
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":               resp.Order,
		"status":              resp.Status,
		"totalTravelMinutes":  resp.TotalTravelMinutes,
		"totalServiceMinutes": resp.TotalServiceMinutes,
		"matrix":              mat,
	})
}

// CandidateByIDHandler handles GET /v1/candidates/{id}
func (s *Server) CandidateByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/candidates/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c, err := s.Store.GetCandidate(r.Context(), id)
	if err == store.ErrNotFound {
		writeProblem(w, http.StatusNotFound, "Candidate not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get candidate failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PlansHandler handles everything under /v1/plans/{date}:
//
//	GET  /v1/plans/{date}                 current plan rows
//	POST /v1/plans/{date}/items           add plan items
//	GET|POST /v1/plans/{date}/candidates  list / save candidates
//	POST /v1/plans/{date}/apply           commit a candidate
//	POST /v1/plans/{date}/normalize       densify seq values
//	POST /v1/plans/{date}/optimize        solve and store a candidate
//	GET  /v1/plans/{date}/events/stream   SSE plan events
func (s *Server) PlansHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plans/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing plan date", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	date := parts[0]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Plan Date", fmt.Sprintf("%q is not YYYY-MM-DD", date), r.URL.Path)
		return
	}

	if len(parts) == 1 {
		s.planRows(w, r, date)
		return
	}
	switch parts[1] {
	case "items":
		s.planItems(w, r, date)
	case "candidates":
		s.planCandidates(w, r, date)
	case "apply":
		s.planApply(w, r, date)
	case "normalize":
		s.planNormalize(w, r, date)
	case "optimize":
		s.planOptimize(w, r, date)
	case "events":
		if len(parts) > 2 && parts[2] == "stream" {
			s.planEventsStream(w, r, date)
			return
		}
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) planRows(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, err := s.Store.ListPlanItems(r.Context(), date)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"planDate": date, "items": rows})
}

func (s *Server) planItems(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Items []model.PlanItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlanItems(req.Items); err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	for i := range req.Items {
		req.Items[i].PlanDate = date
	}
	out, err := s.Store.CreatePlanItems(r.Context(), req.Items)
	if err == store.ErrSeqConflict {
		writeFault(w, fault.Wrap(fault.ConstraintConflict, err, "create plan items"), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create plan items failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": out})
}

func (s *Server) planCandidates(w http.ResponseWriter, r *http.Request, date string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			ClientOrder   []string        `json:"clientOrder"`
			InputSnapshot json.RawMessage `json:"inputSnapshot"`
			Meta          map[string]any  `json:"meta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		c, err := s.Plan.SaveCandidate(r.Context(), date, req.ClientOrder, req.InputSnapshot, req.Meta)
		if err != nil {
			writeFault(w, err, r.URL.Path)
			return
		}
		s.Pub.Emit(r.Context(), webhooks.EventCandidateSaved, map[string]any{"candidateId": c.ID, "planDate": date})
		s.Broker.Publish(date, SSEEvent{Type: webhooks.EventCandidateSaved, Data: map[string]any{"candidateId": c.ID, "planDate": date}})
		writeJSON(w, http.StatusCreated, c)
	case http.MethodGet:
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, err := s.Store.ListCandidates(r.Context(), date, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List candidates failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) planApply(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		CandidateID string          `json:"candidateId"`
		Origin      *model.GeoPoint `json:"origin"`
		Departure   string          `json:"departure"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.CandidateID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Input", "candidateId required", r.URL.Path)
		return
	}
	res, err := s.Plan.Apply(r.Context(), date, plan.ApplyParams{
		CandidateID: req.CandidateID,
		Origin:      req.Origin,
		Departure:   req.Departure,
	})
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	data := map[string]any{"planDate": date, "candidateId": req.CandidateID, "rows": len(res.Rows)}
	s.Pub.Emit(r.Context(), webhooks.EventPlanApplied, data)
	s.Broker.Publish(date, SSEEvent{Type: webhooks.EventPlanApplied, Data: data})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) planNormalize(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, changed, err := s.Plan.Normalize(r.Context(), date)
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	if changed {
		data := map[string]any{"planDate": date, "rows": len(rows)}
		s.Pub.Emit(r.Context(), webhooks.EventPlanNormalized, data)
		s.Broker.Publish(date, SSEEvent{Type: webhooks.EventPlanNormalized, Data: data})
	}
	writeJSON(w, http.StatusOK, map[string]any{"planDate": date, "changed": changed, "items": rows})
}

func (s *Server) planOptimize(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Origin           model.GeoPoint `json:"origin"`
		Departure        string         `json:"departure"`
		TimeLimitSeconds int            `json:"timeLimitSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p := plan.OptimizeParams{Origin: req.Origin, Departure: req.Departure}
	if req.TimeLimitSeconds > 0 {
		p.TimeLimit = time.Duration(req.TimeLimitSeconds) * time.Second
	}
	c, err := s.Plan.Optimize(r.Context(), date, p)
	if err != nil {
		writeFault(w, err, r.URL.Path)
		return
	}
	s.Pub.Emit(r.Context(), webhooks.EventCandidateSaved, map[string]any{"candidateId": c.ID, "planDate": date})
	s.Broker.Publish(date, SSEEvent{Type: webhooks.EventCandidateSaved, Data: map[string]any{"candidateId": c.ID, "planDate": date}})
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) planEventsStream(w http.ResponseWriter, r *http.Request, date string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(date)
	defer s.Broker.Unsubscribe(date, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"planDate\":\"%s\",\"ts\":\"%s\"}\n\n", date, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// SubscriptionsHandler handles POST /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid Input", "url and events required", r.URL.Path)
		return
	}
	sub, err := s.Store.CreateSubscription(r.Context(), req)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
