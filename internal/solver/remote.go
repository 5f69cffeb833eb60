package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"routeday/internal/fault"
)

// Remote delegates to an external solver service. The service receives the
// same matrix and constraints and replies with a visit order; payload shapes
// vary across deployments so extraction is tolerant about the envelope.
type Remote struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func NewRemote(url string) *Remote {
	return &Remote{
		URL:     url,
		Client:  &http.Client{Timeout: 15 * time.Second},
		Timeout: 10 * time.Second,
	}
}

type remoteRequest struct {
	ClientIDs        []string       `json:"client_ids"`
	MatrixMinutes    [][]int        `json:"matrix_minutes"`
	ServiceMinutes   []int          `json:"service_minutes"`
	PriorityFlags    []bool         `json:"priority_flags"`
	LockedPositions  map[string]int `json:"locked_positions,omitempty"`
	StartIndex       int            `json:"start_index"`
	TimeLimitSeconds int            `json:"time_limit_seconds"`
}

func (r *Remote) Solve(ctx context.Context, req Request) (Response, error) {
	if err := Validate(req); err != nil {
		return Response{}, err
	}

	limit := req.TimeLimit
	if limit <= 0 {
		limit = r.Timeout
	}
	body := remoteRequest{
		ClientIDs:        req.ClientIDs,
		MatrixMinutes:    req.Matrix,
		ServiceMinutes:   req.ServiceMinutes,
		PriorityFlags:    req.Priority,
		LockedPositions:  req.Locked,
		StartIndex:       0,
		TimeLimitSeconds: int(limit.Seconds()),
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return Response{}, fault.Wrap(fault.InvalidInput, err, "encode solver request")
	}

	callCtx, cancel := context.WithTimeout(ctx, limit+5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.URL, bytes.NewReader(buf))
	if err != nil {
		return Response{}, fault.Wrap(fault.UpstreamUnavailable, err, "build solver request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return Response{}, fault.Wrap(fault.UpstreamUnavailable, err, "call solver")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fault.New(fault.UpstreamUnavailable, "solver status %d: %s", resp.StatusCode, string(b))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Response{}, fault.Wrap(fault.UpstreamUnavailable, err, "decode solver response")
	}
	order, err := extractOrder(raw, req.ClientIDs)
	if err != nil {
		return Response{}, fault.Wrap(fault.UpstreamUnavailable, err, "solver response")
	}

	out := Response{Order: order, Status: StatusOK}
	if s, ok := raw["status"]; ok {
		var v string
		if json.Unmarshal(s, &v) == nil && v != "" {
			out.Status = v
		}
	}
	idx := make(map[string]int, len(req.ClientIDs))
	for i, id := range req.ClientIDs {
		idx[id] = i
	}
	tour := []int{0}
	for _, id := range order {
		i := idx[id]
		out.TotalServiceMinutes += req.ServiceMinutes[i]
		tour = append(tour, i+1)
	}
	out.TotalTravelMinutes = tourCost(req.Matrix, tour)
	return out, nil
}

// extractOrder pulls the visit order out of a response envelope. Accepted
// keys, in preference order: visit_order, order, route; either directly or
// under a result/data wrapper. Values may be client id strings or zero-based
// indices into the request's client list.
func extractOrder(raw map[string]json.RawMessage, clientIDs []string) ([]string, error) {
	for _, wrapper := range []string{"result", "data"} {
		if inner, ok := raw[wrapper]; ok {
			var m map[string]json.RawMessage
			if json.Unmarshal(inner, &m) == nil {
				if order, err := extractOrder(m, clientIDs); err == nil {
					return order, nil
				}
			}
		}
	}
	for _, key := range []string{"visit_order", "order", "route"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if order, err := decodeOrder(v, clientIDs); err == nil {
			return order, nil
		}
	}
	return nil, fmt.Errorf("no visit order in response")
}

func decodeOrder(v json.RawMessage, clientIDs []string) ([]string, error) {
	known := make(map[string]bool, len(clientIDs))
	for _, id := range clientIDs {
		known[id] = true
	}

	var ids []string
	if json.Unmarshal(v, &ids) == nil {
		out := make([]string, 0, len(ids))
		seen := map[string]bool{}
		for _, id := range ids {
			// Some solvers include the anchor in the order; drop anything
			// that is not one of our clients.
			if !known[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
		if len(out) == len(clientIDs) {
			return out, nil
		}
		return nil, fmt.Errorf("order covers %d of %d clients", len(out), len(clientIDs))
	}

	var nums []int
	if json.Unmarshal(v, &nums) == nil {
		out := make([]string, 0, len(nums))
		seen := map[int]bool{}
		for _, i := range nums {
			// Index orders based on the full node list count the anchor as
			// node 0; shift those down.
			if i == 0 && len(nums) == len(clientIDs)+1 {
				continue
			}
			j := i
			if len(nums) == len(clientIDs)+1 {
				j = i - 1
			}
			if j < 0 || j >= len(clientIDs) || seen[j] {
				continue
			}
			seen[j] = true
			out = append(out, clientIDs[j])
		}
		if len(out) == len(clientIDs) {
			return out, nil
		}
		return nil, fmt.Errorf("order covers %d of %d clients", len(out), len(clientIDs))
	}
	return nil, fmt.Errorf("unrecognized order payload")
}
