package solver

import (
	"context"
	"time"
)

const defaultTimeLimit = 2 * time.Second

// Heuristic is the in-process solver: nearest-neighbor construction that
// honors locked positions and visits priority clients first, then 2-opt
// improvement restricted to stretches it is allowed to reorder.
type Heuristic struct{}

func (Heuristic) Solve(ctx context.Context, req Request) (Response, error) {
	if err := Validate(req); err != nil {
		return Response{}, err
	}

	limit := req.TimeLimit
	if limit <= 0 {
		limit = defaultTimeLimit
	}
	deadline := time.Now().Add(limit)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	n := len(req.ClientIDs)
	idx := make(map[string]int, n)
	for i, id := range req.ClientIDs {
		idx[id] = i
	}
	prio := func(i int) bool { return len(req.Priority) == n && req.Priority[i] }

	// slot[p] holds the client index visiting position p+1 (-1 when open).
	slot := make([]int, n)
	for i := range slot {
		slot[i] = -1
	}
	locked := make([]bool, n)
	for id, pos := range req.Locked {
		slot[pos-1] = idx[id]
		locked[pos-1] = true
	}

	unplaced := map[int]bool{}
	for i := 0; i < n; i++ {
		if _, ok := req.Locked[req.ClientIDs[i]]; !ok {
			unplaced[i] = true
		}
	}

	// Greedy fill. Priority clients take the open slots before the rest,
	// which keeps them ahead of non-priority clients wherever locks allow.
	prev := 0
	for p := 0; p < n; p++ {
		if slot[p] >= 0 {
			prev = slot[p] + 1
			continue
		}
		wantPrio := false
		for c := range unplaced {
			if prio(c) {
				wantPrio = true
				break
			}
		}
		best := -1
		for c := range unplaced {
			if wantPrio && !prio(c) {
				continue
			}
			if best == -1 || better(req, prev, c, best) {
				best = c
			}
		}
		slot[p] = best
		delete(unplaced, best)
		prev = best + 1
	}

	// tour[0] is the anchor; tour[p] = matrix node of position p.
	tour := make([]int, n+1)
	for p := 0; p < n; p++ {
		tour[p+1] = slot[p] + 1
	}

	status := StatusOK
	if !improve(req, tour, locked, prio, deadline) {
		status = StatusTimeLimit
	}

	resp := Response{Status: status}
	for p := 1; p <= n; p++ {
		c := tour[p] - 1
		resp.Order = append(resp.Order, req.ClientIDs[c])
		resp.TotalServiceMinutes += req.ServiceMinutes[c]
	}
	resp.TotalTravelMinutes = tourCost(req.Matrix, tour)
	return resp, nil
}

// better compares candidates by travel cost from prev, breaking ties on
// client index so runs are deterministic.
func better(req Request, prev, a, b int) bool {
	ca, cb := req.Matrix[prev][a+1], req.Matrix[prev][b+1]
	if ca != cb {
		return ca < cb
	}
	return req.ClientIDs[a] < req.ClientIDs[b]
}

// improve runs 2-opt over maximal runs of unlocked positions with a uniform
// priority class, so locks stay in place and priority clients stay ahead.
// Returns false if the deadline cut the search short.
func improve(req Request, tour []int, locked []bool, prio func(int) bool, deadline time.Time) bool {
	n := len(tour) - 1
	runs := freeRuns(n, tour, locked, prio)

	for improved := true; improved; {
		improved = false
		for _, r := range runs {
			for i := r.a; i <= r.b; i++ {
				for j := i + 1; j <= r.b; j++ {
					if time.Now().After(deadline) {
						return false
					}
					before := tourCost(req.Matrix, tour)
					reverse(tour, i, j)
					if tourCost(req.Matrix, tour) < before {
						improved = true
					} else {
						reverse(tour, i, j)
					}
				}
			}
		}
	}
	return true
}

type run struct{ a, b int }

func freeRuns(n int, tour []int, locked []bool, prio func(int) bool) []run {
	var runs []run
	p := 1
	for p <= n {
		if locked[p-1] {
			p++
			continue
		}
		cls := prio(tour[p] - 1)
		q := p
		for q+1 <= n && !locked[q] && prio(tour[q+1]-1) == cls {
			q++
		}
		if q > p {
			runs = append(runs, run{p, q})
		}
		p = q + 1
	}
	return runs
}

func reverse(tour []int, i, j int) {
	for i < j {
		tour[i], tour[j] = tour[j], tour[i]
		i++
		j--
	}
}

func tourCost(matrix [][]int, tour []int) int {
	total := 0
	for p := 0; p < len(tour)-1; p++ {
		total += matrix[tour[p]][tour[p+1]]
	}
	return total
}
