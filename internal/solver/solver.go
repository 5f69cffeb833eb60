// Package solver orders a day's client visits given a travel-time matrix.
// Row and column 0 of the matrix are the start anchor (the office); rows
// 1..n align with ClientIDs. Locked clients keep their exact 1-based visit
// position and everything else is arranged around them.
package solver

import (
	"context"
	"time"

	"routeday/internal/fault"
)

// Solve statuses.
const (
	StatusOK        = "OK"
	StatusTimeLimit = "TIME_LIMIT"
)

type Request struct {
	Matrix         [][]int        `json:"matrix"`
	ClientIDs      []string       `json:"clientIds"`
	ServiceMinutes []int          `json:"serviceMinutes"`
	Priority       []bool         `json:"priority"`
	Locked         map[string]int `json:"locked"` // client id -> 1-based visit position
	TimeLimit      time.Duration  `json:"-"`
}

type Response struct {
	Order               []string `json:"order"` // client ids in visit order, anchor excluded
	TotalTravelMinutes  int      `json:"totalTravelMinutes"`
	TotalServiceMinutes int      `json:"totalServiceMinutes"`
	Status              string   `json:"status"`
}

type Solver interface {
	Solve(ctx context.Context, req Request) (Response, error)
}

// Validate checks structural consistency before any solver runs.
func Validate(req Request) error {
	n := len(req.ClientIDs)
	if n == 0 {
		return fault.New(fault.InvalidInput, "no clients to sequence")
	}
	if len(req.Matrix) != n+1 {
		return fault.New(fault.InvalidInput, "matrix has %d rows for %d clients", len(req.Matrix), n)
	}
	for i, row := range req.Matrix {
		if len(row) != n+1 {
			return fault.New(fault.InvalidInput, "matrix row %d has %d columns, want %d", i, len(row), n+1)
		}
		for j, v := range row {
			if v < 0 {
				return fault.New(fault.InvalidInput, "negative travel time at [%d][%d]", i, j)
			}
		}
	}
	if len(req.ServiceMinutes) != n {
		return fault.New(fault.InvalidInput, "serviceMinutes length %d, want %d", len(req.ServiceMinutes), n)
	}
	if len(req.Priority) != 0 && len(req.Priority) != n {
		return fault.New(fault.InvalidInput, "priority length %d, want %d", len(req.Priority), n)
	}

	idx := make(map[string]int, n)
	for i, id := range req.ClientIDs {
		if id == "" {
			return fault.New(fault.InvalidInput, "empty client id at %d", i)
		}
		if _, dup := idx[id]; dup {
			return fault.New(fault.InvalidInput, "duplicate client id %q", id)
		}
		idx[id] = i
	}

	usedPos := make(map[int]string, len(req.Locked))
	for id, pos := range req.Locked {
		if _, ok := idx[id]; !ok {
			return fault.New(fault.InvalidInput, "locked client %q not in request", id)
		}
		if pos < 1 || pos > n {
			return fault.New(fault.ConstraintConflict, "locked position %d for %q outside [1,%d]", pos, id, n)
		}
		if other, taken := usedPos[pos]; taken {
			return fault.New(fault.ConstraintConflict, "clients %q and %q both locked to position %d", other, id, pos)
		}
		usedPos[pos] = id
	}
	return nil
}

// Fallback tries Primary and falls back to Backup when the primary is
// unreachable or returns garbage. Validation errors are not retried; a
// request the primary rejects as malformed will fail the same way locally.
type Fallback struct {
	Primary Solver
	Backup  Solver
}

func (f Fallback) Solve(ctx context.Context, req Request) (Response, error) {
	resp, err := f.Primary.Solve(ctx, req)
	if err == nil {
		return resp, nil
	}
	if fault.Is(err, fault.InvalidInput) || fault.Is(err, fault.ConstraintConflict) {
		return Response{}, err
	}
	return f.Backup.Solve(ctx, req)
}
