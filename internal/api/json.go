package api

import (
	"encoding/json"
	"net/http"

	"routeday/internal/fault"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeFault maps a taxonomy error onto an HTTP problem response.
func writeFault(w http.ResponseWriter, err error, instance string) {
	kind := fault.KindOf(err)
	status := http.StatusInternalServerError
	title := "Internal Error"
	switch kind {
	case fault.InvalidInput:
		status, title = http.StatusBadRequest, "Invalid Input"
	case fault.NotFound:
		status, title = http.StatusNotFound, "Not Found"
	case fault.Conflict:
		status, title = http.StatusConflict, "Conflict"
	case fault.Mismatch:
		status, title = http.StatusConflict, "Plan Date Mismatch"
	case fault.ConstraintConflict:
		status, title = http.StatusUnprocessableEntity, "Constraint Conflict"
	case fault.SlotMismatch:
		status, title = http.StatusUnprocessableEntity, "Slot Mismatch"
	case fault.Infeasible:
		status, title = http.StatusUnprocessableEntity, "Infeasible"
	case fault.UpstreamUnavailable:
		status, title = http.StatusBadGateway, "Upstream Unavailable"
	}
	writeProblem(w, status, title, err.Error(), instance)
}
