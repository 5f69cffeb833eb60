package api

import (
	"routeday/internal/fault"
	"routeday/internal/geo"
	"routeday/internal/model"
)

func validateSolveStops(stops []model.Stop) error {
	if len(stops) == 0 {
		return fault.New(fault.InvalidInput, "stops required")
	}
	seen := map[string]bool{}
	for _, s := range stops {
		if s.ID == "" {
			return fault.New(fault.InvalidInput, "stop with empty id")
		}
		if seen[s.ID] {
			return fault.New(fault.InvalidInput, "duplicate stop id %q", s.ID)
		}
		seen[s.ID] = true
		if !geo.ValidCoord(s.Lat, s.Lng) {
			return fault.New(fault.InvalidInput, "stop %q has invalid coordinates", s.ID)
		}
		if s.ServiceMinutes < 0 {
			return fault.New(fault.InvalidInput, "stop %q has negative service minutes", s.ID)
		}
		if s.Locked && s.Seq == nil {
			return fault.New(fault.InvalidInput, "locked stop %q needs a seq", s.ID)
		}
	}
	return nil
}

func validatePlanItems(items []model.PlanItem) error {
	if len(items) == 0 {
		return fault.New(fault.InvalidInput, "items required")
	}
	for _, it := range items {
		if it.ClientID == "" {
			return fault.New(fault.InvalidInput, "item with empty clientId")
		}
		if !geo.ValidCoord(it.Lat, it.Lng) {
			return fault.New(fault.InvalidInput, "item %q has invalid coordinates", it.ClientID)
		}
		if it.ServiceMinutesBase < 0 {
			return fault.New(fault.InvalidInput, "item %q has negative service minutes", it.ClientID)
		}
		if it.Seq != nil && *it.Seq < 1 {
			return fault.New(fault.InvalidInput, "item %q has seq below 1", it.ClientID)
		}
	}
	return nil
}
