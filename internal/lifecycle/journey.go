package lifecycle

import "gotodo/internal/domain"

const (
	ReasonNoStops             = "Add at least one stop to the journey."
	ReasonMissingLocation     = "All stops must have a location before finalizing."
	ReasonIntermediateActions = "All intermediate stops must have at least one action."
)

const (
	JourneyDraft     = "draft"
	JourneyFinalized = "finalized"
	JourneyExited    = "exited"
)

type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// CheckJourneyReadiness evaluates the finalize gate. Location is checked
// before intermediate actions.
func CheckJourneyReadiness(plan domain.JourneyPlan) Readiness {
	if len(plan.Stops) == 0 {
		return Readiness{Reason: ReasonNoStops}
	}
	for _, s := range plan.Stops {
		if s.Location == nil {
			return Readiness{Reason: ReasonMissingLocation}
		}
	}
	if len(plan.Stops) > 2 {
		for _, s := range plan.Stops[1 : len(plan.Stops)-1] {
			if len(s.Actions) == 0 {
				return Readiness{Reason: ReasonIntermediateActions}
			}
		}
	}
	return Readiness{Ready: true}
}
