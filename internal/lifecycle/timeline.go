package lifecycle

import "gotodo/internal/domain"

type StepState string

const (
	StepCompleted StepState = "completed"
	StepActive    StepState = "active"
	StepFuture    StepState = "future"
)

type TimelineStep struct {
	Status domain.RequestStatus `json:"status"`
	Label  string               `json:"label"`
	State  StepState            `json:"state" enum:"completed,active,future"`
}

// TimelineView is what a status stepper renders. Side states carry a badge
// and no steps.
type TimelineView struct {
	Status       domain.RequestStatus `json:"status"`
	CurrentIndex int                  `json:"current_index"`
	Steps        []TimelineStep       `json:"steps"`
	Badge        string               `json:"badge,omitempty"`
}

func Timeline(current domain.RequestStatus) TimelineView {
	idx := StatusIndex(current)
	view := TimelineView{Status: current, CurrentIndex: idx, Steps: []TimelineStep{}}
	if IsSideState(current) {
		view.Badge = Label(current)
		return view
	}
	for i, s := range ordered {
		state := StepFuture
		switch {
		case idx >= 0 && i < idx:
			state = StepCompleted
		case i == idx:
			state = StepActive
		}
		view.Steps = append(view.Steps, TimelineStep{Status: s, Label: Label(s), State: state})
	}
	return view
}
