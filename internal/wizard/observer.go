package wizard

import "time"

type Op string

const (
	OpSubmit   Op = "submit"
	OpComplete Op = "complete"
	OpSearch   Op = "search"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event describes one engine operation that reached, or would have reached, a
// collaborator.
type Event struct {
	Flow     string
	Step     StepKey
	Op       Op
	Outcome  Outcome
	Created  int
	Duration time.Duration
}

// Observer is notified after every submit, complete and search.
type Observer interface {
	Observe(Event)
}

func outcomeOf(err error) Outcome {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
