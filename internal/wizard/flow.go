// Package wizard drives the multi-step record-creation flows of the portal.
//
// A flow is an ordered list of steps. One step creates a parent record
// (a visit, a lab report) and the steps after it append child records to that
// parent. Optional selection steps before the parent step supply the
// precondition (usually the chosen patient), and an optional review step at the
// end is where the parent is finalized.
//
// The engine is pure with respect to State: every operation takes a State value
// and returns a new one. Network side effects go through the RecordService the
// engine was built with.
package wizard

import (
	"fmt"
	"strings"
)

// StepKey identifies a step within a flow.
type StepKey string

// StepKind determines what submitting a step does.
type StepKind string

const (
	KindSelect   StepKind = "select"
	KindParent   StepKind = "parent"
	KindChildren StepKind = "children"
	KindReview   StepKind = "review"
)

// Entry is one draft row, or the payload of a select/parent step.
type Entry map[string]string

// Clone returns a copy of the entry.
func (e Entry) Clone() Entry {
	if e == nil {
		return nil
	}
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Filled reports whether every named field holds a non-blank value.
func (e Entry) Filled(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(e[f]) == "" {
			return false
		}
	}
	return true
}

// StepDefinition configures one step of a flow.
type StepDefinition struct {
	Key   StepKey
	Label string
	Kind  StepKind

	// Fields is the shape of a blank draft row (children) or of the payload
	// (parent).
	Fields []string

	// Submittable selects the draft rows of a children step that are sent on
	// submission. Rows it rejects are dropped. A nil predicate accepts rows
	// with at least one non-blank field.
	Submittable func(Entry) bool

	// Validate gates select and parent submissions before any call is made.
	Validate func(Entry) error

	// FailureMessage is shown when the record service fails without a message.
	FailureMessage string
}

func (d StepDefinition) blank() Entry {
	e := make(Entry, len(d.Fields))
	for _, f := range d.Fields {
		e[f] = ""
	}
	return e
}

func (d StepDefinition) submittable(e Entry) bool {
	if d.Submittable != nil {
		return d.Submittable(e)
	}
	for _, v := range e {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func (d StepDefinition) failureMessage() string {
	if d.FailureMessage != "" {
		return d.FailureMessage
	}
	if d.Label != "" {
		return fmt.Sprintf("Failed to save %s", strings.ToLower(d.Label))
	}
	return "Something went wrong. Please try again."
}

// Flow is the configuration of one wizard.
type Flow struct {
	Name  string
	Title string
	Steps []StepDefinition

	// RequiresPrecondition blocks the parent step until a precondition is
	// known, either from Initialize or from a select step.
	RequiresPrecondition bool

	// Finalize makes Complete call the Finalizer against the parent.
	Finalize bool

	// DonePath and CancelPath are handed to the NavigationSink. "{parent}" is
	// replaced with the parent record id.
	DonePath   string
	CancelPath string
}

// Validate checks the structural rules of a flow.
func (f Flow) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlow)
	}
	if len(f.Steps) < 2 {
		return fmt.Errorf("%w: %s needs at least 2 steps, has %d", ErrInvalidFlow, f.Name, len(f.Steps))
	}

	seen := make(map[StepKey]bool, len(f.Steps))
	parentAt := -1
	for i, s := range f.Steps {
		if s.Key == "" {
			return fmt.Errorf("%w: %s step %d has no key", ErrInvalidFlow, f.Name, i)
		}
		if seen[s.Key] {
			return fmt.Errorf("%w: %s has duplicate step %q", ErrInvalidFlow, f.Name, s.Key)
		}
		seen[s.Key] = true

		switch s.Kind {
		case KindSelect:
			if parentAt >= 0 {
				return fmt.Errorf("%w: %s select step %q must come before the parent step", ErrInvalidFlow, f.Name, s.Key)
			}
		case KindParent:
			if parentAt >= 0 {
				return fmt.Errorf("%w: %s has more than one parent step", ErrInvalidFlow, f.Name)
			}
			parentAt = i
		case KindChildren:
			if parentAt < 0 {
				return fmt.Errorf("%w: %s children step %q must come after the parent step", ErrInvalidFlow, f.Name, s.Key)
			}
		case KindReview:
			if i != len(f.Steps)-1 {
				return fmt.Errorf("%w: %s review step %q must be last", ErrInvalidFlow, f.Name, s.Key)
			}
			if !f.Finalize {
				return fmt.Errorf("%w: %s has a review step but does not finalize", ErrInvalidFlow, f.Name)
			}
		default:
			return fmt.Errorf("%w: %s step %q has unknown kind %q", ErrInvalidFlow, f.Name, s.Key, s.Kind)
		}
	}
	if parentAt < 0 {
		return fmt.Errorf("%w: %s has no parent step", ErrInvalidFlow, f.Name)
	}
	if f.Steps[len(f.Steps)-1].Kind == KindSelect {
		return fmt.Errorf("%w: %s cannot end on a select step", ErrInvalidFlow, f.Name)
	}
	return nil
}

// Index returns the position of key, or -1.
func (f Flow) Index(key StepKey) int {
	for i, s := range f.Steps {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// Step returns the definition for key.
func (f Flow) Step(key StepKey) (StepDefinition, bool) {
	i := f.Index(key)
	if i < 0 {
		return StepDefinition{}, false
	}
	return f.Steps[i], true
}

// Keys lists the step keys in order.
func (f Flow) Keys() []StepKey {
	keys := make([]StepKey, len(f.Steps))
	for i, s := range f.Steps {
		keys[i] = s.Key
	}
	return keys
}

// lastContent is the index of the last step that is not a review step.
func (f Flow) lastContent() int {
	last := len(f.Steps) - 1
	if f.Steps[last].Kind == KindReview {
		return last - 1
	}
	return last
}

func (f Flow) reviewIndex() int {
	last := len(f.Steps) - 1
	if f.Steps[last].Kind == KindReview {
		return last
	}
	return -1
}

func (f Flow) path(tmpl, parentID string) string {
	return strings.ReplaceAll(tmpl, "{parent}", parentID)
}
