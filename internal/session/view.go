package session

import (
	"time"

	"github.com/ehr/portal/internal/wizard"
)

// Step statuses in a View.
const (
	StepDone    = "done"
	StepCurrent = "current"
	StepPending = "pending"
)

type StepView struct {
	Key    wizard.StepKey  `json:"key"`
	Label  string          `json:"label"`
	Kind   wizard.StepKind `json:"kind"`
	Status string          `json:"status"`
	Fields []string        `json:"fields,omitempty"`
}

// View is the wizard as the portal renders it.
type View struct {
	ID           string                             `json:"id"`
	Flow         string                             `json:"flow"`
	Title        string                             `json:"title"`
	CurrentStep  wizard.StepKey                     `json:"current_step"`
	StepIndex    int                                `json:"step_index"`
	Steps        []StepView                         `json:"steps"`
	ParentID     string                             `json:"parent_id,omitempty"`
	Precondition wizard.Precondition                `json:"precondition"`
	Drafts       map[wizard.StepKey][]wizard.Entry  `json:"drafts"`
	Created      map[wizard.StepKey][]string        `json:"created,omitempty"`
	LastError    string                             `json:"last_error,omitempty"`
	CanComplete  bool                               `json:"can_complete"`
	Finalized    bool                               `json:"finalized"`
	Attachment   *Attachment                        `json:"attachment,omitempty"`
	NavigateTo   string                             `json:"navigate_to,omitempty"`
	UpdatedAt    time.Time                          `json:"updated_at"`
}

func NewView(s *Session, eng *wizard.Engine) View {
	flow := eng.Flow()
	st := s.State

	steps := make([]StepView, len(flow.Steps))
	for i, def := range flow.Steps {
		status := StepPending
		switch {
		case i < st.Step, st.Finalized:
			status = StepDone
		case i == st.Step:
			status = StepCurrent
		}
		steps[i] = StepView{Key: def.Key, Label: def.Label, Kind: def.Kind, Status: status, Fields: def.Fields}
	}

	drafts := make(map[wizard.StepKey][]wizard.Entry, len(st.Drafts))
	for k := range st.Drafts {
		drafts[k] = st.DraftsFor(k)
	}

	return View{
		ID:           s.ID,
		Flow:         s.Flow,
		Title:        flow.Title,
		CurrentStep:  eng.Current(st).Key,
		StepIndex:    st.Step,
		Steps:        steps,
		ParentID:     st.ParentID,
		Precondition: st.Precondition,
		Drafts:       drafts,
		Created:      st.Created,
		LastError:    st.ErrorMessage(),
		CanComplete:  eng.CanComplete(st),
		Finalized:    st.Finalized,
		Attachment:   s.Attachment,
		NavigateTo:   s.NavigateTo,
		UpdatedAt:    s.UpdatedAt,
	}
}
