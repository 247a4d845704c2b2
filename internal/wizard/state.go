package wizard

// Precondition is the upstream selection a flow depends on, normally the
// patient the record is created for.
type Precondition struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

func (p Precondition) IsZero() bool { return p.ID == "" }

// ErrorInfo is the message of the last failed operation.
type ErrorInfo struct {
	Message string `json:"message"`
}

// State is a snapshot of one wizard. Treat it as a value: the engine copies it
// before every change.
type State struct {
	Flow         string               `json:"flow"`
	Step         int                  `json:"step"`
	ParentID     string               `json:"parent_id,omitempty"`
	Precondition Precondition         `json:"precondition"`
	Drafts       map[StepKey][]Entry  `json:"drafts"`
	Created      map[StepKey][]string `json:"created,omitempty"`
	Submitted    map[StepKey]bool     `json:"submitted,omitempty"`
	LastError    *ErrorInfo           `json:"last_error,omitempty"`
	Finalized    bool                 `json:"finalized"`
}

// HasParent reports whether the parent record exists.
func (s State) HasParent() bool { return s.ParentID != "" }

// DraftsFor returns a copy of the draft rows of a step.
func (s State) DraftsFor(key StepKey) []Entry {
	rows := s.Drafts[key]
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// ErrorMessage returns the last error message or "".
func (s State) ErrorMessage() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Message
}

// clone deep-copies the maps so the returned state shares nothing with s.
func (s State) clone() State {
	out := s
	out.Drafts = make(map[StepKey][]Entry, len(s.Drafts))
	for k, rows := range s.Drafts {
		cp := make([]Entry, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		out.Drafts[k] = cp
	}
	out.Created = make(map[StepKey][]string, len(s.Created))
	for k, ids := range s.Created {
		out.Created[k] = append([]string(nil), ids...)
	}
	out.Submitted = make(map[StepKey]bool, len(s.Submitted))
	for k, v := range s.Submitted {
		out.Submitted[k] = v
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

func (s *State) fail(msg string) {
	s.LastError = &ErrorInfo{Message: msg}
}
