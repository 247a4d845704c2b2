package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RecordService creates the records a flow produces.
type RecordService interface {
	CreateParent(ctx context.Context, pre Precondition, payload Entry) (string, error)
	CreateChild(ctx context.Context, parentID string, step StepKey, payload Entry) (string, error)
}

// Finalizer marks a parent record complete.
type Finalizer interface {
	FinalizeParent(ctx context.Context, parentID string) error
}

// Searcher looks up candidates for a select step.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Precondition, error)
}

// NavigationSink receives the path to go to once a flow is done or cancelled.
type NavigationSink interface {
	GoTo(path string)
}

// NavigationFunc adapts a function to NavigationSink.
type NavigationFunc func(path string)

func (f NavigationFunc) GoTo(path string) { f(path) }

// PreconditionSource is read once when a wizard starts.
type PreconditionSource interface {
	Precondition(ctx context.Context) (Precondition, bool)
}

var ErrNoParent = errors.New("parent record has not been created")

// Completion is the result of a successful Complete.
type Completion struct {
	ParentID   string `json:"parent_id"`
	NavigateTo string `json:"navigate_to,omitempty"`
}

// Engine runs one flow. It holds no per-wizard state and is safe to share;
// callers must not submit the same State concurrently.
type Engine struct {
	flow     Flow
	records  RecordService
	final    Finalizer
	searcher Searcher
	nav      NavigationSink
	obs      Observer
	logger   zerolog.Logger
}

type Option func(*Engine)

func WithNavigation(n NavigationSink) Option { return func(e *Engine) { e.nav = n } }

func WithFinalizer(f Finalizer) Option { return func(e *Engine) { e.final = f } }

func WithSearcher(s Searcher) Option { return func(e *Engine) { e.searcher = s } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New validates flow and builds an engine around records. When records also
// implements Finalizer or Searcher it is used for those roles unless an option
// overrides it.
func New(flow Flow, records RecordService, opts ...Option) (*Engine, error) {
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, fmt.Errorf("%w: %s has no record service", ErrInvalidFlow, flow.Name)
	}
	e := &Engine{flow: flow, records: records, logger: zerolog.Nop()}
	if f, ok := records.(Finalizer); ok {
		e.final = f
	}
	if s, ok := records.(Searcher); ok {
		e.searcher = s
	}
	for _, opt := range opts {
		opt(e)
	}
	if flow.Finalize && e.final == nil {
		return nil, fmt.Errorf("%w: %s finalizes but has no finalizer", ErrInvalidFlow, flow.Name)
	}
	e.logger = e.logger.With().Str("flow", flow.Name).Logger()
	return e, nil
}

func (e *Engine) Flow() Flow { return e.flow }

// Current returns the definition of the step st is on.
func (e *Engine) Current(st State) StepDefinition {
	if st.Step < 0 || st.Step >= len(e.flow.Steps) {
		return StepDefinition{}
	}
	return e.flow.Steps[st.Step]
}

// Initialize positions a new wizard on the first step. When the flow needs a
// precondition that no select step can provide and pre is empty, the state is
// still returned together with ErrMissingPrecondition; the parent step stays
// blocked until the caller supplies one.
func (e *Engine) Initialize(pre Precondition) (State, error) {
	st := State{
		Flow:         e.flow.Name,
		Precondition: pre,
		Drafts:       make(map[StepKey][]Entry, len(e.flow.Steps)),
		Created:      make(map[StepKey][]string),
		Submitted:    make(map[StepKey]bool),
	}
	for _, s := range e.flow.Steps {
		switch s.Kind {
		case KindSelect, KindParent:
			st.Drafts[s.Key] = []Entry{s.blank()}
		default:
			st.Drafts[s.Key] = []Entry{}
		}
	}
	if e.flow.RequiresPrecondition && pre.IsZero() && e.flow.Steps[0].Kind != KindSelect {
		return st, ErrMissingPrecondition
	}
	return st, nil
}

// InitializeFrom reads src once and initializes with what it holds.
func (e *Engine) InitializeFrom(ctx context.Context, src PreconditionSource) (State, error) {
	var pre Precondition
	if src != nil {
		if p, ok := src.Precondition(ctx); ok {
			pre = p
		}
	}
	return e.Initialize(pre)
}

// Search returns candidates for a select step. A blank query returns nothing
// without calling the searcher.
func (e *Engine) Search(ctx context.Context, query string) ([]Precondition, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Precondition{}, nil
	}
	if e.searcher == nil {
		return nil, fmt.Errorf("%s: search is not available", e.flow.Name)
	}
	start := time.Now()
	found, err := e.searcher.Search(ctx, query)
	e.observe(Event{Op: OpSearch, Outcome: outcomeOf(err), Duration: time.Since(start)})
	if err != nil {
		return nil, asServiceError(err)
	}
	if found == nil {
		found = []Precondition{}
	}
	return found, nil
}

// SubmitStep submits the current step. On failure the returned state carries
// LastError and keeps every draft; the returned error is a *StepError.
func (e *Engine) SubmitStep(ctx context.Context, st State, key StepKey, payload Entry) (State, error) {
	if st.Finalized {
		return st, &StepError{Step: key, Err: ErrFinalized}
	}
	def, ok := e.flow.Step(key)
	if !ok {
		return st, &StepError{Step: key, Err: ErrUnknownStep}
	}
	if e.flow.Index(key) != st.Step {
		return st, &StepError{Step: key, Err: ErrStepMismatch}
	}
	if def.Kind == KindReview {
		next, _, err := e.Complete(ctx, st)
		return next, err
	}

	next := st.clone()
	next.LastError = nil
	start := time.Now()

	var err error
	created := 0
	switch def.Kind {
	case KindSelect:
		err = e.submitSelect(&next, def, payload)
	case KindParent:
		err = e.submitParent(ctx, &next, def, payload)
	case KindChildren:
		created, err = e.submitChildren(ctx, &next, def)
	}

	e.observe(Event{Op: OpSubmit, Step: key, Outcome: outcomeOf(err), Created: created, Duration: time.Since(start)})
	if err != nil {
		e.logger.Warn().Err(err).Str("step", string(key)).Int("created", created).Msg("step submission failed")
		return next, &StepError{Step: key, Err: err}
	}

	next.Submitted[key] = true
	e.advance(&next)
	e.logger.Debug().Str("step", string(key)).Int("created", created).Str("parent_id", next.ParentID).Msg("step submitted")
	return next, nil
}

func (e *Engine) submitSelect(st *State, def StepDefinition, payload Entry) error {
	if payload == nil {
		payload = firstRow(st.Drafts[def.Key])
	}
	st.Drafts[def.Key] = []Entry{payload.Clone()}

	id := strings.TrimSpace(payload["id"])
	if id == "" {
		st.fail(ErrMissingPrecondition.Error())
		return ErrMissingPrecondition
	}
	if def.Validate != nil {
		if err := def.Validate(payload); err != nil {
			st.fail(err.Error())
			return err
		}
	}
	if st.HasParent() && id != st.Precondition.ID {
		st.fail(ErrPreconditionLocked.Error())
		return ErrPreconditionLocked
	}
	st.Precondition = Precondition{ID: id, Label: payload["label"]}
	return nil
}

func (e *Engine) submitParent(ctx context.Context, st *State, def StepDefinition, payload Entry) error {
	if payload == nil {
		payload = firstRow(st.Drafts[def.Key])
	}
	st.Drafts[def.Key] = []Entry{payload.Clone()}

	if e.flow.RequiresPrecondition && st.Precondition.IsZero() {
		st.fail(ErrMissingPrecondition.Error())
		return ErrMissingPrecondition
	}
	if st.HasParent() {
		// The parent id never changes once set; resubmitting only moves on.
		return nil
	}
	if def.Validate != nil {
		if err := def.Validate(payload); err != nil {
			st.fail(err.Error())
			return err
		}
	}

	id, err := e.records.CreateParent(ctx, st.Precondition, payload.Clone())
	if err == nil && id == "" {
		err = &ServiceError{Err: errors.New("record service returned no id")}
	}
	if err != nil {
		st.fail(ServiceMessage(err, def.failureMessage()))
		return asServiceError(err)
	}
	st.ParentID = id
	return nil
}

// submitChildren sends the submittable rows one at a time, in order, and stops
// at the first failure. Rows created before the failure stay created.
func (e *Engine) submitChildren(ctx context.Context, st *State, def StepDefinition) (int, error) {
	if !st.HasParent() {
		st.fail(def.failureMessage())
		return 0, ErrNoParent
	}
	created := 0
	for i, row := range st.Drafts[def.Key] {
		if !def.submittable(row) {
			continue
		}
		id, err := e.records.CreateChild(ctx, st.ParentID, def.Key, row.Clone())
		if err != nil {
			e.logger.Debug().Err(err).Str("step", string(def.Key)).Int("row", i).Msg("child create failed")
			st.fail(ServiceMessage(err, def.failureMessage()))
			return created, asServiceError(err)
		}
		st.Created[def.Key] = append(st.Created[def.Key], id)
		created++
	}
	return created, nil
}

func (e *Engine) advance(st *State) {
	if st.Step < len(e.flow.Steps)-1 {
		st.Step++
	}
}

// AddDraftEntry appends a row to a children step. A nil blank uses the step's
// field list.
func (e *Engine) AddDraftEntry(st State, key StepKey, blank Entry) (State, error) {
	def, err := e.draftStep(st, key)
	if err != nil {
		return st, err
	}
	row := blank.Clone()
	if row == nil {
		row = def.blank()
	}
	next := st.clone()
	next.Drafts[key] = append(next.Drafts[key], row)
	return next, nil
}

// UpdateDraftEntry sets one field of one row. Select and parent steps hold a
// single row at index 0.
func (e *Engine) UpdateDraftEntry(st State, key StepKey, index int, field, value string) (State, error) {
	if st.Finalized {
		return st, ErrFinalized
	}
	if _, ok := e.flow.Step(key); !ok {
		return st, ErrUnknownStep
	}
	rows := st.Drafts[key]
	if index < 0 || index >= len(rows) {
		return st, ErrEntryOutOfRange
	}
	next := st.clone()
	if next.Drafts[key][index] == nil {
		next.Drafts[key][index] = Entry{}
	}
	next.Drafts[key][index][field] = value
	return next, nil
}

// RemoveDraftEntry drops one row from a children step.
func (e *Engine) RemoveDraftEntry(st State, key StepKey, index int) (State, error) {
	if _, err := e.draftStep(st, key); err != nil {
		return st, err
	}
	rows := st.Drafts[key]
	if index < 0 || index >= len(rows) {
		return st, ErrEntryOutOfRange
	}
	next := st.clone()
	next.Drafts[key] = append(next.Drafts[key][:index], next.Drafts[key][index+1:]...)
	return next, nil
}

func (e *Engine) draftStep(st State, key StepKey) (StepDefinition, error) {
	if st.Finalized {
		return StepDefinition{}, ErrFinalized
	}
	def, ok := e.flow.Step(key)
	if !ok {
		return StepDefinition{}, ErrUnknownStep
	}
	if def.Kind != KindChildren {
		return StepDefinition{}, ErrNotDraftStep
	}
	return def, nil
}

// GoBack moves to the previous step. Drafts, the parent and created children
// are left alone. At the first step it returns st and ErrAtFirstStep, which
// callers may ignore.
func (e *Engine) GoBack(st State) (State, error) {
	if st.Finalized {
		return st, ErrFinalized
	}
	if st.Step <= 0 {
		return st, ErrAtFirstStep
	}
	next := st.clone()
	next.Step--
	next.LastError = nil
	return next, nil
}

// CanComplete reports whether Complete may be attempted from st.
func (e *Engine) CanComplete(st State) bool {
	if st.Finalized {
		return false
	}
	last := e.flow.lastContent()
	return st.Step >= last && st.Submitted[e.flow.Steps[last].Key]
}

// Complete finishes the wizard. Flows that finalize call the Finalizer; on
// failure the state stays where it is with LastError set.
func (e *Engine) Complete(ctx context.Context, st State) (State, Completion, error) {
	key := e.Current(st).Key
	if st.Finalized {
		return st, Completion{}, &StepError{Step: key, Err: ErrFinalized}
	}
	if !e.CanComplete(st) {
		return st, Completion{}, &StepError{Step: key, Err: ErrNotReady}
	}

	next := st.clone()
	next.LastError = nil
	start := time.Now()

	if e.flow.Finalize {
		if err := e.final.FinalizeParent(ctx, next.ParentID); err != nil {
			next.fail(ServiceMessage(err, e.completeFailure()))
			e.observe(Event{Op: OpComplete, Step: key, Outcome: OutcomeFailure, Duration: time.Since(start)})
			e.logger.Warn().Err(err).Str("parent_id", next.ParentID).Msg("finalize failed")
			return next, Completion{}, &StepError{Step: key, Err: asServiceError(err)}
		}
	}

	next.Finalized = true
	if ri := e.flow.reviewIndex(); ri >= 0 {
		next.Step = ri
	}
	done := Completion{ParentID: next.ParentID, NavigateTo: e.flow.path(e.flow.DonePath, next.ParentID)}
	e.observe(Event{Op: OpComplete, Step: key, Outcome: OutcomeSuccess, Duration: time.Since(start)})
	e.logger.Info().Str("parent_id", next.ParentID).Msg("wizard completed")

	if e.nav != nil && done.NavigateTo != "" {
		e.nav.GoTo(done.NavigateTo)
	}
	return next, done, nil
}

// Cancel hands the cancel path to the navigation sink and returns it.
func (e *Engine) Cancel(st State) string {
	path := e.flow.path(e.flow.CancelPath, st.ParentID)
	if e.nav != nil && path != "" {
		e.nav.GoTo(path)
	}
	return path
}

func (e *Engine) completeFailure() string {
	if ri := e.flow.reviewIndex(); ri >= 0 && e.flow.Steps[ri].FailureMessage != "" {
		return e.flow.Steps[ri].FailureMessage
	}
	return fmt.Sprintf("Failed to complete %s", strings.ToLower(e.title()))
}

func (e *Engine) title() string {
	if e.flow.Title != "" {
		return e.flow.Title
	}
	return e.flow.Name
}

func (e *Engine) observe(ev Event) {
	if e.obs == nil {
		return
	}
	ev.Flow = e.flow.Name
	e.obs.Observe(ev)
}

func firstRow(rows []Entry) Entry {
	if len(rows) == 0 || rows[0] == nil {
		return Entry{}
	}
	return rows[0].Clone()
}

func asServiceError(err error) error {
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Err: err}
}
