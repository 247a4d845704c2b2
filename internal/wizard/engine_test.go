package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// -- Mock Record Service --

type childCall struct {
	parentID string
	step     StepKey
	payload  Entry
}

type mockRecords struct {
	parentID    string
	parentErr   error
	parentCalls []Entry
	preSeen     []Precondition

	childCalls  []childCall
	failChildAt int // 1-based call number that fails; 0 means never
	childErr    error

	finalizeErr   error
	finalizeCalls []string

	searchCalls int
	found       []Precondition
}

func (m *mockRecords) CreateParent(_ context.Context, pre Precondition, payload Entry) (string, error) {
	m.parentCalls = append(m.parentCalls, payload)
	m.preSeen = append(m.preSeen, pre)
	if m.parentErr != nil {
		return "", m.parentErr
	}
	return m.parentID, nil
}

func (m *mockRecords) CreateChild(_ context.Context, parentID string, step StepKey, payload Entry) (string, error) {
	m.childCalls = append(m.childCalls, childCall{parentID: parentID, step: step, payload: payload})
	if m.failChildAt > 0 && len(m.childCalls) == m.failChildAt {
		return "", m.childErr
	}
	return fmt.Sprintf("%s-%d", step, len(m.childCalls)), nil
}

func (m *mockRecords) FinalizeParent(_ context.Context, parentID string) error {
	m.finalizeCalls = append(m.finalizeCalls, parentID)
	return m.finalizeErr
}

func (m *mockRecords) Search(_ context.Context, query string) ([]Precondition, error) {
	m.searchCalls++
	var out []Precondition
	for _, p := range m.found {
		if strings.Contains(strings.ToLower(p.Label), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	return out, nil
}

type navRecorder struct {
	paths []string
}

func (n *navRecorder) GoTo(path string) { n.paths = append(n.paths, path) }

// -- Test flows --

func visitFlow() Flow {
	return Flow{
		Name:                 "visit",
		Title:                "Visit",
		RequiresPrecondition: true,
		DonePath:             "/doctor/visits/{parent}",
		CancelPath:           "/doctor/patients",
		Steps: []StepDefinition{
			{Key: "basic", Label: "Basic Info", Kind: KindParent, Fields: []string{"visit_date", "visit_type", "chief_complaint"},
				FailureMessage: "Failed to create visit"},
			{Key: "symptoms", Label: "Symptoms", Kind: KindChildren, Fields: []string{"name", "severity"},
				Submittable: func(e Entry) bool { return e.Filled("name") }},
			{Key: "diagnosis", Label: "Diagnosis", Kind: KindChildren, Fields: []string{"name", "notes"},
				Submittable: func(e Entry) bool { return e.Filled("name") }},
		},
	}
}

func labFlow() Flow {
	return Flow{
		Name:                 "lab-report",
		Title:                "Lab Report",
		RequiresPrecondition: true,
		Finalize:             true,
		DonePath:             "/lab/reports/{parent}",
		CancelPath:           "/lab/reports",
		Steps: []StepDefinition{
			{Key: "select-patient", Label: "Select Patient", Kind: KindSelect, Fields: []string{"id", "label"}},
			{Key: "report-info", Label: "Report Info", Kind: KindParent, Fields: []string{"test_type"}},
			{Key: "add-tests", Label: "Add Tests", Kind: KindChildren, Fields: []string{"test_name", "value", "unit"},
				Submittable: func(e Entry) bool { return e.Filled("test_name", "value") }},
			{Key: "complete", Label: "Complete", Kind: KindReview},
		},
	}
}

func newEngine(t *testing.T, flow Flow, recs *mockRecords, opts ...Option) *Engine {
	t.Helper()
	e, err := New(flow, recs, opts...)
	if err != nil {
		t.Fatalf("unexpected error building engine: %v", err)
	}
	return e
}

func mustStep(t *testing.T, e *Engine, st State) StepKey {
	t.Helper()
	return e.Current(st).Key
}

// -- Flow validation --

func TestFlowValidate(t *testing.T) {
	if err := visitFlow().Validate(); err != nil {
		t.Fatalf("visit flow should be valid: %v", err)
	}
	if err := labFlow().Validate(); err != nil {
		t.Fatalf("lab flow should be valid: %v", err)
	}

	tests := []struct {
		name string
		flow Flow
	}{
		{"one step", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindParent}}}},
		{"no parent", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindSelect}, {Key: "b", Kind: KindSelect}}}},
		{"duplicate key", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindParent}, {Key: "a", Kind: KindChildren}}}},
		{"children before parent", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindChildren}, {Key: "b", Kind: KindParent}}}},
		{"review without finalize", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindParent}, {Key: "b", Kind: KindReview}}}},
		{"review not last", Flow{Name: "x", Finalize: true, Steps: []StepDefinition{{Key: "a", Kind: KindParent}, {Key: "r", Kind: KindReview}, {Key: "c", Kind: KindChildren}}}},
		{"unknown kind", Flow{Name: "x", Steps: []StepDefinition{{Key: "a", Kind: KindParent}, {Key: "b", Kind: "bogus"}}}},
		{"no name", Flow{Steps: []StepDefinition{{Key: "a", Kind: KindParent}, {Key: "b", Kind: KindChildren}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow.Validate()
			if !errors.Is(err, ErrInvalidFlow) {
				t.Errorf("expected ErrInvalidFlow, got %v", err)
			}
		})
	}
}

func TestNew_FinalizeNeedsFinalizer(t *testing.T) {
	type createOnly struct{ RecordService }
	_, err := New(labFlow(), createOnly{&mockRecords{}})
	if !errors.Is(err, ErrInvalidFlow) {
		t.Errorf("expected ErrInvalidFlow, got %v", err)
	}
}

// -- Initialize --

func TestInitialize(t *testing.T) {
	e := newEngine(t, visitFlow(), &mockRecords{})

	st, err := e.Initialize(Precondition{ID: "P001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mustStep(t, e, st) != "basic" {
		t.Errorf("expected basic, got %s", mustStep(t, e, st))
	}
	if st.HasParent() {
		t.Error("expected no parent")
	}
	for _, k := range []StepKey{"symptoms", "diagnosis"} {
		if rows, ok := st.Drafts[k]; !ok || len(rows) != 0 {
			t.Errorf("expected empty drafts for %s, got %v", k, rows)
		}
	}
	if len(st.Drafts["basic"]) != 1 {
		t.Errorf("expected one blank parent row, got %d", len(st.Drafts["basic"]))
	}
}

func TestInitialize_MissingPrecondition(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)

	st, err := e.Initialize(Precondition{})
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Fatalf("expected ErrMissingPrecondition, got %v", err)
	}
	if st.Flow != "visit" {
		t.Error("expected a usable state alongside the error")
	}

	st, err = e.SubmitStep(context.Background(), st, "basic", Entry{"visit_date": "2024-05-01"})
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Fatalf("expected ErrMissingPrecondition on submit, got %v", err)
	}
	if len(recs.parentCalls) != 0 {
		t.Errorf("expected no create call, got %d", len(recs.parentCalls))
	}
	if st.ErrorMessage() == "" {
		t.Error("expected last error to be set")
	}
}

func TestInitialize_SelectStepSuppliesPrecondition(t *testing.T) {
	e := newEngine(t, labFlow(), &mockRecords{})
	if _, err := e.Initialize(Precondition{}); err != nil {
		t.Errorf("expected no error when a select step comes first, got %v", err)
	}
}

type staticSource struct {
	pre Precondition
	ok  bool
	n   int
}

func (s *staticSource) Precondition(context.Context) (Precondition, bool) {
	s.n++
	return s.pre, s.ok
}

func TestInitializeFrom_ReadsOnce(t *testing.T) {
	e := newEngine(t, visitFlow(), &mockRecords{})
	src := &staticSource{pre: Precondition{ID: "P001", Label: "Jane Doe"}, ok: true}

	st, err := e.InitializeFrom(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Precondition.ID != "P001" {
		t.Errorf("expected P001, got %s", st.Precondition.ID)
	}
	if src.n != 1 {
		t.Errorf("expected source to be read once, got %d", src.n)
	}
}

// -- Parent step --

func TestSubmitParent_Success(t *testing.T) {
	recs := &mockRecords{parentID: "V_generated"}
	e := newEngine(t, visitFlow(), recs)
	st, _ := e.Initialize(Precondition{ID: "P001"})

	payload := Entry{"visit_date": "2024-05-01", "visit_type": "consultation", "chief_complaint": "headache"}
	st, err := e.SubmitStep(context.Background(), st, "basic", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.ParentID != "V_generated" {
		t.Errorf("expected V_generated, got %s", st.ParentID)
	}
	if mustStep(t, e, st) != "symptoms" {
		t.Errorf("expected symptoms, got %s", mustStep(t, e, st))
	}
	if recs.preSeen[0].ID != "P001" {
		t.Errorf("expected precondition P001 passed to service, got %s", recs.preSeen[0].ID)
	}
	if recs.parentCalls[0]["chief_complaint"] != "headache" {
		t.Errorf("expected full payload sent, got %v", recs.parentCalls[0])
	}
}

func TestSubmitParent_FailureUsesServiceMessage(t *testing.T) {
	recs := &mockRecords{parentErr: &ServiceError{Message: "visit_date is required"}}
	e := newEngine(t, visitFlow(), recs)
	st, _ := e.Initialize(Precondition{ID: "P001"})

	st, err := e.SubmitStep(context.Background(), st, "basic", Entry{"visit_type": "consultation"})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "basic" {
		t.Fatalf("expected StepError for basic, got %v", err)
	}
	if st.HasParent() {
		t.Error("expected parent to stay unset")
	}
	if mustStep(t, e, st) != "basic" {
		t.Errorf("expected to stay on basic, got %s", mustStep(t, e, st))
	}
	if st.ErrorMessage() != "visit_date is required" {
		t.Errorf("expected service message, got %q", st.ErrorMessage())
	}
	if st.Drafts["basic"][0]["visit_type"] != "consultation" {
		t.Error("expected entered data to be kept")
	}
}

func TestSubmitParent_FailureFallsBackToGenericMessage(t *testing.T) {
	recs := &mockRecords{parentErr: errors.New("connection refused")}
	e := newEngine(t, visitFlow(), recs)
	st, _ := e.Initialize(Precondition{ID: "P001"})

	st, _ = e.SubmitStep(context.Background(), st, "basic", Entry{})
	if st.ErrorMessage() != "Failed to create visit" {
		t.Errorf("expected fallback message, got %q", st.ErrorMessage())
	}
}

func TestSubmitParent_ValidateBlocksCall(t *testing.T) {
	flow := visitFlow()
	flow.Steps[0].Validate = func(e Entry) error {
		if !e.Filled("visit_date") {
			return errors.New("Visit date is required")
		}
		return nil
	}
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, flow, recs)
	st, _ := e.Initialize(Precondition{ID: "P001"})

	st, err := e.SubmitStep(context.Background(), st, "basic", Entry{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(recs.parentCalls) != 0 {
		t.Errorf("expected no create call, got %d", len(recs.parentCalls))
	}
	if st.ErrorMessage() != "Visit date is required" {
		t.Errorf("unexpected message %q", st.ErrorMessage())
	}
}

func TestSubmitParent_UsesDraftRowWhenPayloadNil(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)
	st, _ := e.Initialize(Precondition{ID: "P001"})
	st, _ = e.UpdateDraftEntry(st, "basic", 0, "visit_type", "follow-up")

	if _, err := e.SubmitStep(context.Background(), st, "basic", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recs.parentCalls[0]["visit_type"] != "follow-up" {
		t.Errorf("expected draft row to be sent, got %v", recs.parentCalls[0])
	}
}

func TestParentCreatedOnlyOnce(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})

	st, _ = e.SubmitStep(ctx, st, "basic", Entry{"visit_date": "2024-05-01"})
	recs.parentID = "V2"

	// A step other than the current one cannot be submitted.
	if _, err := e.SubmitStep(ctx, st, "basic", Entry{}); !errors.Is(err, ErrStepMismatch) {
		t.Errorf("expected ErrStepMismatch, got %v", err)
	}

	st, _ = e.GoBack(st)
	st, err := e.SubmitStep(ctx, st, "basic", Entry{"visit_date": "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.ParentID != "V1" {
		t.Errorf("expected parent to stay V1, got %s", st.ParentID)
	}
	if len(recs.parentCalls) != 1 {
		t.Errorf("expected exactly one create call, got %d", len(recs.parentCalls))
	}
	if mustStep(t, e, st) != "symptoms" {
		t.Errorf("expected to move on to symptoms, got %s", mustStep(t, e, st))
	}
}

// -- Children steps --

func TestSubmitChildren_FiltersAndKeepsOrder(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})
	st, _ = e.SubmitStep(ctx, st, "basic", Entry{"visit_date": "2024-05-01"})

	names := []string{"fever", "", "cough", "  ", "nausea"}
	for i, n := range names {
		st, _ = e.AddDraftEntry(st, "symptoms", nil)
		st, _ = e.UpdateDraftEntry(st, "symptoms", i, "name", n)
	}

	st, err := e.SubmitStep(ctx, st, "symptoms", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs.childCalls) != 3 {
		t.Fatalf("expected 3 child calls, got %d", len(recs.childCalls))
	}
	for i, want := range []string{"fever", "cough", "nausea"} {
		if recs.childCalls[i].payload["name"] != want {
			t.Errorf("call %d: expected %s, got %s", i, want, recs.childCalls[i].payload["name"])
		}
		if recs.childCalls[i].parentID != "V1" {
			t.Errorf("call %d: expected parent V1, got %s", i, recs.childCalls[i].parentID)
		}
	}
	if mustStep(t, e, st) != "diagnosis" {
		t.Errorf("expected diagnosis, got %s", mustStep(t, e, st))
	}
	if len(st.Drafts["symptoms"]) != 5 {
		t.Errorf("expected incomplete rows to stay in drafts, got %d rows", len(st.Drafts["symptoms"]))
	}
}

func TestSubmitChildren_EmptyIsNoOpSuccess(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})
	st, _ = e.SubmitStep(ctx, st, "basic", Entry{})
	st, _ = e.AddDraftEntry(st, "symptoms", nil)

	st, err := e.SubmitStep(ctx, st, "symptoms", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs.childCalls) != 0 {
		t.Errorf("expected no calls, got %d", len(recs.childCalls))
	}
	if mustStep(t, e, st) != "diagnosis" {
		t.Errorf("expected diagnosis, got %s", mustStep(t, e, st))
	}
}

func TestSubmitChildren_PartialFailure(t *testing.T) {
	recs := &mockRecords{parentID: "V1", failChildAt: 3, childErr: &ServiceError{Message: "duplicate symptom"}}
	e := newEngine(t, visitFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})
	st, _ = e.SubmitStep(ctx, st, "basic", Entry{})
	for i, n := range []string{"a", "b", "c", "d"} {
		st, _ = e.AddDraftEntry(st, "symptoms", nil)
		st, _ = e.UpdateDraftEntry(st, "symptoms", i, "name", n)
	}

	st, err := e.SubmitStep(ctx, st, "symptoms", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Errorf("expected ServiceError in chain, got %v", err)
	}
	if len(recs.childCalls) != 3 {
		t.Errorf("expected the 4th row never to be sent, got %d calls", len(recs.childCalls))
	}
	if got := st.Created["symptoms"]; len(got) != 2 {
		t.Errorf("expected 2 recorded creations, got %v", got)
	}
	if mustStep(t, e, st) != "symptoms" {
		t.Errorf("expected to stay on symptoms, got %s", mustStep(t, e, st))
	}
	if st.ErrorMessage() != "duplicate symptom" {
		t.Errorf("unexpected message %q", st.ErrorMessage())
	}
	if len(st.Drafts["symptoms"]) != 4 {
		t.Errorf("expected drafts intact, got %d", len(st.Drafts["symptoms"]))
	}

	// Retrying sends every submittable row again; there is no dedup.
	recs.failChildAt = 0
	st, err = e.SubmitStep(ctx, st, "symptoms", nil)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if len(recs.childCalls) != 7 {
		t.Errorf("expected 4 more calls on retry, got %d total", len(recs.childCalls))
	}
	if st.LastError != nil {
		t.Error("expected last error to be cleared on a new attempt")
	}
}

// -- Draft editing --

func TestDraftEditing(t *testing.T) {
	e := newEngine(t, visitFlow(), &mockRecords{})
	st, _ := e.Initialize(Precondition{ID: "P001"})

	st, err := e.AddDraftEntry(st, "symptoms", Entry{"name": "fever"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ = e.AddDraftEntry(st, "symptoms", nil)
	if _, ok := st.Drafts["symptoms"][1]["severity"]; !ok {
		t.Error("expected blank row to carry the step fields")
	}

	before := st
	st, err = e.UpdateDraftEntry(st, "symptoms", 1, "name", "cough")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before.Drafts["symptoms"][1]["name"] != "" {
		t.Error("expected input state to stay unchanged")
	}
	if st.Drafts["symptoms"][0]["name"] != "fever" || st.Drafts["symptoms"][1]["name"] != "cough" {
		t.Errorf("unexpected drafts %v", st.Drafts["symptoms"])
	}

	same, err := e.UpdateDraftEntry(st, "symptoms", 5, "name", "x")
	if !errors.Is(err, ErrEntryOutOfRange) {
		t.Errorf("expected ErrEntryOutOfRange, got %v", err)
	}
	if same.Drafts["symptoms"][0]["name"] != "fever" || same.Drafts["symptoms"][1]["name"] != "cough" {
		t.Error("expected other entries untouched")
	}

	st, err = e.RemoveDraftEntry(st, "symptoms", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Drafts["symptoms"]) != 1 || st.Drafts["symptoms"][0]["name"] != "cough" {
		t.Errorf("unexpected drafts after remove %v", st.Drafts["symptoms"])
	}

	if _, err := e.AddDraftEntry(st, "basic", nil); !errors.Is(err, ErrNotDraftStep) {
		t.Errorf("expected ErrNotDraftStep, got %v", err)
	}
	if _, err := e.AddDraftEntry(st, "nope", nil); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
}

// -- Back navigation --

func TestGoBack_PreservesDrafts(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	e := newEngine(t, visitFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})

	if _, err := e.GoBack(st); !errors.Is(err, ErrAtFirstStep) {
		t.Errorf("expected ErrAtFirstStep, got %v", err)
	}

	st, _ = e.SubmitStep(ctx, st, "basic", Entry{})
	st, _ = e.AddDraftEntry(st, "symptoms", Entry{"name": "fever", "severity": "high"})
	st, _ = e.AddDraftEntry(st, "symptoms", Entry{"name": "", "severity": "low"})
	want := st.DraftsFor("symptoms")

	st, err := e.GoBack(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mustStep(t, e, st) != "basic" {
		t.Errorf("expected basic, got %s", mustStep(t, e, st))
	}
	if st.ParentID != "V1" {
		t.Error("expected parent to survive going back")
	}

	st, _ = e.SubmitStep(ctx, st, "basic", nil)
	got := st.DraftsFor("symptoms")
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		for k, v := range want[i] {
			if got[i][k] != v {
				t.Errorf("row %d field %s: expected %q, got %q", i, k, v, got[i][k])
			}
		}
	}
}

// -- Complete --

func TestComplete_NoFinalizeFlow(t *testing.T) {
	recs := &mockRecords{parentID: "V1"}
	nav := &navRecorder{}
	e := newEngine(t, visitFlow(), recs, WithNavigation(nav))
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})

	if _, _, err := e.Complete(ctx, st); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}

	st, _ = e.SubmitStep(ctx, st, "basic", Entry{})
	st, _ = e.SubmitStep(ctx, st, "symptoms", nil)
	st, err := e.SubmitStep(ctx, st, "diagnosis", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mustStep(t, e, st) != "diagnosis" {
		t.Errorf("expected to stay on the last step, got %s", mustStep(t, e, st))
	}
	if len(nav.paths) != 0 {
		t.Error("expected no navigation before complete")
	}

	st, done, err := e.Complete(ctx, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Finalized {
		t.Error("expected finalized")
	}
	if len(recs.finalizeCalls) != 0 {
		t.Error("expected no finalize call for a flow without finalize")
	}
	if done.NavigateTo != "/doctor/visits/V1" || len(nav.paths) != 1 || nav.paths[0] != "/doctor/visits/V1" {
		t.Errorf("unexpected navigation %v / %v", done, nav.paths)
	}

	if _, err := e.SubmitStep(ctx, st, "diagnosis", nil); !errors.Is(err, ErrFinalized) {
		t.Errorf("expected ErrFinalized, got %v", err)
	}
	if _, err := e.GoBack(st); !errors.Is(err, ErrFinalized) {
		t.Errorf("expected ErrFinalized, got %v", err)
	}
}

func TestComplete_FinalizeFailureKeepsWizardOpen(t *testing.T) {
	recs := &mockRecords{parentID: "LR1", finalizeErr: errors.New("timeout")}
	nav := &navRecorder{}
	e := newEngine(t, labFlow(), recs, WithNavigation(nav))
	ctx := context.Background()

	st, _ := e.Initialize(Precondition{})
	st, _ = e.SubmitStep(ctx, st, "select-patient", Entry{"id": "P001", "label": "Jane Doe"})
	st, _ = e.SubmitStep(ctx, st, "report-info", Entry{"test_type": "CBC"})
	st, _ = e.AddDraftEntry(st, "add-tests", Entry{"test_name": "Hemoglobin", "value": "13.5"})
	st, _ = e.SubmitStep(ctx, st, "add-tests", nil)
	if mustStep(t, e, st) != "complete" {
		t.Fatalf("expected complete step, got %s", mustStep(t, e, st))
	}

	st, _, err := e.Complete(ctx, st)
	if err == nil {
		t.Fatal("expected error")
	}
	if st.Finalized {
		t.Error("expected not finalized")
	}
	if st.ErrorMessage() != "Failed to complete lab report" {
		t.Errorf("unexpected message %q", st.ErrorMessage())
	}
	if len(nav.paths) != 0 {
		t.Error("expected no navigation on failure")
	}

	// More tests can still be added before retrying.
	st, _ = e.GoBack(st)
	st, err = e.AddDraftEntry(st, "add-tests", Entry{"test_name": "WBC", "value": "7.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Drafts["add-tests"]) != 2 {
		t.Errorf("expected drafts intact, got %d", len(st.Drafts["add-tests"]))
	}

	recs.finalizeErr = nil
	st, _ = e.SubmitStep(ctx, st, "add-tests", nil)
	st, err = e.SubmitStep(ctx, st, "complete", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Finalized {
		t.Error("expected finalized via the review step")
	}
	if len(recs.finalizeCalls) != 2 || recs.finalizeCalls[1] != "LR1" {
		t.Errorf("unexpected finalize calls %v", recs.finalizeCalls)
	}
	if len(nav.paths) != 1 || nav.paths[0] != "/lab/reports/LR1" {
		t.Errorf("unexpected navigation %v", nav.paths)
	}
}

func TestCancel(t *testing.T) {
	nav := &navRecorder{}
	e := newEngine(t, visitFlow(), &mockRecords{}, WithNavigation(nav))
	st, _ := e.Initialize(Precondition{ID: "P001"})

	if path := e.Cancel(st); path != "/doctor/patients" {
		t.Errorf("unexpected path %s", path)
	}
	if len(nav.paths) != 1 {
		t.Errorf("expected one navigation, got %d", len(nav.paths))
	}
}

// -- Select step and search --

func TestSelectStep(t *testing.T) {
	recs := &mockRecords{parentID: "LR1"}
	e := newEngine(t, labFlow(), recs)
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{})

	st, err := e.SubmitStep(ctx, st, "select-patient", Entry{})
	if !errors.Is(err, ErrMissingPrecondition) {
		t.Errorf("expected ErrMissingPrecondition, got %v", err)
	}

	st, err = e.SubmitStep(ctx, st, "select-patient", Entry{"id": "P001", "label": "Jane Doe"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Precondition.ID != "P001" || st.Precondition.Label != "Jane Doe" {
		t.Errorf("unexpected precondition %+v", st.Precondition)
	}
	st, _ = e.SubmitStep(ctx, st, "report-info", Entry{"test_type": "CBC"})

	st, _ = e.GoBack(st)
	st, _ = e.GoBack(st)
	if _, err := e.SubmitStep(ctx, st, "select-patient", Entry{"id": "P002"}); !errors.Is(err, ErrPreconditionLocked) {
		t.Errorf("expected ErrPreconditionLocked, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	recs := &mockRecords{found: []Precondition{{ID: "P001", Label: "Jane Doe"}, {ID: "P002", Label: "John Smith"}}}
	e := newEngine(t, labFlow(), recs)
	ctx := context.Background()

	got, err := e.Search(ctx, "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 || recs.searchCalls != 0 {
		t.Errorf("expected empty result without a call, got %v (%d calls)", got, recs.searchCalls)
	}

	got, err = e.Search(ctx, "jane")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "P001" {
		t.Errorf("unexpected result %v", got)
	}
}

// -- Observer --

type eventLog struct{ events []Event }

func (l *eventLog) Observe(ev Event) { l.events = append(l.events, ev) }

func TestObserver(t *testing.T) {
	recs := &mockRecords{parentID: "V1", failChildAt: 1, childErr: errors.New("boom")}
	log := &eventLog{}
	e := newEngine(t, visitFlow(), recs, WithObserver(log))
	ctx := context.Background()
	st, _ := e.Initialize(Precondition{ID: "P001"})
	st, _ = e.SubmitStep(ctx, st, "basic", Entry{})
	st, _ = e.AddDraftEntry(st, "symptoms", Entry{"name": "fever"})
	_, _ = e.SubmitStep(ctx, st, "symptoms", nil)

	if len(log.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(log.events))
	}
	if log.events[0].Outcome != OutcomeSuccess || log.events[0].Step != "basic" || log.events[0].Flow != "visit" {
		t.Errorf("unexpected first event %+v", log.events[0])
	}
	if log.events[1].Outcome != OutcomeFailure || log.events[1].Op != OpSubmit {
		t.Errorf("unexpected second event %+v", log.events[1])
	}
}

func TestServiceMessage(t *testing.T) {
	if got := ServiceMessage(&ServiceError{Message: "nope"}, "fallback"); got != "nope" {
		t.Errorf("expected nope, got %s", got)
	}
	if got := ServiceMessage(fmt.Errorf("wrapped: %w", &ServiceError{Message: " "}), "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
	if got := ServiceMessage(errors.New("plain"), "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}
