package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/flows"
	"github.com/ehr/portal/internal/platform/attachment"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/platform/blobstore"
	"github.com/ehr/portal/internal/wizard"
)

// Lifecycle events reported to an EventSink.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

// EventSink counts session lifecycle events.
type EventSink interface {
	SessionEvent(flow, event string)
}

// Upload is a file posted to the upload step.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
	ReportType  string
	Notes       string
}

// Manager runs wizard operations against stored sessions. Each mutating
// operation holds the session lock for its whole duration.
type Manager struct {
	flows  *flows.Registry
	store  Store
	files  blobstore.Store
	events EventSink
	logger zerolog.Logger
	now    func() time.Time
}

type ManagerOption func(*Manager)

func WithFiles(files blobstore.Store) ManagerOption { return func(m *Manager) { m.files = files } }

func WithEvents(sink EventSink) ManagerOption { return func(m *Manager) { m.events = sink } }

func WithLogger(l zerolog.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }

func NewManager(reg *flows.Registry, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{flows: reg, store: store, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a wizard for the user on ctx. A patient given here fills the
// precondition the way an upstream page selection would.
func (m *Manager) Create(ctx context.Context, flowName string, pre wizard.Precondition) (*Session, *wizard.Engine, error) {
	f, err := m.flows.Get(flowName)
	if err != nil {
		return nil, nil, err
	}
	if !f.Allows(auth.RolesFromContext(ctx)) {
		return nil, nil, ErrForbidden
	}

	st, err := f.Engine.Initialize(pre)
	if err != nil && !errors.Is(err, wizard.ErrMissingPrecondition) {
		return nil, nil, err
	}
	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Flow:      f.Name(),
		UserID:    auth.UserIDFromContext(ctx),
		State:     st,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err != nil {
		s.State.LastError = &wizard.ErrorInfo{Message: err.Error()}
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, nil, err
	}
	m.event(s.Flow, EventStarted)
	m.logger.Info().Str("session_id", s.ID).Str("flow", s.Flow).Str("user_id", s.UserID).Msg("wizard started")
	return s, f.Engine, nil
}

// Get returns a session owned by the user on ctx. Sessions of other users
// read as not found.
func (m *Manager) Get(ctx context.Context, id string) (*Session, *wizard.Engine, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.UserID != auth.UserIDFromContext(ctx) {
		return nil, nil, ErrNotFound
	}
	f, err := m.flows.Get(s.Flow)
	if err != nil {
		return nil, nil, err
	}
	return s, f.Engine, nil
}

// Search looks up candidates for the session's select step.
func (m *Manager) Search(ctx context.Context, id, query string) ([]wizard.Precondition, error) {
	_, eng, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return eng.Search(ctx, query)
}

func (m *Manager) AddEntry(ctx context.Context, id string, step wizard.StepKey, row wizard.Entry) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		next, err := eng.AddDraftEntry(s.State, step, row)
		s.State = next
		return err
	})
}

func (m *Manager) UpdateEntry(ctx context.Context, id string, step wizard.StepKey, index int, field, value string) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		next, err := eng.UpdateDraftEntry(s.State, step, index, field, value)
		s.State = next
		return err
	})
}

func (m *Manager) RemoveEntry(ctx context.Context, id string, step wizard.StepKey, index int) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		next, err := eng.RemoveDraftEntry(s.State, step, index)
		s.State = next
		return err
	})
}

// Submit submits step. The session is saved even when the step fails so the
// error and any children created before the failure are kept. Submitting the
// review step completes the wizard.
func (m *Manager) Submit(ctx context.Context, id string, step wizard.StepKey, payload wizard.Entry) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		if cur := eng.Current(s.State); cur.Key == step && cur.Kind == wizard.KindReview {
			return m.complete(ctx, eng, s)
		}
		next, err := eng.SubmitStep(ctx, s.State, step, payload)
		s.State = next
		return err
	})
}

// Back moves to the previous step. Going back from the first step is not an
// error.
func (m *Manager) Back(ctx context.Context, id string) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		next, err := eng.GoBack(s.State)
		if errors.Is(err, wizard.ErrAtFirstStep) {
			return nil
		}
		s.State = next
		return err
	})
}

func (m *Manager) Complete(ctx context.Context, id string) (*Session, *wizard.Engine, error) {
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		return m.complete(ctx, eng, s)
	})
}

func (m *Manager) complete(ctx context.Context, eng *wizard.Engine, s *Session) error {
	next, done, err := eng.Complete(ctx, s.State)
	s.State = next
	if err != nil {
		return err
	}
	s.NavigateTo = done.NavigateTo
	m.event(s.Flow, EventCompleted)
	m.logger.Info().Str("session_id", s.ID).Str("parent_id", done.ParentID).Msg("wizard completed")
	return nil
}

// Cancel drops the session and returns where to go. Records already created
// stay.
func (m *Manager) Cancel(ctx context.Context, id string) (string, error) {
	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()

	s, eng, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	path := eng.Cancel(s.State)
	if err := m.store.Delete(ctx, id); err != nil {
		return "", err
	}
	if !s.State.Finalized {
		m.event(s.Flow, EventCancelled)
	}
	m.logger.Info().Str("session_id", id).Str("parent_id", s.State.ParentID).Msg("wizard cancelled")
	return path, nil
}

// Upload stores a file, reads its header and submits it as the upload step.
// The stored file is removed again when the step fails.
func (m *Manager) Upload(ctx context.Context, id string, up Upload) (*Session, *wizard.Engine, error) {
	if m.files == nil {
		return nil, nil, errors.New("file uploads are not configured")
	}
	return m.mutate(ctx, id, func(eng *wizard.Engine, s *Session) error {
		if eng.Current(s.State).Key != flows.StepUpload {
			return &wizard.StepError{Step: flows.StepUpload, Err: wizard.ErrStepMismatch}
		}

		info, err := attachment.Inspect(up.Data, up.ContentType, up.FileName)
		if err != nil {
			s.State.LastError = &wizard.ErrorInfo{Message: "The file could not be read as a DICOM file"}
			return err
		}
		meta, err := m.files.Upload(ctx, blobstore.Metadata{
			FileName:    up.FileName,
			ContentType: up.ContentType,
			PatientID:   s.State.Precondition.ID,
			CreatedBy:   s.UserID,
		}, bytes.NewReader(up.Data))
		if err != nil {
			s.State.LastError = &wizard.ErrorInfo{Message: "Failed to store the file: " + err.Error()}
			return err
		}

		reportType := strings.TrimSpace(up.ReportType)
		if reportType == "" {
			reportType = info.ReportType()
		}
		payload := wizard.Entry{
			flows.FieldFileID:         meta.ID,
			flows.FieldFileName:       meta.FileName,
			flows.FieldReportType:     reportType,
			flows.FieldDICOMPatientID: info.PatientID,
			"notes":                   up.Notes,
		}
		next, err := eng.SubmitStep(ctx, s.State, flows.StepUpload, payload)
		s.State = next
		if err != nil {
			if delErr := m.files.Delete(ctx, meta.ID); delErr != nil {
				m.logger.Warn().Err(delErr).Str("file_id", meta.ID).Msg("failed to remove rejected upload")
			}
			return err
		}
		s.Attachment = &Attachment{
			FileID:      meta.ID,
			FileName:    meta.FileName,
			ContentType: meta.ContentType,
			Size:        meta.Size,
			Info:        info,
		}
		return nil
	})
}

// mutate runs fn on the locked session and saves the result, including the
// state fn left behind on failure. fn's error is returned after the save.
// Once the lock is taken the action runs to completion even if ctx is
// cancelled.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*wizard.Engine, *Session) error) (*Session, *wizard.Engine, error) {
	ctx = context.WithoutCancel(ctx)
	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	s, eng, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	opErr := fn(eng, s)
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("save session: %w", err)
	}
	return s, eng, opErr
}

func (m *Manager) event(flow, event string) {
	if m.events != nil {
		m.events.SessionEvent(flow, event)
	}
}
