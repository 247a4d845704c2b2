// Package session keeps wizard state between HTTP requests and serves the
// wizard endpoints.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/ehr/portal/internal/platform/attachment"
	"github.com/ehr/portal/internal/wizard"
)

var (
	ErrNotFound  = errors.New("wizard session not found")
	ErrBusy      = errors.New("wizard session is busy with another action")
	ErrForbidden = errors.New("not allowed to run this wizard")
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 2 * time.Hour

// Session is one user's run through a flow.
type Session struct {
	ID         string       `json:"id"`
	Flow       string       `json:"flow"`
	UserID     string       `json:"user_id"`
	State      wizard.State `json:"state"`
	Attachment *Attachment  `json:"attachment,omitempty"`
	NavigateTo string       `json:"navigate_to,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Attachment is the file most recently uploaded in the session.
type Attachment struct {
	FileID      string          `json:"file_id"`
	FileName    string          `json:"file_name"`
	ContentType string          `json:"content_type"`
	Size        int64           `json:"size"`
	Info        attachment.Info `json:"info"`
}

// Store persists sessions. Lock grants one in-flight mutating action per
// session and returns ErrBusy while another holds it.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (unlock func(), err error)
}
