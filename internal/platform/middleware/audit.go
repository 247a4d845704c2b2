package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/platform/auth"
)

// AuditEntry records who touched which clinical record.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	ResourceID string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request as a "record_access" event after the
// handler ran, and forwards it to recorder when one is given.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			resource, id := splitResource(req.URL.Path)
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Resource:   resource,
				ResourceID: id,
				PatientID:  patientID(c, resource, id),
				Action:     methodAction(req.Method),
				IPAddress:  c.RealIP(),
				Path:       req.URL.Path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				StatusCode: status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResource turns /api/v1/visits/V0001/symptoms into ("visits", "V0001").
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	resource, id := segments[0], ""
	if len(segments) > 1 {
		id = segments[1]
	}
	if resource == "" {
		resource = "unknown"
	}
	return resource, id
}

func patientID(c echo.Context, resource, id string) string {
	if resource == "patients" && id != "" && id != "search" {
		return id
	}
	return c.QueryParam("patient_id")
}
