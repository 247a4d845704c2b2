// Package recordsapi calls a remote portal's record endpoints. It lets the
// wizard service run in front of a records backend it does not host.
package recordsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/portal/internal/domain/labreport"
	"github.com/ehr/portal/internal/domain/patient"
	"github.com/ehr/portal/internal/domain/visit"
	"github.com/ehr/portal/internal/platform/auth"
	"github.com/ehr/portal/internal/wizard"
)

// ErrUnavailable marks transport failures and 5xx answers.
var ErrUnavailable = errors.New("records api unavailable")

const apiPrefix = "/api/v1"

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	SigningKey []byte
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
}

// Client forwards each call with a bearer token minted for the identity on
// the call's context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        Config
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("records api: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Minute
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With().Str("component", "recordsapi").Logger(),
	}, nil
}

func (c *Client) SearchPatients(ctx context.Context, query string) ([]patient.Summary, error) {
	var out []patient.Summary
	endpoint := "/patients/search?q=" + url.QueryEscape(query)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []patient.Summary{}
	}
	return out, nil
}

func (c *Client) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	out := &patient.Patient{}
	if err := c.doJSON(ctx, http.MethodGet, "/patients/"+url.PathEscape(id), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateVisit(ctx context.Context, req visit.CreateRequest) (*visit.Visit, error) {
	out := &visit.Visit{}
	if err := c.doJSON(ctx, http.MethodPost, "/visits", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddSymptom(ctx context.Context, visitID string, s visit.Symptom) (*visit.Symptom, error) {
	out := &visit.Symptom{}
	if err := c.doJSON(ctx, http.MethodPost, "/visits/"+url.PathEscape(visitID)+"/symptoms", s, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddDiagnosis(ctx context.Context, visitID string, d visit.Diagnosis) (*visit.Diagnosis, error) {
	out := &visit.Diagnosis{}
	if err := c.doJSON(ctx, http.MethodPost, "/visits/"+url.PathEscape(visitID)+"/diagnoses", d, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddPrescription(ctx context.Context, visitID string, p visit.Prescription) (*visit.Prescription, error) {
	out := &visit.Prescription{}
	if err := c.doJSON(ctx, http.MethodPost, "/visits/"+url.PathEscape(visitID)+"/prescriptions", p, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateLabReport(ctx context.Context, req labreport.CreateRequest) (*labreport.LabReport, error) {
	out := &labreport.LabReport{}
	if err := c.doJSON(ctx, http.MethodPost, "/lab-reports", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddTestResult(ctx context.Context, reportID string, t labreport.TestResult) (*labreport.TestResult, error) {
	out := &labreport.TestResult{}
	if err := c.doJSON(ctx, http.MethodPost, "/lab-reports/"+url.PathEscape(reportID)+"/tests", t, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CompleteLabReport(ctx context.Context, reportID string) (*labreport.LabReport, error) {
	out := &labreport.LabReport{}
	if err := c.doJSON(ctx, http.MethodPost, "/lab-reports/"+url.PathEscape(reportID)+"/complete", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that the remote service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   auth.UserIDFromContext(ctx),
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.TokenTTL)),
		},
		Roles: auth.RolesFromContext(ctx),
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}
	return auth.IssueToken(c.cfg.SigningKey, claims)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.cfg.SigningKey) > 0 {
		tok, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("sign request token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	} else if uid := auth.UserIDFromContext(ctx); uid != "" {
		req.Header.Set(auth.DevUserHeader, uid)
		req.Header.Set(auth.DevRolesHeader, strings.Join(auth.RolesFromContext(ctx), ","))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &wizard.ServiceError{Err: fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("records api call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &wizard.ServiceError{Err: fmt.Errorf("decode %s %s: %w", method, path, err)}
	}
	return nil
}

// responseError keeps the backend's message so the wizard can show it.
// 5xx answers also wrap ErrUnavailable.
func responseError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &payload)

	var err error = &StatusError{Method: method, Path: path, Status: resp.StatusCode}
	if resp.StatusCode >= 500 {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &wizard.ServiceError{Message: strings.TrimSpace(payload.Message), Err: err}
}

// StatusError is a non-2xx answer.
type StatusError struct {
	Method string
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Status)
}
