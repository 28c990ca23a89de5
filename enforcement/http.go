package enforcement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bluesky-social/warden/models"
	"github.com/bluesky-social/warden/pkg/robusthttp"

	"golang.org/x/time/rate"
)

// HTTPEnforcer talks to a platform admin API which exposes one resource per (kind, target):
//
//	PUT    {Host}/{kind}/{target}   apply, JSON body {"reason": "..."}
//	DELETE {Host}/{kind}/{target}   remove, JSON body {"reason": "..."}
//	GET    {Host}/{kind}/{target}   query, responds {"applied": true|false}, or 404
type HTTPEnforcer struct {
	kind       models.ActionKind
	Host       string
	AdminToken string
	Client     *http.Client
	// optional; paces calls to the backend
	Limiter *rate.Limiter
}

var _ Enforcer = (*HTTPEnforcer)(nil)

// BackendError is a non-success response from the enforcement backend.
type BackendError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("enforcement backend %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type actionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type stateResponse struct {
	Applied bool `json:"applied"`
}

func NewHTTPEnforcer(kind models.ActionKind, host, adminToken string) *HTTPEnforcer {
	return &HTTPEnforcer{
		kind:       kind,
		Host:       strings.TrimSuffix(host, "/"),
		AdminToken: adminToken,
		Client:     robusthttp.NewClient(),
	}
}

func (e *HTTPEnforcer) Kind() models.ActionKind {
	return e.kind
}

func (e *HTTPEnforcer) targetURL(targetID string) string {
	return fmt.Sprintf("%s/%s/%s", e.Host, url.PathEscape(string(e.kind)), url.PathEscape(targetID))
}

func (e *HTTPEnforcer) do(ctx context.Context, method, targetID string, body any) (*http.Response, error) {
	if e.Limiter != nil {
		if err := e.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.targetURL(targetID), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if e.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.AdminToken)
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func backendError(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &BackendError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(buf)),
	}
}

func (e *HTTPEnforcer) Apply(ctx context.Context, targetID, reason string) error {
	resp, err := e.do(ctx, http.MethodPut, targetID, actionRequest{Reason: reason})
	if err != nil {
		return fmt.Errorf("applying %s: %w", e.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backendError(resp)
	}
	return nil
}

// Removing state which the backend no longer has (404) is not an error.
func (e *HTTPEnforcer) Remove(ctx context.Context, targetID, reason string) error {
	resp, err := e.do(ctx, http.MethodDelete, targetID, actionRequest{Reason: reason})
	if err != nil {
		return fmt.Errorf("removing %s: %w", e.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backendError(resp)
	}
	return nil
}

func (e *HTTPEnforcer) IsApplied(ctx context.Context, targetID string) (bool, error) {
	resp, err := e.do(ctx, http.MethodGet, targetID, nil)
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", e.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return false, backendError(resp)
	}
	var state stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return false, fmt.Errorf("decoding %s state: %w", e.kind, err)
	}
	return state.Applied, nil
}
