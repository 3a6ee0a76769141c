// Package backend is the HTTP client for the intranet REST backend
// (/api/eventos/ and /comunicados/).
//
// Every failure is classified as one of:
//   - ErrNetwork: the request never produced a response
//   - *StatusError: the backend answered with a non-2xx status
//   - ErrMalformed: the response body was not the JSON we expected
//   - ErrRejected: the backend answered {"ok": false}
//   - ErrInvalidInput: the request was refused before being sent
package backend

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

	appLog "intracal/internal/log"
)

var (
	ErrNetwork      = errors.New("backend unreachable")
	ErrMalformed    = errors.New("malformed backend response")
	ErrRejected     = errors.New("backend rejected the request")
	ErrInvalidInput = errors.New("invalid input")
)

// maxErrorBody bounds how much of an error response is kept for display.
const maxErrorBody = 2 << 10

// StatusError is returned for non-2xx responses. Body holds the backend's
// error text (Django returns plain-text 400 bodies for validation errors).
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Code, http.StatusText(e.Code), e.Body)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

// Message is the text to show to the user.
func (e *StatusError) Message() string {
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.Code)
}

// Client talks to the intranet backend.
type Client struct {
	base       *url.URL
	http       *http.Client
	csrfCookie string
	csrfHeader string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its cookie jar, if
// any, is used as the last source of CSRF tokens.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithCSRF overrides the CSRF cookie and header names.
func WithCSRF(cookie, header string) Option {
	return func(c *Client) {
		if cookie != "" {
			c.csrfCookie = cookie
		}
		if header != "" {
			c.csrfHeader = header
		}
	}
}

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q is not absolute", baseURL)
	}

	// No cookie jar by default: sessions belong to the forwarded browser
	// credentials and must never leak between users.
	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: 10 * time.Second},
		csrfCookie: "csrftoken",
		csrfHeader: "X-CSRFToken",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// request describes one backend call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (r request) mutating() bool {
	switch r.method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func jsonRequest(method, path string, v any) (request, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return request{}, err
	}
	return request{method: method, path: path, body: bytes.NewReader(b), contentType: "application/json"}, nil
}

func formRequest(path string, form url.Values) request {
	return request{
		method:      http.MethodPost,
		path:        path,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}
}

// do sends r and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	creds := credentialsFrom(ctx)
	for _, ck := range creds.Cookies {
		req.AddCookie(ck)
	}
	if r.mutating() {
		if token := c.csrfToken(creds); token != "" {
			req.Header.Set(c.csrfHeader, token)
		} else {
			appLog.Warn("backend: no CSRF token available for mutating request", "method", r.method, "path", r.path)
		}
		// Django checks the Referer of HTTPS requests against its host.
		req.Header.Set("Referer", c.base.String()+"/")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, r.method, r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %w", ErrNetwork, r.method, r.path, err)
	}

	appLog.Debug("backend request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method: r.method,
			Path:   r.path,
			Code:   resp.StatusCode,
			Body:   errorText(body),
		}
	}
	return body, nil
}

// csrfToken resolves the token for a mutating request: the explicit
// form/header token first, then (for non-browser callers such as the CLI)
// the CSRF cookie and the client jar.
func (c *Client) csrfToken(creds Credentials) string {
	if creds.CSRFToken != "" || creds.Browser {
		return creds.CSRFToken
	}
	for _, ck := range creds.Cookies {
		if ck.Name == c.csrfCookie && ck.Value != "" {
			return ck.Value
		}
	}
	if c.http.Jar != nil {
		for _, ck := range c.http.Jar.Cookies(c.base) {
			if ck.Name == c.csrfCookie && ck.Value != "" {
				return ck.Value
			}
		}
	}
	return ""
}

// errorText extracts a readable message from an error body: the "error"
// or "detail" field of a JSON object, or the trimmed text otherwise.
func errorText(body []byte) string {
	var obj struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &obj) == nil {
		if obj.Error != "" {
			return obj.Error
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "<") {
		// HTML error page; not useful inline.
		return ""
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

func decode(body []byte, v any, what string) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, what, err)
	}
	return nil
}
