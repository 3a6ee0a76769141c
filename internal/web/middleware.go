package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"intracal/internal/backend"
	appLog "intracal/internal/log"
)

const (
	requestIDHeader = "X-Request-Id"
	csrfFormField   = "csrfmiddlewaretoken"
	csrfHeader      = "X-CSRFToken"
)

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// accessLog tags each request with an id (reusing a valid incoming
// X-Request-Id) and logs it once it completes.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		kv := []any{
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"elapsed_ms", time.Since(started).Milliseconds(),
		}
		if r.URL.Path == "/health" {
			appLog.Debug("http request", kv...)
			return
		}
		appLog.Info("http request", kv...)
	})
}

// basicAuth guards every handler except /health.
func basicAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="intracal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// forwardCredentials hands the browser's cookies and CSRF token to every
// backend call made while serving the request, so the backend sees the
// end user's session. The token comes from the X-CSRFToken header or,
// for form posts, the csrfmiddlewaretoken field.
func forwardCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := backend.Credentials{
			Cookies:   r.Cookies(),
			CSRFToken: requestCSRFToken(r),
			Browser:   true,
		}
		next.ServeHTTP(w, r.WithContext(backend.WithCredentials(r.Context(), creds)))
	})
}

func requestCSRFToken(r *http.Request) string {
	if tok := r.Header.Get(csrfHeader); tok != "" {
		return tok
	}
	if r.Method == http.MethodPost {
		return r.PostFormValue(csrfFormField)
	}
	return ""
}

// csrfGuard rejects state-changing requests that come from another site
// or carry no explicit CSRF token. The csrftoken cookie alone never
// authorizes a write.
func csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if crossSite(r) {
			appLog.Warn("cross-site write rejected",
				"request_id", RequestID(r.Context()),
				"path", r.URL.Path,
				"origin", r.Header.Get("Origin"),
				"sec_fetch_site", r.Header.Get("Sec-Fetch-Site"),
			)
			http.Error(w, "Forbidden (cross-site request)", http.StatusForbidden)
			return
		}
		if requestCSRFToken(r) == "" {
			appLog.Warn("write without CSRF token rejected", "request_id", RequestID(r.Context()), "path", r.URL.Path)
			http.Error(w, "Forbidden (CSRF token missing)", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// crossSite reports whether the browser says r was sent by another origin.
// Sec-Fetch-Site is trusted when present; otherwise Origin must match the
// requested host (or the proxy's X-Forwarded-Host). Requests carrying
// neither header (non-browser clients) pass.
func crossSite(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return true
	}
	if strings.EqualFold(u.Host, r.Host) {
		return false
	}
	fwd, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Host"), ",")
	return !strings.EqualFold(u.Host, strings.TrimSpace(fwd))
}
