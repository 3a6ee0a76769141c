package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// Credentials are the browser's session cookies and CSRF token, forwarded
// to the backend so it authenticates the end user rather than intracal.
type Credentials struct {
	Cookies   []*http.Cookie
	CSRFToken string

	// Browser marks credentials taken from an end user's request. Their
	// CSRF token must be explicit: the csrftoken cookie travels with any
	// cross-site post, so it is never promoted to the header for them.
	Browser bool
}

type credentialsKey struct{}

// WithCredentials attaches creds to ctx for every backend call made with it.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// WithCSRFToken returns ctx with the explicit CSRF token replaced, keeping
// any forwarded cookies.
func WithCSRFToken(ctx context.Context, token string) context.Context {
	creds := credentialsFrom(ctx)
	creds.CSRFToken = token
	return WithCredentials(ctx, creds)
}

func credentialsFrom(ctx context.Context) Credentials {
	creds, _ := ctx.Value(credentialsKey{}).(Credentials)
	return creds
}

// SessionKey identifies the forwarded session in ctx without exposing it,
// for keying per-user caches. It is empty when no cookies were forwarded.
func SessionKey(ctx context.Context) string {
	cookies := credentialsFrom(ctx).Cookies
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, ";")))
	return hex.EncodeToString(sum[:12])
}
