// Package auth implements bearer-token authentication with coarse scopes.
// Three scopes exist: "read" for leaderboard and submission queries,
// "submit" for direct submission posts, and "admin" for verification and
// forced refreshes. Broader scopes imply the narrower ones.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	ScopeRead   = "read"
	ScopeSubmit = "submit"
	ScopeAdmin  = "admin"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// Every configured token is compared so timing does not reveal which entry
// matched.
func Authenticate(presented string, tokens []TokenConfig) (Principal, bool) {
	var matched *TokenConfig
	for i := range tokens {
		if constantTimeEqual(presented, tokens[i].Token) && matched == nil {
			matched = &tokens[i]
		}
	}
	if matched == nil {
		return Principal{}, false
	}
	return Principal{
		Token:  presented,
		Scopes: normalizeScopes(matched.Scopes),
	}, true
}

// normalizeScopes expands implications: admin covers submit, submit covers
// read.
func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	if _, ok := out[ScopeAdmin]; ok {
		out[ScopeSubmit] = struct{}{}
	}
	if _, ok := out[ScopeSubmit]; ok {
		out[ScopeRead] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes["*"]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
