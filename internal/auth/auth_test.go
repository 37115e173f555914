package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"trailing space", "Bearer abc123 ", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
		{"whitespace token", "Bearer    ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader-token", Scopes: []string{"read"}},
		{Token: "submitter-token", Scopes: []string{"submit"}},
		{Token: "admin-token", Scopes: []string{"admin"}},
	}

	tests := []struct {
		name       string
		presented  string
		wantOK     bool
		wantScopes []string
		denyScopes []string
	}{
		{
			name:       "read token",
			presented:  "reader-token",
			wantOK:     true,
			wantScopes: []string{ScopeRead},
			denyScopes: []string{ScopeSubmit, ScopeAdmin},
		},
		{
			name:       "submit implies read",
			presented:  "submitter-token",
			wantOK:     true,
			wantScopes: []string{ScopeRead, ScopeSubmit},
			denyScopes: []string{ScopeAdmin},
		},
		{
			name:       "admin implies everything",
			presented:  "admin-token",
			wantOK:     true,
			wantScopes: []string{ScopeRead, ScopeSubmit, ScopeAdmin},
		},
		{
			name:      "unknown token",
			presented: "stolen-token",
			wantOK:    false,
		},
		{
			name:      "empty token",
			presented: "",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Authenticate(tt.presented, tokens)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			for _, s := range tt.wantScopes {
				if !HasAnyScope(p, s) {
					t.Errorf("scope %q should be granted", s)
				}
			}
			for _, s := range tt.denyScopes {
				if HasAnyScope(p, s) {
					t.Errorf("scope %q should be denied", s)
				}
			}
		})
	}
}

func TestAuthenticateEmptyConfig(t *testing.T) {
	if _, ok := Authenticate("any-token", nil); ok {
		t.Error("no configured tokens must reject everything")
	}
	// An empty configured token never matches, even an empty presentation.
	if _, ok := Authenticate("", []TokenConfig{{Token: ""}}); ok {
		t.Error("empty tokens must never authenticate")
	}
}

func TestHasAnyScope(t *testing.T) {
	p := Principal{Scopes: map[string]struct{}{"read": {}}}

	if !HasAnyScope(p) {
		t.Error("no required scopes should always pass")
	}
	if !HasAnyScope(p, "read", "admin") {
		t.Error("one matching scope of several should pass")
	}
	if HasAnyScope(p, "admin") {
		t.Error("missing scope should fail")
	}

	wildcard := Principal{Scopes: map[string]struct{}{"*": {}}}
	if !HasAnyScope(wildcard, "admin") {
		t.Error("wildcard should grant every scope")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("secret", "secret") {
		t.Error("equal strings should match")
	}
	if constantTimeEqual("secret", "Secret") {
		t.Error("case differences should not match")
	}
	if constantTimeEqual("", "") {
		t.Error("empty strings must never match")
	}
	if constantTimeEqual("short", "longer-string") {
		t.Error("different lengths should not match")
	}
}
