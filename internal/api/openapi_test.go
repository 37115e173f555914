package api

import (
	"net/http"
	"testing"
)

func TestOpenAPIDoc(t *testing.T) {
	doc := buildOpenAPIDoc()

	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi version = %v", doc["openapi"])
	}

	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatal("paths missing")
	}

	wantPaths := []string{
		"/api/v1/leaderboard",
		"/api/v1/leaderboard/teams",
		"/api/v1/submissions/{id}",
		"/api/v1/submissions/recent",
		"/api/v1/agents/{agent}/history",
		"/api/v1/teams/{team}/history",
		"/api/v1/stats",
		"/api/v1/submissions",
		"/api/v1/submissions/{id}/verify",
		"/api/v1/admin/refresh",
		"/api/v1/events",
		"/healthz",
	}
	for _, p := range wantPaths {
		if _, ok := paths[p]; !ok {
			t.Errorf("path %s missing from document", p)
		}
	}

	// Write endpoints must declare bearer security.
	submit := paths["/api/v1/submissions"].(map[string]any)["post"].(map[string]any)
	if submit["security"] == nil {
		t.Error("POST /api/v1/submissions should require bearer auth")
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv := newTestAPI(t)

	rec := doRequest(t, srv, http.MethodGet, "/openapi.json", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}
