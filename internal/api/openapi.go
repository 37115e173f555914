package api

import "net/http"

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering the public API.
func buildOpenAPIDoc() map[string]any {
	responses := func(pairs ...any) map[string]any {
		out := map[string]any{}
		for i := 0; i+1 < len(pairs); i += 2 {
			out[pairs[i].(string)] = pairs[i+1]
		}
		return out
	}

	levelParam := map[string]any{
		"name": "level", "in": "query",
		"schema": map[string]any{"type": "integer", "minimum": 1, "maximum": 3, "default": 1},
	}
	splitParam := map[string]any{
		"name": "split", "in": "query",
		"schema": map[string]any{"type": "string", "enum": []string{"validation", "test"}, "default": "validation"},
	}
	limitParam := map[string]any{
		"name": "limit", "in": "query",
		"schema": map[string]any{"type": "integer", "minimum": 1, "maximum": 200},
	}
	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	paths := map[string]any{
		"/api/v1/leaderboard": map[string]any{
			"get": map[string]any{
				"operationId": "getLeaderboard",
				"summary":     "Agent leaderboard for one level and split",
				"parameters":  []any{levelParam, splitParam, limitParam},
				"responses": responses(
					"200", map[string]any{"description": "Ranked agent entries"},
					"400", map[string]any{"description": "Invalid level, split, or limit"},
				),
			},
		},
		"/api/v1/leaderboard/teams": map[string]any{
			"get": map[string]any{
				"operationId": "getTeamLeaderboard",
				"summary":     "Team leaderboard for one level and split",
				"parameters":  []any{levelParam, splitParam, limitParam},
				"responses": responses(
					"200", map[string]any{"description": "Ranked team entries"},
					"400", map[string]any{"description": "Invalid level, split, or limit"},
				),
			},
		},
		"/api/v1/submissions/{id}": map[string]any{
			"get": map[string]any{
				"operationId": "getSubmission",
				"summary":     "Fetch one submission by id",
				"parameters": []any{map[string]any{
					"name": "id", "in": "path", "required": true,
					"schema": map[string]any{"type": "string"},
				}},
				"responses": responses(
					"200", map[string]any{"description": "Submission record"},
					"404", map[string]any{"description": "Submission not found"},
				),
			},
		},
		"/api/v1/submissions/recent": map[string]any{
			"get": map[string]any{
				"operationId": "listRecentSubmissions",
				"summary":     "Newest submissions across all levels and splits",
				"parameters":  []any{limitParam},
				"responses":   responses("200", map[string]any{"description": "Submission list"}),
			},
		},
		"/api/v1/agents/{agent}/history": map[string]any{
			"get": map[string]any{
				"operationId": "getAgentHistory",
				"summary":     "One agent's submissions, newest first",
				"parameters": []any{map[string]any{
					"name": "agent", "in": "path", "required": true,
					"schema": map[string]any{"type": "string"},
				}, limitParam},
				"responses": responses("200", map[string]any{"description": "Submission list"}),
			},
		},
		"/api/v1/teams/{team}/history": map[string]any{
			"get": map[string]any{
				"operationId": "getTeamHistory",
				"summary":     "One team's submissions, newest first",
				"parameters": []any{map[string]any{
					"name": "team", "in": "path", "required": true,
					"schema": map[string]any{"type": "string"},
				}, limitParam},
				"responses": responses("200", map[string]any{"description": "Submission list"}),
			},
		},
		"/api/v1/stats": map[string]any{
			"get": map[string]any{
				"operationId": "getStats",
				"summary":     "Store-wide submission statistics",
				"responses":   responses("200", map[string]any{"description": "Statistics"}),
			},
		},
		"/api/v1/submissions": map[string]any{
			"post": map[string]any{
				"operationId": "createSubmission",
				"summary":     "Submit a benchmark result directly (scope: submit)",
				"security":    bearer,
				"responses": responses(
					"201", map[string]any{"description": "Stored submission"},
					"400", map[string]any{"description": "Validation failure"},
					"401", map[string]any{"description": "Missing or invalid token"},
					"403", map[string]any{"description": "Insufficient scope"},
				),
			},
		},
		"/api/v1/submissions/{id}/verify": map[string]any{
			"post": map[string]any{
				"operationId": "verifySubmission",
				"summary":     "Set the verified flag on a submission (scope: admin)",
				"security":    bearer,
				"parameters": []any{map[string]any{
					"name": "id", "in": "path", "required": true,
					"schema": map[string]any{"type": "string"},
				}},
				"responses": responses(
					"200", map[string]any{"description": "Updated submission"},
					"404", map[string]any{"description": "Submission not found"},
				),
			},
		},
		"/api/v1/admin/refresh": map[string]any{
			"post": map[string]any{
				"operationId": "forceRefresh",
				"summary":     "Recompute leaderboard views (scope: admin)",
				"security":    bearer,
				"responses":   responses("200", map[string]any{"description": "Refreshed pairs"}),
			},
		},
		"/api/v1/events": map[string]any{
			"get": map[string]any{
				"operationId": "streamEvents",
				"summary":     "Server-sent event stream of submission lifecycle events",
				"responses":   responses("200", map[string]any{"description": "text/event-stream"}),
			},
		},
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Service health and totals",
				"responses":   responses("200", map[string]any{"description": "Health report"}),
			},
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "GAIA Leaderboard",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
