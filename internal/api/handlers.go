package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentbeats/gaiaboard/internal/events"
	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/metrics"
	"github.com/agentbeats/gaiaboard/internal/submission"
)

const (
	defaultLevel = 1
	defaultSplit = "validation"
	defaultLimit = 50
	maxLimit     = 200
)

var knownSplits = map[string]bool{"validation": true, "test": true}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute store stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute store stats")
		return
	}

	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		TotalSubmissions: stats.TotalSubmissions,
		TotalAgents:      stats.TotalAgents,
	}
	if refreshed, err := s.board.LastRefreshed(r.Context()); err == nil && !refreshed.IsZero() {
		resp.LastRefreshedAt = &refreshed
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleLeaderboard serves both ranking views; the scope is fixed per route.
func (s *Server) handleLeaderboard(scope leaderboard.Scope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level := defaultLevel
		if v := r.URL.Query().Get("level"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 3 {
				s.writeError(w, http.StatusBadRequest, "level must be between 1 and 3")
				return
			}
			level = n
		}

		split := defaultSplit
		if v := r.URL.Query().Get("split"); v != "" {
			if !knownSplits[v] {
				s.writeError(w, http.StatusBadRequest, "split must be validation or test")
				return
			}
			split = v
		}

		limit, err := parseLimit(r, defaultLimit)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		entries, err := s.board.Entries(r.Context(), scope, level, split, limit)
		if err != nil {
			s.logger.Error("failed to query leaderboard", "scope", scope, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to query leaderboard")
			return
		}

		resp := LeaderboardResponse{
			View:    string(scope),
			Level:   level,
			Split:   split,
			Entries: entries,
		}
		if len(entries) > 0 {
			resp.RefreshedAt = &entries[0].RefreshedAt
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// handleGetSubmission handles GET /api/v1/submissions/{id}.
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.store.Get(r.Context(), id)
	if errors.Is(err, submission.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to retrieve submission", "submission_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve submission")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// handleRecentSubmissions handles GET /api/v1/submissions/recent.
func (s *Server) handleRecentSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list recent submissions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	respondJSON(w, http.StatusOK, SubmissionListResponse{Submissions: subs})
}

// handleAgentHistory handles GET /api/v1/agents/{agent}/history.
func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := s.store.AgentHistory(r.Context(), agent, limit)
	if err != nil {
		s.logger.Error("failed to query agent history", "agent", agent, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Name: agent, Submissions: subs})
}

// handleTeamHistory handles GET /api/v1/teams/{team}/history.
func (s *Server) handleTeamHistory(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subs, err := s.store.TeamHistory(r.Context(), team, limit)
	if err != nil {
		s.logger.Error("failed to query team history", "team", team, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Name: team, Submissions: subs})
}

// handleStats handles GET /api/v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleDirectSubmission handles POST /api/v1/submissions (scope: submit).
// Unlike webhook deliveries, direct posts have no commit to derive an id
// from, so the server assigns one.
func (s *Server) handleDirectSubmission(w http.ResponseWriter, r *http.Request) {
	var req DirectSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub := req.Submission()
	if err := s.store.Append(r.Context(), sub); err != nil {
		if errors.Is(err, submission.ErrInvalid) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to store direct submission", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store submission")
		return
	}

	metrics.RecordSubmissionStored(sub.Level, sub.Split, "api")
	s.hub.Publish(events.TypeSubmissionStored, map[string]any{
		"submission_id": sub.ID,
		"agent":         sub.AgentName,
		"level":         sub.Level,
		"split":         sub.Split,
		"accuracy":      sub.Accuracy,
	})

	if res, err := s.board.Refresh(r.Context(), sub.Level, sub.Split); err != nil {
		s.logger.Error("leaderboard refresh failed after direct submission",
			"submission_id", sub.ID, "error", err)
	} else {
		s.hub.Publish(events.TypeLeaderboardRefreshed, map[string]any{
			"level":         sub.Level,
			"split":         sub.Split,
			"agent_entries": res.AgentEntries,
			"team_entries":  res.TeamEntries,
		})
	}

	stored, err := s.store.Get(r.Context(), sub.ID)
	if err != nil {
		s.logger.Error("failed to read back stored submission", "submission_id", sub.ID, "error", err)
		stored = sub
	}

	s.logger.Info("direct submission stored", "submission_id", sub.ID,
		"agent", sub.AgentName, "level", sub.Level, "split", sub.Split)
	respondJSON(w, http.StatusCreated, stored)
}

// handleVerifySubmission handles POST /api/v1/submissions/{id}/verify
// (scope: admin).
func (s *Server) handleVerifySubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.store.MarkVerified(r.Context(), id, req.Verified, req.Notes)
	if errors.Is(err, submission.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to mark submission verified", "submission_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update submission")
		return
	}

	sub, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to read back verified submission", "submission_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve submission")
		return
	}

	// Verified flags are denormalized into the materialized views.
	if _, err := s.board.Refresh(r.Context(), sub.Level, sub.Split); err != nil {
		s.logger.Error("leaderboard refresh failed after verification",
			"submission_id", id, "error", err)
	}

	s.hub.Publish(events.TypeSubmissionVerified, map[string]any{
		"submission_id": id,
		"agent":         sub.AgentName,
		"verified":      req.Verified,
	})

	respondJSON(w, http.StatusOK, sub)
}

// handleAdminRefresh handles POST /api/v1/admin/refresh (scope: admin).
func (s *Server) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var results []leaderboard.RefreshResult
	if req.Level > 0 || req.Split != "" {
		if req.Level < 1 || req.Level > 3 || req.Split == "" {
			s.writeError(w, http.StatusBadRequest, "refresh needs both level (1-3) and split")
			return
		}
		res, err := s.board.Refresh(r.Context(), req.Level, req.Split)
		if err != nil {
			s.logger.Error("forced refresh failed", "level", req.Level, "split", req.Split, "error", err)
			s.writeError(w, http.StatusInternalServerError, "refresh failed")
			return
		}
		results = []leaderboard.RefreshResult{res}
	} else {
		var err error
		results, err = s.board.RefreshAll(r.Context())
		if err != nil {
			s.logger.Error("full refresh failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "refresh failed")
			return
		}
	}

	resp := RefreshResponse{Refreshed: make([]RefreshedPair, 0, len(results))}
	for _, res := range results {
		s.hub.Publish(events.TypeLeaderboardRefreshed, map[string]any{
			"level":         res.Level,
			"split":         res.Split,
			"agent_entries": res.AgentEntries,
			"team_entries":  res.TeamEntries,
		})
		resp.Refreshed = append(resp.Refreshed, RefreshedPair{
			Level:        res.Level,
			Split:        res.Split,
			AgentEntries: res.AgentEntries,
			TeamEntries:  res.TeamEntries,
		})
	}

	s.logger.Info("forced leaderboard refresh", "pairs", len(resp.Refreshed))
	respondJSON(w, http.StatusOK, resp)
}

func parseLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
