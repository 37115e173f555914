package api

import (
	"time"

	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/submission"
)

// LeaderboardResponse is returned by the leaderboard endpoints.
type LeaderboardResponse struct {
	View        string               `json:"view"` // "agent" or "team"
	Level       int                  `json:"level"`
	Split       string               `json:"split"`
	Entries     []*leaderboard.Entry `json:"entries"`
	RefreshedAt *time.Time           `json:"refreshed_at,omitempty"`
}

// HistoryResponse is returned by the per-agent and per-team history endpoints.
type HistoryResponse struct {
	Name        string                   `json:"name"`
	Submissions []*submission.Submission `json:"submissions"`
}

// SubmissionListResponse is returned by GET /api/v1/submissions/recent.
type SubmissionListResponse struct {
	Submissions []*submission.Submission `json:"submissions"`
}

// DirectSubmissionRequest is the JSON body for POST /api/v1/submissions.
// It carries the same fields as the webhook envelope; the server assigns
// the submission id.
type DirectSubmissionRequest struct {
	AgentName          string                  `json:"agent_name"`
	AgentVersion       string                  `json:"agent_version,omitempty"`
	TeamName           string                  `json:"team_name,omitempty"`
	Level              int                     `json:"level"`
	Split              string                  `json:"split"`
	Accuracy           float64                 `json:"accuracy"`
	CorrectTasks       int                     `json:"correct_tasks"`
	TotalTasks         int                     `json:"total_tasks"`
	AverageTimePerTask float64                 `json:"average_time_per_task,omitempty"`
	TotalTimeSeconds   float64                 `json:"total_time_seconds,omitempty"`
	Errors             int                     `json:"errors,omitempty"`
	TaskResults        []submission.TaskResult `json:"task_results,omitempty"`
	ModelUsed          string                  `json:"model_used,omitempty"`
	Environment        string                  `json:"environment,omitempty"`
}

// Submission builds the store record with a freshly assigned direct id.
func (r *DirectSubmissionRequest) Submission() *submission.Submission {
	return &submission.Submission{
		ID:                 submission.DirectID(),
		AgentName:          r.AgentName,
		AgentVersion:       r.AgentVersion,
		TeamName:           r.TeamName,
		Level:              r.Level,
		Split:              r.Split,
		Accuracy:           r.Accuracy,
		CorrectTasks:       r.CorrectTasks,
		TotalTasks:         r.TotalTasks,
		AverageTimePerTask: r.AverageTimePerTask,
		TotalTimeSeconds:   r.TotalTimeSeconds,
		Errors:             r.Errors,
		TaskResults:        r.TaskResults,
		ModelUsed:          r.ModelUsed,
		Environment:        r.Environment,
	}
}

// VerifyRequest is the JSON body for POST /api/v1/submissions/{id}/verify.
type VerifyRequest struct {
	Verified bool   `json:"verified"`
	Notes    string `json:"notes,omitempty"`
}

// RefreshRequest is the optional JSON body for POST /api/v1/admin/refresh.
// With no body (or an empty one), every known (level, split) is refreshed.
type RefreshRequest struct {
	Level int    `json:"level,omitempty"`
	Split string `json:"split,omitempty"`
}

// RefreshedPair reports one recomputed (level, split) view pair.
type RefreshedPair struct {
	Level        int    `json:"level"`
	Split        string `json:"split"`
	AgentEntries int    `json:"agent_entries"`
	TeamEntries  int    `json:"team_entries"`
}

// RefreshResponse is returned by POST /api/v1/admin/refresh.
type RefreshResponse struct {
	Refreshed []RefreshedPair `json:"refreshed"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string     `json:"status"`
	UptimeSeconds    int64      `json:"uptime_seconds"`
	TotalSubmissions int        `json:"total_submissions"`
	TotalAgents      int        `json:"total_agents"`
	LastRefreshedAt  *time.Time `json:"last_refreshed_at,omitempty"`
}
