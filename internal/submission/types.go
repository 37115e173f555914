package submission

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Accuracy is a percentage; supplied values may be rounded to one decimal
// place by reporters, so consistency with the task counts is checked with
// this absolute tolerance.
const accuracyTolerance = 0.5

var (
	ErrNotFound = errors.New("submission not found")
	ErrInvalid  = errors.New("invalid submission")
)

// Submission is one persisted benchmark evaluation result.
type Submission struct {
	ID                 string       `json:"submission_id"`
	AgentName          string       `json:"agent_name"`
	AgentVersion       string       `json:"agent_version,omitempty"`
	TeamName           string       `json:"team_name,omitempty"`
	Level              int          `json:"level"`
	Split              string       `json:"split"`
	Accuracy           float64      `json:"accuracy"`
	CorrectTasks       int          `json:"correct_tasks"`
	TotalTasks         int          `json:"total_tasks"`
	AverageTimePerTask float64      `json:"average_time_per_task,omitempty"`
	TotalTimeSeconds   float64      `json:"total_time_seconds,omitempty"`
	Errors             int          `json:"errors,omitempty"`
	TaskResults        []TaskResult `json:"task_results,omitempty"`
	SourceRepo         string       `json:"source_repo,omitempty"`
	CommitSHA          string       `json:"commit_sha,omitempty"`
	Branch             string       `json:"branch,omitempty"`
	ModelUsed          string       `json:"model_used,omitempty"`
	Environment        string       `json:"environment,omitempty"`
	Verified           bool         `json:"verified"`
	VerificationNotes  string       `json:"verification_notes,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// TaskResult is one task outcome within a run, in task order.
type TaskResult struct {
	TaskID         string  `json:"task_id"`
	Correct        bool    `json:"correct"`
	TimeSeconds    float64 `json:"time_seconds,omitempty"`
	AgentAnswer    string  `json:"agent_answer,omitempty"`
	ExpectedAnswer string  `json:"expected_answer,omitempty"`
}

// Normalize trims identity fields and derives accuracy from the task counts
// when the reporter omitted it.
func (s *Submission) Normalize() {
	s.ID = strings.TrimSpace(s.ID)
	s.AgentName = strings.TrimSpace(s.AgentName)
	s.TeamName = strings.TrimSpace(s.TeamName)
	s.Split = strings.TrimSpace(strings.ToLower(s.Split))
	if s.Accuracy == 0 && s.CorrectTasks > 0 && s.TotalTasks > 0 {
		s.Accuracy = 100 * float64(s.CorrectTasks) / float64(s.TotalTasks)
	}
}

// Validate checks the model invariants. All failures wrap ErrInvalid.
func (s *Submission) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: submission id is required", ErrInvalid)
	}
	if s.AgentName == "" {
		return fmt.Errorf("%w: agent_name is required", ErrInvalid)
	}
	if s.Level < 1 || s.Level > 3 {
		return fmt.Errorf("%w: level must be between 1 and 3 (got %d)", ErrInvalid, s.Level)
	}
	if s.Split == "" {
		return fmt.Errorf("%w: split is required", ErrInvalid)
	}
	if s.TotalTasks <= 0 {
		return fmt.Errorf("%w: total_tasks must be positive (got %d)", ErrInvalid, s.TotalTasks)
	}
	if s.CorrectTasks < 0 || s.CorrectTasks > s.TotalTasks {
		return fmt.Errorf("%w: correct_tasks must be between 0 and total_tasks (got %d/%d)", ErrInvalid, s.CorrectTasks, s.TotalTasks)
	}
	if s.Accuracy < 0 || s.Accuracy > 100 {
		return fmt.Errorf("%w: accuracy must be between 0 and 100 (got %.2f)", ErrInvalid, s.Accuracy)
	}
	derived := 100 * float64(s.CorrectTasks) / float64(s.TotalTasks)
	if math.Abs(s.Accuracy-derived) > accuracyTolerance {
		return fmt.Errorf("%w: accuracy %.2f inconsistent with %d/%d tasks (expected %.2f)", ErrInvalid, s.Accuracy, s.CorrectTasks, s.TotalTasks, derived)
	}
	if s.AverageTimePerTask < 0 {
		return fmt.Errorf("%w: average_time_per_task must not be negative", ErrInvalid)
	}
	if s.TotalTimeSeconds < 0 {
		return fmt.Errorf("%w: total_time_seconds must not be negative", ErrInvalid)
	}
	return nil
}

// Score renders the correct/total fraction, e.g. "24/30".
func (s *Submission) Score() string {
	return fmt.Sprintf("%d/%d", s.CorrectTasks, s.TotalTasks)
}

// GitHubID derives a submission id from the commit that carried the result.
// Redeliveries of the same commit map to the same id, which makes the
// store upsert idempotent.
func GitHubID(commitSHA string) string {
	sha := strings.TrimSpace(commitSHA)
	if len(sha) > 12 {
		sha = sha[:12]
	}
	if sha == "" {
		return DirectID()
	}
	return "github-" + sha
}

// DirectID generates an id for submissions arriving via the REST API.
func DirectID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "direct-" + hex[:12]
}

// Filter narrows Query results. Zero values mean "any".
type Filter struct {
	Agent        string
	Team         string
	Level        int
	Split        string
	VerifiedOnly bool
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

// Stats summarizes the whole store for the /stats endpoint.
type Stats struct {
	TotalSubmissions int                `json:"total_submissions"`
	TotalAgents      int                `json:"total_agents"`
	TotalTeams       int                `json:"total_teams"`
	VerifiedCount    int                `json:"verified_count"`
	LastSubmissionAt *time.Time         `json:"last_submission_at,omitempty"`
	ByLevel          map[int]LevelStats `json:"by_level"`
}

// LevelStats aggregates submissions for one level across splits.
type LevelStats struct {
	Count        int     `json:"count"`
	BestAccuracy float64 `json:"best_accuracy"`
	AvgAccuracy  float64 `json:"avg_accuracy"`
}

// LevelSplit is one (level, split) pair present in the store.
type LevelSplit struct {
	Level int    `json:"level"`
	Split string `json:"split"`
}
