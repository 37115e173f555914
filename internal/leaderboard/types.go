package leaderboard

import (
	"fmt"
	"time"
)

// Scope selects which derived view an entry belongs to. Agent and team
// rankings are computed as independent passes over the same submissions.
type Scope string

const (
	ScopeAgent Scope = "agent"
	ScopeTeam  Scope = "team"
)

// Entry is one derived ranking row. Entries are a cache owned by the
// Materializer and can always be rebuilt from the submission store.
type Entry struct {
	Scope              Scope     `json:"-"`
	Name               string    `json:"name"`
	Level              int       `json:"level"`
	Split              string    `json:"split"`
	Rank               int       `json:"rank"`
	Accuracy           float64   `json:"accuracy"`
	CorrectTasks       int       `json:"correct_tasks"`
	TotalTasks         int       `json:"total_tasks"`
	AverageTimePerTask float64   `json:"average_time_per_task,omitempty"`
	ModelUsed          string    `json:"model_used,omitempty"`
	Verified           bool      `json:"verified"`
	SubmissionID       string    `json:"submission_id"`
	SubmittedAt        time.Time `json:"submitted_at"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

// Score renders the correct/total fraction, e.g. "24/30".
func (e *Entry) Score() string {
	return fmt.Sprintf("%d/%d", e.CorrectTasks, e.TotalTasks)
}

// RefreshResult reports how many entries each pass wrote for one
// (level, split) pair.
type RefreshResult struct {
	Level        int
	Split        string
	AgentEntries int
	TeamEntries  int
}
