package webhook

import (
	"github.com/agentbeats/gaiaboard/internal/config"
	"github.com/agentbeats/gaiaboard/internal/submission"
)

// Config holds the webhook listener configuration.
type Config struct {
	Listen string

	// Secret is the shared HMAC key. An empty secret rejects every
	// delivery unless AllowUnsigned is set explicitly.
	Secret        string
	AllowUnsigned bool

	MaxBodyBytes int64
}

// FromGlobalConfig converts the service-level webhook section.
func FromGlobalConfig(wc config.WebhookConfig) Config {
	c := Config{
		Listen:        wc.Listen,
		Secret:        wc.Secret,
		AllowUnsigned: wc.AllowUnsigned,
		MaxBodyBytes:  wc.MaxBodyBytes,
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// DefaultMaxBodyBytes caps webhook request bodies at 1 MB.
const DefaultMaxBodyBytes = 1 << 20

// Envelope is the structured submission payload embedded in a commit
// message or pull-request body under the EnvelopeKey.
type Envelope struct {
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

// Submission builds a store record from the envelope plus delivery
// provenance. The id derives from the commit hash so redeliveries of the
// same commit upsert instead of duplicating.
func (e *Envelope) Submission(repo, commitSHA, branch string) *submission.Submission {
	return &submission.Submission{
		ID:                 submission.GitHubID(commitSHA),
		AgentName:          e.AgentName,
		AgentVersion:       e.AgentVersion,
		TeamName:           e.TeamName,
		Level:              e.Level,
		Split:              e.Split,
		Accuracy:           e.Accuracy,
		CorrectTasks:       e.CorrectTasks,
		TotalTasks:         e.TotalTasks,
		AverageTimePerTask: e.AverageTimePerTask,
		TotalTimeSeconds:   e.TotalTimeSeconds,
		Errors:             e.Errors,
		TaskResults:        e.TaskResults,
		SourceRepo:         repo,
		CommitSHA:          commitSHA,
		Branch:             branch,
		ModelUsed:          e.ModelUsed,
		Environment:        e.Environment,
	}
}

// DeliveryResponse is the JSON body returned for every processed delivery.
type DeliveryResponse struct {
	DeliveryID   string `json:"delivery_id"`
	Outcome      string `json:"outcome"`
	SubmissionID string `json:"submission_id,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// ErrorResponse is the JSON body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
