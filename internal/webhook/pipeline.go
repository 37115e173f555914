package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/agentbeats/gaiaboard/internal/eventlog"
	"github.com/agentbeats/gaiaboard/internal/events"
	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/metrics"
	"github.com/agentbeats/gaiaboard/internal/submission"
	"github.com/google/uuid"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/agentbeats/gaiaboard/internal/webhook SubmissionStore,Refresher,EventRecorder

// SubmissionStore is the slice of the submission store the pipeline needs.
type SubmissionStore interface {
	Append(ctx context.Context, sub *submission.Submission) error
}

// Refresher rematerializes the leaderboard for one (level, split) pair.
type Refresher interface {
	Refresh(ctx context.Context, level int, split string) (leaderboard.RefreshResult, error)
}

// EventRecorder is the audit log for inbound deliveries.
type EventRecorder interface {
	Record(ctx context.Context, ev *eventlog.Event) error
	MarkProcessed(ctx context.Context, deliveryID string, outcome eventlog.Outcome, errMsg, submissionID string) error
	Get(ctx context.Context, deliveryID string) (*eventlog.Event, error)
}

// Delivery is one raw inbound webhook request.
type Delivery struct {
	ID        string // X-GitHub-Delivery
	Event     string // X-GitHub-Event
	Signature string // X-Hub-Signature-256
	Body      []byte
}

// Result is the terminal state of one delivery.
type Result struct {
	Outcome      eventlog.Outcome
	SubmissionID string
	Duplicate    bool
	Detail       string
	// Internal marks infrastructure failures (storage down) as opposed to
	// terminal pipeline outcomes; the delivery stays unprocessed so a
	// redelivery can retry it.
	Internal bool
}

// Pipeline drives a delivery through verification, extraction, storage,
// and leaderboard refresh. Safe for concurrent deliveries; repeated
// delivery ids short-circuit with the prior outcome.
type Pipeline struct {
	verifier *Verifier
	store    SubmissionStore
	board    Refresher
	log      EventRecorder
	hub      *events.Hub
	logger   *slog.Logger
}

func NewPipeline(verifier *Verifier, store SubmissionStore, board Refresher, log EventRecorder, hub *events.Hub, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		verifier: verifier,
		store:    store,
		board:    board,
		log:      log,
		hub:      hub,
		logger:   logger,
	}
}

// Process runs the per-delivery state machine. It never panics and never
// returns an error: every path ends in a Result that the HTTP layer maps
// to a status code, and (except for internal failures) in an audit row
// with the terminal outcome.
func (p *Pipeline) Process(ctx context.Context, d Delivery) Result {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Event == "" {
		d.Event = "unknown"
	}
	logger := p.logger.With("delivery_id", d.ID, "event", d.Event)

	meta := parseDeliveryMeta(d.Event, d.Body)

	err := p.log.Record(ctx, &eventlog.Event{
		DeliveryID: d.ID,
		EventType:  d.Event,
		Payload:    d.Body,
		SourceRepo: meta.repo,
		CommitSHA:  meta.commitSHA,
	})
	if errors.Is(err, eventlog.ErrDeliveryExists) {
		prior, getErr := p.log.Get(ctx, d.ID)
		if getErr != nil {
			return p.internal(logger, d.ID, "load prior delivery", getErr)
		}
		if prior.Processed {
			logger.Info("duplicate delivery ignored", "prior_outcome", prior.Outcome)
			metrics.RecordDelivery("DUPLICATE")
			return Result{Outcome: prior.Outcome, SubmissionID: prior.SubmissionID, Duplicate: true}
		}
		// The first attempt died after Record but before a terminal
		// outcome. The redelivery is the retry: process it against the
		// existing audit row.
		logger.Info("redelivery of unprocessed delivery, retrying")
	} else if err != nil {
		return p.internal(logger, d.ID, "record delivery", err)
	}

	p.hub.Publish(events.TypeWebhookReceived, map[string]any{
		"delivery_id": d.ID,
		"event":       d.Event,
		"repo":        meta.repo,
	})

	if err := p.verifier.Verify(d.Body, d.Signature); err != nil {
		logger.Warn("webhook signature rejected")
		return p.terminal(ctx, logger, d.ID, eventlog.OutcomeRejectedSignature, "signature verification failed", "")
	}

	env, err := p.extractFromTexts(meta.texts)
	if errors.Is(err, ErrNoEnvelope) {
		logger.Debug("no submission envelope in delivery")
		return p.terminal(ctx, logger, d.ID, eventlog.OutcomeNoPayload, "", "")
	}
	if err != nil {
		logger.Warn("submission envelope malformed", "error", err)
		return p.terminal(ctx, logger, d.ID, eventlog.OutcomeMalformed, err.Error(), "")
	}

	sub := env.Submission(meta.repo, meta.commitSHA, meta.branch)
	if err := p.store.Append(ctx, sub); err != nil {
		if errors.Is(err, submission.ErrInvalid) {
			logger.Warn("submission rejected", "error", err)
			p.hub.Publish(events.TypeSubmissionRejected, map[string]any{
				"delivery_id": d.ID,
				"agent":       sub.AgentName,
				"error":       err.Error(),
			})
			return p.terminal(ctx, logger, d.ID, eventlog.OutcomeValidationFailed, err.Error(), "")
		}
		return p.internal(logger, d.ID, "store submission", err)
	}

	metrics.RecordSubmissionStored(sub.Level, sub.Split, "webhook")
	p.hub.Publish(events.TypeSubmissionStored, map[string]any{
		"delivery_id":   d.ID,
		"submission_id": sub.ID,
		"agent":         sub.AgentName,
		"level":         sub.Level,
		"split":         sub.Split,
		"accuracy":      sub.Accuracy,
	})

	started := time.Now()
	res, err := p.board.Refresh(ctx, sub.Level, sub.Split)
	if err != nil {
		// The submission is durable; only the materialized view is stale.
		// Prior leaderboard entries stay visible until a refresh succeeds.
		logger.Error("leaderboard refresh failed after store", "submission_id", sub.ID, "error", err)
		return p.terminal(ctx, logger, d.ID, eventlog.OutcomeStored, "leaderboard refresh failed: "+err.Error(), sub.ID)
	}
	metrics.ObserveRefreshDuration(time.Since(started))
	metrics.UpdateLeaderboardSize("agent", sub.Level, sub.Split, res.AgentEntries)
	metrics.UpdateLeaderboardSize("team", sub.Level, sub.Split, res.TeamEntries)

	p.hub.Publish(events.TypeLeaderboardRefreshed, map[string]any{
		"level":         sub.Level,
		"split":         sub.Split,
		"agent_entries": res.AgentEntries,
		"team_entries":  res.TeamEntries,
	})

	logger.Info("delivery complete", "submission_id", sub.ID, "agent", sub.AgentName,
		"level", sub.Level, "split", sub.Split, "accuracy", sub.Accuracy)
	return p.terminal(ctx, logger, d.ID, eventlog.OutcomeComplete, "", sub.ID)
}

// extractFromTexts tries each candidate text in order. A malformed
// envelope anywhere wins over "nothing found": someone clearly attempted a
// submission and should see the rejection.
func (p *Pipeline) extractFromTexts(texts []string) (*Envelope, error) {
	var malformed error
	for _, text := range texts {
		env, err := Extract(text)
		if err == nil {
			return env, nil
		}
		if errors.Is(err, ErrEnvelopeMalformed) && malformed == nil {
			malformed = err
		}
	}
	if malformed != nil {
		return nil, malformed
	}
	return nil, ErrNoEnvelope
}

func (p *Pipeline) terminal(ctx context.Context, logger *slog.Logger, deliveryID string, outcome eventlog.Outcome, detail, submissionID string) Result {
	if err := p.log.MarkProcessed(ctx, deliveryID, outcome, detail, submissionID); err != nil {
		logger.Error("failed to mark delivery processed", "outcome", outcome, "error", err)
	}
	metrics.RecordDelivery(string(outcome))
	return Result{Outcome: outcome, SubmissionID: submissionID, Detail: detail}
}

func (p *Pipeline) internal(logger *slog.Logger, deliveryID, op string, err error) Result {
	logger.Error("delivery processing failed", "op", op, "error", err)
	metrics.RecordDelivery("INTERNAL_ERROR")
	return Result{Outcome: eventlog.OutcomeReceived, Detail: op + ": " + err.Error(), Internal: true}
}

// deliveryMeta is what the pipeline pulls out of the raw GitHub payload:
// provenance plus the texts that may carry an envelope.
type deliveryMeta struct {
	repo      string
	commitSHA string
	branch    string
	texts     []string
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"commits"`
}

type pullRequestPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest *struct {
		Body string `json:"body"`
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

// prActions are the pull_request actions whose body is worth scanning.
var prActions = map[string]bool{"opened": true, "synchronize": true, "edited": true}

func parseDeliveryMeta(event string, body []byte) deliveryMeta {
	var meta deliveryMeta

	switch event {
	case "push":
		var p pushPayload
		if json.Unmarshal(body, &p) != nil {
			return meta
		}
		meta.repo = p.Repository.FullName
		meta.branch = branchFromRef(p.Ref)
		if p.HeadCommit != nil {
			meta.commitSHA = p.HeadCommit.ID
			meta.texts = append(meta.texts, p.HeadCommit.Message)
		}
		for _, c := range p.Commits {
			if p.HeadCommit != nil && c.ID == p.HeadCommit.ID {
				continue
			}
			meta.texts = append(meta.texts, c.Message)
		}

	case "pull_request":
		var p pullRequestPayload
		if json.Unmarshal(body, &p) != nil {
			return meta
		}
		meta.repo = p.Repository.FullName
		if p.PullRequest != nil {
			meta.commitSHA = p.PullRequest.Head.SHA
			meta.branch = p.PullRequest.Head.Ref
			if prActions[p.Action] {
				meta.texts = append(meta.texts, p.PullRequest.Body)
			}
		}
	}

	return meta
}

func branchFromRef(ref string) string {
	// "refs/heads/main" -> "main"
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
