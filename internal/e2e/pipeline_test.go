package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentbeats/gaiaboard/internal/eventlog"
	"github.com/agentbeats/gaiaboard/internal/events"
	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/storage"
	"github.com/agentbeats/gaiaboard/internal/submission"
	"github.com/agentbeats/gaiaboard/internal/webhook"
)

const e2eSecret = "e2e-shared-secret"

// harness wires every real component over one throwaway SQLite database,
// the same way the serve command does.
type harness struct {
	store    *submission.Store
	board    *leaderboard.Materializer
	audit    *eventlog.Log
	hub      *events.Hub
	pipeline *webhook.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(),
		filepath.Join(t.TempDir(), "e2e.db"), time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		store: submission.New(db),
		board: leaderboard.New(db),
		audit: eventlog.New(db),
		hub:   events.NewHub(64),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.pipeline = webhook.NewPipeline(
		webhook.NewVerifier(e2eSecret, false),
		h.store, h.board, h.audit, h.hub, logger,
	)
	return h
}

// pushDelivery builds a signed GitHub push delivery whose head commit
// message carries the given text.
func pushDelivery(t *testing.T, deliveryID, commitSHA, message string) webhook.Delivery {
	t.Helper()

	payload := map[string]any{
		"ref": "refs/heads/main",
		"repository": map[string]any{
			"full_name": "agentbeats/solver",
		},
		"head_commit": map[string]any{
			"id":      commitSHA,
			"message": message,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return webhook.Delivery{
		ID:        deliveryID,
		Event:     "push",
		Signature: webhook.Sign(body, e2eSecret),
		Body:      body,
	}
}

func envelopeText(agent string, accuracy float64, correct, total int) string {
	return fmt.Sprintf(`Results run complete.

{"gaia_submission": {"agent_name": %q, "team_name": "blue", "level": 1, "split": "validation", "accuracy": %g, "correct_tasks": %d, "total_tasks": %d, "average_time_per_task": 12.5}}`,
		agent, accuracy, correct, total)
}

func TestEndToEndSubmissionFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sha := "0123456789abcdef0123456789abcdef01234567"
	res := h.pipeline.Process(ctx, pushDelivery(t, "e2e-1", sha, envelopeText("solver-a", 65.0, 107, 165)))

	if res.Outcome != eventlog.OutcomeComplete {
		t.Fatalf("outcome = %q, want COMPLETE (detail %q)", res.Outcome, res.Detail)
	}
	if res.SubmissionID != "github-0123456789ab" {
		t.Fatalf("submission id = %q", res.SubmissionID)
	}

	// Submission is durable with provenance attached.
	sub, err := h.store.Get(ctx, res.SubmissionID)
	if err != nil {
		t.Fatalf("stored submission not readable: %v", err)
	}
	if sub.AgentName != "solver-a" || sub.SourceRepo != "agentbeats/solver" || sub.CommitSHA != sha {
		t.Errorf("provenance mismatch: %+v", sub)
	}
	if sub.Branch != "main" {
		t.Errorf("branch = %q, want main", sub.Branch)
	}

	// Both leaderboard views materialized in the same pass.
	agents, err := h.board.Entries(ctx, leaderboard.ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("agent entries: %v", err)
	}
	if len(agents) != 1 || agents[0].Rank != 1 || agents[0].Name != "solver-a" {
		t.Fatalf("agent view = %+v", agents)
	}
	if agents[0].SubmissionID != res.SubmissionID {
		t.Errorf("entry points at %q, want %q", agents[0].SubmissionID, res.SubmissionID)
	}
	teams, err := h.board.Entries(ctx, leaderboard.ScopeTeam, 1, "validation", 10)
	if err != nil {
		t.Fatalf("team entries: %v", err)
	}
	if len(teams) != 1 || teams[0].Name != "blue" {
		t.Fatalf("team view = %+v", teams)
	}

	// Audit row closed out with the terminal outcome.
	ev, err := h.audit.Get(ctx, "e2e-1")
	if err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if ev.Outcome != eventlog.OutcomeComplete || !ev.Processed {
		t.Errorf("audit = outcome %q processed %v", ev.Outcome, ev.Processed)
	}
	if ev.SubmissionID != res.SubmissionID {
		t.Errorf("audit submission id = %q", ev.SubmissionID)
	}

	// The event stream saw the whole lifecycle.
	var types []string
	for _, e := range h.hub.SnapshotSince(0) {
		types = append(types, e.Type)
	}
	for _, want := range []string{events.TypeWebhookReceived, events.TypeSubmissionStored, events.TypeLeaderboardRefreshed} {
		found := false
		for _, got := range types {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("event %q missing from stream %v", want, types)
		}
	}
}

func TestEndToEndBadSignatureLeavesNoSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := pushDelivery(t, "e2e-2", "feedfeedfeedfeedfeedfeedfeedfeedfeedfeed", envelopeText("solver-b", 50.0, 5, 10))
	d.Signature = "sha256=0000000000000000000000000000000000000000000000000000000000000000"

	res := h.pipeline.Process(ctx, d)
	if res.Outcome != eventlog.OutcomeRejectedSignature {
		t.Fatalf("outcome = %q, want REJECTED_SIGNATURE", res.Outcome)
	}

	subs, err := h.store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("rejected delivery stored %d submissions", len(subs))
	}

	// The rejection is still audited.
	ev, err := h.audit.Get(ctx, "e2e-2")
	if err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if ev.Outcome != eventlog.OutcomeRejectedSignature {
		t.Errorf("audit outcome = %q", ev.Outcome)
	}
}

func TestEndToEndPlainCommitIsNoPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.pipeline.Process(ctx, pushDelivery(t, "e2e-3",
		"aaaabbbbccccddddeeeeffff0000111122223333", "Refactor task runner"))
	if res.Outcome != eventlog.OutcomeNoPayload {
		t.Fatalf("outcome = %q, want NO_PAYLOAD", res.Outcome)
	}

	subs, _ := h.store.Recent(ctx, 10)
	if len(subs) != 0 {
		t.Errorf("plain commit stored %d submissions", len(subs))
	}
}

func TestEndToEndDuplicateDeliveryShortCircuits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sha := "1111222233334444555566667777888899990000"
	d := pushDelivery(t, "e2e-4", sha, envelopeText("solver-c", 40.0, 4, 10))

	first := h.pipeline.Process(ctx, d)
	if first.Outcome != eventlog.OutcomeComplete {
		t.Fatalf("first outcome = %q", first.Outcome)
	}

	second := h.pipeline.Process(ctx, d)
	if !second.Duplicate {
		t.Fatal("redelivery not flagged duplicate")
	}
	if second.Outcome != eventlog.OutcomeComplete || second.SubmissionID != first.SubmissionID {
		t.Errorf("redelivery = %+v, want prior result", second)
	}

	subs, _ := h.store.Recent(ctx, 10)
	if len(subs) != 1 {
		t.Errorf("duplicate delivery stored %d submissions, want 1", len(subs))
	}
}

func TestEndToEndRedeliveryAfterCrashReprocesses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Simulate a first attempt that died after recording the delivery but
	// before any terminal outcome: the audit row exists unprocessed.
	sha := "4444555566667777888899990000aaaabbbbcccc"
	d := pushDelivery(t, "e2e-5", sha, envelopeText("solver-d", 30.0, 3, 10))
	if err := h.audit.Record(ctx, &eventlog.Event{
		DeliveryID: "e2e-5",
		EventType:  "push",
		Payload:    d.Body,
	}); err != nil {
		t.Fatalf("seed audit row: %v", err)
	}

	// GitHub redelivers; the pipeline must reprocess, not answer with the
	// stale RECEIVED outcome.
	res := h.pipeline.Process(ctx, d)
	if res.Duplicate {
		t.Fatal("redelivery of unprocessed delivery flagged duplicate")
	}
	if res.Outcome != eventlog.OutcomeComplete {
		t.Fatalf("outcome = %q, want COMPLETE (detail %q)", res.Outcome, res.Detail)
	}

	if _, err := h.store.Get(ctx, res.SubmissionID); err != nil {
		t.Fatalf("submission not stored on retry: %v", err)
	}
	ev, err := h.audit.Get(ctx, "e2e-5")
	if err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if !ev.Processed || ev.Outcome != eventlog.OutcomeComplete {
		t.Errorf("audit = outcome %q processed %v, want COMPLETE/true", ev.Outcome, ev.Processed)
	}
}

func TestEndToEndRankingAcrossDeliveries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runs := []struct {
		sha      string
		agent    string
		accuracy float64
		correct  int
	}{
		{"a100000000000000000000000000000000000001", "slow-and-steady", 40.0, 40},
		{"a200000000000000000000000000000000000002", "frontier", 72.0, 72},
		{"a300000000000000000000000000000000000003", "frontier", 80.0, 80},
		{"a400000000000000000000000000000000000004", "middling", 55.0, 55},
	}
	for i, r := range runs {
		res := h.pipeline.Process(ctx, pushDelivery(t,
			fmt.Sprintf("e2e-rank-%d", i), r.sha, envelopeText(r.agent, r.accuracy, r.correct, 100)))
		if res.Outcome != eventlog.OutcomeComplete {
			t.Fatalf("run %d outcome = %q (detail %q)", i, res.Outcome, res.Detail)
		}
	}

	entries, err := h.board.Entries(ctx, leaderboard.ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 (one per agent)", len(entries))
	}
	wantOrder := []string{"frontier", "middling", "slow-and-steady"}
	for i, want := range wantOrder {
		if entries[i].Name != want {
			t.Errorf("rank %d = %q, want %q", i+1, entries[i].Name, want)
		}
	}
	// Only the agent's best run counts.
	if entries[0].Accuracy != 80.0 {
		t.Errorf("frontier accuracy = %v, want best run 80", entries[0].Accuracy)
	}
}
