package submission

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentbeats/gaiaboard/internal/storage"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gaiaboard.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath, 5*time.Second)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func validSubmission(id string) *Submission {
	return &Submission{
		ID:                 id,
		AgentName:          "gaia-agent",
		AgentVersion:       "1.2.0",
		TeamName:           "team-alpha",
		Level:              1,
		Split:              "validation",
		Accuracy:           80.0,
		CorrectTasks:       24,
		TotalTasks:         30,
		AverageTimePerTask: 12.5,
		TotalTimeSeconds:   375,
		ModelUsed:          "gpt-4o",
	}
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	sub := validSubmission("github-abc123def456")
	sub.TaskResults = []TaskResult{
		{TaskID: "task-001", Correct: true, TimeSeconds: 10.5, AgentAnswer: "42", ExpectedAnswer: "42"},
		{TaskID: "task-002", Correct: false, TimeSeconds: 14.5, AgentAnswer: "41", ExpectedAnswer: "42"},
	}
	if err := store.Append(context.Background(), sub); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Get(context.Background(), "github-abc123def456")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AgentName != "gaia-agent" || got.TeamName != "team-alpha" {
		t.Fatalf("unexpected identity fields: %#v", got)
	}
	if got.Accuracy != 80.0 || got.CorrectTasks != 24 || got.TotalTasks != 30 {
		t.Fatalf("unexpected result fields: %#v", got)
	}
	if len(got.TaskResults) != 2 || got.TaskResults[0].TaskID != "task-001" {
		t.Fatalf("task results not preserved: %#v", got.TaskResults)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
	if got.Verified {
		t.Fatal("verified must default to false")
	}
}

func TestAppendDerivesAccuracyWhenOmitted(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	sub := validSubmission("direct-000000000001")
	sub.Accuracy = 0
	if err := store.Append(context.Background(), sub); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.Get(context.Background(), "direct-000000000001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := 100 * 24.0 / 30.0
	if diff := got.Accuracy - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("derived accuracy = %v, want %v", got.Accuracy, want)
	}
}

func TestAppendIsIdempotentPerID(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	store := New(db)

	first := validSubmission("github-aaaa11112222")
	if err := store.Append(context.Background(), first); err != nil {
		t.Fatalf("Append 1: %v", err)
	}

	second := validSubmission("github-aaaa11112222")
	second.Accuracy = 90.0
	second.CorrectTasks = 27
	if err := store.Append(context.Background(), second); err != nil {
		t.Fatalf("Append 2: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM submissions;").Scan(&count); err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after re-append, got %d", count)
	}

	got, err := store.Get(context.Background(), "github-aaaa11112222")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Accuracy != 90.0 || got.CorrectTasks != 27 {
		t.Fatalf("second append did not overwrite: %#v", got)
	}
}

func TestAppendPreservesVerifiedOnReplay(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	sub := validSubmission("github-bbbb33334444")
	if err := store.Append(context.Background(), sub); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.MarkVerified(context.Background(), sub.ID, true, "manually checked"); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	// Redelivery of the same commit must not clear the admin decision.
	if err := store.Append(context.Background(), validSubmission("github-bbbb33334444")); err != nil {
		t.Fatalf("Append replay: %v", err)
	}

	got, err := store.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Verified || got.VerificationNotes != "manually checked" {
		t.Fatalf("verified flag lost on replay: %#v", got)
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	t.Parallel()

	db := testDB(t)
	store := New(db)

	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{"missing agent", func(s *Submission) { s.AgentName = "" }},
		{"level too high", func(s *Submission) { s.Level = 4 }},
		{"level too low", func(s *Submission) { s.Level = 0 }},
		{"missing split", func(s *Submission) { s.Split = "" }},
		{"zero total tasks", func(s *Submission) { s.TotalTasks = 0 }},
		{"correct above total", func(s *Submission) { s.CorrectTasks = 31 }},
		{"negative correct", func(s *Submission) { s.CorrectTasks = -1 }},
		{"accuracy above 100", func(s *Submission) { s.Accuracy = 100.5 }},
		{"accuracy inconsistent", func(s *Submission) { s.Accuracy = 50.0 }},
		{"negative avg time", func(s *Submission) { s.AverageTimePerTask = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission("github-cccc55556666")
			tt.mutate(sub)
			err := store.Append(context.Background(), sub)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}

	// Store must be unchanged after rejected appends.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM submissions;").Scan(&count); err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store after rejections, got %d rows", count)
	}
}

func TestAccuracyToleranceAcceptsRounded(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	// 20/30 is 66.666...; a reporter rounding to 66.7 must be accepted.
	sub := validSubmission("direct-rounded00001")
	sub.CorrectTasks = 20
	sub.Accuracy = 66.7
	if err := store.Append(context.Background(), sub); err != nil {
		t.Fatalf("Append rounded accuracy: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	_, err := store.Get(context.Background(), "github-nope00000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))
	ctx := context.Background()

	a := validSubmission("github-000000000001")
	b := validSubmission("github-000000000002")
	b.AgentName = "other-agent"
	b.TeamName = "team-beta"
	b.Level = 2
	c := validSubmission("github-000000000003")
	c.Split = "test"
	for _, sub := range []*Submission{a, b, c} {
		if err := store.Append(ctx, sub); err != nil {
			t.Fatalf("Append %s: %v", sub.ID, err)
		}
	}
	if err := store.MarkVerified(ctx, a.ID, true, ""); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	byAgent, err := store.Query(ctx, Filter{Agent: "other-agent"})
	if err != nil {
		t.Fatalf("Query by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].ID != b.ID {
		t.Fatalf("unexpected agent filter result: %#v", byAgent)
	}

	byLevelSplit, err := store.Query(ctx, Filter{Level: 1, Split: "validation"})
	if err != nil {
		t.Fatalf("Query by level/split: %v", err)
	}
	if len(byLevelSplit) != 1 || byLevelSplit[0].ID != a.ID {
		t.Fatalf("unexpected level/split result: %#v", byLevelSplit)
	}

	verified, err := store.Query(ctx, Filter{VerifiedOnly: true})
	if err != nil {
		t.Fatalf("Query verified: %v", err)
	}
	if len(verified) != 1 || verified[0].ID != a.ID {
		t.Fatalf("unexpected verified result: %#v", verified)
	}
}

func TestQueryOrdering(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))
	ctx := context.Background()

	low := validSubmission("github-low000000000")
	low.Accuracy = 60
	low.CorrectTasks = 18
	fastTie := validSubmission("github-fast00000000")
	fastTie.AgentName = "fast-agent"
	fastTie.AverageTimePerTask = 5
	slowTie := validSubmission("github-slow00000000")
	slowTie.AgentName = "slow-agent"
	slowTie.AverageTimePerTask = 50
	for _, sub := range []*Submission{low, slowTie, fastTie} {
		if err := store.Append(ctx, sub); err != nil {
			t.Fatalf("Append %s: %v", sub.ID, err)
		}
	}

	got, err := store.Query(ctx, Filter{Level: 1, Split: "validation"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	wantOrder := []string{"github-fast00000000", "github-slow00000000", "github-low000000000"}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestQueryPagination(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))
	ctx := context.Background()

	ids := []string{"github-page00000001", "github-page00000002", "github-page00000003"}
	for i, id := range ids {
		sub := validSubmission(id)
		sub.Accuracy = float64(90 - i*10)
		sub.CorrectTasks = sub.TotalTasks * int(sub.Accuracy) / 100
		if err := store.Append(ctx, sub); err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
	}

	page, err := store.Query(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Fatalf("unexpected page: %#v", page)
	}
}

func TestMarkVerifiedNotFound(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))

	err := store.MarkVerified(context.Background(), "github-missing00000", true, "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLevelSplitsAndStats(t *testing.T) {
	t.Parallel()

	store := New(testDB(t))
	ctx := context.Background()

	a := validSubmission("github-stats0000001")
	b := validSubmission("github-stats0000002")
	b.AgentName = "other-agent"
	b.TeamName = ""
	b.Level = 2
	b.Split = "test"
	b.Accuracy = 50
	b.CorrectTasks = 15
	for _, sub := range []*Submission{a, b} {
		if err := store.Append(ctx, sub); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	pairs, err := store.LevelSplits(ctx)
	if err != nil {
		t.Fatalf("LevelSplits: %v", err)
	}
	if len(pairs) != 2 || pairs[0].Level != 1 || pairs[1].Split != "test" {
		t.Fatalf("unexpected pairs: %#v", pairs)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalSubmissions != 2 || stats.TotalAgents != 2 || stats.TotalTeams != 1 {
		t.Fatalf("unexpected totals: %#v", stats)
	}
	if stats.LastSubmissionAt == nil {
		t.Fatal("last submission time missing")
	}
	if stats.ByLevel[1].BestAccuracy != 80.0 || stats.ByLevel[2].Count != 1 {
		t.Fatalf("unexpected level stats: %#v", stats.ByLevel)
	}
}

func TestIDGenerators(t *testing.T) {
	t.Parallel()

	if got := GitHubID("abc123def4567890abcdef"); got != "github-abc123def456" {
		t.Fatalf("GitHubID = %q", got)
	}
	if got := GitHubID("short"); got != "github-short" {
		t.Fatalf("GitHubID short = %q", got)
	}

	direct := DirectID()
	if len(direct) != len("direct-")+12 {
		t.Fatalf("DirectID length = %d (%q)", len(direct), direct)
	}
	if direct == DirectID() {
		t.Fatal("DirectID must not repeat")
	}
}
