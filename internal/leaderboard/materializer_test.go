package leaderboard

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbeats/gaiaboard/internal/storage"
	"github.com/agentbeats/gaiaboard/internal/submission"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(),
		filepath.Join(t.TempDir(), "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func store(t *testing.T, db *sql.DB, subs ...*submission.Submission) {
	t.Helper()
	s := submission.New(db)
	for _, sub := range subs {
		if err := s.Append(context.Background(), sub); err != nil {
			t.Fatalf("append %s: %v", sub.ID, err)
		}
	}
}

func sub(id, agent, team string, accuracy float64, correct, total int, avgTime float64) *submission.Submission {
	return &submission.Submission{
		ID:                 id,
		AgentName:          agent,
		TeamName:           team,
		Level:              1,
		Split:              "validation",
		Accuracy:           accuracy,
		CorrectTasks:       correct,
		TotalTasks:         total,
		AverageTimePerTask: avgTime,
	}
}

func TestRefreshRanking(t *testing.T) {
	db := openTestDB(t)
	store(t, db,
		sub("github-aaa000000001", "alpha", "red", 60, 18, 30, 10),
		sub("github-bbb000000002", "beta", "blue", 80, 24, 30, 12),
		sub("github-ccc000000003", "gamma", "red", 70, 21, 30, 8),
	)

	m := New(db)
	res, err := m.Refresh(context.Background(), 1, "validation")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.AgentEntries != 3 {
		t.Errorf("agent entries = %d, want 3", res.AgentEntries)
	}
	if res.TeamEntries != 2 {
		t.Errorf("team entries = %d, want 2", res.TeamEntries)
	}

	entries, err := m.Entries(context.Background(), ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	wantOrder := []string{"beta", "gamma", "alpha"}
	for i, name := range wantOrder {
		if entries[i].Name != name || entries[i].Rank != i+1 {
			t.Errorf("rank %d = %s (rank %d), want %s", i+1, entries[i].Name, entries[i].Rank, name)
		}
	}

	// Team view: red's best is gamma's 70, blue has beta's 80.
	teams, err := m.Entries(context.Background(), ScopeTeam, 1, "validation", 10)
	if err != nil {
		t.Fatalf("team entries: %v", err)
	}
	if teams[0].Name != "blue" || teams[1].Name != "red" {
		t.Errorf("team order = [%s, %s], want [blue, red]", teams[0].Name, teams[1].Name)
	}
	if teams[1].Accuracy != 70 {
		t.Errorf("red's best accuracy = %v, want 70 (gamma's)", teams[1].Accuracy)
	}
}

func TestRefreshBestPerName(t *testing.T) {
	db := openTestDB(t)
	store(t, db,
		sub("github-aaa000000001", "alpha", "", 60, 18, 30, 10),
		sub("github-bbb000000002", "alpha", "", 80, 24, 30, 10),
		sub("github-ccc000000003", "alpha", "", 70, 21, 30, 10),
	)

	m := New(db)
	if _, err := m.Refresh(context.Background(), 1, "validation"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	entries, err := m.Entries(context.Background(), ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (best per agent)", len(entries))
	}
	if entries[0].Accuracy != 80 || entries[0].SubmissionID != "github-bbb000000002" {
		t.Errorf("best entry = %+v, want the 80%% run", entries[0])
	}
}

func TestRefreshTieBreaks(t *testing.T) {
	db := openTestDB(t)
	// Same accuracy; faster average time wins.
	store(t, db,
		sub("github-aaa000000001", "slow", "", 80, 24, 30, 20),
		sub("github-bbb000000002", "fast", "", 80, 24, 30, 5),
	)

	m := New(db)
	if _, err := m.Refresh(context.Background(), 1, "validation"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	entries, err := m.Entries(context.Background(), ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if entries[0].Name != "fast" {
		t.Errorf("rank 1 = %s, want fast (lower average time)", entries[0].Name)
	}
}

func TestRefreshEntryFields(t *testing.T) {
	db := openTestDB(t)
	s := &submission.Submission{
		ID:                 "github-aaa000000001",
		AgentName:          "alpha",
		TeamName:           "red",
		Level:              1,
		Split:              "validation",
		Accuracy:           64.8484848485,
		CorrectTasks:       107,
		TotalTasks:         165,
		AverageTimePerTask: 42.25,
		ModelUsed:          "gpt-4o",
		Verified:           true,
	}
	store(t, db, s)

	m := New(db)
	ctx := context.Background()
	_, err := m.Refresh(ctx, 1, "validation")
	require.NoError(t, err)

	entries, err := m.Entries(ctx, ScopeAgent, 1, "validation", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, 1, e.Rank)
	assert.Equal(t, "alpha", e.Name)
	assert.InDelta(t, 64.8484848485, e.Accuracy, 1e-9)
	assert.Equal(t, 107, e.CorrectTasks)
	assert.Equal(t, 165, e.TotalTasks)
	assert.Equal(t, "107/165", e.Score())
	assert.InDelta(t, 42.25, e.AverageTimePerTask, 1e-9)
	assert.Equal(t, "gpt-4o", e.ModelUsed)
	assert.True(t, e.Verified)
	assert.Equal(t, s.ID, e.SubmissionID)
	assert.False(t, e.RefreshedAt.IsZero())
}

func TestRefreshIdempotent(t *testing.T) {
	db := openTestDB(t)
	store(t, db,
		sub("github-aaa000000001", "alpha", "red", 60, 18, 30, 10),
		sub("github-bbb000000002", "beta", "blue", 80, 24, 30, 12),
	)

	m := New(db)
	ctx := context.Background()
	if _, err := m.Refresh(ctx, 1, "validation"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	first, err := m.Entries(ctx, ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}

	if _, err := m.Refresh(ctx, 1, "validation"); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	second, err := m.Entries(ctx, ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("entry counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		// RefreshedAt moves with each pass; everything else is stable.
		a, b := *first[i], *second[i]
		a.RefreshedAt, b.RefreshedAt = time.Time{}, time.Time{}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("entry %d differs across refreshes:\n  %+v\n  %+v", i, a, b)
		}
	}
}

func TestRefreshScopeIndependence(t *testing.T) {
	db := openTestDB(t)
	store(t, db, sub("github-aaa000000001", "alpha", "red", 80, 24, 30, 10))

	other := &submission.Submission{
		ID: "github-bbb000000002", AgentName: "beta", Level: 2, Split: "test",
		Accuracy: 50, CorrectTasks: 5, TotalTasks: 10,
	}
	store(t, db, other)

	m := New(db)
	ctx := context.Background()
	if _, err := m.Refresh(ctx, 1, "validation"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// The (2, test) pair was not refreshed, so it has no entries yet.
	entries, err := m.Entries(ctx, ScopeAgent, 2, "test", 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("unrefreshed pair has %d entries, want 0", len(entries))
	}

	if _, err := m.Refresh(ctx, 2, "test"); err != nil {
		t.Fatalf("refresh pair: %v", err)
	}
	one, err := m.Entries(ctx, ScopeAgent, 1, "validation", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].Name != "alpha" {
		t.Errorf("level 1 view disturbed by level 2 refresh: %+v", one)
	}
}

func TestRefreshAll(t *testing.T) {
	db := openTestDB(t)
	store(t, db, sub("github-aaa000000001", "alpha", "", 80, 24, 30, 10))
	store(t, db, &submission.Submission{
		ID: "github-bbb000000002", AgentName: "beta", Level: 2, Split: "test",
		Accuracy: 50, CorrectTasks: 5, TotalTasks: 10,
	})

	m := New(db)
	results, err := m.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("refreshed pairs = %d, want 2", len(results))
	}
}

func TestRefreshValidation(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()

	if _, err := m.Refresh(ctx, 0, "validation"); err == nil {
		t.Error("level 0 should fail")
	}
	if _, err := m.Refresh(ctx, 4, "validation"); err == nil {
		t.Error("level 4 should fail")
	}
	if _, err := m.Refresh(ctx, 1, ""); err == nil {
		t.Error("empty split should fail")
	}
}

func TestLastRefreshed(t *testing.T) {
	db := openTestDB(t)
	m := New(db)
	ctx := context.Background()

	ts, err := m.LastRefreshed(ctx)
	if err != nil {
		t.Fatalf("last refreshed: %v", err)
	}
	if !ts.IsZero() {
		t.Error("empty store should report a zero time")
	}

	store(t, db, sub("github-aaa000000001", "alpha", "", 80, 24, 30, 10))
	if _, err := m.Refresh(ctx, 1, "validation"); err != nil {
		t.Fatal(err)
	}
	ts, err = m.LastRefreshed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ts.IsZero() {
		t.Error("expected a refresh timestamp after refreshing")
	}
}
