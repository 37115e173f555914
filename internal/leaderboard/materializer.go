// Package leaderboard materializes ranked views from the submission store.
// Materialization trades a small staleness window for cheap reads; the
// window is bounded by refreshing synchronously after every stored
// submission.
package leaderboard

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Materializer is the single writer of leaderboard_entries. It reads the
// submissions table and replaces one (scope, level, split) slice of entries
// per transaction, so partial rankings are never visible.
type Materializer struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB) *Materializer {
	return &Materializer{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// keyLock serializes refreshes for one (level, split) pair. Refreshes for
// different pairs run concurrently.
func (m *Materializer) keyLock(level int, split string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d:%s", level, split)
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Refresh recomputes both ranking views for one (level, split) pair. It is
// idempotent: with no intervening submissions, a second call produces an
// identical entry set. A failed refresh leaves the previous entries visible.
func (m *Materializer) Refresh(ctx context.Context, level int, split string) (RefreshResult, error) {
	res := RefreshResult{Level: level, Split: split}
	if level < 1 || level > 3 {
		return res, fmt.Errorf("level must be between 1 and 3 (got %d)", level)
	}
	if split == "" {
		return res, fmt.Errorf("split is empty")
	}

	lock := m.keyLock(level, split)
	lock.Lock()
	defer lock.Unlock()

	refreshedAt := time.Now().UTC()

	agents, err := m.refreshScope(ctx, ScopeAgent, level, split, refreshedAt)
	if err != nil {
		return res, fmt.Errorf("refresh agent view: %w", err)
	}
	res.AgentEntries = agents

	teams, err := m.refreshScope(ctx, ScopeTeam, level, split, refreshedAt)
	if err != nil {
		return res, fmt.Errorf("refresh team view: %w", err)
	}
	res.TeamEntries = teams

	return res, nil
}

// RefreshAll recomputes every (level, split) pair present in the submission
// store. Returns the refresh result per pair.
func (m *Materializer) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT DISTINCT level, split FROM submissions ORDER BY level ASC, split ASC;")
	if err != nil {
		return nil, fmt.Errorf("list level/splits: %w", err)
	}
	defer rows.Close()

	type pair struct {
		level int
		split string
	}
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.level, &p.split); err != nil {
			return nil, fmt.Errorf("scan level/split: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]RefreshResult, 0, len(pairs))
	for _, p := range pairs {
		res, err := m.Refresh(ctx, p.level, p.split)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// refreshScope rebuilds one view inside a single transaction and returns the
// number of entries written.
func (m *Materializer) refreshScope(ctx context.Context, scope Scope, level int, split string, refreshedAt time.Time) (int, error) {
	best, err := m.bestByName(ctx, scope, level, split)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM leaderboard_entries WHERE scope = ? AND level = ? AND split = ?;",
		string(scope), level, split); err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}

	refreshedAtS := refreshedAt.Format(time.RFC3339Nano)
	for rank, e := range best {
		_, err := tx.ExecContext(ctx, `
INSERT INTO leaderboard_entries(
  scope, name, level, split, rank, accuracy, correct_tasks, total_tasks,
  average_time_per_task, model_used, verified, submission_id, submitted_at,
  refreshed_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, string(scope), e.Name, level, split, rank+1, e.Accuracy, e.CorrectTasks,
			e.TotalTasks, e.AverageTimePerTask, nullable(e.ModelUsed),
			boolToInt(e.Verified), e.SubmissionID,
			e.SubmittedAt.Format(time.RFC3339Nano), refreshedAtS)
		if err != nil {
			return 0, fmt.Errorf("insert entry for %q: %w", e.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return len(best), nil
}

// bestByName selects each name's best submission for a (level, split) pair,
// already ordered for rank assignment: accuracy descending, then lowest
// average time, then most recent, then name for determinism.
func (m *Materializer) bestByName(ctx context.Context, scope Scope, level int, split string) ([]*Entry, error) {
	nameCol := "agent_name"
	where := "level = ? AND split = ?"
	if scope == ScopeTeam {
		nameCol = "team_name"
		where += " AND team_name IS NOT NULL AND team_name != ''"
	}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s, accuracy, correct_tasks, total_tasks, average_time_per_task,
       model_used, verified, id, created_at
FROM submissions
WHERE %s
ORDER BY accuracy DESC, average_time_per_task ASC, created_at DESC, %s ASC;
`, nameCol, where, nameCol), level, split)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var best []*Entry
	for rows.Next() {
		var (
			e          Entry
			avgTime    sql.NullFloat64
			modelUsed  sql.NullString
			verified   int
			createdAtS string
		)
		if err := rows.Scan(&e.Name, &e.Accuracy, &e.CorrectTasks, &e.TotalTasks,
			&avgTime, &modelUsed, &verified, &e.SubmissionID, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		// Rows arrive best-first, so the first row per name is its best.
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true

		e.Scope = scope
		e.Level = level
		e.Split = split
		e.AverageTimePerTask = avgTime.Float64
		e.ModelUsed = modelUsed.String
		e.Verified = verified != 0
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.SubmittedAt = t
		}
		best = append(best, &e)
	}
	return best, rows.Err()
}

// Entries returns the ranked view for a (scope, level, split) pair.
func (m *Materializer) Entries(ctx context.Context, scope Scope, level int, split string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
SELECT scope, name, level, split, rank, accuracy, correct_tasks, total_tasks,
       average_time_per_task, model_used, verified, submission_id,
       submitted_at, refreshed_at
FROM leaderboard_entries
WHERE scope = ? AND level = ? AND split = ?
ORDER BY rank ASC
LIMIT ?;
`, string(scope), level, split, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e            Entry
			scopeS       string
			avgTime      sql.NullFloat64
			modelUsed    sql.NullString
			verified     int
			submittedAtS string
			refreshedAtS string
		)
		if err := rows.Scan(&scopeS, &e.Name, &e.Level, &e.Split, &e.Rank,
			&e.Accuracy, &e.CorrectTasks, &e.TotalTasks, &avgTime, &modelUsed,
			&verified, &e.SubmissionID, &submittedAtS, &refreshedAtS); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Scope = Scope(scopeS)
		e.AverageTimePerTask = avgTime.Float64
		e.ModelUsed = modelUsed.String
		e.Verified = verified != 0
		if t, err := time.Parse(time.RFC3339Nano, submittedAtS); err == nil {
			e.SubmittedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, refreshedAtS); err == nil {
			e.RefreshedAt = t
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// LastRefreshed returns the newest refresh timestamp across all views, or a
// zero time when nothing is materialized yet.
func (m *Materializer) LastRefreshed(ctx context.Context) (time.Time, error) {
	var newest sql.NullString
	if err := m.db.QueryRowContext(ctx,
		"SELECT MAX(refreshed_at) FROM leaderboard_entries;").Scan(&newest); err != nil {
		return time.Time{}, fmt.Errorf("last refreshed: %w", err)
	}
	if !newest.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, newest.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse refreshed_at: %w", err)
	}
	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
