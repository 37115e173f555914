package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store owns the submissions table. Rows are upserted by id and never
// deleted; the leaderboard is derived from them elsewhere.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const submissionColumns = `
  id, agent_name, agent_version, team_name, level, split, accuracy,
  correct_tasks, total_tasks, average_time_per_task, total_time_seconds,
  errors, task_results, source_repo, commit_sha, branch, model_used,
  environment, verified, verification_notes, created_at, updated_at`

// Append validates sub and inserts it, replacing any prior row with the same
// id. Webhook redelivery therefore never duplicates a submission. The
// verified flag and first created_at survive replacement; everything else is
// last-committed-wins.
func (s *Store) Append(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return fmt.Errorf("%w: submission is nil", ErrInvalid)
	}
	sub.Normalize()
	if err := sub.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	var taskResults any
	if len(sub.TaskResults) > 0 {
		raw, err := json.Marshal(sub.TaskResults)
		if err != nil {
			return fmt.Errorf("marshal task_results: %w", err)
		}
		taskResults = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO submissions(
  id, agent_name, agent_version, team_name, level, split, accuracy,
  correct_tasks, total_tasks, average_time_per_task, total_time_seconds,
  errors, task_results, source_repo, commit_sha, branch, model_used,
  environment, verified, verification_notes, created_at, updated_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  agent_name            = excluded.agent_name,
  agent_version         = excluded.agent_version,
  team_name             = excluded.team_name,
  level                 = excluded.level,
  split                 = excluded.split,
  accuracy              = excluded.accuracy,
  correct_tasks         = excluded.correct_tasks,
  total_tasks           = excluded.total_tasks,
  average_time_per_task = excluded.average_time_per_task,
  total_time_seconds    = excluded.total_time_seconds,
  errors                = excluded.errors,
  task_results          = excluded.task_results,
  source_repo           = excluded.source_repo,
  commit_sha            = excluded.commit_sha,
  branch                = excluded.branch,
  model_used            = excluded.model_used,
  environment           = excluded.environment,
  updated_at            = excluded.updated_at;
`,
		sub.ID, sub.AgentName, nullable(sub.AgentVersion), nullable(sub.TeamName),
		sub.Level, sub.Split, sub.Accuracy, sub.CorrectTasks, sub.TotalTasks,
		sub.AverageTimePerTask, sub.TotalTimeSeconds, sub.Errors, taskResults,
		nullable(sub.SourceRepo), nullable(sub.CommitSHA), nullable(sub.Branch),
		nullable(sub.ModelUsed), nullable(sub.Environment),
		boolToInt(sub.Verified), nullable(sub.VerificationNotes),
		sub.CreatedAt.Format(time.RFC3339Nano), sub.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert submission: %w", err)
	}
	return nil
}

// Get returns the submission with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Submission, error) {
	if id == "" {
		return nil, fmt.Errorf("submission id is empty")
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = ?;", id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// Query returns submissions matching f, ordered accuracy descending with
// average time then recency as tie-breaks.
func (s *Store) Query(ctx context.Context, f Filter) ([]*Submission, error) {
	var (
		where []string
		args  []any
	)
	if f.Agent != "" {
		where = append(where, "agent_name = ?")
		args = append(args, f.Agent)
	}
	if f.Team != "" {
		where = append(where, "team_name = ?")
		args = append(args, f.Team)
	}
	if f.Level > 0 {
		where = append(where, "level = ?")
		args = append(args, f.Level)
	}
	if f.Split != "" {
		where = append(where, "split = ?")
		args = append(args, f.Split)
	}
	if f.VerifiedOnly {
		where = append(where, "verified = 1")
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	q := "SELECT " + submissionColumns + " FROM submissions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY accuracy DESC, average_time_per_task ASC, created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " LIMIT ? OFFSET ?;"
	args = append(args, limit, f.Offset)

	return s.queryMany(ctx, q, args...)
}

// Recent returns the newest submissions across all levels and splits.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryMany(ctx,
		"SELECT "+submissionColumns+" FROM submissions ORDER BY created_at DESC LIMIT ?;", limit)
}

// AgentHistory returns an agent's submissions, newest first.
func (s *Store) AgentHistory(ctx context.Context, agent string, limit int) ([]*Submission, error) {
	if agent == "" {
		return nil, fmt.Errorf("agent name is empty")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.queryMany(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE agent_name = ? ORDER BY created_at DESC LIMIT ?;",
		agent, limit)
}

// TeamHistory returns a team's submissions, newest first.
func (s *Store) TeamHistory(ctx context.Context, team string, limit int) ([]*Submission, error) {
	if team == "" {
		return nil, fmt.Errorf("team name is empty")
	}
	if limit <= 0 {
		limit = 50
	}
	return s.queryMany(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE team_name = ? ORDER BY created_at DESC LIMIT ?;",
		team, limit)
}

// MarkVerified sets the verified flag and notes on an existing submission.
func (s *Store) MarkVerified(ctx context.Context, id string, verified bool, notes string) error {
	if id == "" {
		return fmt.Errorf("submission id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE submissions
SET verified = ?, verification_notes = ?, updated_at = ?
WHERE id = ?;
`, boolToInt(verified), nullable(notes), now, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LevelSplits returns every (level, split) pair present in the store.
func (s *Store) LevelSplits(ctx context.Context) ([]LevelSplit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT level, split FROM submissions ORDER BY level ASC, split ASC;")
	if err != nil {
		return nil, fmt.Errorf("list level/splits: %w", err)
	}
	defer rows.Close()

	var pairs []LevelSplit
	for rows.Next() {
		var ls LevelSplit
		if err := rows.Scan(&ls.Level, &ls.Split); err != nil {
			return nil, fmt.Errorf("scan level/split: %w", err)
		}
		pairs = append(pairs, ls)
	}
	return pairs, rows.Err()
}

// Stats aggregates the store for the stats endpoint.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByLevel: make(map[int]LevelStats)}

	var (
		verified sql.NullInt64
		lastAt   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COUNT(DISTINCT agent_name),
  COUNT(DISTINCT CASE WHEN team_name IS NOT NULL AND team_name != '' THEN team_name END),
  COALESCE(SUM(verified), 0),
  MAX(created_at)
FROM submissions;
`).Scan(&st.TotalSubmissions, &st.TotalAgents, &st.TotalTeams, &verified, &lastAt)
	if err != nil {
		return nil, fmt.Errorf("stats totals: %w", err)
	}
	st.VerifiedCount = int(verified.Int64)
	if lastAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastAt.String); err == nil {
			st.LastSubmissionAt = &t
		}
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT level, COUNT(*), MAX(accuracy), AVG(accuracy)
FROM submissions
GROUP BY level
ORDER BY level;
`)
	if err != nil {
		return nil, fmt.Errorf("stats by level: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			level int
			ls    LevelStats
		)
		if err := rows.Scan(&level, &ls.Count, &ls.BestAccuracy, &ls.AvgAccuracy); err != nil {
			return nil, fmt.Errorf("scan level stats: %w", err)
		}
		st.ByLevel[level] = ls
	}
	return st, rows.Err()
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(sc scanner) (*Submission, error) {
	var (
		sub          Submission
		agentVersion sql.NullString
		teamName     sql.NullString
		avgTime      sql.NullFloat64
		totalTime    sql.NullFloat64
		taskResults  sql.NullString
		sourceRepo   sql.NullString
		commitSHA    sql.NullString
		branch       sql.NullString
		modelUsed    sql.NullString
		environment  sql.NullString
		verified     int
		notes        sql.NullString
		createdAtS   string
		updatedAtS   string
	)
	err := sc.Scan(
		&sub.ID, &sub.AgentName, &agentVersion, &teamName, &sub.Level, &sub.Split,
		&sub.Accuracy, &sub.CorrectTasks, &sub.TotalTasks, &avgTime, &totalTime,
		&sub.Errors, &taskResults, &sourceRepo, &commitSHA, &branch, &modelUsed,
		&environment, &verified, &notes, &createdAtS, &updatedAtS,
	)
	if err != nil {
		return nil, err
	}

	sub.AgentVersion = agentVersion.String
	sub.TeamName = teamName.String
	sub.AverageTimePerTask = avgTime.Float64
	sub.TotalTimeSeconds = totalTime.Float64
	sub.SourceRepo = sourceRepo.String
	sub.CommitSHA = commitSHA.String
	sub.Branch = branch.String
	sub.ModelUsed = modelUsed.String
	sub.Environment = environment.String
	sub.Verified = verified != 0
	sub.VerificationNotes = notes.String
	if taskResults.Valid && taskResults.String != "" {
		if err := json.Unmarshal([]byte(taskResults.String), &sub.TaskResults); err != nil {
			return nil, fmt.Errorf("decode task_results: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		sub.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		sub.UpdatedAt = t
	}
	return &sub, nil
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
