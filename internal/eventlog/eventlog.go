// Package eventlog persists one audit row per inbound webhook delivery,
// accepted or not. The delivery id is the de-duplication key for GitHub
// redeliveries.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Outcome values mirror the ingestion state machine. Only Complete means a
// new leaderboard-visible submission.
type Outcome string

const (
	OutcomeReceived          Outcome = "RECEIVED"
	OutcomeRejectedSignature Outcome = "REJECTED_SIGNATURE"
	OutcomeNoPayload         Outcome = "NO_PAYLOAD"
	OutcomeMalformed         Outcome = "MALFORMED"
	OutcomeValidationFailed  Outcome = "VALIDATION_FAILED"
	OutcomeStored            Outcome = "STORED"
	OutcomeComplete          Outcome = "COMPLETE"
)

var (
	ErrDeliveryExists   = errors.New("delivery already recorded")
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// Event is one inbound delivery attempt.
type Event struct {
	DeliveryID    string     `json:"delivery_id"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"-"`
	PayloadDigest string     `json:"payload_digest"`
	SourceRepo    string     `json:"source_repo,omitempty"`
	CommitSHA     string     `json:"commit_sha,omitempty"`
	Outcome       Outcome    `json:"outcome"`
	Processed     bool       `json:"processed"`
	Error         string     `json:"error,omitempty"`
	SubmissionID  string     `json:"submission_id,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Digest computes the BLAKE3 hex digest of a raw payload. Stored alongside
// the payload so operators can confirm redeliveries carry identical bodies.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Record appends the delivery unconditionally, whatever its eventual
// outcome. A second Record for the same delivery id returns
// ErrDeliveryExists and leaves the original row untouched.
func (l *Log) Record(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("event is nil")
	}
	if ev.DeliveryID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if ev.EventType == "" {
		return fmt.Errorf("event type is empty")
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.Outcome == "" {
		ev.Outcome = OutcomeReceived
	}
	ev.PayloadDigest = Digest(ev.Payload)

	res, err := l.db.ExecContext(ctx, `
INSERT INTO webhook_events(
  delivery_id, event_type, payload, payload_digest, source_repo, commit_sha,
  outcome, processed, processing_error, submission_id, received_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, ?)
ON CONFLICT(delivery_id) DO NOTHING;
`, ev.DeliveryID, ev.EventType, string(ev.Payload), ev.PayloadDigest,
		nullable(ev.SourceRepo), nullable(ev.CommitSHA), string(ev.Outcome),
		ev.ReceivedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if n == 0 {
		return ErrDeliveryExists
	}
	return nil
}

// MarkProcessed sets the terminal outcome for a delivery, updating in place.
// Calling it again for the same delivery id overwrites the outcome rather
// than creating a second row.
func (l *Log) MarkProcessed(ctx context.Context, deliveryID string, outcome Outcome, errMsg, submissionID string) error {
	if deliveryID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
UPDATE webhook_events
SET outcome = ?, processed = 1, processing_error = ?, submission_id = ?, processed_at = ?
WHERE delivery_id = ?;
`, string(outcome), nullable(errMsg), nullable(submissionID), now, deliveryID)
	if err != nil {
		return fmt.Errorf("mark delivery processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark delivery processed: %w", err)
	}
	if n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// Get returns the stored event for a delivery id, or ErrDeliveryNotFound.
func (l *Log) Get(ctx context.Context, deliveryID string) (*Event, error) {
	if deliveryID == "" {
		return nil, fmt.Errorf("delivery id is empty")
	}
	row := l.db.QueryRowContext(ctx, `
SELECT delivery_id, event_type, payload, payload_digest, source_repo, commit_sha,
       outcome, processed, processing_error, submission_id, received_at, processed_at
FROM webhook_events
WHERE delivery_id = ?;
`, deliveryID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// Recent returns the newest deliveries for triage.
func (l *Log) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT delivery_id, event_type, payload, payload_digest, source_repo, commit_sha,
       outcome, processed, processing_error, submission_id, received_at, processed_at
FROM webhook_events
ORDER BY received_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var evs []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		ev           Event
		payload      string
		sourceRepo   sql.NullString
		commitSHA    sql.NullString
		outcome      string
		processed    int
		procError    sql.NullString
		submissionID sql.NullString
		receivedAtS  string
		processedAtS sql.NullString
	)
	err := sc.Scan(
		&ev.DeliveryID, &ev.EventType, &payload, &ev.PayloadDigest,
		&sourceRepo, &commitSHA, &outcome, &processed, &procError,
		&submissionID, &receivedAtS, &processedAtS,
	)
	if err != nil {
		return nil, err
	}

	ev.Payload = []byte(payload)
	ev.SourceRepo = sourceRepo.String
	ev.CommitSHA = commitSHA.String
	ev.Outcome = Outcome(outcome)
	ev.Processed = processed != 0
	ev.Error = procError.String
	ev.SubmissionID = submissionID.String
	if t, err := time.Parse(time.RFC3339Nano, receivedAtS); err == nil {
		ev.ReceivedAt = t
	}
	if processedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, processedAtS.String); err == nil {
			ev.ProcessedAt = &t
		}
	}
	return &ev, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
