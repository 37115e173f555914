// Package webhook implements the GitHub webhook ingestion pipeline for
// benchmark submissions.
//
// Every inbound delivery walks a small state machine:
//
//	RECEIVED -> VERIFIED | REJECTED_SIGNATURE
//	VERIFIED -> EXTRACTED | NO_PAYLOAD | MALFORMED
//	EXTRACTED -> STORED | VALIDATION_FAILED
//	STORED -> COMPLETE (leaderboard refreshed)
//
// Each terminal state is persisted in the webhook event log, so rejected and
// malformed deliveries stay available for triage. The delivery id
// de-duplicates GitHub redeliveries: a repeated id whose first attempt
// reached a terminal outcome short-circuits and returns that outcome
// without reprocessing. A redelivery of an id that never reached a terminal
// outcome (the process died mid-delivery) is the retry and runs the
// pipeline again.
//
// # Security Model
//
//   - HMAC-SHA256 signatures verified with crypto/subtle (constant-time)
//   - An unconfigured secret rejects every delivery; allow_unsigned is the
//     only bypass and must be set explicitly
//   - No signature details leaked in error responses (always generic 403)
//   - Body size limits enforced before any parsing
package webhook
