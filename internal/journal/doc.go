// Package journal provides a SQLite-backed audit journal of editing
// sessions.
//
// The journal is append-only and records:
//   - Sessions: one row per session incarnation (a session id reused after
//     removal starts a new incarnation)
//   - Operations: every accepted, transformed operation keyed by
//     (incarnation, seq)
//   - Rejections: every submission that never entered history, with the
//     error code as reason
//
// The journal is never read on the editing path. Live sessions remain the
// single source of truth; the journal serves diagnostics and offline
// replay verification (see Verify).
//
// # Ordering
//
// Operation rows are ordered by seq, never by recorded_at. Recorder calls
// arrive outside session locks and may land out of order; the primary key
// makes writes idempotent and the read order deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package journal
