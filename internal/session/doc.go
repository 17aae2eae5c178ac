// Package session coordinates concurrent editors of one document.
//
// A Session owns a Document, the participants attached to it and their
// presence. Every mutation of a session (Submit, Join, Leave, UpdateCursor)
// runs under the session's single lock, so the transform chain computed by
// Submit always reads a consistent history.
//
// The Registry maps session ids to sessions. It has its own lock, which is
// always taken before a session lock and never while one is held. Sessions
// never call back into the registry.
//
// # Submit
//
//  1. Lock the session.
//  2. concurrent := document.OperationsSince(op.BaseVersion)
//  3. Fold op through ot.Transform for each concurrent operation.
//  4. Apply the transformed operation, move every cursor past it.
//  5. Record the author's last seen version; unlock.
//  6. Notify the Recorder outside the lock.
//
// The package performs no I/O. Broadcasting the result to other
// participants is the transport's job.
package session
