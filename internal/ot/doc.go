// Package ot implements the edit primitive and the operational transform
// used by collaborative sessions.
//
// An Operation is an insert or a delete addressed in Unicode scalar values
// (runes), never bytes. Two replicas that receive the same pair of
// concurrent operations in opposite orders converge when each transforms
// the late operation against the early one:
//
//	apply(apply(doc, b), Transform(a, b)) == apply(apply(doc, a), Transform(b, a))
//
// # Conflict Policy
//
// Insert/Insert at the same position: the operation whose author id sorts
// lower is placed first. Same-author ties fall back to Sequence, and an
// already applied operation always wins a tie it cannot otherwise break.
//
// Insert inside a concurrently deleted range: the deletion wins. The insert
// collapses to an empty insert at the start of the range, and the delete
// transformed against the insert grows to cover the inserted text.
//
// Delete/Delete: the overlap is removed once. A delete that loses its whole
// range survives as an empty delete and applies as a no-op.
package ot
