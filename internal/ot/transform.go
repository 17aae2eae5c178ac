package ot

// Transform rewrites op so it can be applied after applied, where both were
// authored against the same document version. The result keeps op's
// identity fields (author, base version, sequence).
func Transform(op, applied Operation) Operation {
	switch op.Kind {
	case KindInsert:
		switch applied.Kind {
		case KindInsert:
			return transformInsertInsert(op, applied)
		case KindDelete:
			return transformInsertDelete(op, applied)
		}
	case KindDelete:
		switch applied.Kind {
		case KindInsert:
			return transformDeleteInsert(op, applied)
		case KindDelete:
			return transformDeleteDelete(op, applied)
		}
	}
	return op
}

// TransformAll folds op through every operation in applied, in order.
// applied must be the operations accepted since op.BaseVersion.
func TransformAll(op Operation, applied []Operation) Operation {
	for _, a := range applied {
		op = Transform(op, a)
	}
	return op
}

// TransformCursor moves a cursor offset past an applied operation. An
// insert exactly at the cursor pushes it right; a delete covering the
// cursor pulls it to the start of the deleted range.
func TransformCursor(cursor int, applied Operation) int {
	switch applied.Kind {
	case KindInsert:
		if applied.Position <= cursor {
			return cursor + applied.Span()
		}
	case KindDelete:
		if cursor >= applied.End() {
			return cursor - applied.Length
		}
		if cursor > applied.Position {
			return applied.Position
		}
	}
	return cursor
}

// appliedFirst decides which of two inserts at the same position lands
// first. Lower author id wins. For equal authors a sequenced operation
// precedes an unsequenced one, two sequenced operations go by Sequence,
// and two unsequenced ones by Text. Identical inserts both shift; either
// order yields the same text.
func appliedFirst(applied, op Operation) bool {
	if applied.AuthorID != op.AuthorID {
		return applied.AuthorID < op.AuthorID
	}
	switch {
	case applied.Sequence != 0 && op.Sequence != 0:
		return applied.Sequence < op.Sequence
	case applied.Sequence != 0 || op.Sequence != 0:
		return applied.Sequence != 0
	}
	return applied.Text <= op.Text
}

func transformInsertInsert(op, applied Operation) Operation {
	if applied.Position < op.Position ||
		(applied.Position == op.Position && appliedFirst(applied, op)) {
		op.Position += applied.Span()
	}
	return op
}

func transformInsertDelete(op, applied Operation) Operation {
	switch {
	case op.Position <= applied.Position:
		// Insert before the deleted range.
	case op.Position >= applied.End():
		op.Position -= applied.Length
	default:
		// Inside the deleted range. The delete on the other replica grows to
		// swallow this text, so the insert collapses to nothing here.
		op.Position = applied.Position
		op.Text = ""
	}
	return op
}

func transformDeleteInsert(op, applied Operation) Operation {
	switch {
	case applied.Position <= op.Position:
		op.Position += applied.Span()
	case applied.Position < op.End():
		op.Length += applied.Span()
	}
	return op
}

func transformDeleteDelete(op, applied Operation) Operation {
	overlap := min(op.End(), applied.End()) - max(op.Position, applied.Position)
	if overlap < 0 {
		overlap = 0
	}
	// Part of applied's range sitting left of op's start.
	before := 0
	if applied.Position < op.Position {
		before = min(applied.End(), op.Position) - applied.Position
	}
	op.Length -= overlap
	op.Position -= before
	return op
}
