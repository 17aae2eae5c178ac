package ot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInsert(t *testing.T, author string, pos int, text string) Operation {
	t.Helper()
	op, err := NewInsert(author, pos, text, 0)
	require.NoError(t, err)
	return op
}

func mustDelete(t *testing.T, author string, pos, length int) Operation {
	t.Helper()
	op, err := NewDelete(author, pos, length, 0)
	require.NoError(t, err)
	return op
}

func apply(t *testing.T, s string, ops ...Operation) string {
	t.Helper()
	content := []rune(s)
	for _, op := range ops {
		var err error
		content, err = op.ApplyTo(content)
		require.NoError(t, err, "apply %s to %q", op, string(content))
	}
	return string(content)
}

// converge applies a then b' and b then a', asserting both replicas agree.
func converge(t *testing.T, doc string, a, b Operation) string {
	t.Helper()
	left := apply(t, doc, b, Transform(a, b))
	right := apply(t, doc, a, Transform(b, a))
	require.Equal(t, left, right, "diverged for a=%s b=%s on %q", a, b, doc)
	return left
}

func TestTransform_InsertInsert(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		applied Operation
		wantPos int
	}{
		{"applied before", Operation{Kind: KindInsert, Position: 4, Text: "x", AuthorID: "b"}, Operation{Kind: KindInsert, Position: 1, Text: "yy", AuthorID: "a"}, 6},
		{"applied after", Operation{Kind: KindInsert, Position: 1, Text: "x", AuthorID: "b"}, Operation{Kind: KindInsert, Position: 4, Text: "yy", AuthorID: "a"}, 1},
		{"tie lower author applied", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "b"}, Operation{Kind: KindInsert, Position: 2, Text: "yy", AuthorID: "a"}, 4},
		{"tie higher author applied", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a"}, Operation{Kind: KindInsert, Position: 2, Text: "yy", AuthorID: "b"}, 2},
		{"tie same author applied wins", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a"}, Operation{Kind: KindInsert, Position: 2, Text: "yy", AuthorID: "a", Sequence: 3}, 4},
		{"tie same author by sequence", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a", Sequence: 2}, Operation{Kind: KindInsert, Position: 2, Text: "yy", AuthorID: "a", Sequence: 3}, 2},
		{"tie same author unsequenced applied", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a", Sequence: 4}, Operation{Kind: KindInsert, Position: 2, Text: "yy", AuthorID: "a"}, 2},
		{"tie same author lower text applied", Operation{Kind: KindInsert, Position: 2, Text: "y", AuthorID: "a"}, Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a"}, 3},
		{"tie same author higher text applied", Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "a"}, Operation{Kind: KindInsert, Position: 2, Text: "y", AuthorID: "a"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.op, tt.applied)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.op.Text, got.Text)
		})
	}
}

func TestTransform_InsertDelete(t *testing.T) {
	del := Operation{Kind: KindDelete, Position: 2, Length: 3, AuthorID: "a"}

	before := Transform(Operation{Kind: KindInsert, Position: 1, Text: "x", AuthorID: "b"}, del)
	assert.Equal(t, 1, before.Position)

	atStart := Transform(Operation{Kind: KindInsert, Position: 2, Text: "x", AuthorID: "b"}, del)
	assert.Equal(t, 2, atStart.Position)
	assert.Equal(t, "x", atStart.Text)

	after := Transform(Operation{Kind: KindInsert, Position: 6, Text: "x", AuthorID: "b"}, del)
	assert.Equal(t, 3, after.Position)

	atEnd := Transform(Operation{Kind: KindInsert, Position: 5, Text: "x", AuthorID: "b"}, del)
	assert.Equal(t, 2, atEnd.Position)
	assert.Equal(t, "x", atEnd.Text)

	inside := Transform(Operation{Kind: KindInsert, Position: 3, Text: "x", AuthorID: "b"}, del)
	assert.Equal(t, 2, inside.Position, "clamped to the start of the deleted range")
	assert.True(t, inside.IsNoop(), "text inside a concurrently deleted range is deleted too")
}

func TestTransform_DeleteInsert(t *testing.T) {
	op := Operation{Kind: KindDelete, Position: 2, Length: 3, AuthorID: "b"}

	got := Transform(op, Operation{Kind: KindInsert, Position: 0, Text: "xy", AuthorID: "a"})
	assert.Equal(t, 4, got.Position)
	assert.Equal(t, 3, got.Length)

	got = Transform(op, Operation{Kind: KindInsert, Position: 2, Text: "xy", AuthorID: "a"})
	assert.Equal(t, 4, got.Position, "insert at the delete start shifts it")

	got = Transform(op, Operation{Kind: KindInsert, Position: 3, Text: "xy", AuthorID: "a"})
	assert.Equal(t, 2, got.Position)
	assert.Equal(t, 5, got.Length, "delete grows over text inserted inside it")

	got = Transform(op, Operation{Kind: KindInsert, Position: 5, Text: "xy", AuthorID: "a"})
	assert.Equal(t, op, got)
}

func TestTransform_DeleteDelete(t *testing.T) {
	tests := []struct {
		name       string
		op         Operation
		applied    Operation
		wantPos    int
		wantLength int
	}{
		{"disjoint applied before", Operation{Kind: KindDelete, Position: 4, Length: 2}, Operation{Kind: KindDelete, Position: 0, Length: 2}, 2, 2},
		{"disjoint applied after", Operation{Kind: KindDelete, Position: 0, Length: 2}, Operation{Kind: KindDelete, Position: 4, Length: 2}, 0, 2},
		{"op contains applied", Operation{Kind: KindDelete, Position: 1, Length: 3}, Operation{Kind: KindDelete, Position: 2, Length: 2}, 1, 1},
		{"applied contains op", Operation{Kind: KindDelete, Position: 2, Length: 2}, Operation{Kind: KindDelete, Position: 1, Length: 3}, 1, 0},
		{"overlap on left", Operation{Kind: KindDelete, Position: 3, Length: 3}, Operation{Kind: KindDelete, Position: 1, Length: 4}, 1, 1},
		{"overlap on right", Operation{Kind: KindDelete, Position: 1, Length: 4}, Operation{Kind: KindDelete, Position: 3, Length: 3}, 1, 2},
		{"identical", Operation{Kind: KindDelete, Position: 1, Length: 2}, Operation{Kind: KindDelete, Position: 1, Length: 2}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.op, tt.applied)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.wantLength, got.Length)
		})
	}
}

func TestTransform_PreservesIdentity(t *testing.T) {
	op := Operation{Kind: KindInsert, Position: 3, Text: "x", AuthorID: "b", BaseVersion: 7}
	got := Transform(op, Operation{Kind: KindInsert, Position: 0, Text: "yy", AuthorID: "a", Sequence: 8})
	assert.Equal(t, "b", got.AuthorID)
	assert.Equal(t, 7, got.BaseVersion)
	assert.Equal(t, 0, got.Sequence)
	assert.Equal(t, 3, op.Position, "input must not be mutated")
}

func TestConvergence_Scenarios(t *testing.T) {
	t.Run("append and prepend", func(t *testing.T) {
		a := mustInsert(t, "a", 5, " world")
		b := mustInsert(t, "b", 0, "Say: ")
		assert.Equal(t, "Say: hello world", converge(t, "hello", a, b))
	})

	t.Run("nested deletes remove overlap once", func(t *testing.T) {
		a := mustDelete(t, "a", 1, 3)
		b := mustDelete(t, "b", 2, 2)
		assert.Equal(t, "aef", converge(t, "abcdef", a, b))
	})

	t.Run("same position inserts ordered by author", func(t *testing.T) {
		a := mustInsert(t, "alice", 2, "A")
		b := mustInsert(t, "bob", 2, "B")
		assert.Equal(t, "abABcd", converge(t, "abcd", a, b))
		assert.Equal(t, "abABcd", converge(t, "abcd", b, a))
	})

	t.Run("same author unsequenced inserts ordered by text", func(t *testing.T) {
		a := mustInsert(t, "a", 1, "Y")
		b := mustInsert(t, "a", 1, "X")
		assert.Equal(t, "aXYb", converge(t, "ab", a, b))
		assert.Equal(t, "aXYb", converge(t, "ab", b, a))
	})

	t.Run("insert inside concurrent delete", func(t *testing.T) {
		a := mustInsert(t, "a", 3, "XYZ")
		b := mustDelete(t, "b", 1, 4)
		assert.Equal(t, "af", converge(t, "abcdef", a, b))
	})

	t.Run("multibyte runes", func(t *testing.T) {
		a := mustInsert(t, "a", 2, "ü")
		b := mustDelete(t, "b", 0, 1)
		assert.Equal(t, "日ü本語", converge(t, "漢日本語", a, b))
	})
}

// TestConvergence_Exhaustive checks every insert/delete pair on a small
// document, which covers all boundary relations between two ranges.
func TestConvergence_Exhaustive(t *testing.T) {
	const doc = "abcdef"
	gen := func(author string) []Operation {
		var ops []Operation
		for p := 0; p <= len(doc); p++ {
			for _, text := range []string{"X", "YZ", ""} {
				ops = append(ops, Operation{Kind: KindInsert, Position: p, Text: text, AuthorID: author})
			}
			for n := 0; p+n <= len(doc); n++ {
				ops = append(ops, Operation{Kind: KindDelete, Position: p, Length: n, AuthorID: author})
			}
		}
		return ops
	}

	count := 0
	for _, a := range gen("a") {
		for _, b := range gen("b") {
			left := apply(t, doc, b, Transform(a, b))
			right := apply(t, doc, a, Transform(b, a))
			if left != right {
				t.Fatalf("diverged: a=%s b=%s: %q != %q", a, b, left, right)
			}
			count++
		}
	}
	assert.Greater(t, count, 1000)
}

func TestTransformAll_FoldsInOrder(t *testing.T) {
	// Server history: "hello" -> "Say: hello" -> "Say: hello!"
	history := []Operation{
		{Kind: KindInsert, Position: 0, Text: "Say: ", AuthorID: "b", Sequence: 1},
		{Kind: KindInsert, Position: 10, Text: "!", AuthorID: "c", BaseVersion: 1, Sequence: 2},
	}
	late := Operation{Kind: KindInsert, Position: 5, Text: " world", AuthorID: "a"}

	got := TransformAll(late, history)
	assert.Equal(t, 10, got.Position)
	assert.Equal(t, "Say: hello world!", apply(t, "Say: hello!", got))
}

func TestTransformCursor(t *testing.T) {
	tests := []struct {
		cursor  int
		applied Operation
		want    int
	}{
		{3, Operation{Kind: KindInsert, Position: 1, Text: "xx"}, 5},
		{3, Operation{Kind: KindInsert, Position: 3, Text: "xx"}, 5},
		{3, Operation{Kind: KindInsert, Position: 4, Text: "xx"}, 3},
		{5, Operation{Kind: KindDelete, Position: 1, Length: 2}, 3},
		{2, Operation{Kind: KindDelete, Position: 1, Length: 3}, 1},
		{1, Operation{Kind: KindDelete, Position: 1, Length: 3}, 1},
		{4, Operation{Kind: KindDelete, Position: 1, Length: 3}, 1},
		{0, Operation{Kind: KindDelete, Position: 1, Length: 3}, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%s", tt.cursor, tt.applied), func(t *testing.T) {
			assert.Equal(t, tt.want, TransformCursor(tt.cursor, tt.applied))
		})
	}
}
