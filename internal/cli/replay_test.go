package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coedit/internal/journal"
	"github.com/roach88/coedit/internal/ot"
)

func runReplayCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"replay"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

type journalOp struct {
	op  ot.Operation
	seq int
}

func insertAt(author string, pos int, text string, seq int) journalOp {
	return journalOp{ot.Operation{Kind: ot.KindInsert, Position: pos, Text: text, AuthorID: author, BaseVersion: seq - 1}, seq}
}

// writeJournal creates a journal with one incarnation per session holding
// the given operations.
func writeJournal(t *testing.T, sessions map[string][]journalOp) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "coedit.db")

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	for id, ops := range sessions {
		inc, err := j.BeginSession(ctx, id, "doc-"+id)
		require.NoError(t, err)
		for _, o := range ops {
			op := o.op
			op.Sequence = o.seq
			require.NoError(t, j.WriteOperation(ctx, inc, op, 0))
		}
	}
	return path
}

func TestReplay_MissingDatabaseFlag(t *testing.T) {
	_, err := runReplayCommand(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplay_DatabaseNotFound(t *testing.T) {
	_, err := runReplayCommand(t, "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplay_EmptyJournal(t *testing.T) {
	path := writeJournal(t, nil)

	out, err := runReplayCommand(t, "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found in journal.")
}

func TestReplay_VerifiesSessions(t *testing.T) {
	path := writeJournal(t, map[string][]journalOp{
		"s-1": {insertAt("A", 0, "hello", 1), insertAt("B", 5, " world", 2)},
		"s-2": {insertAt("A", 0, "x", 1)},
	})

	out, err := runReplayCommand(t, "--db", path, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 2 session(s)")
	assert.Contains(t, out, "✓ Session: s-1 (document doc-s-1)")
	assert.Contains(t, out, `Content: "hello world"`)
	assert.Contains(t, out, "✓ All sessions verified")
}

func TestReplay_SingleSessionJSON(t *testing.T) {
	path := writeJournal(t, map[string][]journalOp{
		"s-1": {insertAt("A", 0, "hello", 1)},
		"s-2": {insertAt("A", 0, "x", 1)},
	})

	out, err := runReplayCommand(t, "--db", path, "--session", "s-1", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllVerified)
	require.Len(t, resp.Data.Sessions, 1)
	assert.Equal(t, "hello", resp.Data.Sessions[0].Content)
	assert.Equal(t, 1, resp.Data.Sessions[0].Version)
}

func TestReplay_GapFails(t *testing.T) {
	path := writeJournal(t, map[string][]journalOp{
		"s-1": {insertAt("A", 0, "a", 1), insertAt("A", 1, "c", 3)},
	})

	out, err := runReplayCommand(t, "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Session: s-1")
	assert.Contains(t, out, "Problem: position 1 holds seq 3")
	assert.Contains(t, out, "✗ Replay verification failed")

	out, err = runReplayCommand(t, "--db", path, "--format", "json")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeReplayFailed, resp.Error.Code)
}

func TestReplay_UnknownSession(t *testing.T) {
	path := writeJournal(t, map[string][]journalOp{"s-1": {insertAt("A", 0, "a", 1)}})

	_, err := runReplayCommand(t, "--db", path, "--session", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "session ghost not in journal")
}
