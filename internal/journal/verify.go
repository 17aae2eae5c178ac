package journal

import (
	"context"
	"fmt"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/ot"
)

// Report is the outcome of replaying one journaled session.
type Report struct {
	SessionID     string   `json:"session_id"`
	Incarnation   int64    `json:"incarnation"`
	DocumentID    string   `json:"document_id"`
	Operations    int      `json:"operations"`
	Rejections    int      `json:"rejections"`
	Content       string   `json:"content"`
	Version       int      `json:"version"`
	GapFree       bool     `json:"gap_free"`
	Deterministic bool     `json:"deterministic"`
	Problems      []string `json:"problems,omitempty"`
}

// OK reports whether the journal replayed cleanly.
func (r Report) OK() bool {
	return r.GapFree && r.Deterministic && len(r.Problems) == 0
}

// Verify replays the latest incarnation of sessionID from an empty
// document twice and checks that sequences are gap-free and that both
// replays agree.
func (j *Journal) Verify(ctx context.Context, sessionID string) (Report, error) {
	rec, err := j.Latest(ctx, sessionID)
	if err != nil {
		return Report{}, err
	}
	ops, err := j.IncarnationOperations(ctx, rec.Incarnation)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		SessionID:   rec.SessionID,
		Incarnation: rec.Incarnation,
		DocumentID:  rec.DocumentID,
		Operations:  len(ops),
		Rejections:  rec.Rejections,
		GapFree:     true,
	}
	for i, op := range ops {
		if op.Sequence != i+1 {
			report.GapFree = false
			report.Problems = append(report.Problems, fmt.Sprintf("position %d holds seq %d", i, op.Sequence))
			break
		}
	}
	if !report.GapFree {
		return report, nil
	}

	first, err := replay(rec.DocumentID, ops)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report, nil
	}
	second, err := replay(rec.DocumentID, ops)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report, nil
	}

	report.Content = first.Content
	report.Version = first.Version
	report.Deterministic = first == second
	if !report.Deterministic {
		report.Problems = append(report.Problems,
			fmt.Sprintf("replays disagree: version %d vs %d", first.Version, second.Version))
	}
	return report, nil
}

func replay(documentID string, ops []ot.Operation) (document.Snapshot, error) {
	doc, err := document.Replay(documentID, "", ops)
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("replay: %w", err)
	}
	return doc.Snapshot(), nil
}
