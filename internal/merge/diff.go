// Package merge implements the text-integration step the editor runs when
// closing a file: a two-way diff engine for rendering changes, and a
// three-way merge that folds an incoming text base into a locally modified
// working file, producing conflict markers where both sides touched the
// same lines.
package merge

import (
	"bytes"
	"fmt"
)

// LineType indicates whether a line was added, removed, or is context.
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

type Line struct {
	Type    LineType
	Content string
}

// Hunk is a contiguous run of changed lines, anchored to its position in
// the original text. OldFrom/OldTo are 0-based, half-open indices into the
// original line slice.
type Hunk struct {
	OldFrom, OldTo int
	Lines          []Line
}

// DiffResult is a two-way diff between an original and a modified text.
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
	}
}

// Engine renders two-way diffs, used for displaying what changed rather
// than for the merge decision itself (Merger.Merge3, in merge3.go, works
// on the edit scripts directly).
type Engine struct {
	contextLines int
}

func NewEngine(contextLines int) *Engine {
	return &Engine{contextLines: contextLines}
}

func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	script := computeEditScript(oldLines, newLines)

	result := &DiffResult{}
	for _, h := range script {
		hunk := Hunk{OldFrom: h.OldFrom, OldTo: h.OldTo}
		for i := h.OldFrom; i < h.OldTo; i++ {
			hunk.Lines = append(hunk.Lines, Line{Type: Deletion, Content: string(oldLines[i])})
			result.Stats.Deletions++
		}
		for _, nl := range h.New {
			hunk.Lines = append(hunk.Lines, Line{Type: Addition, Content: string(nl)})
			result.Stats.Additions++
		}
		result.Hunks = append(result.Hunks, hunk)
	}

	if e.contextLines > 0 {
		result.Hunks = addContext(result.Hunks, oldLines, e.contextLines)
	}

	return result, nil
}

func (r *DiffResult) Format() string {
	var buf bytes.Buffer
	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d @@\n", hunk.OldFrom+1, hunk.OldTo-hunk.OldFrom)
		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

func addContext(hunks []Hunk, orig [][]byte, n int) []Hunk {
	out := make([]Hunk, len(hunks))
	for i, h := range hunks {
		pre := max(0, h.OldFrom-n)
		var lines []Line
		for j := pre; j < h.OldFrom; j++ {
			lines = append(lines, Line{Type: Context, Content: string(orig[j])})
		}
		lines = append(lines, h.Lines...)

		post := min(len(orig), h.OldTo+n)
		if i < len(hunks)-1 {
			post = min(post, hunks[i+1].OldFrom)
		}
		for j := h.OldTo; j < post; j++ {
			lines = append(lines, Line{Type: Context, Content: string(orig[j])})
		}

		out[i] = Hunk{OldFrom: pre, OldTo: post, Lines: lines}
	}
	return out
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
