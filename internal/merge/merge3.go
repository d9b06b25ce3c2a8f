package merge

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	shared "wcedit/shared/types"
)

const (
	conflictMarkerMine   = "<<<<<<< mine"
	conflictMarkerOrig   = "======="
	conflictMarkerTheirs = ">>>>>>> theirs"
)

// Result is the outcome of a three-way merge.
type Result struct {
	Content []byte
	State   shared.State
	// Conflicts is the number of conflicting regions found.
	Conflicts int
}

// Merger runs three-way text merges, matching install_file's behavior of
// preferring an external diff3 when one is configured and falling back to
// the line-alignment merge otherwise.
type Merger struct {
	// ExternalDiff3Path, if non-empty and found on PATH, is used instead
	// of the built-in merge.
	ExternalDiff3Path string
}

// NewMerger returns a Merger that uses the built-in merge; set
// ExternalDiff3Path to configure an external diff3.
func NewMerger() *Merger {
	return &Merger{}
}

// Merge3 merges mine and theirs against their common ancestor original.
func (m *Merger) Merge3(original, mine, theirs []byte) (*Result, error) {
	if bytes.Equal(mine, theirs) {
		return &Result{Content: mine, State: stateFor(original, mine)}, nil
	}
	if bytes.Equal(original, mine) {
		return &Result{Content: theirs, State: stateFor(original, theirs)}, nil
	}
	if bytes.Equal(original, theirs) {
		return &Result{Content: mine, State: stateFor(original, mine)}, nil
	}

	if m.ExternalDiff3Path != "" {
		if path, err := exec.LookPath(m.ExternalDiff3Path); err == nil {
			return runExternalDiff3(path, original, mine, theirs)
		}
	}

	return mergeLines(original, mine, theirs)
}

func stateFor(original, result []byte) shared.State {
	if bytes.Equal(original, result) {
		return shared.StateUnchanged
	}
	return shared.StateChanged
}

// mergeLines is the pure-Go fallback: it aligns mine and theirs against
// original independently via computeEditScript, then walks both edit
// scripts together, emitting conflict markers wherever their replaced
// ranges overlap with different content.
func mergeLines(original, mine, theirs []byte) (*Result, error) {
	origLines := splitLines(original)
	mineHunks := computeEditScript(origLines, splitLines(mine))
	theirsHunks := computeEditScript(origLines, splitLines(theirs))

	var out [][]byte
	conflicts := 0
	mi, ti := 0, 0
	pos := 0

	emitContext := func(from, to int) {
		for k := from; k < to; k++ {
			out = append(out, origLines[k])
		}
	}

	for mi < len(mineHunks) || ti < len(theirsHunks) {
		var mh, th *editHunk
		if mi < len(mineHunks) {
			mh = &mineHunks[mi]
		}
		if ti < len(theirsHunks) {
			th = &theirsHunks[ti]
		}

		switch {
		case mh != nil && th != nil && overlaps(*mh, *th):
			if mh.OldFrom == th.OldFrom && mh.OldTo == th.OldTo && linesEqual(mh.New, th.New) {
				emitContext(pos, mh.OldFrom)
				out = append(out, mh.New...)
				pos = mh.OldTo
				mi++
				ti++
				continue
			}

			unionFrom := min(mh.OldFrom, th.OldFrom)
			unionTo := max(mh.OldTo, th.OldTo)
			emitContext(pos, unionFrom)

			out = append(out, []byte(conflictMarkerMine))
			out = append(out, reconstruct(origLines, unionFrom, unionTo, *mh)...)
			out = append(out, []byte(conflictMarkerOrig))
			out = append(out, reconstruct(origLines, unionFrom, unionTo, *th)...)
			out = append(out, []byte(conflictMarkerTheirs))

			conflicts++
			pos = unionTo
			mi++
			ti++

		case th == nil || (mh != nil && mh.OldFrom <= th.OldFrom):
			emitContext(pos, mh.OldFrom)
			out = append(out, mh.New...)
			pos = mh.OldTo
			mi++

		default:
			emitContext(pos, th.OldFrom)
			out = append(out, th.New...)
			pos = th.OldTo
			ti++
		}
	}
	emitContext(pos, len(origLines))

	content := bytes.Join(out, []byte{'\n'})
	if len(origLines) > 0 || len(out) > 0 {
		content = append(content, '\n')
	}

	state := shared.StateMerged
	if conflicts > 0 {
		state = shared.StateConflicted
	} else if bytes.Equal(content, original) {
		state = shared.StateUnchanged
	}

	return &Result{Content: content, State: state, Conflicts: conflicts}, nil
}

func overlaps(a, b editHunk) bool {
	return a.OldFrom < b.OldTo && b.OldFrom < a.OldTo
}

func linesEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// reconstruct returns side's view of the union range [from,to): original
// context outside side's own hunk range, plus side's replacement lines.
func reconstruct(orig [][]byte, from, to int, side editHunk) [][]byte {
	var out [][]byte
	out = append(out, orig[from:side.OldFrom]...)
	out = append(out, side.New...)
	out = append(out, orig[side.OldTo:to]...)
	return out
}

func runExternalDiff3(path string, original, mine, theirs []byte) (*Result, error) {
	origFile, err := writeTemp("wcedit-diff3-orig-*", original)
	if err != nil {
		return nil, err
	}
	defer os.Remove(origFile)

	mineFile, err := writeTemp("wcedit-diff3-mine-*", mine)
	if err != nil {
		return nil, err
	}
	defer os.Remove(mineFile)

	theirsFile, err := writeTemp("wcedit-diff3-theirs-*", theirs)
	if err != nil {
		return nil, err
	}
	defer os.Remove(theirsFile)

	cmd := exec.Command(path, "-m", mineFile, origFile, theirsFile)
	out, err := cmd.Output()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return &Result{Content: out, State: shared.StateMerged}, nil
	case errorsAsExitError(err, &exitErr) && exitErr.ExitCode() == 1:
		return &Result{Content: out, State: shared.StateConflicted, Conflicts: bytes.Count(out, []byte(conflictMarkerMine))}, nil
	default:
		return nil, fmt.Errorf("merge: running external diff3: %w", err)
	}
}

func errorsAsExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func writeTemp(pattern string, content []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("merge: creating temp file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("merge: writing temp file: %w", err)
	}
	return f.Name(), nil
}
