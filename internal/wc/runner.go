package wc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wcedit/internal/entries"
	"wcedit/internal/merge"
	"wcedit/internal/pristine"
	shared "wcedit/shared/types"
)

// runner replays a directory's log against the real stores. The editor
// relies on exactly three properties from it: atomic-from-the-caller's-
// viewpoint, order-preserving, and idempotent — runLog must tolerate being
// invoked again against a log it already partially applied.
type runner struct {
	adminDirName string
	entries      *entries.Store
	pristine     *pristine.Store
	merger       *merge.Merger
	diffEngine   *merge.Engine
	wcprops      *wcPropStore
	logger       *zap.Logger
}

func newRunner(ec *EditContext) *runner {
	adminDirName := ec.adminDirName()
	return &runner{
		adminDirName: adminDirName,
		entries:      ec.Entries,
		pristine:     ec.Pristine,
		merger:       ec.Merger,
		diffEngine:   merge.NewEngine(3),
		wcprops:      newWCPropStore(adminDirName),
		logger:       ec.Logger,
	}
}

// flushAndRun writes buf's commands to dirPath's log file and replays them
// immediately, removing the log file only once every command has
// succeeded.
func (r *runner) flushAndRun(dirPath string, buf *LogBuffer, cancel CancelFunc) error {
	if buf.Empty() {
		return nil
	}
	if err := flushLog(r.adminDirName, dirPath, buf.commands); err != nil {
		return err
	}
	return r.runLog(dirPath, cancel)
}

// runLog replays dirPath's on-disk log file, if any. Safe to call on a
// directory with no pending log (a no-op) or one already fully applied in
// a previous attempt (each command is individually idempotent).
func (r *runner) runLog(dirPath string, cancel CancelFunc) error {
	path := logFilePath(r.adminDirName, dirPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wc: reading log for %s: %w", dirPath, err)
	}

	commands, err := parseLog(data)
	if err != nil {
		return err
	}

	for _, cmd := range commands {
		if cancel != nil {
			if err := cancel(); err != nil {
				return err
			}
		}
		if err := r.exec(dirPath, cmd); err != nil {
			return fmt.Errorf("wc: replaying %s in %s: %w", cmd.Verb, dirPath, err)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wc: removing replayed log for %s: %w", dirPath, err)
	}
	return nil
}

func (r *runner) exec(dirPath string, cmd LogCommand) error {
	switch cmd.Verb {
	case VerbModifyEntry:
		return r.execModifyEntry(dirPath, cmd)
	case VerbModifyWCProp:
		return r.execModifyWCProp(dirPath, cmd)
	case VerbDeleteEntry:
		return r.execDeleteEntry(dirPath, cmd)
	case VerbMerge:
		return r.execMerge(dirPath, cmd)
	case VerbCPAndTranslate:
		return r.execCPAndTranslate(dirPath, cmd)
	case VerbCPAndDetranslate:
		return r.execCPAndDetranslate(dirPath, cmd)
	case VerbMv:
		return r.execMv(dirPath, cmd)
	case VerbReadonly:
		return r.execReadonly(dirPath, cmd)
	case VerbSetTimestamp:
		return r.execSetTimestamp(dirPath, cmd)
	default:
		return fmt.Errorf("unknown log verb %q", cmd.Verb)
	}
}

func (r *runner) execModifyEntry(dirPath string, cmd LogCommand) error {
	name := cmd.Attrs["name"]
	changed := &shared.Entry{Name: name}
	var mask entries.FieldMask

	if v, ok := cmd.Attrs["kind"]; ok {
		changed.Kind = shared.Kind(v)
		mask.Kind = true
	}
	if v, ok := cmd.Attrs["revision"]; ok {
		n, _ := strconv.ParseInt(v, 10, 64)
		changed.Revision = n
		mask.Revision = true
	}
	if v, ok := cmd.Attrs["url"]; ok {
		changed.URL = v
		mask.URL = true
	}
	if v, ok := cmd.Attrs["schedule"]; ok {
		changed.Schedule = shared.Schedule(v)
		mask.Schedule = true
	}
	if v, ok := cmd.Attrs["deleted"]; ok {
		changed.Deleted, _ = strconv.ParseBool(v)
		mask.Deleted = true
	}
	if v, ok := cmd.Attrs["incomplete"]; ok {
		changed.Incomplete, _ = strconv.ParseBool(v)
		mask.Incomplete = true
	}
	if v, ok := cmd.Attrs["checksum"]; ok {
		changed.Checksum = v
		mask.Checksum = true
	}
	if v, ok := cmd.Attrs["pristine-key"]; ok {
		changed.PristineKey = v
		mask.PristineKey = true
	}
	if v, ok := cmd.Attrs["text-time"]; ok {
		t, _ := time.Parse(time.RFC3339Nano, v)
		changed.TextTime = t
		mask.TextTime = true
	}
	if v, ok := cmd.Attrs["prop-time"]; ok {
		t, _ := time.Parse(time.RFC3339Nano, v)
		changed.PropTime = t
		mask.PropTime = true
	}
	if v, ok := cmd.Attrs["copyfrom-url"]; ok {
		changed.CopyfromURL = v
		mask.CopyfromURL = true
	}
	if v, ok := cmd.Attrs["copyfrom-rev"]; ok {
		n, _ := strconv.ParseInt(v, 10, 64)
		changed.CopyfromRev = n
		mask.CopyfromRev = true
	}
	if v, ok := cmd.Attrs["cmt-author"]; ok {
		changed.CmtAuthor = v
		mask.CmtAuthor = true
	}
	if v, ok := cmd.Attrs["cmt-rev"]; ok {
		n, _ := strconv.ParseInt(v, 10, 64)
		changed.CmtRev = n
		mask.CmtRev = true
	}
	if v, ok := cmd.Attrs["cmt-date"]; ok {
		changed.CmtDate = v
		mask.CmtDate = true
	}
	if v, ok := cmd.Attrs["uuid"]; ok {
		changed.UUID = v
		mask.UUID = true
	}

	return r.entries.Modify(dirPath, name, changed, mask)
}

func (r *runner) execModifyWCProp(dirPath string, cmd LogCommand) error {
	entryName := cmd.Attrs["entry"]
	name := cmd.Attrs["name"]
	if cmd.Attrs["deleted"] == "true" {
		return r.wcprops.delete(dirPath, entryName, name)
	}
	return r.wcprops.set(dirPath, entryName, name, cmd.Attrs["value"])
}

func (r *runner) execDeleteEntry(dirPath string, cmd LogCommand) error {
	return r.entries.Remove(dirPath, cmd.Attrs["name"])
}

// execMerge performs the three-way merge named by the log command: the
// working file at target against its old pristine content (left) and the
// new pristine content (right), writing the result back and, on
// conflict, leaving .mine/.oldrev/.newrev side files.
func (r *runner) execMerge(dirPath string, cmd LogCommand) error {
	target := filepath.Join(dirPath, cmd.Attrs["target"])

	working, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("reading working file %s: %w", target, err)
	}
	left, err := r.pristine.Get(cmd.Attrs["left"])
	if err != nil {
		return fmt.Errorf("reading left pristine: %w", err)
	}
	right, err := r.pristine.Get(cmd.Attrs["right"])
	if err != nil {
		return fmt.Errorf("reading right pristine: %w", err)
	}

	result, err := r.merger.Merge3(left, working, right)
	if err != nil {
		return fmt.Errorf("three-way merge: %w", err)
	}

	if result.State == shared.StateConflicted {
		if err := os.WriteFile(target+".mine", working, 0644); err != nil {
			return err
		}
		if err := os.WriteFile(target+".oldrev", left, 0644); err != nil {
			return err
		}
		if err := os.WriteFile(target+".newrev", right, 0644); err != nil {
			return err
		}
		r.logConflictDiff(target, left, right)
	}

	return os.WriteFile(target, result.Content, 0644)
}

// logConflictDiff records what the two sides disagreed about, so a
// post-mortem on a conflicted update doesn't need the side files.
func (r *runner) logConflictDiff(target string, left, right []byte) {
	if r.logger == nil {
		return
	}
	diff, err := r.diffEngine.Diff(left, right)
	if err != nil {
		r.logger.Warn("diffing conflicting revisions", zap.String("target", target), zap.Error(err))
		return
	}
	r.logger.Info("conflict recorded",
		zap.String("target", target),
		zap.Int("hunks", len(diff.Hunks)),
		zap.Int("incoming_additions", diff.Stats.Additions),
		zap.Int("incoming_deletions", diff.Stats.Deletions),
	)
}

func (r *runner) execCPAndTranslate(dirPath string, cmd LogCommand) error {
	content, err := r.pristine.Get(cmd.Attrs["src"])
	if err != nil {
		return fmt.Errorf("reading pristine %s: %w", cmd.Attrs["src"], err)
	}
	dst := filepath.Join(dirPath, cmd.Attrs["dst"])
	return os.WriteFile(dst, content, 0644)
}

func (r *runner) execCPAndDetranslate(dirPath string, cmd LogCommand) error {
	src := filepath.Join(dirPath, cmd.Attrs["src"])
	content, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	dst := filepath.Join(dirPath, cmd.Attrs["dst"])
	return os.WriteFile(dst, content, 0644)
}

func (r *runner) execMv(dirPath string, cmd LogCommand) error {
	src := filepath.Join(dirPath, cmd.Attrs["src"])
	dst := filepath.Join(dirPath, cmd.Attrs["dst"])
	if _, err := os.Stat(src); os.IsNotExist(err) {
		// Already moved by a previous, interrupted replay.
		return nil
	}
	return os.Rename(src, dst)
}

func (r *runner) execReadonly(dirPath string, cmd LogCommand) error {
	target := filepath.Join(dirPath, cmd.Attrs["target"])
	return os.Chmod(target, 0444)
}

func (r *runner) execSetTimestamp(dirPath string, cmd LogCommand) error {
	target := filepath.Join(dirPath, cmd.Attrs["target"])
	v, ok := cmd.Attrs["time"]
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	if err := os.Chtimes(target, t, t); err != nil {
		if os.IsNotExist(err) {
			// The target never materialized (prop-only change on a file
			// the user removed locally); stamping nothing is fine.
			return nil
		}
		return err
	}
	return nil
}
