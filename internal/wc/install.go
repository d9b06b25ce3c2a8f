package wc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	wcerrors "wcedit/internal/errors"
	shared "wcedit/shared/types"
)

// installFile folds a file's accumulated text and property changes into
// its directory's log buffer. It never touches the working copy directly
// — every effect is a command appended to buf, replayed later by runner.
//
// Steps, in order: schedule-for-add if new, partition property changes
// and emit the entry-prop and regular-prop commands, place the new text
// base in the pristine store, integrate text (copy, merge against a
// locally modified working file, or retranslate), record the new text
// base, bump revision/url/timestamps, persist wc-props, and restore the
// file's mtime.
func installFile(ec *EditContext, fs *FileState, buf *LogBuffer, newChecksum *string) (shared.State, shared.State, error) {
	name := fs.Base
	dirPath := fs.Dir.Path

	existing, err := ec.Entries.Get(dirPath, name)
	if err != nil {
		return shared.StateUnknown, shared.StateUnknown, fmt.Errorf("wc: looking up %s: %w", fs.Path, err)
	}

	if fs.Added && (existing == nil || existing.Schedule != shared.ScheduleAdd) {
		buf.append(VerbModifyEntry, map[string]string{
			"name":     name,
			"kind":     string(shared.KindFile),
			"schedule": string(shared.ScheduleAdd),
		})
	}

	regularProps, entryProps, wcProps := partitionProps(fs.PropChanges)
	magicChanged := anyMagicPropChanged(regularProps)

	changed := &shared.Entry{Name: name}
	var mask entriesFieldMaskHolder
	for _, c := range entryProps {
		if c.IsTombstone() {
			continue
		}
		applyEntryProp(changed, c.Name, *c.Value)
		mask.markFor(c.Name)
	}
	if mask.any() {
		emitEntryPropCommand(buf, name, changed, mask)
	}

	contentState := shared.StateUnchanged

	propState, err := newPropFileStore(ec.adminDirName()).mergeRegularProps(buf, dirPath, name, regularProps)
	if err != nil {
		return contentState, shared.StateUnknown, err
	}

	textBaseTmp := fs.NewTextBasePath
	hasNewTextBase := false
	if fs.TextChanged && textBaseTmp != "" {
		if _, statErr := os.Stat(textBaseTmp); statErr == nil {
			hasNewTextBase = true
		}
	}

	locallyModified, err := isLocallyModified(fs.Path, existing)
	if err != nil {
		return contentState, propState, err
	}

	var newKey string
	var newSum string
	if hasNewTextBase {
		content, rerr := os.ReadFile(textBaseTmp)
		if rerr != nil {
			return contentState, propState, fmt.Errorf("wc: reading new text base for %s: %w", fs.Path, rerr)
		}
		newSum = fs.Digest.hexDigest()
		if newChecksum != nil && *newChecksum != "" && *newChecksum != newSum {
			return contentState, propState, wcerrors.ChecksumMismatch(
				fmt.Sprintf("reconstructed text for %s does not match the declared checksum", fs.Path),
				map[string]string{"expected": *newChecksum, "actual": newSum},
			)
		}
		var serr error
		newKey, serr = ec.Pristine.Store(content)
		if serr != nil {
			return contentState, propState, fmt.Errorf("wc: storing text base for %s: %w", fs.Path, serr)
		}
		os.Remove(textBaseTmp)
		if existing != nil && existing.PristineKey != "" {
			fs.SupersededPristine = existing.PristineKey
		}
	}

	switch {
	case !hasNewTextBase && len(regularProps) == 0:
		// Nothing textual or visible changed; state stays unchanged.

	case hasNewTextBase && !locallyModified:
		buf.append(VerbCPAndTranslate, map[string]string{"src": newKey, "dst": name})
		contentState = shared.StateChanged

	case !hasNewTextBase && magicChanged:
		// Retranslate the working file in place: detranslate it into the
		// admin tmp area, then rotate the result back over the original.
		// Local edits survive the round trip.
		retransDir := filepath.Join(dirPath, ec.adminDirName(), "tmp")
		if err := os.MkdirAll(retransDir, 0755); err != nil {
			return contentState, propState, fmt.Errorf("wc: preparing retranslate dir: %w", err)
		}
		tmpRel := filepath.Join(ec.adminDirName(), "tmp", name+".retrans."+tempSuffix())
		buf.append(VerbCPAndDetranslate, map[string]string{"src": name, "dst": tmpRel})
		buf.append(VerbMv, map[string]string{"src": tmpRel, "dst": name})

	case hasNewTextBase && locallyModified:
		leftKey := ""
		if existing != nil {
			leftKey = existing.PristineKey
		}
		buf.append(VerbMerge, map[string]string{
			"target": name,
			"left":   leftKey,
			"right":  newKey,
		})
		contentState = shared.StateMerged // refined to Conflicted by the post-replay probe.

	default:
		// Unchanged text, or a local edit with nothing forcing
		// retranslation: the working file stands untouched.
	}

	if hasNewTextBase {
		buf.append(VerbModifyEntry, map[string]string{
			"name":         name,
			"checksum":     newSum,
			"pristine-key": newKey,
			"text-time":    nowOrCommitTime(ec, fs).Format(time.RFC3339Nano),
		})
	}

	attrs := map[string]string{
		"name":     name,
		"kind":     string(shared.KindFile),
		"revision": fmt.Sprintf("%d", ec.TargetRevision),
		"schedule": string(shared.ScheduleNormal),
		"deleted":  "false",
	}
	if fs.URL != "" {
		attrs["url"] = fs.URL
	}
	buf.append(VerbModifyEntry, attrs)

	if propState != shared.StateUnchanged {
		buf.append(VerbModifyEntry, map[string]string{
			"name":      name,
			"prop-time": time.Now().Format(time.RFC3339Nano),
		})
	}

	for _, c := range wcProps {
		attrs := map[string]string{"entry": name, "name": c.Name}
		if c.IsTombstone() {
			attrs["deleted"] = "true"
		} else {
			attrs["value"] = *c.Value
		}
		buf.append(VerbModifyWCProp, attrs)
	}

	// The final mtime command must be the last one in the log.
	buf.append(VerbSetTimestamp, map[string]string{
		"target": name,
		"time":   nowOrCommitTime(ec, fs).Format(time.RFC3339Nano),
	})

	return contentState, propState, nil
}

// entriesFieldMaskHolder tracks which entry-prop-derived fields changed
// during one install_file pass without importing entries.FieldMask
// directly into the property-classification code path.
type entriesFieldMaskHolder struct {
	cmtAuthor, cmtRev, cmtDate, uuid bool
}

func (m *entriesFieldMaskHolder) markFor(propName string) {
	switch propName {
	case "svn:entry:last-author":
		m.cmtAuthor = true
	case "svn:entry:committed-rev":
		m.cmtRev = true
	case "svn:entry:committed-date":
		m.cmtDate = true
	case "svn:entry:uuid":
		m.uuid = true
	}
}

func (m *entriesFieldMaskHolder) any() bool {
	return m.cmtAuthor || m.cmtRev || m.cmtDate || m.uuid
}

func emitEntryPropCommand(buf *LogBuffer, name string, e *shared.Entry, mask entriesFieldMaskHolder) {
	attrs := map[string]string{"name": name}
	if mask.cmtAuthor {
		attrs["cmt-author"] = e.CmtAuthor
	}
	if mask.cmtRev {
		attrs["cmt-rev"] = fmt.Sprintf("%d", e.CmtRev)
	}
	if mask.cmtDate {
		attrs["cmt-date"] = e.CmtDate
	}
	if mask.uuid {
		attrs["uuid"] = e.UUID
	}
	buf.append(VerbModifyEntry, attrs)
}

// isLocallyModified reports whether path's on-disk content diverges from
// the checksum recorded for its last installed text base. A file with no
// recorded checksum (newly scheduled for add) or that doesn't exist yet
// is never "locally modified" — there's nothing prior to diverge from.
func isLocallyModified(path string, existing *shared.Entry) (bool, error) {
	if existing == nil || existing.Checksum == "" {
		return false, nil
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !verifyChecksum(content, existing.Checksum), nil
}

func nowOrCommitTime(ec *EditContext, fs *FileState) time.Time {
	if ec.UseCommitTimes && fs.LastChangedDate != "" {
		if t, err := time.Parse(time.RFC3339Nano, fs.LastChangedDate); err == nil {
			return t
		}
	}
	return time.Now()
}
