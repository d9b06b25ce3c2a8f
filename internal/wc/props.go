package wc

import (
	"strconv"

	shared "wcedit/shared/types"
)

// entryPropNames is the set of entry-prop wire names; applyEntryProp maps
// each onto the Entry field it updates. Only these four cross from the
// property stream into entry metadata; everything else is regular or wc.
var entryPropNames = map[string]bool{
	"svn:entry:last-author":    true,
	"svn:entry:committed-rev":  true,
	"svn:entry:committed-date": true,
	"svn:entry:uuid":           true,
}

// wcPropPrefix marks a property as working-copy-only: never versioned,
// never shown to the user, round-tripped only through MODIFY_WCPROP.
const wcPropPrefix = "svn:wc:"

// externalsProp is the regular property whose before/after values the
// traversal-info collector records during close_directory.
const externalsProp = "svn:externals"

// committedDateProp is the entry-prop cached on the FileState when the
// edit opts into use_commit_times, so install can stamp the working
// file's mtime with the commit time.
const committedDateProp = "svn:entry:committed-date"

// magicProps force retranslation of the working file when they change,
// because they alter how the text-base's bytes map onto working-file
// bytes (keyword expansion, EOL style) or the file's execute bit.
var magicProps = map[string]bool{
	"svn:executable": true,
	"svn:keywords":   true,
	"svn:eol-style":  true,
}

func isEntryProp(name string) bool {
	return entryPropNames[name]
}

func isWCProp(name string) bool {
	return len(name) >= len(wcPropPrefix) && name[:len(wcPropPrefix)] == wcPropPrefix
}

func isMagicProp(name string) bool {
	return magicProps[name]
}

// classifyProp sorts name into one of the three disjoint property
// namespaces.
func classifyProp(name string) shared.PropKind {
	switch {
	case isEntryProp(name):
		return shared.PropEntry
	case isWCProp(name):
		return shared.PropWC
	default:
		return shared.PropRegular
	}
}

// partitionProps splits changes into regular/entry/wc buckets, preserving
// relative order within each bucket.
func partitionProps(changes []shared.PropChange) (regular, entry, wc []shared.PropChange) {
	for _, c := range changes {
		switch classifyProp(c.Name) {
		case shared.PropEntry:
			entry = append(entry, c)
		case shared.PropWC:
			wc = append(wc, c)
		default:
			regular = append(regular, c)
		}
	}
	return
}

// anyMagicPropChanged reports whether any of changes names a magic prop.
func anyMagicPropChanged(changes []shared.PropChange) bool {
	for _, c := range changes {
		if isMagicProp(c.Name) {
			return true
		}
	}
	return false
}

// applyEntryProp maps an entry-prop's wire name onto the Entry field it
// updates: last-author→CmtAuthor, committed-rev→CmtRev,
// committed-date→CmtDate, uuid→UUID.
func applyEntryProp(e *shared.Entry, name, value string) {
	switch name {
	case "svn:entry:last-author":
		e.CmtAuthor = value
	case "svn:entry:committed-rev":
		// parse failures leave the field untouched.
		if rev, err := strconv.ParseInt(value, 10, 64); err == nil {
			e.CmtRev = rev
		}
	case "svn:entry:committed-date":
		e.CmtDate = value
	case "svn:entry:uuid":
		e.UUID = value
	}
}
