package wc

import (
	"path"

	wcerrors "wcedit/internal/errors"
	shared "wcedit/shared/types"
)

// splitPath is path.Split without the trailing slash path.Split leaves on
// dir; a top-level basename gets an empty dir.
func splitPath(p string) (dir, base string) {
	dir, base = path.Split(p)
	if len(dir) > 0 {
		dir = dir[:len(dir)-1]
	}
	return dir, base
}

// entryLookup is the narrow slice of the entries store the resolver
// needs, kept as an interface so tests can stub it without a real badger
// instance.
type entryLookup interface {
	Get(dirPath, name string) (*shared.Entry, error)
}

// ResolveAnchorTarget decides where to root an edit and what basename, if
// any, to restrict it to, given a user-supplied path p. A directory that
// is its own working-copy root anchors the edit at itself with no target;
// everything else — files, and directories whose recorded URL is a direct
// child of their parent's — anchors at dirname(p) restricted to
// basename(p).
func ResolveAnchorTarget(es entryLookup, p string) (anchor, target string, err error) {
	// The empty path is always a root.
	if p == "" {
		return "", "", nil
	}

	dir, base := splitPath(p)

	parentThisDir, err := es.Get(dir, shared.ThisDir)
	if err != nil {
		return "", "", err
	}
	if parentThisDir == nil {
		// No versioned parent context recorded at all: p is a root.
		return p, "", nil
	}
	if parentThisDir.URL == "" {
		return "", "", wcerrors.EntryMissingURL("parent entry for " + dir + " has no recorded URL")
	}

	child, err := es.Get(dir, base)
	if err != nil {
		return "", "", err
	}
	if child == nil {
		// The parent has never heard of p; treat it as its own root.
		return p, "", nil
	}

	if child.Kind == shared.KindDir {
		expected := parentThisDir.URL + "/" + base
		if child.URL != expected {
			// Parent-in-filesystem is not parent-in-repository: p is a
			// disjoint working copy rooted at itself.
			return p, "", nil
		}
	}

	return dir, base, nil
}
