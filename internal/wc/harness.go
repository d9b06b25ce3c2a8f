package wc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	shared "wcedit/shared/types"
)

// DriveFixture walks fixtureRoot — a local directory tree standing in for
// "the new revision" — and issues the exact sequence of editor calls a
// real tree-delta transport would produce against it: OpenRoot,
// AddDirectory/OpenDirectory per subdirectory, AddFile/OpenFile +
// ApplyTextDelta + CloseFile per file, CloseDirectory bottom-up, CloseEdit.
// It exists to exercise the editor end-to-end without a network transport.
func DriveFixture(ctx context.Context, ed *Editor, fixtureRoot string) error {
	if err := ed.SetTargetRevision(ctx, ed.ec.TargetRevision); err != nil {
		return err
	}

	root, err := ed.OpenRoot(ctx, 0)
	if err != nil {
		return err
	}

	if err := driveDir(ctx, ed, root, fixtureRoot); err != nil {
		return err
	}

	if err := ed.CloseDirectory(ctx, root); err != nil {
		return err
	}

	return ed.CloseEdit(ctx, root)
}

func driveDir(ctx context.Context, ed *Editor, dir *DirState, fixtureDir string) error {
	fixtureNames := map[string]os.DirEntry{}
	items, err := os.ReadDir(fixtureDir)
	if err != nil {
		return fmt.Errorf("wc: reading fixture dir %s: %w", fixtureDir, err)
	}
	for _, item := range items {
		fixtureNames[item.Name()] = item
	}

	existing, err := ed.ec.Entries.ReadDir(dir.Path)
	if err != nil {
		return err
	}
	for name := range existing {
		if name == shared.ThisDir {
			continue
		}
		if _, stillPresent := fixtureNames[name]; !stillPresent {
			if err := ed.DeleteEntry(ctx, filepath.Join(dir.Path, name), 0, dir); err != nil {
				return err
			}
		}
	}

	for _, item := range items {
		name := item.Name()
		path := filepath.Join(dir.Path, name)
		fixturePath := filepath.Join(fixtureDir, name)
		already := existing[name]

		if item.IsDir() {
			var child *DirState
			if already == nil {
				child, err = ed.AddDirectory(ctx, path, dir, "", 0)
			} else {
				child, err = ed.OpenDirectory(ctx, path, dir, already.Revision)
			}
			if err != nil {
				return err
			}
			if err := driveDir(ctx, ed, child, fixturePath); err != nil {
				return err
			}
			if err := ed.CloseDirectory(ctx, child); err != nil {
				return err
			}
			continue
		}

		if err := driveFile(ctx, ed, dir, path, fixturePath, already); err != nil {
			return err
		}
	}

	return nil
}

func driveFile(ctx context.Context, ed *Editor, dir *DirState, path, fixturePath string, already *shared.Entry) error {
	content, err := os.ReadFile(fixturePath)
	if err != nil {
		return fmt.Errorf("wc: reading fixture file %s: %w", fixturePath, err)
	}

	var file *FileState
	if already == nil {
		file, err = ed.AddFile(ctx, path, dir, "", 0)
	} else {
		file, err = ed.OpenFile(ctx, path, dir, already.Revision)
	}
	if err != nil {
		return err
	}

	sum := md5HexOf(content)
	needsDelta := already == nil || already.Checksum != sum

	var checksumArg *string
	if needsDelta {
		handler, err := ed.ApplyTextDelta(ctx, file, nil)
		if err != nil {
			return err
		}
		if err := handler(content); err != nil {
			return err
		}
		if err := handler(nil); err != nil {
			return err
		}
		checksumArg = &sum
	}

	return ed.CloseFile(ctx, file, checksumArg)
}

func md5HexOf(content []byte) string {
	d := newRunningDigest()
	d.write(content)
	return d.hexDigest()
}
