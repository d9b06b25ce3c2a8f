package wc

import (
	"fmt"
	"os"
	"path/filepath"

	wcerrors "wcedit/internal/errors"
	"wcedit/shared/utils"
)

// Window is one chunk of new full-text content. This module treats the
// delta stream as a sequence of literal content windows rather than
// decoding copy/insert ops against the source text-base — a full
// binary-delta wire format is the driver's concern before it ever reaches
// apply_textdelta; see DESIGN.md.
type Window []byte

// WindowHandler consumes one window at a time; a nil Window signals
// end-of-stream.
type WindowHandler func(w Window) error

// runningDigest accumulates the new full text as windows arrive and
// produces its MD5 once the stream ends, mirroring a file's running
// checksum during text-delta application.
type runningDigest struct {
	buf []byte
}

func newRunningDigest() *runningDigest {
	return &runningDigest{}
}

func (d *runningDigest) write(p []byte) {
	d.buf = append(d.buf, p...)
}

func (d *runningDigest) hexDigest() string {
	sum := utils.NewRunningMD5()
	sum.Write(d.buf)
	return sum.HexDigest()
}

// verifyChecksum compares content's MD5-hex against expected. A legacy
// MD5-base64 form is not modeled since nothing in this store ever
// produces one.
func verifyChecksum(content []byte, expected string) bool {
	return utils.MD5Hex(content) == expected
}

// tempTextBasePath returns the scratch path a new text base is built at
// before install_file takes over, namespaced under the directory's admin
// area so two files in the same directory never collide.
func tempTextBasePath(adminDirName, dirPath, name string) string {
	return filepath.Join(dirPath, adminDirName, "tmp", name+"."+tempSuffix())
}

// applyTextDelta implements the editor's text-delta entry point. It
// returns a WindowHandler the driver feeds windows into; fs.Digest and
// fs.TextChanged are updated as the stream progresses and on a clean
// end-of-stream, respectively.
func applyTextDelta(ec *EditContext, fs *FileState, baseChecksum *string) (WindowHandler, error) {
	dirPath := fs.Dir.Path
	adminDirName := ec.adminDirName()

	existing, err := ec.Entries.Get(dirPath, fs.Base)
	if err != nil {
		return nil, fmt.Errorf("wc: looking up entry for %s: %w", fs.Base, err)
	}

	if existing != nil && existing.Checksum != "" && existing.PristineKey != "" {
		current, err := ec.Pristine.Get(existing.PristineKey)
		if err == nil && !verifyChecksum(current, existing.Checksum) {
			return nil, wcerrors.CorruptTextBase(
				fmt.Sprintf("text base for %s does not match its recorded checksum", fs.Path),
				map[string]string{"expected": existing.Checksum},
			)
		}
	}

	if baseChecksum != nil {
		if existing == nil || existing.PristineKey == "" {
			return nil, wcerrors.CorruptTextBase(
				fmt.Sprintf("no text base on record for %s to verify against base_checksum", fs.Path), nil)
		}
		current, err := ec.Pristine.Get(existing.PristineKey)
		if err != nil {
			return nil, fmt.Errorf("wc: reading text base for %s: %w", fs.Path, err)
		}
		if !verifyChecksum(current, *baseChecksum) {
			return nil, wcerrors.CorruptTextBase(
				fmt.Sprintf("text base for %s does not match declared base_checksum", fs.Path),
				map[string]string{"expected": *baseChecksum},
			)
		}
	}

	tmpPath := tempTextBasePath(adminDirName, dirPath, fs.Base)
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0755); err != nil {
		return nil, fmt.Errorf("wc: preparing temp text base dir: %w", err)
	}
	fs.NewTextBasePath = tmpPath

	digest := newRunningDigest()
	fs.Digest = digest

	handler := func(w Window) error {
		if w == nil {
			fs.TextChanged = true
			return os.WriteFile(tmpPath, digest.buf, 0644)
		}
		if err := ec.checkCancelled(); err != nil {
			return err
		}
		digest.write(w)
		return nil
	}

	return handler, nil
}
