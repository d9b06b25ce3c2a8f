package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// HashContent returns the hex-encoded SHA-256 digest of content, used for
// pristine content addressing.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// MD5Hex returns the hex-encoded MD5 digest of content. The editor uses
// MD5, not SHA-256, for text-base checksums and delta-stream verification,
// matching the wire checksum format the driver declares.
func MD5Hex(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// RunningMD5 accumulates an MD5 digest across successive Write calls, used
// to reconstruct the full-text checksum of a file installed through the
// text-delta pipeline.
type RunningMD5 struct {
	h hash.Hash
}

// NewRunningMD5 creates a fresh running digest.
func NewRunningMD5() *RunningMD5 {
	return &RunningMD5{h: md5.New()}
}

// Write feeds bytes into the digest.
func (r *RunningMD5) Write(p []byte) {
	r.h.Write(p)
}

// HexDigest returns the current hex-encoded digest.
func (r *RunningMD5) HexDigest() string {
	return hex.EncodeToString(r.h.Sum(nil))
}
