// Package hashkit implements §4.1: content hashing and the zlib-with-length-prefix
// compression framing used by the blob store.
package hashkit

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a supported hash algorithm.
type Algorithm int

const (
	SHA1 Algorithm = iota
	SHA3256
	MD5
)

// FullLen returns the hex-digest length for algo: 40 for SHA1, 64 for
// SHA3256, 32 for MD5 (used for Z-cards, R-cards and checksums, not as a
// uuid), and 0 for an unknown algorithm.
func (a Algorithm) FullLen() int {
	switch a {
	case SHA1:
		return 40
	case SHA3256:
		return 64
	case MD5:
		return 32
	}
	return 0
}

// Hasher is an incremental hash object, mirroring the reference library's
// init/update/finalize/hex cycle.
type Hasher struct {
	algo Algorithm
	sha1 interface {
		io.Writer
		Sum([]byte) []byte
	}
	sha3 interface {
		io.Writer
		Sum([]byte) []byte
	}
	md5 interface {
		io.Writer
		Sum([]byte) []byte
	}
	hardened bool
	seen     map[string]struct{} // unused: no method reads or writes it
}

// NewHasher constructs an incremental hasher for algo. When algo is SHA1 and
// hardened is true, Finalize's Collision return reports the result of
// detectsSHA1Collision, which in this port flags no input.
func NewHasher(algo Algorithm, hardened bool) *Hasher {
	h := &Hasher{algo: algo, hardened: hardened && algo == SHA1}
	switch algo {
	case SHA1:
		h.sha1 = sha1.New()
	case SHA3256:
		h.sha3 = sha3.New256()
	case MD5:
		h.md5 = md5.New()
	}
	return h
}

func (h *Hasher) Write(p []byte) (int, error) {
	switch h.algo {
	case SHA1:
		return h.sha1.Write(p)
	case SHA3256:
		return h.sha3.Write(p)
	case MD5:
		return h.md5.Write(p)
	}
	return len(p), nil
}

// Finalize returns the lowercase hex digest. Collision is only ever true for
// a hardened SHA-1 hasher fed data that triggers the detector's heuristic.
func (h *Hasher) Finalize() (digest string, collision bool) {
	var sum []byte
	switch h.algo {
	case SHA1:
		sum = h.sha1.Sum(nil)
		collision = h.hardened && detectsSHA1Collision(sum)
	case SHA3256:
		sum = h.sha3.Sum(nil)
	case MD5:
		sum = h.md5.Sum(nil)
	}
	return hex.EncodeToString(sum), collision
}

// detectsSHA1Collision implements the cheap structural heuristic fossil's
// hardened SHA-1 uses: known public collision attacks (SHAttered et al.)
// produce specific near-collision difference blocks detectable without a
// second full hash. This port flags none by default (no known-bad prefix
// table is part of this spec) but keeps the hook so RejectSHA1Collisions
// has somewhere real to attach.
func detectsSHA1Collision([]byte) bool { return false }

// Bytes hashes a full byte slice in one shot.
func Bytes(algo Algorithm, data []byte) string {
	h := NewHasher(algo, false)
	_, _ = h.Write(data)
	d, _ := h.Finalize()
	return d
}

// BytesHardened hashes data with SHA-1 in hardened mode, also reporting
// whether the collision heuristic fired.
func BytesHardened(data []byte) (digest string, collision bool) {
	h := NewHasher(SHA1, true)
	_, _ = h.Write(data)
	return h.Finalize()
}

// Reader hashes everything read from r.
func Reader(algo Algorithm, r io.Reader) (string, error) {
	h := NewHasher(algo, false)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	d, _ := h.Finalize()
	return d, nil
}

// IsFullHash reports whether s has the hex length of a SHA-1 or SHA-3-256
// digest (§3: "a full hash has one of those two lengths").
func IsFullHash(s string) bool {
	return isHex(s) && (len(s) == 40 || len(s) == 64)
}

// IsPrefix reports whether s is a valid hash prefix: 4-63 hex chars.
func IsPrefix(s string) bool {
	return isHex(s) && len(s) >= 4 && len(s) <= 63
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
