package blobstore

import "github.com/rcowham/fossil-go/internal/hashkit"

// HashPolicy governs which hash algorithm new content is named with, and
// how existing SHA-1 content is treated. See §4.4.1.
type HashPolicy int

const (
	// PolicyAuto behaves as PolicySHA1Only until any SHA-3 hash exists in
	// the repository, then behaves as PolicySHA3Preferred.
	PolicyAuto HashPolicy = iota
	PolicySHA1Only
	PolicyAcceptSHA1PromoteToSHA3
	PolicySHA3Preferred
	PolicySHA3Only
	PolicyShunSHA1
)

func (p HashPolicy) primary() hashkit.Algorithm {
	switch p {
	case PolicySHA1Only:
		return hashkit.SHA1
	default:
		return hashkit.SHA3256
	}
}

// alternate is the algorithm tried first against existing content when a
// caller puts a blob without a known uuid, per §4.4.1's "hash first with
// the alternate algorithm" rule.
func (p HashPolicy) alternate() hashkit.Algorithm {
	switch p {
	case PolicySHA1Only, PolicyAcceptSHA1PromoteToSHA3, PolicySHA3Preferred:
		return hashkit.SHA1
	default:
		return hashkit.SHA3256
	}
}

// refusesSHA1 reports whether this policy must never emit a SHA-1 hash for
// new content.
func (p HashPolicy) refusesSHA1() bool {
	return p == PolicySHA3Only || p == PolicyShunSHA1
}
