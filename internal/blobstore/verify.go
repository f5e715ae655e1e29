package blobstore

import (
	"fmt"

	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/hashkit"
)

// VerifyPending re-reads and rehashes every rid queued by Put since the
// last call, failing with a consistency error naming the offending rid and
// both hashes on the first mismatch. Callers should invoke this at the
// outer transaction's commit boundary (§4.4.4) and abort the transaction
// if it returns an error.
func (s *Store) VerifyPending() error {
	s.mu.Lock()
	rids := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, rid := range rids {
		if err := s.verifyOne(rid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) verifyOne(rid int64) error {
	var uuid string
	err := s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT uuid FROM %s.blob WHERE rid=?", s.schema), rid).Scan(&uuid)
	if err != nil {
		return errs.Wrap(errs.DB, err, "verify lookup rid=%d", rid)
	}

	data, err := s.Get(rid)
	if err != nil {
		return err
	}

	algo := hashkit.SHA3256
	if len(uuid) == hashkit.SHA1.FullLen() {
		algo = hashkit.SHA1
	}
	got := hashkit.Bytes(algo, data)
	if got != uuid {
		return errs.New(errs.ChecksumMismatch, "content for rid=%d hashes to %s, stored as %s", rid, got, uuid)
	}
	if s.RejectSHA1Collisions && algo == hashkit.SHA1 {
		if _, collision := hashkit.BytesHardened(data); collision {
			return errs.New(errs.ChecksumMismatch, "content for rid=%d is a hardened SHA-1 collision candidate", rid)
		}
	}
	return nil
}

// PendingCount reports how many rids are currently queued for verification.
// Mostly useful for tests and diagnostics.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
