package blobstore

import (
	"database/sql"
	"fmt"

	"github.com/rcowham/fossil-go/internal/deltakit"
	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/hashkit"
)

// Deltify replaces rid's stored content with a delta against srcid, if
// doing so is legal and saves space. A no-op if rid is already stored as a
// delta and force is false. See §4.4.3.
func (s *Store) Deltify(rid, srcid int64, force bool) error {
	if _, hasDelta, err := s.deltaSrc(rid); err != nil {
		return err
	} else if hasDelta && !force {
		return nil
	}

	if reaches, err := s.chainReaches(srcid, rid); err != nil {
		return err
	} else if reaches {
		if err := s.Undeltify(srcid); err != nil {
			return err
		}
	}

	ridPrivate, err := s.isPrivate(rid)
	if err != nil {
		return err
	}
	if !ridPrivate {
		srcPrivate, err := s.isPrivate(srcid)
		if err != nil {
			return err
		}
		if srcPrivate {
			return errs.New(errs.Misuse, "refusing to store public rid=%d as a delta against private srcid=%d", rid, srcid)
		}
	}

	newContent, err := s.Get(rid)
	if err != nil {
		return err
	}
	srcContent, err := s.Get(srcid)
	if err != nil {
		return err
	}
	if len(newContent) < minDeltifySize || len(srcContent) < minDeltifySize {
		return nil
	}

	delta := deltakit.Create(srcContent, newContent)
	if float64(len(delta)) > deltifyRatio*float64(len(newContent)) {
		return nil
	}

	compressed, err := hashkit.Compress(delta)
	if err != nil {
		return err
	}
	if _, err := s.db.Raw().Exec(
		fmt.Sprintf("UPDATE %s.blob SET content=? WHERE rid=?", s.schema), compressed, rid); err != nil {
		return errs.Wrap(errs.DB, err, "deltify update rid=%d", rid)
	}
	if _, err := s.db.Raw().Exec(
		fmt.Sprintf("INSERT OR REPLACE INTO %s.delta(rid, srcid) VALUES (?, ?)", s.schema), rid, srcid); err != nil {
		return errs.Wrap(errs.DB, err, "deltify insert delta rid=%d srcid=%d", rid, srcid)
	}

	s.mu.Lock()
	s.content.Remove(rid)
	s.mu.Unlock()
	return nil
}

// Undeltify replaces rid's stored content with a plain compressed copy and
// drops its delta row. Idempotent on a blob that is already stored plain.
func (s *Store) Undeltify(rid int64) error {
	if _, hasDelta, err := s.deltaSrc(rid); err != nil {
		return err
	} else if !hasDelta {
		return nil
	}

	full, err := s.Get(rid)
	if err != nil {
		return err
	}
	compressed, err := hashkit.Compress(full)
	if err != nil {
		return err
	}
	if _, err := s.db.Raw().Exec(
		fmt.Sprintf("UPDATE %s.blob SET content=? WHERE rid=?", s.schema), compressed, rid); err != nil {
		return errs.Wrap(errs.DB, err, "undeltify update rid=%d", rid)
	}
	if _, err := s.db.Raw().Exec(
		fmt.Sprintf("DELETE FROM %s.delta WHERE rid=?", s.schema), rid); err != nil {
		return errs.Wrap(errs.DB, err, "undeltify drop delta row rid=%d", rid)
	}

	s.mu.Lock()
	s.content.Remove(rid)
	s.mu.Unlock()
	return nil
}

// chainReaches reports whether walking from's delta chain ever reaches to.
func (s *Store) chainReaches(from, to int64) (bool, error) {
	cur := from
	visited := map[int64]bool{}
	for depth := 0; depth < maxChainDepth; depth++ {
		if cur == to {
			return true, nil
		}
		if visited[cur] {
			return false, errs.New(errs.Consistency, "delta chain cycle detected at rid %d", cur)
		}
		visited[cur] = true
		srcid, hasDelta, err := s.deltaSrc(cur)
		if err != nil {
			return false, err
		}
		if !hasDelta {
			return false, nil
		}
		cur = srcid
	}
	return false, errs.New(errs.Consistency, "delta chain from rid %d exceeds max depth %d", from, maxChainDepth)
}

func (s *Store) isPrivate(rid int64) (bool, error) {
	var exists int
	err := s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT 1 FROM %s.private WHERE rid=?", s.schema), rid).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.DB, err, "private lookup rid=%d", rid)
	}
	return true, nil
}
