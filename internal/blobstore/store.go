// Package blobstore implements §4.4: content-addressed blob storage with
// phantom handling, delta-chain reconstruction, deltification and
// commit-time hash verification.
package blobstore

import (
	"database/sql"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/deltakit"
	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/hashkit"
)

const (
	contentCacheSize = 2000
	missingCacheSize = 2000
	maxChainDepth    = 1000
	cacheEveryN      = 8 // cache reconstructed intermediates every this many steps
	minDeltifySize   = 50
	deltifyRatio     = 0.75
)

// Store is a content-addressed blob store layered over one schema
// (repository or config) of a dbkit.DB.
type Store struct {
	db     *dbkit.DB
	schema string
	logger *logrus.Logger
	policy HashPolicy

	mu      sync.Mutex
	content *lru.Cache[int64, []byte]
	missing *lru.Cache[int64, struct{}]
	pending []int64

	// OnDephantomize, if set, is invoked after a phantom row is filled
	// with content, before Put returns. It is the crosslinker's hook for
	// the §4.6 dephantomization cascade; left nil until that package
	// wires itself in.
	OnDephantomize func(rid int64) error

	// RejectSHA1Collisions, when true, makes Put and VerifyPending refuse
	// content whose SHA-1 digest trips the hardened-hash collision
	// heuristic, instead of silently accepting a crafted artifact.
	RejectSHA1Collisions bool
}

// New creates a Store bound to schema (the attached-role name, e.g.
// "repository") on db, creating its tables if they do not already exist.
func New(db *dbkit.DB, schema string, logger *logrus.Logger, policy HashPolicy) (*Store, error) {
	content, _ := lru.New[int64, []byte](contentCacheSize)
	missing, _ := lru.New[int64, struct{}](missingCacheSize)
	s := &Store{
		db:      db,
		schema:  schema,
		logger:  logger,
		policy:  policy,
		content: content,
		missing: missing,
	}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.blob(
			rid INTEGER PRIMARY KEY,
			rcvid INTEGER,
			size INTEGER,
			uuid TEXT UNIQUE NOT NULL,
			content BLOB
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.delta(
			rid INTEGER PRIMARY KEY,
			srcid INTEGER NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.private(rid INTEGER PRIMARY KEY)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.shun(uuid TEXT PRIMARY KEY)`, s.schema),
	}
	for _, q := range stmts {
		if _, err := s.db.Raw().Exec(q); err != nil {
			return errs.Wrap(errs.DB, err, "create blobstore tables")
		}
	}
	return nil
}

// PutOptions carries the optional inputs to Put.
type PutOptions struct {
	UUID              string // known hash; skips hashing when set
	Srcid             int64  // >0: store as a delta against this rid
	AlreadyCompressed bool
	Rcvid             int64
	Private           bool
}

// Put stores data, returning the rid and uuid it is now known by. If
// content with the same hash already exists and is not a phantom, Put is a
// no-op that returns the existing row.
func (s *Store) Put(data []byte, opts PutOptions) (rid int64, uuid string, err error) {
	uuid, err = s.resolveHash(data, opts.UUID)
	if err != nil {
		return 0, "", err
	}
	if s.RejectSHA1Collisions && len(uuid) == hashkit.SHA1.FullLen() {
		if _, collision := hashkit.BytesHardened(data); collision {
			return 0, "", errs.New(errs.ChecksumMismatch, "content hashes to a hardened SHA-1 collision candidate")
		}
	}

	existingRid, _, isPhantom, found, err := s.lookupByUUID(uuid)
	if err != nil {
		return 0, "", err
	}

	compressed := data
	if !opts.AlreadyCompressed {
		compressed, err = hashkit.Compress(data)
		if err != nil {
			return 0, "", err
		}
	}

	if found && !isPhantom {
		return existingRid, uuid, nil
	}

	if found && isPhantom {
		stmt, serr := s.db.Prepare(fmt.Sprintf("UPDATE %s.blob SET size=?, content=?, rcvid=? WHERE rid=?", s.schema))
		if serr != nil {
			return 0, "", serr
		}
		_, err = stmt.Raw().Exec(len(data), compressed, opts.Rcvid, existingRid)
		stmt.Release()
		if err != nil {
			return 0, "", errs.Wrap(errs.DB, err, "fill phantom rid=%d", existingRid)
		}
		rid = existingRid
		if s.OnDephantomize != nil {
			if err := s.OnDephantomize(rid); err != nil {
				return 0, "", err
			}
		}
	} else {
		stmt, serr := s.db.Prepare(fmt.Sprintf("INSERT INTO %s.blob(rcvid, size, uuid, content) VALUES (?, ?, ?, ?)", s.schema))
		if serr != nil {
			return 0, "", serr
		}
		res, err := stmt.Raw().Exec(opts.Rcvid, len(data), uuid, compressed)
		stmt.Release()
		if err != nil {
			return 0, "", errs.Wrap(errs.DB, err, "insert blob uuid=%s", uuid)
		}
		rid, err = res.LastInsertId()
		if err != nil {
			return 0, "", errs.Wrap(errs.DB, err, "last insert id")
		}
	}

	if opts.Srcid > 0 {
		stmt, err := s.db.Prepare(fmt.Sprintf("INSERT OR REPLACE INTO %s.delta(rid, srcid) VALUES (?, ?)", s.schema))
		if err != nil {
			return 0, "", err
		}
		_, err = stmt.Raw().Exec(rid, opts.Srcid)
		stmt.Release()
		if err != nil {
			return 0, "", errs.Wrap(errs.DB, err, "insert delta rid=%d srcid=%d", rid, opts.Srcid)
		}
	}
	if opts.Private {
		stmt, err := s.db.Prepare(fmt.Sprintf("INSERT OR IGNORE INTO %s.private(rid) VALUES (?)", s.schema))
		if err != nil {
			return 0, "", err
		}
		_, err = stmt.Raw().Exec(rid)
		stmt.Release()
		if err != nil {
			return 0, "", errs.Wrap(errs.DB, err, "insert private rid=%d", rid)
		}
	}

	s.mu.Lock()
	s.content.Add(rid, data)
	s.missing.Remove(rid)
	s.pending = append(s.pending, rid)
	s.mu.Unlock()

	return rid, uuid, nil
}

// PutPhantom registers uuid as a known-but-not-yet-available artifact,
// returning its rid. Used when an F-card or M-card references content the
// crosslinker has not seen yet.
func (s *Store) PutPhantom(uuid string) (int64, error) {
	rid, _, _, found, err := s.lookupByUUID(uuid)
	if err != nil {
		return 0, err
	}
	if found {
		return rid, nil
	}
	res, err := s.db.Raw().Exec(
		fmt.Sprintf("INSERT INTO %s.blob(size, uuid, content) VALUES (-1, ?, NULL)", s.schema), uuid)
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "insert phantom uuid=%s", uuid)
	}
	rid, err = res.LastInsertId()
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "last insert id")
	}
	return rid, nil
}

// Get reconstructs and returns rid's full content, walking its delta chain
// if necessary.
func (s *Store) Get(rid int64) ([]byte, error) {
	s.mu.Lock()
	if _, isMissing := s.missing.Get(rid); isMissing {
		s.mu.Unlock()
		return nil, errs.New(errs.NotFound, "rid %d not found", rid)
	}
	if data, ok := s.content.Get(rid); ok {
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	chain := []int64{rid}
	visited := map[int64]bool{rid: true}
	cur := rid
	for {
		srcid, hasDelta, err := s.deltaSrc(cur)
		if err != nil {
			return nil, err
		}
		if !hasDelta {
			break
		}
		if visited[srcid] {
			return nil, errs.New(errs.Consistency, "delta chain cycle detected at rid %d", srcid)
		}
		if len(chain) >= maxChainDepth {
			return nil, errs.New(errs.Consistency, "delta chain for rid %d exceeds max depth %d", rid, maxChainDepth)
		}
		visited[srcid] = true
		chain = append(chain, srcid)
		cur = srcid
	}

	baseline := chain[len(chain)-1]
	compressed, size, err := s.loadRaw(baseline)
	if err != nil {
		s.mu.Lock()
		s.missing.Add(rid, struct{}{})
		s.mu.Unlock()
		return nil, err
	}
	if size < 0 {
		return nil, errs.New(errs.Phantom, "rid %d is a phantom", baseline)
	}
	buf, err := hashkit.Uncompress(compressed)
	if err != nil {
		return nil, err
	}

	for i := len(chain) - 2; i >= 0; i-- {
		deltaRid := chain[i]
		dcompressed, dsize, err := s.loadRaw(deltaRid)
		if err != nil {
			return nil, err
		}
		if dsize < 0 {
			return nil, errs.New(errs.Phantom, "rid %d is a phantom", deltaRid)
		}
		deltaBytes, err := hashkit.Uncompress(dcompressed)
		if err != nil {
			return nil, err
		}
		buf, err = deltakit.Apply(buf, deltaBytes)
		if err != nil {
			return nil, errs.Wrap(errs.Consistency, err, "apply delta at rid %d", deltaRid)
		}
		if i%cacheEveryN == 0 {
			cached := append([]byte(nil), buf...)
			s.mu.Lock()
			s.content.Add(deltaRid, cached)
			s.mu.Unlock()
		}
	}

	out := append([]byte(nil), buf...)
	s.mu.Lock()
	s.content.Add(rid, out)
	s.mu.Unlock()
	return out, nil
}

func (s *Store) deltaSrc(rid int64) (int64, bool, error) {
	var srcid int64
	err := s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT srcid FROM %s.delta WHERE rid=?", s.schema), rid).Scan(&srcid)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Wrap(errs.DB, err, "lookup delta srcid for rid=%d", rid)
	}
	return srcid, true, nil
}

func (s *Store) loadRaw(rid int64) (compressed []byte, size int, err error) {
	err = s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT size, content FROM %s.blob WHERE rid=?", s.schema), rid).Scan(&size, &compressed)
	if err == sql.ErrNoRows {
		return nil, 0, errs.New(errs.NotFound, "rid %d not found", rid)
	}
	if err != nil {
		return nil, 0, errs.Wrap(errs.DB, err, "load blob rid=%d", rid)
	}
	return compressed, size, nil
}

func (s *Store) lookupByUUID(uuid string) (rid int64, size int, isPhantom bool, found bool, err error) {
	err = s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT rid, size FROM %s.blob WHERE uuid=?", s.schema), uuid).Scan(&rid, &size)
	if err == sql.ErrNoRows {
		return 0, 0, false, false, nil
	}
	if err != nil {
		return 0, 0, false, false, errs.Wrap(errs.DB, err, "lookup uuid=%s", uuid)
	}
	return rid, size, size < 0, true, nil
}

func (s *Store) resolveHash(data []byte, known string) (string, error) {
	if known != "" {
		return known, nil
	}
	policy := s.effectivePolicy()
	altHash := hashkit.Bytes(policy.alternate(), data)
	if _, _, _, found, err := s.lookupByUUID(altHash); err != nil {
		return "", err
	} else if found {
		return altHash, nil
	}
	if policy.refusesSHA1() && policy.primary() == hashkit.SHA1 {
		return "", errs.New(errs.Misuse, "hash policy refuses to emit a SHA-1 hash")
	}
	return hashkit.Bytes(policy.primary(), data), nil
}

func (s *Store) effectivePolicy() HashPolicy {
	if s.policy != PolicyAuto {
		return s.policy
	}
	var exists int
	err := s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT 1 FROM %s.blob WHERE length(uuid)=64 LIMIT 1", s.schema)).Scan(&exists)
	if err == nil {
		return PolicySHA3Preferred
	}
	return PolicySHA1Only
}

// IsShunned reports whether hash must be treated as unreadable content,
// either because it is listed in the shun table or because the active
// policy is PolicyShunSHA1 and hash looks like a SHA-1 digest.
func (s *Store) IsShunned(hash string) (bool, error) {
	if s.policy == PolicyShunSHA1 && len(hash) == hashkit.SHA1.FullLen() {
		return true, nil
	}
	var exists int
	err := s.db.Raw().QueryRow(
		fmt.Sprintf("SELECT 1 FROM %s.shun WHERE uuid=?", s.schema), hash).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(errs.DB, err, "shun lookup %s", hash)
	}
	return true, nil
}
