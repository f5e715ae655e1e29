// Package fslctx implements §4.10: the context object that owns a
// repository's DB handles, the active checkout (if one is open), the
// loaded config, the hash policy, the artifact cache, a scratch-buffer
// pool and the confirmer used at file-level decision points. Grounded on
// original_source/include/fossil-scm/fossil-core.h's fsl_cx for the
// object's shape, and on a YAML struct/Unmarshal/validate config loader
// for the loader in config.go.
package fslctx

import (
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/checkout"
	"github.com/rcowham/fossil-go/internal/crosslink"
	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/repo"
)

const artifactCacheSize = 256

// Context is the single runtime object threaded through every top-level
// fossil-go operation. It is safe for use by one goroutine at a time; the
// underlying dbkit.DB already serializes writers per §5.
type Context struct {
	Logger *logrus.Logger
	Config *Config

	Repo     *repo.Repo
	Checkout *checkout.Engine // nil until a working checkout is opened

	User string

	artifactCache *lru.Cache[int64, []byte]
	scratch       sync.Pool

	precommitMu  sync.Mutex
	precommit    map[int64]bool // rids pending commit-time verification

	Confirm checkout.Confirmer
}

// New builds a bare Context around an already-open Repo, with no checkout
// attached yet. cfg may be nil, in which case defaults apply.
func New(logger *logrus.Logger, r *repo.Repo, cfg *Config) (*Context, error) {
	if cfg == nil {
		cfg = &Config{}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
	}
	cache, err := lru.New[int64, []byte](artifactCacheSize)
	if err != nil {
		return nil, errs.Wrap(errs.OOM, err, "allocate artifact cache")
	}
	cx := &Context{
		Logger:    logger,
		Config:    cfg,
		Repo:      r,
		User:      r.User,
		precommit: make(map[int64]bool),
	}
	cx.artifactCache = cache
	cx.scratch.New = func() any { return make([]byte, 0, 64*1024) }
	return cx, nil
}

// OpenCheckout attaches the checkout database found above dir and wires a
// checkout.Engine against it, loading the repository it names.
func OpenCheckout(logger *logrus.Logger, dir string, cfg *Config) (*Context, error) {
	ckoutDir, err := repo.FindCheckoutDir(dir)
	if err != nil {
		return nil, err
	}
	markerPath := filepath.Join(ckoutDir, repo.CheckoutMarker)

	db, err := dbkit.Open(logger, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Attach(dbkit.RoleCheckout, markerPath); err != nil {
		db.Close()
		return nil, err
	}
	ckoutSchema := db.SchemaName(dbkit.RoleCheckout)

	var repoPath string
	err = db.Raw().QueryRow(
		"SELECT value FROM " + ckoutSchema + ".vvar WHERE name='repository'").Scan(&repoPath)
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.NotACkout, err, "checkout at %s has no repository vvar", ckoutDir)
	}

	r, err := repo.OpenShared(logger, db, repoPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	eng, err := checkout.New(db, ckoutSchema, r.Schema, r.Blobs, logger, ckoutDir)
	if err != nil {
		r.Close()
		return nil, err
	}

	cx, err := New(logger, r, cfg)
	if err != nil {
		r.Close()
		return nil, err
	}
	cx.Checkout = eng
	eng.Confirm = cx.Confirm
	eng.Crosslinks = r.Crosslinks
	return cx, nil
}

// CreateCheckout attaches a fresh checkout database at rootDir/.fslckout
// against the already-open repository r, recording r's path into the new
// checkout's vvar('repository') so a later OpenCheckout can find its way
// back, mirroring fsl_ckout_open_dir's marker-as-localdb design.
func CreateCheckout(logger *logrus.Logger, r *repo.Repo, rootDir string, cfg *Config) (*Context, error) {
	markerPath := filepath.Join(rootDir, repo.CheckoutMarker)
	if err := r.DB.Attach(dbkit.RoleCheckout, markerPath); err != nil {
		return nil, err
	}
	ckoutSchema := r.DB.SchemaName(dbkit.RoleCheckout)

	eng, err := checkout.New(r.DB, ckoutSchema, r.Schema, r.Blobs, logger, rootDir)
	if err != nil {
		return nil, err
	}
	if _, err := r.DB.Raw().Exec(
		"INSERT OR REPLACE INTO "+ckoutSchema+".vvar(name, value) VALUES ('repository', ?)", r.Path); err != nil {
		return nil, errs.Wrap(errs.DB, err, "record repository path in new checkout")
	}

	cx, err := New(logger, r, cfg)
	if err != nil {
		return nil, err
	}
	cx.Checkout = eng
	eng.Confirm = cx.Confirm
	eng.Crosslinks = r.Crosslinks
	return cx, nil
}

// Close releases the context's underlying DB connection. With a checkout
// attached, Repo and Checkout share one dbkit.DB, so this closes both.
func (cx *Context) Close() error {
	return cx.Repo.Close()
}

// CacheArtifact stores reconstructed blob bytes for rid in the context's
// artifact LRU, per §4.10's "in-memory artifact cache" requirement.
func (cx *Context) CacheArtifact(rid int64, content []byte) {
	cx.artifactCache.Add(rid, content)
}

// CachedArtifact returns previously cached bytes for rid, if present.
func (cx *Context) CachedArtifact(rid int64) ([]byte, bool) {
	return cx.artifactCache.Get(rid)
}

// Scratch borrows a reusable byte buffer from the pool; callers must
// return it with ReleaseScratch when done.
func (cx *Context) Scratch() []byte {
	return cx.scratch.Get().([]byte)[:0]
}

// ReleaseScratch returns a buffer obtained from Scratch to the pool.
func (cx *Context) ReleaseScratch(buf []byte) {
	cx.scratch.Put(buf)
}

// MarkForVerify adds rid to the pre-commit verify-rids bag (§4.4.4).
func (cx *Context) MarkForVerify(rid int64) {
	cx.precommitMu.Lock()
	defer cx.precommitMu.Unlock()
	cx.precommit[rid] = true
}

// PendingVerifyRids drains and returns the accumulated verify-rids bag.
func (cx *Context) PendingVerifyRids() []int64 {
	cx.precommitMu.Lock()
	defer cx.precommitMu.Unlock()
	out := make([]int64, 0, len(cx.precommit))
	for rid := range cx.precommit {
		out = append(out, rid)
	}
	cx.precommit = make(map[int64]bool)
	return out
}

// RegisterListener installs a crosslink listener, delegating to the
// repository's Crosslinker (the listener registry itself already lives
// there, per §4.6; the context only needs to expose it at the top level).
func (cx *Context) RegisterListener(name string, fn crosslink.Listener) {
	cx.Repo.Crosslinks.RegisterListener(name, fn)
}

// Resolve resolves a symbolic name against this context's repository,
// keeping the resolver's CheckoutRid in sync with whatever this checkout
// (if any) currently has loaded so "current"/"prev"/"next" resolve
// correctly.
func (cx *Context) Resolve(sym string) (int64, error) {
	if cx.Checkout != nil {
		cx.Repo.Symbols.CheckoutRid = cx.Checkout.CheckoutVid()
	}
	return cx.Repo.Symbols.Resolve(sym)
}
