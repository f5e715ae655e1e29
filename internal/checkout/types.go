// Package checkout implements §4.9: the working-directory engine: the
// vfile state machine, change detection, add/remove/revert, full extract
// and three-way-merge update, plus the checkout fingerprint check.
package checkout

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/crosslink"
	"github.com/rcowham/fossil-go/internal/dbkit"
)

// ConfirmEvent identifies a decision point a Confirmer is asked about.
type ConfirmEvent int

const (
	EventOverwriteModFile ConfirmEvent = iota
	EventOverwriteUnmanagedFile
	EventRemoveModUnmanagedFile
	EventMultipleVersions
)

// ConfirmAnswer is the caller's decision for one event.
type ConfirmAnswer int

const (
	AnswerNo ConfirmAnswer = iota
	AnswerYes
	AnswerAlways
	AnswerNever
	AnswerCancel
)

// Confirmer is invoked at well-defined decision points during checkout and
// update. A nil Confirmer gets the safe defaults: Never for the first
// three events, Cancel for EventMultipleVersions.
type Confirmer func(event ConfirmEvent, filename string) ConfirmAnswer

func defaultConfirmer(event ConfirmEvent, _ string) ConfirmAnswer {
	if event == EventMultipleVersions {
		return AnswerCancel
	}
	return AnswerNever
}

// stickyConfirmer wraps a Confirmer so that an Always/Never answer for one
// event kind is remembered and reused without asking again, for the
// lifetime of one operation.
type stickyConfirmer struct {
	inner   Confirmer
	sticky  map[ConfirmEvent]ConfirmAnswer
}

func newStickyConfirmer(inner Confirmer) *stickyConfirmer {
	if inner == nil {
		inner = defaultConfirmer
	}
	return &stickyConfirmer{inner: inner, sticky: make(map[ConfirmEvent]ConfirmAnswer)}
}

func (s *stickyConfirmer) ask(event ConfirmEvent, filename string) ConfirmAnswer {
	if a, ok := s.sticky[event]; ok {
		return a
	}
	a := s.inner(event, filename)
	if a == AnswerAlways {
		s.sticky[event] = AnswerYes
		return AnswerYes
	}
	if a == AnswerNever {
		s.sticky[event] = AnswerNo
		return AnswerNo
	}
	return a
}

// VFile is one row of the checkout's vfile table: one tracked path as of
// the loaded checkin.
type VFile struct {
	ID       int64
	Vid      int64
	Rid      int64
	Mtime    int64
	Size     int64
	Chnged   int
	Deleted  bool
	IsExec   bool
	IsLink   bool
	Pathname string
	Origname string // set only during a pending rename
}

// Engine owns one checkout's localdb handle plus a reference to the
// repository's blob store, and is the receiver for every §4.9 operation.
type Engine struct {
	DB      *dbkit.DB
	Schema  string // localdb role schema name
	Repo    string // repository role schema name
	Blobs   *blobstore.Store
	Logger  *logrus.Logger
	RootDir string

	// Crosslinks is optional: only Commit needs it. Callers that only
	// extract/scan/update a checkout never have to wire one up.
	Crosslinks *crosslink.Crosslinker

	Confirm Confirmer
}

// New wires an Engine over an already-attached checkout+repository DB,
// creating the checkout-local tables if absent.
func New(db *dbkit.DB, checkoutSchema, repoSchema string, blobs *blobstore.Store, logger *logrus.Logger, rootDir string) (*Engine, error) {
	e := &Engine{DB: db, Schema: checkoutSchema, Repo: repoSchema, Blobs: blobs, Logger: logger, RootDir: rootDir}
	if err := e.createTables(); err != nil {
		return nil, err
	}
	if err := db.RegisterCkoutDirFunction(func() string {
		dir := filepath.ToSlash(e.RootDir)
		if dir != "" && !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		return dir
	}); err != nil {
		return nil, err
	}
	return e, nil
}
