// Package repo implements §4.8: creating, opening and closing a fossil-go
// repository database, plus walking a directory tree upward to find an
// existing checkout and the repository it names.
package repo

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/crosslink"
	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/symbol"
)

// ContentSchema and AuxSchema name the schema versions this build
// understands, recorded into config at create time and checked at open
// time.
const (
	ContentSchema = "2.0"
	AuxSchema     = "2020-03-26"
)

// CheckoutMarker is the ckout-is-here sentinel file name used on every
// platform this build targets; the original also recognizes "_FOSSIL_" on
// Windows.
const CheckoutMarker = ".fslckout"

// Repo holds the open handles and cached context for one repository.
type Repo struct {
	DB     *dbkit.DB
	Logger *logrus.Logger
	Path   string
	Schema string

	Blobs      *blobstore.Store
	Crosslinks *crosslink.Crosslinker
	Symbols    *symbol.Resolver

	ProjectCode string
	User        string
}

// CreateOptions configures Create.
type CreateOptions struct {
	Filename       string
	AllowOverwrite bool
	Username       string
	CommitMessage  string
	HashPolicy     blobstore.HashPolicy

	// ConfigTemplate, if non-empty, names an existing repository whose
	// settings and reportfmt rows are copied into the new one.
	ConfigTemplate string
}

// Create installs the repository schema into a fresh file and seeds it
// with project/server codes, default config and the standard pseudo-users,
// mirroring fsl_repo_create.
func Create(logger *logrus.Logger, opts CreateOptions) (*Repo, error) {
	if opts.Filename == "" {
		return nil, errs.New(errs.Misuse, "repo.Create: filename required")
	}
	if _, err := os.Stat(opts.Filename); err == nil {
		if !opts.AllowOverwrite {
			return nil, errs.New(errs.AlreadyExists, "repository file already exists: %s", opts.Filename)
		}
		if err := os.Remove(opts.Filename); err != nil {
			return nil, errs.Wrap(errs.IO, err, "remove existing repository file %s", opts.Filename)
		}
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.IO, err, "stat %s", opts.Filename)
	}

	db, err := dbkit.Open(logger, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Attach(dbkit.RoleRepository, opts.Filename); err != nil {
		db.Close()
		return nil, err
	}
	schema := db.SchemaName(dbkit.RoleRepository)

	if err := createStaticSchema(db, schema); err != nil {
		db.Close()
		return nil, err
	}

	projectCode, err := randomHex(20)
	if err != nil {
		db.Close()
		return nil, err
	}
	serverCode, err := randomHex(20)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := db.Begin(); err != nil {
		db.Close()
		return nil, err
	}
	now := time.Now().Unix()
	seed := []struct {
		name, value string
	}{
		{"project-code", projectCode},
		{"server-code", serverCode},
		{"content-schema", ContentSchema},
		{"aux-schema", AuxSchema},
		{"hash-policy", fmt.Sprintf("%d", int(opts.HashPolicy))},
		{"autosync", "1"},
		{"localauth", "0"},
		{"timeline-plaintext", "1"},
	}
	for _, kv := range seed {
		if _, err := db.Raw().Exec(
			fmt.Sprintf("INSERT INTO %s.config(name,value,mtime) VALUES (?,?,?)", schema),
			kv.name, kv.value, now); err != nil {
			db.RequestRollback()
			db.End()
			db.Close()
			return nil, errs.Wrap(errs.DB, err, "seed config %s", kv.name)
		}
	}

	username := opts.Username
	if username == "" {
		username = "root"
	}
	if err := seedDefaultUsers(db, schema, username); err != nil {
		db.RequestRollback()
		db.End()
		db.Close()
		return nil, err
	}

	if opts.ConfigTemplate != "" {
		if err := copyConfigTemplate(db, schema, opts.ConfigTemplate); err != nil {
			db.RequestRollback()
			db.End()
			db.Close()
			return nil, err
		}
	}

	if err := db.End(); err != nil {
		db.Close()
		return nil, err
	}

	r := &Repo{DB: db, Logger: logger, Path: opts.Filename, Schema: schema, ProjectCode: projectCode, User: username}
	if err := r.wireComponents(opts.HashPolicy); err != nil {
		db.Close()
		return nil, err
	}

	if opts.CommitMessage != "" {
		if err := r.saveInitialCheckin(opts.CommitMessage, username); err != nil {
			db.Close()
			return nil, err
		}
	}
	return r, nil
}

// Open attaches an existing repository file, verifies its schema version
// and loads the cached project settings.
func Open(logger *logrus.Logger, path string) (*Repo, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotARepo, "no such repository file: %s", path)
		}
		return nil, errs.Wrap(errs.IO, err, "stat %s", path)
	}

	db, err := dbkit.Open(logger, ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Attach(dbkit.RoleRepository, path); err != nil {
		db.Close()
		return nil, err
	}
	r, err := openAttached(logger, db, path)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// OpenShared validates and wires a repository whose file is already
// attached as RoleRepository on db, without opening a second logical
// connection. Used when a checkout's localdb and its repository share one
// dbkit.DB handle, per §4.10's single-context-owns-all-handles design.
func OpenShared(logger *logrus.Logger, db *dbkit.DB, path string) (*Repo, error) {
	if db.SchemaName(dbkit.RoleRepository) == "" {
		if err := db.Attach(dbkit.RoleRepository, path); err != nil {
			return nil, err
		}
	}
	return openAttached(logger, db, path)
}

func openAttached(logger *logrus.Logger, db *dbkit.DB, path string) (*Repo, error) {
	schema := db.SchemaName(dbkit.RoleRepository)

	contentSchema, err := readConfig(db, schema, "content-schema")
	if err != nil {
		return nil, errs.New(errs.RepoNeedsRebuild, "repository has no content-schema marker, needs rebuild: %s", path)
	}
	if contentSchema != ContentSchema {
		return nil, errs.New(errs.RepoVersion, "repository content-schema %q unsupported by this build (want %q)", contentSchema, ContentSchema)
	}
	auxSchema, err := readConfig(db, schema, "aux-schema")
	if err != nil || auxSchema != AuxSchema {
		return nil, errs.New(errs.RepoVersion, "repository aux-schema mismatch for %s", path)
	}

	projectCode, _ := readConfig(db, schema, "project-code")
	policyStr, _ := readConfig(db, schema, "hash-policy")
	policy := blobstore.PolicyAuto
	if policyStr != "" {
		var n int
		fmt.Sscanf(policyStr, "%d", &n)
		policy = blobstore.HashPolicy(n)
	}

	r := &Repo{DB: db, Logger: logger, Path: path, Schema: schema, ProjectCode: projectCode}
	if err := r.wireComponents(policy); err != nil {
		return nil, err
	}
	return r, nil
}

// Close detaches the repository's databases without writing anything
// further, mirroring fsl_repo_close's no-flush contract.
func (r *Repo) Close() error {
	return r.DB.Close()
}

func (r *Repo) wireComponents(policy blobstore.HashPolicy) error {
	blobs, err := blobstore.New(r.DB, r.Schema, r.Logger, policy)
	if err != nil {
		return err
	}
	cl, err := crosslink.New(r.DB, r.Schema, r.Logger, blobs)
	if err != nil {
		return err
	}
	r.Blobs = blobs
	r.Crosslinks = cl
	r.Symbols = symbol.New(r.DB, r.Schema)

	if err := r.DB.RegisterSym2RidFunction(r.Symbols.Resolve); err != nil {
		return err
	}
	if err := r.DB.RegisterContentFunction(func(sym string) ([]byte, error) {
		rid, err := r.Symbols.Resolve(sym)
		if err != nil {
			return nil, err
		}
		return r.Blobs.Get(rid)
	}); err != nil {
		return err
	}
	return nil
}

func (r *Repo) saveInitialCheckin(message, user string) error {
	d := deck.New(deck.SatypeCheckin)
	d.C = message
	d.D = float64(time.Now().Unix())/86400.0 + 2440587.5
	d.U = user
	d.R = "d41d8cd98f00b204e9800998ecf8427e" // md5 of empty content, no files yet
	d.Tcards = []deck.TCard{
		{Kind: '+', Name: "sym-trunk", UUID: "*"},
		{Kind: '*', Name: "branch", Value: "trunk", UUID: "*"},
	}
	if err := d.Unshuffle(false); err != nil {
		return err
	}
	data, err := d.Bytes()
	if err != nil {
		return err
	}

	if err := r.DB.Begin(); err != nil {
		return err
	}
	rid, _, err := r.Blobs.Put(data, blobstore.PutOptions{})
	if err != nil {
		r.DB.RequestRollback()
		r.DB.End()
		return err
	}
	if err := r.Crosslinks.Crosslink(rid, d); err != nil {
		r.DB.RequestRollback()
		r.DB.End()
		return err
	}
	if err := r.Blobs.VerifyPending(); err != nil {
		r.DB.RequestRollback()
		r.DB.End()
		return err
	}
	return r.DB.End()
}

func readConfig(db *dbkit.DB, schema, name string) (string, error) {
	var v string
	err := db.Raw().QueryRow(fmt.Sprintf("SELECT value FROM %s.config WHERE name=?", schema), name).Scan(&v)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, "config %q not set", name)
	}
	if err != nil {
		return "", errs.Wrap(errs.DB, err, "read config %q", name)
	}
	return v, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.IO, err, "generate random code")
	}
	return hex.EncodeToString(buf), nil
}

func seedDefaultUsers(db *dbkit.DB, schema, username string) error {
	stmts := []struct {
		login, cap, info string
	}{
		{username, "s", ""},
		{"anonymous", "hmncz", "Anon"},
		{"nobody", "gjor", "Nobody"},
		{"developer", "dei", "Dev"},
		{"reader", "kptw", "Reader"},
	}
	for _, u := range stmts {
		if _, err := db.Raw().Exec(
			fmt.Sprintf("INSERT OR IGNORE INTO %s.user(login, cap, info, pw) VALUES (?, ?, ?, lower(hex(randomblob(8))))", schema),
			u.login, u.cap, u.info); err != nil {
			return errs.Wrap(errs.DB, err, "seed user %s", u.login)
		}
	}
	return nil
}

func copyConfigTemplate(db *dbkit.DB, schema, templatePath string) error {
	if err := db.Attach(dbkit.RoleConfig, templatePath); err != nil {
		return err
	}
	defer db.Detach(dbkit.RoleConfig)
	templateSchema := db.SchemaName(dbkit.RoleConfig)

	if _, err := db.Raw().Exec(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s.config(name, value, mtime)
		 SELECT name, value, mtime FROM %s.config WHERE name NOT GLOB 'project-*'`,
		schema, templateSchema)); err != nil {
		return errs.Wrap(errs.DB, err, "copy config template settings")
	}
	if _, err := db.Raw().Exec(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s.reportfmt SELECT * FROM %s.reportfmt`,
		schema, templateSchema)); err != nil {
		return errs.Wrap(errs.DB, err, "copy config template reportfmt")
	}
	if _, err := db.Raw().Exec(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s.user(login, cap, info, mtime, photo)
		 SELECT login, cap, info, mtime, photo FROM %s.user`,
		schema, templateSchema)); err != nil {
		return errs.Wrap(errs.DB, err, "copy config template users")
	}
	return nil
}

// FindCheckoutDir walks upward from dir looking for a CheckoutMarker file,
// returning the directory that contains it, mirroring fsl_ckout_open_dir's
// upward search.
func FindCheckoutDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errs.Wrap(errs.IO, err, "resolve %s", dir)
	}
	cur := abs
	for {
		marker := filepath.Join(cur, CheckoutMarker)
		if _, err := os.Stat(marker); err == nil {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", errs.New(errs.NotACkout, "no checkout found above %s", dir)
		}
		cur = parent
	}
}
