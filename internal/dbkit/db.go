// Package dbkit implements §4.3: the relational-store wrapper shared by the
// repository, checkout and config databases: connection/attach management,
// a loan-guarded prepared-statement cache, nested transactions with
// deferred rollback, a pre-commit SQL queue, and the SQL functions the rest
// of the library relies on.
package dbkit

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Role names the three databases that may be attached to one logical
// connection, each under a fixed schema name used in fully-qualified SQL.
type Role int

const (
	RoleRepository Role = iota
	RoleCheckout
	RoleConfig
)

func (r Role) schemaName() string {
	switch r {
	case RoleRepository:
		return "repository"
	case RoleCheckout:
		return "localdb"
	case RoleConfig:
		return "configdb"
	}
	return ""
}

// DB is the single logical connection onto which up to three role-tagged
// databases are attached.
type DB struct {
	logger *logrus.Logger
	conn   *sql.DB

	mu       sync.Mutex
	attached map[Role]string // role -> file path

	stmts *stmtCache

	txMu         sync.Mutex
	txDepth      int
	txPoisoned   bool
	preCommit    []string
	caseFold     bool // filename collation: true = COLLATE NOCASE
}

// Open creates the logical connection against mainPath (typically an
// in-memory or scratch db; real work happens against attached roles).
func Open(logger *logrus.Logger, mainPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", mainPath)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "open %s", mainPath)
	}
	conn.SetMaxOpenConns(1) // single logical writer, per §5
	d := &DB{
		logger:   logger,
		conn:     conn,
		attached: make(map[Role]string),
		stmts:    newStmtCache(),
	}
	if err := d.registerFunctions(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Attach mounts path under role's fixed schema name.
func (d *DB) Attach(role Role, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := fmt.Sprintf("ATTACH DATABASE %s AS %s", quoteLiteral(path), role.schemaName())
	if _, err := d.conn.Exec(q); err != nil {
		return errs.Wrap(errs.DB, err, "attach %s as %s", path, role.schemaName())
	}
	d.attached[role] = path
	d.logger.Debugf("dbkit: attached %s role=%d path=%s", role.schemaName(), role, path)
	return nil
}

// Detach unmounts role without writing anything further.
func (d *DB) Detach(role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attached[role]; !ok {
		return nil
	}
	q := fmt.Sprintf("DETACH DATABASE %s", role.schemaName())
	if _, err := d.conn.Exec(q); err != nil {
		return errs.Wrap(errs.DB, err, "detach %s", role.schemaName())
	}
	delete(d.attached, role)
	return nil
}

// SchemaName returns role's fully-qualified SQL schema prefix, or "" if not
// attached.
func (d *DB) SchemaName(role Role) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.attached[role]; !ok {
		return ""
	}
	return role.schemaName()
}

// Close closes the underlying connection. It does not commit or rollback
// any open transaction.
func (d *DB) Close() error {
	d.stmts.CloseAll()
	return d.conn.Close()
}

// Raw exposes the underlying *sql.DB for packages that need to issue SQL
// against attached schemas directly (blobstore, deck, crosslink).
func (d *DB) Raw() *sql.DB {
	return d.conn
}

// SetCaseInsensitiveFilenames switches the filename-collation behavior used
// by Collation.
func (d *DB) SetCaseInsensitiveFilenames(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caseFold = v
}

// Collation returns either "" or "COLLATE NOCASE" for splicing into SQL
// that compares filenames, per the active collation switch.
func (d *DB) Collation() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.caseFold {
		return "COLLATE NOCASE"
	}
	return ""
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
