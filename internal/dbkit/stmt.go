package dbkit

import (
	"database/sql"
	"sync"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Stmt is a cached, loan-guarded prepared statement. A Stmt may be lent to
// at most one caller at a time; Release returns it to the pool.
type Stmt struct {
	sql    string
	prep   *sql.Stmt
	cache  *stmtCache
	loaned bool
}

func (s *Stmt) Raw() *sql.Stmt { return s.prep }

// Release returns the statement to the cache, clearing its loaned flag.
// The reference library documents this as "returning a statement resets
// it", since sqlite's own driver resets bound parameters on the next Query/Exec,
// so here Release's job is purely to clear the loan.
func (s *Stmt) Release() {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	s.loaned = false
}

type stmtCache struct {
	mu    sync.Mutex
	byKey map[string]*Stmt
}

func newStmtCache() *stmtCache {
	return &stmtCache{byKey: make(map[string]*Stmt)}
}

// Prepare returns a cached statement for sqlText, preparing it against conn
// on first use. Reusing a statement that is already on loan is a hard
// error: the offending SQL text is included in the error message, matching
// the reference library's "store the offending SQL in the error state"
// behavior.
func (c *stmtCache) Prepare(conn *sql.DB, sqlText string) (*Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byKey[sqlText]; ok {
		if s.loaned {
			return nil, errs.New(errs.Misuse, "statement already on loan: %s", sqlText)
		}
		s.loaned = true
		return s, nil
	}
	prep, err := conn.Prepare(sqlText)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "prepare failed: %s", sqlText)
	}
	s := &Stmt{sql: sqlText, prep: prep, cache: c, loaned: true}
	c.byKey[sqlText] = s
	return s, nil
}

// CloseAll closes every cached statement. Call during DB.Close.
func (c *stmtCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.byKey {
		s.prep.Close()
		delete(c.byKey, k)
	}
}

// Prepare is DB's convenience wrapper over the internal statement cache.
func (d *DB) Prepare(sqlText string) (*Stmt, error) {
	return d.stmts.Prepare(d.conn, sqlText)
}
