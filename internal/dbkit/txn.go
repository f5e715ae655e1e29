package dbkit

import (
	"github.com/rcowham/fossil-go/internal/errs"
)

// Begin opens a nested transaction. The outermost Begin issues a real SQL
// BEGIN; inner calls only bump the depth counter, matching the reference
// library's "nestable transaction" behavior where only the outer scope
// talks to the database.
func (d *DB) Begin() error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	if d.txDepth == 0 {
		if _, err := d.conn.Exec("BEGIN"); err != nil {
			return errs.Wrap(errs.DB, err, "begin")
		}
		d.txPoisoned = false
		d.preCommit = nil
	}
	d.txDepth++
	return nil
}

// End closes one nesting level. If any level within the transaction called
// RequestRollback, the whole transaction rolls back once depth reaches
// zero; otherwise it commits, running any queued pre-commit SQL first.
func (d *DB) End() error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	if d.txDepth == 0 {
		return errs.New(errs.Misuse, "End called with no open transaction")
	}
	d.txDepth--
	if d.txDepth > 0 {
		return nil
	}
	if d.txPoisoned {
		_, err := d.conn.Exec("ROLLBACK")
		d.txPoisoned = false
		d.preCommit = nil
		if err != nil {
			return errs.Wrap(errs.DB, err, "rollback")
		}
		return nil
	}
	for _, q := range d.preCommit {
		if _, err := d.conn.Exec(q); err != nil {
			d.preCommit = nil
			d.conn.Exec("ROLLBACK")
			return errs.Wrap(errs.DB, err, "pre-commit statement: %s", q)
		}
	}
	d.preCommit = nil
	if _, err := d.conn.Exec("COMMIT"); err != nil {
		return errs.Wrap(errs.DB, err, "commit")
	}
	return nil
}

// RequestRollback poisons the current transaction: it will still run End
// calls at every nested level, but the outermost End rolls back instead of
// committing. It does not itself unwind the stack.
func (d *DB) RequestRollback() {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	d.txPoisoned = true
}

// RollbackForce unconditionally drops the transaction depth to zero and
// rolls back immediately, regardless of nesting. Used on unrecoverable
// errors where unwinding one level at a time is pointless.
func (d *DB) RollbackForce() error {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	if d.txDepth == 0 {
		return nil
	}
	d.txDepth = 0
	d.txPoisoned = false
	d.preCommit = nil
	if _, err := d.conn.Exec("ROLLBACK"); err != nil {
		return errs.Wrap(errs.DB, err, "rollback_force")
	}
	return nil
}

// InTransaction reports whether a transaction is currently open.
func (d *DB) InTransaction() bool {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	return d.txDepth > 0
}

// QueuePreCommit appends sqlText to the queue of statements run just before
// the outermost transaction commits. Used for deferred index maintenance
// and crosslink bookkeeping that only needs to happen once per transaction
// no matter how many nested scopes touched the affected rows.
func (d *DB) QueuePreCommit(sqlText string) {
	d.txMu.Lock()
	defer d.txMu.Unlock()
	d.preCommit = append(d.preCommit, sqlText)
}
