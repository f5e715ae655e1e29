package dbkit

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/errs"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openMem(t *testing.T) *DB {
	t.Helper()
	d, err := Open(testLogger(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAttachDetach(t *testing.T) {
	d := openMem(t)
	require.NoError(t, d.Attach(RoleRepository, ":memory:"))
	assert.Equal(t, "repository", d.SchemaName(RoleRepository))
	require.NoError(t, d.Detach(RoleRepository))
	assert.Equal(t, "", d.SchemaName(RoleRepository))
}

func TestNestedTransactionCommit(t *testing.T) {
	d := openMem(t)
	_, err := d.conn.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, d.Begin())
	require.NoError(t, d.Begin())
	_, err = d.conn.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, d.End()) // inner End: no-op besides depth
	assert.True(t, d.InTransaction())
	require.NoError(t, d.End()) // outer End: commits
	assert.False(t, d.InTransaction())

	var n int
	require.NoError(t, d.conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNestedTransactionPoisonRollsBackAtOuterEnd(t *testing.T) {
	d := openMem(t)
	_, err := d.conn.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, d.Begin())
	require.NoError(t, d.Begin())
	_, err = d.conn.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	d.RequestRollback()
	require.NoError(t, d.End())
	require.NoError(t, d.End())

	var n int
	require.NoError(t, d.conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestRollbackForceDropsAllNesting(t *testing.T) {
	d := openMem(t)
	_, err := d.conn.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, d.Begin())
	require.NoError(t, d.Begin())
	require.NoError(t, d.Begin())
	_, err = d.conn.Exec("INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, d.RollbackForce())
	assert.False(t, d.InTransaction())

	var n int
	require.NoError(t, d.conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestPreCommitQueueRunsBeforeCommit(t *testing.T) {
	d := openMem(t)
	_, err := d.conn.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.NoError(t, d.Begin())
	d.QueuePreCommit("INSERT INTO t VALUES (42)")
	require.NoError(t, d.End())

	var n int
	require.NoError(t, d.conn.QueryRow("SELECT v FROM t").Scan(&n))
	assert.Equal(t, 42, n)
}

func TestStmtCacheLoanGuard(t *testing.T) {
	d := openMem(t)
	_, err := d.conn.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	s1, err := d.Prepare("SELECT v FROM t")
	require.NoError(t, err)

	_, err = d.Prepare("SELECT v FROM t")
	require.Error(t, err)
	assert.Equal(t, errs.Misuse, errs.KindOf(err))

	s1.Release()
	s2, err := d.Prepare("SELECT v FROM t")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestCaseInsensitiveFilenamesCollation(t *testing.T) {
	d := openMem(t)
	assert.Equal(t, "", d.Collation())
	d.SetCaseInsensitiveFilenames(true)
	assert.Equal(t, "COLLATE NOCASE", d.Collation())
}
