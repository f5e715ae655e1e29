package symbol

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/dbkit"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupRepo(t *testing.T) *dbkit.DB {
	t.Helper()
	db, err := dbkit.Open(testLogger(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Attach(dbkit.RoleRepository, ":memory:"))
	schema := db.SchemaName(dbkit.RoleRepository)

	stmts := []string{
		"CREATE TABLE repository.blob(rid INTEGER PRIMARY KEY, uuid TEXT UNIQUE)",
		"CREATE TABLE repository.event(rid INTEGER PRIMARY KEY, type TEXT, mtime REAL, user TEXT, comment TEXT)",
		"CREATE TABLE repository.plink(cid INTEGER, pid INTEGER, isprim INTEGER, PRIMARY KEY(cid, pid))",
		"CREATE TABLE repository.tagxref(tagname TEXT, rid INTEGER, tagtype INTEGER, value TEXT, mtime REAL, PRIMARY KEY(tagname, rid))",
	}
	for _, q := range stmts {
		_, err := db.Raw().Exec(q)
		require.NoError(t, err)
	}
	_ = schema
	return db
}

func TestResolveTip(t *testing.T) {
	db := setupRepo(t)
	_, err := db.Raw().Exec("INSERT INTO repository.event(rid, type, mtime) VALUES (1, 'ci', 100), (2, 'ci', 200)")
	require.NoError(t, err)

	r := New(db, "repository")
	rid, err := r.Resolve("tip")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rid)
}

func TestResolveRidSymbol(t *testing.T) {
	db := setupRepo(t)
	r := New(db, "repository")
	rid, err := r.Resolve("rid:42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), rid)
}

func TestResolveHashPrefixAmbiguous(t *testing.T) {
	db := setupRepo(t)
	_, err := db.Raw().Exec("INSERT INTO repository.blob(rid, uuid) VALUES (1, 'abcd1111'), (2, 'abcd2222')")
	require.NoError(t, err)

	r := New(db, "repository")
	_, err = r.Resolve("abcd")
	require.Error(t, err)
}

func TestResolveHashPrefixUnique(t *testing.T) {
	db := setupRepo(t)
	_, err := db.Raw().Exec("INSERT INTO repository.blob(rid, uuid) VALUES (1, 'abcd1111')")
	require.NoError(t, err)

	r := New(db, "repository")
	rid, err := r.Resolve("abcd")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rid)
}

func TestResolveTagByName(t *testing.T) {
	db := setupRepo(t)
	_, err := db.Raw().Exec("INSERT INTO repository.event(rid, type, mtime) VALUES (1, 'ci', 100)")
	require.NoError(t, err)
	_, err = db.Raw().Exec("INSERT INTO repository.tagxref(tagname, rid, tagtype) VALUES ('sym-release-1.0', 1, 2)")
	require.NoError(t, err)

	r := New(db, "repository")
	rid, err := r.Resolve("tag:release-1.0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rid)
}

func TestHistoryBuildsGraph(t *testing.T) {
	db := setupRepo(t)
	_, err := db.Raw().Exec("INSERT INTO repository.event(rid, type, mtime, comment) VALUES (1,'ci',100,'root'), (2,'ci',200,'child')")
	require.NoError(t, err)
	_, err = db.Raw().Exec("INSERT INTO repository.plink(cid, pid, isprim) VALUES (2, 1, 1)")
	require.NoError(t, err)

	r := New(db, "repository")
	g, err := r.History(2, 0)
	require.NoError(t, err)
	assert.Contains(t, g.String(), "root")
	assert.Contains(t, g.String(), "child")
}
