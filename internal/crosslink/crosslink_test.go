package crosslink

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/deck"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setup(t *testing.T) (*Crosslinker, *blobstore.Store) {
	t.Helper()
	db, err := dbkit.Open(testLogger(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Attach(dbkit.RoleRepository, ":memory:"))
	schema := db.SchemaName(dbkit.RoleRepository)

	blobs, err := blobstore.New(db, schema, testLogger(), blobstore.PolicySHA1Only)
	require.NoError(t, err)
	cl, err := New(db, schema, testLogger(), blobs)
	require.NoError(t, err)
	return cl, blobs
}

func saveCheckin(t *testing.T, blobs *blobstore.Store, d *deck.Deck) (int64, string) {
	t.Helper()
	require.NoError(t, d.Unshuffle(false))
	data, err := d.Bytes()
	require.NoError(t, err)
	rid, uuid, err := blobs.Put(data, blobstore.PutOptions{})
	require.NoError(t, err)
	return rid, uuid
}

func TestCrosslinkRootCheckinCreatesLeafAndEvent(t *testing.T) {
	cl, blobs := setup(t)
	d := deck.New(deck.SatypeCheckin)
	d.D = 2459000.5
	d.U = "alice"
	d.C = "root commit"
	d.Fcards = []deck.FCard{{Name: "a.txt", UUID: "aaaa"}}
	rid, _ := saveCheckin(t, blobs, d)

	require.NoError(t, cl.Crosslink(rid, d))

	var count int
	require.NoError(t, cl.db.Raw().QueryRow(
		"SELECT COUNT(*) FROM repository.leaf WHERE rid=?", rid).Scan(&count))
	assert.Equal(t, 1, count)

	var comment string
	require.NoError(t, cl.db.Raw().QueryRow(
		"SELECT comment FROM repository.event WHERE rid=?", rid).Scan(&comment))
	assert.Equal(t, "root commit", comment)
}

func TestCrosslinkChildRemovesParentFromLeaf(t *testing.T) {
	cl, blobs := setup(t)

	parent := deck.New(deck.SatypeCheckin)
	parent.D = 2459000.5
	parent.U = "alice"
	parent.Fcards = []deck.FCard{{Name: "a.txt", UUID: "aaaa"}}
	parentRid, parentUUID := saveCheckin(t, blobs, parent)
	require.NoError(t, cl.Crosslink(parentRid, parent))

	child := deck.New(deck.SatypeCheckin)
	child.D = 2459001.5
	child.U = "alice"
	child.P = []string{parentUUID}
	child.Fcards = []deck.FCard{{Name: "a.txt", UUID: "aaaa"}}
	childRid, _ := saveCheckin(t, blobs, child)
	require.NoError(t, cl.Crosslink(childRid, child))

	var parentLeafCount int
	require.NoError(t, cl.db.Raw().QueryRow(
		"SELECT COUNT(*) FROM repository.leaf WHERE rid=?", parentRid).Scan(&parentLeafCount))
	assert.Equal(t, 0, parentLeafCount)

	var childLeafCount int
	require.NoError(t, cl.db.Raw().QueryRow(
		"SELECT COUNT(*) FROM repository.leaf WHERE rid=?", childRid).Scan(&childLeafCount))
	assert.Equal(t, 1, childLeafCount)
}
