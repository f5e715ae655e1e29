package blobstore

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/errs"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openStore(t *testing.T, policy HashPolicy) *Store {
	t.Helper()
	db, err := dbkit.Open(testLogger(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Attach(dbkit.RoleRepository, ":memory:"))
	s, err := New(db, db.SchemaName(dbkit.RoleRepository), testLogger(), policy)
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openStore(t, PolicySHA1Only)
	rid, uuid, err := s.Put([]byte("hello world"), PutOptions{})
	require.NoError(t, err)
	assert.NotZero(t, rid)
	assert.Len(t, uuid, 40)

	got, err := s.Get(rid)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestPutIsIdempotentByHash(t *testing.T) {
	s := openStore(t, PolicySHA1Only)
	rid1, uuid1, err := s.Put([]byte("same content"), PutOptions{})
	require.NoError(t, err)
	rid2, uuid2, err := s.Put([]byte("same content"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, rid1, rid2)
	assert.Equal(t, uuid1, uuid2)
}

func TestPutPhantomThenFill(t *testing.T) {
	s := openStore(t, PolicySHA1Only)
	uuid := "da39a3ee5e6b4b0d3255bfef95601890afd80709" // sha1("")
	rid, err := s.PutPhantom(uuid)
	require.NoError(t, err)

	_, err = s.Get(rid)
	require.Error(t, err)
	assert.Equal(t, errs.Phantom, errs.KindOf(err))

	filledRid, filledUUID, err := s.Put([]byte(""), PutOptions{UUID: uuid})
	require.NoError(t, err)
	assert.Equal(t, rid, filledRid)
	assert.Equal(t, uuid, filledUUID)

	data, err := s.Get(rid)
	require.NoError(t, err)
	assert.Equal(t, "", string(data))
}

func TestDeltifyUndeltifyRoundTrip(t *testing.T) {
	s := openStore(t, PolicySHA1Only)
	src := strings.Repeat("abcdefgh", 20)
	dst := src + strings.Repeat("Z", 10)

	srcRid, _, err := s.Put([]byte(src), PutOptions{})
	require.NoError(t, err)
	dstRid, _, err := s.Put([]byte(dst), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Deltify(dstRid, srcRid, false))
	got, err := s.Get(dstRid)
	require.NoError(t, err)
	assert.Equal(t, dst, string(got))

	require.NoError(t, s.Undeltify(dstRid))
	got, err = s.Get(dstRid)
	require.NoError(t, err)
	assert.Equal(t, dst, string(got))
}

func TestVerifyPendingDetectsNothingWrongOnHappyPath(t *testing.T) {
	s := openStore(t, PolicySHA1Only)
	_, _, err := s.Put([]byte("content one"), PutOptions{})
	require.NoError(t, err)
	_, _, err = s.Put([]byte("content two"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.PendingCount())
	require.NoError(t, s.VerifyPending())
	assert.Equal(t, 0, s.PendingCount())
}

func TestSHA3OnlyRefusesSHA1(t *testing.T) {
	s := openStore(t, PolicySHA3Only)
	_, uuid, err := s.Put([]byte("some content"), PutOptions{})
	require.NoError(t, err)
	assert.Len(t, uuid, 64)
}
