package repo

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/blobstore"
)

func TestDeltifyStoresAgainstPrimaryParent(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(testLogger(), CreateOptions{Filename: filepath.Join(dir, "r.fsl"), Username: "alice"})
	require.NoError(t, err)
	defer r.Close()

	srcContent := strings.Repeat("A", 200)
	newContent := srcContent + "tail change"

	parentRid, _, err := r.Blobs.Put([]byte(srcContent), blobstore.PutOptions{})
	require.NoError(t, err)

	childRid, _, err := r.Blobs.Put([]byte(newContent), blobstore.PutOptions{})
	require.NoError(t, err)

	_, err = r.DB.Raw().Exec(
		fmt.Sprintf("INSERT INTO %s.plink(cid, pid, isprim) VALUES (?, ?, 1)", r.Schema),
		childRid, parentRid)
	require.NoError(t, err)

	done, err := r.Deltify(childRid)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	var srcid int64
	err = r.DB.Raw().QueryRow(
		fmt.Sprintf("SELECT srcid FROM %s.delta WHERE rid=?", r.Schema), childRid).Scan(&srcid)
	require.NoError(t, err)
	assert.Equal(t, parentRid, srcid)

	got, err := r.Blobs.Get(childRid)
	require.NoError(t, err)
	assert.Equal(t, newContent, string(got))
}

func TestDeltifySkipsCandidatesWithoutPrimaryParent(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(testLogger(), CreateOptions{Filename: filepath.Join(dir, "r.fsl"), Username: "alice"})
	require.NoError(t, err)
	defer r.Close()

	orphanRid, _, err := r.Blobs.Put([]byte(strings.Repeat("B", 200)), blobstore.PutOptions{})
	require.NoError(t, err)

	done, err := r.Deltify(orphanRid)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
}
