package checkout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/crosslink"
	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/deck"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// harness bundles everything one checkout test needs: an attached repo +
// checkout pair of schemas, a blob store, and an Engine rooted at a fresh
// temp directory standing in for the working copy.
type harness struct {
	t     *testing.T
	db    *dbkit.DB
	blobs *blobstore.Store
	eng   *Engine
	root  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := dbkit.Open(testLogger(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Attach(dbkit.RoleRepository, ":memory:"))
	require.NoError(t, db.Attach(dbkit.RoleCheckout, ":memory:"))

	repoSchema := db.SchemaName(dbkit.RoleRepository)
	ckoutSchema := db.SchemaName(dbkit.RoleCheckout)

	blobs, err := blobstore.New(db, repoSchema, testLogger(), blobstore.PolicySHA1Only)
	require.NoError(t, err)

	cl, err := crosslink.New(db, repoSchema, testLogger(), blobs)
	require.NoError(t, err)

	root := t.TempDir()
	eng, err := New(db, ckoutSchema, repoSchema, blobs, testLogger(), root)
	require.NoError(t, err)
	eng.Crosslinks = cl

	return &harness{t: t, db: db, blobs: blobs, eng: eng, root: root}
}

// commit builds and stores a checkin artifact with the given files
// (path -> content) and optional parent uuid, returning its rid and uuid.
func (h *harness) commit(parentUUID string, files map[string]string) (int64, string) {
	h.t.Helper()
	d := deck.New(deck.SatypeCheckin)
	d.D = 2459000.5
	d.U = "alice"
	if parentUUID != "" {
		d.P = []string{parentUUID}
	}
	for name, content := range files {
		_, uuid, err := h.blobs.Put([]byte(content), blobstore.PutOptions{})
		require.NoError(h.t, err)
		require.NoError(h.t, d.FSet(name, uuid, ""))
	}
	data, err := d.Bytes()
	require.NoError(h.t, err)
	rid, uuid, err := h.blobs.Put(data, blobstore.PutOptions{})
	require.NoError(h.t, err)
	return rid, uuid
}

func TestPopulateVfileThenChangesScanClean(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello", "b.txt": "world"})

	require.NoError(t, h.eng.PopulateVfile(rid))

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, "b.txt"), []byte("world"), 0o644))

	results, err := h.eng.ChangesScan(rid, ScanFlags{Hash: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Modified, r.Pathname)
		assert.False(t, r.Missing, r.Pathname)
	}
}

func TestChangesScanDetectsModificationAndMissing(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello", "b.txt": "world"})
	require.NoError(t, h.eng.PopulateVfile(rid))

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("hello, edited"), 0o644))
	// b.txt left missing entirely

	results, err := h.eng.ChangesScan(rid, ScanFlags{Hash: true})
	require.NoError(t, err)

	byName := map[string]ScanResult{}
	for _, r := range results {
		byName[r.Pathname] = r
	}
	assert.True(t, byName["a.txt"].Modified)
	assert.True(t, byName["b.txt"].Missing)
}

func TestCheckoutFullExtract(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello", "sub/c.txt": "nested"})

	report, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub/c.txt"}, report.Written)

	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got, err = os.ReadFile(filepath.Join(h.root, "sub", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(got))

	v, ok, err := h.eng.vvarGet("checkout")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%d", rid), v)
}

func TestManageAddsNewFile(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "new.txt"), []byte("fresh"), 0o644))

	opt := &ManageOptions{Filename: "."}
	require.NoError(t, h.eng.Manage(opt))
	assert.Equal(t, 1, opt.Added)
}

func TestManageSkipsIgnoredNames(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "build.log"), []byte("junk"), 0o644))

	opt := &ManageOptions{Filename: ".", IgnoreGlobs: []string{"*.log"}}
	require.NoError(t, h.eng.Manage(opt))
	assert.Equal(t, 0, opt.Added)
	assert.Equal(t, 1, opt.Skipped)
}

func TestManageSkipsCaseCollisionWhenCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"README.txt": "hello"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)
	h.db.SetCaseInsensitiveFilenames(true)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "readme.txt"), []byte("other casing"), 0o644))

	opt := &ManageOptions{Filename: "readme.txt"}
	require.NoError(t, h.eng.Manage(opt))
	assert.Equal(t, 0, opt.Added)
	assert.Equal(t, 1, opt.Skipped)
}

func TestRevertRestoresCommittedContent(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("edited"), 0o644))
	_, err = h.eng.ChangesScan(rid, ScanFlags{Hash: true})
	require.NoError(t, err)

	require.NoError(t, h.eng.Revert(&RevertOptions{Filename: "a.txt"}))

	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestUnmanageDropsUncommittedAddOutright(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "hello"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "new.txt"), []byte("fresh"), 0o644))
	require.NoError(t, h.eng.Manage(&ManageOptions{Filename: "new.txt"}))

	require.NoError(t, h.eng.Unmanage(&UnmanageOptions{Filename: "new.txt"}))

	var count int
	err = h.db.Raw().QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s.vfile WHERE pathname='new.txt'", h.eng.Schema)).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateCleanFastForward(t *testing.T) {
	h := newHarness(t)
	rid1, uuid1 := h.commit("", map[string]string{"a.txt": "v1"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid1})
	require.NoError(t, err)

	rid2, _ := h.commit(uuid1, map[string]string{"a.txt": "v2"})

	results, err := h.eng.Update(rid2)
	require.NoError(t, err)

	byName := map[string]ChangeKind{}
	for _, r := range results {
		byName[r.Pathname] = r.Kind
	}
	assert.Equal(t, ChangeUpdated, byName["a.txt"])

	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	v, ok, err := h.eng.vvarGet("checkout")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%d", rid2), v)
}

func TestUpdateMergesNonConflictingLocalEdit(t *testing.T) {
	h := newHarness(t)
	rid1, uuid1 := h.commit("", map[string]string{"a.txt": "line1\nline2\nline3\n"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid1})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("line1 local\nline2\nline3\n"), 0o644))

	rid2, _ := h.commit(uuid1, map[string]string{"a.txt": "line1\nline2\nline3 target\n"})

	results, err := h.eng.Update(rid2)
	require.NoError(t, err)

	byName := map[string]ChangeKind{}
	for _, r := range results {
		byName[r.Pathname] = r.Kind
	}
	assert.Equal(t, ChangeMerged, byName["a.txt"])

	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line1 local\nline2\nline3 target\n", string(got))
}

func TestUpdateConflictingEditProducesMarkers(t *testing.T) {
	h := newHarness(t)
	rid1, uuid1 := h.commit("", map[string]string{"a.txt": "line1\n"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid1})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("local change\n"), 0o644))

	rid2, _ := h.commit(uuid1, map[string]string{"a.txt": "target change\n"})

	results, err := h.eng.Update(rid2)
	require.NoError(t, err)

	byName := map[string]ChangeKind{}
	for _, r := range results {
		byName[r.Pathname] = r.Kind
	}
	assert.Equal(t, ChangeConflictMerged, byName["a.txt"])

	got, err := os.ReadFile(filepath.Join(h.root, "a.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "<<<<<<< local")
	assert.Contains(t, string(got), ">>>>>>> target")
}

func TestFingerprintMissingIsTolerated(t *testing.T) {
	h := newHarness(t)
	mismatch, err := h.eng.CheckFingerprint()
	require.NoError(t, err)
	assert.False(t, mismatch)
}

func TestCommitAddsNewFile(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "b.txt"), []byte("hello\n"), 0o644))
	require.NoError(t, h.eng.Manage(&ManageOptions{Filename: "b.txt"}))

	report, err := h.eng.Commit(CommitOptions{Message: "add b", User: "alice"})
	require.NoError(t, err)
	assert.NotZero(t, report.Rid)
	assert.NotEqual(t, rid, report.Rid)

	d, err := h.eng.loadCheckin(report.Rid)
	require.NoError(t, err)
	assert.Equal(t, "add b", d.C)
	assert.Equal(t, "alice", d.U)
	require.Len(t, d.Fcards, 1)
	assert.Equal(t, "b.txt", d.Fcards[0].Name)
	require.Len(t, d.P, 1)

	results, err := h.eng.ChangesScan(report.Rid, ScanFlags{Hash: true})
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.Modified, r.Pathname)
	}
}

func TestCommitFoldsEditAndDelete(t *testing.T) {
	h := newHarness(t)
	rid, _ := h.commit("", map[string]string{"a.txt": "v1", "b.txt": "keep"})
	_, err := h.eng.Checkout(CkoutOptions{TargetRid: rid})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(h.root, "a.txt"), []byte("v2"), 0o644))
	_, err = h.eng.ChangesScan(rid, ScanFlags{Hash: true})
	require.NoError(t, err)
	require.NoError(t, h.eng.Unmanage(&UnmanageOptions{Filename: "b.txt"}))

	report, err := h.eng.Commit(CommitOptions{Message: "edit a, drop b", User: "alice"})
	require.NoError(t, err)

	d, err := h.eng.loadCheckin(report.Rid)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range d.Fcards {
		names[f.Name] = true
	}
	assert.True(t, names["a.txt"])
	assert.False(t, names["b.txt"])

	var count int
	require.NoError(t, h.db.Raw().QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s.vfile WHERE pathname='b.txt'", h.eng.Schema)).Scan(&count))
	assert.Zero(t, count)
}
