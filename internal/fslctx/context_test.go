package fslctx

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcowham/fossil-go/internal/repo"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestConfigParsesGlobsAndPolicies(t *testing.T) {
	cfg, err := Unmarshal([]byte(`
ignore_glob: "*.o,*.log"
crnl_glob: "*.txt"
binary_glob: "*.png"
hash_policy: sha3-preferred
manifest_mode: ru
`))
	require.NoError(t, err)
	assert.True(t, cfg.IsIgnored("build.o"))
	assert.True(t, cfg.IsIgnored("trace.log"))
	assert.False(t, cfg.IsIgnored("main.go"))
	assert.True(t, cfg.IsCRNL("readme.txt"))
	assert.True(t, cfg.IsBinary("logo.png"))
	assert.True(t, cfg.ParsedManifestMode.Raw)
	assert.True(t, cfg.ParsedManifestMode.UUID)
	assert.False(t, cfg.ParsedManifestMode.Tags)
}

func TestConfigDefaultsOnEmptyInput(t *testing.T) {
	cfg, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.IgnoreGlobs)
	assert.False(t, cfg.IsIgnored("anything"))
}

func TestConfigRejectsUnknownHashPolicy(t *testing.T) {
	_, err := Unmarshal([]byte("hash_policy: bogus\n"))
	require.Error(t, err)
}

func TestCreateCheckoutThenOpenCheckoutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "r.fsl")
	ckoutDir := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(ckoutDir, 0o755))

	r, err := repo.Create(testLogger(), repo.CreateOptions{
		Filename:      repoPath,
		Username:      "alice",
		CommitMessage: "root",
	})
	require.NoError(t, err)

	cx, err := CreateCheckout(testLogger(), r, ckoutDir, nil)
	require.NoError(t, err)
	require.NotNil(t, cx.Checkout)
	require.NoError(t, cx.Close())

	cx2, err := OpenCheckout(testLogger(), ckoutDir, nil)
	require.NoError(t, err)
	defer cx2.Close()
	require.NotNil(t, cx2.Checkout)
	assert.Equal(t, r.ProjectCode, cx2.Repo.ProjectCode)
}

func TestArtifactCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "r.fsl")
	r, err := repo.Create(testLogger(), repo.CreateOptions{Filename: repoPath, Username: "bob"})
	require.NoError(t, err)
	defer r.Close()

	cx, err := New(testLogger(), r, nil)
	require.NoError(t, err)

	_, ok := cx.CachedArtifact(42)
	assert.False(t, ok)
	cx.CacheArtifact(42, []byte("hello"))
	got, ok := cx.CachedArtifact(42)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))
}

func TestScratchBufferReuse(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "r.fsl")
	r, err := repo.Create(testLogger(), repo.CreateOptions{Filename: repoPath, Username: "bob"})
	require.NoError(t, err)
	defer r.Close()

	cx, err := New(testLogger(), r, nil)
	require.NoError(t, err)

	buf := cx.Scratch()
	assert.Len(t, buf, 0)
	buf = append(buf, "data"...)
	cx.ReleaseScratch(buf)

	buf2 := cx.Scratch()
	assert.Len(t, buf2, 0)
}

func TestPendingVerifyRidsDrains(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "r.fsl")
	r, err := repo.Create(testLogger(), repo.CreateOptions{Filename: repoPath, Username: "bob"})
	require.NoError(t, err)
	defer r.Close()

	cx, err := New(testLogger(), r, nil)
	require.NoError(t, err)

	cx.MarkForVerify(1)
	cx.MarkForVerify(2)
	got := cx.PendingVerifyRids()
	assert.ElementsMatch(t, []int64{1, 2}, got)
	assert.Empty(t, cx.PendingVerifyRids())
}
