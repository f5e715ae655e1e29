package repo

import (
	"io"
	"os"
	"path/filepath"
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

func TestCreateThenOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.fsl")

	r, err := Create(testLogger(), CreateOptions{
		Filename:      path,
		Username:      "alice",
		CommitMessage: "egg",
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(testLogger(), path)
	require.NoError(t, err)
	defer r2.Close()

	assert.Equal(t, r.ProjectCode, r2.ProjectCode)
	assert.NotNil(t, r2.Blobs)
	assert.NotNil(t, r2.Crosslinks)
}

func TestCreateRefusesOverwriteByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.fsl")
	require.NoError(t, os.WriteFile(path, []byte("not a repo"), 0o644))

	_, err := Create(testLogger(), CreateOptions{Filename: path})
	require.Error(t, err)
	assert.Equal(t, errs.AlreadyExists, errs.KindOf(err))
}

func TestCreateAllowOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.fsl")
	require.NoError(t, os.WriteFile(path, []byte("not a repo"), 0o644))

	r, err := Create(testLogger(), CreateOptions{Filename: path, AllowOverwrite: true})
	require.NoError(t, err)
	defer r.Close()
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(testLogger(), filepath.Join(t.TempDir(), "nope.fsl"))
	require.Error(t, err)
	assert.Equal(t, errs.NotARepo, errs.KindOf(err))
}

func TestFindCheckoutDirWalksUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, CheckoutMarker), []byte(""), 0o644))
	sub := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	found, err := FindCheckoutDir(sub)
	require.NoError(t, err)

	rootAbs, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, rootAbs, found)
}

func TestFindCheckoutDirNotFound(t *testing.T) {
	_, err := FindCheckoutDir(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errs.NotACkout, errs.KindOf(err))
}
