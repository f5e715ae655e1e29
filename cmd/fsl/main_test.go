package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.Level = logrus.PanicLevel
	return l
}

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestNewOpenAddCommitGraphRoundTrip(t *testing.T) {
	logger := testLogger()
	work := t.TempDir()
	repoFile := filepath.Join(work, "test.fossil")

	require.NoError(t, runNew(logger, repoFile, "alice", "initial import", ""))

	ckoutDir := filepath.Join(work, "ckout")
	require.NoError(t, os.MkdirAll(ckoutDir, 0o755))
	chdir(t, ckoutDir)

	require.NoError(t, runOpen(logger, "", repoFile, "tip"))

	require.NoError(t, os.WriteFile(filepath.Join(ckoutDir, "a.txt"), []byte("hello\n"), 0o644))
	require.NoError(t, runAdd(logger, "", []string{"a.txt"}))

	require.NoError(t, runCommit(logger, "", "add a.txt", "alice", "", false))

	dotFile := filepath.Join(work, "graph.dot")
	require.NoError(t, runGraph(logger, "", "tip", dotFile, 0))

	data, err := os.ReadFile(dotFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "digraph")
}

func TestRmAndRevertRoundTrip(t *testing.T) {
	logger := testLogger()
	work := t.TempDir()
	repoFile := filepath.Join(work, "test.fossil")
	require.NoError(t, runNew(logger, repoFile, "alice", "initial import", ""))

	ckoutDir := filepath.Join(work, "ckout")
	require.NoError(t, os.MkdirAll(ckoutDir, 0o755))
	chdir(t, ckoutDir)
	require.NoError(t, runOpen(logger, "", repoFile, "tip"))

	require.NoError(t, os.WriteFile(filepath.Join(ckoutDir, "b.txt"), []byte("v1\n"), 0o644))
	require.NoError(t, runAdd(logger, "", []string{"b.txt"}))
	require.NoError(t, runCommit(logger, "", "add b.txt", "alice", "", false))

	require.NoError(t, os.WriteFile(filepath.Join(ckoutDir, "c.txt"), []byte("scratch\n"), 0o644))
	require.NoError(t, runAdd(logger, "", []string{"c.txt"}))
	require.NoError(t, runRm(logger, "", []string{"c.txt"}))
	require.NoError(t, runCommit(logger, "", "only b.txt", "alice", "", false))

	require.NoError(t, os.WriteFile(filepath.Join(ckoutDir, "b.txt"), []byte("edited\n"), 0o644))
	require.NoError(t, runRevert(logger, "", "b.txt"))
	reverted, err := os.ReadFile(filepath.Join(ckoutDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(reverted))
}
