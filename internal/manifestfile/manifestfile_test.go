package manifestfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteManifestByteExact(t *testing.T) {
	var buf bytes.Buffer
	w := New("manifest")
	w.SetWriter(&buf)
	require.NoError(t, w.WriteManifest([]byte("C hello\nD 123\n")))
	assert.Equal(t, "C hello\nD 123\n", buf.String())
}

func TestWriteManifestUUID(t *testing.T) {
	var buf bytes.Buffer
	w := New("manifest.uuid")
	w.SetWriter(&buf)
	require.NoError(t, w.WriteManifestUUID("abc123"))
	assert.Equal(t, "abc123\n", buf.String())
}

func TestWriteManifestTagsSorted(t *testing.T) {
	var buf bytes.Buffer
	w := New("manifest.tags")
	w.SetWriter(&buf)
	require.NoError(t, w.WriteManifestTags("trunk", []string{"zeta", "alpha", "mid"}))
	assert.Equal(t, "branch trunk\ntag alpha\ntag mid\ntag zeta\n", buf.String())
}

func TestParseModeAliases(t *testing.T) {
	assert.Equal(t, Mode{}, ParseMode(""))
	assert.Equal(t, Mode{Raw: true, UUID: true}, ParseMode("on"))
	assert.Equal(t, Mode{Raw: true, UUID: true}, ParseMode("1"))
	assert.Equal(t, Mode{Tags: true}, ParseMode("t"))
	assert.True(t, ParseMode("on").Any())
	assert.False(t, ParseMode("").Any())
}
