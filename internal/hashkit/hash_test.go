package hashkit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA1Vectors(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Bytes(SHA1, []byte("")))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", Bytes(SHA1, []byte("abc")))
}

func TestSHA3256Vectors(t *testing.T) {
	assert.Equal(t, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", Bytes(SHA3256, []byte("")))
	assert.Equal(t, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532", Bytes(SHA3256, []byte("abc")))
}

func TestCompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("hello world"),
		[]byte(strings.Repeat("x", 100000)),
		[]byte{0, 1, 2, 3, 255, 254},
	}
	for _, c := range cases {
		out, err := Compress(c)
		require.NoError(t, err)
		back, err := Uncompress(out)
		require.NoError(t, err)
		assert.Equal(t, len(c), len(back))
		assert.Equal(t, string(c), string(back))
	}
}

func TestIsCompressed(t *testing.T) {
	out, err := Compress([]byte("some content"))
	require.NoError(t, err)
	assert.True(t, IsCompressed(out))
	assert.False(t, IsCompressed([]byte("plain text content")))
}

func TestIsFullHashAndPrefix(t *testing.T) {
	assert.True(t, IsFullHash(strings.Repeat("a", 40)))
	assert.True(t, IsFullHash(strings.Repeat("a", 64)))
	assert.False(t, IsFullHash(strings.Repeat("a", 41)))
	assert.True(t, IsPrefix("abcd"))
	assert.False(t, IsPrefix("abc"))
	assert.False(t, IsPrefix("nothex!!"))
}
