package deltakit

import (
	"strings"
	"testing"

	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateApplyRoundTrip(t *testing.T) {
	cases := []struct{ src, dst string }{
		{"", ""},
		{"", "hello"},
		{"hello", ""},
		{"hello world", "hello world"},
		{strings.Repeat("x", 10000), strings.Repeat("x", 10000) + "Y"},
		{"the quick brown fox", "the slow brown ox jumped"},
	}
	for _, c := range cases {
		d := Create([]byte(c.src), []byte(c.dst))
		out, err := Apply([]byte(c.src), d)
		require.NoError(t, err)
		assert.Equal(t, c.dst, string(out))

		n, err := AppliedSize(d)
		require.NoError(t, err)
		assert.Equal(t, len(c.dst), n)
	}
}

func TestDeltaIsCompact(t *testing.T) {
	src := strings.Repeat("x", 10000)
	dst := src + "Y"
	d := Create([]byte(src), []byte(dst))
	assert.Less(t, len(d), len(dst)/4)
}

func TestMalformedDeltaErrorKinds(t *testing.T) {
	good := Create([]byte("abcdefgh"), []byte("abcdefghij"))

	// Corrupt the separator after the header size.
	bad := append([]byte{}, good...)
	bad[bytes_indexByte(bad, '\n')] = 'X'
	_, err := Apply([]byte("abcdefgh"), bad)
	require.Error(t, err)

	// Truncate to break the terminator.
	trunc := good[:len(good)-1]
	_, err = Apply([]byte("abcdefgh"), trunc)
	require.Error(t, err)

	// Invalid operator.
	badOp := []byte("0\na#")
	_, err = Apply([]byte("abcdefgh"), badOp)
	require.Error(t, err)
	assert.Equal(t, errs.DeltaInvalidOperator, errs.KindOf(err))
}

func bytes_indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
