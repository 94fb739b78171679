package transforms_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/transform"

	"github.com/momentics/hioload-pipe/transforms"
)

func TestReverse(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"a", "a"},
		{"0123456789", "9876543210"},
		{"ab\x00cd", "dc\x00ba"},
	}
	for _, tc := range cases {
		dst := make([]byte, len(tc.in))
		nDst, nSrc, err := transforms.Reverse{}.Transform(dst, []byte(tc.in), true)
		require.NoError(t, err)
		assert.Equal(t, len(tc.in), nDst)
		assert.Equal(t, len(tc.in), nSrc)
		assert.Equal(t, tc.want, string(dst))
	}
}

func TestReverseShortBuffers(t *testing.T) {
	_, _, err := transforms.Reverse{}.Transform(make([]byte, 3), []byte("abcd"), true)
	assert.ErrorIs(t, err, transform.ErrShortDst)

	_, _, err = transforms.Reverse{}.Transform(make([]byte, 4), []byte("abcd"), false)
	assert.ErrorIs(t, err, transform.ErrShortSrc)
}

func TestReverseBytesInPlace(t *testing.T) {
	b := []byte("hello")
	transforms.ReverseBytes(b, b)
	assert.Equal(t, "olleh", string(b))
}

func TestByName(t *testing.T) {
	assert.Equal(t, []string{"identity", "lower", "reverse", "upper"}, transforms.Names())

	tr, err := transforms.ByName(transforms.Default)
	require.NoError(t, err)
	assert.Equal(t, 10, transforms.OutputSize(tr, 10))

	up, err := transforms.ByName("upper")
	require.NoError(t, err)
	out, _, err := transform.String(up, "hello wörld")
	require.NoError(t, err)
	assert.Equal(t, "HELLO WÖRLD", out)

	_, err = transforms.ByName("rot13")
	assert.Error(t, err)
}
