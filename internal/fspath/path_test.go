package fspath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinParentRoundtrip(t *testing.T) {
	p := New("/a/b")
	joined := p.Join("c")
	assert.True(t, joined.Parent().Equal(p))
	assert.Equal(t, "c", joined.FileName())
}

func TestEqualityCollapsesSeparators(t *testing.T) {
	a := New("/a/b")
	b := New("/a//b")
	assert.True(t, a.Equal(b))

	c, err := New("/a/./b").Normalize()
	require.NoError(t, err)
	assert.True(t, a.Equal(c))
}

func TestNormalizeResolvesDotDot(t *testing.T) {
	p := New("/a/b/../c")
	n, err := p.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "/a/c", n.Display())
}

func TestNormalizeEscapeIsIllegal(t *testing.T) {
	p := New("/a/../..")
	_, err := p.Normalize()
	assert.ErrorIs(t, err, ErrIllegal)
}

func TestNormalizeIdempotentAndPreservesAbsoluteness(t *testing.T) {
	for _, raw := range []string{"/a/b/c", "a/b/../c", "/"} {
		p := New(raw)
		n1, err := p.Normalize()
		require.NoError(t, err)
		n2, err := n1.Normalize()
		require.NoError(t, err)
		assert.True(t, n1.Equal(n2))
		assert.Equal(t, p.IsAbsolute(), n1.IsAbsolute())
	}
}

func TestIsRoot(t *testing.T) {
	assert.True(t, New("/").IsRoot())
	assert.False(t, New("/a").IsRoot())
	assert.False(t, New("a").IsRoot())
}

func TestCompareOrdersByteWise(t *testing.T) {
	assert.True(t, New("/a").Compare(New("/b")) < 0)
	assert.True(t, New("/a").Compare(New("/a/b")) < 0)
	assert.Equal(t, 0, New("/a/b").Compare(New("/a//b")))
}

func TestWithoutRoot(t *testing.T) {
	p := New("/a/b").WithoutRoot()
	assert.False(t, p.IsAbsolute())
	assert.Equal(t, "a/b", p.Display())
}
