package aff4rdf

import "testing"

import "github.com/stretchr/testify/assert"

func TestNewURNNormalisesDotSegments(t *testing.T) {
	u := NewURN("aff4://volume/a/../b")
	assert.Equal(t, URN("aff4://volume/b"), u)
}

func TestNewURNBareAuthority(t *testing.T) {
	u := NewURN("aff4://volume")
	assert.Equal(t, URN("aff4://volume"), u)
}

func TestNewURNPreservesFragment(t *testing.T) {
	u := NewURN("aff4://volume/a/./b#frag")
	assert.Equal(t, URN("aff4://volume/a/b#frag"), u)
}

func TestJoinThenParentRoundTrips(t *testing.T) {
	base := NewURN("aff4://volume/stream")
	joined := base.Join("map")
	assert.True(t, joined.IsUnder(base))
	assert.Equal(t, "map", joined.RelativeTo(base))
}

func TestJoinThenParentRoundTripsFromBareAuthority(t *testing.T) {
	base := NewURN("aff4://volume")
	joined := base.Join("child")
	assert.Equal(t, base, joined.Join(".."))
}

func TestJoinEmptyComponentIsNoop(t *testing.T) {
	base := NewURN("aff4://volume/stream")
	assert.Equal(t, base, base.Join(""))
}

func TestIsUnderRejectsSiblingPrefix(t *testing.T) {
	a := NewURN("aff4://volume/streamX")
	b := NewURN("aff4://volume/stream")
	assert.False(t, a.IsUnder(b))
}

func TestRelativeToUnrelatedReturnsUnchanged(t *testing.T) {
	a := NewURN("aff4://volume/stream")
	b := NewURN("aff4://other/thing")
	assert.Equal(t, a.String(), a.RelativeTo(b))
}

func TestEmptyURN(t *testing.T) {
	var u URN
	assert.True(t, u.Empty())
	assert.False(t, NewURN("aff4://x").Empty())
}
