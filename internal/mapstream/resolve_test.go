package mapstream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// memTarget is a fixed-content io.ReaderAt standing in for a real
// underlying stream object, so resolution/read tests don't need a
// resolver or volume.
type memTarget struct{ data []byte }

func (m *memTarget) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func newTestMap(targets map[aff4rdf.URN][]byte) *Map {
	opener := func(urn aff4rdf.URN) (io.ReaderAt, func() error, error) {
		data, ok := targets[urn]
		if !ok {
			return nil, nil, assertMissing(urn)
		}
		return &memTarget{data: data}, func() error { return nil }, nil
	}
	return &Map{
		open:        opener,
		blockSize:   DefaultBlockSize,
		imagePeriod: Unset,
		targetPeriod: Unset,
		targetIndex: make(map[aff4rdf.URN]int),
	}
}

type missingTargetError struct{ urn aff4rdf.URN }

func (e missingTargetError) Error() string { return "missing target: " + e.urn.String() }

func assertMissing(urn aff4rdf.URN) error { return missingTargetError{urn} }

func TestMapReadAtContiguousSingleTarget(t *testing.T) {
	targetURN := aff4rdf.NewURN("aff4://volume/disk0")
	content := bytes.Repeat([]byte("0123456789"), 10) // 100 bytes
	m := newTestMap(map[aff4rdf.URN][]byte{targetURN: content})
	m.SetSize(int64(len(content)))
	m.AddPoint(0, 0, targetURN)

	buf := make([]byte, len(content))
	n, err := m.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, content, buf[:n])
}

func TestResolveBackwardInterpolationBeforeFirstPoint(t *testing.T) {
	// Per the spec's resolution rule, a read whose phase precedes the
	// first point extrapolates backwards from point 0 rather than
	// treating the region as sparse: target_offset =
	// points[0].target_offset - (points[0].image_offset - phase).
	targetURN := aff4rdf.NewURN("aff4://volume/disk0")
	m := newTestMap(nil)
	m.SetSize(100)
	m.AddPoint(20, 50, targetURN)

	res := m.resolve(5)
	assert.Equal(t, int64(35), res.targetOffset) // 50 - (20 - 5)
	assert.Equal(t, int64(15), res.availableToRead)
	require.Equal(t, 0, res.targetIndex)
}

func TestMapReadAtSparseHole(t *testing.T) {
	a := aff4rdf.NewURN("aff4://volume/a")
	b := aff4rdf.NewURN("aff4://volume/b")
	m := newTestMap(map[aff4rdf.URN][]byte{
		a: bytes.Repeat([]byte{0x11}, 10),
		b: bytes.Repeat([]byte{0x22}, 10),
	})
	m.SetSize(30)
	m.AddPoint(0, 0, a)
	m.AddPoint(10, 0, aff4rdf.URN("")) // sparse hole
	m.AddPoint(20, 0, b)

	buf := make([]byte, 30)
	n, err := m.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, byte(0x11), buf[0])
	assert.Equal(t, byte(0), buf[15])
	assert.Equal(t, byte(0x22), buf[20])
}

func TestMapReadAtRAID3Periodic(t *testing.T) {
	a := aff4rdf.NewURN("aff4://volume/disk0")
	b := aff4rdf.NewURN("aff4://volume/disk1")
	c := aff4rdf.NewURN("aff4://volume/disk2")
	stripe := int64(10)
	disk := func(fill byte) []byte { return bytes.Repeat([]byte{fill}, 100) }
	m := newTestMap(map[aff4rdf.URN][]byte{a: disk(0xA), b: disk(0xB), c: disk(0xC)})
	m.SetSize(3 * stripe * 3) // three full periods across three disks
	m.SetPeriods(3*stripe, stripe)
	m.AddPoint(0*stripe, 0, a)
	m.AddPoint(1*stripe, 0, b)
	m.AddPoint(2*stripe, 0, c)

	buf := make([]byte, 3*stripe*3)
	n, err := m.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	// Second period's first stripe reads from disk0 at target_offset
	// stripe (periodNumber=1 * targetPeriod=stripe).
	assert.Equal(t, byte(0xA), buf[3*stripe])
	assert.Equal(t, byte(0xB), buf[4*stripe])
	assert.Equal(t, byte(0xC), buf[5*stripe])
}

func TestMapReadAtPastEndOfStreamIsEOF(t *testing.T) {
	targetURN := aff4rdf.NewURN("aff4://volume/disk0")
	m := newTestMap(map[aff4rdf.URN][]byte{targetURN: bytes.Repeat([]byte{1}, 10)})
	m.SetSize(10)
	m.AddPoint(0, 0, targetURN)

	buf := make([]byte, 5)
	_, err := m.ReadAt(buf, 10)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMapSerialiseParseRoundTrip(t *testing.T) {
	a := aff4rdf.NewURN("aff4://volume/disk0")
	b := aff4rdf.NewURN("aff4://volume/disk1")
	m := newTestMap(nil)
	m.SetSize(1000)
	m.AddPoint(0, 0, a)
	m.AddPoint(100, 0, b)
	m.AddPoint(200, 100, a)

	body := m.serialise()

	m2 := newTestMap(nil)
	m2.SetSize(m.size) // parse only reconstructs points; size is a separate stored attribute
	require.NoError(t, m2.parse(body))

	assert.Equal(t, m.resolve(50), m2.resolve(50))
	assert.Equal(t, m.resolve(150), m2.resolve(150))
	assert.Equal(t, m.resolve(250), m2.resolve(250))
}
