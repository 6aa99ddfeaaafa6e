// Package mapstream implements the Map stream (spec §4.6, C7): a
// sparse, interpolated offset translator from logical stream bytes to
// (target-URN, target-offset), with optional periodic repetition for
// RAID-style composition.
//
// Grounded on original_source/lib/map.c's MapValue_get_range
// (bisect-left/bisect-right interpolation around a sorted point
// table), translated from its long-jump error style to ordinary
// fallible returns (spec §9), and on rclone's backend/chunker for the
// "resolve a byte range into an underlying object, then delegate the
// read" shape.
package mapstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4io"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/resolver"
)

// DefaultBlockSize is spec §4.6's blocksize multiplier default.
const DefaultBlockSize = 1

// Unset marks image_period/target_period as "infinity" (spec §4.6).
const Unset int64 = -1

// Point is one (image_offset, target_offset, target_index) map point
// (spec §3 "Map point"). Offsets are held in bytes; the serialised form
// stores them in units of blockSize.
type Point struct {
	ImageOffset  int64
	TargetOffset int64
	TargetIndex  int
}

// TargetOpener resolves a target URN to a stream this map can read
// from. The caller supplies it (typically the facade's resolver-backed
// Open) so mapstream does not need to know about every possible
// concrete stream type.
type TargetOpener func(urn aff4rdf.URN) (io.ReaderAt, func() error, error)

// Map is the map stream object (spec C7).
type Map struct {
	r         *resolver.Resolver
	vol       aff4io.Volume
	volumeURN aff4rdf.URN
	urn       aff4rdf.URN

	points      []Point // sorted by ImageOffset; ties last-wins on insertion (spec §3)
	targets     []aff4rdf.URN
	targetIndex map[aff4rdf.URN]int

	size         int64
	blockSize    int64
	imagePeriod  int64
	targetPeriod int64

	open TargetOpener

	// padOnMissing makes reads of an unreachable target return zero
	// fill instead of surfacing the error (spec §4.6 failure semantics).
	padOnMissing bool

	writable bool
	closed   bool
}

// New creates an empty, writable map stream hosted by vol (points are
// added with AddPoint, then Close persists it).
func New(r *resolver.Resolver, vol aff4io.Volume, volumeURN, urn aff4rdf.URN, open TargetOpener) *Map {
	m := &Map{
		r: r, vol: vol, volumeURN: volumeURN, urn: urn, open: open, writable: true,
		blockSize: DefaultBlockSize, imagePeriod: Unset, targetPeriod: Unset,
		targetIndex: make(map[aff4rdf.URN]int),
	}
	r.Store.Set(urn, aff4rdf.PredStored, aff4rdf.URNValue(volumeURN))
	r.Store.Set(urn, aff4rdf.PredType, aff4rdf.String(aff4rdf.TypeMap))
	return m
}

// SetSize fixes the map's logical length.
func (m *Map) SetSize(size int64) { m.size = size }

// SetPeriods sets the RAID-style periodic repetition (spec §4.6). Pass
// Unset for either to disable periodicity (the default).
func (m *Map) SetPeriods(imagePeriod, targetPeriod int64) {
	m.imagePeriod, m.targetPeriod = imagePeriod, targetPeriod
}

// SetBlockSize sets the unit that multiplies on-disk offsets (spec
// §4.6); defaults to 1 (byte-granular).
func (m *Map) SetBlockSize(b int64) {
	if b <= 0 {
		b = DefaultBlockSize
	}
	m.blockSize = b
}

// targetFor returns the index for urn, interning it into the target
// table if new. An empty URN is the sparse sentinel (spec §3/§4.6) and
// is interned like any other (it still needs a stable index).
func (m *Map) targetFor(urn aff4rdf.URN) int {
	if idx, ok := m.targetIndex[urn]; ok {
		return idx
	}
	idx := len(m.targets)
	m.targets = append(m.targets, urn)
	m.targetIndex[urn] = idx
	return idx
}

// AddPoint inserts or replaces the map point at imageOffset (spec §3:
// "ties are resolved last-wins on insertion"), keeping points sorted.
func (m *Map) AddPoint(imageOffset, targetOffset int64, target aff4rdf.URN) {
	idx := m.targetFor(target)
	p := Point{ImageOffset: imageOffset, TargetOffset: targetOffset, TargetIndex: idx}
	for i, existing := range m.points {
		if existing.ImageOffset == imageOffset {
			m.points[i] = p
			return
		}
	}
	i := sort.Search(len(m.points), func(i int) bool { return m.points[i].ImageOffset >= imageOffset })
	m.points = append(m.points, Point{})
	copy(m.points[i+1:], m.points[i:])
	m.points[i] = p
}

// SetPadOnMissing enables zero-fill for reads from an unreachable
// target instead of surfacing the read error (spec §4.6).
func (m *Map) SetPadOnMissing(pad bool) { m.padOnMissing = pad }

// Size returns the map's logical length.
func (m *Map) Size() int64 { return m.size }

// Close persists the map's points as the CSV-ish text segment
// "<stream>/map" and its size/period/blocksize attributes (spec
// §4.6 "Persistence"). Closing an already-closed map, or a read-only
// one materialised by Open, is a no-op (spec §8 invariant 9); the
// resolver's object cache calls this same zero-argument Close when it
// evicts a borrowed map object, same as every other StreamObject.
func (m *Map) Close() error {
	if m.closed || !m.writable {
		m.closed = true
		return nil
	}
	m.closed = true

	body := m.serialise()
	name := m.urn.RelativeTo(m.volumeURN) + "/map"
	w, err := m.vol.OpenMemberW(name, aff4io.Deflate)
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return &aff4errors.IoError{Op: "write", Errno: err}
	}
	if err := w.Close(); err != nil {
		return err
	}

	m.r.Store.Set(m.urn, aff4rdf.PredSize, aff4rdf.Integer(m.size))
	m.r.Store.Set(m.urn, aff4rdf.PredBlockSize, aff4rdf.Integer(m.blockSize))
	m.r.Store.Set(m.urn, aff4rdf.PredImagePeriod, aff4rdf.Integer(m.imagePeriod))
	m.r.Store.Set(m.urn, aff4rdf.PredTargetPeriod, aff4rdf.Integer(m.targetPeriod))
	return nil
}

// serialise writes "image_offset,target_offset,target_urn\n" lines,
// eliding points that are linearly related to their predecessor (same
// target, target_offset == prev.target_offset + delta) per spec §4.6.
// Offsets are divided back down into blocks (the inverse of the
// multiply-by-blocksize done on parse).
func (m *Map) serialise() []byte {
	var buf bytes.Buffer
	var prev *Point
	for i := range m.points {
		p := m.points[i]
		if prev != nil && prev.TargetIndex == p.TargetIndex &&
			p.TargetOffset == prev.TargetOffset+(p.ImageOffset-prev.ImageOffset) {
			prev = &m.points[i]
			continue
		}
		fmt.Fprintf(&buf, "%d,%d,%s\n", p.ImageOffset/m.blockSize, p.TargetOffset/m.blockSize, m.targets[p.TargetIndex])
		prev = &m.points[i]
	}
	return buf.Bytes()
}

// Open materialises a previously-closed map stream for reading: it
// resolves size/blocksize/period attributes from the resolver and
// re-reads the "<stream>/map" CSV segment (spec §4.6 "Persistence":
// "decoding re-reads the segment and the period/size attributes").
func Open(r *resolver.Resolver, vol aff4io.Volume, volumeURN, urn aff4rdf.URN, opener TargetOpener) (*Map, error) {
	sizeVal, err := r.Store.ResolveTyped(urn, aff4rdf.PredSize, aff4rdf.KindInteger)
	if err != nil {
		return nil, err
	}
	m := &Map{
		r: r, vol: vol, volumeURN: volumeURN, urn: urn, open: opener,
		size: sizeVal.Int, blockSize: DefaultBlockSize,
		imagePeriod: Unset, targetPeriod: Unset,
		targetIndex: make(map[aff4rdf.URN]int),
	}
	if v, err := r.Store.ResolveValue(urn, aff4rdf.PredBlockSize); err == nil {
		m.blockSize = v.Int
	}
	if v, err := r.Store.ResolveValue(urn, aff4rdf.PredImagePeriod); err == nil {
		m.imagePeriod = v.Int
	}
	if v, err := r.Store.ResolveValue(urn, aff4rdf.PredTargetPeriod); err == nil {
		m.targetPeriod = v.Int
	}

	name := urn.RelativeTo(volumeURN) + "/map"
	reader, err := vol.OpenMemberR(name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(&readerAtWrapper{r: reader})
	if err != nil {
		return nil, err
	}
	if err := m.parse(data); err != nil {
		return nil, err
	}
	return m, nil
}

// readerAtWrapper adapts an io.ReaderAt to io.Reader for io.ReadAll,
// since segment bodies are small enough to slurp in one pass.
type readerAtWrapper struct {
	r   io.ReaderAt
	pos int64
}

func (w *readerAtWrapper) Read(p []byte) (int, error) {
	n, err := w.r.ReadAt(p, w.pos)
	w.pos += int64(n)
	return n, err
}

// parse is the inverse of serialise: it adds each listed point, scaling
// offsets by blockSize. Points that serialise elided are not re-created;
// resolution interpolates them from the preceding listed point.
func (m *Map) parse(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return &aff4errors.InvalidFormat{Where: "map csv line: " + line}
		}
		imgOff, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return &aff4errors.InvalidFormat{Where: "map csv image_offset: " + parts[0]}
		}
		tgtOff, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return &aff4errors.InvalidFormat{Where: "map csv target_offset: " + parts[1]}
		}
		target := aff4rdf.NewURN(parts[2])
		m.AddPoint(imgOff*m.blockSize, tgtOff*m.blockSize, target)
	}
	return scanner.Err()
}
