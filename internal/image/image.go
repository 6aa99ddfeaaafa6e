// Package image implements the chunked Image stream (spec §4.5, C6):
// a write-side pipeline that splits input into fixed-size chunks,
// groups them into bevies, compresses bevies in parallel workers, and
// emits per-bevy index segments; the read side reconstructs arbitrary
// byte ranges.
//
// Grounded on rclone's backend/chunker (splitting a logical object
// into fixed-size pieces materialised as separate remote objects) and
// backend/raid3 (an errgroup/channel-driven worker pool fanning work
// out across goroutines), generalised to this format's bevy-of-chunks
// grouping and FIFO-ticketed volume-lock ordering.
package image

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"runtime"
	"sync"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4io"
	"github.com/CarbonWolf/aff4/internal/aff4log"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/resolver"
)

// Defaults, named directly in spec §4.5.
const (
	DefaultChunkSize       = 32 * 1024
	DefaultChunksInSegment = 2048

	// DefaultWorkers falls back to 2 when GOMAXPROCS is lower, matching
	// spec §5: "size defaulted to the number of hardware contexts,
	// bounded to a minimum of 2."
	DefaultWorkers = 2

	// bevyIndexCacheSize / chunkCacheSize are the read-side LRU cache
	// capacities (spec §4.5 step 3/4), picked the same order of
	// magnitude as resolver.DefaultCacheSize.
	bevyIndexCacheSize = 32
	chunkCacheSize      = 256
)

// Options configures a stream's chunking/compression/concurrency.
type Options struct {
	ChunkSize       int
	ChunksInSegment int
	Compression     aff4io.Compression
	Workers         int
}

func (o *Options) setDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunksInSegment <= 0 {
		o.ChunksInSegment = DefaultChunksInSegment
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
		if o.Workers < DefaultWorkers {
			o.Workers = DefaultWorkers
		}
	}
}

// Image is the chunked stream object (spec C6). The same type serves
// both write and read lifecycles; which operations are valid depends
// on which constructor produced it.
type Image struct {
	r         *resolver.Resolver
	vol       aff4io.Volume
	volumeURN aff4rdf.URN
	urn       aff4rdf.URN
	opts      Options

	// write-side state, guarded by wmu (spec §5: "each image stream has
	// one dedicated write mutex").
	wmu      sync.Mutex
	partial  []byte // bytes of the current, not-yet-chunk-sized tail
	pending  [][]byte
	bevyID   int
	size     int64
	hash     hash.Hash
	writable bool
	closed   bool

	// poisonedErr is set once a write-side worker reports a failure
	// (spec §7: "a Corrupt{urn} during write aborts the current stream
	// and marks its URN as poisoned"); further writes are refused.
	poisonedErr error

	pool *workerPool

	// read-side caches.
	indexCache *resolver.ObjectCache
	chunkCache *resolver.ObjectCache
}

// New begins a fresh write-only Image stream named urn, hosted by vol
// (whose URN is volumeURN). Close must be called to seal size/hash and
// flush the final, possibly short, bevy.
func New(r *resolver.Resolver, vol aff4io.Volume, volumeURN, urn aff4rdf.URN, opts Options) *Image {
	opts.setDefaults()
	img := &Image{
		r: r, vol: vol, volumeURN: volumeURN, urn: urn, opts: opts,
		writable: true,
		hash:     sha256.New(),
	}
	img.pool = newWorkerPool(opts.Workers)
	r.Store.Set(urn, aff4rdf.PredStored, aff4rdf.URNValue(volumeURN))
	r.Store.Set(urn, aff4rdf.PredType, aff4rdf.String(aff4rdf.TypeImage))
	return img
}

// Open materialises a previously-closed Image stream for reading,
// resolving its chunk_size/chunks_in_segment/size/compression
// attributes from the resolver (spec §4.2 open()/load_from()).
func Open(r *resolver.Resolver, vol aff4io.Volume, volumeURN, urn aff4rdf.URN) (*Image, error) {
	sizeVal, err := r.Store.ResolveTyped(urn, aff4rdf.PredSize, aff4rdf.KindInteger)
	if err != nil {
		return nil, err
	}
	chunkSizeVal, err := r.Store.ResolveTyped(urn, aff4rdf.PredChunkSize, aff4rdf.KindInteger)
	if err != nil {
		return nil, err
	}
	chunksInSegVal, err := r.Store.ResolveTyped(urn, aff4rdf.PredChunksInSegment, aff4rdf.KindInteger)
	if err != nil {
		return nil, err
	}
	compression := aff4io.Deflate
	if cv, err := r.Store.ResolveValue(urn, aff4rdf.PredCompression); err == nil {
		compression = aff4io.Compression(cv.Uint)
	}
	opts := Options{ChunkSize: int(chunkSizeVal.Int), ChunksInSegment: int(chunksInSegVal.Int), Compression: compression}
	opts.setDefaults()
	img := &Image{
		r: r, vol: vol, volumeURN: volumeURN, urn: urn, opts: opts,
		size:       sizeVal.Int,
		indexCache: resolver.NewObjectCache(bevyIndexCacheSize, nil),
		chunkCache: resolver.NewObjectCache(chunkCacheSize, nil),
	}
	return img, nil
}

func (img *Image) bevyName(bevyID int) string      { return fmt.Sprintf("%08x", bevyID) }
func (img *Image) idxName(bevyID int) string       { return img.bevyName(bevyID) + ".idx" }
func (img *Image) memberPrefix() string            { return img.urn.RelativeTo(img.volumeURN) }
func (img *Image) bevyMemberName(bevyID int) string { return img.memberPrefix() + "/" + img.bevyName(bevyID) }
func (img *Image) idxMemberName(bevyID int) string  { return img.memberPrefix() + "/" + img.idxName(bevyID) }

// Size returns the stream's logical size: frozen after Close while
// writing, and known immediately when opened for reading.
func (img *Image) Size() int64 {
	img.wmu.Lock()
	defer img.wmu.Unlock()
	return img.size
}

func encodeIndex(offsets []uint32) []byte {
	buf := make([]byte, 4*len(offsets))
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(buf[i*4:], o)
	}
	return buf
}

func decodeIndex(buf []byte) ([]uint32, error) {
	if len(buf)%4 != 0 {
		return nil, &aff4errors.InvalidFormat{Where: "bevy index length not a multiple of 4"}
	}
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}

var _ aff4io.ReaderAtCloser = (*Image)(nil)

func (img *Image) poison(err error) {
	aff4log.Errorf(img.urn, "image stream poisoned: %v", err)
	img.wmu.Lock()
	img.poisonedErr = err
	img.wmu.Unlock()
	img.r.Store.Set(img.urn, aff4rdf.PredType, aff4rdf.String("corrupt"))
	img.r.Evict(img.urn)
}
