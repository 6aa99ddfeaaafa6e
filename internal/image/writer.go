package image

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4io"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// workerPool models spec §4.5's free-queue/busy-queue/current worker
// scheme: an errgroup.Group with SetLimit(W) stands in for the
// free/busy queue pair (Go blocks a submitter once W goroutines are
// already running, exactly like "writers block when the free queue is
// empty"), the same fan-out-over-tasks shape the teacher's
// backend/raid3 uses errgroup for. The FIFO ticket (turnMu/turnCond)
// reproduces "workers acquire [the volume] lock in bevy-completion
// order" on top of that, since errgroup itself makes no ordering
// promise across concurrently running tasks.
type workerPool struct {
	g *errgroup.Group

	turnMu   sync.Mutex
	turnCond *sync.Cond
	nextTurn int
}

func newWorkerPool(n int) *workerPool {
	g := &errgroup.Group{}
	g.SetLimit(n)
	p := &workerPool{g: g}
	p.turnCond = sync.NewCond(&p.turnMu)
	return p
}

// waitTurn blocks until bevyID is next in line to write, preserving
// bevy-id emission order regardless of compression completion order.
func (p *workerPool) waitTurn(bevyID int) {
	p.turnMu.Lock()
	for p.nextTurn != bevyID {
		p.turnCond.Wait()
	}
	p.turnMu.Unlock()
}

func (p *workerPool) advanceTurn() {
	p.turnMu.Lock()
	p.nextTurn++
	p.turnCond.Broadcast()
	p.turnMu.Unlock()
}

// dispatch submits bevyID's compress-and-emit task, blocking until a
// worker slot is free (errgroup.Group.Go blocks once SetLimit workers
// are already running).
func (p *workerPool) dispatch(fn func() error) {
	p.g.Go(fn)
}

// wait blocks until every dispatched task has returned, yielding the
// first error any of them reported (or nil).
func (p *workerPool) wait() error { return p.g.Wait() }

// Write implements io.Writer: input is split into chunk_size pieces
// (spec §4.5 write path) and accumulated until a full bevy of
// chunks_in_segment of them is ready, at which point it is handed to
// the worker pool. Write also runs the stream's running content hash
// over the raw input.
func (img *Image) Write(p []byte) (int, error) {
	img.wmu.Lock()
	defer img.wmu.Unlock()
	if !img.writable {
		return 0, &aff4errors.UnsupportedError{Feature: "write to a non-writable image stream"}
	}
	if img.closed {
		return 0, &aff4errors.UnsupportedError{Feature: "write to a closed image stream"}
	}
	if img.poisonedErr != nil {
		return 0, img.poisonedErr
	}
	n := len(p)
	img.hash.Write(p)
	img.size += int64(n)
	img.partial = append(img.partial, p...)
	for len(img.partial) >= img.opts.ChunkSize {
		chunk := img.partial[:img.opts.ChunkSize]
		owned := make([]byte, img.opts.ChunkSize)
		copy(owned, chunk)
		img.partial = img.partial[img.opts.ChunkSize:]
		img.pending = append(img.pending, owned)
		if len(img.pending) == img.opts.ChunksInSegment {
			img.flushBevyLocked()
		}
	}
	return n, nil
}

// flushBevyLocked detaches the current bevy and submits it to the
// worker pool. Called with wmu held.
func (img *Image) flushBevyLocked() {
	if len(img.pending) == 0 {
		return
	}
	chunks := img.pending
	bevyID := img.bevyID
	img.pending = nil
	img.bevyID++
	img.pool.dispatch(func() error { return img.compressAndEmit(bevyID, chunks) })
}

// compressAndEmit runs on a worker goroutine: it deflates each chunk
// (spec §4.5 step 1), waits its FIFO turn, then opens the two segment
// members under the volume's lock (steps 2-4).
func (img *Image) compressAndEmit(bevyID int, chunks [][]byte) error {
	var bevyBuf bytes.Buffer
	offsets := make([]uint32, 0, len(chunks)+1)
	for _, chunk := range chunks {
		offsets = append(offsets, uint32(bevyBuf.Len()))
		if img.opts.Compression == aff4io.Deflate {
			fw, err := newFlateWriter(&bevyBuf)
			if err != nil {
				return err
			}
			if _, err := fw.Write(chunk); err != nil {
				return &aff4errors.IoError{Op: "deflate", Errno: err}
			}
			if err := fw.Close(); err != nil {
				return &aff4errors.IoError{Op: "deflate", Errno: err}
			}
		} else {
			bevyBuf.Write(chunk)
		}
	}
	offsets = append(offsets, uint32(bevyBuf.Len())) // terminator (spec §4.5 step 3)

	img.pool.waitTurn(bevyID)
	defer img.pool.advanceTurn()

	img.r.Lock(img.volumeURN, 'w')
	defer img.r.Unlock(img.volumeURN, 'w')

	if err := img.writeSegment(img.bevyMemberName(bevyID), bevyBuf.Bytes()); err != nil {
		return err
	}
	if err := img.writeSegment(img.idxMemberName(bevyID), encodeIndex(offsets)); err != nil {
		return err
	}
	return nil
}

func (img *Image) writeSegment(name string, data []byte) error {
	w, err := img.vol.OpenMemberW(name, aff4io.Stored)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return &aff4errors.IoError{Op: "write", Errno: err}
	}
	return w.Close()
}

// Close flushes any short final bevy, waits for all outstanding
// workers, seals size/hash, and publishes the stream's descriptor
// statements (spec §4.5 "On image close"). Closing an already-closed
// stream is a no-op (spec §8 invariant 9).
func (img *Image) Close() error {
	img.wmu.Lock()
	if !img.writable || img.closed {
		img.closed = true
		img.wmu.Unlock()
		return nil
	}
	if len(img.partial) > 0 {
		owned := make([]byte, len(img.partial))
		copy(owned, img.partial)
		img.pending = append(img.pending, owned)
		img.partial = nil
	}
	img.flushBevyLocked()
	img.closed = true
	finalSize := img.size
	img.wmu.Unlock()

	if err := img.pool.wait(); err != nil {
		img.poison(err)
		return err
	}

	sum := img.hash.Sum(nil)
	img.r.Store.Set(img.urn, aff4rdf.PredSize, aff4rdf.Integer(finalSize))
	img.r.Store.Set(img.urn, aff4rdf.PredSHA256, aff4rdf.RawBytes(sum))
	img.r.Store.Set(img.urn, aff4rdf.PredChunkSize, aff4rdf.Integer(int64(img.opts.ChunkSize)))
	img.r.Store.Set(img.urn, aff4rdf.PredChunksInSegment, aff4rdf.Integer(int64(img.opts.ChunksInSegment)))
	img.r.Store.Set(img.urn, aff4rdf.PredCompression, aff4rdf.Unsigned(uint32(img.opts.Compression)))
	return nil
}

var _ io.Writer = (*Image)(nil)
