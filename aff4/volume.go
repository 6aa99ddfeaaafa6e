// Package aff4 is the public facade (spec §6): open or create a Zip64
// evidence volume, append image/map streams into it, and read any
// contained stream back by URN with seek-anywhere semantics. It wires
// internal/resolver, internal/zipvolume, internal/image,
// internal/mapstream and internal/manifest together behind the type
// dispatcher spec §4.2 describes, the way rclone's top-level fs
// package wires a backend's Fs/Object pair to its shared config and
// cache machinery.
package aff4

import (
	"io"

	"github.com/google/uuid"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4io"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/filestream"
	"github.com/CarbonWolf/aff4/internal/image"
	"github.com/CarbonWolf/aff4/internal/mapstream"
	"github.com/CarbonWolf/aff4/internal/manifest"
	"github.com/CarbonWolf/aff4/internal/resolver"
	"github.com/CarbonWolf/aff4/internal/zipvolume"
)

// Options configures the resolver a Volume is opened against.
type Options struct {
	// CacheSize bounds the object cache (C3); <= 0 uses the default.
	CacheSize int
	// Persist, if non-nil, makes the resolver's statements durable
	// across process restarts (C2).
	Persist *resolver.Persistent
}

// Volume is an open AFF4 evidence container: a Zip64 volume plus the
// resolver mediating every stream materialised from it.
type Volume struct {
	r       *resolver.Resolver
	vol     *zipvolume.Volume
	backing *filestream.FileStream
	urn     aff4rdf.URN
}

// NewDefaultURN mints a fresh, process-unique URN under the "aff4:"
// scheme, for callers that don't supply their own stream identity —
// mirroring how rclone's cache backend mints synthetic remote names
// when a caller doesn't care about a specific one.
func NewDefaultURN() aff4rdf.URN {
	return aff4rdf.NewURN("aff4://" + uuid.New().String())
}

func newResolver(opts Options) (*resolver.Resolver, error) {
	return resolver.New(resolver.Options{CacheSize: opts.CacheSize, Persist: opts.Persist})
}

// Create opens path for writing a fresh (or continued) volume, minting
// urn as its identity if urn is the empty URN.
func Create(path string, urn aff4rdf.URN, opts Options) (*Volume, error) {
	if urn.Empty() {
		urn = NewDefaultURN()
	}
	r, err := newResolver(opts)
	if err != nil {
		return nil, err
	}
	backing, err := filestream.Open(r, urn, path, resolver.WriteMode)
	if err != nil {
		return nil, err
	}
	vol, err := zipvolume.OpenWrite(r, urn, backing)
	if err != nil {
		_ = backing.Close()
		return nil, err
	}
	v := &Volume{r: r, vol: vol, backing: backing, urn: vol.URN()}
	v.registerDispatcher()
	return v, nil
}

// Open opens path for reading a previously-written volume, replaying
// its manifest(s) into a fresh resolver.
func Open(path string, opts Options) (*Volume, error) {
	r, err := newResolver(opts)
	if err != nil {
		return nil, err
	}
	urn := aff4rdf.NewURN("file://" + path)
	backing, err := filestream.Open(r, urn, path, resolver.ReadMode)
	if err != nil {
		return nil, err
	}
	vol, err := zipvolume.OpenRead(r, urn, backing)
	if err != nil {
		_ = backing.Close()
		return nil, err
	}
	v := &Volume{r: r, vol: vol, backing: backing, urn: vol.URN()}
	v.registerDispatcher()
	return v, nil
}

// URN returns the volume's own identity.
func (v *Volume) URN() aff4rdf.URN { return v.urn }

// Resolver exposes the underlying statement store/object cache for
// callers that need to inspect arbitrary statements directly (spec
// §4.2's resolve_value/resolve_list).
func (v *Volume) Resolver() *resolver.Resolver { return v.r }

// registerDispatcher binds the resolver's type dispatcher (spec §4.2)
// to this volume's concrete stream constructors, so that
// v.r.Open(urn, mode) materialises the right object no matter which
// component asks for it (including mapstream's TargetOpener, which
// asks through the very same path).
func (v *Volume) registerDispatcher() {
	d := v.r.Dispatcher()
	d.RegisterType(aff4rdf.TypeSegment, func(r *resolver.Resolver, urn aff4rdf.URN, mode resolver.Mode) (resolver.StreamObject, error) {
		name := urn.RelativeTo(v.urn)
		reader, err := v.vol.OpenMemberR(name)
		if err != nil {
			return nil, err
		}
		return reader, nil
	})
	d.RegisterType(aff4rdf.TypeImage, func(r *resolver.Resolver, urn aff4rdf.URN, mode resolver.Mode) (resolver.StreamObject, error) {
		return image.Open(r, v.vol, v.urn, urn)
	})
	d.RegisterType(aff4rdf.TypeMap, func(r *resolver.Resolver, urn aff4rdf.URN, mode resolver.Mode) (resolver.StreamObject, error) {
		return mapstream.Open(r, v.vol, v.urn, urn, v.targetOpener)
	})
}

// targetOpener borrows a cache handle to urn's stream object and
// returns a ReadAt-capable view plus a close function that releases the
// borrow, satisfying mapstream.TargetOpener without exposing the
// resolver's cache discipline to the map package itself.
func (v *Volume) targetOpener(urn aff4rdf.URN) (io.ReaderAt, func() error, error) {
	obj, err := v.r.Open(urn, resolver.ReadMode)
	if err != nil {
		return nil, nil, err
	}
	reader, ok := obj.(io.ReaderAt)
	if !ok {
		v.r.CacheReturn(urn)
		return nil, nil, &aff4errors.UnsupportedError{Feature: "target stream is not readable at an offset: " + urn.String()}
	}
	closeFn := func() error {
		v.r.CacheReturn(urn)
		return nil
	}
	return reader, closeFn, nil
}

// NewImageStream creates and registers a fresh, writable image stream
// named urn (or a freshly minted one if urn is empty) hosted by this
// volume (spec §4.5). The caller writes to the returned *image.Image
// and must Close it before closing the volume.
func (v *Volume) NewImageStream(urn aff4rdf.URN, opts image.Options) *image.Image {
	if urn.Empty() {
		urn = NewDefaultURN()
	}
	return image.New(v.r, v.vol, v.urn, urn, opts)
}

// NewMapStream creates a fresh, writable map stream named urn (or a
// freshly minted one if urn is empty) hosted by this volume (spec
// §4.6). Add points with AddPoint, then Close to persist it.
func (v *Volume) NewMapStream(urn aff4rdf.URN) *mapstream.Map {
	if urn.Empty() {
		urn = NewDefaultURN()
	}
	return mapstream.New(v.r, v.vol, v.urn, urn, v.targetOpener)
}

// OpenStream materialises urn's stream object for reading, dispatching
// on its "type" statement (spec §4.2's open(urn, mode)). The caller
// must call v.Resolver().CacheReturn(urn) once done with the returned
// handle.
func (v *Volume) OpenStream(urn aff4rdf.URN) (aff4io.ReaderAtCloser, error) {
	obj, err := v.r.Open(urn, resolver.ReadMode)
	if err != nil {
		return nil, err
	}
	reader, ok := obj.(aff4io.ReaderAtCloser)
	if !ok {
		v.r.CacheReturn(urn)
		return nil, &aff4errors.UnsupportedError{Feature: "stream is not readable: " + urn.String()}
	}
	return reader, nil
}

// Statements exposes the manifest-serialised form of subject, for
// callers that want to inspect a stream's descriptor triples without
// going through resolve_value one predicate at a time.
func (v *Volume) Statements(subject aff4rdf.URN) []byte {
	return manifest.SerialiseSubject(v.r.Store, subject)
}

// Close seals the volume (writing its central directory and manifest
// segments, spec §4.4) and releases the resolver's persistent backing,
// if any. Closing an already-closed Volume is a no-op (spec §8
// invariant 9).
func (v *Volume) Close() error {
	if err := v.vol.Close(); err != nil {
		return err
	}
	return v.r.Close()
}
