// Package aff4io defines the small capability interfaces every
// concrete stream type implements, in place of the object-system
// macro's class hierarchy the original C source uses (spec §9:
// "polymorphism without inheritance"). Concrete streams become tagged
// variants behind these capability sets.
package aff4io

import "io"

// Whence mirrors io.Seeker's constants; re-exported so callers that
// only import aff4io don't need to pull in "io" for SeekStart etc.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// ByteStream is a seekable random-access byte channel (spec §4.3),
// implemented by the file-backed stream and by a Zip member open for
// writing. Image and Map streams expose ReaderAtCloser instead.
type ByteStream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	// Tell reports the current read/write offset.
	Tell() (int64, error)
	// Truncate resizes the stream.
	Truncate(size int64) error
	// Size reports the stream's current logical size.
	Size() (int64, error)
}

// ReaderAtCloser is satisfied by read-only materialised streams (Image,
// Map) that support concurrent random-access reads without a shared
// seek cursor.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Volume is the capability set a hosting container exposes to the
// streams it materialises (spec §4.4): open a member for reading or
// writing, and close (sealing the central directory).
type Volume interface {
	OpenMemberR(name string) (ReaderAtCloser, error)
	OpenMemberW(name string, compression Compression) (ByteStream, error)
	Close() error
}

// Compression enumerates the per-segment compression methods this
// implementation understands (spec §9 open question: the original
// tracks a compression-method code per segment and refuses unknown
// ones with Unsupported; SUPPLEMENTED FEATURES §1).
type Compression int

const (
	Stored Compression = iota
	Deflate
)
