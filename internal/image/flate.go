package image

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// newFlateWriter/newFlateReader give the bevy pipeline raw DEFLATE
// (window bits -15, no zlib framing) via klauspost/compress/flate, the
// teacher's direct dependency for this concern (see zipvolume/flate.go
// for the same choice applied to zip member bodies).
func newFlateWriter(w io.Writer) (*flate.Writer, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}

func newFlateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}
