package zipvolume

import (
	"io"

	"github.com/klauspost/compress/flate"
)

// newFlateWriter/newFlateReader wrap klauspost/compress/flate, a
// drop-in for the stdlib package with the same raw-DEFLATE framing
// (no zlib header, window bits implicitly -15) that spec §4.4/§4.5
// require, but faster — the teacher's go.mod carries it as a direct
// dependency used throughout rclone's backends wherever compression is
// needed.
func newFlateWriter(w io.Writer) *flate.Writer {
	fw, _ := flate.NewWriter(w, flate.DefaultCompression)
	return fw
}

func newFlateReader(r io.Reader) io.ReadCloser {
	return flate.NewReader(r)
}
