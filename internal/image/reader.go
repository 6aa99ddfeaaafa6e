package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4io"
)

// ReadAt reconstructs bytes [off, off+len(p)) from the stream's bevies
// (spec §4.5 read path): locate the bevy and in-bevy chunk, inflate
// that chunk (LRU-cached), and copy the requested slice, repeating
// across chunk/bevy boundaries until p is full or the stream's end is
// reached.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &aff4errors.IoError{Op: "read", Errno: fmt.Errorf("negative offset")}
	}
	total := 0
	for total < len(p) {
		r := off + int64(total)
		if r >= img.size {
			if total == 0 {
				return 0, io.EOF
			}
			return total, io.EOF
		}
		chunkNum := r / int64(img.opts.ChunkSize)
		bevyID := int(chunkNum / int64(img.opts.ChunksInSegment))
		chunkInBevy := int(chunkNum % int64(img.opts.ChunksInSegment))

		chunk, err := img.loadChunk(bevyID, chunkInBevy, int(chunkNum))
		if err != nil {
			return total, err
		}
		chunkOff := int(r % int64(img.opts.ChunkSize))
		if chunkOff > len(chunk) {
			return total, &aff4errors.CorruptError{URN: img.urn.String(), Detail: "chunk shorter than offset implies"}
		}
		n := copy(p[total:], chunk[chunkOff:])
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

func (img *Image) loadChunk(bevyID, chunkInBevy, absChunk int) ([]byte, error) {
	chunkKey := fmt.Sprintf("%s#%d", img.urn, absChunk)
	if v, ok := img.chunkCache.Get(chunkKey); ok {
		return v.([]byte), nil
	}

	index, err := img.loadIndex(bevyID)
	if err != nil {
		return nil, err
	}
	if chunkInBevy+1 >= len(index) {
		return nil, &aff4errors.CorruptError{URN: img.urn.String(), Detail: "chunk index out of range for bevy"}
	}
	start, end := index[chunkInBevy], index[chunkInBevy+1]
	if end < start {
		return nil, &aff4errors.CorruptError{URN: img.urn.String(), Detail: "bevy index offsets out of order"}
	}

	bevyReader, err := img.vol.OpenMemberR(img.bevyMemberName(bevyID))
	if err != nil {
		return nil, err
	}
	defer bevyReader.Close()

	raw := make([]byte, end-start)
	if _, err := bevyReader.ReadAt(raw, int64(start)); err != nil && err != io.EOF {
		return nil, &aff4errors.IoError{Op: "pread", Errno: err}
	}

	var plain []byte
	if img.opts.Compression == aff4io.Deflate {
		fr := newFlateReader(bytes.NewReader(raw))
		defer fr.Close()
		plain, err = io.ReadAll(fr)
		if err != nil {
			return nil, &aff4errors.CorruptError{URN: img.urn.String(), Detail: "inflate failed: " + err.Error()}
		}
	} else {
		plain = raw
	}

	img.chunkCache.Put(chunkKey, plain)
	return plain, nil
}

func (img *Image) loadIndex(bevyID int) ([]uint32, error) {
	idxKey := fmt.Sprintf("%s#%d.idx", img.urn, bevyID)
	if v, ok := img.indexCache.Get(idxKey); ok {
		return v.([]uint32), nil
	}

	idxReader, err := img.vol.OpenMemberR(img.idxMemberName(bevyID))
	if err != nil {
		return nil, err
	}
	defer idxReader.Close()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := idxReader.ReadAt(chunk, int64(buf.Len()))
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &aff4errors.IoError{Op: "read", Errno: err}
		}
		if n == 0 {
			break
		}
	}

	index, err := decodeIndex(buf.Bytes())
	if err != nil {
		return nil, err
	}
	img.indexCache.Put(idxKey, index)
	return index, nil
}
