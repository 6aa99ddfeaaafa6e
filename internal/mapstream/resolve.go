package mapstream

import (
	"io"
	"sort"

	"github.com/CarbonWolf/aff4/internal/aff4errors"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// resolution is the result of resolving one logical offset (spec §4.6
// "Resolution of logical byte r").
type resolution struct {
	targetIndex     int // -1 means sparse: no target, reads return zeros
	targetOffset    int64
	availableToRead int64
}

// resolve implements spec §4.6's interpolation: periodic phase/period
// split, then forward interpolation from the largest point at or
// before phase, or backward interpolation from the first point when
// phase precedes it.
func (m *Map) resolve(r int64) resolution {
	if len(m.points) == 0 {
		return resolution{targetIndex: -1, availableToRead: m.size - r}
	}

	phase := r
	periodNumber := int64(0)
	if m.imagePeriod > 0 {
		periodNumber = r / m.imagePeriod
		phase = r % m.imagePeriod
	}

	available := m.size - r
	if available <= 0 {
		return resolution{targetIndex: -1, availableToRead: 0}
	}

	var res resolution
	if phase < m.points[0].ImageOffset {
		// Reverse interpolation from the first point (spec §4.6).
		p := m.points[0]
		res.targetIndex = p.TargetIndex
		res.targetOffset = p.TargetOffset - (p.ImageOffset - phase)
		res.availableToRead = p.ImageOffset - phase
	} else {
		l := sort.Search(len(m.points), func(i int) bool { return m.points[i].ImageOffset > phase }) - 1
		p := m.points[l]
		res.targetIndex = p.TargetIndex
		res.targetOffset = p.TargetOffset + (phase - p.ImageOffset)
		if l < len(m.points)-1 {
			res.availableToRead = m.points[l+1].ImageOffset - phase
		} else if m.imagePeriod > 0 {
			res.availableToRead = m.imagePeriod - phase
		} else {
			res.availableToRead = available
		}
	}

	if m.targetPeriod > 0 {
		res.targetOffset += periodNumber * m.targetPeriod
	}
	if res.availableToRead > available {
		res.availableToRead = available
	}
	if res.availableToRead < 0 {
		res.availableToRead = 0
	}
	return res
}

// ReadAt implements io.ReaderAt over the logical, mapped byte stream
// (spec §4.6). Sparse ranges (an empty target URN, or no points at
// all) return zeros without ever opening a target stream.
func (m *Map) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &aff4errors.IoError{Op: "read", Errno: io.ErrUnexpectedEOF}
	}
	total := 0
	for total < len(p) {
		r := off + int64(total)
		if r >= m.size {
			if total == 0 {
				return 0, io.EOF
			}
			return total, io.EOF
		}
		res := m.resolve(r)
		if res.availableToRead <= 0 {
			return total, io.EOF
		}
		want := int64(len(p) - total)
		if want > res.availableToRead {
			want = res.availableToRead
		}

		target := aff4rdf.URN("")
		if res.targetIndex >= 0 {
			target = m.targets[res.targetIndex]
		}
		if target.Empty() || res.targetIndex < 0 {
			for i := int64(0); i < want; i++ {
				p[int64(total)+i] = 0
			}
			total += int(want)
			continue
		}

		n, err := m.readFromTarget(target, res.targetOffset, p[total:int64(total)+want])
		if err != nil {
			if m.padOnMissing {
				for i := total; i < total+int(want); i++ {
					p[i] = 0
				}
				total += int(want)
				continue
			}
			return total, err
		}
		total += n
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

func (m *Map) readFromTarget(target aff4rdf.URN, targetOffset int64, p []byte) (int, error) {
	stream, closeFn, err := m.open(target)
	if err != nil {
		return 0, err
	}
	if closeFn != nil {
		defer closeFn()
	}
	n, err := stream.ReadAt(p, targetOffset)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
