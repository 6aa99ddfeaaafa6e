package zipvolume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDOSDateTimeRoundTrip(t *testing.T) {
	date, time := dosDateTime(2021, 6, 15, 13, 42, 30)
	year, month, day, hour, min, sec := fromDOSDateTime(date, time)
	assert.Equal(t, 2021, year)
	assert.Equal(t, 6, month)
	assert.Equal(t, 15, day)
	assert.Equal(t, 13, hour)
	assert.Equal(t, 42, min)
	assert.Equal(t, 30, sec) // DOS time has 2-second resolution
}

func TestDOSDateTimeClampsYearBelow1980(t *testing.T) {
	date, _ := dosDateTime(1970, 1, 1, 0, 0, 0)
	year, _, _, _, _, _ := fromDOSDateTime(date, 0)
	assert.Equal(t, 1980, year)
}

func TestZip64ExtraFieldRoundTrip(t *testing.T) {
	extra := encodeZip64Extra(1<<40, 1<<35, 1<<30, true, true, true)
	require.NotEmpty(t, extra)

	got := parseZip64Extra(extra, true, true, true)
	assert.Equal(t, uint64(1<<40), got.UncompressedSize)
	assert.Equal(t, uint64(1<<35), got.CompressedSize)
	assert.Equal(t, uint64(1<<30), got.HeaderOffset)
}

func TestZip64ExtraFieldOnlyEncodesRequestedFields(t *testing.T) {
	extra := encodeZip64Extra(1<<33, 0, 0, true, false, false)
	require.Len(t, extra, 4+8)

	got := parseZip64Extra(extra, true, false, false)
	assert.Equal(t, uint64(1<<33), got.UncompressedSize)
}

func TestEncodeZip64ExtraEmptyWhenNothingNeeded(t *testing.T) {
	assert.Nil(t, encodeZip64Extra(0, 0, 0, false, false, false))
}

func TestCentralDirEntryUsesZip64ExtraForTwoGiBMember(t *testing.T) {
	// Regression for spec scenario S1: a 2^31-byte member must get the
	// Zip64 extra field even though it is still well under 4 GiB.
	rec := memberRecord{
		name:             "bigstream",
		uncompressedSize: 1 << 31,
		compressedSize:   1 << 31,
		headerOffset:     0,
	}
	entry, err := centralDirEntryBytes(rec)
	require.NoError(t, err)

	extraFieldLen := int(entry[30]) | int(entry[31])<<8
	require.Greater(t, extraFieldLen, 0, "expected a Zip64 extra field to be present")

	extra := entry[centralHeaderFixed+len(rec.name):]
	require.Len(t, extra, extraFieldLen)
	dataSize := int(extra[2]) | int(extra[3])<<8
	assert.True(t, dataSize == 16 || dataSize == 24, "expected 16 or 24 Zip64 extra data bytes, got %d", dataSize)
}
