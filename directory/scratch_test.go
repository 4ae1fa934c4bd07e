package directory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
	"github.com/dargueta/rt11/datasource"
)

// scratchDirectory builds a minimal one-segment directory whose first six
// entries all carry `status`, for white-box tests that need real DirPtr
// values without importing the test-image builder (which would cycle).
func scratchDirectory(t *testing.T, status uint16) (*Directory, func()) {
	t.Helper()

	const sectors = 64
	const firstDataSector = FirstSegmentSector + SectorsPerSegment

	source := datasource.NewMemoryDataSource(sectors * rt11.SectorSize)
	data := source.Bytes()

	put := func(offset int, word uint16) {
		data[offset] = uint8(word & 0xff)
		data[offset+1] = uint8(word >> 8)
	}

	base := FirstSegmentSector * rt11.SectorSize
	put(base+TotalSegmentsWord, 1)
	put(base+NextSegmentWord, 0)
	put(base+HighestSegmentWord, 1)
	put(base+ExtraBytesWord, 0)
	put(base+SegmentDataBlockWord, firstDataSector)

	const entryCount = 6
	const perEntry = 8
	remaining := sectors - firstDataSector

	for i := 0; i < entryCount; i++ {
		offset := base + FirstEntryOffset + i*EntryLength
		put(offset+StatusWord, status)

		length := perEntry
		if i == entryCount-1 {
			length = remaining
		}
		remaining -= length
		put(offset+TotalLengthWord, uint16(length))
	}

	eos := base + FirstEntryOffset + entryCount*EntryLength
	put(eos+StatusWord, StatusEndOfSeg)

	cache, err := blockcache.New(source)
	require.NoError(t, err)

	dir, err := New(cache)
	require.NoError(t, err)
	return dir, dir.Release
}
