package directory_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
	"github.com/dargueta/rt11/directory"
	rt11testing "github.com/dargueta/rt11/testing"
)

// standardImage builds the canonical pre-state used by the truncate
// scenarios: [free 2, SWAP.SYS 3, free rest, EOS].
func standardImage(t *testing.T) *datasource.MemoryDataSource {
	t.Helper()

	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)
	return source
}

func TestTruncate__ShrinkIntoFollowingFree(t *testing.T) {
	source := standardImage(t)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	tailLength := uint(testSectors - testFirstDataSector - 2 - 3)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)
	require.Equal(t, 1, ptr.Index())

	moves, err := dir.Truncate(&ptr, 0)
	require.NoError(t, err)
	assert.Empty(t, moves)

	// The target keeps its name and position and drops to zero length.
	assert.Equal(t, 1, ptr.Segment())
	assert.Equal(t, 1, ptr.Index())
	assert.Equal(t, uint16(directory.StatusPermanent), ptr.Word(directory.StatusWord))
	assert.Equal(t, rt11testing.MustName("SWAP.SYS"), ptr.Name())
	assert.Equal(t, uint(0), ptr.Length())

	// The following free entry absorbed the three sectors.
	tail := ptr.Next()
	assert.True(t, tail.HasStatus(directory.StatusEmpty))
	assert.Equal(t, tailLength+3, tail.Length())

	tail.Increment()
	assert.True(t, tail.HasStatus(directory.StatusEndOfSeg))

	assert.NoError(t, dir.Check())
}

func TestTruncate__ShrinkRoundsUpToSectors(t *testing.T) {
	source := standardImage(t)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	// 513 bytes round up to two sectors.
	_, err = dir.Truncate(&ptr, rt11.SectorSize+1)
	require.NoError(t, err)
	assert.Equal(t, uint(2), ptr.Length())

	assert.NoError(t, dir.Check())
}

func TestTruncate__GrowFillingFollowingFree(t *testing.T) {
	source := standardImage(t)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	tailLength := uint(testSectors - testFirstDataSector - 2 - 3)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	moves, err := dir.Truncate(&ptr, 6*rt11.SectorSize)
	require.NoError(t, err)
	assert.Empty(t, moves)

	assert.Equal(t, 1, ptr.Index())
	assert.Equal(t, uint(6), ptr.Length())
	assert.Equal(t, uint(testFirstDataSector+2), ptr.DataSector())

	next := ptr.Next()
	assert.True(t, next.HasStatus(directory.StatusEmpty))
	assert.Equal(t, tailLength-3, next.Length())

	assert.NoError(t, dir.Check())
}

func TestTruncate__GrowConsumingFollowingFreeExactly(t *testing.T) {
	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		empty(3),
		perm("A.DAT", 5),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)

	_, dir := mountDirectory(t, source)
	defer dir.Release()

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	// Growing by exactly the following free entry's size deletes it rather
	// than leaving a zero-length free slot behind.
	moves, err := dir.Truncate(&ptr, 6*rt11.SectorSize)
	require.NoError(t, err)

	assert.Equal(t, uint(6), ptr.Length())

	next := ptr.Next()
	assert.True(t, next.HasStatus(directory.StatusPermanent))
	assert.Equal(t, rt11testing.MustName("A.DAT"), next.Name())
	assert.Equal(t, 2, next.Index())

	assert.Contains(t, moves, directory.Move{
		FromSegment: 1, FromIndex: 3, ToSegment: 1, ToIndex: 2,
	})

	assert.NoError(t, dir.Check())
}

func TestTruncate__ShrinkInsertsFreeSlot(t *testing.T) {
	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		perm("A.DAT", 5),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)

	_, dir := mountDirectory(t, source)
	defer dir.Release()

	freeBefore := totalFreeSectors(dir)

	aDataBefore, err := dir.GetEntByName("A.DAT")
	require.NoError(t, err)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	moves, err := dir.Truncate(&ptr, 0)
	require.NoError(t, err)

	// A free slot holding the released sectors was inserted after the
	// target, pushing A.DAT down one slot.
	assert.Equal(t, []directory.Move{
		{FromSegment: 1, FromIndex: 2, ToSegment: 1, ToIndex: 3},
	}, moves)

	slot := ptr.Next()
	assert.True(t, slot.HasStatus(directory.StatusEmpty))
	assert.Equal(t, uint(3), slot.Length())
	assert.Equal(t, 2, slot.Index())

	aDataAfter, err := dir.GetEntByName("A.DAT")
	require.NoError(t, err)
	assert.Equal(t, aDataBefore.Sector0, aDataAfter.Sector0)

	assert.Equal(t, freeBefore+3, totalFreeSectors(dir))
	assert.NoError(t, dir.Check())
}

func TestTruncate__GrowRelocatesFile(t *testing.T) {
	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		perm("A.DAT", 5),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)

	cache, dir := mountDirectory(t, source)
	defer dir.Release()

	tailLength := uint(testSectors - testFirstDataSector - 2 - 3 - 5)

	// Stamp a recognizable pattern into SWAP.SYS's three sectors.
	swapBefore, err := dir.GetEntByName("SWAP.SYS")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		block, err := cache.GetBlock(swapBefore.Sector0+uint(i), 1)
		require.NoError(t, err)
		for off := 0; off < rt11.SectorSize; off++ {
			block.SetByte(off, uint8(i+1))
		}
		cache.PutBlock(block)
	}

	aBefore, err := dir.GetEntByName("A.DAT")
	require.NoError(t, err)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	moves, err := dir.Truncate(&ptr, 6*rt11.SectorSize)
	require.NoError(t, err)

	assert.ElementsMatch(t, []directory.Move{
		{FromSegment: 1, FromIndex: 1, ToSegment: 1, ToIndex: 2},
		{FromSegment: 1, FromIndex: 2, ToSegment: 1, ToIndex: 1},
	}, moves)

	// The leading free entry absorbed the vacated sectors.
	entries := scanAll(dir)
	require.Len(t, entries, 4+1) // free, A.DAT, SWAP.SYS, free, EOS

	assert.True(t, entries[0].status&directory.StatusEmpty != 0)
	assert.Equal(t, uint(5), entries[0].length)

	// A.DAT is untouched apart from its slot number.
	assert.Equal(t, rt11testing.MustName("A.DAT"), entries[1].name)
	assert.Equal(t, aBefore.Sector0, entries[1].datasec)
	assert.Equal(t, uint(5), entries[1].length)

	// SWAP.SYS reappears after A.DAT, grown, with its data moved along.
	assert.Equal(t, rt11testing.MustName("SWAP.SYS"), entries[2].name)
	assert.Equal(t, uint(6), entries[2].length)
	assert.Equal(t, 2, entries[2].index)

	assert.True(t, entries[3].status&directory.StatusEmpty != 0)
	assert.Equal(t, tailLength-6, entries[3].length)

	// The pointer followed the file.
	assert.Equal(t, 1, ptr.Segment())
	assert.Equal(t, 2, ptr.Index())

	// First three sectors of the relocated file hold the original pattern.
	for i := 0; i < 3; i++ {
		block, err := cache.GetBlock(entries[2].datasec+uint(i), 1)
		require.NoError(t, err)
		for off := 0; off < rt11.SectorSize; off += 64 {
			require.Equal(t, uint8(i+1), block.Byte(off))
		}
		cache.PutBlock(block)
	}

	assert.NoError(t, dir.Check())
}

func TestTruncate__GrowFailsWithoutContiguousRun(t *testing.T) {
	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)

	_, dir := mountDirectory(t, source)
	defer dir.Release()

	before := scanAll(dir)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	// Ask for more sectors than the volume holds.
	_, err = dir.Truncate(&ptr, int64(testSectors)*rt11.SectorSize)
	assert.ErrorIs(t, err, rt11.ErrNoSpaceOnDevice)

	assert.Equal(t, before, scanAll(dir))
}

func TestTruncate__SizeIsIdempotent(t *testing.T) {
	source := standardImage(t)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	_, err = dir.Truncate(&ptr, 2*rt11.SectorSize)
	require.NoError(t, err)

	after := scanAll(dir)

	moves, err := dir.Truncate(&ptr, 2*rt11.SectorSize)
	require.NoError(t, err)
	assert.Empty(t, moves)
	assert.Equal(t, after, scanAll(dir))
}

// fullSegmentImage fills segment 1 completely: SWAP.SYS of three sectors,
// then one-sector files up to the entry limit, with the last file absorbing
// the rest of the volume.
func fullSegmentImage(t *testing.T, dirSegments int) (*datasource.MemoryDataSource, int) {
	t.Helper()

	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)

	maxEntries := (directory.SectorsPerSegment*rt11.SectorSize - directory.FirstEntryOffset) /
		directory.EntryLength

	entries := []rt11testing.DirEntry{perm("SWAP.SYS", 3)}
	for i := 1; i < maxEntries-2; i++ {
		entries = append(entries, perm(fmt.Sprintf("F%02d.DAT", i-1), 1))
	}
	entries = append(entries, perm(fmt.Sprintf("F%02d.DAT", maxEntries-3), rt11testing.RestOfData))
	entries = append(entries, eos())

	builder.FormatWithEntries(dirSegments, [][]rt11testing.DirEntry{entries}, 0)
	return source, maxEntries
}

func TestTruncate__ShrinkSpillsAcrossSegments(t *testing.T) {
	source, maxEntries := fullSegmentImage(t, testSegments)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	lastIndex := maxEntries - 2 // the entry just before the end marker

	lastName := fmt.Sprintf("F%02d.DAT", maxEntries-3)
	lastBefore, err := dir.GetEntByName(lastName)
	require.NoError(t, err)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	moves, err := dir.Truncate(&ptr, 0)
	require.NoError(t, err)

	expected := []directory.Move{
		{FromSegment: 1, FromIndex: lastIndex, ToSegment: 2, ToIndex: 0},
	}
	for i := 1; i < lastIndex; i++ {
		expected = append(expected, directory.Move{
			FromSegment: 1, FromIndex: i, ToSegment: 1, ToIndex: i + 1,
		})
	}
	assert.ElementsMatch(t, expected, moves)

	// The spilled file leads segment 2, and the segment's header names its
	// first data sector.
	lastAfter, err := dir.GetDirPointer(lastName)
	require.NoError(t, err)
	assert.Equal(t, 2, lastAfter.Segment())
	assert.Equal(t, 0, lastAfter.Index())
	assert.Equal(t, lastBefore.Sector0, lastAfter.DataSector())
	assert.Equal(t, uint16(lastBefore.Sector0), lastAfter.SegmentWord(directory.SegmentDataBlockWord))

	// The freed sectors sit in the slot right after the target.
	slot := ptr.Next()
	assert.True(t, slot.HasStatus(directory.StatusEmpty))
	assert.Equal(t, uint(3), slot.Length())

	assert.NoError(t, dir.Check())
}

func TestTruncate__ShrinkFailsWhenDirectoryCannotSpill(t *testing.T) {
	source, _ := fullSegmentImage(t, 1)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	before := scanAll(dir)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	_, err = dir.Truncate(&ptr, 0)
	assert.ErrorIs(t, err, rt11.ErrNoSpaceOnDevice)

	// Nothing observable may have changed.
	assert.Equal(t, before, scanAll(dir))
}

func TestTruncate__RejectsBadArguments(t *testing.T) {
	source := standardImage(t)
	_, dir := mountDirectory(t, source)
	defer dir.Release()

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)

	_, err = dir.Truncate(&ptr, -1)
	assert.ErrorIs(t, err, rt11.ErrInvalidArgument)

	free := ptr.Prev()
	require.True(t, free.HasStatus(directory.StatusEmpty))
	_, err = dir.Truncate(&free, 0)
	assert.ErrorIs(t, err, rt11.ErrInvalidArgument)
}

// Forward-scan invariant: each entry's data sector is the previous entry's
// data sector plus its length, across segment boundaries too.
func assertScanInvariant(t *testing.T, dir *directory.Directory) {
	t.Helper()

	ptr := dir.StartScan()
	ptr.Increment()
	if ptr.AfterEnd() {
		return
	}

	previous := ptr
	for {
		ptr.Increment()
		if ptr.AfterEnd() {
			break
		}

		if !previous.HasStatus(directory.StatusEndOfSeg) {
			require.Equal(
				t,
				previous.DataSector()+previous.Length(),
				ptr.DataSector(),
				"entry %d:%d breaks the data-sector chain",
				ptr.Segment(), ptr.Index(),
			)
		}
		previous = ptr
	}
}

func TestTruncate__ScanInvariantHoldsThroughMutations(t *testing.T) {
	source := rt11testing.NewImage(testSectors)
	builder := rt11testing.NewBuilder(source)
	builder.FormatWithEntries(testSegments, [][]rt11testing.DirEntry{{
		empty(2),
		perm("SWAP.SYS", 3),
		perm("A.DAT", 5),
		empty(rt11testing.RestOfData),
		eos(),
	}}, 0)

	_, dir := mountDirectory(t, source)
	defer dir.Release()

	assertScanInvariant(t, dir)

	ptr, err := dir.GetDirPointer("SWAP.SYS")
	require.NoError(t, err)
	_, err = dir.Truncate(&ptr, 0)
	require.NoError(t, err)
	assertScanInvariant(t, dir)

	_, err = dir.Truncate(&ptr, 7*rt11.SectorSize)
	require.NoError(t, err)
	assertScanInvariant(t, dir)

	_, err = dir.RemoveEntry("A.DAT")
	require.NoError(t, err)
	assertScanInvariant(t, dir)

	assert.NoError(t, dir.Check())
}
