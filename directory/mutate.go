package directory

import (
	"fmt"
	"time"

	"github.com/dargueta/rt11"
)

// Truncate resizes the file at `ptr` to `newSize` bytes, rounded up to a
// whole number of sectors. Any change to a file's length can reshuffle
// directory slots; the returned move list reports every entry whose
// (segment, index) changed, including the target, and `ptr` is left
// referencing wherever the target now lives.
func (dir *Directory) Truncate(ptr *DirPtr, newSize int64) ([]Move, error) {
	if newSize < 0 {
		return nil, rt11.ErrInvalidArgument.WithMessage("cannot truncate to a negative size")
	}
	if !ptr.Valid() {
		return nil, rt11.ErrNotFound.WithMessage("directory pointer does not reference an entry")
	}
	if ptr.HasStatus(StatusEndOfSeg) || ptr.HasStatus(StatusEmpty) {
		return nil, rt11.ErrInvalidArgument.WithMessage("cannot truncate a non-file entry")
	}

	newSectors := uint((newSize + rt11.SectorSize - 1) / rt11.SectorSize)
	oldSectors := ptr.Length()

	if newSectors == oldSectors {
		return nil, nil
	}

	tracker := &changeTracker{}
	var err error
	if newSectors < oldSectors {
		err = dir.shrinkEntry(ptr, newSectors, tracker)
	} else {
		err = dir.growEntry(ptr, newSectors, tracker)
	}
	if err != nil {
		return nil, err
	}

	return tracker.result(), nil
}

// shrinkEntry releases the tail of the file into the free entry that
// follows it, inserting one if the next entry isn't free space. The freed
// disk region and the region gained by the free entry are the same bytes,
// so no data moves.
func (dir *Directory) shrinkEntry(ptr *DirPtr, newSectors uint, tracker *changeTracker) error {
	next := ptr.Next()

	if !next.HasStatus(StatusEmpty) {
		err := dir.insertEmptyAt(&next, tracker)
		if err != nil {
			return err
		}

		// The insertion may have spilled the target itself into the next
		// segment; wherever the new slot landed, the target precedes it.
		*ptr = next.Prev()
	}

	delta := ptr.Length() - newSectors
	ptr.SetWord(TotalLengthWord, uint16(newSectors))
	next.SetWord(TotalLengthWord, uint16(next.Length()+delta))
	return nil
}

// growEntry extends the file in place when the following free entry can
// supply the shortfall, and otherwise relocates it into the largest free
// block on the volume, copying its data through the cache.
func (dir *Directory) growEntry(ptr *DirPtr, newSectors uint, tracker *changeTracker) error {
	next := ptr.Next()
	if next.HasStatus(StatusEmpty) && ptr.Length()+next.Length() >= newSectors {
		delta := newSectors - ptr.Length()
		remaining := next.Length() - delta

		ptr.SetWord(TotalLengthWord, uint16(newSectors))
		next.SetWord(TotalLengthWord, uint16(remaining))

		if remaining == 0 {
			dir.deleteEmptyAt(&next, tracker)
		}
		return nil
	}

	origSegment, origIndex := ptr.Segment(), ptr.Index()
	oldSectors := ptr.Length()

	newp := dir.findLargestFreeBlock()
	if newp.AfterEnd() || newp.Length() < newSectors {
		return rt11.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("no contiguous free run of %d sector(s)", newSectors),
		)
	}

	err := dir.carveFreeBlock(&newp, newSectors, tracker)
	if err != nil {
		return err
	}

	// Carving can shift slots around, the target's included; re-resolve it
	// from the move log before touching anything else.
	target := dir.resolveAfterMoves(origSegment, origIndex, tracker)

	// Copy the file data into the carved region. The region belongs to a
	// free entry, so the copy is safe before the directory is rewritten.
	src := target.DataSector()
	dst := newp.DataSector()
	for i := uint(0); i < oldSectors; i++ {
		if err := dir.copySector(src+i, dst+i); err != nil {
			return err
		}
	}

	// Move the entry itself into the carved slot. The byte copy drags the
	// old length along; put the new one back afterwards.
	tracker.begin()
	tracker.record(&target, &newp)
	err = dir.dirblk.CopyWithin(target.Offset(0), newp.Offset(0), dir.entrySize)
	tracker.end()
	if err != nil {
		return err
	}
	newp.SetWord(TotalLengthWord, uint16(newSectors))

	// The vacated slot becomes free space covering the file's old sectors.
	target.SetWord(StatusWord, StatusEmpty)
	target.SetWord(FilenameWords, 0)
	target.SetWord(FilenameWords+2, 0)
	target.SetWord(FilenameWords+4, 0)
	target.SetByte(JobByte, 0)
	target.SetByte(ChannelByte, 0)
	target.SetWord(CreationDateWord, 0)

	dir.coalesceNeighboringFreeBlocks(&target, tracker)

	*ptr = dir.resolveAfterMoves(origSegment, origIndex, tracker)
	return nil
}

// insertEmptyAt creates a zero-sector free slot at `ptr`, shifting every
// entry from there through the segment's end marker one slot later. A full
// segment first spills its last entry into the following segment, which may
// cascade and ultimately allocate a new segment. On success `ptr` is left
// referencing the new slot, which can differ from the requested position
// when the spill moved the entry the slot was meant to follow.
func (dir *Directory) insertEmptyAt(ptr *DirPtr, tracker *changeTracker) error {
	eos := dir.advanceToEndOfSegment(ptr)

	if eos.Index() == dir.maxEntriesPerSegment()-1 {
		// Establish up front that the spill cascade can succeed, so a full
		// chain fails before anything moves.
		if !dir.canMakeRoom(ptr.Segment()) {
			return rt11.ErrNoSpaceOnDevice.WithMessage(
				"every reachable directory segment is full",
			)
		}

		err := dir.spillLastEntry(ptr, tracker)
		if err != nil {
			return err
		}

		// The end marker moved up one slot. If the insertion position fell
		// off the end of the segment, the entry it was meant to follow is
		// the one that just spilled; the slot belongs right after it at the
		// head of the next segment.
		eos = dir.endOfSegment(ptr.Segment())
		if ptr.Index() > eos.Index() {
			relocated := eos.Next()
			relocated.Increment()
			*ptr = relocated
			return dir.insertEmptyAt(ptr, tracker)
		}
	}

	tracker.begin()
	cursor := *ptr
	for {
		dst := cursor
		dst.index++
		tracker.record(&cursor, &dst)
		if cursor.SamePosition(&eos) {
			break
		}
		cursor.Increment()
	}

	src := ptr.Offset(0)
	err := dir.dirblk.CopyWithin(src, src+dir.entrySize, eos.Offset(0)-src+dir.entrySize)
	tracker.end()
	if err != nil {
		return err
	}

	ptr.SetWord(StatusWord, StatusEmpty)
	ptr.SetWord(FilenameWords, 0)
	ptr.SetWord(FilenameWords+2, 0)
	ptr.SetWord(FilenameWords+4, 0)
	ptr.SetWord(TotalLengthWord, 0)
	ptr.SetByte(JobByte, 0)
	ptr.SetByte(ChannelByte, 0)
	ptr.SetWord(CreationDateWord, 0)
	return nil
}

// deleteEmptyAt removes the zero-sector free slot at `ptr` by shifting the
// entries after it (through the end marker) one slot earlier. The slot must
// be zero length: removing sectors from the middle of a segment would shift
// the data addresses of everything behind it.
func (dir *Directory) deleteEmptyAt(ptr *DirPtr, tracker *changeTracker) {
	if !ptr.HasStatus(StatusEmpty) || ptr.Length() != 0 {
		panic("deleteEmptyAt requires a zero-length free entry")
	}

	eos := dir.advanceToEndOfSegment(ptr)

	tracker.begin()
	cursor := ptr.Next()
	for {
		dst := cursor
		dst.index--
		tracker.record(&cursor, &dst)
		if cursor.SamePosition(&eos) {
			break
		}
		cursor.Increment()
	}

	dst := ptr.Offset(0)
	src := dst + dir.entrySize
	err := dir.dirblk.CopyWithin(src, dst, eos.Offset(0)-src+dir.entrySize)
	tracker.end()
	if err != nil {
		panic(err)
	}
}

// canMakeRoom reports whether a spill starting at `segment` can terminate:
// some later segment on the chain has a free slot, or a fresh segment can
// still be allocated.
func (dir *Directory) canMakeRoom(segment int) bool {
	seg := segment
	for {
		eos := dir.endOfSegment(seg)
		next := int(eos.SegmentWord(NextSegmentWord))
		if next == 0 {
			return dir.highestSegment() < dir.totalSegments()
		}

		seg = next
		eosNext := dir.endOfSegment(seg)
		if eosNext.Index() < dir.maxEntriesPerSegment()-1 {
			return true
		}
	}
}

// spillLastEntry moves the last entry of `ptr`'s segment (the one just
// before the end marker) to the head of the following segment, allocating
// one if the chain ends here. A full next segment spills recursively. A
// segment holding nothing but its end marker spills trivially.
func (dir *Directory) spillLastEntry(ptr *DirPtr, tracker *changeTracker) error {
	eos := dir.endOfSegment(ptr.Segment())

	if eos.Index() == 0 {
		return nil
	}

	next := eos.Next()
	if next.AfterEnd() {
		err := dir.allocateSegment()
		if err != nil {
			return err
		}
		next = eos.Next()
	}

	last := eos.Prev()

	// Make room at the head of the next segment; this recurses through any
	// chain of full segments.
	err := dir.insertEmptyAt(&next, tracker)
	if err != nil {
		return err
	}

	tracker.begin()
	tracker.record(&last, &next)
	err = dir.dirblk.CopyWithin(last.Offset(0), next.Offset(0), dir.entrySize)
	tracker.end()
	if err != nil {
		return err
	}

	// The spilled entry now leads its segment, so the header's data sector
	// must name the entry's first data sector.
	next.SetSegmentWord(SegmentDataBlockWord, uint16(last.DataSector()))

	// The old slot becomes the segment's end marker. RT-11 doesn't bother
	// clearing the filename, but we do.
	last.SetWord(StatusWord, StatusEndOfSeg)
	last.SetWord(FilenameWords, 0)
	last.SetWord(FilenameWords+2, 0)
	last.SetWord(FilenameWords+4, 0)
	last.SetWord(TotalLengthWord, 0)
	return nil
}

// allocateSegment brings segment highest+1 into service: its header is
// initialized, its first entry becomes an end marker, and the previous last
// segment links to it. Gaps are never reclaimed; RT-11 only ever grows the
// chain off the highest segment in use.
func (dir *Directory) allocateSegment() error {
	next := dir.highestSegment() + 1
	if next > dir.totalSegments() {
		return rt11.ErrNoSpaceOnDevice.WithMessage("every directory segment is in use")
	}

	// Find the end of the chain; the new segment's data begins where the
	// last allocated file ends.
	eos := dir.StartScan()
	for {
		step := eos.Next()
		if step.AfterEnd() {
			break
		}
		eos = step
	}

	header := (next - 1) * SectorsPerSegment * rt11.SectorSize
	dir.dirblk.SetWord(header+TotalSegmentsWord, uint16(dir.totalSegments()))
	dir.dirblk.SetWord(header+NextSegmentWord, 0)
	// Only segment 1 maintains the highest-segment word.
	dir.dirblk.SetWord(header+HighestSegmentWord, 0)
	dir.dirblk.SetWord(header+ExtraBytesWord, dir.dirblk.Word(ExtraBytesWord))
	dir.dirblk.SetWord(header+SegmentDataBlockWord, uint16(eos.DataSector()))

	entry0 := header + FirstEntryOffset
	dir.dirblk.SetWord(entry0+StatusWord, StatusEndOfSeg)
	dir.dirblk.SetWord(entry0+FilenameWords, 0)
	dir.dirblk.SetWord(entry0+FilenameWords+2, 0)
	dir.dirblk.SetWord(entry0+FilenameWords+4, 0)
	dir.dirblk.SetWord(entry0+TotalLengthWord, 0)
	dir.dirblk.SetByte(entry0+JobByte, 0)
	dir.dirblk.SetByte(entry0+ChannelByte, 0)
	dir.dirblk.SetWord(entry0+CreationDateWord, 0)

	eos.SetSegmentWord(NextSegmentWord, uint16(next))
	dir.dirblk.SetWord(HighestSegmentWord, uint16(next))
	return nil
}

// findLargestFreeBlock returns a pointer to the free entry covering the
// most sectors, or an "after end" pointer when the directory has no free
// entries at all.
func (dir *Directory) findLargestFreeBlock() DirPtr {
	largest := -1
	largestPtr := dir.StartScan()

	ptr := dir.StartScan()
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.HasStatus(StatusEndOfSeg) || !ptr.HasStatus(StatusEmpty) {
			continue
		}
		if int(ptr.Length()) > largest {
			largest = int(ptr.Length())
			largestPtr = ptr
		}
	}

	if largest < 0 {
		// ptr has run off the end, which is the documented "none" result.
		largestPtr = ptr
	}
	return largestPtr
}

// carveFreeBlock splits the free entry at `ptr` into a leading piece of
// exactly `size` sectors and a trailing remainder entry. On success `ptr`
// references the leading piece.
func (dir *Directory) carveFreeBlock(ptr *DirPtr, size uint, tracker *changeTracker) error {
	if size > ptr.Length() {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cannot carve %d sector(s) from a %d-sector free block", size, ptr.Length()),
		)
	}

	if size == ptr.Length() {
		return nil
	}

	next := ptr.Next()
	err := dir.insertEmptyAt(&next, tracker)
	if err != nil {
		return err
	}

	// The slot landed immediately after the block being carved, wherever
	// that block lives now.
	target := next.Prev()
	delta := target.Length() - size
	target.SetWord(TotalLengthWord, uint16(size))
	next.SetWord(TotalLengthWord, uint16(delta))

	*ptr = target
	return nil
}

// coalesceNeighboringFreeBlocks merges the run of free entries around `ptr`
// into the earliest of them, keeping the invariant that two adjacent
// entries are never both free.
func (dir *Directory) coalesceNeighboringFreeBlocks(ptr *DirPtr, tracker *changeTracker) {
	anchor := *ptr
	for {
		prev := anchor.Prev()
		if !prev.Valid() || !prev.HasStatus(StatusEmpty) {
			break
		}
		anchor = prev
	}

	for {
		next := anchor.Next()
		if next.AfterEnd() || !next.HasStatus(StatusEmpty) {
			break
		}

		anchor.SetWord(TotalLengthWord, uint16(anchor.Length()+next.Length()))
		next.SetWord(TotalLengthWord, 0)
		dir.deleteEmptyAt(&next, tracker)
	}
}

// CreateEntry adds a tentative zero-length file named `name`. The slot is
// taken from the start of the largest free block, except that a free block
// trailing an open tentative file is first split in half so the open file
// keeps room to grow. The returned pointer references the new entry.
func (dir *Directory) CreateEntry(name string) (DirPtr, []Move, error) {
	parsed, ok := ParseFilename(name)
	if !ok {
		return DirPtr{}, nil, rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cannot parse filename %q", name),
		)
	}

	tracker := &changeTracker{}

	free := dir.findLargestFreeBlock()
	if free.AfterEnd() {
		return DirPtr{}, nil, rt11.ErrNoSpaceOnDevice.WithMessage("directory has no free entries")
	}

	carved := false
	slot := free
	prev := free.Prev()
	if prev.Valid() && prev.HasStatus(StatusTentative) && free.Length() >= 2 {
		err := dir.carveFreeBlock(&free, free.Length()/2, tracker)
		if err != nil {
			return DirPtr{}, nil, err
		}
		carved = true
		slot = free.Next()
	}

	err := dir.insertEmptyAt(&slot, tracker)
	if err != nil {
		if carved {
			// Give the carved-off sectors back so the failure leaves no
			// trace: the remainder rejoins the block it was split from and
			// its slot goes away.
			remainder := free.Next()
			free.SetWord(TotalLengthWord, uint16(free.Length()+remainder.Length()))
			remainder.SetWord(TotalLengthWord, 0)
			dir.deleteEmptyAt(&remainder, tracker)
		}
		return DirPtr{}, nil, err
	}

	slot.SetWord(StatusWord, StatusTentative)
	for i, word := range parsed {
		slot.SetWord(FilenameWords+2*i, word)
	}
	slot.SetWord(TotalLengthWord, 0)
	slot.SetByte(JobByte, 0)
	slot.SetByte(ChannelByte, 0)

	date, ok := encodeDate(time.Now())
	if !ok {
		date = 0
	}
	slot.SetWord(CreationDateWord, date)

	return slot, tracker.result(), nil
}

// MakeEntryPermanent commits a tentative entry. Anything else is left
// alone.
func (dir *Directory) MakeEntryPermanent(ptr *DirPtr) {
	if !ptr.Valid() || !ptr.HasStatus(StatusTentative) {
		return
	}

	status := ptr.Word(StatusWord)
	ptr.SetWord(StatusWord, status&^uint16(StatusTentative)|StatusPermanent)
}

// RemoveEntry deletes the named file. Its entry becomes free space covering
// the sectors the file held, then merges with any free neighbors.
func (dir *Directory) RemoveEntry(name string) ([]Move, error) {
	ptr, err := dir.GetDirPointer(name)
	if err != nil {
		return nil, err
	}

	tracker := &changeTracker{}

	ptr.SetWord(StatusWord, StatusEmpty)
	ptr.SetWord(FilenameWords, 0)
	ptr.SetWord(FilenameWords+2, 0)
	ptr.SetWord(FilenameWords+4, 0)

	dir.coalesceNeighboringFreeBlocks(&ptr, tracker)
	return tracker.result(), nil
}

// endOfSegment returns a pointer to the end marker of `segment`, scanning
// from the segment's first entry.
func (dir *Directory) endOfSegment(segment int) DirPtr {
	ptr := dir.StartScan()
	ptr.setSegment(segment)
	ptr.advanceToOwnEOS()
	return ptr
}

// PointerAt rebuilds a pointer at a known (segment, index) position,
// recomputing its data sector with a fresh scan.
func (dir *Directory) PointerAt(segment, index int) DirPtr {
	ptr := dir.StartScan()
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.Segment() == segment && ptr.Index() == index {
			return ptr
		}
	}
	panic(fmt.Sprintf("no directory entry at segment %d index %d", segment, index))
}

// resolveAfterMoves returns a pointer to the entry that began the current
// operation at (segment, index), following the move log to wherever it is
// now.
func (dir *Directory) resolveAfterMoves(segment, index int, tracker *changeTracker) DirPtr {
	for _, move := range tracker.moves {
		if move.FromSegment == segment && move.FromIndex == index {
			return dir.PointerAt(move.ToSegment, move.ToIndex)
		}
	}
	return dir.PointerAt(segment, index)
}

// copySector copies one sector's bytes to another sector through the
// cache.
func (dir *Directory) copySector(src, dst uint) error {
	srcBlock, err := dir.cache.GetBlock(src, 1)
	if err != nil {
		return err
	}
	defer dir.cache.PutBlock(srcBlock)

	dstBlock, err := dir.cache.GetBlock(dst, 1)
	if err != nil {
		return err
	}
	defer dir.cache.PutBlock(dstBlock)

	return dstBlock.CopyFromOther(srcBlock, 0, 0, rt11.SectorSize)
}
