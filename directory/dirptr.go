package directory

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
)

// DirPtr is a cursor over directory entries: a (segment, index) pair plus
// the first data sector of the referenced entry, tracked during navigation.
//
// Two sentinel positions exist: "before start" (the state of a fresh scan,
// which must be stepped forward once before dereferencing) and "after end"
// (stepped past the final end-of-segment marker). Dereferencing a sentinel
// position is a caller bug and panics.
//
// A DirPtr is a value; copying one yields an independent cursor over the
// same directory block.
type DirPtr struct {
	dirblk    *blockcache.Block
	entrySize int
	segment   int
	index     int
	segbase   int
	datasec   uint
}

const (
	beforeStartSegment = -1
	afterEndSegment    = 0
)

// newDirPtr returns a pointer in the "before start" state.
func newDirPtr(dirblk *blockcache.Block) DirPtr {
	return DirPtr{
		dirblk:    dirblk,
		entrySize: EntryLength + int(dirblk.Word(ExtraBytesWord)),
		segment:   beforeStartSegment,
		index:     0,
		segbase:   0,
		datasec:   uint(dirblk.Word(SegmentDataBlockWord)),
	}
}

// Segment returns the 1-based segment the pointer is in.
func (ptr *DirPtr) Segment() int {
	return ptr.segment
}

// Index returns the entry index within the segment.
func (ptr *DirPtr) Index() int {
	return ptr.index
}

// DataSector returns the first sector of the referenced entry's data run.
func (ptr *DirPtr) DataSector() uint {
	return ptr.datasec
}

// BeforeStart reports whether the pointer is positioned before the first
// entry.
func (ptr *DirPtr) BeforeStart() bool {
	return ptr.segment == beforeStartSegment
}

// AfterEnd reports whether the pointer has run off the end of the segment
// chain.
func (ptr *DirPtr) AfterEnd() bool {
	return ptr.segment == afterEndSegment
}

// Valid reports whether the pointer references an actual entry.
func (ptr *DirPtr) Valid() bool {
	return !ptr.BeforeStart() && !ptr.AfterEnd()
}

// SamePosition reports whether two pointers reference the same entry slot.
func (ptr *DirPtr) SamePosition(other *DirPtr) bool {
	return ptr.segment == other.segment && ptr.index == other.index
}

// Offset computes the offset of a field of the referenced entry, relative
// to the start of the directory block.
func (ptr *DirPtr) Offset(delta int) int {
	if !ptr.Valid() {
		panic(fmt.Sprintf(
			"dereference of directory pointer at sentinel position %d", ptr.segment,
		))
	}
	return ptr.segbase + FirstEntryOffset + ptr.index*ptr.entrySize + delta
}

// Word returns the entry field word at `offs`.
func (ptr *DirPtr) Word(offs int) uint16 {
	return ptr.dirblk.Word(ptr.Offset(offs))
}

// Byte returns the entry field byte at `offs`.
func (ptr *DirPtr) Byte(offs int) uint8 {
	return ptr.dirblk.Byte(ptr.Offset(offs))
}

// SetWord stores an entry field word at `offs`.
func (ptr *DirPtr) SetWord(offs int, v uint16) {
	ptr.dirblk.SetWord(ptr.Offset(offs), v)
}

// SetByte stores an entry field byte at `offs`.
func (ptr *DirPtr) SetByte(offs int, v uint8) {
	ptr.dirblk.SetByte(ptr.Offset(offs), v)
}

// SegmentWord returns a word from the header of the referenced segment.
func (ptr *DirPtr) SegmentWord(offs int) uint16 {
	return ptr.dirblk.Word(ptr.segbase + offs)
}

// SetSegmentWord stores a word into the header of the referenced segment.
func (ptr *DirPtr) SetSegmentWord(offs int, v uint16) {
	ptr.dirblk.SetWord(ptr.segbase+offs, v)
}

// HasStatus reports whether every bit of `mask` is set in the entry's
// status word.
func (ptr *DirPtr) HasStatus(mask uint16) bool {
	return ptr.Word(StatusWord)&mask == mask
}

// Length returns the entry's length in sectors.
func (ptr *DirPtr) Length() uint {
	return uint(ptr.Word(TotalLengthWord))
}

// Name returns the entry's filename words.
func (ptr *DirPtr) Name() Rad50Name {
	var name Rad50Name
	for i := range name {
		name[i] = ptr.Word(FilenameWords + 2*i)
	}
	return name
}

// setSegment repositions the pointer onto a segment and recomputes the
// segment's base offset within the directory block.
func (ptr *DirPtr) setSegment(seg int) {
	ptr.segment = seg
	ptr.segbase = (seg - 1) * SectorsPerSegment * rt11.SectorSize
}

// Next returns a pointer to the following entry, leaving the receiver
// untouched.
func (ptr *DirPtr) Next() DirPtr {
	next := *ptr
	next.Increment()
	return next
}

// Prev returns a pointer to the preceding entry, leaving the receiver
// untouched.
func (ptr *DirPtr) Prev() DirPtr {
	prev := *ptr
	prev.Decrement()
	return prev
}

// Increment moves the pointer to the next entry. Stepping at an
// end-of-segment marker follows the segment chain; a zero chain pointer
// transitions to "after end", where further steps do nothing.
func (ptr *DirPtr) Increment() {
	if ptr.AfterEnd() {
		return
	}

	if ptr.BeforeStart() {
		ptr.setSegment(1)
		ptr.index = 0
		ptr.datasec = uint(ptr.SegmentWord(SegmentDataBlockWord))
		return
	}

	if !ptr.HasStatus(StatusEndOfSeg) {
		ptr.datasec += ptr.Length()
		ptr.index++
		return
	}

	next := int(ptr.SegmentWord(NextSegmentWord))
	if next == 0 {
		ptr.segment = afterEndSegment
		return
	}

	ptr.setSegment(next)
	ptr.index = 0
	ptr.datasec = uint(ptr.SegmentWord(SegmentDataBlockWord))
}

// Decrement moves the pointer to the previous entry. From "after end" it
// lands on the final segment's end-of-segment marker; stepping back from
// segment 1, index 0 transitions to "before start", where further steps do
// nothing.
func (ptr *DirPtr) Decrement() {
	if ptr.BeforeStart() {
		return
	}

	if ptr.AfterEnd() {
		// Walk the chain to the last segment, then scan to its end marker.
		ptr.setSegment(1)
		for {
			next := int(ptr.SegmentWord(NextSegmentWord))
			if next == 0 {
				break
			}
			ptr.setSegment(next)
		}

		ptr.advanceToOwnEOS()
		return
	}

	if ptr.index > 0 {
		ptr.index--
		ptr.datasec -= ptr.Length()
		return
	}

	if ptr.segment == 1 {
		ptr.segment = beforeStartSegment
		return
	}

	// At the start of a segment; find the predecessor segment in the chain
	// and position on its end marker.
	current := ptr.segment
	ptr.setSegment(1)
	for {
		next := int(ptr.SegmentWord(NextSegmentWord))
		if next == current {
			break
		}
		if next == 0 {
			panic(fmt.Sprintf("segment %d is not on the directory chain", current))
		}
		ptr.setSegment(next)
	}

	ptr.advanceToOwnEOS()
}

// advanceToOwnEOS positions the pointer on the end-of-segment marker of the
// segment it currently references, recomputing the data sector from the
// segment header.
func (ptr *DirPtr) advanceToOwnEOS() {
	ptr.index = 0
	ptr.datasec = uint(ptr.SegmentWord(SegmentDataBlockWord))

	for !ptr.HasStatus(StatusEndOfSeg) {
		ptr.datasec += ptr.Length()
		ptr.index++
	}
}
