package directory

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
)

// Directory is the entire directory structure of a mounted volume. It holds
// the single cache block covering every segment for the lifetime of the
// mount.
type Directory struct {
	cache     *blockcache.BlockCache
	dirblk    *blockcache.Block
	entrySize int
}

// New acquires and validates the directory of a mounted volume.
//
// The first segment is read to learn the total segment count, the directory
// block is grown to cover every segment, and the segment chain is walked to
// confirm the headers are mutually consistent. Any inconsistency is a fatal
// mount error.
func New(cache *blockcache.BlockCache) (*Directory, error) {
	maxSegments := (cache.VolumeSectors() - FirstSegmentSector) / SectorsPerSegment

	dirblk, err := cache.GetBlock(FirstSegmentSector, 1)
	if err != nil {
		return nil, err
	}

	dir := &Directory{cache: cache, dirblk: dirblk}

	totalSegments := uint(dirblk.Word(TotalSegmentsWord))
	if totalSegments == 0 || totalSegments >= maxSegments {
		dir.Release()
		return nil, rt11.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("directory claims %d segment(s) on a %d-sector volume",
				totalSegments, cache.VolumeSectors()),
		)
	}

	err = cache.ResizeBlock(dirblk, totalSegments*SectorsPerSegment)
	if err != nil {
		dir.Release()
		return nil, err
	}

	// The extra-bytes word is set when the volume is initialized and must
	// agree across every segment on the chain.
	extra := dirblk.Word(ExtraBytesWord)
	segment := 1
	for segment != 0 {
		base := (segment - 1) * SectorsPerSegment * rt11.SectorSize
		if dirblk.Word(base+ExtraBytesWord) != extra {
			dir.Release()
			return nil, rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("segment %d disagrees about extra bytes per entry", segment),
			)
		}

		segment = int(dirblk.Word(base + NextSegmentWord))
		if segment > int(totalSegments) {
			dir.Release()
			return nil, rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("segment chain points at segment %d of %d", segment, totalSegments),
			)
		}
	}

	dir.entrySize = EntryLength + int(extra)
	return dir, nil
}

// Release returns the directory block to the cache. The directory must not
// be used afterwards.
func (dir *Directory) Release() {
	if dir.dirblk != nil {
		dir.cache.PutBlock(dir.dirblk)
		dir.dirblk = nil
	}
}

// EntrySize returns the on-disk size of one entry, extra bytes included.
func (dir *Directory) EntrySize() int {
	return dir.entrySize
}

func (dir *Directory) totalSegments() int {
	return int(dir.dirblk.Word(TotalSegmentsWord))
}

func (dir *Directory) highestSegment() int {
	return int(dir.dirblk.Word(HighestSegmentWord))
}

// maxEntriesPerSegment computes how many entries fit in one segment. The
// count varies per volume because entries may carry extra application
// bytes.
func (dir *Directory) maxEntriesPerSegment() int {
	return (SectorsPerSegment*rt11.SectorSize - FirstEntryOffset) / dir.entrySize
}

// StartScan returns a pointer positioned just before the first entry. It
// must be stepped forward once before being dereferenced.
func (dir *Directory) StartScan() DirPtr {
	return newDirPtr(dir.dirblk)
}

// advanceToEndOfSegment returns a pointer to the end-of-segment marker of
// the segment containing `ptr`, leaving `ptr` untouched.
func (dir *Directory) advanceToEndOfSegment(ptr *DirPtr) DirPtr {
	eos := *ptr
	for !eos.HasStatus(StatusEndOfSeg) {
		eos.Increment()
	}
	return eos
}

// GetDirPointerByRad50 scans for the first entry whose three name words
// match. Free slots are not skipped, so a zeroed name will find one; the
// returned pointer is "after end" when nothing matches.
func (dir *Directory) GetDirPointerByRad50(name Rad50Name) DirPtr {
	ptr := dir.StartScan()

	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.HasStatus(StatusEndOfSeg) {
			continue
		}

		if ptr.Name() == name {
			break
		}
	}

	return ptr
}

// GetDirPointer resolves a printable filename to a pointer at its live
// entry, skipping free slots and end-of-segment markers.
func (dir *Directory) GetDirPointer(name string) (DirPtr, error) {
	parsed, ok := ParseFilename(name)
	if !ok {
		return DirPtr{}, rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cannot parse filename %q", name),
		)
	}

	ptr := dir.StartScan()
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.HasStatus(StatusEndOfSeg) || ptr.HasStatus(StatusEmpty) {
			continue
		}
		if ptr.Name() == parsed {
			return ptr, nil
		}
	}

	return DirPtr{}, rt11.ErrNotFound.WithMessage(name)
}

// GetEntByName resolves a printable filename to its caller-facing entry.
func (dir *Directory) GetEntByName(name string) (DirEnt, error) {
	parsed, ok := ParseFilename(name)
	if !ok {
		return DirEnt{}, rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cannot parse filename %q", name),
		)
	}

	ptr := dir.GetDirPointerByRad50(parsed)
	ent, found := dir.GetEnt(&ptr)
	if !found {
		return DirEnt{}, rt11.ErrNotFound.WithMessage(name)
	}
	return ent, nil
}

// MoveNextFiltered advances `ptr` to the next entry with any bit of `mask`
// set in its status word, reporting whether one was found.
func (dir *Directory) MoveNextFiltered(ptr *DirPtr, mask uint16) bool {
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.Word(StatusWord)&mask != 0 {
			return true
		}
	}
	return false
}

// Statfs reports statistics about the volume's file system.
func (dir *Directory) Statfs() rt11.FSStat {
	segments := uint64(dir.totalSegments())

	// One slot per segment is reserved for the end-of-segment marker.
	perSegment := uint64(dir.maxEntriesPerSegment() - 1)
	inodes := perSegment * segments

	var usedInodes, freeSectors uint64

	ptr := dir.StartScan()
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.HasStatus(StatusEndOfSeg) {
			continue
		}
		if ptr.HasStatus(StatusEmpty) {
			freeSectors += uint64(ptr.Length())
		} else {
			usedInodes++
		}
	}

	return rt11.FSStat{
		BlockSize:     rt11.SectorSize,
		MaxNameLength: rt11.MaxNameLength,
		TotalBlocks: uint64(dir.cache.VolumeSectors()) -
			(FirstSegmentSector + segments*SectorsPerSegment),
		FreeBlocks: freeSectors,
		TotalFiles: inodes,
		FreeFiles:  inodes - usedInodes,
	}
}

// Rename changes a file's name in place. The entry does not move and no
// data is touched; renaming onto the name of an existing live file fails.
func (dir *Directory) Rename(oldName, newName string) error {
	newRad50, ok := ParseFilename(newName)
	if !ok {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cannot parse filename %q", newName),
		)
	}

	if _, err := dir.GetDirPointer(newName); err == nil {
		return rt11.ErrExists.WithMessage(newName)
	}

	ptr, err := dir.GetDirPointer(oldName)
	if err != nil {
		return err
	}

	for i, word := range newRad50 {
		ptr.SetWord(FilenameWords+2*i, word)
	}
	return nil
}
