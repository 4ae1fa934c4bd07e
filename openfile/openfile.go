// Package openfile implements the open-file table: small integer handles
// over live directory positions. The table routes file data I/O through the
// block cache and rebinds its handles whenever the directory reports that
// entries moved.
package openfile

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
	"github.com/dargueta/rt11/directory"
)

type openFileEntry struct {
	refcnt int
	dirp   directory.DirPtr
}

// Table tracks every open file on a volume. Entries are reference counted,
// so a file opened twice shares one slot; a slot whose count drops to zero
// is free for reuse.
type Table struct {
	dir       *directory.Directory
	cache     *blockcache.BlockCache
	openFiles []openFileEntry
}

// New creates a table over the given directory and cache.
func New(dir *directory.Directory, cache *blockcache.BlockCache) *Table {
	return &Table{dir: dir, cache: cache}
}

// entry resolves a file descriptor to its live table slot.
func (table *Table) entry(fd int) (*openFileEntry, error) {
	if fd < 0 || fd >= len(table.openFiles) || table.openFiles[fd].refcnt <= 0 {
		return nil, rt11.ErrInvalidFileDescriptor.WithMessage(fmt.Sprintf("fd %d", fd))
	}
	return &table.openFiles[fd], nil
}

// insert stores a pointer in the table, reusing a dead slot if one exists,
// and returns the file descriptor.
func (table *Table) insert(ptr directory.DirPtr) int {
	entry := openFileEntry{refcnt: 1, dirp: ptr}

	for i := range table.openFiles {
		if table.openFiles[i].refcnt == 0 {
			table.openFiles[i] = entry
			return i
		}
	}

	table.openFiles = append(table.openFiles, entry)
	return len(table.openFiles) - 1
}

// OpenFile resolves `name` and returns a descriptor for it. Opening a file
// that is already open returns the existing descriptor with its reference
// count bumped.
func (table *Table) OpenFile(name string) (int, error) {
	ptr, err := table.dir.GetDirPointer(name)
	if err != nil {
		return -1, err
	}

	for i := range table.openFiles {
		entry := &table.openFiles[i]
		if entry.refcnt > 0 && entry.dirp.SamePosition(&ptr) {
			entry.refcnt++
			return i, nil
		}
	}

	return table.insert(ptr), nil
}

// CreateFile creates `name` and opens it. If the file already exists it is
// opened and truncated to zero length instead.
func (table *Table) CreateFile(name string) (int, error) {
	if _, err := table.dir.GetDirPointer(name); err == nil {
		fd, err := table.OpenFile(name)
		if err != nil {
			return -1, err
		}

		if err := table.TruncateFile(fd, 0); err != nil {
			table.CloseFile(fd)
			return -1, err
		}
		return fd, nil
	}

	ptr, moves, err := table.dir.CreateEntry(name)
	if err != nil {
		return -1, err
	}

	table.applyMoves(moves)
	return table.insert(ptr), nil
}

// CloseFile drops one reference to a descriptor. Releasing the last
// reference commits a tentative entry and syncs the cache.
func (table *Table) CloseFile(fd int) error {
	entry, err := table.entry(fd)
	if err != nil {
		return err
	}

	entry.refcnt--
	if entry.refcnt > 0 {
		return nil
	}

	table.dir.MakeEntryPermanent(&entry.dirp)
	return table.cache.Sync()
}

// ReadFile reads up to len(buf) bytes at `offset` into buf. Reads are
// clamped at end of file; a short count is not an error.
func (table *Table) ReadFile(fd int, buf []byte, offset int64) (int, error) {
	entry, err := table.entry(fd)
	if err != nil {
		return 0, err
	}

	dirp := &entry.dirp
	fileSectors := dirp.Length()
	sector0 := dirp.DataSector()

	end := offset + int64(len(buf))
	got := 0

	for offset < end {
		sector := uint(offset / rt11.SectorSize)
		if sector >= fileSectors {
			break
		}

		secoffs := int(offset % rt11.SectorSize)
		toCopy := len(buf) - got
		if left := rt11.SectorSize - secoffs; toCopy > left {
			toCopy = left
		}

		block, err := table.cache.GetBlock(sector0+sector, 1)
		if err != nil {
			return got, err
		}

		err = block.CopyOut(secoffs, buf[got:got+toCopy])
		table.cache.PutBlock(block)
		if err != nil {
			return got, err
		}

		got += toCopy
		offset += int64(toCopy)
	}

	return got, nil
}

// WriteFile writes buf at `offset`, growing the file first when the write
// extends past its current length. When the file grows, the tail of its
// last sector beyond the written range is zero-filled: relocation can leave
// stale bytes there.
func (table *Table) WriteFile(fd int, buf []byte, offset int64) (int, error) {
	entry, err := table.entry(fd)
	if err != nil {
		return 0, err
	}

	end := offset + int64(len(buf))
	length := int64(entry.dirp.Length()) * rt11.SectorSize
	extending := end > length

	if extending {
		// Truncate through a scratch pointer; applyMoves rebinds the table
		// slot itself, along with any other handle the grow displaced.
		scratch := entry.dirp
		moves, err := table.dir.Truncate(&scratch, end)
		if err != nil {
			return 0, err
		}
		table.applyMoves(moves)
	}

	dirp := &entry.dirp
	sector0 := dirp.DataSector()
	got := 0

	for offset < end {
		sector := uint(offset / rt11.SectorSize)
		secoffs := int(offset % rt11.SectorSize)

		toCopy := len(buf) - got
		if left := rt11.SectorSize - secoffs; toCopy > left {
			toCopy = left
		}

		block, err := table.cache.GetBlock(sector0+sector, 1)
		if err != nil {
			return got, err
		}

		err = block.CopyIn(secoffs, buf[got:got+toCopy])
		if err == nil && extending && secoffs+toCopy < rt11.SectorSize {
			err = block.ZeroFill(secoffs+toCopy, rt11.SectorSize-(secoffs+toCopy))
		}
		table.cache.PutBlock(block)
		if err != nil {
			return got, err
		}

		got += toCopy
		offset += int64(toCopy)
	}

	return got, nil
}

// TruncateFile resizes an open file and rebinds any handles the resize
// moved.
func (table *Table) TruncateFile(fd int, newSize int64) error {
	entry, err := table.entry(fd)
	if err != nil {
		return err
	}

	scratch := entry.dirp
	moves, err := table.dir.Truncate(&scratch, newSize)
	if err != nil {
		return err
	}

	table.applyMoves(moves)
	return nil
}

// Unlink removes a file by name and rebinds handles displaced by the
// removal's coalescing.
func (table *Table) Unlink(name string) error {
	moves, err := table.dir.RemoveEntry(name)
	if err != nil {
		return err
	}

	table.applyMoves(moves)
	return nil
}

// applyMoves retargets every live handle whose position appears in the move
// list. Handles not named by a move keep their cached position and data
// sector: entry movement never changes where the underlying file's data
// lives.
func (table *Table) applyMoves(moves []directory.Move) {
	// Match first, then retarget: every From in the list is a position from
	// before the operation, and a handle that has been retargeted must not
	// match a later move's From.
	type rebinding struct {
		entry *openFileEntry
		move  directory.Move
	}

	var rebindings []rebinding
	for i := range table.openFiles {
		entry := &table.openFiles[i]
		if entry.refcnt <= 0 {
			continue
		}

		for _, move := range moves {
			if entry.dirp.Segment() == move.FromSegment && entry.dirp.Index() == move.FromIndex {
				rebindings = append(rebindings, rebinding{entry: entry, move: move})
				break
			}
		}
	}

	for _, r := range rebindings {
		r.entry.dirp = table.dir.PointerAt(r.move.ToSegment, r.move.ToIndex)
	}
}
