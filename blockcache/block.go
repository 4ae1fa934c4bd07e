// Package blockcache mediates all access to the sectors of a mounted volume.
// Blocks are contiguous runs of sectors buffered in memory; the cache keeps
// them sorted, non-overlapping, and reference counted, reads them through
// the data source on demand, and writes dirty blocks back on Sync.
package blockcache

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
)

// Block is a contiguous run of sectors buffered in memory.
//
// Word values are stored in PDP-11 (little-endian) byte order. The Byte,
// Word, SetByte, and SetWord accessors panic on out-of-range offsets, as
// those indicate a bug in the caller rather than a condition of the volume;
// the bulk copy operations return I/O errors instead because their ranges
// are commonly derived from on-disk lengths.
type Block struct {
	sector   uint
	count    uint
	dirty    bool
	refcount int
	data     []byte
}

func newBlock(sector, count uint) *Block {
	return &Block{
		sector: sector,
		count:  count,
		data:   make([]byte, count*rt11.SectorSize),
	}
}

// Sector returns the first sector covered by the block.
func (block *Block) Sector() uint {
	return block.sector
}

// Count returns the number of sectors the block covers.
func (block *Block) Count() uint {
	return block.count
}

// Size returns the block length in bytes.
func (block *Block) Size() int {
	return len(block.data)
}

// IsDirty reports whether the block has been modified since it was last
// read from or written to the data source.
func (block *Block) IsDirty() bool {
	return block.dirty
}

func (block *Block) checkOffset(offset, width int) {
	if offset < 0 || offset+width > len(block.data) {
		panic(fmt.Sprintf(
			"block access of %d bytes at offset %d not in [0, %d)",
			width,
			offset,
			len(block.data),
		))
	}
}

// Byte returns the byte at `offset`.
func (block *Block) Byte(offset int) uint8 {
	block.checkOffset(offset, 1)
	return block.data[offset]
}

// Word returns the little-endian word at `offset`.
func (block *Block) Word(offset int) uint16 {
	block.checkOffset(offset, 2)
	return uint16(block.data[offset]) | uint16(block.data[offset+1])<<8
}

// SetByte stores a byte at `offset` and marks the block dirty.
func (block *Block) SetByte(offset int, value uint8) {
	block.checkOffset(offset, 1)
	block.data[offset] = value
	block.dirty = true
}

// SetWord stores a word at `offset` in little-endian order and marks the
// block dirty.
func (block *Block) SetWord(offset int, value uint16) {
	block.checkOffset(offset, 2)
	block.data[offset] = uint8(value & 0xff)
	block.data[offset+1] = uint8(value >> 8)
	block.dirty = true
}

// checkRange validates a bulk copy range, returning an I/O error when it
// would cross the block boundary.
func (block *Block) checkRange(offset, count, size int, what string) error {
	if offset < 0 || count < 0 || offset+count > size {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"%s of %d bytes at offset %d not in [0, %d)",
				what,
				count,
				offset,
				size,
			),
		)
	}
	return nil
}

// CopyOut copies `len(dest)` bytes starting at `offset` into a caller
// buffer.
func (block *Block) CopyOut(offset int, dest []byte) error {
	err := block.checkRange(offset, len(dest), len(block.data), "copy out")
	if err != nil {
		return err
	}

	copy(dest, block.data[offset:])
	return nil
}

// CopyIn copies a caller buffer into the block at `offset` and marks the
// block dirty.
func (block *Block) CopyIn(offset int, src []byte) error {
	err := block.checkRange(offset, len(src), len(block.data), "copy in")
	if err != nil {
		return err
	}

	copy(block.data[offset:], src)
	block.dirty = true
	return nil
}

// CopyWithin moves `count` bytes from `sourceOffset` to `destOffset` inside
// the block. Overlapping ranges are handled correctly.
func (block *Block) CopyWithin(sourceOffset, destOffset, count int) error {
	err := block.checkRange(sourceOffset, count, len(block.data), "copy within")
	if err != nil {
		return err
	}
	err = block.checkRange(destOffset, count, len(block.data), "copy within")
	if err != nil {
		return err
	}

	// The built-in copy is defined to behave as if through an intermediate
	// buffer, so overlap is fine in either direction.
	copy(block.data[destOffset:destOffset+count], block.data[sourceOffset:sourceOffset+count])
	block.dirty = true
	return nil
}

// CopyFromOther copies `count` bytes out of another block into this one.
func (block *Block) CopyFromOther(source *Block, sourceOffset, destOffset, count int) error {
	err := block.checkRange(sourceOffset, count, len(source.data), "copy between blocks")
	if err != nil {
		return err
	}
	err = block.checkRange(destOffset, count, len(block.data), "copy between blocks")
	if err != nil {
		return err
	}

	copy(block.data[destOffset:destOffset+count], source.data[sourceOffset:sourceOffset+count])
	block.dirty = true
	return nil
}

// ZeroFill clears `count` bytes starting at `offset`.
func (block *Block) ZeroFill(offset, count int) error {
	err := block.checkRange(offset, count, len(block.data), "zero fill")
	if err != nil {
		return err
	}

	for i := offset; i < offset+count; i++ {
		block.data[i] = 0
	}
	block.dirty = true
	return nil
}

// read fills the block from the data source. The caller is responsible for
// writing the block out first if it is dirty.
func (block *Block) read(source datasource.DataSource) error {
	offset := int64(block.sector) * rt11.SectorSize
	err := source.ReadAt(block.data, offset)
	if err != nil {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf("could not read %d sector(s) at %d", block.count, block.sector),
		).Wrap(err)
	}

	block.dirty = false
	return nil
}

// write stores the block's bytes back into the data source.
func (block *Block) write(source datasource.DataSource) error {
	offset := int64(block.sector) * rt11.SectorSize
	err := source.WriteAt(block.data, offset)
	if err != nil {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf("could not write %d sector(s) at %d", block.count, block.sector),
		).Wrap(err)
	}

	block.dirty = false
	return nil
}

// resize grows or shrinks the block in place. Growth reads the new sectors
// from the data source; on a read failure the block is restored to its
// original span.
func (block *Block) resize(newCount uint, source datasource.DataSource) error {
	if newCount <= block.count {
		block.data = block.data[:newCount*rt11.SectorSize]
		block.count = newCount
		return nil
	}

	grown := make([]byte, newCount*rt11.SectorSize)
	copy(grown, block.data)

	tail := grown[block.count*rt11.SectorSize:]
	offset := int64(block.sector+block.count) * rt11.SectorSize
	if err := source.ReadAt(tail, offset); err != nil {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"could not backfill sectors [%d, %d) while growing block",
				block.sector+block.count,
				block.sector+newCount,
			),
		).Wrap(err)
	}

	block.data = grown
	block.count = newCount
	return nil
}
