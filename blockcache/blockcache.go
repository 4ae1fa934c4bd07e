package blockcache

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
)

// BlockCache owns every block of a mounted volume. It hands out
// reference-counted handles, keeps the set sorted by sector and free of
// overlaps, and is the single path between the driver and the data source.
//
// The cache performs no locking; the driver serializes all operations.
type BlockCache struct {
	source  datasource.DataSource
	sectors uint

	// Sorted by starting sector. Blocks are retained for the lifetime of the
	// mount regardless of reference count; the count only tells us whether a
	// caller currently holds the block.
	blocks []*Block
}

// New creates a cache over `source`. The volume's sector count is derived
// from the source's size; a trailing partial sector is ignored.
func New(source datasource.DataSource) (*BlockCache, error) {
	size, err := source.Size()
	if err != nil {
		return nil, rt11.ErrIOFailed.WithMessage("could not stat disk image").Wrap(err)
	}

	return &BlockCache{
		source:  source,
		sectors: uint(size / rt11.SectorSize),
	}, nil
}

// VolumeSectors returns the total number of sectors on the volume.
func (cache *BlockCache) VolumeSectors() uint {
	return cache.sectors
}

// GetBlock returns a handle to the block covering [sector, sector+count).
//
// A cache hit must match the existing block's span exactly; a request that
// overlaps a cached block without matching it is invalid. On a miss the
// data is read through the data source and the new block is inserted in
// sector order. Every successful GetBlock must be balanced by PutBlock.
func (cache *BlockCache) GetBlock(sector, count uint) (*Block, error) {
	if count == 0 {
		return nil, rt11.ErrInvalidArgument.WithMessage("block must cover at least one sector")
	}
	if sector+count > cache.sectors {
		return nil, rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"sectors [%d, %d) not on volume of %d sectors",
				sector,
				sector+count,
				cache.sectors,
			),
		)
	}

	insertAt := len(cache.blocks)
	for i, cached := range cache.blocks {
		if cached.sector == sector {
			if cached.count != count {
				return nil, rt11.ErrInvalidArgument.WithMessage(
					fmt.Sprintf(
						"cached block at sector %d covers %d sector(s), not %d",
						sector,
						cached.count,
						count,
					),
				)
			}
			cached.refcount++
			return cached, nil
		}

		if sector >= cached.sector+cached.count {
			continue
		}

		if sector+count <= cached.sector {
			// Fully before this block; the request misses the cache.
			insertAt = i
			break
		}

		return nil, rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"request for sectors [%d, %d) would overlap cached block [%d, %d)",
				sector,
				sector+count,
				cached.sector,
				cached.sector+cached.count,
			),
		)
	}

	block := newBlock(sector, count)
	if err := block.read(cache.source); err != nil {
		return nil, err
	}
	block.refcount = 1

	cache.blocks = append(cache.blocks, nil)
	copy(cache.blocks[insertAt+1:], cache.blocks[insertAt:])
	cache.blocks[insertAt] = block
	return block, nil
}

// PutBlock releases a handle obtained from GetBlock. The block stays cached
// and keeps its dirty state even at a reference count of zero.
func (cache *BlockCache) PutBlock(block *Block) {
	if block.refcount <= 0 {
		panic(fmt.Sprintf(
			"block at sector %d released more times than it was acquired", block.sector,
		))
	}
	block.refcount--
}

// ResizeBlock changes the number of sectors a block spans. Growth is
// rejected if the block would overlap the next cached block or run off the
// volume; the added sectors are filled by reading through the data source.
// Shrinking truncates in place.
func (cache *BlockCache) ResizeBlock(block *Block, count uint) error {
	if count == 0 {
		return rt11.ErrInvalidArgument.WithMessage("cannot resize block to zero sectors")
	}
	if block.sector+count > cache.sectors {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"resize to sectors [%d, %d) crosses volume end at %d",
				block.sector,
				block.sector+count,
				cache.sectors,
			),
		)
	}

	index := -1
	for i, cached := range cache.blocks {
		if cached == block {
			index = i
			break
		}
	}
	if index < 0 {
		return rt11.ErrInvalidArgument.WithMessage("block is not in the cache")
	}

	if index+1 < len(cache.blocks) {
		next := cache.blocks[index+1]
		if block.sector+count > next.sector {
			return rt11.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"resize to sectors [%d, %d) would overlap cached block at %d",
					block.sector,
					block.sector+count,
					next.sector,
				),
			)
		}
	}

	return block.resize(count, cache.source)
}

// Sync writes every dirty block back to the data source and marks it clean.
func (cache *BlockCache) Sync() error {
	for _, block := range cache.blocks {
		if !block.dirty {
			continue
		}
		if err := block.write(cache.source); err != nil {
			return err
		}
	}
	return nil
}
