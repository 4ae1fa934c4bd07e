package blockcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
	"github.com/dargueta/rt11/datasource"
)

func newTestCache(t *testing.T, sectors uint) (*datasource.MemoryDataSource, *blockcache.BlockCache) {
	t.Helper()

	source := datasource.NewMemoryDataSource(int64(sectors) * rt11.SectorSize)
	cache, err := blockcache.New(source)
	require.NoError(t, err)
	return source, cache
}

func TestBlock__WordAccessorsUseLittleEndian(t *testing.T) {
	source, cache := newTestCache(t, 16)
	source.Bytes()[0] = 0x34
	source.Bytes()[1] = 0x12

	block, err := cache.GetBlock(0, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	assert.Equal(t, uint16(0x1234), block.Word(0))
	assert.Equal(t, uint8(0x34), block.Byte(0))

	block.SetWord(2, 0xbeef)
	assert.Equal(t, uint8(0xef), block.Byte(2))
	assert.Equal(t, uint8(0xbe), block.Byte(3))
}

func TestBlock__MutatorsSetDirtyAndSyncClears(t *testing.T) {
	source, cache := newTestCache(t, 16)

	block, err := cache.GetBlock(2, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	assert.False(t, block.IsDirty())

	block.SetByte(7, 0x42)
	assert.True(t, block.IsDirty())

	require.NoError(t, cache.Sync())
	assert.False(t, block.IsDirty())
	assert.Equal(t, uint8(0x42), source.Bytes()[2*rt11.SectorSize+7])
}

func TestBlock__AccessorsPanicOutOfRange(t *testing.T) {
	_, cache := newTestCache(t, 16)

	block, err := cache.GetBlock(0, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	assert.Panics(t, func() { block.Byte(rt11.SectorSize) })
	assert.Panics(t, func() { block.Word(rt11.SectorSize - 1) })
	assert.Panics(t, func() { block.SetByte(-1, 0) })
}

func TestBlock__CopyInOutRespectBounds(t *testing.T) {
	_, cache := newTestCache(t, 16)

	block, err := cache.GetBlock(0, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	payload := []byte("HELLO, WORLD")
	require.NoError(t, block.CopyIn(100, payload))

	readBack := make([]byte, len(payload))
	require.NoError(t, block.CopyOut(100, readBack))
	assert.Equal(t, payload, readBack)

	// Crossing the end of the block is an I/O error, not a short copy.
	err = block.CopyIn(rt11.SectorSize-4, payload)
	assert.ErrorIs(t, err, rt11.ErrIOFailed)

	err = block.CopyOut(rt11.SectorSize-4, readBack)
	assert.ErrorIs(t, err, rt11.ErrIOFailed)
}

func TestBlock__CopyWithinHandlesOverlap(t *testing.T) {
	_, cache := newTestCache(t, 16)

	block, err := cache.GetBlock(0, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	require.NoError(t, block.CopyIn(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	// Overlapping forward copy: [0,6) onto [2,8).
	require.NoError(t, block.CopyWithin(0, 2, 6))

	got := make([]byte, 8)
	require.NoError(t, block.CopyOut(0, got))
	assert.Equal(t, []byte{1, 2, 1, 2, 3, 4, 5, 6}, got)

	// Overlapping backward copy: [2,8) onto [0,6).
	require.NoError(t, block.CopyIn(0, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, block.CopyWithin(2, 0, 6))
	require.NoError(t, block.CopyOut(0, got))
	assert.Equal(t, []byte{3, 4, 5, 6, 7, 8, 7, 8}, got)

	err = block.CopyWithin(0, rt11.SectorSize-2, 6)
	assert.ErrorIs(t, err, rt11.ErrIOFailed)
}

func TestBlock__CopyFromOtherBlock(t *testing.T) {
	_, cache := newTestCache(t, 16)

	src, err := cache.GetBlock(1, 1)
	require.NoError(t, err)
	defer cache.PutBlock(src)

	dst, err := cache.GetBlock(5, 1)
	require.NoError(t, err)
	defer cache.PutBlock(dst)

	require.NoError(t, src.CopyIn(0, []byte("SECTOR ONE")))
	require.NoError(t, dst.CopyFromOther(src, 0, 32, 10))

	got := make([]byte, 10)
	require.NoError(t, dst.CopyOut(32, got))
	assert.Equal(t, []byte("SECTOR ONE"), got)

	err = dst.CopyFromOther(src, rt11.SectorSize-2, 0, 10)
	assert.ErrorIs(t, err, rt11.ErrIOFailed)
}

func TestBlock__ZeroFill(t *testing.T) {
	_, cache := newTestCache(t, 16)

	block, err := cache.GetBlock(0, 1)
	require.NoError(t, err)
	defer cache.PutBlock(block)

	require.NoError(t, block.CopyIn(0, []byte{0xff, 0xff, 0xff, 0xff}))
	require.NoError(t, block.ZeroFill(1, 2))

	got := make([]byte, 4)
	require.NoError(t, block.CopyOut(0, got))
	assert.Equal(t, []byte{0xff, 0, 0, 0xff}, got)

	err = block.ZeroFill(rt11.SectorSize, 1)
	assert.ErrorIs(t, err, rt11.ErrIOFailed)
}
