package datasource

import (
	"fmt"
	"io"

	"github.com/dargueta/rt11"
	"github.com/xaionaro-go/bytesextra"
)

// MemoryDataSource is a [DataSource] over an in-memory image buffer. It
// exists for tests and for formatting new images; the backing bytes stay
// visible to the caller through Bytes.
type MemoryDataSource struct {
	storage []byte
	stream  io.ReadWriteSeeker
}

// NewMemoryDataSource creates a zero-filled in-memory image of `size` bytes.
func NewMemoryDataSource(size int64) *MemoryDataSource {
	storage := make([]byte, size)
	return &MemoryDataSource{
		storage: storage,
		stream:  bytesextra.NewReadWriteSeeker(storage),
	}
}

// NewMemoryDataSourceFromBytes wraps an existing image buffer. The buffer is
// used directly, not copied, so writes through the source are visible to the
// caller.
func NewMemoryDataSourceFromBytes(storage []byte) *MemoryDataSource {
	return &MemoryDataSource{
		storage: storage,
		stream:  bytesextra.NewReadWriteSeeker(storage),
	}
}

// Bytes exposes the backing buffer.
func (source *MemoryDataSource) Bytes() []byte {
	return source.storage
}

func (source *MemoryDataSource) Size() (int64, error) {
	return int64(len(source.storage)), nil
}

// checkBounds verifies a transfer of `count` bytes at `offset` stays inside
// the buffer.
func (source *MemoryDataSource) checkBounds(count int, offset int64) error {
	if offset < 0 || offset+int64(count) > int64(len(source.storage)) {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"transfer of %d bytes at offset %d not in [0, %d)",
				count,
				offset,
				len(source.storage),
			),
		)
	}
	return nil
}

func (source *MemoryDataSource) ReadAt(p []byte, offset int64) error {
	if err := source.checkBounds(len(p), offset); err != nil {
		return err
	}

	if _, err := source.stream.Seek(offset, io.SeekStart); err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}
	if _, err := io.ReadFull(source.stream, p); err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (source *MemoryDataSource) WriteAt(p []byte, offset int64) error {
	if err := source.checkBounds(len(p), offset); err != nil {
		return err
	}

	if _, err := source.stream.Seek(offset, io.SeekStart); err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}
	if _, err := source.stream.Write(p); err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}
	return nil
}
