package datasource

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/rt11"
)

// FileDataSource is a [DataSource] backed by a disk image file.
type FileDataSource struct {
	file *os.File
}

// NewFileDataSource wraps an open image file. The caller retains ownership
// of the handle; Close releases it.
func NewFileDataSource(file *os.File) *FileDataSource {
	return &FileDataSource{file: file}
}

// OpenFileDataSource opens the image at `path` for reading and writing.
func OpenFileDataSource(path string) (*FileDataSource, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, rt11.ErrNotFound.Wrap(err)
	}
	return &FileDataSource{file: file}, nil
}

func (source *FileDataSource) Size() (int64, error) {
	info, err := source.file.Stat()
	if err != nil {
		return 0, rt11.ErrIOFailed.Wrap(err)
	}
	return info.Size(), nil
}

func (source *FileDataSource) ReadAt(p []byte, offset int64) error {
	n, err := source.file.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return rt11.ErrIOFailed.Wrap(err)
	}
	if n != len(p) {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf("short read: %d of %d bytes at offset %d", n, len(p), offset),
		)
	}
	return nil
}

func (source *FileDataSource) WriteAt(p []byte, offset int64) error {
	n, err := source.file.WriteAt(p, offset)
	if err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}
	if n != len(p) {
		return rt11.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write: %d of %d bytes at offset %d", n, len(p), offset),
		)
	}
	return nil
}

// Close closes the underlying image file.
func (source *FileDataSource) Close() error {
	return source.file.Close()
}
