// Package fs ties the driver together: a FileSystem value owns the data
// source, block cache, directory, and open-file table of one mounted
// volume. It also knows how to lay out a fresh empty volume.
package fs

import (
	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/blockcache"
	"github.com/dargueta/rt11/datasource"
	"github.com/dargueta/rt11/directory"
	"github.com/dargueta/rt11/openfile"
)

// FileSystem is a mounted RT-11 volume.
type FileSystem struct {
	source datasource.DataSource
	cache  *blockcache.BlockCache
	dir    *directory.Directory
	files  *openfile.Table
}

// Mount builds the driver stack over a volume image. The directory is
// validated during construction; a corrupt volume fails to mount.
func Mount(source datasource.DataSource) (*FileSystem, error) {
	cache, err := blockcache.New(source)
	if err != nil {
		return nil, err
	}

	dir, err := directory.New(cache)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		source: source,
		cache:  cache,
		dir:    dir,
		files:  openfile.New(dir, cache),
	}, nil
}

// Directory exposes the volume's directory layer.
func (fs *FileSystem) Directory() *directory.Directory {
	return fs.dir
}

// Files exposes the volume's open-file table.
func (fs *FileSystem) Files() *openfile.Table {
	return fs.files
}

// Cache exposes the volume's block cache.
func (fs *FileSystem) Cache() *blockcache.BlockCache {
	return fs.cache
}

// Statfs reports statistics about the mounted volume.
func (fs *FileSystem) Statfs() rt11.FSStat {
	return fs.dir.Statfs()
}

// Sync writes every dirty cached block back to the image.
func (fs *FileSystem) Sync() error {
	return fs.cache.Sync()
}

// Unmount flushes the volume and releases the directory. The FileSystem
// must not be used afterwards.
func (fs *FileSystem) Unmount() error {
	err := fs.cache.Sync()
	fs.dir.Release()
	return err
}

// ListEntry is one row of a volume listing.
type ListEntry struct {
	Segment int
	Index   int
	IsFree  bool
	Ent     directory.DirEnt
}

// List walks the whole directory and reports every entry, free space
// included, in on-disk order.
func (fs *FileSystem) List() []ListEntry {
	var entries []ListEntry

	ptr := fs.dir.StartScan()
	for ptr.Increment(); !ptr.AfterEnd(); ptr.Increment() {
		if ptr.HasStatus(directory.StatusEndOfSeg) {
			continue
		}

		ent, ok := fs.dir.GetEnt(&ptr)
		if !ok {
			continue
		}

		entries = append(entries, ListEntry{
			Segment: ptr.Segment(),
			Index:   ptr.Index(),
			IsFree:  ptr.HasStatus(directory.StatusEmpty),
			Ent:     ent,
		})
	}

	return entries
}
