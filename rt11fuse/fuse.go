// Package rt11fuse adapts a mounted volume to FUSE. RT-11 has a single
// flat directory, so the adapter exposes one root holding every file; the
// kernel's file handles are open-file-table descriptors, and inode numbers
// are fabricated per name since the on-disk format has none.
//
// The core driver is strictly single threaded, so every operation takes one
// big lock before touching it.
package rt11fuse

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/directory"
	"github.com/dargueta/rt11/fs"
)

type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	mu     sync.Mutex
	volume *fs.FileSystem

	nextInode   fuseops.InodeID
	inodeToName map[fuseops.InodeID]string
	nameToInode map[string]fuseops.InodeID
}

// NewServer wraps a mounted volume in a FUSE server.
func NewServer(volume *fs.FileSystem) fuse.Server {
	return fuseutil.NewFileSystemServer(&fileSystem{
		volume:      volume,
		nextInode:   fuseops.RootInodeID + 1,
		inodeToName: make(map[fuseops.InodeID]string),
		nameToInode: make(map[string]fuseops.InodeID),
	})
}

// MountAndServe mounts the volume at `mountPoint` and blocks until the file
// system is unmounted.
func MountAndServe(ctx context.Context, volume *fs.FileSystem, mountPoint string) error {
	mounted, err := fuse.Mount(mountPoint, NewServer(volume), &fuse.MountConfig{
		FSName:   "rt11fs",
		Subtype:  "rt11",
		ReadOnly: false,
	})
	if err != nil {
		return err
	}

	return mounted.Join(ctx)
}

// mapError converts a driver error to the errno FUSE should report.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var driverErr rt11.DriverError
	if !errors.As(err, &driverErr) {
		return err
	}

	switch driverErr.Errno() {
	case rt11.ENOENT:
		return syscall.ENOENT
	case rt11.EINVAL:
		return syscall.EINVAL
	case rt11.ENOSPC:
		return syscall.ENOSPC
	case rt11.EBADF:
		return syscall.EBADF
	case rt11.EEXIST:
		return syscall.EEXIST
	case rt11.ENAMETOOLONG:
		return syscall.ENAMETOOLONG
	case rt11.EROFS:
		return syscall.EROFS
	case rt11.EPERM:
		return syscall.EPERM
	case rt11.ENOSYS:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}

// inodeFor returns the inode assigned to a name, minting one on first use.
func (fs *fileSystem) inodeFor(name string) fuseops.InodeID {
	if inode, ok := fs.nameToInode[name]; ok {
		return inode
	}

	inode := fs.nextInode
	fs.nextInode++
	fs.nameToInode[name] = inode
	fs.inodeToName[inode] = name
	return inode
}

var rootAttributes = fuseops.InodeAttributes{
	Nlink: 1,
	Mode:  os.ModeDir | 0o777,
}

// attributesFor shapes a directory entry into inode attributes the way the
// original FUSE layer did: regular file, writable unless the read-only bit
// is set, modification time from the creation date.
func attributesFor(ent directory.DirEnt) fuseops.InodeAttributes {
	mode := os.FileMode(0o444)
	if ent.Status&directory.StatusReadOnly == 0 {
		mode |= 0o222
	}

	return fuseops.InodeAttributes{
		Size:  uint64(ent.Length),
		Nlink: 1,
		Mode:  mode,
		Mtime: ent.CreateTime,
		Ctime: ent.CreateTime,
	}
}

func (fs *fileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	stat := fs.volume.Statfs()
	op.BlockSize = uint32(stat.BlockSize)
	op.IoSize = uint32(stat.BlockSize)
	op.Blocks = stat.TotalBlocks
	op.BlocksFree = stat.FreeBlocks
	op.BlocksAvailable = stat.FreeBlocks
	op.Inodes = stat.TotalFiles
	op.InodesFree = stat.FreeFiles
	return nil
}

func (fs *fileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}

	ent, err := fs.volume.Directory().GetEntByName(op.Name)
	if err != nil {
		// A name outside the RAD50 alphabet can't exist on the volume.
		return syscall.ENOENT
	}

	op.Entry.Child = fs.inodeFor(ent.Name)
	op.Entry.Attributes = attributesFor(ent)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode == fuseops.RootInodeID {
		op.Attributes = rootAttributes
		return nil
	}

	name, ok := fs.inodeToName[op.Inode]
	if !ok {
		return syscall.ENOENT
	}

	ent, err := fs.volume.Directory().GetEntByName(name)
	if err != nil {
		return mapError(err)
	}

	op.Attributes = attributesFor(ent)
	return nil
}

func (fs *fileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode == fuseops.RootInodeID {
		return syscall.EPERM
	}

	name, ok := fs.inodeToName[op.Inode]
	if !ok {
		return syscall.ENOENT
	}

	if op.Size != nil {
		table := fs.volume.Files()
		fd, err := table.OpenFile(name)
		if err != nil {
			return mapError(err)
		}

		err = table.TruncateFile(fd, int64(*op.Size))
		closeErr := table.CloseFile(fd)
		if err != nil {
			return mapError(err)
		}
		if closeErr != nil {
			return mapError(closeErr)
		}
	}

	ent, err := fs.volume.Directory().GetEntByName(name)
	if err != nil {
		return mapError(err)
	}

	op.Attributes = attributesFor(ent)
	return nil
}

func (fs *fileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if name, ok := fs.inodeToName[op.Inode]; ok {
		delete(fs.inodeToName, op.Inode)
		delete(fs.nameToInode, name)
	}
	return nil
}

func (fs *fileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}

	fd, err := fs.volume.Files().CreateFile(op.Name)
	if err != nil {
		return mapError(err)
	}

	ent, err := fs.volume.Directory().GetEntByName(op.Name)
	if err != nil {
		return mapError(err)
	}

	op.Handle = fuseops.HandleID(fd)
	op.Entry.Child = fs.inodeFor(ent.Name)
	op.Entry.Attributes = attributesFor(ent)
	return nil
}

func (fs *fileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.OldParent != fuseops.RootInodeID || op.NewParent != fuseops.RootInodeID {
		return syscall.ENOENT
	}

	err := fs.volume.Directory().Rename(op.OldName, op.NewName)
	if err != nil {
		return mapError(err)
	}

	if inode, ok := fs.nameToInode[op.OldName]; ok {
		delete(fs.nameToInode, op.OldName)
		fs.nameToInode[op.NewName] = inode
		fs.inodeToName[inode] = op.NewName
	}
	return nil
}

func (fs *fileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID {
		return syscall.ENOENT
	}

	err := fs.volume.Files().Unlink(op.Name)
	if err != nil {
		return mapError(err)
	}

	if inode, ok := fs.nameToInode[op.Name]; ok {
		delete(fs.nameToInode, op.Name)
		delete(fs.inodeToName, inode)
	}
	return nil
}

func (fs *fileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}
	return nil
}

func (fs *fileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fuseops.RootInodeID {
		return syscall.ENOTDIR
	}

	var names []string
	scan := fs.volume.Directory().StartScan()
	for fs.volume.Directory().MoveNextFiltered(&scan, directory.StatusPermanent) {
		if ent, ok := fs.volume.Directory().GetEnt(&scan); ok {
			names = append(names, ent.Name)
		}
	}
	sort.Strings(names)

	for i := int(op.Offset); i < len(names); i++ {
		dirent := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fs.inodeFor(names[i]),
			Name:   names[i],
			Type:   fuseutil.DT_File,
		}

		written := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dirent)
		if written == 0 {
			break
		}
		op.BytesRead += written
	}

	return nil
}

func (fs *fileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	name, ok := fs.inodeToName[op.Inode]
	if !ok {
		return syscall.ENOENT
	}

	fd, err := fs.volume.Files().OpenFile(name)
	if err != nil {
		return mapError(err)
	}

	op.Handle = fuseops.HandleID(fd)
	return nil
}

func (fs *fileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.volume.Files().ReadFile(int(op.Handle), op.Dst, op.Offset)
	if err != nil {
		return mapError(err)
	}

	op.BytesRead = n
	return nil
}

func (fs *fileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.volume.Files().WriteFile(int(op.Handle), op.Data, op.Offset)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (fs *fileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return mapError(fs.volume.Sync())
}

func (fs *fileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return mapError(fs.volume.Sync())
}

func (fs *fileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return mapError(fs.volume.Files().CloseFile(int(op.Handle)))
}
