// Command rt11fs manages RT-11 disk image files: create them, list and copy
// their contents, and mount them over FUSE.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
	"github.com/dargueta/rt11/directory"
	"github.com/dargueta/rt11/disks"
	"github.com/dargueta/rt11/fs"
	"github.com/dargueta/rt11/rt11fuse"
)

func main() {
	app := cli.App{
		Name:  "rt11fs",
		Usage: "Manage RT-11 disk image files",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe an image",
				Action:    formatImage,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "device",
						Usage: "drive type to size the image as (see `rt11fs devices`)",
					},
					&cli.UintFlag{
						Name:  "sectors",
						Usage: "image size in 512-byte sectors",
					},
					&cli.IntFlag{
						Name:  "segments",
						Usage: "directory segments to allocate",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "extra",
						Usage: "extra bytes to reserve on each directory entry",
					},
				},
			},
			{
				Name:   "devices",
				Usage:  "List the known drive geometries",
				Action: listDevices,
			},
			{
				Name:      "ls",
				Usage:     "List the directory of an image",
				Action:    listImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "info",
				Usage:     "Print file system statistics",
				Action:    imageInfo,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "check",
						Usage: "also validate the directory's structural invariants",
					},
				},
			},
			{
				Name:      "cat",
				Usage:     "Copy a file out of the image to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE NAME",
			},
			{
				Name:      "put",
				Usage:     "Copy a local file into the image",
				Action:    putFile,
				ArgsUsage: "IMAGE LOCAL_FILE NAME",
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from the image",
				Action:    removeFile,
				ArgsUsage: "IMAGE NAME",
			},
			{
				Name:      "mv",
				Usage:     "Rename a file inside the image",
				Action:    renameFile,
				ArgsUsage: "IMAGE OLD_NAME NEW_NAME",
			},
			{
				Name:      "mount",
				Usage:     "Mount the image over FUSE until unmounted",
				Action:    mountImage,
				ArgsUsage: "IMAGE MOUNTPOINT",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// withMountedImage opens the image named by the first CLI argument, mounts
// it, runs `action`, and unmounts.
func withMountedImage(context *cli.Context, action func(*fs.FileSystem) error) error {
	if context.NArg() < 1 {
		return fmt.Errorf("an image path is required")
	}

	source, err := datasource.OpenFileDataSource(context.Args().Get(0))
	if err != nil {
		return err
	}
	defer source.Close()

	volume, err := fs.Mount(source)
	if err != nil {
		return err
	}

	actionErr := action(volume)
	unmountErr := volume.Unmount()
	if actionErr != nil {
		return actionErr
	}
	return unmountErr
}

func formatImage(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("exactly one image path is required")
	}
	path := context.Args().Get(0)

	sectors := context.Uint("sectors")
	segments := context.Int("segments")

	if slug := context.String("device"); slug != "" {
		geometry, err := disks.Lookup(slug)
		if err != nil {
			return err
		}
		sectors = geometry.TotalSectors
		if !context.IsSet("segments") {
			segments = geometry.DirSegments
		}
	}

	if sectors == 0 {
		return fmt.Errorf("either --device or --sectors is required")
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(int64(sectors) * rt11.SectorSize); err != nil {
		return err
	}

	source := datasource.NewFileDataSource(file)
	return fs.Format(source, segments, context.Int("extra"))
}

func listDevices(context *cli.Context) error {
	geometries, err := disks.All()
	if err != nil {
		return err
	}

	for _, geometry := range geometries {
		fmt.Printf(
			"%-6s %8d sectors, %2d dir segment(s)  %s\n",
			geometry.Slug,
			geometry.TotalSectors,
			geometry.DirSegments,
			geometry.Name,
		)
	}
	return nil
}

func listImage(context *cli.Context) error {
	return withMountedImage(context, func(volume *fs.FileSystem) error {
		fmt.Println("SEG,IDX ---NAME--- LENGTH SECTOR DATE       FLAGS")

		for _, row := range volume.List() {
			name := row.Ent.Name
			if row.IsFree {
				name = "<FREE>"
			}

			date := "    -  -  "
			if !row.Ent.CreateTime.IsZero() {
				date = row.Ent.CreateTime.Format("2006-01-02")
			}

			fmt.Printf(
				"%3d,%3d %-10s %6d %6d %s %s\n",
				row.Segment,
				row.Index,
				name,
				row.Ent.Length/rt11.SectorSize,
				row.Ent.Sector0,
				date,
				statusFlags(row.Ent.Status),
			)
		}
		return nil
	})
}

func statusFlags(status uint16) string {
	flags := ""
	for _, flag := range []struct {
		bit  uint16
		name string
	}{
		{directory.StatusTentative, "TEN"},
		{directory.StatusEmpty, "MPT"},
		{directory.StatusPermanent, "PRM"},
		{directory.StatusReadOnly, "RDO"},
		{directory.StatusProtected, "PRT"},
		{directory.StatusHasPrefix, "PRE"},
	} {
		if status&flag.bit != 0 {
			if flags != "" {
				flags += " "
			}
			flags += flag.name
		}
	}
	return flags
}

func imageInfo(context *cli.Context) error {
	return withMountedImage(context, func(volume *fs.FileSystem) error {
		stat := volume.Statfs()
		fmt.Printf("block size:    %d\n", stat.BlockSize)
		fmt.Printf("total blocks:  %d\n", stat.TotalBlocks)
		fmt.Printf("free blocks:   %d\n", stat.FreeBlocks)
		fmt.Printf("total files:   %d\n", stat.TotalFiles)
		fmt.Printf("free files:    %d\n", stat.FreeFiles)

		if context.Bool("check") {
			if err := volume.Directory().Check(); err != nil {
				return err
			}
			fmt.Println("directory invariants: ok")
		}
		return nil
	})
}

func catFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("an image path and a file name are required")
	}
	name := context.Args().Get(1)

	return withMountedImage(context, func(volume *fs.FileSystem) error {
		ent, err := volume.Directory().GetEntByName(name)
		if err != nil {
			return err
		}

		fd, err := volume.Files().OpenFile(name)
		if err != nil {
			return err
		}
		defer volume.Files().CloseFile(fd)

		buffer := make([]byte, ent.Length)
		n, err := volume.Files().ReadFile(fd, buffer, 0)
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(buffer[:n])
		return err
	})
}

func putFile(context *cli.Context) error {
	if context.NArg() != 3 {
		return fmt.Errorf("an image path, a local file, and a file name are required")
	}
	localPath := context.Args().Get(1)
	name := context.Args().Get(2)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	return withMountedImage(context, func(volume *fs.FileSystem) error {
		fd, err := volume.Files().CreateFile(name)
		if err != nil {
			return err
		}

		_, err = volume.Files().WriteFile(fd, data, 0)
		closeErr := volume.Files().CloseFile(fd)
		if err != nil {
			return err
		}
		return closeErr
	})
}

func removeFile(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("an image path and a file name are required")
	}
	name := context.Args().Get(1)

	return withMountedImage(context, func(volume *fs.FileSystem) error {
		return volume.Files().Unlink(name)
	})
}

func renameFile(context *cli.Context) error {
	if context.NArg() != 3 {
		return fmt.Errorf("an image path and two file names are required")
	}
	oldName := context.Args().Get(1)
	newName := context.Args().Get(2)

	return withMountedImage(context, func(volume *fs.FileSystem) error {
		return volume.Directory().Rename(oldName, newName)
	})
}

func mountImage(cliContext *cli.Context) error {
	if cliContext.NArg() != 2 {
		return fmt.Errorf("an image path and a mount point are required")
	}
	mountPoint := cliContext.Args().Get(1)

	return withMountedImage(cliContext, func(volume *fs.FileSystem) error {
		return rt11fuse.MountAndServe(context.Background(), volume, mountPoint)
	})
}
