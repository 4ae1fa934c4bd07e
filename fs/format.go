package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
	"github.com/dargueta/rt11/directory"
	"github.com/noxer/bytewriter"
)

// MaxDirSegments is the most directory segments RT-11 allows on a volume.
const MaxDirSegments = 31

// Format lays out an empty RT-11 file system on `source`: reserved boot
// sectors zeroed, `dirSegments` directory segments with segment 1 active,
// and a single free entry covering the whole data area. `extraBytes` is the
// per-entry application reserve and must be even.
func Format(source datasource.DataSource, dirSegments, extraBytes int) error {
	if dirSegments < 1 || dirSegments > MaxDirSegments {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("directory segment count %d not in [1, %d]", dirSegments, MaxDirSegments),
		)
	}
	if extraBytes < 0 || extraBytes%2 != 0 {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("extra bytes per entry must be even, got %d", extraBytes),
		)
	}

	size, err := source.Size()
	if err != nil {
		return rt11.ErrIOFailed.Wrap(err)
	}

	sectors := uint(size / rt11.SectorSize)
	firstDataSector := uint(directory.FirstSegmentSector + dirSegments*directory.SectorsPerSegment)
	if sectors <= firstDataSector {
		return rt11.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%d-sector volume leaves no data area behind %d directory segment(s)",
				sectors,
				dirSegments,
			),
		)
	}

	// Build the reserved area and the entire directory in one buffer: boot
	// and home sectors zeroed, segment 1 live, later segments zeroed until
	// allocated.
	image := make([]byte, firstDataSector*rt11.SectorSize)
	writer := bytewriter.New(image[directory.FirstSegmentSector*rt11.SectorSize:])

	// Segment 1 header.
	binary.Write(writer, binary.LittleEndian, uint16(dirSegments))
	binary.Write(writer, binary.LittleEndian, uint16(0)) // end of chain
	binary.Write(writer, binary.LittleEndian, uint16(1)) // highest segment in use
	binary.Write(writer, binary.LittleEndian, uint16(extraBytes))
	binary.Write(writer, binary.LittleEndian, uint16(firstDataSector))

	// One free entry spanning every data sector, then the end marker.
	free := rawEntry{
		Status: directory.StatusEmpty,
		Length: uint16(sectors - firstDataSector),
	}
	binary.Write(writer, binary.LittleEndian, &free)
	writer.Write(make([]byte, extraBytes))

	eos := rawEntry{Status: directory.StatusEndOfSeg}
	binary.Write(writer, binary.LittleEndian, &eos)

	return source.WriteAt(image, 0)
}

// rawEntry is the fixed 14-byte wire shape of a directory entry, used only
// when serializing a fresh directory.
type rawEntry struct {
	Status   uint16
	Name     [3]uint16
	Length   uint16
	Job      uint8
	Channel  uint8
	Creation uint16
}
