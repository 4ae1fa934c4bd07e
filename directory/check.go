package directory

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/rt11"
)

// Check validates the structural invariants of the directory: segment chain
// sanity, consistent headers, exactly one end marker per segment, entry
// data addresses that tile the data area with no gaps or overlaps, and free
// space fully coalesced. It returns a corrupt-filesystem error describing
// the first violation found.
func (dir *Directory) Check() error {
	totalSegments := dir.totalSegments()
	extra := dir.dirblk.Word(ExtraBytesWord)

	firstDataSector := uint(FirstSegmentSector + totalSegments*SectorsPerSegment)
	volumeSectors := dir.cache.VolumeSectors()

	// One bit per data sector; every non-EOS entry claims its run and no
	// two entries may claim the same sector.
	dataSectors := int(volumeSectors - firstDataSector)
	covered := bitmap.Bitmap(bitmap.NewSlice(dataSectors))

	visited := make(map[int]bool)
	segment := 1

	for segment != 0 {
		if segment > totalSegments {
			return rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("chain visits segment %d of %d", segment, totalSegments),
			)
		}
		if visited[segment] {
			return rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("segment chain loops back to segment %d", segment),
			)
		}
		visited[segment] = true

		base := (segment - 1) * SectorsPerSegment * rt11.SectorSize
		if dir.dirblk.Word(base+ExtraBytesWord) != extra {
			return rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("segment %d disagrees about extra bytes per entry", segment),
			)
		}

		err := dir.checkSegment(segment, covered, firstDataSector, dataSectors)
		if err != nil {
			return err
		}

		segment = int(dir.dirblk.Word(base + NextSegmentWord))
	}

	// Every data sector must be claimed by exactly one entry; claiming is
	// checked per entry, so only gaps remain to be found.
	for i := 0; i < dataSectors; i++ {
		if !covered.Get(i) {
			return rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("data sector %d is not covered by any entry", firstDataSector+uint(i)),
			)
		}
	}

	return nil
}

// checkSegment validates one segment's entry list and claims its data
// sectors in `covered`.
func (dir *Directory) checkSegment(
	segment int, covered bitmap.Bitmap, firstDataSector uint, dataSectors int,
) error {
	base := (segment - 1) * SectorsPerSegment * rt11.SectorSize
	dataSector := uint(dir.dirblk.Word(base + SegmentDataBlockWord))
	maxEntries := dir.maxEntriesPerSegment()

	previousEmpty := false
	for index := 0; ; index++ {
		if index >= maxEntries {
			return rt11.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("segment %d has no end marker", segment),
			)
		}

		offset := base + FirstEntryOffset + index*dir.entrySize
		status := dir.dirblk.Word(offset + StatusWord)
		length := uint(dir.dirblk.Word(offset + TotalLengthWord))

		if status&StatusEndOfSeg != 0 {
			if length != 0 {
				return rt11.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf("end marker of segment %d has length %d", segment, length),
				)
			}
			return nil
		}

		if status&StatusEmpty != 0 {
			if previousEmpty {
				return rt11.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf("segment %d has adjacent free entries at index %d", segment, index),
				)
			}
			previousEmpty = true
		} else {
			previousEmpty = false
		}

		for sector := dataSector; sector < dataSector+length; sector++ {
			if sector < firstDataSector || int(sector-firstDataSector) >= dataSectors {
				return rt11.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf(
						"entry %d:%d claims sector %d outside the data area",
						segment, index, sector,
					),
				)
			}
			bit := int(sector - firstDataSector)
			if covered.Get(bit) {
				return rt11.ErrFileSystemCorrupted.WithMessage(
					fmt.Sprintf(
						"entry %d:%d claims sector %d twice",
						segment, index, sector,
					),
				)
			}
			covered.Set(bit, true)
		}
		dataSector += length
	}
}
