// Package rt11testing builds RT-11 volume images in memory for tests. It
// mirrors the layouts the driver expects so directory scenarios can be
// described as entry tables rather than hand-assembled bytes.
package rt11testing

import (
	"fmt"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/datasource"
	"github.com/dargueta/rt11/directory"
)

// RestOfData is a sentinel entry length meaning "every data sector not yet
// claimed by a preceding entry".
const RestOfData = 0xffff

// DirEntry describes one directory entry to be written into an image.
type DirEntry struct {
	Status   uint16
	Name     directory.Rad50Name
	Length   uint16
	Job      uint8
	Channel  uint8
	Creation uint16
}

// MustName parses a printable filename to RAD50, panicking on failure. Test
// tables use it inline.
func MustName(name string) directory.Rad50Name {
	parsed, ok := directory.ParseFilename(name)
	if !ok {
		panic(fmt.Sprintf("cannot parse filename %q", name))
	}
	return parsed
}

// DirectoryBuilder writes directory structures straight into the buffer of
// an in-memory data source.
type DirectoryBuilder struct {
	source *datasource.MemoryDataSource
	data   []byte
}

// NewImage creates a zeroed in-memory volume of the given sector count.
func NewImage(sectors uint) *datasource.MemoryDataSource {
	return datasource.NewMemoryDataSource(int64(sectors) * rt11.SectorSize)
}

// NewBuilder wraps an in-memory source for direct directory manipulation.
func NewBuilder(source *datasource.MemoryDataSource) *DirectoryBuilder {
	return &DirectoryBuilder{source: source, data: source.Bytes()}
}

// PutWord stores a little-endian word at a byte offset in the image.
func (builder *DirectoryBuilder) PutWord(offset int, word uint16) {
	builder.data[offset] = uint8(word & 0xff)
	builder.data[offset+1] = uint8(word >> 8)
}

// PutEntry writes one directory entry at (segment, index).
func (builder *DirectoryBuilder) PutEntry(segment, index int, entry DirEntry, extraBytes int) {
	offset := (directory.FirstSegmentSector+(segment-1)*directory.SectorsPerSegment)*rt11.SectorSize +
		directory.FirstEntryOffset + (directory.EntryLength+extraBytes)*index

	builder.PutWord(offset+directory.StatusWord, entry.Status)
	for i, word := range entry.Name {
		builder.PutWord(offset+directory.FilenameWords+2*i, word)
	}
	builder.PutWord(offset+directory.TotalLengthWord, entry.Length)
	builder.data[offset+directory.JobByte] = entry.Job
	builder.data[offset+directory.ChannelByte] = entry.Channel
	builder.PutWord(offset+directory.CreationDateWord, entry.Creation)
}

// FormatEmpty lays the image out as a freshly initialized volume: one free
// entry covering the whole data area, then the end marker.
func (builder *DirectoryBuilder) FormatEmpty(dirSegments, extraBytes int) {
	builder.FormatWithEntries(dirSegments, [][]DirEntry{{
		{Status: directory.StatusEmpty, Length: RestOfData},
		{Status: directory.StatusEndOfSeg},
	}}, extraBytes)
}

// FormatWithEntries writes segment headers and the given entry tables, one
// table per live segment. Callers include the end-of-segment marker
// explicitly; a RestOfData length expands to the unclaimed remainder of the
// volume.
func (builder *DirectoryBuilder) FormatWithEntries(
	dirSegments int, entries [][]DirEntry, extraBytes int,
) {
	if len(entries) > dirSegments {
		panic("more entry tables than directory segments")
	}

	sectors := uint16(len(builder.data) / rt11.SectorSize)
	nextSector := uint16(directory.FirstSegmentSector + dirSegments*directory.SectorsPerSegment)

	for i, segmentEntries := range entries {
		isFirst := i == 0
		isLast := i == len(entries)-1
		offset := (directory.FirstSegmentSector + i*directory.SectorsPerSegment) * rt11.SectorSize

		builder.PutWord(offset+directory.TotalSegmentsWord, uint16(dirSegments))
		if isLast {
			builder.PutWord(offset+directory.NextSegmentWord, 0)
		} else {
			builder.PutWord(offset+directory.NextSegmentWord, uint16(i+2))
		}
		if isFirst {
			builder.PutWord(offset+directory.HighestSegmentWord, uint16(len(entries)))
		} else {
			builder.PutWord(offset+directory.HighestSegmentWord, 0)
		}
		builder.PutWord(offset+directory.ExtraBytesWord, uint16(extraBytes))
		builder.PutWord(offset+directory.SegmentDataBlockWord, nextSector)

		for index, entry := range segmentEntries {
			if entry.Length == RestOfData {
				entry.Length = sectors - nextSector
			}
			builder.PutEntry(i+1, index, entry, extraBytes)
			nextSector += entry.Length
		}
	}
}
