// Package directory implements the segmented RT-11 directory: entry
// navigation, lookup, free-space management, truncation, creation, removal,
// segment spill, and the move tracking that keeps open-file handles valid
// while entries shuffle between slots.
package directory

// Status word bits.
const (
	StatusTentative = 0o000400 // entry is tentative (open)
	StatusEmpty     = 0o001000 // entry is free space
	StatusPermanent = 0o002000 // entry is permanent (a real file)
	StatusEndOfSeg  = 0o004000 // entry marks end of segment
	StatusReadOnly  = 0o040000 // entry is a read-only file
	StatusProtected = 0o100000 // entry is protected
	StatusHasPrefix = 0o000020 // entry has prefix blocks
)

// Segment header word offsets, relative to the start of the segment.
const (
	TotalSegmentsWord    = 0 // total segments allocated for the directory
	NextSegmentWord      = 2 // 1-based index of the next segment, 0 ends the chain
	HighestSegmentWord   = 4 // highest segment in use (maintained in segment 1 only)
	ExtraBytesWord       = 6 // extra bytes at the end of each entry
	SegmentDataBlockWord = 8 // first data sector of the segment's first file

	// FirstEntryOffset is where the entry list begins within a segment.
	FirstEntryOffset = 10
)

// Entry field offsets, relative to the start of the entry.
const (
	StatusWord       = 0  // status bits
	FilenameWords    = 2  // three RAD50 words
	TotalLengthWord  = 8  // file length in sectors
	JobByte          = 10 // owning job, if tentative
	ChannelByte      = 11 // owning channel, if tentative
	CreationDateWord = 12 // packed creation date

	// EntryLength is the size of an entry with no extra bytes.
	EntryLength = 14
)

// FirstSegmentSector is the sector address of directory segment 1.
const FirstSegmentSector = 6

// SectorsPerSegment is the fixed size of one directory segment.
const SectorsPerSegment = 2

// FilenameLength is the number of RAD50 words in a filename.
const FilenameLength = 3

// Rad50Name is a filename in its on-disk encoding.
type Rad50Name [FilenameLength]uint16
