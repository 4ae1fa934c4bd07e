package directory

import (
	"strings"
	"time"

	"github.com/dargueta/rt11"
	"github.com/dargueta/rt11/rad50"
)

// DirEnt is the view of a directory entry handed to callers: decoded name,
// status bits, byte length, first data sector, and creation time.
type DirEnt struct {
	Status     uint16
	Rad50Name  Rad50Name
	Name       string
	Length     int
	Sector0    uint
	CreateTime time.Time
}

// ParseFilename converts a printable filename to its RAD50 encoding.
//
// The name is a stem of one to six RAD50 characters, optionally followed by
// a dot and an extension of up to three. The alphabet has no lowercase
// letters, so lowercase names fail to parse.
func ParseFilename(name string) (Rad50Name, bool) {
	var parsed Rad50Name

	stem := name
	ext := ""
	if n := strings.IndexByte(name, '.'); n >= 0 {
		stem = name[:n]
		ext = name[n+1:]
	}

	if len(stem) == 0 || len(stem) > 6 || len(ext) > 3 {
		return parsed, false
	}

	stem = (stem + "      ")[:6]
	ext = (ext + "   ")[:3]

	var ok bool
	if parsed[0], ok = rad50.Encode(stem[:3]); !ok {
		return parsed, false
	}
	if parsed[1], ok = rad50.Encode(stem[3:]); !ok {
		return parsed, false
	}
	if parsed[2], ok = rad50.Encode(ext); !ok {
		return parsed, false
	}
	return parsed, true
}

// FormatFilename renders a RAD50 name the way RT-11 prints it: the stem
// with trailing blanks removed, a dot, and the extension likewise trimmed.
func FormatFilename(name Rad50Name) string {
	stem := rad50.Decode(name[0]) + rad50.Decode(name[1])
	full := strings.TrimRight(stem, " ") + "." + rad50.Decode(name[2])
	return strings.TrimRight(full, " ")
}

// GetEnt synthesizes the caller-facing view of the entry at `ptr`. It
// reports failure if the pointer does not reference an entry.
func (dir *Directory) GetEnt(ptr *DirPtr) (DirEnt, bool) {
	if !ptr.Valid() {
		return DirEnt{}, false
	}

	name := ptr.Name()
	ent := DirEnt{
		Status:    ptr.Word(StatusWord),
		Rad50Name: name,
		Name:      FormatFilename(name),
		Length:    int(ptr.Length()) * rt11.SectorSize,
		Sector0:   ptr.DataSector(),
	}

	if created, ok := decodeDate(ptr.Word(CreationDateWord)); ok {
		ent.CreateTime = created
	}
	return ent, true
}
