// Package disks catalogs the DEC drive geometries RT-11 volumes were
// commonly built on. The format command uses it to size new images and
// pick a sensible directory segment count.
package disks

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dargueta/rt11"
	"github.com/gocarina/gocsv"
)

//go:embed geometries.csv
var geometryCSV string

// Geometry describes one supported drive type.
type Geometry struct {
	Name         string `csv:"name"`
	Slug         string `csv:"slug"`
	TotalSectors uint   `csv:"total_sectors"`
	DirSegments  int    `csv:"dir_segments"`
	Notes        string `csv:"notes"`
}

// TotalSizeBytes gives the size of an image file for this drive.
func (geometry Geometry) TotalSizeBytes() int64 {
	return int64(geometry.TotalSectors) * rt11.SectorSize
}

// All returns every cataloged geometry.
func All() ([]Geometry, error) {
	var geometries []Geometry
	err := gocsv.UnmarshalString(geometryCSV, &geometries)
	if err != nil {
		return nil, rt11.ErrInvalidArgument.Wrap(err)
	}
	return geometries, nil
}

// Lookup finds a geometry by slug, case-insensitively.
func Lookup(slug string) (Geometry, error) {
	geometries, err := All()
	if err != nil {
		return Geometry{}, err
	}

	for _, geometry := range geometries {
		if strings.EqualFold(geometry.Slug, slug) {
			return geometry, nil
		}
	}

	return Geometry{}, rt11.ErrNotFound.WithMessage(
		fmt.Sprintf("no drive geometry with slug %q", slug),
	)
}
