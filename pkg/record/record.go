// Package record builds one denormalized PhotoRecord per logical photo
// from the catalog's relational rows.
package record

import (
	"github.com/jensb/iphoto2xmp/pkg/catalog"
	"github.com/jensb/iphoto2xmp/pkg/editblob"
	"github.com/jensb/iphoto2xmp/pkg/geometry"
)

// Media kinds.
const (
	MediaStill = "still"
	MediaVideo = "video"
)

// PhotoRecord is the unit of export: one (master, edited-version) pair with
// everything the sidecar and the planner need, resolved from the catalog.
// Records are built once per aggregation pass and not mutated afterwards.
type PhotoRecord struct {
	// Identity. VersionNumber 0 means the original only; >= 1 means an
	// edited rendition exists.
	VersionID     int64
	VersionUUID   string
	MasterUUID    string
	VersionNumber int64

	// Provenance. HasEvent false is a valid state ("no event").
	HasEvent   bool
	EventName  string
	EventStart catalog.Time
	EventEnd   catalog.Time
	MasterPath string // relative to the library's Masters tree
	MediaKind  string

	// Descriptive.
	Caption     string
	Description string
	Rating      int
	Hidden      bool
	Flagged     bool
	Trashed     bool
	Original    bool

	// Temporal.
	Taken    catalog.Time
	Imported catalog.Time
	Modified catalog.Time

	// Geometric. Master dimensions are as recorded and may be wrong for
	// certain raw formats; Correction carries the fix factor for those.
	MasterWidth     int64
	MasterHeight    int64
	ProcessedWidth  int64
	ProcessedHeight int64
	Rotation        int
	Correction      geometry.Factor

	// Location.
	Latitude  *float64
	Longitude *float64
	PlaceName string

	// Collections. Keywords and Albums are unordered sets; Edits reflects
	// the edit stack order.
	Keywords []string
	Albums   []string
	Edits    []string

	// Region adjustments decoded from the edit stack, when present.
	Crop       *editblob.Crop
	Straighten *editblob.Straighten

	// Face regions in display space: one list for the master, a separately
	// computed list for the edited rendition (nil when VersionNumber is 0).
	MasterFaces []geometry.Region
	EditedFaces []geometry.Region
}
