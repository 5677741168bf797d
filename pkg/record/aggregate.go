package record

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/jensb/iphoto2xmp/pkg/catalog"
	"github.com/jensb/iphoto2xmp/pkg/editblob"
	"github.com/jensb/iphoto2xmp/pkg/geometry"
)

// Some raw masters are recorded with dimensions the camera never produced.
// Masters matching rawBadHeight get the corrected constants substituted and
// a derived correction factor for the face geometry.
const (
	rawBadWidth  = 3776
	rawBadHeight = 2520
	rawFixWidth  = 3792
	rawFixHeight = 2538
)

// Options controls an aggregation pass.
type Options struct {
	// ExifRotation, when set, probes a master file on disk for its embedded
	// orientation. It feeds the geometry engine's second rotation input; the
	// catalog rotation still wins when both are present.
	ExifRotation func(absPath string) int
}

// Aggregate produces the ordered sequence of PhotoRecords for the catalog.
// Photos whose master cannot be resolved are dropped with a diagnostic;
// nothing else is fatal.
func Aggregate(cat *catalog.Catalog, opts Options) ([]*PhotoRecord, error) {
	versions, err := cat.Versions()
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}

	folders, err := cat.Folders()
	if err != nil {
		return nil, fmt.Errorf("folders: %w", err)
	}

	records := make([]*PhotoRecord, 0, len(versions))
	for _, v := range versions {
		r, err := build(cat, v, folders, opts)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		records = append(records, r)
	}

	klog.Infof("aggregated %d records from %d versions", len(records), len(versions))
	return records, nil
}

func build(cat *catalog.Catalog, v catalog.VersionRow, folders map[int64]string, opts Options) (*PhotoRecord, error) {
	master, err := cat.Master(v.MasterUUID)
	if err != nil {
		return nil, err
	}
	if master == nil {
		klog.Errorf("dropping version %d (%s): master %s not found", v.ID, v.UUID, v.MasterUUID)
		return nil, nil
	}

	r := &PhotoRecord{
		VersionID:       v.ID,
		VersionUUID:     v.UUID,
		MasterUUID:      v.MasterUUID,
		VersionNumber:   v.VersionNumber,
		MasterPath:      master.ImagePath,
		MediaKind:       mediaKind(master.Type),
		Caption:         v.Name.String,
		Rating:          int(v.MainRating),
		Hidden:          v.IsHidden,
		Flagged:         v.IsFlagged,
		Trashed:         v.IsInTrash,
		Original:        v.IsOriginal,
		Taken:           v.ImageDate,
		Modified:        v.ModDate,
		MasterWidth:     v.MasterWidth,
		MasterHeight:    v.MasterHeight,
		ProcessedWidth:  v.ProcessedWidth,
		ProcessedHeight: v.ProcessedHeight,
		Rotation:        v.Rotation,
		Correction:      geometry.Identity(),
	}

	if v.Latitude.Valid && v.Longitude.Valid {
		lat, lon := v.Latitude.Float64, v.Longitude.Float64
		r.Latitude, r.Longitude = &lat, &lon
	}

	// Sensor-size correction for the known raw mismatch.
	if master.FileIsRaw && v.MasterHeight == rawBadHeight {
		r.MasterWidth = rawFixWidth
		r.MasterHeight = rawFixHeight
		r.Correction = geometry.Factor{
			X: float64(rawFixWidth) / float64(rawBadWidth),
			Y: float64(rawFixHeight) / float64(rawBadHeight),
		}
	}

	if v.ProjectUUID.Valid {
		event, err := cat.Event(v.ProjectUUID.String)
		if err != nil {
			return nil, err
		}
		if event != nil {
			r.HasEvent = true
			r.EventName = event.Name.String
			r.EventStart = event.MinDate
			r.EventEnd = event.MaxDate
		}
	}
	if !r.HasEvent {
		klog.V(1).Infof("version %d has no event association", v.ID)
	}

	if master.ImportGroupUUID.Valid {
		group, err := cat.ImportGroup(master.ImportGroupUUID.String)
		if err != nil {
			return nil, err
		}
		if group != nil {
			r.Imported = group.ImportTime
		}
	}

	r.PlaceName, err = cat.Place(v.ID)
	if err != nil {
		return nil, err
	}

	r.Description, err = cat.Note(v.UUID)
	if err != nil {
		return nil, err
	}

	r.Keywords, err = cat.Keywords(v.ID)
	if err != nil {
		return nil, err
	}
	r.Keywords = append(r.Keywords, statusKeywords(r)...)

	albums, err := cat.AlbumMemberships(v.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range albums {
		if p := AlbumPath(a, folders); p != "" {
			r.Albums = append(r.Albums, p)
		}
	}

	if err := applyEdits(cat, r); err != nil {
		return nil, err
	}

	if err := applyFaces(cat, r, opts); err != nil {
		return nil, err
	}

	return r, nil
}

func mediaKind(masterType string) string {
	if masterType == "VIDT" {
		return MediaVideo
	}
	return MediaStill
}

// statusKeywords synthesizes keywords for the catalog's boolean photo
// states so they survive the migration.
func statusKeywords(r *PhotoRecord) []string {
	var ks []string
	if r.Hidden {
		ks = append(ks, "iPhoto/Hidden")
	}
	if r.Flagged {
		ks = append(ks, "iPhoto/Flagged")
	}
	if r.Trashed {
		ks = append(ks, "iPhoto/InTrash")
	}
	if r.Original {
		ks = append(ks, "iPhoto/Original")
	}
	return ks
}

// AlbumPath translates an album membership into a slash-separated path:
// each folder id segment of the stored numeric path is replaced with the
// folder's readable name, the album name is appended, and leading/trailing
// separators are stripped.
func AlbumPath(a catalog.AlbumRow, folders map[int64]string) string {
	segments := strings.Split(a.FolderPath.String, "/")
	names := make([]string, 0, len(segments)+1)
	for _, s := range segments {
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			klog.Warningf("album %d: bad folder path segment %q", a.ID, s)
			continue
		}
		names = append(names, folders[id])
	}
	names = append(names, a.Name.String)
	return strings.Trim(strings.Join(names, "/"), "/")
}

// applyEdits resolves the version's edit stack, recording operation names
// in application order and decoding crop/straighten region adjustments. A
// malformed blob degrades to a no-op edit; the photo is never aborted.
func applyEdits(cat *catalog.Catalog, r *PhotoRecord) error {
	adjustments, err := cat.Adjustments(r.VersionUUID)
	if err != nil {
		return err
	}

	for _, a := range adjustments {
		op := editblob.Decode(a.Name, a.Data)
		r.Edits = append(r.Edits, a.Name)

		switch t := op.(type) {
		case editblob.Crop:
			crop := t
			r.Crop = &crop
		case editblob.Straighten:
			s := t
			r.Straighten = &s
		case editblob.Other:
			if a.Name == editblob.OpCrop || a.Name == editblob.OpStraighten {
				klog.Warningf("version %d: adjustment %s blob unreadable, treating as no-op", r.VersionID, a.Name)
			}
		}
	}
	return nil
}

// applyFaces computes the display-space face lists. The master list always
// comes from the detector rectangles; the edited list prefers the catalog's
// stored post-edit rectangles and falls back to the master list when the
// catalog recorded none.
func applyFaces(cat *catalog.Catalog, r *PhotoRecord, opts Options) error {
	exifDeg := 0
	if opts.ExifRotation != nil {
		exifDeg = opts.ExifRotation(cat.MasterAbsPath(r.MasterPath))
	}
	rotation, conflict := geometry.ResolveRotation(r.Rotation, exifDeg)
	if conflict {
		klog.Warningf("version %d: catalog rotation %d and EXIF rotation %d both set; faces may be double-rotated",
			r.VersionID, r.Rotation, exifDeg)
	}

	raws, err := cat.DetectedFaces(r.MasterUUID)
	if err != nil {
		return err
	}
	for _, f := range raws {
		raw := geometry.RawFace{
			TopLeft:     geometry.Point{X: f.TopLeftX, Y: f.TopLeftY},
			TopRight:    geometry.Point{X: f.TopRightX, Y: f.TopRightY},
			BottomLeft:  geometry.Point{X: f.BottomLeftX, Y: f.BottomLeftY},
			BottomRight: geometry.Point{X: f.BottomRightX, Y: f.BottomRightY},
			Name:        f.Name.String,
			Email:       f.Email.String,
		}
		reg, err := geometry.Normalize(raw, rotation, r.Correction)
		if err != nil {
			klog.Warningf("version %d: skipping face %q: %v", r.VersionID, raw.Name, err)
			continue
		}
		r.MasterFaces = append(r.MasterFaces, reg)
	}

	if r.VersionNumber == 0 {
		return nil
	}

	edited, err := cat.EditedFaces(r.VersionID)
	if err != nil {
		return err
	}
	if len(edited) == 0 {
		r.EditedFaces = append([]geometry.Region(nil), r.MasterFaces...)
		return nil
	}
	for _, f := range edited {
		reg, err := geometry.NormalizeEdited(geometry.EditedFace{
			X: f.Left, Y: f.Top, W: f.Width, H: f.Height,
			Name: f.Name.String, Email: f.Email.String,
		})
		if err != nil {
			klog.Warningf("version %d: skipping edited face %q: %v", r.VersionID, f.Name.String, err)
			continue
		}
		r.EditedFaces = append(r.EditedFaces, reg)
	}
	return nil
}
