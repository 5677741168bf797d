package catalog

import (
	"database/sql"
	"fmt"
)

// VersionRow is one logical photo: a (master, edited-version) pair.
type VersionRow struct {
	ID            int64
	UUID          string
	MasterUUID    string
	ProjectUUID   sql.NullString
	VersionNumber int64

	Name       sql.NullString
	MainRating int64
	IsHidden   bool
	IsFlagged  bool
	IsOriginal bool
	IsInTrash  bool

	ImageDate  Time
	CreateDate Time
	ModDate    Time

	MasterWidth     int64
	MasterHeight    int64
	ProcessedWidth  int64
	ProcessedHeight int64
	Rotation        int

	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64

	HasAdjustments bool
}

// MasterRow is the original imported file behind a version.
type MasterRow struct {
	ID               int64
	UUID             string
	ImportGroupUUID  sql.NullString
	ImagePath        string
	OriginalFileName sql.NullString
	Type             string // "IMGT" or "VIDT"
	FileIsRaw        bool
	ModDate          Time
}

// EventRow is the event/roll a photo belongs to.
type EventRow struct {
	ID         int64
	UUID       string
	Name       sql.NullString
	FolderPath sql.NullString
	MinDate    Time
	MaxDate    Time
}

// ImportGroupRow records when a master was imported.
type ImportGroupRow struct {
	ID         int64
	UUID       string
	ImportTime Time
}

// AlbumRow is one album membership, with the numeric folder path that has
// to be translated into folder names.
type AlbumRow struct {
	ID         int64
	Name       sql.NullString
	FolderPath sql.NullString
}

// FaceRow is one detector rectangle from the faces database. Coordinates
// are relative to the unrotated master, vertical axis bottom-up.
type FaceRow struct {
	TopLeftX, TopLeftY         float64
	TopRightX, TopRightY       float64
	BottomLeftX, BottomLeftY   float64
	BottomRightX, BottomRightY float64

	Name  sql.NullString
	Email sql.NullString
}

// EditedFaceRow is a post-edit rectangle the catalog stored for an edited
// rendition.
type EditedFaceRow struct {
	Left, Top, Width, Height float64

	Name  sql.NullString
	Email sql.NullString
}

// AdjustmentRow is one entry of a version's edit stack.
type AdjustmentRow struct {
	Name     string
	AdjIndex int64
	Data     []byte
}

// Versions returns all library photos in stable id order.
func (c *Catalog) Versions() ([]VersionRow, error) {
	rows, err := c.db.Query(`
		SELECT v.modelId, v.uuid, v.masterUuid, v.projectUuid, v.versionNumber,
		       v.name, v.mainRating, v.isHidden, v.isFlagged, v.isOriginal, v.isInTrash,
		       v.imageDate, v.imageTimeZoneName, v.createDate, v.exportImageChangeDate,
		       v.masterWidth, v.masterHeight, v.processedWidth, v.processedHeight,
		       v.rotation, v.latitude, v.longitude, v.hasAdjustments
		FROM RKVersion v
		WHERE v.showInLibrary = 1
		ORDER BY v.modelId
	`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []VersionRow
	for rows.Next() {
		var v VersionRow
		var imageDate, createDate, modDate sql.NullFloat64
		var tz sql.NullString
		if err := rows.Scan(&v.ID, &v.UUID, &v.MasterUUID, &v.ProjectUUID, &v.VersionNumber,
			&v.Name, &v.MainRating, &v.IsHidden, &v.IsFlagged, &v.IsOriginal, &v.IsInTrash,
			&imageDate, &tz, &createDate, &modDate,
			&v.MasterWidth, &v.MasterHeight, &v.ProcessedWidth, &v.ProcessedHeight,
			&v.Rotation, &v.Latitude, &v.Longitude, &v.HasAdjustments); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.ImageDate = catTime(imageDate, tz)
		v.CreateDate = catTime(createDate, tz)
		v.ModDate = catTime(modDate, tz)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Master returns the master behind a version, or nil if the reference
// cannot be resolved.
func (c *Catalog) Master(uuid string) (*MasterRow, error) {
	var m MasterRow
	var modDate sql.NullFloat64
	err := c.db.QueryRow(`
		SELECT modelId, uuid, importGroupUuid, imagePath, originalFileName,
		       type, fileIsRaw, fileModificationDate
		FROM RKMaster WHERE uuid = ?
	`, uuid).Scan(&m.ID, &m.UUID, &m.ImportGroupUUID, &m.ImagePath, &m.OriginalFileName,
		&m.Type, &m.FileIsRaw, &modDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query master %s: %w", uuid, err)
	}
	m.ModDate = catTime(modDate, sql.NullString{})
	return &m, nil
}

// Event returns the event folder for a version's project, or nil. Absence
// of an event is a valid state.
func (c *Catalog) Event(uuid string) (*EventRow, error) {
	var e EventRow
	var minDate, maxDate sql.NullFloat64
	var minTZ, maxTZ sql.NullString
	err := c.db.QueryRow(`
		SELECT modelId, uuid, name, folderPath,
		       minImageDate, minImageTimeZoneName, maxImageDate, maxImageTimeZoneName
		FROM RKFolder WHERE uuid = ?
	`, uuid).Scan(&e.ID, &e.UUID, &e.Name, &e.FolderPath, &minDate, &minTZ, &maxDate, &maxTZ)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event %s: %w", uuid, err)
	}
	e.MinDate = catTime(minDate, minTZ)
	e.MaxDate = catTime(maxDate, maxTZ)
	return &e, nil
}

// ImportGroup returns the import group a master arrived with, or nil.
func (c *Catalog) ImportGroup(uuid string) (*ImportGroupRow, error) {
	var g ImportGroupRow
	var importTime sql.NullFloat64
	var tz sql.NullString
	err := c.db.QueryRow(`
		SELECT modelId, uuid, importTime, importTimeZoneName
		FROM RKImportGroup WHERE uuid = ?
	`, uuid).Scan(&g.ID, &g.UUID, &importTime, &tz)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query import group %s: %w", uuid, err)
	}
	g.ImportTime = catTime(importTime, tz)
	return &g, nil
}

// Place returns the resolved place name for a version, or empty.
func (c *Catalog) Place(versionID int64) (string, error) {
	var name sql.NullString
	err := c.db.QueryRow(`
		SELECT p.defaultName
		FROM props.RKPlaceForVersion pv
		JOIN props.RKPlace p ON pv.placeId = p.modelId
		WHERE pv.versionId = ?
		ORDER BY p.modelId LIMIT 1
	`, versionID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query place for %d: %w", versionID, err)
	}
	return name.String, nil
}

// Note returns the most recent free-text description attached to a
// version, or empty.
func (c *Catalog) Note(versionUUID string) (string, error) {
	var note sql.NullString
	err := c.db.QueryRow(`
		SELECT note FROM props.RKNote
		WHERE attachedToUuid = ?
		ORDER BY modDate DESC LIMIT 1
	`, versionUUID).Scan(&note)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query note for %s: %w", versionUUID, err)
	}
	return note.String, nil
}

// Keywords returns the keyword names attached to a version.
func (c *Catalog) Keywords(versionID int64) ([]string, error) {
	rows, err := c.db.Query(`
		SELECT k.name
		FROM RKKeywordForVersion kv
		JOIN RKKeyword k ON kv.keywordId = k.modelId
		WHERE kv.versionId = ?
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query keywords for %d: %w", versionID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AlbumMemberships returns the albums a version belongs to, each with the
// numeric folder path of its containing folder.
func (c *Catalog) AlbumMemberships(versionID int64) ([]AlbumRow, error) {
	rows, err := c.db.Query(`
		SELECT a.modelId, a.name, f.folderPath
		FROM RKAlbumVersion av
		JOIN RKAlbum a ON av.albumId = a.modelId
		LEFT JOIN RKFolder f ON a.folderUuid = f.uuid
		WHERE av.versionId = ?
		ORDER BY a.modelId
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query albums for %d: %w", versionID, err)
	}
	defer rows.Close()

	var out []AlbumRow
	for rows.Next() {
		var a AlbumRow
		if err := rows.Scan(&a.ID, &a.Name, &a.FolderPath); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Folders returns the full folder id to name mapping, used to translate
// numeric folder paths into readable album paths.
func (c *Catalog) Folders() (map[int64]string, error) {
	rows, err := c.db.Query(`SELECT modelId, name FROM RKFolder`)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	out := map[int64]string{}
	for rows.Next() {
		var id int64
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out[id] = name.String
	}
	return out, rows.Err()
}

// DetectedFaces returns the detector rectangles recorded against a master.
func (c *Catalog) DetectedFaces(masterUUID string) ([]FaceRow, error) {
	rows, err := c.db.Query(`
		SELECT d.topLeftX, d.topLeftY, d.topRightX, d.topRightY,
		       d.bottomLeftX, d.bottomLeftY, d.bottomRightX, d.bottomRightY,
		       n.name, n.email
		FROM faces.RKDetectedFace d
		LEFT JOIN faces.RKFaceName n ON d.faceKey = n.faceKey
		WHERE d.masterUuid = ?
		ORDER BY d.modelId
	`, masterUUID)
	if err != nil {
		return nil, fmt.Errorf("query faces for %s: %w", masterUUID, err)
	}
	defer rows.Close()

	var out []FaceRow
	for rows.Next() {
		var f FaceRow
		if err := rows.Scan(&f.TopLeftX, &f.TopLeftY, &f.TopRightX, &f.TopRightY,
			&f.BottomLeftX, &f.BottomLeftY, &f.BottomRightX, &f.BottomRightY,
			&f.Name, &f.Email); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// EditedFaces returns the post-edit rectangles stored for a version. The
// catalog only records these after an actual crop or straighten edit, so an
// empty result is common.
func (c *Catalog) EditedFaces(versionID int64) ([]EditedFaceRow, error) {
	rows, err := c.db.Query(`
		SELECT fc.faceRectLeft, fc.faceRectTop, fc.faceRectWidth, fc.faceRectHeight,
		       n.name, n.email
		FROM RKVersionFaceContent fc
		LEFT JOIN faces.RKFaceName n ON fc.faceKey = n.faceKey
		WHERE fc.versionId = ?
		ORDER BY fc.modelId
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query edited faces for %d: %w", versionID, err)
	}
	defer rows.Close()

	var out []EditedFaceRow
	for rows.Next() {
		var f EditedFaceRow
		if err := rows.Scan(&f.Left, &f.Top, &f.Width, &f.Height, &f.Name, &f.Email); err != nil {
			return nil, fmt.Errorf("scan edited face: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Adjustments returns a version's edit stack in application order.
func (c *Catalog) Adjustments(versionUUID string) ([]AdjustmentRow, error) {
	rows, err := c.db.Query(`
		SELECT name, adjIndex, data
		FROM RKImageAdjustment
		WHERE versionUuid = ?
		ORDER BY adjIndex
	`, versionUUID)
	if err != nil {
		return nil, fmt.Errorf("query adjustments for %s: %w", versionUUID, err)
	}
	defer rows.Close()

	var out []AdjustmentRow
	for rows.Next() {
		var a AdjustmentRow
		if err := rows.Scan(&a.Name, &a.AdjIndex, &a.Data); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
