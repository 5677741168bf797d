// Package catalog provides read-only access to the photo library's
// relational databases. It executes queries and returns row structs; all
// interpretation of the rows happens in pkg/record.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// appleEpoch is the catalog's date origin. All date columns are second
// offsets from this instant.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Time is a catalog timestamp: a second offset from the catalog epoch plus
// the named zone the catalog associated with it.
type Time struct {
	Seconds float64
	Zone    string
	Valid   bool
}

// Value resolves the timestamp against its named zone. An unknown zone name
// falls back to UTC.
func (t Time) Value() time.Time {
	v := appleEpoch.Add(time.Duration(t.Seconds * float64(time.Second)))
	if t.Zone == "" {
		return v
	}
	loc, err := time.LoadLocation(t.Zone)
	if err != nil {
		klog.V(2).Infof("unknown time zone %q, using UTC", t.Zone)
		return v
	}
	return v.In(loc)
}

// IsZero reports whether the catalog recorded no value.
func (t Time) IsZero() bool {
	return !t.Valid
}

// At builds a catalog timestamp from a wall-clock time.
func At(v time.Time, zone string) Time {
	return Time{Seconds: v.Sub(appleEpoch).Seconds(), Zone: zone, Valid: true}
}

func catTime(secs sql.NullFloat64, zone sql.NullString) Time {
	return Time{Seconds: secs.Float64, Zone: zone.String, Valid: secs.Valid}
}

// Catalog is an open set of library databases: the main library database
// with the properties and faces databases attached.
type Catalog struct {
	db   *sql.DB
	root string
}

// Open opens the library rooted at root. The three databases live under
// Database/apdb; all are opened read-only. Only an unopenable catalog is
// fatal to a run, so errors here abort.
func Open(root string) (*Catalog, error) {
	apdb := filepath.Join(root, "Database", "apdb")
	libPath := filepath.Join(apdb, "Library.apdb")
	if _, err := os.Stat(libPath); err != nil {
		return nil, fmt.Errorf("library database: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+libPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open library database: %w", err)
	}

	// The whole run is one sequential scan; a single connection keeps the
	// attached databases visible to every query.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	attach := []struct{ file, as string }{
		{"Properties.apdb", "props"},
		{"Faces.db", "faces"},
	}
	for _, a := range attach {
		p := filepath.Join(apdb, a.file)
		if _, err := db.Exec(fmt.Sprintf("ATTACH DATABASE 'file:%s?mode=ro' AS %s", p, a.as)); err != nil {
			db.Close()
			return nil, fmt.Errorf("attach %s: %w", a.file, err)
		}
	}

	return &Catalog{db: db, root: root}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Root returns the library root the catalog was opened from.
func (c *Catalog) Root() string {
	return c.root
}

// MasterAbsPath resolves a master's catalog-relative image path to its
// location on disk.
func (c *Catalog) MasterAbsPath(imagePath string) string {
	return filepath.Join(c.root, "Masters", filepath.FromSlash(imagePath))
}

// PreviewAbsPath resolves a path under the previews tree.
func (c *Catalog) PreviewAbsPath(rel string) string {
	return filepath.Join(c.root, "Previews", filepath.FromSlash(rel))
}
