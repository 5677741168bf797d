// Package sidecar renders one XMP metadata document per destination media
// file from a PhotoRecord and its display-space face regions.
package sidecar

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"k8s.io/klog/v2"

	"github.com/jensb/iphoto2xmp/pkg/geometry"
	"github.com/jensb/iphoto2xmp/pkg/record"
)

//go:embed assets/xmp.tmpl
var xmpTmpl string

// xmpDate is the XMP timestamp layout.
const xmpDate = "2006-01-02T15:04:05-07:00"

// Doc is one sidecar's worth of data: the record plus the face list and
// pixel dimensions of the rendition the sidecar accompanies.
type Doc struct {
	Record *record.PhotoRecord
	Faces  []geometry.Region
	Width  int64
	Height int64
}

// Writer renders sidecar documents.
type Writer struct {
	tmpl *template.Template
}

// New parses the embedded template.
func New() (*Writer, error) {
	tmpl, err := template.New("xmp").Funcs(tmplFunctions()).Parse(xmpTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Writer{tmpl: tmpl}, nil
}

// Write renders the document to path, creating parent directories.
func (w *Writer) Write(path string, d Doc) error {
	bs, err := w.Render(d)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	klog.V(1).Infof("writing sidecar %s", path)
	return os.WriteFile(path, bs, 0o644)
}

// Render produces the document bytes.
func (w *Writer) Render(d Doc) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, w.data(d)); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return buf.Bytes(), nil
}

// data flattens a Doc into the fields the template consumes.
func (w *Writer) data(d Doc) map[string]interface{} {
	r := d.Record

	subjects := append([]string{}, r.Keywords...)
	subjects = append(subjects, r.Albums...)

	taken := ""
	if !r.Taken.IsZero() {
		taken = r.Taken.Value().Format(xmpDate)
	}
	modified := ""
	if !r.Modified.IsZero() {
		modified = r.Modified.Value().Format(xmpDate)
	}

	lat, lon := "", ""
	if r.Latitude != nil && r.Longitude != nil {
		lat = gpsCoord(*r.Latitude, "N", "S")
		lon = gpsCoord(*r.Longitude, "E", "W")
	}

	return map[string]interface{}{
		"Record":   r,
		"Faces":    d.Faces,
		"Width":    d.Width,
		"Height":   d.Height,
		"Subjects": subjects,
		"Taken":    taken,
		"Modified": modified,
		"Lat":      lat,
		"Lon":      lon,
	}
}

// gpsCoord formats a decimal degree value in the XMP "DD,MM.mmmmH" form.
func gpsCoord(v float64, pos, neg string) string {
	hemi := pos
	if v < 0 {
		hemi = neg
		v = -v
	}
	deg := math.Floor(v)
	min := (v - deg) * 60
	return fmt.Sprintf("%d,%.6f%s", int(deg), min, hemi)
}

// tmplFunctions are functions available to the template.
func tmplFunctions() template.FuncMap {
	return template.FuncMap{
		"esc": func(s string) string {
			var buf bytes.Buffer
			if err := xml.EscapeText(&buf, []byte(s)); err != nil {
				return ""
			}
			return buf.String()
		},
		"f6": func(v float64) string {
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
		},
	}
}
