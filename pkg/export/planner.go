// Package export materializes PhotoRecords into the destination tree: hard
// links for master and edited files, collision versioning, dedup, and the
// post-pass orphan scan.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/jensb/iphoto2xmp/pkg/record"
)

const (
	noEventDir      = "00_ImagesWithoutEvents"
	lostAndFoundDir = "Lost and Found"
	missingLogName  = "missing.log"
)

// Links reports where a record's files ended up.
type Links struct {
	MasterSource string
	MasterDest   string // empty when the master file was missing
	EditedSource string // empty when there is no edited rendition
	EditedDest   string
}

// Planner decides destination paths and materializes hard links. The known
// and written sets are owned here and grow monotonically over the run; the
// orphan scanner reads the known set after the main loop.
type Planner struct {
	libraryRoot string
	destRoot    string
	dryRun      bool

	// known holds every source path the main loop linked or recognized.
	known map[string]bool
	// written holds every sidecar destination claimed this run.
	written map[string]bool

	missing      *os.File
	missingPath  string
	missingCount int
}

// NewPlanner creates the destination root and opens the missing-file
// report. The report stays open for the whole run and is removed on Close
// if nothing was missing.
func NewPlanner(libraryRoot, destRoot string, dryRun bool) (*Planner, error) {
	p := &Planner{
		libraryRoot: libraryRoot,
		destRoot:    destRoot,
		dryRun:      dryRun,
		known:       map[string]bool{},
		written:     map[string]bool{},
		missingPath: filepath.Join(destRoot, missingLogName),
	}

	if dryRun {
		return p, nil
	}

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", destRoot, err)
	}

	f, err := os.Create(p.missingPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p.missingPath, err)
	}
	p.missing = f
	return p, nil
}

// Close closes the missing report, removing it when the run had no missing
// files.
func (p *Planner) Close() error {
	if p.missing != nil {
		if err := p.missing.Close(); err != nil {
			return err
		}
		if p.missingCount == 0 {
			return os.Remove(p.missingPath)
		}
	}
	return nil
}

// MissingCount returns how many source files were absent.
func (p *Planner) MissingCount() int {
	return p.missingCount
}

// MissingPath returns the location of the missing-file report.
func (p *Planner) MissingPath() string {
	return p.missingPath
}

// Known reports whether the main loop touched a source path.
func (p *Planner) Known(path string) bool {
	return p.known[path]
}

// ClaimSidecar marks a sidecar destination as written. It returns false if
// the path was already claimed this run: first writer wins.
func (p *Planner) ClaimSidecar(path string) bool {
	if p.written[path] {
		return false
	}
	p.written[path] = true
	return true
}

// Link materializes one record: the master always, the edited rendition
// when the record has one and its preview file resolves.
func (p *Planner) Link(r *record.PhotoRecord) (Links, error) {
	links := Links{MasterSource: p.masterSource(r)}

	if _, err := os.Stat(links.MasterSource); err != nil {
		p.reportMissing(links.MasterSource)
	} else {
		p.known[links.MasterSource] = true
		dest, err := p.linkVersioned(links.MasterSource, p.destPath(r, filepath.Base(links.MasterSource)))
		if err != nil {
			return links, fmt.Errorf("link master %s: %w", links.MasterSource, err)
		}
		links.MasterDest = dest
	}

	if r.VersionNumber == 0 {
		return links, nil
	}

	src, probed := p.previewSource(r)
	if src == "" {
		p.reportMissing(probed)
		return links, nil
	}
	links.EditedSource = src

	dest, err := p.linkVersioned(src, p.destPath(r, filepath.Base(src)))
	if err != nil {
		return links, fmt.Errorf("link rendition %s: %w", src, err)
	}
	links.EditedDest = dest
	return links, nil
}

func (p *Planner) masterSource(r *record.PhotoRecord) string {
	return filepath.Join(p.libraryRoot, "Masters", filepath.FromSlash(r.MasterPath))
}

// previewSource probes the two preview layouts used across library
// versions: one nests the rendition under the version uuid, the other puts
// it next to where the master would be. Returns the existing path, or empty
// plus the first candidate for the missing report.
func (p *Planner) previewSource(r *record.PhotoRecord) (found, probed string) {
	rel := filepath.FromSlash(r.MasterPath)
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)) + ".jpg"
	dir := filepath.Join(p.libraryRoot, "Previews", filepath.Dir(rel))

	candidates := []string{
		filepath.Join(dir, r.VersionUUID, base),
		filepath.Join(dir, base),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, c
		}
	}
	return "", candidates[0]
}

// destPath computes the destination for one file of a record: grouped by
// event year and name when an event exists, parked under the no-event area
// mirroring the source layout otherwise.
func (p *Planner) destPath(r *record.PhotoRecord, base string) string {
	if !r.HasEvent {
		rel := filepath.Dir(filepath.FromSlash(r.MasterPath))
		return filepath.Join(p.destRoot, noEventDir, rel, base)
	}

	event := safeName(r.EventName)
	if r.EventStart.IsZero() {
		return filepath.Join(p.destRoot, event, base)
	}
	year := strconv.Itoa(r.EventStart.Value().Year())
	return filepath.Join(p.destRoot, year, event, base)
}

// safeName makes an event name usable as a single directory component.
func safeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Untitled Event"
	}
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	return name
}

// linkVersioned links src to dest, versioning the basename past collisions.
// A destination with the same byte size is treated as already linked and
// left alone; a different size means another file claimed the path, so the
// next _vN suffix is tried. The counter only grows, so this terminates for
// any finite directory.
func (p *Planner) linkVersioned(src, dest string) (string, error) {
	si, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}

	first := dest
	for n := 1; ; n++ {
		if n > 1 {
			dest = versionedName(first, n)
		}

		di, err := os.Stat(dest)
		if os.IsNotExist(err) {
			if p.dryRun {
				klog.Infof("would link %s -> %s", src, dest)
				return dest, nil
			}
			return dest, p.link(src, dest)
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", dest, err)
		}
		if di.Size() == si.Size() {
			klog.V(1).Infof("%s already linked (%d bytes)", dest, di.Size())
			return dest, nil
		}
	}
}

// versionedName appends _vN before the extension.
func versionedName(path string, n int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_v" + strconv.Itoa(n) + ext
}

// link hard-links src to dest, creating parent directories. Destinations on
// another device cannot be hard-linked and get a copy instead.
func (p *Planner) link(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	err := os.Link(src, dest)
	if err == nil {
		klog.V(1).Infof("linked %s -> %s", src, dest)
		return nil
	}
	if os.IsExist(err) {
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		klog.V(1).Infof("cross-device, copying %s -> %s", src, dest)
		if cerr := copy.Copy(src, dest); cerr != nil {
			return fmt.Errorf("copy: %w", cerr)
		}
		return nil
	}
	return fmt.Errorf("link: %w", err)
}

// reportMissing logs an absent source file and appends it to the report.
func (p *Planner) reportMissing(path string) {
	p.missingCount++
	klog.Warningf("missing source file: %s", path)
	if p.missing != nil {
		fmt.Fprintln(p.missing, path)
	}
}
