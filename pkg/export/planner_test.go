package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jensb/iphoto2xmp/pkg/catalog"
	"github.com/jensb/iphoto2xmp/pkg/record"
)

// writeFile creates a file of the given size under root.
func writeFile(t *testing.T, root, rel string, size int) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

func eventRecord(masterPath string, versionNumber int64) *record.PhotoRecord {
	return &record.PhotoRecord{
		VersionID:     1,
		VersionUUID:   "v-uuid-1",
		MasterUUID:    "m-uuid-1",
		VersionNumber: versionNumber,
		HasEvent:      true,
		EventName:     "2015-04-27",
		EventStart:    catalog.At(time.Date(2015, 4, 27, 10, 0, 0, 0, time.UTC), "UTC"),
		MasterPath:    masterPath,
		MediaKind:     record.MediaStill,
	}
}

func newTestPlanner(t *testing.T) (*Planner, string, string) {
	t.Helper()
	lib := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")
	p, err := NewPlanner(lib, dest, false)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	return p, lib, dest
}

func TestLinkMasterIntoEventTree(t *testing.T) {
	p, lib, dest := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0001.JPG", 100)

	links, err := p.Link(eventRecord("2015/04/IMG_0001.JPG", 0))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	want := filepath.Join(dest, "2015", "2015-04-27", "IMG_0001.JPG")
	if links.MasterDest != want {
		t.Errorf("master dest = %s, want %s", links.MasterDest, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("destination not linked: %v", err)
	}
	if !p.Known(links.MasterSource) {
		t.Error("master source not marked known")
	}
}

func TestLinkDatelessEvent(t *testing.T) {
	p, lib, dest := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0001.JPG", 100)

	r := eventRecord("2015/04/IMG_0001.JPG", 0)
	r.EventStart = catalog.Time{}

	links, err := p.Link(r)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := filepath.Join(dest, "2015-04-27", "IMG_0001.JPG")
	if links.MasterDest != want {
		t.Errorf("master dest = %s, want %s", links.MasterDest, want)
	}
}

func TestLinkWithoutEvent(t *testing.T) {
	p, lib, dest := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0001.JPG", 100)

	r := eventRecord("2015/04/IMG_0001.JPG", 0)
	r.HasEvent = false
	r.EventName = ""

	links, err := p.Link(r)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	want := filepath.Join(dest, noEventDir, "2015", "04", "IMG_0001.JPG")
	if links.MasterDest != want {
		t.Errorf("master dest = %s, want %s", links.MasterDest, want)
	}
}

func TestLinkEditedRenditionCollision(t *testing.T) {
	p, lib, _ := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0002.jpg", 100)
	writeFile(t, lib, "Previews/2015/04/v-uuid-1/IMG_0002.jpg", 50)

	r := eventRecord("2015/04/IMG_0002.jpg", 1)

	links, err := p.Link(r)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if links.EditedDest == links.MasterDest {
		t.Fatal("edited rendition must not share the master's path")
	}
	if !strings.HasSuffix(links.EditedDest, "_v2.jpg") {
		t.Errorf("edited dest = %s, want _v2 suffix", links.EditedDest)
	}

	// Re-running must find both files and create no third.
	again, err := p.Link(r)
	if err != nil {
		t.Fatalf("re-run Link: %v", err)
	}
	if again.MasterDest != links.MasterDest || again.EditedDest != links.EditedDest {
		t.Errorf("re-run moved destinations: %+v vs %+v", again, links)
	}

	dir := filepath.Dir(links.MasterDest)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("event dir has %d entries, want 2", len(entries))
	}
}

func TestLinkEditedRenditionDedup(t *testing.T) {
	p, lib, _ := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0003.jpg", 100)
	// Identical byte size: the rendition dedups onto the master's path.
	writeFile(t, lib, "Previews/2015/04/IMG_0003.jpg", 100)

	links, err := p.Link(eventRecord("2015/04/IMG_0003.jpg", 1))
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if links.EditedDest != links.MasterDest {
		t.Errorf("dedup failed: %s vs %s", links.EditedDest, links.MasterDest)
	}

	entries, err := os.ReadDir(filepath.Dir(links.MasterDest))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("event dir has %d entries, want 1", len(entries))
	}
}

func TestPreviewLayoutConventions(t *testing.T) {
	p, lib, _ := newTestPlanner(t)
	writeFile(t, lib, "Masters/a/IMG_1.jpg", 10)
	// Older layout: preview sits directly in the mirrored directory.
	writeFile(t, lib, "Previews/a/IMG_1.jpg", 20)

	src, _ := p.previewSource(eventRecord("a/IMG_1.jpg", 1))
	if src != filepath.Join(lib, "Previews", "a", "IMG_1.jpg") {
		t.Errorf("preview source = %s", src)
	}

	// Newer layout wins when present.
	writeFile(t, lib, "Previews/a/v-uuid-1/IMG_1.jpg", 20)
	src, _ = p.previewSource(eventRecord("a/IMG_1.jpg", 1))
	if src != filepath.Join(lib, "Previews", "a", "v-uuid-1", "IMG_1.jpg") {
		t.Errorf("preview source = %s", src)
	}
}

func TestMissingMaster(t *testing.T) {
	p, _, dest := newTestPlanner(t)

	links, err := p.Link(eventRecord("2015/04/GONE.JPG", 0))
	if err != nil {
		t.Fatalf("Link must not fail on a missing source: %v", err)
	}
	if links.MasterDest != "" {
		t.Errorf("master dest = %s, want empty", links.MasterDest)
	}
	if p.MissingCount() != 1 {
		t.Errorf("missing count = %d, want 1", p.MissingCount())
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, missingLogName))
	if err != nil {
		t.Fatalf("read missing.log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "GONE.JPG") {
		t.Errorf("missing.log = %q", string(data))
	}
}

func TestMissingLogRemovedWhenClean(t *testing.T) {
	p, lib, dest := newTestPlanner(t)
	writeFile(t, lib, "Masters/a/IMG_1.jpg", 10)

	if _, err := p.Link(eventRecord("a/IMG_1.jpg", 0)); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, missingLogName)); !os.IsNotExist(err) {
		t.Error("missing.log should be removed after a clean run")
	}
}

func TestClaimSidecar(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	if !p.ClaimSidecar("/out/a.xmp") {
		t.Error("first claim must succeed")
	}
	if p.ClaimSidecar("/out/a.xmp") {
		t.Error("second claim must be rejected")
	}
	if !p.ClaimSidecar("/out/b.xmp") {
		t.Error("independent path must be claimable")
	}
}

func TestScanOrphans(t *testing.T) {
	p, lib, dest := newTestPlanner(t)
	writeFile(t, lib, "Masters/2015/04/IMG_0001.JPG", 100)
	writeFile(t, lib, "Masters/2015/04/ORPHAN.JPG", 40)
	writeFile(t, lib, "Masters/2015/04/notes.txt", 5)

	if _, err := p.Link(eventRecord("2015/04/IMG_0001.JPG", 0)); err != nil {
		t.Fatalf("Link: %v", err)
	}

	n, err := p.ScanOrphans()
	if err != nil {
		t.Fatalf("ScanOrphans: %v", err)
	}
	if n != 1 {
		t.Errorf("orphan count = %d, want 1", n)
	}

	lost := filepath.Join(dest, lostAndFoundDir, "2015", "04", "ORPHAN.JPG")
	if _, err := os.Stat(lost); err != nil {
		t.Errorf("orphan not linked: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "2015", "2015-04-27", "ORPHAN.JPG")); !os.IsNotExist(err) {
		t.Error("orphan must not appear under the main tree")
	}

	// A second pass finds it already linked and counts nothing.
	n, err = p.ScanOrphans()
	if err != nil {
		t.Fatalf("second ScanOrphans: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass orphan count = %d, want 0", n)
	}
}

func TestVersionedName(t *testing.T) {
	if got := versionedName("/out/IMG_1.jpg", 2); got != "/out/IMG_1_v2.jpg" {
		t.Errorf("versionedName = %s", got)
	}
	if got := versionedName("/out/IMG_1.jpg", 10); got != "/out/IMG_1_v10.jpg" {
		t.Errorf("versionedName = %s", got)
	}
}
