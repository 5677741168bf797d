// iphoto2xmp migrates a photo library into a plain directory tree of
// hard-linked media files with XMP metadata sidecars.
package main

import (
	"flag"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/jensb/iphoto2xmp/pkg/catalog"
	"github.com/jensb/iphoto2xmp/pkg/export"
	"github.com/jensb/iphoto2xmp/pkg/record"
	"github.com/jensb/iphoto2xmp/pkg/sidecar"
)

var (
	minID      = flag.Int64("min-id", 0, "only process photos with version id at or above this threshold")
	captionPat = flag.String("caption", "", "only process photos whose caption matches this regexp")
	exifProbe  = flag.Bool("exif-rotation", false, "probe master files for EXIF orientation as a second rotation input")
	dryRun     = flag.Bool("n", false, "dry-run mode, don't link or write anything")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// An optional .env can supply the run filters environment-style.
	if err := godotenv.Load(); err == nil {
		klog.V(1).Info("loaded .env")
	}
	if v := os.Getenv("IPHOTO2XMP_MIN_ID"); v != "" && *minID == 0 {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			klog.Exitf("bad IPHOTO2XMP_MIN_ID %q: %v", v, err)
		}
		*minID = n
	}
	if v := os.Getenv("IPHOTO2XMP_CAPTION"); v != "" && *captionPat == "" {
		*captionPat = v
	}

	if flag.NArg() != 2 {
		klog.Exitf("usage: %s [flags] <library root> <destination root>", os.Args[0])
	}
	libRoot, destRoot := flag.Arg(0), flag.Arg(1)

	var captionRe *regexp.Regexp
	if *captionPat != "" {
		var err error
		captionRe, err = regexp.Compile(*captionPat)
		if err != nil {
			klog.Exitf("bad caption pattern %q: %v", *captionPat, err)
		}
	}

	cat, err := catalog.Open(libRoot)
	if err != nil {
		klog.Exitf("open catalog: %v", err)
	}
	defer cat.Close()

	opts := record.Options{}
	if *exifProbe {
		probe, cleanup, err := exifRotationProbe()
		if err != nil {
			klog.Exitf("exiftool: %v", err)
		}
		defer cleanup()
		opts.ExifRotation = probe
	}

	records, err := record.Aggregate(cat, opts)
	if err != nil {
		klog.Exitf("aggregate: %v", err)
	}

	planner, err := export.NewPlanner(libRoot, destRoot, *dryRun)
	if err != nil {
		klog.Exitf("planner: %v", err)
	}

	sw, err := sidecar.New()
	if err != nil {
		klog.Exitf("sidecar writer: %v", err)
	}

	processed, sidecars := 0, 0
	for _, r := range records {
		if r.VersionID < *minID {
			continue
		}
		if captionRe != nil && !captionRe.MatchString(r.Caption) {
			continue
		}
		processed++

		links, err := planner.Link(r)
		if err != nil {
			klog.Errorf("version %d: %v", r.VersionID, err)
			continue
		}

		type out struct {
			dest string
			doc  sidecar.Doc
		}
		outs := []out{}
		if links.MasterDest != "" {
			outs = append(outs, out{links.MasterDest, sidecar.Doc{
				Record: r, Faces: r.MasterFaces, Width: r.MasterWidth, Height: r.MasterHeight,
			}})
		}
		if links.EditedDest != "" && links.EditedDest != links.MasterDest {
			w, h := r.ProcessedWidth, r.ProcessedHeight
			if w == 0 || h == 0 {
				w, h = r.MasterWidth, r.MasterHeight
			}
			outs = append(outs, out{links.EditedDest, sidecar.Doc{
				Record: r, Faces: r.EditedFaces, Width: w, Height: h,
			}})
		}

		for _, o := range outs {
			xmp := o.dest + ".xmp"
			if !planner.ClaimSidecar(xmp) {
				continue
			}
			if *dryRun {
				klog.Infof("would write %s", xmp)
				sidecars++
				continue
			}
			if err := sw.Write(xmp, o.doc); err != nil {
				klog.Errorf("sidecar %s: %v", xmp, err)
				continue
			}
			sidecars++
		}
	}

	orphans, err := planner.ScanOrphans()
	if err != nil {
		klog.Errorf("orphan scan: %v", err)
	}

	if err := planner.Close(); err != nil {
		klog.Errorf("close planner: %v", err)
	}

	klog.Infof("done: %d photos processed, %d sidecars, %d orphans", processed, sidecars, orphans)
	if n := planner.MissingCount(); n > 0 {
		klog.Warningf("%d source files were missing, see %s", n, planner.MissingPath())
	}
}

// exifRotationProbe returns a function reading a file's embedded
// orientation in degrees. Unreadable files or unknown orientations probe
// as 0.
func exifRotationProbe() (func(path string) int, func(), error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, nil, err
	}

	probe := func(path string) int {
		fis := et.ExtractMetadata(path)
		if len(fis) == 0 || fis[0].Err != nil {
			return 0
		}
		o, err := fis[0].GetString("Orientation")
		if err != nil {
			return 0
		}
		switch {
		case strings.Contains(o, "90 CW"):
			return 90
		case strings.Contains(o, "180"):
			return 180
		case strings.Contains(o, "270 CW"), strings.Contains(o, "90 CCW"):
			return 270
		}
		return 0
	}
	cleanup := func() { et.Close() }
	return probe, cleanup, nil
}
