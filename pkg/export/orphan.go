package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// mediaExts are the file types the orphan scanner recognizes.
var mediaExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".dng":  true,
	".arw":  true,
	".cr2":  true,
	".nef":  true,
	".raf":  true,
	".rw2":  true,
	".orf":  true,
	".mov":  true,
	".mp4":  true,
	".m4v":  true,
	".avi":  true,
}

func recognizedMedia(path string) bool {
	return mediaExts[strings.ToLower(filepath.Ext(path))]
}

// ScanOrphans walks the library's master tree after the main loop and links
// every recognized media file the loop never touched into the Lost and
// Found area, mirroring its relative source path. Files already linked
// there by a previous run are skipped. Returns the orphan count.
func (p *Planner) ScanOrphans() (int, error) {
	root := filepath.Join(p.libraryRoot, "Masters")
	if _, err := os.Stat(root); err != nil {
		klog.Warningf("no master tree at %s, skipping orphan scan", root)
		return 0, nil
	}

	count := 0
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if strings.HasPrefix(de.Name(), ".") {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !recognizedMedia(path) || p.known[path] {
				return nil
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			dest := filepath.Join(p.destRoot, lostAndFoundDir, rel)
			if _, err := os.Stat(dest); err == nil {
				klog.V(1).Infof("orphan already linked: %s", rel)
				return nil
			}

			klog.Infof("orphan: %s", rel)
			count++
			if p.dryRun {
				return nil
			}
			return p.link(path, dest)
		},
	})
	return count, err
}
