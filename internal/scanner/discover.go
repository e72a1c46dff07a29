package scanner

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/llehouerou/shelf/internal/tags"
)

// fileInfo holds information about a discovered music file.
type fileInfo struct {
	path  string
	mtime int64
}

type discovery struct {
	files    []fileInfo
	seen     map[string]struct{} // file paths, so a file reached twice counts once
	visited  map[string]struct{} // canonical directories
	errs     []*FileError
	progress chan<- Progress
}

// discover walks the roots and returns every music file under them.
// Symlinked directories are followed once each. Unreadable entries are
// returned as errors and otherwise skipped.
func discover(roots []string, progress chan<- Progress) ([]fileInfo, []*FileError) {
	d := &discovery{
		seen:     make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		progress: progress,
	}
	for _, root := range roots {
		d.walk(root)
	}
	return d.files, d.errs
}

// enter marks dir as visited and reports whether it was new.
func (d *discovery) enter(dir string) bool {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		real = dir
	}
	if _, ok := d.visited[real]; ok {
		return false
	}
	d.visited[real] = struct{}{}
	return true
}

func (d *discovery) fail(path, op string, err error) {
	d.errs = append(d.errs, &FileError{Path: path, Op: op, Err: err})
}

func (d *discovery) add(path string, info os.FileInfo) {
	if _, ok := d.seen[path]; ok {
		return
	}
	d.seen[path] = struct{}{}
	d.files = append(d.files, fileInfo{path: path, mtime: statMtime(info)})
	if len(d.files)%100 == 0 {
		report(d.progress, Progress{Phase: PhaseDiscovering, Current: len(d.files)})
	}
}

// walk descends dir with os.ReadDir rather than filepath.WalkDir, which
// never follows symlinks.
func (d *discovery) walk(dir string) {
	if !d.enter(dir) {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		// ReadDir still returns the entries it read before failing
		d.fail(dir, "read dir", err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			d.walk(path)
		case e.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil {
				d.fail(path, "stat", err)
				continue
			}
			if info.IsDir() {
				d.walk(path)
			} else if tags.IsMusicFile(path) {
				d.add(path, info)
			}
		case tags.IsMusicFile(path):
			info, err := e.Info()
			if err != nil {
				d.fail(path, "stat", err)
				continue
			}
			d.add(path, info)
		}
	}
}
