// Package scanner reconciles the library database with the audio files
// under a set of root directories.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/logger"
	"github.com/llehouerou/shelf/internal/metrics"
	"github.com/llehouerou/shelf/internal/playlists"
	"github.com/llehouerou/shelf/internal/retry"
	"github.com/llehouerou/shelf/internal/tags"
)

var log = logger.WithName("scanner")

// DefaultWorkers is the size of the extraction pool.
const DefaultWorkers = 8

// Mode tells whether a pass trusted the checkpoint.
type Mode string

const (
	Incremental Mode = "incremental"
	Full        Mode = "full"
)

// Progress phases.
const (
	PhaseDiscovering = "discovering"
	PhaseCleaning    = "cleaning"
	PhaseProcessing  = "processing"
	PhaseDone        = "done"
)

// Progress reports how far a scan has come.
type Progress struct {
	Phase   string
	Current int
	Total   int
	Path    string
}

// FileError is a failure tied to one file. It never aborts a scan.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Extractor reads everything the scanner stores about one file.
type Extractor interface {
	Extract(path string) (*tags.FileInfo, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(path string) (*tags.FileInfo, error)

func (f ExtractorFunc) Extract(path string) (*tags.FileInfo, error) { return f(path) }

// Summary describes one scan pass.
type Summary struct {
	Mode         Mode      `json:"mode"`
	FilesSeen    int       `json:"files_seen"`
	FilesIndexed int       `json:"files_indexed"`
	Added        int       `json:"added"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	FilesRemoved int       `json:"files_removed"`
	Duplicates   int       `json:"duplicates"`
	Errors       int       `json:"errors"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%s scan of %s files: %s added, %s updated, %s unchanged, %s removed, %d duplicates, %d errors in %s",
		s.Mode,
		humanize.Comma(int64(s.FilesSeen)),
		humanize.Comma(int64(s.Added)),
		humanize.Comma(int64(s.Updated)),
		humanize.Comma(int64(s.Unchanged)),
		humanize.Comma(int64(s.FilesRemoved)),
		s.Duplicates, s.Errors,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
}

// RunOptions tune a single pass.
type RunOptions struct {
	// Full ignores recorded modification times.
	Full bool
	// Progress receives best-effort updates; slow readers miss some.
	Progress chan<- Progress
}

// Scanner walks roots and writes what it finds. It is the only writer of
// the artist, album, track and album_path tables.
type Scanner struct {
	g         *db.Guard
	lists     *playlists.Playlists
	extractor Extractor
	workers   int
	now       func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExtractor replaces the tag reader.
func WithExtractor(e Extractor) Option {
	return func(s *Scanner) { s.extractor = e }
}

// WithWorkers sets the extraction pool size.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Scanner writing through g with the scan write retry budget.
func New(g *db.Guard, opts ...Option) *Scanner {
	wg := g.WithPolicy(retry.ScanWrite())
	s := &Scanner{
		g:         wg,
		lists:     playlists.New(wg),
		extractor: ExtractorFunc(tags.ReadFile),
		workers:   DefaultWorkers,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func report(ch chan<- Progress, p Progress) {
	if ch == nil {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

// normalizeRoots makes roots absolute, clean, sorted and unique.
func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		out = append(out, filepath.Clean(r))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func underRoot(path string, roots []string) bool {
	for _, r := range roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

type extracted struct {
	file fileInfo
	info *tags.FileInfo
	art  *artwork.Art
	err  error
}

// Run performs one pass over roots. cp may be nil. The returned checkpoint
// is cp updated with this pass, and is returned even when Run fails or is
// cancelled so the work already committed is not redone.
func (s *Scanner) Run(ctx context.Context, roots []string, cp *Checkpoint, opts RunOptions) (Summary, *Checkpoint, error) {
	if cp == nil {
		cp = NewCheckpoint()
	}
	roots = normalizeRoots(roots)
	sum := Summary{StartedAt: s.now()}
	l := log.WithField("roots", roots)

	existing, err := s.trackLocations(ctx)
	if err != nil {
		return sum, cp, fmt.Errorf("load indexed tracks: %w", err)
	}

	sum.Mode = Incremental
	switch {
	case opts.Full, cp.Empty(), !slices.Equal(cp.Roots, roots):
		sum.Mode = Full
	case len(existing) == 0 && len(cp.Files) > 0:
		l.Info("database has no tracks but the checkpoint does, rescanning everything")
		sum.Mode = Full
	}
	l = l.WithField("mode", sum.Mode)
	l.Info("scan started")

	err = s.run(ctx, roots, cp, existing, opts, &sum)

	sum.FinishedAt = s.now()
	if err == nil {
		// Recorded only after a complete pass so an interrupted root change
		// is picked up again as a full scan.
		cp.Roots = roots
		cp.LastScanAt = sum.FinishedAt
		last := sum
		cp.LastSummary = &last
	}

	status := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
		l.WithField("summary", sum.String()).Warn("scan cancelled")
	case err != nil:
		status = "failed"
		l.WithError(err).Error("scan failed")
	default:
		l.Info(sum.String())
	}
	metrics.Scans.WithLabelValues(string(sum.Mode), status).Inc()
	metrics.ScanDuration.WithLabelValues(string(sum.Mode)).Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	report(opts.Progress, Progress{Phase: PhaseDone, Current: sum.FilesSeen, Total: sum.FilesSeen})
	return sum, cp, err
}

func (s *Scanner) run(
	ctx context.Context,
	roots []string,
	cp *Checkpoint,
	existing map[string]struct{},
	opts RunOptions,
	sum *Summary,
) error {
	// A root that cannot be reached (an unmounted drive) keeps its tracks.
	var live, missing []string
	for _, r := range roots {
		if _, err := os.Stat(r); err != nil {
			log.WithField("root", r).WithError(err).Warn("scan root unavailable, keeping its tracks")
			sum.Errors++
			missing = append(missing, r)
			continue
		}
		live = append(live, r)
	}

	// Phase 1: discover
	report(opts.Progress, Progress{Phase: PhaseDiscovering})
	files, walkErrs := discover(live, opts.Progress)
	sum.FilesSeen = len(files)
	sum.Errors += len(walkErrs)
	for _, e := range walkErrs {
		log.WithField("path", e.Path).WithField("op", e.Op).WithError(e.Err).Warn("skipping unreadable entry")
		metrics.ScanFiles.WithLabelValues(metrics.OutcomeError).Inc()
	}
	discovered := make(map[string]struct{}, len(files))
	for _, f := range files {
		discovered[f.path] = struct{}{}
	}

	// Phase 2: clean up what disappeared. Anything not found under a live
	// root goes, including tracks left behind by a removed root.
	var stale []string
	for loc := range existing {
		if _, ok := discovered[loc]; ok {
			continue
		}
		if !underRoot(loc, missing) {
			stale = append(stale, loc)
		}
	}
	slices.Sort(stale)
	for loc := range cp.Files {
		if _, ok := discovered[loc]; !ok && !underRoot(loc, missing) {
			delete(cp.Files, loc)
		}
	}
	for i, loc := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(opts.Progress, Progress{Phase: PhaseCleaning, Current: i + 1, Total: len(stale), Path: loc})
		// A started cascade runs to the end; cancellation is honored between files.
		removed, err := s.DeleteTrack(context.WithoutCancel(ctx), loc)
		if err != nil {
			sum.Errors++
			metrics.ScanFiles.WithLabelValues(metrics.OutcomeError).Inc()
			log.WithField("path", loc).WithError(err).Error("could not remove track")
			continue
		}
		if removed {
			delete(existing, loc)
			sum.FilesRemoved++
			metrics.ScanFiles.WithLabelValues(metrics.OutcomeRemoved).Inc()
		}
	}

	// Phase 3: select what needs reading
	todo := make([]fileInfo, 0, len(files))
	for _, f := range files {
		_, indexed := existing[f.path]
		if sum.Mode == Incremental && indexed {
			if mtime, ok := cp.Files[f.path]; ok && mtime == f.mtime {
				sum.Unchanged++
				metrics.ScanFiles.WithLabelValues(metrics.OutcomeUnchanged).Inc()
				continue
			}
		}
		todo = append(todo, f)
	}

	// Phase 4: extract in parallel, write sequentially
	if err := s.process(ctx, todo, cp, existing, opts.Progress, sum); err != nil {
		return err
	}

	// Phase 5: re-establish the cascade invariant
	if err := s.sweep(ctx); err != nil {
		return fmt.Errorf("sweep orphans: %w", err)
	}
	return nil
}

func (s *Scanner) process(
	ctx context.Context,
	todo []fileInfo,
	cp *Checkpoint,
	existing map[string]struct{},
	progress chan<- Progress,
	sum *Summary,
) error {
	if len(todo) == 0 {
		return nil
	}

	workCtx, stop := context.WithCancel(ctx)
	defer stop()

	workCh := make(chan fileInfo)
	resultCh := make(chan extracted, s.workers)

	var wg sync.WaitGroup
	for range s.workers {
		wg.Go(func() {
			for f := range workCh {
				res := extracted{file: f}
				res.info, res.err = s.extractor.Extract(f.path)
				if res.err == nil && len(res.info.Cover) > 0 {
					art, err := artwork.Prepare(res.info.Cover)
					if err != nil {
						log.WithField("path", f.path).WithError(err).Debug("unusable cover art")
					} else {
						res.art = art
					}
				}
				select {
				case resultCh <- res:
				case <-workCtx.Done():
					return
				}
			}
		})
	}

	go func() {
		defer close(workCh)
		for _, f := range todo {
			select {
			case workCh <- f:
			case <-workCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	w := newWriter(s)
	done := 0
	for res := range resultCh {
		if err := ctx.Err(); err != nil {
			stop()
			// drain so workers can exit
			for range resultCh {
			}
			return err
		}
		done++
		report(progress, Progress{Phase: PhaseProcessing, Current: done, Total: len(todo), Path: res.file.path})

		l := log.WithField("path", res.file.path)
		if res.err != nil {
			sum.Errors++
			delete(cp.Files, res.file.path)
			metrics.ScanFiles.WithLabelValues(metrics.OutcomeError).Inc()
			l.WithError(&FileError{Path: res.file.path, Op: "extract", Err: res.err}).Warn("skipping file")
			continue
		}

		_, wasIndexed := existing[res.file.path]
		outcome, err := w.write(context.WithoutCancel(ctx), res)
		if err != nil {
			sum.Errors++
			delete(cp.Files, res.file.path)
			metrics.ScanFiles.WithLabelValues(metrics.OutcomeError).Inc()
			entry := l.WithError(&FileError{Path: res.file.path, Op: "write", Err: err})
			if errors.Is(err, retry.ErrTransientLock) {
				entry.Warn("database stayed locked, file will be retried next scan")
			} else {
				entry.Error("could not index file")
			}
			continue
		}

		switch outcome {
		case outcomeDuplicate:
			sum.Duplicates++
			delete(cp.Files, res.file.path)
			delete(existing, res.file.path)
			metrics.ScanFiles.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			continue
		case outcomeWritten:
			sum.FilesIndexed++
			if wasIndexed {
				sum.Updated++
				metrics.ScanFiles.WithLabelValues(metrics.OutcomeUpdated).Inc()
			} else {
				sum.Added++
				existing[res.file.path] = struct{}{}
				metrics.ScanFiles.WithLabelValues(metrics.OutcomeAdded).Inc()
			}
		}
		cp.Files[res.file.path] = res.file.mtime
	}
	return ctx.Err()
}

func (s *Scanner) trackLocations(ctx context.Context) (map[string]struct{}, error) {
	locs, err := db.QueryRows(ctx, s.g, db.Scalar[string], `SELECT location FROM track`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(locs))
	for _, l := range locs {
		out[l] = struct{}{}
	}
	return out, nil
}

// statMtime is the checkpoint's notion of a file version.
func statMtime(info os.FileInfo) int64 {
	return info.ModTime().Unix()
}
