package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/migrate"
	"github.com/llehouerou/shelf/internal/tags"
)

func noSleep(context.Context, time.Duration) error { return nil }

// fakeExtractor serves tags from memory, keyed by full path.
type fakeExtractor struct {
	mu    sync.Mutex
	files map[string]tags.FileInfo
	errs  map[string]error
	calls int
	hook  func(path string)
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{files: map[string]tags.FileInfo{}, errs: map[string]error{}}
}

func (f *fakeExtractor) set(path string, info tags.FileInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = info
}

func (f *fakeExtractor) Extract(path string) (*tags.FileInfo, error) {
	f.mu.Lock()
	f.calls++
	hook := f.hook
	info, ok := f.files[path]
	err := f.errs[path]
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no fixture for " + path)
	}
	return &info, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func openTestScanner(t *testing.T, ext Extractor) (*Scanner, *db.Guard) {
	t.Helper()
	ctx := context.Background()
	g, err := db.Open(ctx, filepath.Join(t.TempDir(), "library.db"), db.WithSleep(noSleep))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	_, err = migrate.Run(ctx, g)
	require.NoError(t, err)
	return New(g, WithExtractor(ext), WithWorkers(2)), g
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
}

func count(t *testing.T, g *db.Guard, query string) int64 {
	t.Helper()
	n, err := db.QueryScalar[int64](context.Background(), g, query)
	require.NoError(t, err)
	return n
}

func rowCounts(t *testing.T, g *db.Guard) [4]int64 {
	t.Helper()
	return [4]int64{
		count(t, g, `SELECT COUNT(*) FROM artist`),
		count(t, g, `SELECT COUNT(*) FROM album`),
		count(t, g, `SELECT COUNT(*) FROM track`),
		count(t, g, `SELECT COUNT(*) FROM album_path`),
	}
}

// assertNoOrphans checks the cascade invariant.
func assertNoOrphans(t *testing.T, g *db.Guard) {
	t.Helper()
	assert.Zero(t, count(t, g, `SELECT COUNT(*) FROM album_path ap WHERE NOT EXISTS (
		SELECT 1 FROM track t WHERE t.album_id = ap.album_id
			AND IFNULL(t.disc_number, -1) = ap.disc_num AND t.folder = ap.path)`), "orphan album_path")
	assert.Zero(t, count(t, g, `SELECT COUNT(*) FROM album a WHERE NOT EXISTS (
		SELECT 1 FROM track t WHERE t.album_id = a.id)`), "orphan album")
	assert.Zero(t, count(t, g, `SELECT COUNT(*) FROM artist ar WHERE NOT EXISTS (
		SELECT 1 FROM album a WHERE a.artist_id = ar.id)`), "orphan artist")
}

func song(title, artist, album string, track, disc int) tags.FileInfo {
	return tags.FileInfo{
		Tag: tags.Tag{
			Title: title, Artist: artist, AlbumArtist: artist, Album: album,
			TrackNumber: track, DiscNumber: disc,
		},
		AudioInfo: tags.AudioInfo{Duration: 180 * time.Second},
	}
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEndToEndAddThenRemove(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	file := filepath.Join(root, "A - Song.flac")
	touch(t, file)
	ext.set(file, song("Song", "A", "Album", 1, 1))

	sum, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Full, sum.Mode)
	assert.Equal(t, 1, sum.FilesSeen)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))

	path, err := db.QueryScalar[string](ctx, g, `SELECT path FROM album_path WHERE disc_num = 1`)
	require.NoError(t, err)
	assert.Equal(t, root, path)
	assert.Equal(t, int64(180), count(t, g, `SELECT duration FROM track`))
	assert.Equal(t, "none", func() string {
		v, err := db.QueryScalar[string](ctx, g, `SELECT mbid FROM album`)
		require.NoError(t, err)
		return v
	}())
	assert.Contains(t, cp.Files, file)

	require.NoError(t, os.Remove(file))
	sum, cp, err = s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesRemoved)
	assert.Equal(t, [4]int64{0, 0, 0, 0}, rowCounts(t, g))
	assert.Empty(t, cp.Files)
}

func TestRescanIsIdempotent(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	for i, name := range []string{"01.flac", "02.flac", "03.mp3"} {
		p := filepath.Join(root, "Album", name)
		touch(t, p)
		ext.set(p, song(name, "Artist", "Album", i+1, 0))
	}

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	before := rowCounts(t, g)
	calls := ext.callCount()

	sum, _, err := s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Incremental, sum.Mode)
	assert.Zero(t, sum.Added)
	assert.Zero(t, sum.Updated)
	assert.Zero(t, sum.FilesRemoved)
	assert.Equal(t, 3, sum.Unchanged)
	assert.Equal(t, calls, ext.callCount(), "unchanged files must not be read again")
	assert.Equal(t, before, rowCounts(t, g))
	assert.Equal(t, int64(-1), count(t, g, `SELECT DISTINCT disc_num FROM album_path`))
}

func TestModifiedFileIsUpdatedInPlace(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "song.mp3")
	touch(t, p)
	ext.set(p, song("Old Title", "Artist", "Album", 1, 1))

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	id := count(t, g, `SELECT id FROM track`)

	ext.set(p, song("New Title", "Artist", "Album", 1, 1))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))

	sum, _, err := s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, id, count(t, g, `SELECT id FROM track`))
	title, err := db.QueryScalar[string](ctx, g, `SELECT title FROM track`)
	require.NoError(t, err)
	assert.Equal(t, "New Title", title)
}

func TestRetaggedTrackLeavesNoOrphans(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "song.mp3")
	touch(t, p)
	ext.set(p, song("Song", "First Artist", "First Album", 1, 1))

	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	ext.set(p, song("Song", "Second Artist", "Second Album", 1, 1))
	_, _, err = s.Run(ctx, []string{root}, nil, RunOptions{Full: true})
	require.NoError(t, err)

	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))
	name, err := db.QueryScalar[string](ctx, g, `SELECT name FROM artist`)
	require.NoError(t, err)
	assert.Equal(t, "Second Artist", name)
	assertNoOrphans(t, g)
}

func TestCascadeInvariantAcrossDeletions(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	files := map[string]tags.FileInfo{
		"beatles/white/cd1/01.flac": song("Back in the U.S.S.R.", "The Beatles", "The White Album", 1, 1),
		"beatles/white/cd1/02.flac": song("Dear Prudence", "The Beatles", "The White Album", 2, 1),
		"beatles/white/cd2/01.flac": song("Birthday", "The Beatles", "The White Album", 1, 2),
		"beatles/abbey/01.flac":     song("Come Together", "The Beatles", "Abbey Road", 1, 0),
		"nico/chelsea/01.flac":      song("The Fairest of the Seasons", "Nico", "Chelsea Girl", 1, 0),
		"loose/untagged.mp3":        {Tag: tags.Tag{Title: "untagged"}},
	}
	var order []string
	for rel, info := range files {
		p := filepath.Join(root, rel)
		touch(t, p)
		ext.set(p, info)
		order = append(order, p)
	}

	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, [4]int64{2, 3, 6, 4}, rowCounts(t, g))
	assertNoOrphans(t, g)

	for _, p := range order {
		removed, err := s.DeleteTrack(ctx, p)
		require.NoError(t, err)
		assert.True(t, removed)
		assertNoOrphans(t, g)
	}
	assert.Equal(t, [4]int64{0, 0, 0, 0}, rowCounts(t, g))

	removed, err := s.DeleteTrack(ctx, order[0])
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteTrackRemovesPlaylistItems(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "a.flac")
	touch(t, p)
	ext.set(p, song("A", "Artist", "Album", 1, 1))
	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	pid, err := s.lists.Create(ctx, "mix")
	require.NoError(t, err)
	_, err = s.lists.AddTrack(ctx, pid, count(t, g, `SELECT id FROM track`))
	require.NoError(t, err)

	_, err = s.DeleteTrack(ctx, p)
	require.NoError(t, err)
	assert.Zero(t, count(t, g, `SELECT COUNT(*) FROM playlist_item`))
}

func TestAlbumCoverUpdateKeepsID(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "01.flac")
	touch(t, p)
	info := song("Song", "Artist", "Album", 1, 1)
	info.Cover = pngBytes(t, 40, 40, color.RGBA{R: 255, A: 255})
	ext.set(p, info)

	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	id := count(t, g, `SELECT id FROM album`)
	first, err := db.QueryScalar[[]byte](ctx, g, `SELECT image FROM album`)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	thumb, err := db.QueryScalar[[]byte](ctx, g, `SELECT thumb FROM album`)
	require.NoError(t, err)
	assert.NotEmpty(t, thumb)

	info.Cover = pngBytes(t, 80, 60, color.RGBA{B: 255, A: 255})
	ext.set(p, info)
	_, _, err = s.Run(ctx, []string{root}, nil, RunOptions{Full: true})
	require.NoError(t, err)

	assert.Equal(t, id, count(t, g, `SELECT id FROM album`))
	assert.Equal(t, int64(1), count(t, g, `SELECT COUNT(*) FROM album`))
	second, err := db.QueryScalar[[]byte](ctx, g, `SELECT image FROM album`)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	mime, err := db.QueryScalar[string](ctx, g, `SELECT image_mime FROM album`)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
}

func TestAlbumMetadataIsKeptWhenATrackLacksIt(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	a, b := filepath.Join(root, "01.flac"), filepath.Join(root, "02.flac")
	touch(t, a)
	touch(t, b)
	tagged := song("One", "Artist", "Album", 1, 1)
	tagged.Date = "1999/03/02"
	tagged.Label = "Warp"
	ext.set(a, tagged)
	ext.set(b, song("Two", "Artist", "Album", 2, 1))

	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	release, err := db.QueryScalar[string](ctx, g, `SELECT release_date FROM album`)
	require.NoError(t, err)
	assert.Equal(t, "1999-03-02", release)
	label, err := db.QueryScalar[string](ctx, g, `SELECT label FROM album`)
	require.NoError(t, err)
	assert.Equal(t, "Warp", label)
}

func TestAlbumsDifferingByMBIDStayApart(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)

	root := t.TempDir()
	a, b := filepath.Join(root, "uk", "01.flac"), filepath.Join(root, "us", "01.flac")
	touch(t, a)
	touch(t, b)
	uk := song("Song", "Artist", "Album", 1, 1)
	uk.MBReleaseID = "11111111-1111-1111-1111-111111111111"
	us := song("Song", "Artist", "Album", 1, 1)
	us.MBReleaseID = "22222222-2222-2222-2222-222222222222"
	ext.set(a, uk)
	ext.set(b, us)

	sum, _, err := s.Run(context.Background(), []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, sum.Duplicates)
	assert.Equal(t, [4]int64{1, 2, 2, 2}, rowCounts(t, g))
}

func TestDuplicateCopyIsSkipped(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	orig, dup := filepath.Join(root, "a", "01.flac"), filepath.Join(root, "b", "01.flac")
	touch(t, orig)
	touch(t, dup)
	ext.set(orig, song("Song", "Artist", "Album", 1, 1))
	ext.set(dup, song("Song", "Artist", "Album", 1, 1))

	sum, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))

	// Once the indexed copy is gone the other one takes over.
	indexed, err := db.QueryScalar[string](ctx, g, `SELECT location FROM track`)
	require.NoError(t, err)
	require.NoError(t, os.Remove(indexed))

	sum, _, err = s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesRemoved)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))
	assertNoOrphans(t, g)
}

func TestRetaggedIntoHeldAlbumDropsOldRow(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	held, moved := filepath.Join(root, "a", "01.flac"), filepath.Join(root, "b", "01.flac")
	touch(t, held)
	touch(t, moved)
	ext.set(held, song("Song", "Artist", "Album", 1, 1))
	ext.set(moved, song("Other", "Someone", "Other Album", 1, 1))

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, [4]int64{2, 2, 2, 2}, rowCounts(t, g))

	ext.set(moved, song("Song", "Artist", "Album", 1, 1))
	sum, _, err := s.Run(ctx, []string{root}, cp, RunOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Duplicates)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))
	location, err := db.QueryScalar[string](ctx, g, `SELECT location FROM track`)
	require.NoError(t, err)
	assert.Equal(t, held, location)
	assertNoOrphans(t, g)
}

func TestExtractErrorSkipsOnlyThatFile(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)

	root := t.TempDir()
	good, bad := filepath.Join(root, "good.flac"), filepath.Join(root, "bad.flac")
	touch(t, good)
	touch(t, bad)
	ext.set(good, song("Good", "Artist", "Album", 1, 1))
	ext.errs[bad] = errors.New("truncated header")

	sum, cp, err := s.Run(context.Background(), []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, int64(1), count(t, g, `SELECT COUNT(*) FROM track`))
	assert.Contains(t, cp.Files, good)
	assert.NotContains(t, cp.Files, bad)
}

func TestFileWithoutAlbumHasNoAlbumRows(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)

	root := t.TempDir()
	p := filepath.Join(root, "memo.m4a")
	touch(t, p)
	ext.set(p, tags.FileInfo{Tag: tags.Tag{Title: "memo", Artist: "Me"}})

	_, _, err := s.Run(context.Background(), []string{root}, nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, [4]int64{0, 0, 1, 0}, rowCounts(t, g))
	assert.Equal(t, int64(1), count(t, g, `SELECT COUNT(*) FROM track WHERE album_id IS NULL`))
}

func TestTitleWithQuotesRoundTrips(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "l'été.flac")
	touch(t, p)
	title := `Don't "Stop" ?? Été 東京`
	ext.set(p, song(title, "Guns N' Roses", "Rock 'n' Roll", 1, 1))

	_, _, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	got, err := db.QueryScalar[string](ctx, g, `SELECT title FROM track WHERE location = ?`, p)
	require.NoError(t, err)
	assert.Equal(t, title, got)
	sortable, err := db.QueryScalar[string](ctx, g, `SELECT title_sortable FROM track`)
	require.NoError(t, err)
	assert.Equal(t, `Don't "Stop" ?? Ete 東京`, sortable)
}

func TestDatabaseRebuildForcesFullScan(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	p := filepath.Join(root, "a.flac")
	touch(t, p)
	ext.set(p, song("A", "Artist", "Album", 1, 1))

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	for _, table := range []string{"track", "album_path", "album", "artist"} {
		_, err := g.Execute(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}

	sum, _, err := s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Full, sum.Mode)
	assert.Equal(t, 1, sum.Added)
}

func TestUnavailableRootKeepsTracks(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	parent := t.TempDir()
	root := filepath.Join(parent, "mounted")
	p := filepath.Join(root, "a.flac")
	touch(t, p)
	ext.set(p, song("A", "Artist", "Album", 1, 1))

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Rename(root, filepath.Join(parent, "unmounted")))
	sum, cp, err := s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Zero(t, sum.FilesRemoved)
	assert.Equal(t, int64(1), count(t, g, `SELECT COUNT(*) FROM track`))
	assert.Contains(t, cp.Files, p)
}

func TestRootChangeDropsTracksUnderOldRoot(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	oldRoot, newRoot := t.TempDir(), t.TempDir()
	for i, name := range []string{"01.flac", "02.flac"} {
		p := filepath.Join(oldRoot, "album", name)
		touch(t, p)
		ext.set(p, song(name, "Old", "Gone", i+1, 1))
	}
	p := filepath.Join(newRoot, "album", "01.flac")
	touch(t, p)
	ext.set(p, song("Kept", "New", "Here", 1, 1))

	_, cp, err := s.Run(ctx, []string{oldRoot}, nil, RunOptions{})
	require.NoError(t, err)

	sum, cp, err := s.Run(ctx, []string{newRoot}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Full, sum.Mode)
	assert.Equal(t, 2, sum.FilesRemoved)
	assert.Equal(t, []string{newRoot}, cp.Roots)
	assert.Equal(t, [4]int64{1, 1, 1, 1}, rowCounts(t, g))
	assertNoOrphans(t, g)
}

func TestInterruptedRootChangeIsFinishedLater(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	s.workers = 1
	ctx := context.Background()

	oldRoot, newRoot := t.TempDir(), t.TempDir()
	var blocked string
	for i, name := range []string{"01.flac", "02.flac"} {
		p := filepath.Join(oldRoot, "album", name)
		touch(t, p)
		ext.set(p, song(name, "Old", "Gone", i+1, 1))
		blocked = p
	}
	for i := range 5 {
		name := fmt.Sprintf("%02d.flac", i+1)
		p := filepath.Join(newRoot, "album", name)
		touch(t, p)
		ext.set(p, song(name, "New", "Here", i+1, 1))
	}

	_, cp, err := s.Run(ctx, []string{oldRoot}, nil, RunOptions{})
	require.NoError(t, err)

	// One old track cannot be removed and the pass is cancelled while
	// reading the new root.
	_, err = g.Execute(ctx, `CREATE TRIGGER keep_track BEFORE DELETE ON track
		WHEN OLD.location = '`+blocked+`' BEGIN SELECT RAISE(ABORT, 'removal refused'); END`)
	require.NoError(t, err)
	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ext.hook = func(string) { cancel() }

	sum, cp, err := s.Run(cancelCtx, []string{newRoot}, cp, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.FilesRemoved)
	assert.Equal(t, []string{oldRoot}, cp.Roots, "roots are recorded only by a complete pass")

	ext.hook = nil
	_, err = g.Execute(ctx, `DROP TRIGGER keep_track`)
	require.NoError(t, err)

	sum, cp, err = s.Run(ctx, []string{newRoot}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Full, sum.Mode)
	assert.Equal(t, 1, sum.FilesRemoved)
	assert.Equal(t, []string{newRoot}, cp.Roots)
	assert.Zero(t, count(t, g, `SELECT COUNT(*) FROM track WHERE location LIKE '`+oldRoot+`%'`))
	assert.Equal(t, int64(5), count(t, g, `SELECT COUNT(*) FROM track`))
	assertNoOrphans(t, g)
}

func TestFailedRemovalIsRetriedNextPass(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	ctx := context.Background()

	root := t.TempDir()
	a := filepath.Join(root, "album", "a.flac")
	b := filepath.Join(root, "album", "b.flac")
	touch(t, a)
	touch(t, b)
	ext.set(a, song("A", "Artist", "Album", 1, 1))
	ext.set(b, song("B", "Artist", "Album", 2, 1))

	_, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))
	_, err = g.Execute(ctx, `CREATE TRIGGER keep_track BEFORE DELETE ON track
		BEGIN SELECT RAISE(ABORT, 'removal refused'); END`)
	require.NoError(t, err)

	sum, cp, err := s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Zero(t, sum.FilesRemoved)

	_, err = g.Execute(ctx, `DROP TRIGGER keep_track`)
	require.NoError(t, err)

	sum, _, err = s.Run(ctx, []string{root}, cp, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Incremental, sum.Mode)
	assert.Equal(t, 1, sum.FilesRemoved)
	assert.Equal(t, int64(1), count(t, g, `SELECT COUNT(*) FROM track`))
	assertNoOrphans(t, g)
}

func TestCancellationKeepsCommittedWork(t *testing.T) {
	ext := newFakeExtractor()
	s, g := openTestScanner(t, ext)
	s.workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := t.TempDir()
	for i := range 20 {
		name := fmt.Sprintf("%02d.flac", i+1)
		p := filepath.Join(root, "album", name)
		touch(t, p)
		ext.set(p, song(name, "Artist", "Album", i+1, 1))
	}
	ext.hook = func(string) {
		if ext.callCount() == 5 {
			cancel()
		}
	}

	sum, cp, err := s.Run(ctx, []string{root}, nil, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, cp)
	assert.Less(t, sum.Added, 20)

	// Every recorded file is indexed and nothing dangles.
	assert.Equal(t, int64(len(cp.Files)), count(t, g, `SELECT COUNT(*) FROM track`))
	assertNoOrphans(t, g)
	assert.True(t, cp.LastScanAt.IsZero(), "a cancelled pass is not a completed scan")
}

func TestProgressReportsPhases(t *testing.T) {
	ext := newFakeExtractor()
	s, _ := openTestScanner(t, ext)

	root := t.TempDir()
	p := filepath.Join(root, "a.flac")
	touch(t, p)
	ext.set(p, song("A", "Artist", "Album", 1, 1))

	progress := make(chan Progress, 64)
	_, _, err := s.Run(context.Background(), []string{root}, nil, RunOptions{Progress: progress})
	require.NoError(t, err)
	close(progress)

	var phases []string
	for pr := range progress {
		if len(phases) == 0 || phases[len(phases)-1] != pr.Phase {
			phases = append(phases, pr.Phase)
		}
	}
	assert.Equal(t, []string{PhaseDiscovering, PhaseProcessing, PhaseDone}, phases)
}

func TestDiscoverFollowsSymlinksOnce(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "one.flac"))
	touch(t, filepath.Join(root, "a", "notes.txt"))
	other := t.TempDir()
	touch(t, filepath.Join(other, "two.mp3"))

	require.NoError(t, os.Symlink(root, filepath.Join(root, "a", "loop")))
	require.NoError(t, os.Symlink(other, filepath.Join(root, "linked")))

	files, errs := discover([]string{root}, nil)
	assert.Empty(t, errs)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.path)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a", "one.flac"),
		filepath.Join(root, "linked", "two.mp3"),
	}, paths)
}

func TestSummaryString(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{Mode: Full, FilesSeen: 12345, Added: 1200, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)}
	assert.Equal(t, "full scan of 12,345 files: 1,200 added, 0 updated, 0 unchanged, 0 removed, 0 duplicates, 0 errors in 1.5s", s.String())
}
