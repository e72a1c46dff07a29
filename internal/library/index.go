package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/retry"
)

// ErrNotFound is returned by lookups whose row does not exist.
var ErrNotFound = errors.New("not found")

// AlbumArt selects which of an album's two images a lookup loads.
type AlbumArt int

const (
	// FullQuality loads the full image and leaves Thumb nil.
	FullQuality AlbumArt = iota
	// Thumbnail loads the thumbnail and leaves Image nil.
	Thumbnail
)

// Index is the read side of the library. It holds no state besides the
// connection; every call reads the current rows.
type Index struct {
	g *db.Guard
}

// New returns an Index reading through g with the read retry budget.
func New(g *db.Guard) *Index {
	return &Index{g: g.WithPolicy(retry.Read())}
}

func notFound(kind string, key any, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w: %w", kind, key, ErrNotFound, err)
	}
	return fmt.Errorf("%s %v: %w", kind, key, err)
}

// Albums lists every album in the requested order.
func (ix *Index) Albums(ctx context.Context, order AlbumSort) ([]AlbumEntry, error) {
	clause, err := order.orderBy()
	if err != nil {
		return nil, err
	}
	q := `SELECT a.id, a.title_sortable
		FROM album a
		LEFT JOIN artist ar ON ar.id = a.artist_id
		` + clause
	entries, err := db.QueryRows(ctx, ix.g, func(r db.RowScanner) (AlbumEntry, error) {
		var e AlbumEntry
		err := r.Scan(&e.ID, &e.TitleSortable)
		return e, err
	}, q)
	if err != nil {
		return nil, fmt.Errorf("list albums by %s: %w", order, err)
	}
	return entries, nil
}

const albumColumns = `id, title, title_sortable, artist_id, release_date, label,
	catalog_number, isrc, mbid, image_mime, tags, created_at`

func scanAlbum(r db.RowScanner, extra ...any) (Album, error) {
	var a Album
	var artistID sql.NullInt64
	var release, label, catalog, isrc, mime, tags sql.NullString
	dest := append([]any{
		&a.ID, &a.Title, &a.TitleSortable, &artistID, &release, &label,
		&catalog, &isrc, &a.MBID, &mime, &tags, &a.CreatedAt,
	}, extra...)
	if err := r.Scan(dest...); err != nil {
		return Album{}, err
	}
	a.ArtistID = db.NullInt64ToPtr(artistID)
	a.ReleaseDate = db.NullStringValue(release)
	a.Label = db.NullStringValue(label)
	a.CatalogNumber = db.NullStringValue(catalog)
	a.ISRC = db.NullStringValue(isrc)
	a.ImageMIME = db.NullStringValue(mime)
	a.Tags = db.NullStringValue(tags)
	return a, nil
}

// Album loads one album with either its full image or its thumbnail.
func (ix *Index) Album(ctx context.Context, id int64, art AlbumArt) (Album, error) {
	blob := "image"
	if art == Thumbnail {
		blob = "thumb"
	}
	var data []byte
	a, err := db.QueryOne(ctx, ix.g, func(r db.RowScanner) (Album, error) {
		data = nil
		return scanAlbum(r, &data)
	}, `SELECT `+albumColumns+`, `+blob+` FROM album WHERE id = ?`, id)
	if err != nil {
		return Album{}, notFound("album", id, err)
	}
	if art == Thumbnail {
		a.Thumb = data
	} else {
		a.Image = data
	}
	return a, nil
}

// Artist loads one artist.
func (ix *Index) Artist(ctx context.Context, id int64) (Artist, error) {
	a, err := db.QueryOne(ctx, ix.g, func(r db.RowScanner) (Artist, error) {
		var (
			a               Artist
			bio, mime, tags sql.NullString
		)
		err := r.Scan(&a.ID, &a.Name, &a.NameSortable, &bio, &a.Image, &mime, &tags, &a.CreatedAt)
		a.Bio = db.NullStringValue(bio)
		a.ImageMIME = db.NullStringValue(mime)
		a.Tags = db.NullStringValue(tags)
		return a, err
	}, `SELECT id, name, name_sortable, bio, image, image_mime, tags, created_at
		FROM artist WHERE id = ?`, id)
	if err != nil {
		return Artist{}, notFound("artist", id, err)
	}
	return a, nil
}

// ArtistName returns only the artist's display name.
func (ix *Index) ArtistName(ctx context.Context, id int64) (string, error) {
	name, err := db.QueryScalar[string](ctx, ix.g, `SELECT name FROM artist WHERE id = ?`, id)
	if err != nil {
		return "", notFound("artist", id, err)
	}
	return name, nil
}

const trackColumns = `id, title, title_sortable, album_id, track_number, disc_number,
	duration, genres, artist_names, tags, location, folder, created_at`

func scanTrack(r db.RowScanner) (Track, error) {
	var t Track
	var albumID, number, disc sql.NullInt64
	var genres, artists, tags, dir sql.NullString
	err := r.Scan(&t.ID, &t.Title, &t.TitleSortable, &albumID, &number, &disc,
		&t.Duration, &genres, &artists, &tags, &t.Location, &dir, &t.CreatedAt)
	if err != nil {
		return Track{}, err
	}
	t.AlbumID = db.NullInt64ToPtr(albumID)
	t.TrackNumber = db.NullInt64ToPtr(number)
	t.DiscNumber = db.NullInt64ToPtr(disc)
	t.Genres = db.NullStringValue(genres)
	t.ArtistNames = db.NullStringValue(artists)
	t.Tags = db.NullStringValue(tags)
	t.Folder = db.NullStringValue(dir)
	return t, nil
}

// Track loads one track by id.
func (ix *Index) Track(ctx context.Context, id int64) (Track, error) {
	t, err := db.QueryOne(ctx, ix.g, scanTrack, `SELECT `+trackColumns+` FROM track WHERE id = ?`, id)
	if err != nil {
		return Track{}, notFound("track", id, err)
	}
	return t, nil
}

// TrackByLocation loads one track by file path.
func (ix *Index) TrackByLocation(ctx context.Context, location string) (Track, error) {
	t, err := db.QueryOne(ctx, ix.g, scanTrack, `SELECT `+trackColumns+` FROM track WHERE location = ?`, location)
	if err != nil {
		return Track{}, notFound("track", location, err)
	}
	return t, nil
}

// TracksInAlbum lists an album's tracks by disc, track number, then title.
// Untagged discs and numbers come last.
func (ix *Index) TracksInAlbum(ctx context.Context, albumID int64) ([]Track, error) {
	tracks, err := db.QueryRows(ctx, ix.g, scanTrack, `SELECT `+trackColumns+`
		FROM track
		WHERE album_id = ?
		ORDER BY disc_number ASC NULLS LAST, track_number ASC NULLS LAST, title_sortable COLLATE NOCASE, id`, albumID)
	if err != nil {
		return nil, fmt.Errorf("tracks of album %d: %w", albumID, err)
	}
	return tracks, nil
}

// AlbumsForSearch lists every album with its artist name, "" for albums
// without an artist.
func (ix *Index) AlbumsForSearch(ctx context.Context) ([]SearchAlbum, error) {
	albums, err := db.QueryRows(ctx, ix.g, func(r db.RowScanner) (SearchAlbum, error) {
		var (
			a      SearchAlbum
			artist sql.NullString
		)
		err := r.Scan(&a.ID, &a.Title, &artist)
		a.Artist = db.NullStringValue(artist)
		return a, err
	}, `SELECT a.id, a.title, ar.name
		FROM album a
		LEFT JOIN artist ar ON ar.id = a.artist_id
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("list albums for search: %w", err)
	}
	return albums, nil
}

// Stats counts tracks and sums their durations.
func (ix *Index) Stats(ctx context.Context) (TrackStats, error) {
	s, err := db.QueryOne(ctx, ix.g, func(r db.RowScanner) (TrackStats, error) {
		var s TrackStats
		err := r.Scan(&s.TrackCount, &s.TotalDuration)
		return s, err
	}, `SELECT COUNT(*), IFNULL(SUM(duration), 0) FROM track`)
	if err != nil {
		return TrackStats{}, fmt.Errorf("track stats: %w", err)
	}
	return s, nil
}
