package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/library"
)

// noMBID is stored for albums without a MusicBrainz release id.
const noMBID = "none"

type outcome int

const (
	outcomeWritten outcome = iota
	outcomeDuplicate
)

// writer applies extracted files one at a time. It lives for one pass.
type writer struct {
	s *Scanner
	// albums whose artwork was already written during this pass
	artDone map[int64]struct{}
}

func newWriter(s *Scanner) *writer {
	return &writer{s: s, artDone: make(map[int64]struct{})}
}

// previous is what a track row held before it was rewritten.
type previous struct {
	id      int64
	context trackContext
}

func (w *writer) write(ctx context.Context, res extracted) (outcome, error) {
	t := res.info.Tag
	path := res.file.path
	folder := filepath.Dir(path)

	var albumID *int64
	if t.Album != "" {
		artistID, err := w.upsertArtist(ctx, t.AlbumArtist, library.SortKey(t.AlbumArtist, t.AlbumArtistSortName))
		if err != nil {
			return 0, err
		}
		id, err := w.upsertAlbum(ctx, albumRow{
			title:    t.Album,
			sortable: library.SortKey(t.Album, t.AlbumSortName),
			artistID: artistID,
			release:  releaseDate(t.Date, t.OriginalDate),
			label:    t.Label,
			catalog:  t.CatalogNumber,
			isrc:     t.ISRC,
			mbid:     t.MBReleaseID,
		}, res)
		if err != nil {
			return 0, err
		}
		albumID = &id

		dup, err := w.claimAlbumPath(ctx, id, discKey(t.DiscNumber), folder, path)
		if err != nil {
			return 0, err
		}
		if dup {
			// A file retagged into an album another folder holds drops its
			// old row instead of keeping stale tags.
			if _, err := w.s.DeleteTrack(ctx, path); err != nil {
				return 0, fmt.Errorf("drop retagged duplicate: %w", err)
			}
			return outcomeDuplicate, nil
		}
	}

	prev, found, err := w.previous(ctx, path)
	if err != nil {
		return 0, err
	}

	_, err = w.s.g.ExecReturningID(ctx, `
		INSERT INTO track (title, title_sortable, album_id, track_number, disc_number,
			duration, genres, artist_names, location, folder)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location) DO UPDATE SET
			title = excluded.title,
			title_sortable = excluded.title_sortable,
			album_id = excluded.album_id,
			track_number = excluded.track_number,
			disc_number = excluded.disc_number,
			duration = excluded.duration,
			genres = excluded.genres,
			artist_names = excluded.artist_names,
			folder = excluded.folder
		RETURNING id`,
		t.Title,
		library.SortKey(t.Title, t.TitleSortName),
		db.PtrOrNull(albumID),
		db.IntOrNull(t.TrackNumber),
		db.IntOrNull(t.DiscNumber),
		int64(res.info.Duration.Round(time.Second)/time.Second),
		db.StringOrNull(t.Genre),
		db.StringOrNull(strings.Join(t.Artists(), "; ")),
		path,
		folder,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert track: %w", err)
	}

	if found {
		now := trackContext{albumID: albumID, disc: discKey(t.DiscNumber), folder: folder}
		if !prev.context.equal(now) {
			if err := w.s.cleanup(ctx, prev.context); err != nil {
				return 0, fmt.Errorf("clean up previous album of track %d: %w", prev.id, err)
			}
		}
	}
	return outcomeWritten, nil
}

// upsertArtist returns nil for an empty name. Both arguments are text, so
// this statement binds natively.
func (w *writer) upsertArtist(ctx context.Context, name, sortable string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := w.s.g.ExecReturningID(ctx, `
		INSERT INTO artist (name, name_sortable) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET name_sortable = excluded.name_sortable
		RETURNING id`, name, sortable)
	if err != nil {
		return nil, fmt.Errorf("upsert artist %q: %w", name, err)
	}
	return &id, nil
}

type albumRow struct {
	title, sortable string
	artistID        *int64
	release         string
	label, catalog  string
	isrc, mbid      string
}

// upsertAlbum writes the non-blob columns first and the artwork in a second,
// blob-only statement keyed by the album id.
func (w *writer) upsertAlbum(ctx context.Context, a albumRow, res extracted) (int64, error) {
	if a.mbid == "" {
		a.mbid = noMBID
	}
	var mime any
	if res.art != nil {
		mime = res.art.MIME
	}

	// NULL artist ids are distinct in the unique index, so look up first
	// with IS instead of relying on the conflict clause.
	id, found, err := db.QueryScalarOptional[int64](ctx, w.s.g,
		`SELECT id FROM album WHERE title = ? AND artist_id IS ? AND mbid = ?`,
		a.title, db.PtrOrNull(a.artistID), a.mbid)
	if err != nil {
		return 0, fmt.Errorf("look up album %q: %w", a.title, err)
	}

	// A track missing a field never erases what another track of the album set.
	if found {
		_, err = w.s.g.Execute(ctx, `
			UPDATE album SET
				title_sortable = ?,
				release_date = COALESCE(?, release_date),
				label = COALESCE(?, label),
				catalog_number = COALESCE(?, catalog_number),
				isrc = COALESCE(?, isrc),
				image_mime = COALESCE(?, image_mime)
			WHERE id = ?`,
			a.sortable,
			db.StringOrNull(a.release),
			db.StringOrNull(a.label),
			db.StringOrNull(a.catalog),
			db.StringOrNull(a.isrc),
			mime,
			id)
	} else {
		id, err = w.s.g.ExecReturningID(ctx, `
			INSERT INTO album (title, title_sortable, artist_id, release_date, label,
				catalog_number, isrc, mbid, image_mime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (title, artist_id, mbid) DO UPDATE SET
				title_sortable = excluded.title_sortable,
				release_date = COALESCE(excluded.release_date, release_date),
				label = COALESCE(excluded.label, label),
				catalog_number = COALESCE(excluded.catalog_number, catalog_number),
				isrc = COALESCE(excluded.isrc, isrc),
				image_mime = COALESCE(excluded.image_mime, image_mime)
			RETURNING id`,
			a.title,
			a.sortable,
			db.PtrOrNull(a.artistID),
			db.StringOrNull(a.release),
			db.StringOrNull(a.label),
			db.StringOrNull(a.catalog),
			db.StringOrNull(a.isrc),
			a.mbid,
			mime)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert album %q: %w", a.title, err)
	}

	if res.art != nil {
		if _, ok := w.artDone[id]; !ok {
			if err := w.s.g.WriteBlobs(ctx, "album", "id", id,
				db.Blob{Column: "image", Data: res.art.Image},
				db.Blob{Column: "thumb", Data: res.art.Thumb},
			); err != nil {
				return 0, err
			}
			w.artDone[id] = struct{}{}
		}
	}
	return id, nil
}

// claimAlbumPath records folder as the home of (album, disc). It reports a
// duplicate when another folder already holds live tracks for that disc.
func (w *writer) claimAlbumPath(ctx context.Context, albumID, disc int64, folder, location string) (bool, error) {
	current, found, err := db.QueryScalarOptional[string](ctx, w.s.g,
		`SELECT path FROM album_path WHERE album_id = ? AND disc_num = ?`, albumID, disc)
	if err != nil {
		return false, fmt.Errorf("look up album path: %w", err)
	}
	if !found {
		if _, err := w.s.g.Execute(ctx,
			`INSERT INTO album_path (album_id, disc_num, path) VALUES (?, ?, ?)`,
			albumID, disc, folder); err != nil {
			return false, fmt.Errorf("insert album path: %w", err)
		}
		return false, nil
	}
	if current == folder {
		return false, nil
	}

	live, err := db.QueryScalar[int64](ctx, w.s.g, `
		SELECT COUNT(*) FROM track
		WHERE album_id = ? AND IFNULL(disc_number, -1) = ? AND folder = ? AND location != ?`,
		albumID, disc, current, location)
	if err != nil {
		return false, fmt.Errorf("count tracks in %s: %w", current, err)
	}
	if live > 0 {
		log.WithField("path", location).WithField("indexed_copy", current).
			Info("skipping duplicate copy of an indexed album disc")
		return true, nil
	}

	if _, err := w.s.g.Execute(ctx,
		`UPDATE album_path SET path = ? WHERE album_id = ? AND disc_num = ?`,
		folder, albumID, disc); err != nil {
		return false, fmt.Errorf("move album path: %w", err)
	}
	return false, nil
}

func (w *writer) previous(ctx context.Context, location string) (previous, bool, error) {
	p, found, err := db.QueryOptional(ctx, w.s.g, func(r db.RowScanner) (previous, error) {
		var (
			p       previous
			albumID sql.NullInt64
		)
		err := r.Scan(&p.id, &albumID, &p.context.disc, &p.context.folder)
		p.context.albumID = db.NullInt64ToPtr(albumID)
		return p, err
	}, `SELECT id, album_id, IFNULL(disc_number, -1), IFNULL(folder, '') FROM track WHERE location = ?`, location)
	if err != nil {
		return previous{}, false, fmt.Errorf("look up track: %w", err)
	}
	return p, found, nil
}

func discKey(disc int) int64 {
	if disc == 0 {
		return -1
	}
	return int64(disc)
}

func releaseDate(date, original string) string {
	if d := library.NormalizeDate(date); d != "" {
		return d
	}
	return library.NormalizeDate(original)
}
