package scanner

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llehouerou/shelf/internal/db"
)

// trackContext is what ties a track to album_path bookkeeping. disc is the
// disc key, -1 for untagged discs.
type trackContext struct {
	albumID *int64
	disc    int64
	folder  string
}

func (c trackContext) equal(o trackContext) bool {
	if (c.albumID == nil) != (o.albumID == nil) {
		return false
	}
	if c.albumID != nil && *c.albumID != *o.albumID {
		return false
	}
	return c.disc == o.disc && c.folder == o.folder
}

// DeleteTrack removes the track at location and whatever it leaves orphaned:
// its playlist items, its album_path row, its album and the album's artist.
// Each level is checked against the rows that remain after the previous
// delete. It reports false when no track lives at location.
func (s *Scanner) DeleteTrack(ctx context.Context, location string) (bool, error) {
	type row struct {
		id int64
		trackContext
	}
	r, found, err := db.QueryOptional(ctx, s.g, func(rs db.RowScanner) (row, error) {
		var (
			r       row
			albumID sql.NullInt64
		)
		err := rs.Scan(&r.id, &albumID, &r.disc, &r.folder)
		r.albumID = db.NullInt64ToPtr(albumID)
		return r, err
	}, `SELECT id, album_id, IFNULL(disc_number, -1), IFNULL(folder, '') FROM track WHERE location = ?`, location)
	if err != nil {
		return false, fmt.Errorf("look up track %s: %w", location, err)
	}
	if !found {
		return false, nil
	}

	if err := s.lists.RemoveTrack(ctx, r.id); err != nil {
		return false, err
	}
	if _, err := s.g.Execute(ctx, `DELETE FROM track WHERE id = ?`, r.id); err != nil {
		return false, fmt.Errorf("delete track %d: %w", r.id, err)
	}
	if err := s.cleanup(ctx, r.trackContext); err != nil {
		return true, err
	}
	log.WithField("path", location).Debug("track removed")
	return true, nil
}

// cleanup drops the album_path row, album and artist that c referenced once
// nothing references them any more.
func (s *Scanner) cleanup(ctx context.Context, c trackContext) error {
	if c.albumID == nil {
		return nil
	}
	albumID := *c.albumID

	left, err := db.QueryScalar[int64](ctx, s.g, `
		SELECT COUNT(*) FROM track
		WHERE album_id = ? AND IFNULL(disc_number, -1) = ? AND folder = ?`,
		albumID, c.disc, c.folder)
	if err != nil {
		return fmt.Errorf("count tracks of album %d disc %d: %w", albumID, c.disc, err)
	}
	if left == 0 {
		if _, err := s.g.Execute(ctx,
			`DELETE FROM album_path WHERE album_id = ? AND disc_num = ? AND path = ?`,
			albumID, c.disc, c.folder); err != nil {
			return fmt.Errorf("delete album path: %w", err)
		}
	}

	left, err = db.QueryScalar[int64](ctx, s.g, `SELECT COUNT(*) FROM track WHERE album_id = ?`, albumID)
	if err != nil {
		return fmt.Errorf("count tracks of album %d: %w", albumID, err)
	}
	if left > 0 {
		return nil
	}

	artistID, _, err := db.QueryScalarOptional[sql.NullInt64](ctx, s.g, `SELECT artist_id FROM album WHERE id = ?`, albumID)
	if err != nil {
		return fmt.Errorf("look up artist of album %d: %w", albumID, err)
	}
	if _, err := s.g.Execute(ctx, `DELETE FROM album_path WHERE album_id = ?`, albumID); err != nil {
		return fmt.Errorf("delete album paths of album %d: %w", albumID, err)
	}
	if _, err := s.g.Execute(ctx, `DELETE FROM album WHERE id = ?`, albumID); err != nil {
		return fmt.Errorf("delete album %d: %w", albumID, err)
	}
	if !artistID.Valid {
		return nil
	}

	left, err = db.QueryScalar[int64](ctx, s.g, `SELECT COUNT(*) FROM album WHERE artist_id = ?`, artistID.Int64)
	if err != nil {
		return fmt.Errorf("count albums of artist %d: %w", artistID.Int64, err)
	}
	if left == 0 {
		if _, err := s.g.Execute(ctx, `DELETE FROM artist WHERE id = ?`, artistID.Int64); err != nil {
			return fmt.Errorf("delete artist %d: %w", artistID.Int64, err)
		}
	}
	return nil
}

// sweep removes every orphan at once. It repairs whatever a skipped or
// failed write left behind.
func (s *Scanner) sweep(ctx context.Context) error {
	steps := []struct{ what, query string }{
		{"album paths", `DELETE FROM album_path WHERE NOT EXISTS (
			SELECT 1 FROM track t
			WHERE t.album_id = album_path.album_id
				AND IFNULL(t.disc_number, -1) = album_path.disc_num
				AND t.folder = album_path.path)`},
		{"albums", `DELETE FROM album WHERE NOT EXISTS (
			SELECT 1 FROM track t WHERE t.album_id = album.id)`},
		{"artists", `DELETE FROM artist WHERE NOT EXISTS (
			SELECT 1 FROM album a WHERE a.artist_id = artist.id)`},
	}
	for _, st := range steps {
		n, err := s.g.Execute(ctx, st.query)
		if err != nil {
			return fmt.Errorf("%s: %w", st.what, err)
		}
		if n > 0 {
			log.WithField("rows", n).Infof("swept orphan %s", st.what)
		}
	}
	return nil
}
