package playlists

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llehouerou/shelf/internal/db"
)

// AddTrack appends a track to a playlist and returns the item id. A track
// already in the playlist is not added twice; its existing item id is
// returned instead.
func (p *Playlists) AddTrack(ctx context.Context, playlistID, trackID int64) (int64, error) {
	id, inserted, err := db.QueryScalarOptional[int64](ctx, p.g, `
		INSERT INTO playlist_item (playlist_id, track_id, position)
		SELECT ?, ?, IFNULL(MAX(position), 0) + 1
		FROM playlist_item
		WHERE playlist_id = ?
		ON CONFLICT (playlist_id, track_id) DO NOTHING
		RETURNING id
	`, playlistID, trackID, playlistID)
	if err != nil {
		return 0, wrap("add track to playlist", playlistID, err)
	}
	if inserted {
		return id, nil
	}
	existing, ok, err := p.HasTrack(ctx, playlistID, trackID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, wrap("add track to playlist", playlistID, sql.ErrNoRows)
	}
	return existing, nil
}

// HasTrack returns the item id holding trackID in the playlist, if any.
func (p *Playlists) HasTrack(ctx context.Context, playlistID, trackID int64) (int64, bool, error) {
	id, ok, err := db.QueryScalarOptional[int64](ctx, p.g,
		`SELECT id FROM playlist_item WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return 0, false, wrap("look up track in playlist", playlistID, err)
	}
	return id, ok, nil
}

func scanItem(r db.RowScanner) (Item, error) {
	var (
		it      Item
		albumID sql.NullInt64
	)
	err := r.Scan(&it.ID, &it.PlaylistID, &it.TrackID, &albumID, &it.Position)
	it.AlbumID = db.NullInt64ToPtr(albumID)
	return it, err
}

const itemQuery = `SELECT pi.id, pi.playlist_id, pi.track_id, t.album_id, pi.position
	FROM playlist_item pi
	LEFT JOIN track t ON t.id = pi.track_id`

// Item returns a single playlist item.
func (p *Playlists) Item(ctx context.Context, itemID int64) (Item, error) {
	it, err := db.QueryOne(ctx, p.g, scanItem, itemQuery+` WHERE pi.id = ?`, itemID)
	if err != nil {
		return Item{}, wrap("get playlist item", itemID, err)
	}
	return it, nil
}

// Items returns a playlist's items in order.
func (p *Playlists) Items(ctx context.Context, playlistID int64) ([]Item, error) {
	items, err := db.QueryRows(ctx, p.g, scanItem, itemQuery+`
		WHERE pi.playlist_id = ?
		ORDER BY pi.position`, playlistID)
	if err != nil {
		return nil, wrap("list playlist items", playlistID, err)
	}
	return items, nil
}

// TrackFiles returns the file locations of a playlist's tracks in order.
// Items whose track has been removed from the library are skipped.
func (p *Playlists) TrackFiles(ctx context.Context, playlistID int64) ([]string, error) {
	files, err := db.QueryRows(ctx, p.g, db.Scalar[string], `
		SELECT t.location
		FROM playlist_item pi
		JOIN track t ON t.id = pi.track_id
		WHERE pi.playlist_id = ?
		ORDER BY pi.position`, playlistID)
	if err != nil {
		return nil, wrap("list playlist files", playlistID, err)
	}
	return files, nil
}

// Move puts an item at newPosition, shifting the items in between by one.
// Positions past either end are clamped.
func (p *Playlists) Move(ctx context.Context, itemID, newPosition int64) error {
	it, err := p.Item(ctx, itemID)
	if err != nil {
		return err
	}
	count, err := db.QueryScalar[int64](ctx, p.g,
		`SELECT COUNT(*) FROM playlist_item WHERE playlist_id = ?`, it.PlaylistID)
	if err != nil {
		return wrap("move playlist item", itemID, err)
	}
	newPosition = max(1, min(newPosition, count))
	if newPosition == it.Position {
		return nil
	}

	// One statement, so a failure never leaves two items on one position.
	var q string
	if newPosition < it.Position {
		q = `UPDATE playlist_item SET position = CASE
				WHEN id = ? THEN ?
				WHEN position >= ? AND position < ? THEN position + 1
				ELSE position END
			WHERE playlist_id = ?`
	} else {
		q = `UPDATE playlist_item SET position = CASE
				WHEN id = ? THEN ?
				WHEN position > ? AND position <= ? THEN position - 1
				ELSE position END
			WHERE playlist_id = ?`
	}
	lo, hi := newPosition, it.Position
	if newPosition > it.Position {
		lo, hi = it.Position, newPosition
	}
	if _, err := p.g.Execute(ctx, q, itemID, newPosition, lo, hi, it.PlaylistID); err != nil {
		return wrap("move playlist item", itemID, err)
	}
	return nil
}

// Remove deletes an item and closes the gap it leaves.
func (p *Playlists) Remove(ctx context.Context, itemID int64) error {
	it, err := p.Item(ctx, itemID)
	if err != nil {
		return err
	}
	if _, err := p.g.Execute(ctx, `DELETE FROM playlist_item WHERE id = ?`, itemID); err != nil {
		return wrap("remove playlist item", itemID, err)
	}
	if _, err := p.g.Execute(ctx, `UPDATE playlist_item SET position = position - 1
		WHERE playlist_id = ? AND position > ?`, it.PlaylistID, it.Position); err != nil {
		return wrap("close playlist gap", it.PlaylistID, err)
	}
	return nil
}

// RemoveTrack removes every item pointing at trackID, in all playlists,
// closing the gaps. The scanner calls this before deleting a track.
func (p *Playlists) RemoveTrack(ctx context.Context, trackID int64) error {
	ids, err := db.QueryRows(ctx, p.g, db.Scalar[int64],
		`SELECT id FROM playlist_item WHERE track_id = ?`, trackID)
	if err != nil {
		return fmt.Errorf("find playlist items of track %d: %w", trackID, err)
	}
	for _, id := range ids {
		if err := p.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
