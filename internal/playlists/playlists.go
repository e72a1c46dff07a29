package playlists

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/logger"
)

var log = logger.WithName("playlists")

// ErrNotFound is returned when a playlist or item does not exist.
var ErrNotFound = errors.New("not found")

// Playlist represents a playlist's metadata (without tracks).
type Playlist struct {
	ID        int64
	Name      string
	Type      int64
	CreatedAt string
}

// WithCount is a Playlist with the number of items it holds.
type WithCount struct {
	Playlist
	TrackCount int64
}

// Item is one entry of a playlist. AlbumID is nil when the track has no
// album or no longer exists.
type Item struct {
	ID         int64
	PlaylistID int64
	TrackID    int64
	AlbumID    *int64
	Position   int64
}

// Playlists provides database operations for playlists. Positions are
// 1-based and contiguous.
type Playlists struct {
	g *db.Guard
}

// New creates a new Playlists instance.
func New(g *db.Guard) *Playlists {
	return &Playlists{g: g}
}

func wrap(op string, key int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w: %w", op, key, ErrNotFound, err)
	}
	return fmt.Errorf("%s %d: %w", op, key, err)
}

// Create creates a new playlist and returns its id.
func (p *Playlists) Create(ctx context.Context, name string) (int64, error) {
	id, err := p.g.ExecReturningID(ctx, `INSERT INTO playlist (name) VALUES (?) RETURNING id`, name)
	if err != nil {
		return 0, fmt.Errorf("create playlist %q: %w", name, err)
	}
	log.WithField("id", id).Debug("playlist created")
	return id, nil
}

// Rename renames a playlist.
func (p *Playlists) Rename(ctx context.Context, id int64, name string) error {
	n, err := p.g.Execute(ctx, `UPDATE playlist SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return wrap("rename playlist", id, err)
	}
	if n == 0 {
		return wrap("rename playlist", id, sql.ErrNoRows)
	}
	return nil
}

// Delete removes a playlist's items and then the playlist.
func (p *Playlists) Delete(ctx context.Context, id int64) error {
	if _, err := p.g.Execute(ctx, `DELETE FROM playlist_item WHERE playlist_id = ?`, id); err != nil {
		return wrap("delete playlist items", id, err)
	}
	n, err := p.g.Execute(ctx, `DELETE FROM playlist WHERE id = ?`, id)
	if err != nil {
		return wrap("delete playlist", id, err)
	}
	if n == 0 {
		return wrap("delete playlist", id, sql.ErrNoRows)
	}
	return nil
}

func scanPlaylist(r db.RowScanner, extra ...any) (Playlist, error) {
	var pl Playlist
	err := r.Scan(append([]any{&pl.ID, &pl.Name, &pl.Type, &pl.CreatedAt}, extra...)...)
	return pl, err
}

// All returns every playlist with its item count, ordered by name.
func (p *Playlists) All(ctx context.Context) ([]WithCount, error) {
	out, err := db.QueryRows(ctx, p.g, func(r db.RowScanner) (WithCount, error) {
		var wc WithCount
		pl, err := scanPlaylist(r, &wc.TrackCount)
		wc.Playlist = pl
		return wc, err
	}, `SELECT p.id, p.name, p.type, p.created_at, COUNT(pi.id)
		FROM playlist p
		LEFT JOIN playlist_item pi ON pi.playlist_id = p.id
		GROUP BY p.id
		ORDER BY p.name COLLATE NOCASE, p.id`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return out, nil
}

// Get returns a playlist by its ID.
func (p *Playlists) Get(ctx context.Context, id int64) (Playlist, error) {
	pl, err := db.QueryOne(ctx, p.g, func(r db.RowScanner) (Playlist, error) {
		return scanPlaylist(r)
	}, `SELECT id, name, type, created_at FROM playlist WHERE id = ?`, id)
	if err != nil {
		return Playlist{}, wrap("get playlist", id, err)
	}
	return pl, nil
}
