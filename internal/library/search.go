package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/search"
)

// ResultKind tells which table a SearchResult came from.
type ResultKind string

const (
	KindArtist ResultKind = "artist"
	KindAlbum  ResultKind = "album"
	KindTrack  ResultKind = "track"
)

// SearchResult is one hit of Index.Search.
type SearchResult struct {
	Kind   ResultKind
	ID     int64
	Title  string
	Detail string // artist for albums, "artist - album" for tracks
	Score  float64
}

// tier orders equal-scored hits: artists, then albums, then tracks.
func (k ResultKind) tier() int {
	switch k {
	case KindArtist:
		return 0
	case KindAlbum:
		return 1
	default:
		return 2
	}
}

// Search matches query against artist names, album titles and track titles.
// An album also matches on its artist and a track on its artists and album,
// at a lower score. Candidates are read fresh on every call.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var (
		candidates []SearchResult
		docs       []search.Doc
	)
	add := func(res SearchResult, related ...string) {
		candidates = append(candidates, res)
		docs = append(docs, search.Doc{Name: res.Title, Context: related, Tier: res.Kind.tier()})
	}

	artists, err := db.QueryRows(ctx, ix.g, func(r db.RowScanner) (SearchResult, error) {
		res := SearchResult{Kind: KindArtist}
		err := r.Scan(&res.ID, &res.Title)
		return res, err
	}, `SELECT id, name FROM artist ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("search artists: %w", err)
	}
	for _, a := range artists {
		add(a)
	}

	albums, err := ix.AlbumsForSearch(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range albums {
		add(SearchResult{Kind: KindAlbum, ID: a.ID, Title: a.Title, Detail: a.Artist}, a.Artist)
	}

	type trackRow struct {
		res   SearchResult
		parts []string
	}
	tracks, err := db.QueryRows(ctx, ix.g, func(r db.RowScanner) (trackRow, error) {
		var (
			row           = trackRow{res: SearchResult{Kind: KindTrack}}
			artist, album sql.NullString
		)
		if err := r.Scan(&row.res.ID, &row.res.Title, &artist, &album); err != nil {
			return row, err
		}
		for _, p := range []sql.NullString{artist, album} {
			if p.Valid && p.String != "" {
				row.parts = append(row.parts, p.String)
			}
		}
		row.res.Detail = strings.Join(row.parts, " - ")
		return row, nil
	}, `SELECT t.id, t.title, t.artist_names, a.title
		FROM track t
		LEFT JOIN album a ON a.id = t.album_id
		ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("search tracks: %w", err)
	}
	for _, t := range tracks {
		add(t.res, t.parts...)
	}

	matches := search.Find(query, docs, limit)
	out := make([]SearchResult, len(matches))
	for i, m := range matches {
		out[i] = candidates[m.Index]
		out[i].Score = m.Score
	}
	return out, nil
}
