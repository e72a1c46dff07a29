package library

import "time"

// Artist is a row of the artist table.
type Artist struct {
	ID           int64
	Name         string
	NameSortable string
	Bio          string
	Image        []byte
	ImageMIME    string
	Tags         string
	CreatedAt    string
}

// Album is a row of the album table. ArtistID is nil for albums without an
// artist tag.
type Album struct {
	ID            int64
	Title         string
	TitleSortable string
	ArtistID      *int64
	ReleaseDate   string // ISO 8601, possibly year or year-month only
	Label         string
	CatalogNumber string
	ISRC          string
	MBID          string
	Image         []byte
	Thumb         []byte
	ImageMIME     string
	Tags          string
	CreatedAt     string
}

// Year returns the release year, or 0 when the album has no usable date.
func (a *Album) Year() int {
	t, p := ParseDate(a.ReleaseDate)
	if p == PrecisionNone {
		return 0
	}
	return t.Year()
}

// Track is a row of the track table.
type Track struct {
	ID            int64
	Title         string
	TitleSortable string
	AlbumID       *int64
	TrackNumber   *int64
	DiscNumber    *int64
	Duration      int64 // seconds
	Genres        string
	ArtistNames   string
	Tags          string
	Location      string
	Folder        string
	CreatedAt     string
}

// Length returns the duration as a time.Duration.
func (t *Track) Length() time.Duration {
	return time.Duration(t.Duration) * time.Second
}

// DiscKey is the disc number used by album_path, with -1 for untagged discs.
func (t *Track) DiscKey() int64 {
	if t.DiscNumber == nil {
		return -1
	}
	return *t.DiscNumber
}

// AlbumEntry is one row of a sorted album listing.
type AlbumEntry struct {
	ID            int64
	TitleSortable string
}

// SearchAlbum is one row of the album search listing.
type SearchAlbum struct {
	ID     int64
	Title  string
	Artist string
}

// TrackStats aggregates the whole track table.
type TrackStats struct {
	TrackCount    int64
	TotalDuration int64 // seconds
}

// Total returns the summed duration as a time.Duration.
func (s TrackStats) Total() time.Duration {
	return time.Duration(s.TotalDuration) * time.Second
}
