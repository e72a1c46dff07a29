// Package tags reads the metadata the library indexes from music files:
// text tags, sort names, release identifiers, duration and cover art.
package tags

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// File extensions recognized as music.
const (
	ExtMP3  = ".mp3"
	ExtFLAC = ".flac"
	ExtOPUS = ".opus"
	ExtOGG  = ".ogg"
	ExtOGA  = ".oga"
	ExtM4A  = ".m4a"
	ExtMP4  = ".mp4"
)

const id3Magic = "ID3"

// Tag is the indexed subset of a file's metadata.
type Tag struct {
	Path        string
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Genre       string

	TrackNumber int
	TotalTracks int
	DiscNumber  int
	TotalDiscs  int

	Date         string // YYYY, YYYY-MM or YYYY-MM-DD
	OriginalDate string

	// Explicit sort tags, empty when the file has none.
	TitleSortName       string
	ArtistSortName      string
	AlbumArtistSortName string
	AlbumSortName       string

	Label         string
	CatalogNumber string
	ISRC          string

	// MusicBrainz release id.
	MBReleaseID string
}

// Year derives the year from Date, or 0.
func (t *Tag) Year() int {
	if len(t.Date) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(t.Date[:4])
	return y
}

// Artists splits the track artist on the separators taggers commonly use.
func (t *Tag) Artists() []string {
	if t.Artist == "" {
		return nil
	}
	parts := strings.FieldsFunc(t.Artist, func(r rune) bool { return r == ';' || r == '/' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Sanitize trims whitespace and fills the fallbacks every reader applies.
func (t *Tag) Sanitize() {
	for _, s := range []*string{
		&t.Title, &t.Artist, &t.AlbumArtist, &t.Album, &t.Genre,
		&t.Date, &t.OriginalDate, &t.Label, &t.CatalogNumber, &t.ISRC, &t.MBReleaseID,
		&t.TitleSortName, &t.ArtistSortName, &t.AlbumArtistSortName, &t.AlbumSortName,
	} {
		*s = strings.TrimSpace(strings.ReplaceAll(*s, "\x00", ""))
	}
	if t.Title == "" {
		t.Title = filepath.Base(t.Path)
	}
	if t.AlbumArtist == "" {
		t.AlbumArtist = t.Artist
	}
	if t.AlbumArtistSortName == "" && t.AlbumArtist == t.Artist {
		t.AlbumArtistSortName = t.ArtistSortName
	}
}

// AudioInfo holds stream properties.
type AudioInfo struct {
	Duration   time.Duration
	Format     string
	SampleRate int
	BitDepth   int
}

// FileInfo is everything the scanner stores for one file.
type FileInfo struct {
	Tag
	AudioInfo
	Cover     []byte
	CoverMIME string
}

// IsMusicFile reports whether path has a supported extension.
func IsMusicFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtMP3, ExtFLAC, ExtOPUS, ExtOGG, ExtOGA, ExtM4A, ExtMP4:
		return true
	}
	return false
}

// taglibTags wraps a taglib property map.
type taglibTags map[string][]string

// get returns the first value for the first key present.
func (t taglibTags) get(keys ...string) string {
	for _, key := range keys {
		if values, ok := t[key]; ok && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// numberPair parses "N" or "N/M" from the first key present.
func (t taglibTags) numberPair(keys ...string) (num, total int) {
	return parseNumberPair(t.get(keys...))
}

func (t taglibTags) getInt(key string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(t.get(key)))
	return n
}

// parseNumberPair parses a track or disc number written as "N" or "N/M".
func parseNumberPair(s string) (num, total int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0
	}
	n, m, found := strings.Cut(s, "/")
	num, _ = strconv.Atoi(strings.TrimSpace(n))
	if found {
		total, _ = strconv.Atoi(strings.TrimSpace(m))
	}
	return num, total
}

func yearToDate(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}
