package library

import (
	"fmt"
	"strings"
)

// AlbumSort selects the order of an album listing.
type AlbumSort int

const (
	TitleAsc AlbumSort = iota
	TitleDesc
	ArtistAsc
	ArtistDesc
	ReleaseAsc
	ReleaseDesc
	LabelAsc
	LabelDesc
	CatalogAsc
	CatalogDesc
)

var sortFields = []string{"title", "artist", "release", "label", "catalog"}

// ParseAlbumSort accepts "title", "title-asc", "artist-desc" and so on.
// A bare field sorts ascending.
func ParseAlbumSort(s string) (AlbumSort, error) {
	field, dir, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "-")
	var desc bool
	switch dir {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return 0, fmt.Errorf("invalid sort direction %q in %q", dir, s)
	}
	for i, f := range sortFields {
		if f == field {
			as := AlbumSort(i * 2)
			if desc {
				as++
			}
			return as, nil
		}
	}
	return 0, fmt.Errorf("invalid sort field %q (want one of %s)", field, strings.Join(sortFields, ", "))
}

func (s AlbumSort) field() string {
	if s < TitleAsc || s > CatalogDesc {
		return ""
	}
	return sortFields[s/2]
}

// Descending reports whether the primary key sorts in descending order.
func (s AlbumSort) Descending() bool { return s%2 == 1 }

func (s AlbumSort) String() string {
	f := s.field()
	if f == "" {
		return fmt.Sprintf("AlbumSort(%d)", int(s))
	}
	if s.Descending() {
		return f + "-desc"
	}
	return f + "-asc"
}

// orderBy builds the ORDER BY clause for s over "album a" joined with
// "artist ar". Only the primary key follows the direction; tie-breaks stay
// ascending. NULLs sort last either way, and a.id closes every clause so
// the order is total.
func (s AlbumSort) orderBy() (string, error) {
	dir := "ASC"
	if s.Descending() {
		dir = "DESC"
	}
	var keys []string
	switch s.field() {
	case "title":
		keys = []string{
			"a.title_sortable COLLATE NOCASE " + dir,
			"a.release_date ASC NULLS LAST",
		}
	case "artist":
		keys = []string{
			"ar.name_sortable COLLATE NOCASE " + dir + " NULLS LAST",
			"a.release_date ASC NULLS LAST",
			"a.title_sortable COLLATE NOCASE ASC",
		}
	case "release":
		keys = []string{
			"a.release_date " + dir + " NULLS LAST",
			"a.title_sortable COLLATE NOCASE ASC",
		}
	case "label":
		keys = []string{
			"a.label COLLATE NOCASE " + dir + " NULLS LAST",
			"a.catalog_number COLLATE NOCASE ASC NULLS LAST",
			"a.release_date ASC NULLS LAST",
			"a.title_sortable COLLATE NOCASE ASC",
		}
	case "catalog":
		keys = []string{
			"a.catalog_number COLLATE NOCASE " + dir + " NULLS LAST",
			"a.title_sortable COLLATE NOCASE ASC",
		}
	default:
		return "", fmt.Errorf("unknown album sort %d", int(s))
	}
	return "ORDER BY " + strings.Join(append(keys, "a.id ASC"), ", "), nil
}
