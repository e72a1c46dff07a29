package tags

import (
	"strings"

	"github.com/go-flac/flacvorbis"
	goflac "github.com/go-flac/go-flac"
)

// readFLACExtended fills sort names and release fields from the Vorbis
// comment block.
func readFLACExtended(path string, t *Tag) {
	comments := flacComments(path)
	if comments == nil {
		return
	}
	applyVorbisComments(comments, t)
}

// flacComments returns the Vorbis comments of a FLAC file keyed by
// upper-cased field name, or nil.
func flacComments(path string) taglibTags {
	f, err := goflac.ParseFile(path)
	if err != nil {
		return nil
	}
	for _, meta := range f.Meta {
		if meta.Type != goflac.VorbisComment {
			continue
		}
		block, err := flacvorbis.ParseFromMetaDataBlock(*meta)
		if err != nil {
			return nil
		}
		out := make(taglibTags, len(block.Comments))
		for _, c := range block.Comments {
			key, value, ok := strings.Cut(c, "=")
			if !ok || key == "" {
				continue
			}
			key = strings.ToUpper(key)
			out[key] = append(out[key], value)
		}
		return out
	}
	return nil
}

// applyVorbisComments maps Vorbis comment fields onto t. Both FLAC and
// TagLib property maps use these names.
func applyVorbisComments(c taglibTags, t *Tag) {
	if date := c.get("DATE", "YEAR"); date != "" {
		t.Date = date
	}
	t.OriginalDate = c.get("ORIGINALDATE", "ORIGINALYEAR")
	t.TitleSortName = c.get("TITLESORT")
	t.ArtistSortName = c.get("ARTISTSORT")
	t.AlbumArtistSortName = c.get("ALBUMARTISTSORT")
	t.AlbumSortName = c.get("ALBUMSORT")
	t.Label = c.get("LABEL", "ORGANIZATION", "PUBLISHER")
	t.CatalogNumber = c.get("CATALOGNUMBER")
	t.ISRC = c.get("ISRC")
	t.MBReleaseID = c.get("MUSICBRAINZ_ALBUMID", "MUSICBRAINZ ALBUM ID", "MusicBrainz Album Id")

	if t.TotalTracks == 0 {
		t.TotalTracks = c.getInt("TRACKTOTAL")
		if t.TotalTracks == 0 {
			t.TotalTracks = c.getInt("TOTALTRACKS")
		}
	}
	if t.TotalDiscs == 0 {
		t.TotalDiscs = c.getInt("DISCTOTAL")
		if t.TotalDiscs == 0 {
			t.TotalDiscs = c.getInt("TOTALDISCS")
		}
	}
}
