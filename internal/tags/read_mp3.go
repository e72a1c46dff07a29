package tags

import (
	"github.com/bogem/id3v2/v2"
)

// readMP3Extended fills the frames dhowden/tag does not expose.
func readMP3Extended(path string, t *Tag) {
	id3tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return
	}
	defer id3tag.Close()
	applyID3Frames(id3tag, t)
}

func applyID3Frames(id3tag *id3v2.Tag, t *Tag) {
	// ID3v2.4 TDRC, else ID3v2.3 TYER plus TDAT (DDMM).
	if date := id3Text(id3tag, "TDRC"); date != "" {
		t.Date = date
	} else if year := id3Text(id3tag, "TYER"); year != "" {
		t.Date = year
		if tdat := id3Text(id3tag, "TDAT"); len(tdat) == 4 {
			t.Date = year + "-" + tdat[2:4] + "-" + tdat[0:2]
		}
	}

	t.OriginalDate = firstNonEmpty(
		id3Text(id3tag, "TDOR"),
		id3Text(id3tag, "TORY"),
		id3UserText(id3tag, "ORIGINALYEAR"),
	)

	t.TitleSortName = id3Text(id3tag, "TSOT")
	t.ArtistSortName = id3Text(id3tag, "TSOP")
	t.AlbumSortName = id3Text(id3tag, "TSOA")
	t.AlbumArtistSortName = firstNonEmpty(id3Text(id3tag, "TSO2"), id3UserText(id3tag, "ALBUMARTISTSORT"))
	t.Label = id3Text(id3tag, "TPUB")
	t.ISRC = id3Text(id3tag, "TSRC")
	t.CatalogNumber = id3UserText(id3tag, "CATALOGNUMBER")
	t.MBReleaseID = id3UserText(id3tag, "MusicBrainz Album Id")
}

// readMP3WithID3v2 reads an MP3 entirely with id3v2, for files whose
// UTF-16 frames dhowden/tag rejects.
func readMP3WithID3v2(path string) (*Tag, error) {
	id3tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, err
	}
	defer id3tag.Close()

	track, totalTracks := parseNumberPair(id3Text(id3tag, "TRCK"))
	disc, totalDiscs := parseNumberPair(id3Text(id3tag, "TPOS"))
	t := &Tag{
		Path:        path,
		Title:       id3tag.Title(),
		Artist:      id3tag.Artist(),
		AlbumArtist: id3Text(id3tag, "TPE2"),
		Album:       id3tag.Album(),
		Genre:       id3tag.Genre(),
		TrackNumber: track,
		TotalTracks: totalTracks,
		DiscNumber:  disc,
		TotalDiscs:  totalDiscs,
	}
	if year := id3tag.Year(); len(year) >= 4 {
		t.Date = year[:4]
	}
	applyID3Frames(id3tag, t)

	t.Sanitize()
	return t, nil
}

func id3Text(id3tag *id3v2.Tag, frameID string) string {
	frames := id3tag.GetFrames(frameID)
	if len(frames) == 0 {
		return ""
	}
	if tf, ok := frames[0].(id3v2.TextFrame); ok {
		return tf.Text
	}
	return ""
}

func id3UserText(id3tag *id3v2.Tag, description string) string {
	for _, frame := range id3tag.GetFrames("TXXX") {
		if txxx, ok := frame.(id3v2.UserDefinedTextFrame); ok && txxx.Description == description {
			return txxx.Value
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
