package tags

import (
	"errors"

	"go.senan.xyz/taglib"
)

// readWithTaglib reads FLAC, Ogg and MP4 files dhowden/tag fails on.
func readWithTaglib(path string) (*Tag, error) {
	raw, err := taglib.ReadTags(path)
	if err != nil {
		return nil, err
	}
	props := taglibTags(raw)

	track, totalTracks := props.numberPair(taglib.TrackNumber)
	disc, totalDiscs := props.numberPair(taglib.DiscNumber)
	t := &Tag{
		Path:        path,
		Title:       props.get(taglib.Title),
		Artist:      props.get(taglib.Artist),
		AlbumArtist: props.get(taglib.AlbumArtist),
		Album:       props.get(taglib.Album),
		Genre:       props.get(taglib.Genre),
		TrackNumber: track,
		TotalTracks: totalTracks,
		DiscNumber:  disc,
		TotalDiscs:  totalDiscs,
	}
	applyVorbisComments(props, t)

	t.Sanitize()
	return t, nil
}

// readTaglibExtended fills release fields for MP4 and Ogg files, whose
// TagLib property names follow the Vorbis conventions.
func readTaglibExtended(path string, t *Tag) {
	raw, err := taglib.ReadTags(path)
	if err != nil {
		return
	}
	applyVorbisComments(taglibTags(raw), t)
}

// readPropertiesWithTaglib covers Ogg streams whose codec the header reader
// does not know, FLAC in Ogg for one.
func readPropertiesWithTaglib(path string) (*AudioInfo, error) {
	p, err := taglib.ReadProperties(path)
	if err != nil {
		return nil, err
	}
	if p.Length <= 0 {
		return nil, errors.New("taglib: no duration")
	}
	return &AudioInfo{
		Duration:   p.Length,
		Format:     "OGG",
		SampleRate: int(p.SampleRate),
		BitDepth:   16,
	}, nil
}
