package tags

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/llehouerou/shelf/internal/logger"
)

var log = logger.WithName("tags")

// Read reads tag metadata from a music file. dhowden/tag is tried first;
// formats it cannot parse fall back to id3v2 or TagLib.
func Read(path string) (*Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	m, err := tag.ReadFrom(f)
	if err != nil {
		switch ext {
		case ExtMP3:
			return readMP3WithID3v2(path)
		case ExtFLAC, ExtM4A, ExtMP4, ExtOPUS, ExtOGG, ExtOGA:
			return readWithTaglib(path)
		}
		return nil, fmt.Errorf("read tags: %w", err)
	}

	track, totalTracks := m.Track()
	disc, totalDiscs := m.Disc()
	t := &Tag{
		Path:        path,
		Title:       m.Title(),
		Artist:      m.Artist(),
		AlbumArtist: m.AlbumArtist(),
		Album:       m.Album(),
		Genre:       m.Genre(),
		Date:        yearToDate(m.Year()),
		TrackNumber: track,
		TotalTracks: totalTracks,
		DiscNumber:  disc,
		TotalDiscs:  totalDiscs,
	}

	switch ext {
	case ExtMP3:
		readMP3Extended(path, t)
	case ExtFLAC:
		readFLACExtended(path, t)
	case ExtM4A, ExtMP4, ExtOPUS, ExtOGG, ExtOGA:
		readTaglibExtended(path, t)
	}

	t.Sanitize()
	return t, nil
}

// ReadFile reads tags, duration and cover art. A file whose tags cannot be
// parsed still yields its filename as title; a file whose duration cannot
// be determined is indexed with zero duration.
func ReadFile(path string) (*FileInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	t, err := Read(path)
	if err != nil {
		log.WithField("path", path).WithError(err).Warn("unreadable tags, indexing by filename")
		t = &Tag{Path: path}
		t.Sanitize()
	}

	info := &FileInfo{Tag: *t}
	if audio, err := ReadAudioInfo(path); err != nil {
		log.WithField("path", path).WithError(err).Debug("could not read duration")
	} else {
		info.AudioInfo = *audio
	}

	cover, mime, err := ExtractCoverArt(path)
	if err != nil {
		log.WithField("path", path).WithError(err).Debug("could not read cover art")
	}
	info.Cover, info.CoverMIME = cover, mime
	return info, nil
}
