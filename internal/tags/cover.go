package tags

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/go-flac/flacpicture"
	goflac "github.com/go-flac/go-flac"
)

// Folder images checked when a file has no embedded art, in priority order.
var coverArtNames = []string{"cover", "folder", "front", "album", "artwork"}

var coverArtExts = []string{".jpg", ".jpeg", ".png", ".webp"}

// ExtractCoverArt returns embedded art, or else an image file next to the
// track (cover.jpg, folder.png, ...). No art is not an error.
func ExtractCoverArt(path string) (data []byte, mimeType string, err error) {
	if strings.EqualFold(filepath.Ext(path), ExtFLAC) {
		if data, mimeType = flacFrontCover(path); data != nil {
			return data, mimeType, nil
		}
	}

	data, mimeType, err = embeddedArt(path)
	if err == nil && data != nil {
		return data, mimeType, nil
	}
	return FolderArt(filepath.Dir(path))
}

func embeddedArt(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", err
	}
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", nil
	}
	return pic.Data, mimeFor(pic.MIMEType, pic.Data), nil
}

// flacFrontCover prefers the front-cover picture block, else the first one.
func flacFrontCover(path string) ([]byte, string) {
	f, err := goflac.ParseFile(path)
	if err != nil {
		return nil, ""
	}
	var fallback *flacpicture.MetadataBlockPicture
	for _, meta := range f.Meta {
		if meta.Type != goflac.Picture {
			continue
		}
		pic, err := flacpicture.ParseFromMetaDataBlock(*meta)
		if err != nil || len(pic.ImageData) == 0 {
			continue
		}
		if pic.PictureType == flacpicture.PictureTypeFrontCover {
			return pic.ImageData, mimeFor(pic.MIME, pic.ImageData)
		}
		if fallback == nil {
			fallback = pic
		}
	}
	if fallback != nil {
		return fallback.ImageData, mimeFor(fallback.MIME, fallback.ImageData)
	}
	return nil, ""
}

// FolderArt looks for a cover image in dir, matching names case-insensitively.
func FolderArt(dir string) ([]byte, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", err
	}
	byName := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			byName[strings.ToLower(e.Name())] = e.Name()
		}
	}
	for _, name := range coverArtNames {
		for _, ext := range coverArtExts {
			actual, ok := byName[name+ext]
			if !ok {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, actual))
			if err != nil {
				continue
			}
			return data, mimeFor("", data), nil
		}
	}
	return nil, "", nil
}

// mimeFor trusts a declared image MIME type and sniffs otherwise.
func mimeFor(declared string, data []byte) string {
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}
