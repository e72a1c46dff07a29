// Package artwork turns raw cover images into what the library stores: a
// JPEG bounded to MaxSize and a fixed-size BMP thumbnail for list views.
package artwork

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG covers

	"github.com/dustin/go-humanize"
	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp" // WebP covers

	"github.com/llehouerou/shelf/internal/logger"
)

var log = logger.WithName("artwork")

const (
	MaxSize     = 1024
	ThumbSize   = 70
	JPEGQuality = 70
)

// ErrNoImage is returned for empty input.
var ErrNoImage = errors.New("no image data")

// Art is a prepared cover.
type Art struct {
	Image []byte // JPEG
	Thumb []byte // BMP, ThumbSize x ThumbSize
	MIME  string // of Image
}

// Prepare decodes a cover, downsizes it to fit MaxSize and renders the
// thumbnail.
func Prepare(data []byte) (*Art, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}

	full := resize.Thumbnail(MaxSize, MaxSize, img, resize.Lanczos3)
	var out bytes.Buffer
	if err := jpeg.Encode(&out, full, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}

	thumb, err := Thumbnail(img)
	if err != nil {
		return nil, err
	}

	b := full.Bounds()
	log.WithField("source", format).
		WithField("size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy())).
		WithField("bytes", humanize.Bytes(uint64(out.Len()))).
		Debug("cover prepared")

	return &Art{Image: out.Bytes(), Thumb: thumb, MIME: "image/jpeg"}, nil
}

// Thumbnail renders img as a ThumbSize square BMP.
func Thumbnail(img image.Image) ([]byte, error) {
	small := resize.Resize(ThumbSize, ThumbSize, img, resize.Bilinear)
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, small); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
