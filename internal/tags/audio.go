package tags

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goflac "github.com/go-flac/go-flac"
	"github.com/gopxl/beep/v2/flac"
	"github.com/llehouerou/go-m4a"
	"github.com/llehouerou/go-mp3"
)

// ReadAudioInfo reads duration and stream format without decoding audio
// where the container allows it.
func ReadAudioInfo(path string) (*AudioInfo, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ExtFLAC:
		return readFLACStreamInfo(path)
	case ExtMP3, ExtOPUS, ExtOGG, ExtOGA, ExtM4A, ExtMP4:
	default:
		return nil, fmt.Errorf("unsupported format: %s", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ExtMP3:
		return readMP3AudioInfo(f)
	case ExtM4A, ExtMP4:
		return readM4AAudioInfo(f)
	default:
		info, err := readOggAudioInfo(f)
		if errors.Is(err, errUnknownOggCodec) {
			return readPropertiesWithTaglib(path)
		}
		return info, err
	}
}

func readMP3AudioInfo(f *os.File) (*AudioInfo, error) {
	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	rate := decoder.SampleRate()
	if rate == 0 {
		return nil, errors.New("mp3: invalid sample rate")
	}
	samples := max(decoder.SampleCount(), 0)
	return &AudioInfo{
		Duration:   samplesToDuration(int64(samples), rate),
		Format:     "MP3",
		SampleRate: rate,
		BitDepth:   16,
	}, nil
}

// readFLACStreamInfo decodes the STREAMINFO block: 20 bits of sample rate,
// 3 of channels, 5 of bits per sample, then 36 bits of total samples.
func readFLACStreamInfo(path string) (*AudioInfo, error) {
	file, err := goflac.ParseFile(path)
	if err != nil {
		return readFLACWithBeep(path)
	}
	for _, meta := range file.Meta {
		if meta.Type != goflac.StreamInfo || len(meta.Data) < 18 {
			continue
		}
		d := meta.Data
		rate := int(d[10])<<12 | int(d[11])<<4 | int(d[12])>>4
		bits := (int(d[12])&0x01)<<4 | int(d[13])>>4 + 1
		total := int64(d[13]&0x0F)<<32 | int64(binary.BigEndian.Uint32(d[14:18]))
		return &AudioInfo{
			Duration:   samplesToDuration(total, rate),
			Format:     "FLAC",
			SampleRate: rate,
			BitDepth:   bits,
		}, nil
	}
	return readFLACWithBeep(path)
}

// readFLACWithBeep handles FLAC files with a prepended ID3 tag, which
// go-flac refuses.
func readFLACWithBeep(path string) (*AudioInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := skipID3v2(f); err != nil {
		return nil, err
	}
	streamer, format, err := flac.Decode(f)
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	return &AudioInfo{
		Duration:   format.SampleRate.D(streamer.Len()),
		Format:     "FLAC",
		SampleRate: int(format.SampleRate),
		BitDepth:   format.Precision * 8,
	}, nil
}

// readOggAudioInfo divides the granule position of the last Ogg page by
// the rate the first page declares. Opus granules always count 48 kHz
// samples and include the encoder pre-skip.
func readOggAudioInfo(f *os.File) (*AudioInfo, error) {
	head, err := readOggHead(f)
	if err != nil {
		return nil, err
	}
	granule, err := lastOggGranule(f)
	if err != nil {
		return nil, err
	}
	return &AudioInfo{
		Duration:   samplesToDuration(max(granule-head.preSkip, 0), head.rate),
		Format:     head.format,
		SampleRate: head.rate,
		BitDepth:   16,
	}, nil
}

var errUnknownOggCodec = errors.New("ogg: unknown codec")

type oggHead struct {
	format  string
	rate    int
	preSkip int64
}

// readOggHead parses the identification packet at the start of the first
// page: 27 bytes of page header, the segment table, then the packet.
func readOggHead(r io.ReaderAt) (oggHead, error) {
	buf := make([]byte, 27+255+64)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return oggHead{}, err
	}
	buf = buf[:n]
	if len(buf) < 27 || string(buf[:4]) != "OggS" {
		return oggHead{}, errors.New("ogg: missing capture pattern")
	}
	packet := buf[27+int(buf[26]):]
	switch {
	case len(packet) >= 19 && string(packet[:8]) == "OpusHead":
		return oggHead{
			format:  "OPUS",
			rate:    48000,
			preSkip: int64(binary.LittleEndian.Uint16(packet[10:12])),
		}, nil
	case len(packet) >= 16 && packet[0] == 1 && string(packet[1:7]) == "vorbis":
		rate := int(binary.LittleEndian.Uint32(packet[12:16]))
		if rate == 0 {
			return oggHead{}, errors.New("vorbis: invalid sample rate")
		}
		return oggHead{format: "OGG", rate: rate}, nil
	}
	return oggHead{}, errUnknownOggCodec
}

func lastOggGranule(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := min(int64(64<<10), fi.Size())
	if _, err := f.Seek(-size, io.SeekEnd); err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}
	buf = buf[:n]

	for i := len(buf) - 27; i >= 0; i-- {
		if string(buf[i:i+4]) == "OggS" {
			if g := int64(binary.LittleEndian.Uint64(buf[i+6 : i+14])); g > 0 {
				return g, nil
			}
		}
	}
	return 0, errors.New("ogg: no granule position found")
}

func readM4AAudioInfo(f *os.File) (*AudioInfo, error) {
	container, err := m4a.Open(f)
	if err != nil {
		return nil, err
	}
	info := &AudioInfo{
		Duration:   container.Duration(),
		Format:     "M4A",
		SampleRate: int(container.SampleRate()),
		BitDepth:   16,
	}
	switch container.Codec() {
	case m4a.CodecAAC:
		info.Format = "AAC"
	case m4a.CodecALAC:
		info.Format = "ALAC"
		if container.SampleSize() == 24 {
			info.BitDepth = 24
		}
	case m4a.CodecUnknown:
	}
	return info, nil
}

// skipID3v2 positions r after a leading ID3v2 tag, or at the start.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	if n < 10 || string(header[:3]) != id3Magic {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}
	// Syncsafe size: 7 bits per byte.
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}

func samplesToDuration(samples int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(rate) * float64(time.Second))
}
