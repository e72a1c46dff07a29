package tags

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// oggPage builds a page with a single packet. The CRC is left empty.
func oggPage(granule uint64, packet []byte) []byte {
	page := make([]byte, 27, 27+1+len(packet))
	copy(page, "OggS")
	binary.LittleEndian.PutUint64(page[6:14], granule)
	page[26] = 1
	page = append(page, byte(len(packet)))
	return append(page, packet...)
}

func writeOgg(t *testing.T, name string, head []byte, lastGranule uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := oggPage(0, head)
	data = append(data, oggPage(lastGranule, make([]byte, 32))...)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write ogg: %v", err)
	}
	return path
}

func vorbisIdent(rate uint32) []byte {
	p := make([]byte, 30)
	p[0] = 1
	copy(p[1:], "vorbis")
	p[11] = 2
	binary.LittleEndian.PutUint32(p[12:16], rate)
	p[29] = 1
	return p
}

func opusHead(preSkip uint16) []byte {
	p := make([]byte, 19)
	copy(p, "OpusHead")
	p[8], p[9] = 1, 2
	binary.LittleEndian.PutUint16(p[10:12], preSkip)
	binary.LittleEndian.PutUint32(p[12:16], 44100)
	return p
}

func TestReadAudioInfoVorbisUsesStreamRate(t *testing.T) {
	path := writeOgg(t, "song.ogg", vorbisIdent(44100), 44100*180)

	info, err := ReadAudioInfo(path)
	if err != nil {
		t.Fatalf("ReadAudioInfo() error = %v", err)
	}
	if info.Duration != 3*time.Minute {
		t.Errorf("Duration = %v, want 3m0s", info.Duration)
	}
	if info.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", info.SampleRate)
	}
	if info.Format != "OGG" {
		t.Errorf("Format = %q, want OGG", info.Format)
	}
}

func TestReadAudioInfoOpusSubtractsPreSkip(t *testing.T) {
	for _, name := range []string{"song.opus", "song.ogg"} {
		path := writeOgg(t, name, opusHead(312), 48000*60+312)

		info, err := ReadAudioInfo(path)
		if err != nil {
			t.Fatalf("%s: ReadAudioInfo() error = %v", name, err)
		}
		if info.Duration != time.Minute {
			t.Errorf("%s: Duration = %v, want 1m0s", name, info.Duration)
		}
		if info.SampleRate != 48000 || info.Format != "OPUS" {
			t.Errorf("%s: got %d Hz %s, want 48000 Hz OPUS", name, info.SampleRate, info.Format)
		}
	}
}

func TestReadAudioInfoUnknownOggCodec(t *testing.T) {
	path := writeOgg(t, "song.oga", []byte("\x7fFLAC-in-ogg-not-handled"), 1000)
	if _, err := ReadAudioInfo(path); err == nil {
		t.Error("expected an error for an unknown Ogg codec")
	}
}
