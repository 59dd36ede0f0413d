package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/clipcast/clipcast/internal/codec"
)

// buildWAV assembles a minimal RIFF/WAVE file around raw sample data.
func buildWAV(t *testing.T, channels, bits int, rate uint32, data []byte) []byte {
	t.Helper()

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(&fmtChunk, binary.LittleEndian, rate)
	byteRate := rate * uint32(channels*bits/8)
	binary.Write(&fmtChunk, binary.LittleEndian, byteRate)
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels*bits/8))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(bits))

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+len(data)))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(len(data)))
	out.Write(data)
	return out.Bytes()
}

func writeClip(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.clip")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write clip file: %v", err)
	}
	return path
}

func int16LE(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestDetectFormat(t *testing.T) {
	table := []struct {
		name string
		head []byte
		want codec.Format
	}{
		{name: "id3 tag", head: []byte("ID3\x04\x00"), want: codec.FormatMP3},
		{name: "mpeg sync", head: []byte{0xFF, 0xFB, 0x90, 0x00}, want: codec.FormatMP3},
		{name: "riff wave", head: []byte("RIFF\x00\x00\x00\x00WAVE"), want: codec.FormatWAV},
		{name: "ogg", head: []byte("OggS\x00"), want: codec.FormatOggOpus},
		{name: "riff but not wave", head: []byte("RIFF\x00\x00\x00\x00AVI "), want: codec.FormatUnknown},
		{name: "sync byte without second marker", head: []byte{0xFF, 0x00}, want: codec.FormatUnknown},
		{name: "empty", head: nil, want: codec.FormatUnknown},
		{name: "text", head: []byte("<!DOCTYPE html>"), want: codec.FormatUnknown},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			if got := codec.DetectFormat(tc.head); got != tc.want {
				t.Errorf("DetectFormat() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecodeWAVMono16(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	path := writeClip(t, buildWAV(t, 1, 16, codec.TargetRate, int16LE(samples)))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	for i, want := range samples {
		if got[i] != want {
			t.Errorf("sample %d = %d, want %d", i, got[i], want)
		}
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	// Interleaved L/R pairs; each output sample is the pair average.
	path := writeClip(t, buildWAV(t, 2, 16, codec.TargetRate, int16LE([]int16{
		1000, 3000,
		-2000, 2000,
	})))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{2000, 0}
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeWAV8Bit(t *testing.T) {
	// 8-bit WAV is unsigned around 128.
	path := writeClip(t, buildWAV(t, 1, 8, codec.TargetRate, []byte{128, 255, 0}))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{0, 127 << 8, -128 << 8}
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodeResamplesToTargetRate(t *testing.T) {
	// One second at 24 kHz should come out as one second at 48 kHz.
	src := make([]int16, 24000)
	for i := range src {
		src[i] = int16(i % 100)
	}
	path := writeClip(t, buildWAV(t, 1, 16, 24000, int16LE(src)))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != codec.TargetRate {
		t.Errorf("decoded %d samples, want %d", len(got), codec.TargetRate)
	}
}

func TestDecodeCapsDuration(t *testing.T) {
	seconds := codec.MaxClipSeconds + 2
	src := make([]int16, 8000*seconds)
	path := writeClip(t, buildWAV(t, 1, 16, 8000, int16LE(src)))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > codec.MaxSamples {
		t.Errorf("decoded %d samples, cap is %d", len(got), codec.MaxSamples)
	}
}

func TestDecodeRejects(t *testing.T) {
	table := []struct {
		name    string
		content []byte
		wantErr error
	}{
		{
			name:    "unrecognized container",
			content: []byte("<!DOCTYPE html><html></html>"),
			wantErr: codec.ErrUnrecognized,
		},
		{
			name:    "empty file",
			content: nil,
			wantErr: codec.ErrUnrecognized,
		},
	}

	for _, tc := range table {
		t.Run(tc.name, func(t *testing.T) {
			path := writeClip(t, tc.content)
			_, err := codec.Decode(path)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("empty data chunk", func(t *testing.T) {
		path := writeClip(t, buildWAV(t, 1, 16, codec.TargetRate, nil))
		if _, err := codec.Decode(path); !errors.Is(err, codec.ErrNoSamples) {
			t.Errorf("error = %v, want ErrNoSamples", err)
		}
	})

	t.Run("float wav", func(t *testing.T) {
		wav := buildWAV(t, 1, 16, codec.TargetRate, int16LE([]int16{1, 2, 3}))
		// Patch the fmt code from PCM (1) to IEEE float (3).
		wav[20] = 3
		path := writeClip(t, wav)
		if _, err := codec.Decode(path); err == nil {
			t.Error("expected error for non-PCM encoding")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := codec.Decode(filepath.Join(t.TempDir(), "absent.clip")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
