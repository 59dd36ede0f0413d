package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hraban/opus"
	"github.com/jonas747/ogg"

	"github.com/clipcast/clipcast/internal/codec"
)

func opusHead(channels int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], 0) // pre-skip
	binary.LittleEndian.PutUint32(head[12:], codec.TargetRate)
	return head
}

func opusTags() []byte {
	var b bytes.Buffer
	b.WriteString("OpusTags")
	binary.Write(&b, binary.LittleEndian, uint32(len("clipcast")))
	b.WriteString("clipcast")
	binary.Write(&b, binary.LittleEndian, uint32(0))
	return b.Bytes()
}

// buildOggOpus encodes frames of silence-adjacent signal into an
// Ogg-encapsulated Opus stream.
func buildOggOpus(t *testing.T, channels, frames int) []byte {
	t.Helper()

	enc, err := opus.NewEncoder(codec.TargetRate, channels, opus.AppAudio)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	var out bytes.Buffer
	stream := ogg.NewEncoder(1, &out)
	if err := stream.EncodeBOS(0, opusHead(channels)); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if err := stream.Encode(0, opusTags()); err != nil {
		t.Fatalf("failed to write tags: %v", err)
	}

	pcm := make([]int16, codec.FrameSamples*channels)
	for i := range pcm {
		pcm[i] = int16((i % 64) * 100)
	}
	buf := make([]byte, 4000)
	for i := 0; i < frames; i++ {
		n, err := enc.Encode(pcm, buf)
		if err != nil {
			t.Fatalf("failed to encode frame %d: %v", i, err)
		}
		granule := int64((i + 1) * codec.FrameSamples)
		packet := append([]byte(nil), buf[:n]...)
		if err := stream.Encode(granule, packet); err != nil {
			t.Fatalf("failed to write frame %d: %v", i, err)
		}
	}
	if err := stream.EncodeEOS(); err != nil {
		t.Fatalf("failed to close stream: %v", err)
	}
	return out.Bytes()
}

func TestDecodeOggOpusMono(t *testing.T) {
	path := writeClip(t, buildOggOpus(t, 1, 3))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3*codec.FrameSamples {
		t.Errorf("decoded %d samples, want %d", len(got), 3*codec.FrameSamples)
	}
}

func TestDecodeOggOpusStereoDownmix(t *testing.T) {
	path := writeClip(t, buildOggOpus(t, 2, 2))

	got, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2*codec.FrameSamples {
		t.Errorf("decoded %d mono samples, want %d", len(got), 2*codec.FrameSamples)
	}
}

func TestDecodeOggOpusRejectsForeignStream(t *testing.T) {
	// A valid ogg container whose first packet is not an OpusHead.
	var out bytes.Buffer
	stream := ogg.NewEncoder(1, &out)
	if err := stream.EncodeBOS(0, []byte("vorbis-ish header data")); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	path := writeClip(t, out.Bytes())

	if _, err := codec.Decode(path); !errors.Is(err, codec.ErrUnrecognized) {
		t.Errorf("error = %v, want ErrUnrecognized", err)
	}
}
