package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/hraban/opus"
	"github.com/jonas747/ogg"
)

// maxOpusFrame is the largest decoded frame libopus can emit per
// channel (120 ms at 48 kHz).
const maxOpusFrame = 5760

// decodeOggOpus reads an Ogg-encapsulated Opus stream. The first
// packet is the OpusHead header (we take the channel count from it),
// the second is OpusTags; both are consumed before audio starts.
func decodeOggOpus(r io.Reader) ([]int16, int, error) {
	packets := ogg.NewPacketDecoder(ogg.NewDecoder(r))

	head, _, err := packets.Decode()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read opus header: %w", err)
	}
	if len(head) < 10 || string(head[0:8]) != "OpusHead" {
		return nil, 0, ErrUnrecognized
	}
	channels := int(head[9])
	if channels != 1 && channels != 2 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}

	if _, _, err := packets.Decode(); err != nil {
		return nil, 0, fmt.Errorf("failed to read opus tags: %w", err)
	}

	// Opus always decodes at 48 kHz here, so no resample follows.
	dec, err := opus.NewDecoder(TargetRate, channels)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	maxMono := maxSourceSamples(TargetRate)
	pcm := make([]int16, maxOpusFrame*channels)
	var mono []int16
	for len(mono) < maxMono {
		packet, _, err := packets.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, 0, fmt.Errorf("ogg decode failed: %w", err)
		}
		// The end-of-stream page can carry a zero-length packet.
		if len(packet) == 0 {
			continue
		}

		n, err := dec.Decode(packet, pcm)
		if err != nil {
			return nil, 0, fmt.Errorf("opus decode failed: %w", err)
		}

		frame := pcm[:n*channels]
		if channels == 2 {
			frame = downmixStereo(frame)
		}
		if remaining := maxMono - len(mono); len(frame) > remaining {
			frame = frame[:remaining]
		}
		mono = append(mono, frame...)
	}

	return mono, TargetRate, nil
}
