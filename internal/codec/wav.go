package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wavFormat mirrors the fields of a RIFF fmt chunk we care about.
type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// decodeWAV walks the RIFF chunk list directly. Only integer PCM at 8
// or 16 bits, mono or stereo, is accepted; 8-bit samples are rescaled
// to signed 16-bit. The data chunk read is clamped to the duration cap.
func decodeWAV(r io.Reader) ([]int16, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, ErrUnrecognized
	}

	var format *wavFormat
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("wav stream has no data chunk")
			}
			return nil, 0, fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				channels:      binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			if format == nil {
				return nil, 0, fmt.Errorf("wav data chunk precedes fmt chunk")
			}
			return decodeWAVData(r, format, chunkSize)
		default:
			// Skip LIST, fact, and other chunks we don't interpret.
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, 0, fmt.Errorf("failed to skip %q chunk: %w", chunkID, err)
			}
		}
	}
}

func decodeWAVData(r io.Reader, f *wavFormat, size uint32) ([]int16, int, error) {
	if f.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav encoding %d (integer PCM only)", f.audioFormat)
	}
	if f.channels != 1 && f.channels != 2 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", f.channels)
	}
	if f.bitsPerSample != 8 && f.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", f.bitsPerSample)
	}
	if f.sampleRate == 0 {
		return nil, 0, fmt.Errorf("wav stream reports zero sample rate")
	}

	bytesPerSample := int(f.bitsPerSample) / 8
	frameBytes := bytesPerSample * int(f.channels)

	// Clamp the read to the duration cap before decoding anything.
	maxBytes := maxSourceSamples(int(f.sampleRate)) * frameBytes
	readBytes := int(size)
	if readBytes > maxBytes {
		readBytes = maxBytes
	}

	raw := make([]byte, readBytes)
	n, err := io.ReadFull(r, raw)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, 0, fmt.Errorf("failed to read wav data: %w", err)
	}
	raw = raw[:n-n%frameBytes]

	samples := make([]int16, 0, len(raw)/bytesPerSample)
	if f.bitsPerSample == 8 {
		// 8-bit WAV is unsigned; recenter and scale up.
		for _, b := range raw {
			samples = append(samples, (int16(b)-128)<<8)
		}
	} else {
		for i := 0; i+1 < len(raw); i += 2 {
			samples = append(samples, int16(binary.LittleEndian.Uint16(raw[i:i+2])))
		}
	}

	if f.channels == 2 {
		samples = downmixStereo(samples)
	}
	return samples, int(f.sampleRate), nil
}
