// Package codec decodes stored clips (MP3, WAV, or Ogg-Opus) into mono
// 16-bit PCM at the engine's target rate.
//
// The pipeline is deliberately simple: decode, average stereo pairs
// down to mono, linearly resample to 48 kHz, and cap the result at the
// maximum clip duration. The duration cap is enforced inside the
// decode loops so an oversized upload stops costing CPU as soon as the
// cap is reached.
package codec

import (
	"errors"
	"fmt"
	"os"
)

const (
	// TargetRate is the fixed engine sample rate. Everything downstream
	// (the Opus encoder, the frame pacer) assumes it.
	TargetRate = 48000

	// FrameSamples is one 20 ms frame at TargetRate.
	FrameSamples = TargetRate / 50

	// MaxClipSeconds bounds how much audio a single clip may carry.
	MaxClipSeconds = 30

	// MaxSamples is the hard output cap, in target-rate samples.
	MaxSamples = TargetRate * MaxClipSeconds
)

var (
	ErrUnrecognized = errors.New("unrecognized audio container")
	ErrNoSamples    = errors.New("no audio samples decoded")
)

// Format identifies a supported audio container.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatWAV
	FormatOggOpus
)

// DetectFormat sniffs the container signature from the first bytes of
// a file. It needs at least 12 bytes to recognize WAV.
func DetectFormat(head []byte) Format {
	switch {
	case len(head) >= 3 && head[0] == 'I' && head[1] == 'D' && head[2] == '3':
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return FormatWAV
	case len(head) >= 4 && string(head[0:4]) == "OggS":
		return FormatOggOpus
	}
	return FormatUnknown
}

// Decode reads the file at path and returns mono int16 samples at
// TargetRate, capped at MaxSamples. All failures are recoverable; the
// caller reports them and carries on.
func Decode(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip: %w", err)
	}
	defer f.Close()

	head := make([]byte, 12)
	n, _ := f.Read(head)
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind clip: %w", err)
	}

	var pcm []int16
	var srcRate int
	switch DetectFormat(head[:n]) {
	case FormatMP3:
		pcm, srcRate, err = decodeMP3(f)
	case FormatWAV:
		pcm, srcRate, err = decodeWAV(f)
	case FormatOggOpus:
		pcm, srcRate, err = decodeOggOpus(f)
	default:
		return nil, ErrUnrecognized
	}
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrNoSamples
	}

	if srcRate != TargetRate {
		pcm = resampleLinear(pcm, srcRate, TargetRate)
	}
	if len(pcm) > MaxSamples {
		pcm = pcm[:MaxSamples]
	}
	return pcm, nil
}

// downmixStereo averages interleaved stereo pairs into mono. An odd
// trailing sample is dropped.
func downmixStereo(in []int16) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return out
}

// resampleLinear converts between sample rates by interpolating
// between neighboring samples. Low quality but cheap, which is the
// right trade-off for short voice clips.
func resampleLinear(in []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * float64(srcRate) / float64(dstRate)
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(in[idx])
		b := float64(in[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// maxSourceSamples is the per-channel decode cap for a given source
// rate, so decode loops can stop early.
func maxSourceSamples(srcRate int) int {
	return srcRate * MaxClipSeconds
}
