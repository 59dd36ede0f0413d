package codec

import (
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// decodeMP3 drives the frame decoder until input is exhausted or the
// duration cap is reached. go-mp3 always yields interleaved 16-bit LE
// stereo at the stream's native rate.
func decodeMP3(r io.Reader) ([]int16, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	srcRate := dec.SampleRate()
	if srcRate == 0 {
		return nil, 0, fmt.Errorf("mp3 stream reports zero sample rate")
	}
	maxMono := maxSourceSamples(srcRate)

	var mono []int16
	buf := make([]byte, 4096)
	for len(mono) < maxMono {
		n, err := dec.Read(buf)
		if n > 0 {
			// 4 bytes per stereo frame.
			frames := n / 4
			for i := 0; i < frames && len(mono) < maxMono; i++ {
				left := int16(uint16(buf[4*i]) | uint16(buf[4*i+1])<<8)
				right := int16(uint16(buf[4*i+2]) | uint16(buf[4*i+3])<<8)
				mono = append(mono, int16((int32(left)+int32(right))/2))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("mp3 decode failed: %w", err)
		}
	}

	return mono, srcRate, nil
}
