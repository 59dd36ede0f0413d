package protocol

import (
	"encoding/binary"
	"fmt"
)

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendStr16(buf []byte, s string) []byte {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	return append(append(buf, b[:]...), s...)
}

func appendStr8(buf []byte, s string) []byte {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	return append(append(buf, byte(len(s))), s...)
}

// OK builds a success-with-message response.
func OK(client uint32, msg string) []byte {
	buf := appendU32([]byte{RespOK}, client)
	return appendStr16(buf, msg)
}

// Error builds an error-with-message response.
func Error(client uint32, msg string) []byte {
	buf := appendU32([]byte{RespErr}, client)
	return appendStr16(buf, msg)
}

// List builds a newline-joined list payload with pagination info.
func List(client uint32, page, pages uint8, body string) []byte {
	buf := appendU32([]byte{RespList}, client)
	buf = append(buf, page, pages)
	return appendStr16(buf, body)
}

// MenuItem is one entry of a menu response.
type MenuItem struct {
	Slot  uint8
	Kind  byte
	Ref   uint64
	Label string
}

// Menu builds the compact binary menu structure.
func Menu(client uint32, pageID uint32, title string, items []MenuItem) []byte {
	buf := appendU32([]byte{RespMenu}, client)
	buf = appendU32(buf, pageID)
	buf = appendStr8(buf, title)
	buf = append(buf, uint8(len(items)))
	for _, item := range items {
		buf = append(buf, item.Slot, item.Kind)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], item.Ref)
		buf = append(buf, b[:]...)
		buf = appendStr8(buf, item.Label)
	}
	return buf
}

// AudioFrame wraps one encoded Opus frame for the relay:
// [RespAudio][seq u32 LE][len u16 LE][opus bytes].
func AudioFrame(seq uint32, frame []byte) []byte {
	buf := appendU32([]byte{RespAudio}, seq)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(frame)))
	return append(append(buf, b[:]...), frame...)
}

// ParseAudioFrame decodes a relay packet back into its sequence number
// and raw Opus frame.
func ParseAudioFrame(pkt []byte) (seq uint32, frame []byte, err error) {
	r := NewReader(pkt)
	typ, err := r.U8()
	if err != nil {
		return 0, nil, err
	}
	if typ != RespAudio {
		return 0, nil, fmt.Errorf("not an audio frame packet: type 0x%02x", typ)
	}
	seq, err = r.U32()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.U16()
	if err != nil {
		return 0, nil, err
	}
	if err := r.need(int(n)); err != nil {
		return 0, nil, err
	}
	return seq, r.buf[r.off : r.off+int(n)], nil
}
