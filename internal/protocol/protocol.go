// Package protocol implements the binary wire format spoken with the
// game-server plugin over UDP.
//
// Every command starts with a one-byte type and the requesting client
// ID (uint32 LE). Player identities travel as fixed 32-byte
// NUL-padded fields; names are u8-length-prefixed, URLs and response
// bodies u16-length-prefixed. Parsing is bounds-checked everywhere: a
// malformed packet is rejected, never overread.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Command types.
const (
	CmdRegister       byte = 0x01
	CmdDownload       byte = 0x02
	CmdPlay           byte = 0x03
	CmdPlayByID       byte = 0x04
	CmdStop           byte = 0x05
	CmdList           byte = 0x06
	CmdDelete         byte = 0x07
	CmdRename         byte = 0x08
	CmdVisibilityGet  byte = 0x09
	CmdVisibilitySet  byte = 0x0A
	CmdPublicList     byte = 0x0B
	CmdPublicAdd      byte = 0x0C
	CmdShare          byte = 0x0D
	CmdShareList      byte = 0x0E
	CmdShareAccept    byte = 0x0F
	CmdShareReject    byte = 0x10
	CmdPlaylistCreate byte = 0x11
	CmdPlaylistDelete byte = 0x12
	CmdPlaylistList   byte = 0x13
	CmdPlaylistAdd    byte = 0x14
	CmdPlaylistRemove byte = 0x15
	CmdPlaylistMove   byte = 0x16
	CmdPlaylistPlay   byte = 0x17
	CmdMenuGet        byte = 0x18
	CmdMenuNav        byte = 0x19
	CmdMenuPlay       byte = 0x1A
)

// Response types.
const (
	RespOK    byte = 0x01
	RespErr   byte = 0x02
	RespList  byte = 0x03
	RespMenu  byte = 0x04
	RespAudio byte = 0x05
)

// Menu entry kinds on the wire.
const (
	MenuKindPage byte = 0
	MenuKindClip byte = 1
)

// IdentityLen is the fixed width of an identity field.
const IdentityLen = 32

var ErrTruncated = errors.New("packet truncated")

// HeaderLen is the fixed command prefix: type byte plus client ID.
const HeaderLen = 5

// Reader walks a packet with explicit length validation before every
// field extraction.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) need(n int) error {
	if len(r.buf)-r.off < n {
		return ErrTruncated
	}
	return nil
}

func (r *Reader) U8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// Identity reads a fixed 32-byte NUL-padded identity field.
func (r *Reader) Identity() (string, error) {
	if err := r.need(IdentityLen); err != nil {
		return "", err
	}
	raw := r.buf[r.off : r.off+IdentityLen]
	r.off += IdentityLen
	id := strings.TrimRight(string(raw), "\x00")
	if id == "" {
		return "", fmt.Errorf("empty identity field")
	}
	return id, nil
}

// Str8 reads a u8-length-prefixed string.
func (r *Reader) Str8() (string, error) {
	n, err := r.U8()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// Str16 reads a u16-length-prefixed string.
func (r *Reader) Str16() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// ParseHeader splits a packet into its command type, client ID, and a
// reader positioned at the payload.
func ParseHeader(pkt []byte) (typ byte, client uint32, r *Reader, err error) {
	if len(pkt) < HeaderLen {
		return 0, 0, nil, ErrTruncated
	}
	return pkt[0], binary.LittleEndian.Uint32(pkt[1:5]), NewReader(pkt[HeaderLen:]), nil
}
