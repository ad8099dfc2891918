package throw

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Wire layout of a header. All integers are little-endian int32.
//
//	0  ..3   checksum (sentinel, bytes 6,66,166,6)
//	4  ..7   width
//	8  ..11  height
//	12 ..15  depth
//	16 ..19  byte_per_element
//	20 ..51  command, NUL padded
const (
	// HeaderSize is the exact size of an encoded header.
	HeaderSize = 52
	// CommandSize is the width of the command field.
	CommandSize = 32
	// Checksum is the sentinel stamped on every outgoing header.
	Checksum int32 = 111559174
)

var byteOrder = binary.LittleEndian

// Header is the fixed-size block preceding every payload. It describes the
// payload shape and carries a short command tag.
type Header struct {
	Checksum       int32
	Width          int32
	Height         int32
	Depth          int32
	BytePerElement int32
	Command        string
}

// NewHeader returns a header stamped with the sentinel checksum.
func NewHeader(command string, width, height, depth, bytePerElement int) Header {
	return Header{
		Checksum:       Checksum,
		Width:          int32(width),
		Height:         int32(height),
		Depth:          int32(depth),
		BytePerElement: int32(bytePerElement),
		Command:        command,
	}
}

// Elements returns the number of payload elements declared by the header.
func (h Header) Elements() int {
	return int(h.Width) * int(h.Height) * int(h.Depth)
}

// PayloadSize returns the number of payload bytes following the header.
func (h Header) PayloadSize() int {
	return h.Elements() * int(h.BytePerElement)
}

func (h Header) String() string {
	return fmt.Sprintf("Header(%q, w=%d, h=%d, d=%d, bpe=%d)",
		h.Command, h.Width, h.Height, h.Depth, h.BytePerElement)
}

// exceeds reports whether the declared payload is larger than limit bytes,
// without overflowing on hostile dimensions.
func (h Header) exceeds(limit int) bool {
	size := int64(1)
	for _, v := range [...]int32{h.Width, h.Height, h.Depth, h.BytePerElement} {
		if v <= 0 {
			return false
		}
		if size > int64(limit)/int64(v) {
			return true
		}
		size *= int64(v)
	}
	return false
}

// validate rejects shapes no peer can legitimately send.
func (h Header) validate() error {
	if h.Width < 0 || h.Height < 0 || h.Depth < 0 || h.BytePerElement < 0 {
		return errors.WithMessagef(ErrInvalidHeader, "negative field in %s", h)
	}
	return nil
}

// EncodeHeader packs h into its wire representation. Commands longer than
// CommandSize bytes are truncated.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	byteOrder.PutUint32(buf[0:4], uint32(h.Checksum))
	byteOrder.PutUint32(buf[4:8], uint32(h.Width))
	byteOrder.PutUint32(buf[8:12], uint32(h.Height))
	byteOrder.PutUint32(buf[12:16], uint32(h.Depth))
	byteOrder.PutUint32(buf[16:20], uint32(h.BytePerElement))
	copy(buf[20:HeaderSize], h.Command)
	return buf
}

// DecodeHeader unpacks a header from exactly HeaderSize bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, errors.WithMessagef(ErrInvalidHeader, "got %d bytes, want %d", len(buf), HeaderSize)
	}
	return Header{
		Checksum:       int32(byteOrder.Uint32(buf[0:4])),
		Width:          int32(byteOrder.Uint32(buf[4:8])),
		Height:         int32(byteOrder.Uint32(buf[8:12])),
		Depth:          int32(byteOrder.Uint32(buf[12:16])),
		BytePerElement: int32(byteOrder.Uint32(buf[16:20])),
		Command:        decodeCommand(buf[20:HeaderSize]),
	}, nil
}

// decodeCommand strips trailing NUL and whitespace padding. Python peers
// pad with spaces, C peers with NULs.
func decodeCommand(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(bytes.TrimRight(field, " \t\r\n"))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := EncodeHeader(h)
	return buf[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Header) UnmarshalBinary(data []byte) error {
	decoded, err := DecodeHeader(data)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
