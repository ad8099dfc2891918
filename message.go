package throw

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// VoidCommand is the command carried by an empty message.
const VoidCommand = "void"

// Element is the set of fixed-size numeric types a payload can carry.
// The element type is never sent on the wire: both peers must agree on it
// per command or channel, and BytePerElement is checked against it.
type Element interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32 | ~uint64 | ~int64 | ~float64
}

// Message pairs a header with its payload. A message is owned by exactly
// one goroutine at a time; copy Data before sharing it.
type Message[T Element] struct {
	Header Header
	Data   []T
}

// NewMessage builds a message whose header is derived from the given shape
// and the element type.
func NewMessage[T Element](command string, width, height, depth int, data []T) Message[T] {
	return Message[T]{
		Header: NewHeader(command, width, height, depth, ElementSize[T]()),
		Data:   data,
	}
}

// EmptyMessage returns the zero-dimension message used as the default
// response when no active callback is registered.
func EmptyMessage[T Element]() Message[T] {
	return Message[T]{
		Header: NewHeader(VoidCommand, 0, 0, 0, ElementSize[T]()),
		Data:   []T{},
	}
}

// Len returns the number of payload elements.
func (m Message[T]) Len() int {
	return len(m.Data)
}

// Command returns the header command.
func (m Message[T]) Command() string {
	return m.Header.Command
}

// ElementSize returns the wire size in bytes of one T.
func ElementSize[T Element]() int {
	var zero T
	return binary.Size(zero)
}

// checkShape verifies that m can be framed as declared.
func (m Message[T]) checkShape() error {
	if err := m.Header.validate(); err != nil {
		return err
	}
	if m.Header.Elements() != len(m.Data) {
		return errors.WithMessagef(ErrShapeMismatch, "%s declares %d elements, data has %d",
			m.Header, m.Header.Elements(), len(m.Data))
	}
	if len(m.Data) > 0 && int(m.Header.BytePerElement) != ElementSize[T]() {
		return errors.WithMessagef(ErrShapeMismatch, "%s declares %d bytes per element, type has %d",
			m.Header, m.Header.BytePerElement, ElementSize[T]())
	}
	return nil
}

// EncodePayload packs data little-endian, element by element. Byte slices
// are returned as is.
func EncodePayload[T Element](data []T) ([]byte, error) {
	if raw, ok := any(data).([]byte); ok {
		return raw, nil
	}
	buf, err := binary.Append(make([]byte, 0, len(data)*ElementSize[T]()), byteOrder, data)
	if err != nil {
		return nil, errors.WithMessage(err, "encode payload")
	}
	return buf, nil
}

// DecodePayload reinterprets raw as a slice of T. len(raw) must be a
// multiple of the element size.
func DecodePayload[T Element](raw []byte) ([]T, error) {
	size := ElementSize[T]()
	if len(raw)%size != 0 {
		return nil, errors.WithMessagef(ErrShapeMismatch, "%d bytes is not a multiple of %d", len(raw), size)
	}
	data := make([]T, len(raw)/size)
	if b, ok := any(data).([]byte); ok {
		copy(b, raw)
		return data, nil
	}
	if err := binary.Read(bytes.NewReader(raw), byteOrder, data); err != nil {
		return nil, errors.WithMessage(err, "decode payload")
	}
	return data, nil
}
