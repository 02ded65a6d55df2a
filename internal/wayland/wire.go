package wayland

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the object id word plus the size/opcode word
const headerSize = 8

// maxMessageSize is the largest message the protocol allows
const maxMessageSize = 1 << 16

var order = binary.NativeEndian

// ObjectID refers to a protocol object by id. The zero value is the null
// object.
type ObjectID uint32

// ID implements Proxy
func (o ObjectID) ID() uint32 {
	return uint32(o)
}

// appendMessage encodes one message onto buf
func appendMessage(buf []byte, sender uint32, opcode uint16, args ...any) ([]byte, error) {
	start := len(buf)
	buf = order.AppendUint32(buf, sender)
	buf = order.AppendUint32(buf, 0) // patched below

	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
			buf = order.AppendUint32(buf, 0)
		case uint32:
			buf = order.AppendUint32(buf, v)
		case int32:
			buf = order.AppendUint32(buf, uint32(v))
		case string:
			buf = appendString(buf, v)
		case Proxy:
			buf = order.AppendUint32(buf, v.ID())
		default:
			return buf[:start], fmt.Errorf("argument %d: unsupported type %T", i, arg)
		}
	}

	size := len(buf) - start
	if size > maxMessageSize-1 {
		return buf[:start], fmt.Errorf("message of %d bytes is too large", size)
	}
	order.PutUint32(buf[start+4:], uint32(size)<<16|uint32(opcode))
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	n := len(s) + 1
	buf = order.AppendUint32(buf, uint32(n))
	buf = append(buf, s...)
	buf = append(buf, 0)
	for pad := padding(n); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

func padding(n int) int {
	return (4 - n%4) % 4
}

func decodeHeader(b []byte) (sender uint32, opcode uint16, size int) {
	sender = order.Uint32(b)
	word := order.Uint32(b[4:])
	return sender, uint16(word & 0xffff), int(word >> 16)
}

// Event is one message received from the compositor. Arguments are read
// in order; a malformed message leaves an error behind instead of
// panicking.
type Event struct {
	Sender uint32
	Opcode uint16

	data []byte
	off  int
	err  error
}

// Uint32 reads an unsigned argument
func (e *Event) Uint32() uint32 {
	if e.err != nil {
		return 0
	}
	if len(e.data)-e.off < 4 {
		e.err = fmt.Errorf("event %d/%d: truncated argument at offset %d", e.Sender, e.Opcode, e.off)
		return 0
	}
	v := order.Uint32(e.data[e.off:])
	e.off += 4
	return v
}

// Int32 reads a signed argument
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// Str reads a string argument. The null string reads as empty.
func (e *Event) Str() string {
	n := int(e.Uint32())
	if e.err != nil || n == 0 {
		return ""
	}
	if len(e.data)-e.off < n+padding(n) {
		e.err = fmt.Errorf("event %d/%d: string of %d bytes overruns message", e.Sender, e.Opcode, n)
		return ""
	}
	s := string(e.data[e.off : e.off+n-1])
	e.off += n + padding(n)
	return s
}

// Err reports the first decoding problem, if any
func (e *Event) Err() error {
	return e.err
}
