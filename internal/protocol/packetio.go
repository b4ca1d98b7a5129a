package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Writer accumulates a packet payload (opcode VarInt + fields) before it's
// handed to the framed transport.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a payload buffer with opcode already written.
func NewWriter(opcode int32) *Writer {
	w := &Writer{}
	w.buf.Write(PutVarInt(nil, opcode))
	return w
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) VarInt(v int32) *Writer {
	w.buf.Write(PutVarInt(nil, v))
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

func (w *Writer) Byte(v byte) *Writer {
	w.buf.WriteByte(v)
	return w
}

func (w *Writer) Int16(v int16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf.Write(b[:])
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
	return w
}

func (w *Writer) UUID(id uuid.UUID) *Writer {
	w.buf.Write(id[:])
	return w
}

func (w *Writer) String(s string) *Writer {
	w.VarInt(int32(len(s)))
	w.buf.WriteString(s)
	return w
}

func (w *Writer) ByteArray(b []byte) *Writer {
	w.VarInt(int32(len(b)))
	w.buf.Write(b)
	return w
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// Reader parses a received payload. Opcode has already been consumed by the
// dispatcher; Reader operates on the remaining field bytes.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) remaining() []byte { return r.buf[r.pos:] }

func (r *Reader) VarInt() (int32, error) {
	v, n, ok, err := DecodeVarInt(r.remaining())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("protocol: truncated VarInt field")
	}
	r.pos += n
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("protocol: truncated byte field")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) Int16() (int16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("protocol: truncated int16 field")
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("protocol: truncated int64 field")
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *Reader) UUID() (uuid.UUID, error) {
	if r.pos+16 > len(r.buf) {
		return uuid.UUID{}, fmt.Errorf("protocol: truncated UUID field")
	}
	var id uuid.UUID
	copy(id[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return id, nil
}

func (r *Reader) String(maxLen int) (string, error) {
	n, err := r.VarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > maxLen*4 {
		return "", fmt.Errorf("protocol: string length %d exceeds bound", n)
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("protocol: truncated string field")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) ByteArray() ([]byte, error) {
	n, err := r.VarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated byte array field")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// Rest returns whatever bytes remain unconsumed.
func (r *Reader) Rest() []byte { return r.remaining() }
