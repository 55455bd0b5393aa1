package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by the reader helpers when a payload ends before
// the declared field can be fully read — a malformed frame.
var ErrTruncated = errors.New("wire: truncated payload")

type buffer struct {
	b []byte
}

func newBuffer() *buffer { return &buffer{} }

func (w *buffer) Bytes() []byte { return w.b }

func (w *buffer) putByte(b byte) { w.b = append(w.b, b) }

func (w *buffer) putBytes(b []byte) { w.b = append(w.b, b...) }

func (w *buffer) putUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *buffer) putUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

// putString writes a varint length prefix followed by the raw UTF-8 bytes.
func (w *buffer) putString(s string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	w.b = append(w.b, lenBuf[:n]...)
	w.b = append(w.b, s...)
}

type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) byteVal() (byte, error) {
	if r.pos+1 > len(r.b) {
		return 0, ErrTruncated
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) bytesN(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, ErrTruncated
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	v, err := r.bytesN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

func (r *reader) uint64() (uint64, error) {
	v, err := r.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// string reads a varint length prefix followed by that many raw bytes.
func (r *reader) string() (string, error) {
	l, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return "", ErrTruncated
	}
	r.pos += n
	b, err := r.bytesN(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
