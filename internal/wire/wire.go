// Package wire implements the peer-to-peer message framing and payload
// codec. Message framing is 1-byte type || 8-byte big-endian length ||
// payload, exactly as specified. Payloads are a hand-rolled tagged,
// length-prefixed binary schema rather than a general object-serialization
// format — see DESIGN.md for why this is deliberately stdlib-only.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dirsync/dirsync/internal/index"
)

// Type is the 1-byte wire message type tag.
type Type byte

const (
	ReqIndex       Type = 0
	ReqIndexUpdate Type = 1
	ReqFile        Type = 2
	ResIndex       Type = 3
	ResIndexUpdate Type = 4
	ResFile        Type = 5
)

func (t Type) String() string {
	switch t {
	case ReqIndex:
		return "REQ_INDEX"
	case ReqIndexUpdate:
		return "REQ_INDEX_UPDATE"
	case ReqFile:
		return "REQ_FILE"
	case ResIndex:
		return "RES_INDEX"
	case ResIndexUpdate:
		return "RES_INDEX_UPDATE"
	case ResFile:
		return "RES_FILE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// MaxPayloadLen bounds a single message payload. A frame declaring a larger
// length is a framing error, terminating the connection per the dispatch
// state machine.
const MaxPayloadLen = 1 << 34 // 16 GiB; comfortably above any single block or index

// ErrFrameTooLarge is returned when a declared payload length exceeds MaxPayloadLen.
var ErrFrameTooLarge = errors.New("wire: frame payload exceeds maximum length")

// WriteFrame writes the 9-byte header followed by payload.
func WriteFrame(w io.Writer, t Type, payload []byte) error {
	var hdr [9]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads exactly one header and its payload. Any short read is a
// framing error, matching the corrected read-exactly contract in the design
// notes (the "readexactly vs read" open question resolved in favor of
// read-exactly semantics).
func ReadFrame(r io.Reader) (Type, []byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	t := Type(hdr[0])
	length := binary.BigEndian.Uint64(hdr[1:])
	if length > MaxPayloadLen {
		return t, nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return t, nil, err
	}
	return t, payload, nil
}

// --- Index payload codec ---
//
// Wire layout for an index (used by REQ_INDEX's local_index and RES_INDEX):
//   uint32  entry count
//   for each entry:
//     varint-length-prefixed path (UTF-8)
//     byte    is_file (0/1)
//     if is_file:
//       uint64 size
//       uint64 modified_time (unix nanoseconds)
//       byte   status (0=added,1=hashing,2=writing)
//       uint32 block count
//       block count * 16 raw bytes (MD5 digests)

// EncodeIndex serializes a File Index snapshot.
func EncodeIndex(entries map[string]index.Entry) []byte {
	paths := index.SortedPaths(entries)

	buf := newBuffer()
	buf.putUint32(uint32(len(paths)))
	for _, p := range paths {
		e := entries[p]
		buf.putString(p)
		buf.putByte(boolByte(e.IsFile))
		if e.IsFile {
			buf.putUint64(e.Size)
			buf.putUint64(uint64(e.ModifiedTime.UnixNano()))
			buf.putByte(byte(e.Status))
			// HASHING entries must not expose partial hashes to peers.
			if e.Status == index.StatusHashing {
				buf.putUint32(0)
			} else {
				buf.putUint32(uint32(len(e.Hash)))
				for _, h := range e.Hash {
					buf.putBytes(h[:])
				}
			}
		}
	}
	return buf.Bytes()
}

// DecodeIndex parses a payload produced by EncodeIndex.
func DecodeIndex(payload []byte) (map[string]index.Entry, error) {
	r := newReader(payload)
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]index.Entry, count)
	for i := uint32(0); i < count; i++ {
		p, err := r.string()
		if err != nil {
			return nil, err
		}
		isFileByte, err := r.byteVal()
		if err != nil {
			return nil, err
		}
		var e index.Entry
		e.IsFile = isFileByte != 0
		if e.IsFile {
			size, err := r.uint64()
			if err != nil {
				return nil, err
			}
			mtimeNanos, err := r.uint64()
			if err != nil {
				return nil, err
			}
			statusByte, err := r.byteVal()
			if err != nil {
				return nil, err
			}
			blockCount, err := r.uint32()
			if err != nil {
				return nil, err
			}
			hashes := make([]index.BlockHash, blockCount)
			for j := uint32(0); j < blockCount; j++ {
				hb, err := r.bytesN(16)
				if err != nil {
					return nil, err
				}
				copy(hashes[j][:], hb)
			}
			e.Size = size
			e.ModifiedTime = time.Unix(0, int64(mtimeNanos))
			e.Status = index.Status(statusByte)
			e.Hash = hashes
		}
		out[p] = e
	}
	return out, nil
}

// FileRequest is the REQ_FILE payload: which file, which block.
type FileRequest struct {
	Path       string
	BlockIndex uint32
}

// EncodeFileRequest serializes a FileRequest.
func EncodeFileRequest(req FileRequest) []byte {
	buf := newBuffer()
	buf.putString(req.Path)
	buf.putUint32(req.BlockIndex)
	return buf.Bytes()
}

// DecodeFileRequest parses a payload produced by EncodeFileRequest.
func DecodeFileRequest(payload []byte) (FileRequest, error) {
	r := newReader(payload)
	path, err := r.string()
	if err != nil {
		return FileRequest{}, err
	}
	idx, err := r.uint32()
	if err != nil {
		return FileRequest{}, err
	}
	return FileRequest{Path: path, BlockIndex: idx}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
