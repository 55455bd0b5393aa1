package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirsync/dirsync/internal/index"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}
	for _, p := range payloads {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, ResFile, p))

		gotType, gotPayload, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, ResFile, gotType)
		if len(p) == 0 {
			assert.Empty(t, gotPayload)
		} else {
			assert.Equal(t, p, gotPayload)
		}
	}
}

func TestReadFrameShortReadIsFramingError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, ReqFile, []byte("hello")))
	truncated := buf.Bytes()[:len(buf.Bytes())-2]

	_, _, err := ReadFrame(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var hdr [9]byte
	hdr[0] = byte(ReqFile)
	// declare an absurd length without supplying any payload bytes
	for i := 1; i < 9; i++ {
		hdr[i] = 0xFF
	}
	_, _, err := ReadFrame(bytes.NewReader(hdr[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestIndexCodecRoundTrip(t *testing.T) {
	mtime := time.Unix(1_700_000_000, 123000000)
	entries := map[string]index.Entry{
		"share/docs":   {IsFile: false},
		"share/a.txt":  {IsFile: true, Size: 5, ModifiedTime: mtime, Status: index.StatusAdded, Hash: []index.BlockHash{{0xAA, 0xBB}}},
		"share/mid.bin": {IsFile: true, Size: 0, ModifiedTime: mtime, Status: index.StatusHashing, Hash: nil},
	}

	encoded := EncodeIndex(entries)
	decoded, err := DecodeIndex(encoded)
	require.NoError(t, err)

	require.Len(t, decoded, 3)

	dir := decoded["share/docs"]
	assert.False(t, dir.IsFile)

	f := decoded["share/a.txt"]
	assert.True(t, f.IsFile)
	assert.Equal(t, uint64(5), f.Size)
	assert.True(t, f.ModifiedTime.Equal(mtime))
	assert.Equal(t, index.StatusAdded, f.Status)
	assert.Equal(t, []index.BlockHash{{0xAA, 0xBB}}, f.Hash)

	// A HASHING entry must never expose its partial hash on the wire.
	hashing := decoded["share/mid.bin"]
	assert.Equal(t, index.StatusHashing, hashing.Status)
	assert.Empty(t, hashing.Hash)
}

func TestFileRequestCodecRoundTrip(t *testing.T) {
	req := FileRequest{Path: "share/data.bin", BlockIndex: 7}
	decoded, err := DecodeFileRequest(EncodeFileRequest(req))
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestDecodeIndexTruncatedIsError(t *testing.T) {
	entries := map[string]index.Entry{
		"share/a.txt": {IsFile: true, Size: 1, ModifiedTime: time.Now(), Status: index.StatusAdded, Hash: []index.BlockHash{{1}}},
	}
	encoded := EncodeIndex(entries)
	_, err := DecodeIndex(encoded[:len(encoded)-3])
	assert.Error(t, err)
}
