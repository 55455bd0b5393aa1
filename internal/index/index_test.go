package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyInsertsAbsent(t *testing.T) {
	ix := New()
	e := ix.Apply("share/docs", DirectoryPatch())
	assert.False(t, e.IsFile)

	got, ok := ix.Get("share/docs")
	require.True(t, ok)
	assert.False(t, got.IsFile)
}

func TestApplyMergesPartial(t *testing.T) {
	ix := New()
	mtime := time.Unix(1000, 0)
	ix.Apply("share/a.txt", FilePatch(5, mtime, StatusHashing))

	hash := []BlockHash{{0x1}}
	ix.Apply("share/a.txt", Patch{Status: statusp(StatusAdded), Hash: hash})

	got, ok := ix.Get("share/a.txt")
	require.True(t, ok)
	assert.Equal(t, StatusAdded, got.Status)
	assert.Equal(t, uint64(5), got.Size)
	assert.Equal(t, mtime, got.ModifiedTime)
	assert.Equal(t, hash, got.Hash)
}

func TestAwaitHashReturnsWhenStable(t *testing.T) {
	ix := New()
	ix.Apply("share/a.txt", FilePatch(5, time.Now(), StatusHashing))

	done := make(chan error, 1)
	go func() {
		done <- ix.AwaitHash(context.Background(), "share/a.txt")
	}()

	time.Sleep(20 * time.Millisecond)
	ix.Apply("share/a.txt", Patch{Status: statusp(StatusAdded)})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitHash did not return")
	}
}

func TestAwaitHashMissingPathReturnsImmediately(t *testing.T) {
	ix := New()
	err := ix.AwaitHash(context.Background(), "nope")
	assert.NoError(t, err)
}

func TestSubscribeFiresOnlyWithChanges(t *testing.T) {
	ix := New()
	var got []ChangedItem
	ix.Subscribe(func(items []ChangedItem) { got = items })

	ix.RecordScan(nil)
	assert.Nil(t, got)

	items := []ChangedItem{{Path: "share/a.txt", Kind: ChangeNew}}
	ix.RecordScan(items)
	assert.Equal(t, items, got)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	ix := New()
	ix.Apply("share/a.txt", Patch{Hash: []BlockHash{{0xAA}}})

	snap := ix.Snapshot()
	snap["share/a.txt"] = Entry{}

	got, _ := ix.Get("share/a.txt")
	assert.NotEqual(t, Entry{}, got)
}

func TestNumBlocks(t *testing.T) {
	cases := []struct {
		size, blockSize uint64
		want            int
	}{
		{0, 4096, 1},
		{1, 4096, 1},
		{4096, 4096, 1},
		{4097, 4096, 2},
		{8192, 4096, 2},
		{8193, 4096, 3},
	}
	for _, c := range cases {
		got := NumBlocks(c.size, c.blockSize)
		assert.Equalf(t, c.want, got, "size=%d blockSize=%d", c.size, c.blockSize)
	}
}
