package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirsync/dirsync/internal/index"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("component", "test")
}

func waitForHash(t *testing.T, idx *index.Index, path string) index.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e, ok := idx.Get(path)
		if ok && e.Status != index.StatusHashing {
			return e
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hash of %s did not complete", path)
	return index.Entry{}
}

func TestInitialScanIndexesFilesAndDirsAndHashes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.dl_partial"), []byte("stale"), 0o644))

	idx := index.New()
	m := New(dir, 4096, 100*time.Millisecond, 2, idx, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.pool.start(ctx)

	require.NoError(t, m.initialScan())

	dirEntry, ok := idx.Get(filepath.Join(dir, "docs"))
	require.True(t, ok)
	assert.False(t, dirEntry.IsFile)

	fileEntry, ok := idx.Get(filepath.Join(dir, "hello.txt"))
	require.True(t, ok)
	assert.True(t, fileEntry.IsFile)
	assert.Equal(t, uint64(5), fileEntry.Size)

	_, ok = idx.Get(filepath.Join(dir, ".hidden"))
	assert.False(t, ok)

	_, ok = idx.Get(filepath.Join(dir, "partial.dl_partial"))
	assert.False(t, ok)

	done := waitForHash(t, idx, filepath.Join(dir, "hello.txt"))
	assert.Equal(t, index.StatusAdded, done.Status)
	require.Len(t, done.Hash, 1)
}

func TestServeCleansLeftoverPartials(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.dl_partial")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	idx := index.New()
	m := New(dir, 4096, 50*time.Millisecond, 1, idx, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- m.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	cancel()
	<-serveDone
}

func TestPeriodicScanDetectsNewAndModified(t *testing.T) {
	dir := t.TempDir()
	idx := index.New()
	m := New(dir, 4096, 100*time.Millisecond, 1, idx, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.pool.start(ctx)

	var captured []index.ChangedItem
	m.Subscribe(func(items []index.ChangedItem) { captured = append(captured, items...) })

	require.NoError(t, m.initialScan())

	target := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	require.NoError(t, m.periodicScan())
	require.Len(t, captured, 1)
	assert.Equal(t, index.ChangeNew, captured[0].Kind)

	waitForHash(t, idx, target)

	captured = nil
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(target, future, future))
	require.NoError(t, os.WriteFile(target, []byte("version two"), 0o644))
	require.NoError(t, os.Chtimes(target, future, future))

	require.NoError(t, m.periodicScan())
	require.Len(t, captured, 1)
	assert.Equal(t, index.ChangeModified, captured[0].Kind)
}

func TestPeriodicScanSkipsWritingFiles(t *testing.T) {
	dir := t.TempDir()
	idx := index.New()
	m := New(dir, 4096, 100*time.Millisecond, 1, idx, testLogger())

	target := filepath.Join(dir, "placeholder.bin")
	require.NoError(t, os.WriteFile(target, []byte("xxxx"), 0o644))
	idx.Apply(target, index.FilePatch(4, time.Now().Add(-time.Hour), index.StatusWriting))

	var captured []index.ChangedItem
	m.Subscribe(func(items []index.ChangedItem) { captured = append(captured, items...) })

	require.NoError(t, m.periodicScan())
	assert.Empty(t, captured)
}

func TestSplitBlocksEmptyFileIsOneZeroBlock(t *testing.T) {
	blocks := splitBlocks(0, 4096)
	require.Len(t, blocks, 1)
	assert.Equal(t, blockRange{0, 0}, blocks[0])
}

func TestSplitBlocksExactMultiple(t *testing.T) {
	blocks := splitBlocks(8192, 4096)
	require.Len(t, blocks, 2)
	assert.Equal(t, blockRange{0, 4096}, blocks[0])
	assert.Equal(t, blockRange{4096, 8192}, blocks[1])
}

func TestSplitBlocksShortFinalBlock(t *testing.T) {
	blocks := splitBlocks(8193, 4096)
	require.Len(t, blocks, 3)
	assert.Equal(t, blockRange{8192, 8193}, blocks[2])
}
