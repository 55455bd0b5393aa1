package scanner

import (
	"context"
	"crypto/md5"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/dirsync/dirsync/internal/index"
)

// blockRange is a contiguous, half-open byte range [start, end) of a file,
// at most blockSize bytes, with the final range possibly shorter. An empty
// file produces exactly one range covering [0, 0).
type blockRange struct {
	start, end uint64
}

func splitBlocks(size, blockSize uint64) []blockRange {
	if size == 0 {
		return []blockRange{{0, 0}}
	}
	ranges := make([]blockRange, 0, index.NumBlocks(size, blockSize))
	for start := uint64(0); start < size; start += blockSize {
		end := start + blockSize
		if end > size {
			end = size
		}
		ranges = append(ranges, blockRange{start, end})
	}
	return ranges
}

// hasherPool runs block-hash jobs on a bounded pool of goroutines, standing
// in for the source's multiprocessing.Pool (see SPEC_FULL.md §5 on why
// goroutines are the idiomatic Go equivalent here).
type hasherPool struct {
	workers    int
	workingDir string
	blockSize  uint64
	idx        *index.Index
	log        *logrus.Entry

	jobs chan string
	done chan struct{}
}

func newHasherPool(workers int, workingDir string, blockSize uint64, idx *index.Index, log *logrus.Entry) *hasherPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &hasherPool{
		workers:    workers,
		workingDir: workingDir,
		blockSize:  blockSize,
		idx:        idx,
		log:        log,
		jobs:       make(chan string, 64),
		done:       make(chan struct{}),
	}
}

func (p *hasherPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

func (p *hasherPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-p.jobs:
			if !ok {
				return
			}
			p.hashFile(path)
		}
	}
}

// schedule enqueues a hash job without blocking the scan loop.
func (p *hasherPool) schedule(path string) {
	select {
	case p.jobs <- path:
	default:
		// Queue is momentarily full; hand the send to a goroutine so the
		// caller does not wait. The job is still hashed by the pool once a
		// worker frees a queue slot.
		go func() { p.jobs <- path }()
	}
}

func (p *hasherPool) stop() {
	close(p.jobs)
}

// hashFile partitions the file into blocks and hashes each one
// independently with MD5, in block order, then flips the entry's status to
// ADDED. A block read error is logged and leaves that block's digest as the
// zero value, which will never match a peer's real digest — downstream
// diffing treats it as unequal, per the source's error policy.
func (p *hasherPool) hashFile(path string) {
	e, ok := p.idx.Get(path)
	if !ok || !e.IsFile {
		return
	}

	ranges := splitBlocks(e.Size, p.blockSize)
	hashes := make([]index.BlockHash, len(ranges))

	f, err := os.Open(path)
	if err != nil {
		// The whole file is unreadable: log and leave the entry in HASHING.
		// It stays partial until a later scan pass sees its size or mtime
		// change and reschedules it (per the source's error policy — no
		// retries in the core).
		p.log.WithError(err).WithField("path", path).Warn("cannot hash file")
		return
	}
	defer f.Close()

	buf := make([]byte, p.blockSize)
	for i, r := range ranges {
		n := int(r.end - r.start)
		if _, err := f.ReadAt(buf[:n], int64(r.start)); err != nil {
			p.log.WithError(err).WithField("path", path).WithField("block", i).Warn("cannot hash block")
			continue
		}
		hashes[i] = index.BlockHash(md5.Sum(buf[:n]))
	}

	p.idx.Apply(path, index.Patch{Status: statusPtr(index.StatusAdded), Hash: hashes})
}

func statusPtr(s index.Status) *index.Status { return &s }
