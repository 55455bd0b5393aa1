// Package scanner implements the File Manager: it owns the working
// directory, maintains the File Index via periodic and initial scans, and
// dispatches block-hash work to a worker pool so that hashing a large file
// never stalls the scan loop. Adapted from the teacher's scanner.Walker
// (scanner/walk.go) and cmd/syncthing/main.go's startup sequence, simplified
// to the scan-and-diff loop this spec calls for (no ignore files, no
// symlink following, no suppression of frequently changing files — none
// of those are named by the spec, so they are dropped rather than carried
// as dead weight; see DESIGN.md). The only suppression kept is skipping
// change detection for entries in WRITING status.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dirsync/dirsync/internal/index"
)

const partialSuffix = ".dl_partial"

// Manager is the File Manager. It implements suture.Service so the
// supervisor can own its lifetime alongside the peer listener.
type Manager struct {
	workingDir   string
	blockSize    uint64
	scanInterval time.Duration
	idx          *index.Index
	log          *logrus.Entry

	pool *hasherPool
}

// New constructs a Manager. workingDir is created on Serve if absent.
func New(workingDir string, blockSize uint64, scanInterval time.Duration, hashWorkers int, idx *index.Index, log *logrus.Entry) *Manager {
	return &Manager{
		workingDir:   workingDir,
		blockSize:    blockSize,
		scanInterval: scanInterval,
		idx:          idx,
		log:          log,
		pool:         newHasherPool(hashWorkers, workingDir, blockSize, idx, log),
	}
}

// Serve implements suture.Service. It ensures the working directory exists,
// clears leftover partial downloads, performs the initial recursive scan,
// then runs the periodic scanner until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	if err := os.MkdirAll(m.workingDir, 0o755); err != nil {
		return err
	}
	m.cleanPartials()

	m.pool.start(ctx)
	defer m.pool.stop()

	if err := m.initialScan(); err != nil {
		m.log.WithError(err).Error("initial scan failed")
	}

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.periodicScan(); err != nil {
				m.log.WithError(err).Warn("scan pass failed")
			}
		}
	}
}

// UpdateEntry merges a partial Entry into the index, inserting it if
// absent. Exposed for the synchronizer.
func (m *Manager) UpdateEntry(path string, p index.Patch) index.Entry {
	return m.idx.Apply(path, p)
}

// AwaitHash suspends until the entry at path is no longer HASHING.
func (m *Manager) AwaitHash(ctx context.Context, path string) error {
	return m.idx.AwaitHash(ctx, path)
}

// Subscribe registers the single change callback.
func (m *Manager) Subscribe(h index.ChangeHandler) {
	m.idx.Subscribe(h)
}

// Index returns the underlying File Index.
func (m *Manager) Index() *index.Index {
	return m.idx
}

func (m *Manager) cleanPartials() {
	_ = filepath.WalkDir(m.workingDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(p, partialSuffix) {
			if rmErr := os.Remove(p); rmErr != nil {
				m.log.WithError(rmErr).WithField("path", p).Warn("could not remove leftover partial file")
			}
		}
		return nil
	})
}

// excluded reports whether rel (a path relative to the working directory)
// should be invisible to the engine: any path component beginning with "."
// or a .dl_partial suffix.
func excluded(rel string) bool {
	if rel == "." {
		return false
	}
	if strings.HasSuffix(rel, partialSuffix) {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// initialScan enumerates every entry reachable from the working directory,
// blocking until structural enumeration completes. Hashing is scheduled but
// not awaited.
func (m *Manager) initialScan() error {
	return filepath.WalkDir(m.workingDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			m.log.WithError(err).WithField("path", p).Warn("scan entry error")
			return nil
		}
		rel, relErr := filepath.Rel(m.workingDir, p)
		if relErr != nil {
			return nil
		}
		if excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			m.idx.Apply(p, index.DirectoryPatch())
			return nil
		}

		info, err := d.Info()
		if err != nil {
			m.log.WithError(err).WithField("path", p).Warn("stat error")
			return nil
		}
		m.idx.Apply(p, index.FilePatch(uint64(info.Size()), info.ModTime(), index.StatusHashing))
		m.pool.schedule(p)
		return nil
	})
}

// periodicScan walks the tree once, diffing observed paths against the
// index, and fires the change handler once if anything changed.
func (m *Manager) periodicScan() error {
	var changed []index.ChangedItem

	err := filepath.WalkDir(m.workingDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			m.log.WithError(err).WithField("path", p).Warn("scan entry error")
			return nil
		}
		rel, relErr := filepath.Rel(m.workingDir, p)
		if relErr != nil {
			return nil
		}
		if excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}

		existing, ok := m.idx.Get(p)

		if d.IsDir() {
			if !ok {
				m.idx.Apply(p, index.DirectoryPatch())
				changed = append(changed, index.ChangedItem{Path: p, Kind: index.ChangeNew})
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			m.log.WithError(err).WithField("path", p).Warn("stat error")
			return nil
		}

		if !ok {
			e := m.idx.Apply(p, index.FilePatch(uint64(info.Size()), info.ModTime(), index.StatusHashing))
			m.pool.schedule(p)
			changed = append(changed, index.ChangedItem{Path: p, Kind: index.ChangeNew, Entry: e})
			return nil
		}

		if existing.IsFile && existing.Status != index.StatusWriting &&
			(info.ModTime().After(existing.ModifiedTime) || uint64(info.Size()) != existing.Size) {
			e := m.idx.Apply(p, index.FilePatch(uint64(info.Size()), info.ModTime(), index.StatusHashing))
			m.pool.schedule(p)
			changed = append(changed, index.ChangedItem{Path: p, Kind: index.ChangeModified, Entry: e})
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.idx.RecordScan(changed)
	return nil
}
