package peer

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dirsync/dirsync/internal/crypto"
	"github.com/dirsync/dirsync/internal/index"
	"github.com/dirsync/dirsync/internal/metrics"
	"github.com/dirsync/dirsync/internal/wire"
)

// ErrInvalidResponse is returned when a peer replies with an unexpected
// message type, matching the source's "Invalid response" exception.
var ErrInvalidResponse = errors.New("peer: invalid response")

const (
	dialTimeout    = 10 * time.Second
	requestTimeout = 30 * time.Second
)

// Manager is the Peer Manager. It implements suture.Service.
type Manager struct {
	listenPort uint16
	table      *Table
	handlers   Handlers
	opts       crypto.Options
	metrics    *metrics.Registry
	log        *logrus.Entry

	listener net.Listener
}

// New builds a Manager for the given fixed peer set. opts controls the
// optional per-block compression/AEAD layering on RES_FILE payloads.
func New(listenPort uint16, ips []string, handlers Handlers, opts crypto.Options, mreg *metrics.Registry, log *logrus.Entry) *Manager {
	return &Manager{
		listenPort: listenPort,
		table:      NewTable(ips),
		handlers:   handlers,
		opts:       opts,
		metrics:    mreg,
		log:        log,
	}
}

// Table exposes the Peer Table.
func (m *Manager) Table() *Table { return m.table }

// IPs returns the fixed set of configured peer IPs.
func (m *Manager) IPs() []string { return m.table.IPs() }

// Serve implements suture.Service: it binds the listening socket and
// accepts connections until ctx is cancelled, at which point it closes the
// listener and returns, letting any in-flight handler finish naturally.
func (m *Manager) Serve(ctx context.Context) error {
	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(int(m.listenPort)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.listener = ln
	m.log.WithField("addr", addr).Info("peer manager listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				m.logSummary()
				return nil
			default:
				return err
			}
		}
		go m.handleConn(ctx, conn)
	}
}

// logSummary logs one line per peer of accumulated transfer counters, per
// SPEC_FULL.md §4.4's "logged at stop() as a summary line."
func (m *Manager) logSummary() {
	if m.metrics == nil {
		return
	}
	for cid, line := range m.metrics.Summary() {
		m.log.WithField("peer", m.table.name(cid)).Info("metrics summary: " + line)
	}
}

func (m *Manager) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if !m.table.Known(host) {
		m.log.WithField("peer", host).Warn("refused connection from unknown peer")
		return
	}
	m.table.SetOnline(host, true)

	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	t, payload, err := wire.ReadFrame(conn)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("malformed frame")
		return
	}

	switch t {
	case wire.ReqIndex:
		m.dispatchRequestIndex(ctx, conn, host, payload)
	case wire.ReqIndexUpdate:
		m.dispatchRequestIndexUpdate(ctx, conn, host, payload)
	case wire.ReqFile:
		m.dispatchRequestFile(ctx, conn, host, payload)
	default:
		m.log.WithField("peer", host).WithField("type", t.String()).Warn("unknown message type")
	}
}

func (m *Manager) dispatchRequestIndex(ctx context.Context, conn net.Conn, host string, payload []byte) {
	remoteIdx, err := wire.DecodeIndex(payload)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("invalid index payload")
		return
	}
	localIdx, err := m.handlers.OnRequestIndex(ctx, host, remoteIdx)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("request_index handler failed")
		return
	}
	if err := wire.WriteFrame(conn, wire.ResIndex, wire.EncodeIndex(localIdx)); err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("failed to write RES_INDEX")
	}
}

func (m *Manager) dispatchRequestIndexUpdate(ctx context.Context, conn net.Conn, host string, payload []byte) {
	changedIdx, err := wire.DecodeIndex(payload)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("invalid index payload")
		return
	}
	if err := m.handlers.OnRequestIndexUpdate(ctx, host, changedIdx); err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("request_index_update handler failed")
		return
	}
	if err := wire.WriteFrame(conn, wire.ResIndexUpdate, []byte("OK")); err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("failed to write RES_INDEX_UPDATE")
	}
}

func (m *Manager) dispatchRequestFile(ctx context.Context, conn net.Conn, host string, payload []byte) {
	req, err := wire.DecodeFileRequest(payload)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("invalid file request payload")
		return
	}
	raw, err := m.handlers.OnRequestFile(ctx, host, req.Path, req.BlockIndex)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).WithField("path", req.Path).Warn("request_file handler failed")
		return
	}
	encoded, err := crypto.EncodeBlock(m.opts, raw)
	if err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("failed to encode block")
		return
	}
	if err := wire.WriteFrame(conn, wire.ResFile, encoded); err != nil {
		m.log.WithError(err).WithField("peer", host).Warn("failed to write RES_FILE")
	}
}

// dial opens a fresh connection to ip:listenPort and updates the online
// flag accordingly. Connections are never pooled — each request opens its
// own.
func (m *Manager) dial(ip string) (net.Conn, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(int(m.listenPort)))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		m.table.SetOnline(ip, false)
		return nil, err
	}
	m.table.SetOnline(ip, true)
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	return conn, nil
}

// RequestIndex sends REQ_INDEX with localIndex and returns the peer's
// deserialized response to RES_INDEX.
func (m *Manager) RequestIndex(ip string, localIndex map[string]index.Entry) (map[string]index.Entry, error) {
	conn, err := m.dial(ip)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.ReqIndex, wire.EncodeIndex(localIndex)); err != nil {
		return nil, err
	}

	t, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if t != wire.ResIndex {
		return nil, ErrInvalidResponse
	}
	return wire.DecodeIndex(payload)
}

// RequestIndexUpdate sends REQ_INDEX_UPDATE with changedIndex and waits for
// the RES_INDEX_UPDATE acknowledgement. The payload of that ack is opaque
// and unchecked beyond message type.
func (m *Manager) RequestIndexUpdate(ip string, changedIndex map[string]index.Entry) error {
	conn, err := m.dial(ip)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.ReqIndexUpdate, wire.EncodeIndex(changedIndex)); err != nil {
		return err
	}

	t, _, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if t != wire.ResIndexUpdate {
		return ErrInvalidResponse
	}
	return nil
}

// RequestFile fetches one block of path from ip and writes it into
// "<path>.dl_partial" at block_index * block_size, matching the spec's
// placement contract.
func (m *Manager) RequestFile(ip, path string, blockIndex uint32, blockSize uint64) error {
	conn, err := m.dial(ip)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.FileRequest{Path: path, BlockIndex: blockIndex}
	if err := wire.WriteFrame(conn, wire.ReqFile, wire.EncodeFileRequest(req)); err != nil {
		return err
	}

	t, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}
	if t != wire.ResFile {
		return ErrInvalidResponse
	}

	raw, err := crypto.DecodeBlock(m.opts, payload)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path+".dl_partial", os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(raw, int64(blockIndex)*int64(blockSize)); err != nil {
		return err
	}

	if m.metrics != nil {
		pm := m.metrics.Peer(m.table.ID(ip))
		pm.BytesReceived.Inc(int64(len(raw)))
		pm.BlocksFetched.Inc(1)
	}
	return nil
}

// RecordBlockFailure increments the failed-block counter for ip. Called by
// the Synchronizer when a block fetch errors and the whole file's transfer
// is aborted.
func (m *Manager) RecordBlockFailure(ip string) {
	if m.metrics != nil {
		m.metrics.Peer(m.table.ID(ip)).BlocksFailed.Inc(1)
	}
}
