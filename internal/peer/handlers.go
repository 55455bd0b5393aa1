package peer

import (
	"context"

	"github.com/dirsync/dirsync/internal/index"
)

// Handlers is the explicit, typed interface the Peer Manager dispatches
// inbound requests to. It replaces the source's string-keyed event-listener
// map (Design Notes §9): wiring is checked at compile time instead of by
// string key, removing a class of silent-miswiring bugs.
type Handlers interface {
	// OnRequestIndex handles an inbound REQ_INDEX: the peer's local index
	// is handed to the synchronizer, and this returns the receiver's own
	// local index to send back as RES_INDEX.
	OnRequestIndex(ctx context.Context, peerIP string, remoteIndex map[string]index.Entry) (localIndex map[string]index.Entry, err error)

	// OnRequestIndexUpdate handles an inbound REQ_INDEX_UPDATE: the changed
	// index is handed to the synchronizer. The RES_INDEX_UPDATE "OK" is
	// sent by the caller once this returns without error.
	OnRequestIndexUpdate(ctx context.Context, peerIP string, changedIndex map[string]index.Entry) error

	// OnRequestFile handles an inbound REQ_FILE: it returns the raw
	// (unencoded) bytes of the requested block, read from local disk.
	OnRequestFile(ctx context.Context, peerIP string, path string, blockIndex uint32) ([]byte, error)
}
