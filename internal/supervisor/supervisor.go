// Package supervisor runs the File Manager and the Peer Manager as services
// of a single structured-concurrency tree (the Synchronizer is not a
// service of its own; it is driven by those two), replacing the
// source's nested, untracked create_task spawns (see the Design Notes'
// "Cooperative orchestration -> structured concurrency" entry). Grounded on
// thejerf/suture/v4, the supervisor library carried over from
// other_examples/manifests/syncthing-syncthing/go.mod and
// other_examples/manifests/fragtion-syncthing/go.mod, both descendants of
// the teacher.
package supervisor

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// Tree owns the lifetime of every long-running service in the daemon. All
// services are added before Run is called; there is no dynamic add/remove.
type Tree struct {
	sup *suture.Supervisor
	log *logrus.Entry
}

// New builds an empty supervision tree.
func New(log *logrus.Entry) *Tree {
	spec := suture.Spec{
		EventHook: func(e suture.Event) {
			log.WithField("event", e.String()).Debug("supervisor event")
		},
	}
	return &Tree{
		sup: suture.New("dirsyncd", spec),
		log: log,
	}
}

// Add registers a service to be started when Run is called. Matches
// suture.Service: Serve(ctx context.Context) error.
func (t *Tree) Add(service suture.Service) {
	t.sup.Add(service)
}

// Run starts every added service and blocks until ctx is cancelled, at
// which point it waits for all services to unwind before returning.
func (t *Tree) Run(ctx context.Context) error {
	errCh := t.sup.ServeBackground(ctx)
	<-ctx.Done()
	t.log.Info("shutdown requested, waiting for services to drain")
	return <-errCh
}
