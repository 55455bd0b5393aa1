// Command dirsyncd is the process entry point: it parses the required
// --ip and --encryption flags, loads the static configuration table, and
// wires the File Manager, the Peer Manager and the Synchronizer into a
// supervision tree until SIGINT/SIGTERM triggers a graceful stop. Argument
// parsing follows the teacher's own cmd/syncthing/main.go idiom (stdlib
// flag with a custom Usage func) rather than introducing a CLI framework
// the rest of the pack doesn't use for this role.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dirsync/dirsync/internal/config"
	"github.com/dirsync/dirsync/internal/crypto"
	"github.com/dirsync/dirsync/internal/index"
	"github.com/dirsync/dirsync/internal/metrics"
	"github.com/dirsync/dirsync/internal/peer"
	"github.com/dirsync/dirsync/internal/scanner"
	"github.com/dirsync/dirsync/internal/supervisor"
	"github.com/dirsync/dirsync/internal/sync"
)

const usageLine = "main --ip 192.168.1.101,192.168.1.102 --encryption yes"

func usage() {
	fmt.Fprintln(os.Stderr, usageLine)
}

func main() {
	os.Exit(run())
}

func run() int {
	var ipFlag, encryptionFlag, confFlag string

	flag.StringVar(&ipFlag, "ip", "", "comma-separated list of peer IPv4 addresses")
	flag.StringVar(&encryptionFlag, "encryption", "", "enable pre-shared-key AEAD on file transfers (yes/no)")
	flag.StringVar(&confFlag, "conf", "", "optional INI configuration file")
	flag.Usage = usage
	flag.Parse()

	if ipFlag == "" || encryptionFlag == "" {
		usage()
		return 1
	}

	ips := strings.Split(ipFlag, ",")
	for i := range ips {
		ips[i] = strings.TrimSpace(ips[i])
	}

	cfg, err := config.Load(confFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading configuration:", err)
		return 1
	}

	encrypt := isAffirmative(encryptionFlag)
	if encrypt && len(cfg.PreSharedKey) == 0 {
		fmt.Fprintln(os.Stderr, "--encryption yes requires pre_shared_key to be set in configuration")
		return 1
	}

	log := newLogger()

	idx := index.New()

	scanMgr := scanner.New(cfg.WorkingDir, cfg.FileBlockSize, time.Duration(cfg.ScanInterval)*time.Millisecond,
		cfg.HashWorkers, idx, log.WithField("component", "scanner"))

	cryptoOpts := crypto.Options{Compress: cfg.EnableGzip, Encrypt: encrypt, PSK: cfg.PreSharedKey}

	synchronizer := sync.New(idx, cfg.FileBlockSize, int64(cfg.ConcurrentDownloading), log.WithField("component", "sync"))

	peerMgr := peer.New(cfg.ListenPort, ips, synchronizer, cryptoOpts, metrics.New(), log.WithField("component", "peer"))
	synchronizer.AttachPeers(peerMgr)

	idx.Subscribe(synchronizer.HandleLocalChanges)

	tree := supervisor.New(log.WithField("component", "supervisor"))
	tree.Add(scanMgr)
	tree.Add(peerMgr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("peers", ips).WithField("listen_port", cfg.ListenPort).Info("dirsyncd starting")

	if err := tree.Run(ctx); err != nil {
		log.WithError(err).Error("supervisor exited with error")
		return 1
	}

	log.Info("dirsyncd stopped")
	return 0
}

func isAffirmative(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "y", "true", "on":
		return true
	default:
		return false
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)
	return log
}
