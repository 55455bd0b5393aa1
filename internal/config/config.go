// Package config loads the static configuration table: listen port, block
// size, compression toggle, concurrency limit and pre-shared key. These are
// compiled defaults, optionally overridden by an INI file, matching the
// source's config.py module and the teacher's own use of an INI loader in
// cmd/syncthing/main.go.
package config

import (
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Config is the static configuration record consumed by the core. It never
// changes after startup.
type Config struct {
	ListenPort            uint16
	FileBlockSize         uint64
	EnableGzip            bool
	PreSharedKey          []byte
	ConcurrentDownloading uint32
	WorkingDir            string
	ScanInterval          uint32 // milliseconds
	HashWorkers           int
}

// Default returns the compiled-in defaults. FileBlockSize defaults to 4 MiB,
// matching the S1/S2 scenarios in SPEC_FULL.md.
func Default() Config {
	return Config{
		ListenPort:            22000,
		FileBlockSize:         4 << 20,
		EnableGzip:            true,
		ConcurrentDownloading: 4,
		WorkingDir:            "./share",
		ScanInterval:          100,
		HashWorkers:           0, // 0 means runtime.NumCPU()
	}
}

// Load reads path as an INI file and overlays its values on top of Default.
// A missing file is not an error; the compiled defaults are used as-is, so
// the binary works out of the box with only --ip and --encryption.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sect := file.Section("sync")

	cfg.ListenPort = uint16(sect.Key("listen_port").MustUint(uint(cfg.ListenPort)))
	cfg.FileBlockSize = uint64(sect.Key("file_block_size").MustInt64(int64(cfg.FileBlockSize)))
	cfg.EnableGzip = isAffirmative(sect.Key("enable_gzip").MustString(boolAffirmative(cfg.EnableGzip)))
	cfg.PreSharedKey = []byte(sect.Key("pre_shared_key").MustString(string(cfg.PreSharedKey)))
	cfg.ConcurrentDownloading = uint32(sect.Key("concurrent_downloading").MustUint(uint(cfg.ConcurrentDownloading)))
	cfg.WorkingDir = sect.Key("working_dir").MustString(cfg.WorkingDir)
	cfg.ScanInterval = uint32(sect.Key("scan_interval_ms").MustUint(uint(cfg.ScanInterval)))

	return cfg, nil
}

// isAffirmative implements the case-insensitive affirmative-set check used
// for both --encryption and enable_gzip: anything not in {yes, y, true, on}
// (case-insensitive) is treated as negative.
func isAffirmative(v string) bool {
	switch strings.ToLower(v) {
	case "yes", "y", "true", "on":
		return true
	default:
		return false
	}
}

func boolAffirmative(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
