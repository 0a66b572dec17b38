// Package config loads tangram server configuration the way go-git's own
// config/config.go layers Local/Global/System scopes: a built-in default,
// overlaid by an INI file (parsed with gcfg, a direct go-git dependency),
// overlaid by command-line flags, merged with dario.cat/mergo rather than
// hand-rolled field-by-field overriding.
package config

import (
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/go-git/gcfg"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Remote is one named upstream entry, spec.md §4.10.
type Remote struct {
	Transport string `gcfg:"transport"` // "http" or "ssh"
	URL       string `gcfg:"url"`
	Token     string `gcfg:"token"`
	Host      string `gcfg:"host"`
	User      string `gcfg:"user"`
	Port      string `gcfg:"port"`
}

// fileConfig mirrors the on-disk INI structure gcfg decodes into.
type fileConfig struct {
	Core struct {
		StoreDir         string `gcfg:"store-dir"`
		ListenAddr       string `gcfg:"listen-addr"`
		HeartbeatTimeout int    `gcfg:"heartbeat-timeout-seconds"`
		CacheEntryTTL    int    `gcfg:"cache-entry-ttl-seconds"`
	}
	Remote map[string]*Remote `gcfg:"remote"`
	GC     struct {
		MaxAge   int `gcfg:"max-age-seconds"`
		MaxCount int `gcfg:"max-count"`
	}
}

// Config is the fully merged, typed configuration handed to the rest of
// tangram: no package outside internal/config parses INI or flags.
type Config struct {
	StoreDir         string
	ListenAddr       string
	HeartbeatTimeout time.Duration
	CacheEntryTTL    time.Duration
	Remotes          map[string]Remote
	GCMaxAge         time.Duration
	GCMaxCount       int
}

// Defaults returns tangram's built-in configuration, the bottom layer of
// the default < file < flags merge.
func Defaults() Config {
	return Config{
		StoreDir:         "/var/lib/tangram",
		ListenAddr:       ":7417",
		HeartbeatTimeout: 60 * time.Second,
		CacheEntryTTL:    24 * time.Hour,
		Remotes:          map[string]Remote{},
		GCMaxAge:         7 * 24 * time.Hour,
		GCMaxCount:       0,
	}
}

// Overrides is the flag layer, applied on top of defaults and file
// config; zero-value fields leave the lower layer untouched.
type Overrides struct {
	StoreDir         string
	ListenAddr       string
	HeartbeatTimeout time.Duration
	CacheEntryTTL    time.Duration
	GCMaxAge         time.Duration
	GCMaxCount       int
}

// Load reads path (if it exists) over Defaults(), then applies flags, and
// returns the merged Config. A missing file is not an error — Defaults()
// alone is a valid configuration for local/single-node use.
func Load(path string, flags Overrides) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var fc fileConfig
			if err := gcfg.ReadFileInto(&fc, path); err != nil {
				return Config{}, tgerror.Wrap(tgerror.Validation, err, "parsing config file %s", path)
			}
			applyFile(&cfg, &fc)
		} else if !os.IsNotExist(err) {
			return Config{}, tgerror.Wrap(tgerror.IO, err, "statting config file %s", path)
		}
	}

	overlay := Config{
		StoreDir:         flags.StoreDir,
		ListenAddr:       flags.ListenAddr,
		HeartbeatTimeout: flags.HeartbeatTimeout,
		CacheEntryTTL:    flags.CacheEntryTTL,
		GCMaxAge:         flags.GCMaxAge,
		GCMaxCount:       flags.GCMaxCount,
	}
	// mergo's WithOverride only overwrites cfg's fields where overlay's
	// corresponding field is non-zero, so unset flags fall through to
	// whatever Defaults()/the file already established.
	if err := mergo.Merge(&cfg, overlay, mergo.WithOverride); err != nil {
		return Config{}, tgerror.Wrap(tgerror.Internal, err, "merging config overrides")
	}
	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Core.StoreDir != "" {
		cfg.StoreDir = fc.Core.StoreDir
	}
	if fc.Core.ListenAddr != "" {
		cfg.ListenAddr = fc.Core.ListenAddr
	}
	if fc.Core.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = time.Duration(fc.Core.HeartbeatTimeout) * time.Second
	}
	if fc.Core.CacheEntryTTL > 0 {
		cfg.CacheEntryTTL = time.Duration(fc.Core.CacheEntryTTL) * time.Second
	}
	if fc.GC.MaxAge > 0 {
		cfg.GCMaxAge = time.Duration(fc.GC.MaxAge) * time.Second
	}
	if fc.GC.MaxCount > 0 {
		cfg.GCMaxCount = fc.GC.MaxCount
	}
	for name, r := range fc.Remote {
		cfg.Remotes[name] = *r
	}
}
