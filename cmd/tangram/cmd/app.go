// Package cmd implements tangram's command-line surface (spec.md §6.4)
// using github.com/spf13/cobra's command-tree style, the ecosystem
// replacement for go-git's own bespoke os.Args-switch cli/go-git — too
// thin a pattern for twenty subcommands each with their own flag set.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/config"
	"github.com/tangramhq/tangram/internal/gc"
	"github.com/tangramhq/tangram/internal/index"
	"github.com/tangramhq/tangram/internal/messenger"
	"github.com/tangramhq/tangram/internal/pipe"
	"github.com/tangramhq/tangram/internal/process"
	"github.com/tangramhq/tangram/internal/reference"
	"github.com/tangramhq/tangram/internal/remote"
	"github.com/tangramhq/tangram/internal/remote/httpclient"
	"github.com/tangramhq/tangram/internal/remote/sshclient"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/store/fsstore"
)

// app bundles every long-lived collaborator a command might need, built
// once per invocation from the merged config (spec.md §9's "no ambient
// global" discipline extended to the CLI binary itself).
type app struct {
	cfg       config.Config
	store     store.Store
	index     *index.Index
	messenger *messenger.Messenger
	engine    *process.Engine
	pipes     *pipe.Registry
	remotes   *remote.Cache
	collector *gc.Collector
	resolver  *reference.Resolver
}

var (
	flagConfigPath string
	flagStoreDir   string
)

// newApp opens the store and index rooted at the merged configuration.
// Every subcommand calls this exactly once; nothing here is package-level
// state.
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfigPath, config.Overrides{StoreDir: flagStoreDir})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", cfg.StoreDir, err)
	}

	fs := osfs.New(filepath.Join(cfg.StoreDir, "store"))
	s, err := fsstore.New(fs)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(filepath.Join(cfg.StoreDir, "index.db"))
	if err != nil {
		return nil, err
	}

	m := messenger.New()
	pipes := pipe.NewRegistry()
	remotes := remote.NewCache()
	for name, r := range cfg.Remotes {
		switch r.Transport {
		case "ssh":
			remotes.Add(sshclient.New(name, r.Host, r.User, r.Port, ""))
		default:
			remotes.Add(httpclient.New(name, r.URL, r.Token, nil))
		}
	}

	resolver := &reference.Resolver{}

	engine := &process.Engine{
		Index:  idx,
		Store:  s,
		Runner: &process.ExecRunner{Store: s, TempDir: filepath.Join(cfg.StoreDir, "tmp")},
		Now:    nowUnix,
	}

	collector := &gc.Collector{Index: idx, Store: s}

	return &app{
		cfg:       cfg,
		store:     s,
		index:     idx,
		messenger: m,
		engine:    engine,
		pipes:     pipes,
		remotes:   remotes,
		collector: collector,
		resolver:  resolver,
	}, nil
}

func (a *app) Close() error {
	return a.index.Close()
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// Execute runs the root command.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tangram",
		Short: "Content-addressed build system",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to tangram config file")
	root.PersistentFlags().StringVar(&flagStoreDir, "store-dir", "", "override the configured store directory")

	root.AddCommand(
		newInitCmd(),
		newCheckinCmd(),
		newCheckoutCmd(),
		newCatCmd(),
		newBuildCmd(),
		newCheckCmd(),
		newChecksumCmd(),
		newCleanCmd(),
		newExportCmd(),
		newImportCmd(),
		newLogCmd(),
		newObjectCmd(),
		newProcessCmd(),
		newPushCmd(),
		newPullCmd(),
		newPutCmd(),
		newTagCmd(),
		newServerCmd(),
		newHealthCmd(),
		newCompletionCmd(),
	)
	return root
}

func withApp(run func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(a, cmd, args)
	}
}
