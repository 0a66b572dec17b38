package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/gc"
)

func newCleanCmd() *cobra.Command {
	var cacheTTL, objectTTL, processTTL int64
	c := &cobra.Command{
		Use:   "clean",
		Short: "Run the garbage collector's three-pass sweep",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			report, err := a.collector.Run(cmd.Context(), gc.Options{
				Now:           nowUnix(),
				CacheEntryTTL: cacheTTL,
				ObjectTTL:     objectTTL,
				ProcessTTL:    processTTL,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}),
	}
	c.Flags().Int64Var(&cacheTTL, "cache-ttl-seconds", int64(24*60*60), "cache entry ttl before eviction")
	c.Flags().Int64Var(&objectTTL, "object-ttl-seconds", int64(7*24*60*60), "unreferenced object ttl before deletion")
	c.Flags().Int64Var(&processTTL, "process-ttl-seconds", int64(7*24*60*60), "finished process ttl before deletion")
	return c
}
