package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// 💾 cache 命令
// =============================================================================

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the dependency cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove expired and corrupt cache entries",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.openCache()
			if err != nil {
				return err
			}
			if mgr == nil {
				return invalid(fmt.Errorf("cache is disabled (cache.enabled)"))
			}
			removed, err := mgr.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "removed %d cache entries from %s\n", removed, a.cfg.Cache.Dir)
			return nil
		},
	})
	return cmd
}
