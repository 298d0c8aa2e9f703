package cmd

import (
	"fmt"
	"time"

	"github.com/mizuki-ai/kaiwa/internal/cache"
	"github.com/mizuki-ai/kaiwa/internal/filelock"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale locks and expired cache entries",
	Long: `Clean up leftover state:
- Lock markers from processes that died mid-operation
- Cache registry entries whose provider-side cache has expired`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_, cfg, err := openStore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	log := newLogger(cfg)
	defer log.Close()

	removed, err := filelock.CleanStaleAll(cfg.SessionsDir())
	if err != nil {
		log.Warn("stale lock scan failed", "error", err)
		fmt.Fprintf(out, "Warning: failed to scan for stale locks: %v\n", err)
	}
	for _, marker := range removed {
		log.Info("removed stale lock", "resource", marker)
		fmt.Fprintf(out, "Removed stale lock %s\n", marker)
	}

	// The registry lock lives next to the registry file, outside the
	// sessions tree, so the directory sweep above never reaches it.
	regCleaned, err := filelock.CleanStale(cfg.CacheRegistryPath())
	if err != nil {
		return fmt.Errorf("failed to clear stale registry lock: %w", err)
	}
	if regCleaned {
		log.Info("removed stale lock", "resource", cfg.CacheRegistryPath())
		fmt.Fprintf(out, "Removed stale lock %s\n", cfg.CacheRegistryPath())
	}

	reg := cache.NewRegistry(cfg.CacheRegistryPath(), cfg.LockTimeout())
	pruned, err := reg.PruneExpired(time.Now())
	if err != nil {
		return fmt.Errorf("failed to prune cache registry: %w", err)
	}
	if pruned > 0 {
		log.Info("pruned expired cache entries", "count", pruned)
		fmt.Fprintf(out, "Pruned %d expired cache entries\n", pruned)
	}

	if len(removed) == 0 && !regCleaned && pruned == 0 {
		fmt.Fprintln(out, "Nothing to clean up")
	}
	return nil
}
