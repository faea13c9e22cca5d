package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/mediacache"
)

func init() {
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Delete every entry of a category",
		Run:   runCacheInvalidate,
	}
	invalidateCmd.Flags().StringP("category", "c", "", "Category (required)")
	invalidateCmd.MarkFlagRequired("category")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used entries over the quota",
		Run:   runCachePrune,
	}
	pruneCmd.Flags().Int("max-entries", mediacache.DefaultMaxEntries, "Entry quota")
	pruneCmd.Flags().Int("clear-buffer", mediacache.DefaultClearBuffer, "Extra entries evicted below the quota (0 uses the default)")

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete entries older than a maximum age",
		Run:   runCacheExpire,
	}
	expireCmd.Flags().String("max-age", "7d", "Maximum age (e.g. 7d, 24h, 30m)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		Run:   runCacheClear,
	}

	cacheCmd.AddCommand(invalidateCmd, pruneCmd, expireCmd, clearCmd)
}

// durableCache opens the cache and fails when the durable tier is missing,
// since maintenance has nothing to act on without it.
func durableCache(cmd *cobra.Command, cfg mediacache.Config) *mediacache.Cache {
	c := openCacheWith(cmd.Context(), cfg)
	if err := c.Initialize(cmd.Context()); err != nil {
		exitCacheErr(c, "open cache", err)
	}
	return c
}

func runCacheInvalidate(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	ctx := cmd.Context()
	c := durableCache(cmd, mediacache.Config{})
	defer c.Shutdown(ctx)

	n, err := c.InvalidateCategory(ctx, category)
	if err != nil {
		exitCacheErr(c, "invalidate", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"category":%q,"deleted":%d}`+"\n", category, n)
}

func runCachePrune(cmd *cobra.Command, args []string) {
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	clearBuffer, _ := cmd.Flags().GetInt("clear-buffer")
	ctx := cmd.Context()
	c := durableCache(cmd, mediacache.Config{MaxEntries: maxEntries, ClearBuffer: clearBuffer})
	defer c.Shutdown(ctx)

	n, err := c.EnforceQuota(ctx)
	if err != nil {
		exitCacheErr(c, "prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"evicted":%d}`+"\n", n)
}

func runCacheExpire(cmd *cobra.Command, args []string) {
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAge, err := parseDuration(maxAgeStr)
	if err != nil {
		exitErr("parse max-age", err)
	}
	ctx := cmd.Context()
	c := durableCache(cmd, mediacache.Config{})
	defer c.Shutdown(ctx)

	n, err := c.ExpireOlderThan(ctx, maxAge)
	if err != nil {
		exitCacheErr(c, "expire", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"expired":%d}`+"\n", n)
}

func runCacheClear(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := durableCache(cmd, mediacache.Config{})
	defer c.Shutdown(ctx)

	if err := c.ClearAll(ctx); err != nil {
		exitCacheErr(c, "clear", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
}
