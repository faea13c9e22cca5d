package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show media cache statistics",
		Run:   runCacheStats,
	}

	cacheCmd.AddCommand(cmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := openCache(ctx)
	defer c.Shutdown(ctx)

	stats, err := c.Stats(ctx)
	if err != nil {
		exitCacheErr(c, "stats", err)
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
