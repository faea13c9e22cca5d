package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/store"
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entries, most recently accessed first",
		Run:   runCacheList,
	}
	listCmd.Flags().StringP("category", "c", "", "Filter by category")
	listCmd.Flags().IntP("limit", "l", 20, "Max results")
	listCmd.Flags().Bool("urls-only", false, "Only output URLs")

	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories with entry counts",
		Run:   runCacheCategories,
	}

	cacheCmd.AddCommand(listCmd, categoriesCmd)
}

func runCacheList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	urlsOnly, _ := cmd.Flags().GetBool("urls-only")
	ctx := cmd.Context()

	s := openInitializedStore(ctx)
	defer s.Close()

	entries, err := s.List(ctx, store.ListParams{Category: category, Limit: limit})
	if err != nil {
		exitErr("list", err)
	}

	if urlsOnly {
		for _, e := range entries {
			fmt.Println(e.URL)
		}
		return
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}

func runCacheCategories(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	s := openInitializedStore(ctx)
	defer s.Close()

	st, err := s.Stats(ctx)
	if err != nil {
		exitErr("list categories", err)
	}

	rows := st.Categories
	if rows == nil {
		rows = []store.CategoryStats{}
	}
	b, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(b))
}
