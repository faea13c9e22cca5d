package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the media cache",
}

func init() {
	loadCmd := &cobra.Command{
		Use:   "load <url>",
		Short: "Resolve an image through the cache, fetching it on a miss",
		Args:  cobra.ExactArgs(1),
		Run:   runCacheLoad,
	}
	loadCmd.Flags().StringP("category", "c", model.MediaAvatar, "Category: avatar, gift, qrcode")
	loadCmd.Flags().StringP("out", "o", "", "Write the image bytes to this file")

	getCmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Show a cached entry without fetching",
		Args:  cobra.ExactArgs(1),
		Run:   runCacheGet,
	}
	getCmd.Flags().StringP("out", "o", "", "Write the image bytes to this file")

	cacheCmd.AddCommand(loadCmd, getCmd)
	RootCmd.AddCommand(cacheCmd)
}

type entryOutput struct {
	URL         string `json:"url"`
	Category    string `json:"category"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
}

func runCacheLoad(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	out, _ := cmd.Flags().GetString("out")
	ctx := cmd.Context()

	c := openCache(ctx)
	defer c.Shutdown(ctx)

	img := c.LoadImage(ctx, args[0], category)
	if img == nil {
		exitCacheErr(c, "load", fmt.Errorf("could not resolve %s", args[0]))
	}
	if out != "" {
		if err := os.WriteFile(out, img.Data, 0o644); err != nil {
			exitCacheErr(c, "write image", err)
		}
	}

	b, _ := json.Marshal(entryOutput{URL: img.URL, Category: img.Category, ContentType: img.ContentType, Size: len(img.Data)})
	fmt.Println(string(b))
}

func runCacheGet(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")
	ctx := cmd.Context()

	s := openInitializedStore(ctx)
	defer s.Close()

	e, err := s.Get(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		exitErr("get", fmt.Errorf("%s is not cached", args[0]))
	}
	if err != nil {
		exitErr("get", err)
	}
	if out != "" {
		if err := os.WriteFile(out, e.Data, 0o644); err != nil {
			exitErr("write image", err)
		}
	}

	b, _ := json.MarshalIndent(e, "", "  ")
	fmt.Println(string(b))
}
