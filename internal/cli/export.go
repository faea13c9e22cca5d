package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/store"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export cached entries as JSON",
		Long:  "Export cached entries, with base64 image data, as a JSON array. Filter by category with -c.",
		Run:   runCacheExport,
	}
	exportCmd.Flags().StringP("category", "c", "", "Filter by category")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import cached entries from JSON",
		Long:  "Import entries from stdin in the format produced by export. URLs already cached are skipped.",
		Run:   runCacheImport,
	}

	cacheCmd.AddCommand(exportCmd, importCmd)
}

func runCacheExport(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	ctx := cmd.Context()

	s := openInitializedStore(ctx)
	defer s.Close()

	entries, err := store.ExportAll(ctx, s, category)
	if err != nil {
		exitErr("export", err)
	}
	if entries == nil {
		entries = []store.ExportedEntry{}
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}

func runCacheImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var entries []store.ExportedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	ctx := cmd.Context()
	s := openInitializedStore(ctx)
	defer s.Close()

	imported, err := store.Import(ctx, s, entries)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", imported)
}
