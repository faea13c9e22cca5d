package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/monitor"
	"github.com/rcliao/danmaku-monitor/internal/view"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed recorded raw events from stdin through the buffers",
		Long: "Read newline-delimited raw events from stdin, ingest them through the " +
			"same path as the live feed, and print each category's visible window.",
		Run: runReplay,
	}
	cmd.Flags().Int("max-render", view.DefaultConfig().MaxRender, "Events shown per category")

	RootCmd.AddCommand(cmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	maxRender, _ := cmd.Flags().GetInt("max-render")

	sess := monitor.NewSession(monitor.Config{
		Window: view.Config{MaxRender: maxRender},
		Logger: slog.Default(),
	})
	res, err := replay(os.Stdin, sess)
	if err != nil {
		exitErr("replay", err)
	}
	slog.Info("replay finished", "ingested", res.Ingested, "skipped", res.Skipped)

	if err := writeWindows(os.Stdout, sess, formatFlag); err != nil {
		exitErr("write output", err)
	}
}

type replayResult struct {
	Ingested int
	Skipped  int
}

// replay ingests one raw event per line. Lines that are not valid events are
// counted and skipped.
func replay(r io.Reader, sess *monitor.Session) (replayResult, error) {
	var res replayResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var raw model.RawEvent
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			slog.Debug("skip line", "error", err)
			res.Skipped++
			continue
		}
		if _, err := sess.Ingest(raw); err != nil {
			slog.Debug("skip event", "error", err)
			res.Skipped++
			continue
		}
		res.Ingested++
	}
	return res, sc.Err()
}

// writeWindows prints the visible window of every category.
func writeWindows(w io.Writer, sess *monitor.Session, format string) error {
	if format == "json" {
		out := make(map[model.Category][]model.Event, len(model.Categories))
		for _, cat := range model.Categories {
			visible := sess.Window(cat).Visible()
			if visible == nil {
				visible = []model.Event{}
			}
			out[cat] = visible
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	for _, cat := range model.Categories {
		s := sess.Window(cat).Current()
		fmt.Fprintf(w, "== %s (%d of %d) ==\n", cat, s.Count, sess.Buffer(cat).Len())
		for _, e := range sess.Window(cat).Visible() {
			if err := writeEvent(w, e, format); err != nil {
				return err
			}
		}
	}
	return nil
}
