package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/feed"
	"github.com/rcliao/danmaku-monitor/internal/mediacache"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/monitor"
	"github.com/rcliao/danmaku-monitor/internal/stream"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch <room_id>",
		Short: "Follow a room's live feed",
		Long: "Connect to a room, merge its retained history, then print live chat, " +
			"gifts and paid messages as they arrive. Avatars are cached in the background.",
		Args: cobra.ExactArgs(1),
		Run:  runWatch,
	}
	cmd.Flags().StringP("user-name", "u", "", "Account name passed to the server")
	cmd.Flags().Int("history-limit", feed.DefaultHistoryLimit, "History records per category")
	cmd.Flags().Bool("no-avatars", false, "Do not cache avatars")
	cmd.Flags().Bool("reconnect", false, "Reconnect when the feed drops")
	cmd.Flags().Duration("reconnect-delay", 3*time.Second, "Delay between reconnect attempts")

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	roomID := args[0]
	userName, _ := cmd.Flags().GetString("user-name")
	historyLimit, _ := cmd.Flags().GetInt("history-limit")
	noAvatars, _ := cmd.Flags().GetBool("no-avatars")
	reconnect, _ := cmd.Flags().GetBool("reconnect")
	delay, _ := cmd.Flags().GetDuration("reconnect-delay")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := monitor.Config{HistoryLimit: historyLimit, Logger: slog.Default()}
	var cache *mediacache.Cache
	if !noAvatars {
		cache = openCache(ctx)
		cfg.Cache = cache
	}
	sess := monitor.NewSession(cfg)
	unsubscribe := printFeed(sess, formatFlag)

	server := getServer()
	err := watchRoom(ctx, sess, roomID, userName, feed.NewHistoryClient(server),
		feed.NewClient(server, slog.Default()), reconnect, delay)
	unsubscribe()
	if cache != nil {
		cache.Shutdown(context.Background())
	}
	if err != nil {
		exitErr("watch", err)
	}
}

// watchRoom runs the session until ctx is done. Without reconnect the first
// feed error is returned; with it the session is restarted after delay.
func watchRoom(ctx context.Context, sess *monitor.Session, roomID, userName string,
	hist monitor.HistorySource, src monitor.FeedSource, reconnect bool, delay time.Duration) error {
	for {
		err := sess.Run(ctx, roomID, userName, hist, src)
		if ctx.Err() != nil {
			return nil
		}
		if !reconnect {
			return err
		}
		slog.Warn("feed dropped, reconnecting", "room_id", roomID, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// printFeed writes every appended event to stdout and, when history is
// merged, the category's visible window. It returns a function that stops
// printing.
func printFeed(sess *monitor.Session, format string) func() {
	var mu sync.Mutex
	var unsubs []func()
	for _, cat := range model.Categories {
		buf := sess.Buffer(cat)
		win := sess.Window(cat)
		unsubs = append(unsubs, buf.Subscribe(func(c stream.Change) {
			mu.Lock()
			defer mu.Unlock()
			switch c.Kind {
			case stream.ChangeAppend:
				for _, e := range buf.Slice(c.Len-1, c.Len) {
					writeEvent(os.Stdout, e, format)
				}
			case stream.ChangePrepend:
				for _, e := range win.Visible() {
					writeEvent(os.Stdout, e, format)
				}
			case stream.ChangeClear:
				slog.Debug("buffer cleared", "category", buf.Category())
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
