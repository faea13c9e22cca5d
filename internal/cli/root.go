// Package cli implements the danmaku-monitor CLI commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/danmaku-monitor/internal/feed"
	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/mediacache"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/store"
)

const defaultServer = "http://localhost:8000/api/v1"

var (
	dbPath        string
	backendFlag   string
	redisAddr     string
	redisPassword string
	serverURL     string
	formatFlag    string
	logLevel      string
	logFormat     string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "danmaku-monitor",
	Short: "Terminal monitor for a live room's chat, gifts and paid messages",
	Long: "Follow a live room's event feed with bounded per-category buffers, " +
		"and manage the local cache of avatars, gift icons and QR codes.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{Level: logLevel, Format: logFormat})
	},
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&dbPath, "db", "d", "", "Media cache path (default: $DANMAKU_MONITOR_DB or ~/.danmaku-monitor/media.db)")
	pf.StringVar(&backendFlag, "backend", "", "Media cache backend: sqlite or redis (default: $DANMAKU_MONITOR_BACKEND or sqlite)")
	pf.StringVar(&redisAddr, "redis-addr", "", "Redis address for the redis backend (default: $DANMAKU_MONITOR_REDIS_ADDR)")
	pf.StringVar(&redisPassword, "redis-password", "", "Redis password (default: $DANMAKU_MONITOR_REDIS_PASSWORD)")
	pf.StringVar(&serverURL, "server", "", "API base URL (default: $DANMAKU_MONITOR_SERVER or "+defaultServer+")")
	pf.StringVarP(&formatFlag, "format", "f", "text", "Event output format: json or text")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "Log format: json or text")
}

func flagOrEnv(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("DANMAKU_MONITOR_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".danmaku-monitor", "media.db")
}

func getServer() string {
	return strings.TrimRight(flagOrEnv(serverURL, "DANMAKU_MONITOR_SERVER", defaultServer), "/")
}

func getBackend() string {
	return strings.ToLower(strings.TrimSpace(flagOrEnv(backendFlag, "DANMAKU_MONITOR_BACKEND", "sqlite")))
}

// openStore returns the durable tier selected by --backend. It is not yet
// initialized.
func openStore() (store.Store, error) {
	switch getBackend() {
	case "sqlite", "":
		return store.NewSQLiteStore(getDBPath())
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Addr:     flagOrEnv(redisAddr, "DANMAKU_MONITOR_REDIS_ADDR", ""),
			Password: flagOrEnv(redisPassword, "DANMAKU_MONITOR_REDIS_PASSWORD", ""),
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (use sqlite or redis)", getBackend())
	}
}

// openInitializedStore opens and initializes the durable tier for the
// maintenance commands that work on it directly.
func openInitializedStore(ctx context.Context) store.Store {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	if err := s.Init(ctx); err != nil {
		s.Close()
		exitErr("init store", err)
	}
	return s
}

// openCache builds the media cache with default tunables.
func openCache(ctx context.Context) *mediacache.Cache {
	return openCacheWith(ctx, mediacache.Config{})
}

// openCacheWith builds the media cache from cfg's tunables. A store that
// cannot be opened leaves the cache in pass-through mode.
func openCacheWith(ctx context.Context, cfg mediacache.Config) *mediacache.Cache {
	logger := slog.Default()
	s, err := openStore()
	if err != nil {
		logger.Warn("media store unavailable, caching disabled", "error", err)
	} else {
		cfg.Store = s
	}
	cfg.Fetcher = mediacache.NewHTTPFetcher(feed.NewProxyRewriter(getServer()).Rewrite)
	cfg.SingletonCategories = []string{model.MediaQRCode}
	cfg.Logger = logger

	c := mediacache.New(cfg)
	c.Initialize(ctx)
	return c
}

// exitCacheErr shuts the cache down, flushing pending writes, before exiting.
func exitCacheErr(c *mediacache.Cache, msg string, err error) {
	c.Shutdown(context.Background())
	exitErr(msg, err)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
