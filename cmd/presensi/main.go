// Package main is the entry point for the presensi attendance server.
//
// presensi tracks daily check-in and check-out of study club members. It
// serves a JSON HTTP API with a live WebSocket feed for admins, and doubles
// as a command line client acting on a single persisted session.
// Configuration is read from CLI flags, a .env file and config.json.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/auth"
	"github.com/soc-club/presensi/internal/config"
	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/live"
	"github.com/soc-club/presensi/internal/server"
	"github.com/soc-club/presensi/internal/server/handlers"
	"github.com/soc-club/presensi/internal/storage"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "presensi: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	storeKind := flag.String("store", "file", "Key-value backend (file, redis, memory)")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis address when -store=redis")
	seedPath := flag.String("seed", "", "YAML seed file used when the store is empty (default: built-in demo data)")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd != "serve" && !isCommand(cmd) {
		return fmt.Errorf("unknown command %q; see -help", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(os.Stderr, ll))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	// Override with .env file values if not explicitly set via flags
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	for name, p := range map[string]*string{
		"http":       httpAddr,
		"log-level":  logLevel,
		"store":      storeKind,
		"redis-addr": redisAddr,
		"seed":       seedPath,
	} {
		if !set[name] {
			if v := env[strings.ToUpper(strings.ReplaceAll(name, "-", "_"))]; v != "" {
				*p = v
			}
		}
	}
	if err := setLevel(ll, *logLevel); err != nil {
		return err
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", config.FileName, err)
	}
	b, err := openBackend(ctx, *storeKind, *dataDir, *redisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	var seed *storage.Seed
	if *seedPath != "" {
		if seed, err = storage.LoadSeed(*seedPath); err != nil {
			return err
		}
	}
	st, err := storage.Open(ctx, kvstore.New(b), storage.Options{Seed: seed, Latency: cfg.Latency.D()})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if cmd != "serve" {
		a := newApp(cfg, st, os.Stdout, os.Stdin)
		return a.run(ctx, cmd, args)
	}
	return serve(ctx, stop, *httpAddr, cfg, st, *storeKind, b)
}

func serve(ctx context.Context, stop context.CancelFunc, addr string, cfg *config.Config, st *storage.Store, storeKind string, b backend) error {
	// Normalize addr: ":8080" becomes "localhost:8080"
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	hub := live.NewHub()
	defer hub.Close()
	metrics := server.NewMetrics()
	buildVersion, _, _, _ := getBuildInfo()
	svc := &handlers.Services{
		Auth:   auth.NewManager(st, cfg.Latency.D()),
		Issuer: auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL.D()),
		Attendance: attendance.New(st,
			attendance.WithLocation(cfg.Location()),
			attendance.WithNotifier(hub),
			attendance.WithNotifier(metrics)),
		Hub:     hub,
		Store:   storeKind,
		Healthy: b.Healthy,
		Version: buildVersion,
	}
	srv := server.New(svc, cfg, metrics)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "store", storeKind, "tz", cfg.Timezone, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	// Wait for either context cancellation or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		// Graceful shutdown
		slog.InfoContext(ctx, "Shutting down server")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// backend is a kvstore.Backend that can be probed and released.
type backend interface {
	kvstore.Backend
	Healthy(ctx context.Context) bool
	io.Closer
}

type redisBackend struct {
	*kvstore.RedisBackend
	io.Closer
}

type localBackend struct {
	kvstore.Backend
}

func (localBackend) Healthy(context.Context) bool { return true }
func (localBackend) Close() error                 { return nil }

func openBackend(ctx context.Context, kind, dataDir, redisAddr string) (backend, error) {
	switch kind {
	case "file":
		d, err := kvstore.NewDirBackend(filepath.Join(dataDir, "kv"))
		if err != nil {
			return nil, err
		}
		return localBackend{d}, nil
	case "memory":
		return localBackend{kvstore.NewMemoryBackend()}, nil
	case "redis":
		client := kvstore.NewRedisClient(redisAddr)
		r := kvstore.NewRedisBackend(client, "presensi:")
		if !r.Healthy(ctx) {
			_ = client.Close()
			return nil, fmt.Errorf("redis at %s is not reachable", redisAddr)
		}
		return redisBackend{RedisBackend: r, Closer: client}, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want file, redis or memory)", kind)
	}
}

// newLogger returns a colored handler when w is a terminal. Empty attributes
// are dropped, as are timestamps under systemd, which adds its own.
func newLogger(w *os.File, level slog.Leveler) *slog.Logger {
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(w), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(w.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case uint64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func setLevel(ll *slog.LevelVar, level string) error {
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	return nil
}

// loadDotEnv reads dataDir/.env. A missing file is not an error.
func loadDotEnv(dataDir string) (map[string]string, error) {
	env, err := godotenv.Read(filepath.Join(dataDir, ".env"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return env, nil
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: presensi [flags] [command [args]]\n\ncommands:\n")
	fmt.Fprintf(out, "  %-28s %s\n", "serve", "run the HTTP server (default)")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-28s %s\n", c.name+" "+c.args, c.help)
	}
	fmt.Fprintf(out, "\nflags:\n")
	flag.PrintDefaults()
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("presensi %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
