package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tv_datafeed/internal/api"
	"github.com/dgnsrekt/tv_datafeed/internal/config"
	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/hostpage"
	"github.com/dgnsrekt/tv_datafeed/internal/netutil"
	"github.com/dgnsrekt/tv_datafeed/internal/notify"
	"github.com/dgnsrekt/tv_datafeed/internal/relay"
	"github.com/dgnsrekt/tv_datafeed/internal/storage"
	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tv_datafeed config loaded",
		"api_base_url", cfg.APIBaseURL,
		"ws_url", cfg.WSURL,
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"http_timeout_ms", cfg.HTTPTimeoutMS,
		"upstream_rps", cfg.UpstreamRPS,
		"static_dir", cfg.StaticDir,
		"page_config", cfg.PageConfigPath,
		"record_dir", cfg.RecordDir,
		"ntfy", cfg.NtfyURL != "",
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	pageOpts, err := config.LoadPageOptions(cfg.PageConfigPath, hostpage.DefaultOptions())
	if err != nil {
		slog.Error("failed to load page options", "path", cfg.PageConfigPath, "error", err)
		os.Exit(1)
	}

	candidates, err := netutil.CandidateAddrs(cfg.BindAddr, cfg.PortCandidates)
	if err != nil {
		slog.Error("invalid bind address", "bind_addr", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	ln, err := netutil.Listen(cfg.BindAddr, candidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	broker := relay.NewBroker()
	dropHandlers := []stream.DropFunc{api.DropPublisher(broker)}
	if cfg.NtfyURL != "" {
		dropHandlers = append(dropHandlers, notify.New(cfg.NtfyURL, &http.Client{Timeout: cfg.HTTPTimeout()}).StreamDropped)
	}

	streamOpts := []stream.Option{
		stream.WithDialTimeout(cfg.HTTPTimeout()),
		stream.WithDropHandler(func(guid, channelID string, err error) {
			slog.Warn("live subscription dropped", "guid", guid, "channel_id", channelID, "error", err)
			for _, h := range dropHandlers {
				h(guid, channelID, err)
			}
		}),
	}
	var recorder *storage.Recorder
	if cfg.RecordDir != "" {
		recorder = storage.NewRecorder(cfg.RecordDir, "ticks", 5000, 100)
		streamOpts = append(streamOpts, stream.WithSink(recorder))
	}

	var clientOpts []upstream.Option
	if cfg.UpstreamRPS > 0 {
		clientOpts = append(clientOpts, upstream.WithRateLimit(cfg.UpstreamRPS, 1))
	}
	source := upstream.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout(), clientOpts...)
	adapter := datafeed.NewAdapter(source, stream.NewManager(cfg.WSURL, streamOpts...))

	h := api.NewServer(adapter, api.Options{Page: pageOpts, StaticDir: cfg.StaticDir, Broker: broker})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Request contexts derive from connCtx so open SSE streams end on shutdown.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("tv_datafeed listening", "addr", bindAddr, "chart", "http://"+bindAddr+"/", "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cancelConns()
		if err := adapter.Close(); err != nil {
			slog.Warn("closing live subscriptions failed", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("tv_datafeed stopped with error", "error", err)
	}
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			slog.Debug("recorder close failed", "error", err)
		}
	}
	slog.Info("tv_datafeed stopped")
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
