// datafeedctl exercises the datafeed adapter from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/tv_datafeed/internal/config"
	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/upstream"
)

var (
	apiBaseURL string
	wsURL      string
	timeout    time.Duration
	verbose    bool
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "datafeedctl",
		Short: "Query the market-data API through the datafeed adapter",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api", cfg.APIBaseURL, "Market-data API base URL")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", cfg.WSURL, "Market-data WebSocket URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", cfg.HTTPTimeout(), "Upstream request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(barsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(pagecheckCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newAdapter() *datafeed.Adapter {
	client := upstream.NewClient(apiBaseURL, timeout)
	return datafeed.NewAdapter(client, stream.NewManager(wsURL, stream.WithDialTimeout(timeout)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
