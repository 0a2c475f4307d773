package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/pagecheck"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the datafeed configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := newAdapter()
			defer adapter.Close()
			select {
			case cfg := <-adapter.Ready():
				return printJSON(cmd.OutOrStdout(), cfg)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
}

func searchCmd() *cobra.Command {
	var exchange, symbolType string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := newAdapter()
			defer adapter.Close()
			results, err := adapter.SearchSymbols(cmd.Context(), args[0], exchange, symbolType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "", "Exchange filter")
	cmd.Flags().StringVar(&symbolType, "type", "", "Symbol type filter")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ticker>",
		Short: "Resolve a ticker to its symbol info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := newAdapter()
			defer adapter.Close()
			info, err := adapter.ResolveSymbol(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

type barsResult struct {
	Ticker string            `json:"ticker"`
	Bars   []types.Bar       `json:"bars"`
	Meta   types.HistoryMeta `json:"meta"`
	Error  string            `json:"error,omitempty"`
}

func barsCmd() *cobra.Command {
	var (
		resolution string
		lookback   time.Duration
		parallel   int
	)
	cmd := &cobra.Command{
		Use:   "bars <ticker> [ticker...]",
		Short: "Fetch historical bars for one or more tickers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := newAdapter()
			defer adapter.Close()

			now := time.Now()
			period := types.PeriodParams{From: now.Add(-lookback).Unix(), To: now.Unix(), FirstDataRequest: true}
			results := make([]barsResult, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for i, ticker := range args {
				g.Go(func() error {
					bars, meta, err := adapter.GetBars(ctx, types.SymbolInfo{Ticker: ticker}, resolution, period)
					res := barsResult{Ticker: ticker, Bars: bars, Meta: meta}
					if err != nil {
						// One bad ticker should not cancel the others.
						res.Error = err.Error()
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "60", "Bar resolution ("+strings.Join(datafeed.Config().SupportedResolutions, ", ")+")")
	cmd.Flags().DurationVar(&lookback, "lookback", 24*time.Hour, "How far back to fetch")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "Concurrent history requests")
	return cmd
}

func watchCmd() *cobra.Command {
	var resolution string
	cmd := &cobra.Command{
		Use:   "watch <ticker>",
		Short: "Stream live bars until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := newAdapter()
			defer adapter.Close()

			out := cmd.OutOrStdout()
			ticks := make(chan types.Bar, 64)
			onTick := func(bar types.Bar) {
				select {
				case ticks <- bar:
				default:
				}
			}
			guid := "datafeedctl-" + args[0]
			if err := adapter.SubscribeBars(cmd.Context(), types.SymbolInfo{Ticker: args[0]}, resolution, onTick, guid); err != nil {
				return err
			}
			defer func() {
				if err := adapter.UnsubscribeBars(guid); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "unsubscribe: %v\n", err)
				}
			}()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case bar := <-ticks:
					if err := printJSON(out, bar); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "5", "Bar resolution")
	return cmd
}

func pagecheckCmd() *cobra.Command {
	var (
		pageURL   string
		cdpURL    string
		waitLimit time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pagecheck",
		Short: "Load the host page in a headless browser and report whether the chart mounted",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := pagecheck.Check(cmd.Context(), pagecheck.Options{PageURL: pageURL, CDPURL: cdpURL, Timeout: waitLimit})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("chart did not mount at %s", pageURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "http://127.0.0.1:8190/", "Host page URL")
	cmd.Flags().StringVar(&cdpURL, "cdp", "", "Attach to a running browser's DevTools URL instead of launching one")
	cmd.Flags().DurationVar(&waitLimit, "wait", 30*time.Second, "How long to wait for the chart to mount")
	return cmd
}
