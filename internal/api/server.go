package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/hostpage"
	"github.com/dgnsrekt/tv_datafeed/internal/relay"
	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

// Service is the datafeed surface the server exposes. *datafeed.Adapter
// satisfies it.
type Service interface {
	Ready() <-chan types.Configuration
	SearchSymbols(ctx context.Context, query, exchange, symbolType string) ([]types.SymbolDescriptor, error)
	ResolveSymbol(ctx context.Context, ticker string) (types.SymbolInfo, error)
	GetBars(ctx context.Context, symbol types.SymbolInfo, resolution string, period types.PeriodParams) ([]types.Bar, types.HistoryMeta, error)
	SubscribeBars(ctx context.Context, symbol types.SymbolInfo, resolution string, onTick stream.TickFunc, guid string) error
	UnsubscribeBars(guid string) error
	Subscriptions() []types.SubscriptionInfo
}

// Options configures the non-API parts of the server.
type Options struct {
	Page      hostpage.Options
	StaticDir string
	Broker    *relay.Broker
}

func NewServer(svc Service, opts Options) http.Handler {
	if opts.Broker == nil {
		opts.Broker = relay.NewBroker()
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("TradingView Datafeed API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", promhttp.Handler())

	registerPageHandlers(router, opts.Page, opts.StaticDir)
	registerUDFHandlers(router, api, svc)
	registerStreamHandlers(router, svc, opts.Broker)
	registerSubscriptionHandlers(api, svc, opts.Broker)
	registerHealthHandlers(api)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *datafeed.CodedError
	if errors.As(err, &coded) {
		return huma.NewError(statusFor(coded.Code), coded.Message)
	}
	return huma.Error500InternalServerError(err.Error())
}

// statusFor maps an error code to the HTTP status used for it on every
// surface, huma and plain handlers alike.
func statusFor(code string) int {
	switch code {
	case datafeed.CodeValidation:
		return http.StatusBadRequest
	case datafeed.CodeSymbolNotFound, datafeed.CodeSubscriptionNotFound:
		return http.StatusNotFound
	case datafeed.CodeUnknownNetwork:
		return http.StatusUnprocessableEntity
	case datafeed.CodeUpstreamUnavailable, datafeed.CodeUpstreamBadResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorStatus returns the status and widget-facing message for err.
func errorStatus(err error) (int, string) {
	var coded *datafeed.CodedError
	if errors.As(err, &coded) {
		return statusFor(coded.Code), coded.Message
	}
	return http.StatusInternalServerError, fmt.Sprintf("internal error: %v", err)
}
