package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

const (
	udfStatusOK     = "ok"
	udfStatusNoData = "no_data"
	udfStatusError  = "error"
)

// udfError is the body the UDF bundle inspects for failures. The bundle
// reads "s" regardless of the HTTP status.
type udfError struct {
	S      string `json:"s"`
	ErrMsg string `json:"errmsg"`
}

// udfHistory is the columnar history response. Times are unix seconds.
type udfHistory struct {
	S        string    `json:"s"`
	NextTime *int64    `json:"nextTime,omitempty"`
	T        []int64   `json:"t,omitempty"`
	O        []float64 `json:"o,omitempty"`
	H        []float64 `json:"h,omitempty"`
	L        []float64 `json:"l,omitempty"`
	C        []float64 `json:"c,omitempty"`
	V        []float64 `json:"v,omitempty"`
}

func newUDFHistory(bars []types.Bar, meta types.HistoryMeta) udfHistory {
	if meta.NoData || len(bars) == 0 {
		return udfHistory{S: udfStatusNoData, NextTime: meta.NextTime}
	}
	out := udfHistory{
		S: udfStatusOK,
		T: make([]int64, len(bars)),
		O: make([]float64, len(bars)),
		H: make([]float64, len(bars)),
		L: make([]float64, len(bars)),
		C: make([]float64, len(bars)),
	}
	withVolume := bars[0].Volume != nil
	if withVolume {
		out.V = make([]float64, len(bars))
	}
	for i, b := range bars {
		out.T[i] = b.Time / 1000
		out.O[i] = b.Open
		out.H[i] = b.High
		out.L[i] = b.Low
		out.C[i] = b.Close
		if withVolume && b.Volume != nil {
			out.V[i] = *b.Volume
		}
	}
	return out
}

type udfSearchInput struct {
	Query    string `query:"query" doc:"Search text; upper-cased before the upstream call"`
	Type     string `query:"type"`
	Exchange string `query:"exchange"`
	Limit    int    `query:"limit" doc:"Ignored; the upstream limit is fixed at 30"`
}

type udfSymbolInput struct {
	Symbol string `query:"symbol" required:"true" example:"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2-eth_USD"`
}

type udfHistoryInput struct {
	Symbol           string `query:"symbol" required:"true"`
	Resolution       string `query:"resolution" required:"true" example:"5"`
	From             int64  `query:"from" doc:"Unix seconds"`
	To               int64  `query:"to" doc:"Unix seconds; clamped to now"`
	CountBack        int    `query:"countback"`
	FirstDataRequest bool   `query:"firstDataRequest"`
}

func registerUDFHandlers(router chi.Router, api huma.API, svc Service) {
	router.Get("/udf/time", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(strconv.FormatInt(time.Now().Unix(), 10))); err != nil {
			slog.Debug("time response write failed", "error", err)
		}
	})

	type configOutput struct {
		Body types.Configuration
	}
	huma.Register(api, huma.Operation{OperationID: "udf-config", Method: http.MethodGet, Path: "/udf/config", Summary: "Datafeed configuration", Tags: []string{"UDF"}},
		func(ctx context.Context, input *struct{}) (*configOutput, error) {
			select {
			case cfg := <-svc.Ready():
				return &configOutput{Body: cfg}, nil
			case <-ctx.Done():
				return nil, huma.Error503ServiceUnavailable("datafeed not ready")
			}
		})

	type searchOutput struct {
		Body []types.SymbolDescriptor
	}
	huma.Register(api, huma.Operation{OperationID: "udf-search", Method: http.MethodGet, Path: "/udf/search", Summary: "Search symbols", Tags: []string{"UDF"}},
		func(ctx context.Context, input *udfSearchInput) (*searchOutput, error) {
			results, err := svc.SearchSymbols(ctx, input.Query, input.Exchange, input.Type)
			if err != nil {
				return nil, mapErr(err)
			}
			return &searchOutput{Body: results}, nil
		})

	type symbolOutput struct {
		Status int
		Body   any
	}
	huma.Register(api, huma.Operation{OperationID: "udf-symbols", Method: http.MethodGet, Path: "/udf/symbols", Summary: "Resolve a symbol", Tags: []string{"UDF"}},
		func(ctx context.Context, input *udfSymbolInput) (*symbolOutput, error) {
			info, err := svc.ResolveSymbol(ctx, input.Symbol)
			if err != nil {
				status, msg := errorStatus(err)
				return &symbolOutput{Status: status, Body: udfError{S: udfStatusError, ErrMsg: msg}}, nil
			}
			return &symbolOutput{Status: http.StatusOK, Body: info}, nil
		})

	type historyOutput struct {
		Status int
		Body   any
	}
	huma.Register(api, huma.Operation{OperationID: "udf-history", Method: http.MethodGet, Path: "/udf/history", Summary: "Historical bars", Tags: []string{"UDF"}},
		func(ctx context.Context, input *udfHistoryInput) (*historyOutput, error) {
			symbol := types.SymbolInfo{Ticker: input.Symbol, Name: input.Symbol}
			period := types.PeriodParams{
				From:             input.From,
				To:               input.To,
				CountBack:        input.CountBack,
				FirstDataRequest: input.FirstDataRequest,
			}
			bars, meta, err := svc.GetBars(ctx, symbol, input.Resolution, period)
			if err != nil {
				status, msg := errorStatus(err)
				return &historyOutput{Status: status, Body: udfError{S: udfStatusError, ErrMsg: msg}}, nil
			}
			return &historyOutput{Status: http.StatusOK, Body: newUDFHistory(bars, meta)}, nil
		})
}
