package datafeed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
	"github.com/dgnsrekt/tv_datafeed/internal/upstream"
)

// configuration is created once and only handed out through Clone.
var configuration = types.Configuration{
	SupportedResolutions: []string{"5", "10", "30", "60", "240", "D"},
	SupportsSearch:       true,
	SupportsTime:         true,
}

// Config returns a copy of the static datafeed configuration.
func Config() types.Configuration {
	return configuration.Clone()
}

const (
	sessionAlwaysOpen = "24x7"
	timezoneUTC       = "Etc/UTC"
	priceScale        = 100
	minMove           = 1
)

// SymbolSource is the market-data HTTP API.
type SymbolSource interface {
	Search(ctx context.Context, p upstream.SearchParams) ([]types.SymbolDescriptor, error)
	History(ctx context.Context, p upstream.HistoryParams) (*upstream.HistoryResponse, error)
}

// Streamer owns live sockets keyed by subscription guid.
type Streamer interface {
	Subscribe(ctx context.Context, guid, channelID string, onTick stream.TickFunc) error
	Unsubscribe(guid string) error
	List() []types.SubscriptionInfo
	Close() error
}

// Adapter implements the widget's datafeed operations on top of the
// market-data API. Each operation yields exactly one outcome: a value or an
// error.
type Adapter struct {
	source  SymbolSource
	streams Streamer
	now     func() time.Time
}

func NewAdapter(source SymbolSource, streams Streamer) *Adapter {
	return &Adapter{source: source, streams: streams, now: time.Now}
}

// Ready delivers the configuration on a later scheduling tick.
func (a *Adapter) Ready() <-chan types.Configuration {
	slog.Debug("datafeed: ready")
	ch := make(chan types.Configuration, 1)
	go func() {
		ch <- Config()
		close(ch)
	}()
	return ch
}

// SearchSymbols forwards the upstream search results untouched.
func (a *Adapter) SearchSymbols(ctx context.Context, query, exchange, symbolType string) ([]types.SymbolDescriptor, error) {
	slog.Debug("datafeed: search symbols", "query", query, "exchange", exchange, "type", symbolType)
	items, err := a.source.Search(ctx, upstream.SearchParams{
		Query:    strings.ToUpper(query),
		Type:     symbolType,
		Exchange: exchange,
		Limit:    upstream.SearchLimit,
	})
	if err != nil {
		return nil, classify("symbol search failed", err)
	}
	if items == nil {
		items = []types.SymbolDescriptor{}
	}
	return items, nil
}

// ResolveSymbol finds the record whose ticker equals ticker exactly.
func (a *Adapter) ResolveSymbol(ctx context.Context, ticker string) (types.SymbolInfo, error) {
	slog.Debug("datafeed: resolve symbol", "ticker", ticker)
	if strings.TrimSpace(ticker) == "" {
		return types.SymbolInfo{}, newError(CodeValidation, "ticker is required", nil)
	}

	items, err := a.source.Search(ctx, upstream.SearchParams{Query: ticker})
	if err != nil {
		return types.SymbolInfo{}, classify(MsgCannotResolve, err)
	}
	for _, item := range items {
		if item.Ticker != ticker {
			continue
		}
		return types.SymbolInfo{
			Ticker:               item.Ticker,
			Name:                 item.Symbol,
			Description:          item.Description,
			Type:                 item.Type,
			Session:              sessionAlwaysOpen,
			Timezone:             timezoneUTC,
			Exchange:             item.Exchange,
			ListedExchange:       item.Exchange,
			MinMov:               minMove,
			PriceScale:           priceScale,
			HasIntraday:          true,
			SupportedResolutions: Config().SupportedResolutions,
		}, nil
	}
	return types.SymbolInfo{}, newError(CodeSymbolNotFound, MsgCannotResolve, nil)
}

// EffectiveTo clamps a requested end time (unix seconds) to now.
func EffectiveTo(to int64, now time.Time) int64 {
	if nowSec := now.Unix(); to > nowSec {
		return nowSec
	}
	return to
}

// GetBars fetches history for symbol. A response whose status is not "ok"
// yields no bars and NoData, without an error. Failures carry an empty
// message, which is what the widget is shown.
func (a *Adapter) GetBars(ctx context.Context, symbol types.SymbolInfo, resolution string, period types.PeriodParams) ([]types.Bar, types.HistoryMeta, error) {
	slog.Debug("datafeed: get bars", "ticker", symbol.Ticker, "resolution", resolution, "from", period.From, "to", period.To)
	if symbol.Ticker == "" {
		return nil, types.HistoryMeta{}, newError(CodeValidation, "ticker is required", nil)
	}
	if !configuration.SupportsResolution(resolution) {
		return nil, types.HistoryMeta{}, newError(CodeValidation, "unsupported resolution "+resolution, nil)
	}

	resp, err := a.source.History(ctx, upstream.HistoryParams{
		Symbol:     symbol.Ticker,
		Resolution: resolution,
		From:       period.From,
		To:         EffectiveTo(period.To, a.now()),
	})
	if err != nil {
		return nil, types.HistoryMeta{}, classify("", err)
	}

	if !resp.OK() {
		meta := types.HistoryMeta{NoData: true}
		if resp != nil {
			meta.NextTime = resp.NextTime
		}
		return []types.Bar{}, meta, nil
	}

	bars, err := resp.Bars()
	if err != nil {
		return nil, types.HistoryMeta{}, classify("", err)
	}
	for i := range bars {
		if !bars[i].Valid() {
			slog.Debug("datafeed: bar outside high/low bounds", "ticker", symbol.Ticker, "bar", bars[i])
		}
	}
	return bars, types.HistoryMeta{NoData: false}, nil
}

// SubscribeBars opens a live channel for symbol and forwards each update to
// onTick. A symbol without a ticker is ignored.
func (a *Adapter) SubscribeBars(ctx context.Context, symbol types.SymbolInfo, resolution string, onTick stream.TickFunc, guid string) error {
	slog.Debug("datafeed: subscribe bars", "ticker", symbol.Ticker, "resolution", resolution, "guid", guid)
	if symbol.Ticker == "" {
		return nil
	}
	if strings.TrimSpace(guid) == "" {
		return newError(CodeValidation, "subscriber guid is required", nil)
	}
	if onTick == nil {
		return newError(CodeValidation, "tick callback is required", nil)
	}
	if !configuration.SupportsResolution(resolution) {
		return newError(CodeValidation, "unsupported resolution "+resolution, nil)
	}

	channelID, err := ChannelID(symbol.Ticker, resolution)
	if err != nil {
		return err
	}
	if err := a.streams.Subscribe(ctx, guid, channelID, onTick); err != nil {
		return classify("live subscription failed", err)
	}
	return nil
}

// UnsubscribeBars closes the live channel opened under guid.
func (a *Adapter) UnsubscribeBars(guid string) error {
	slog.Debug("datafeed: unsubscribe bars", "guid", guid)
	if err := a.streams.Unsubscribe(guid); err != nil {
		return classify("no subscription "+guid, err)
	}
	return nil
}

// Subscriptions lists the live channels.
func (a *Adapter) Subscriptions() []types.SubscriptionInfo {
	return a.streams.List()
}

// Close tears down every live channel.
func (a *Adapter) Close() error {
	return a.streams.Close()
}
