package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/hostpage"
	"github.com/dgnsrekt/tv_datafeed/internal/relay"
	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

type stubService struct {
	mu sync.Mutex

	searchArgs []string
	searchOut  []types.SymbolDescriptor
	resolveErr error
	bars       []types.Bar
	meta       types.HistoryMeta
	barsErr    error
	barsArgs   struct {
		symbol     string
		resolution string
		period     types.PeriodParams
	}
	subscribeErr   error
	onTick         stream.TickFunc
	subscribed     chan string
	unsubscribed   chan string
	unsubscribeErr error
	subs           []types.SubscriptionInfo
}

func newStubService() *stubService {
	return &stubService{
		subscribed:   make(chan string, 4),
		unsubscribed: make(chan string, 4),
	}
}

func (s *stubService) Ready() <-chan types.Configuration {
	ch := make(chan types.Configuration, 1)
	ch <- datafeed.Config()
	return ch
}

func (s *stubService) SearchSymbols(ctx context.Context, query, exchange, symbolType string) ([]types.SymbolDescriptor, error) {
	s.searchArgs = []string{query, exchange, symbolType}
	return s.searchOut, nil
}

func (s *stubService) ResolveSymbol(ctx context.Context, ticker string) (types.SymbolInfo, error) {
	if s.resolveErr != nil {
		return types.SymbolInfo{}, s.resolveErr
	}
	return types.SymbolInfo{Ticker: ticker, Name: ticker, Session: "24x7", PriceScale: 100, MinMov: 1}, nil
}

func (s *stubService) GetBars(ctx context.Context, symbol types.SymbolInfo, resolution string, period types.PeriodParams) ([]types.Bar, types.HistoryMeta, error) {
	s.barsArgs.symbol = symbol.Ticker
	s.barsArgs.resolution = resolution
	s.barsArgs.period = period
	return s.bars, s.meta, s.barsErr
}

func (s *stubService) SubscribeBars(ctx context.Context, symbol types.SymbolInfo, resolution string, onTick stream.TickFunc, guid string) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.mu.Lock()
	s.onTick = onTick
	s.mu.Unlock()
	s.subscribed <- guid
	return nil
}

func (s *stubService) UnsubscribeBars(guid string) error {
	if s.unsubscribeErr != nil {
		return s.unsubscribeErr
	}
	s.unsubscribed <- guid
	return nil
}

func (s *stubService) Subscriptions() []types.SubscriptionInfo { return s.subs }

func (s *stubService) tick(bar types.Bar) {
	s.mu.Lock()
	fn := s.onTick
	s.mu.Unlock()
	fn(bar)
}

func newTestServer(svc Service) http.Handler {
	return NewServer(svc, Options{Page: hostpage.DefaultOptions(), Broker: relay.NewBroker()})
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, newTestServer(newStubService()), http.MethodGet, "/docs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestHostPage(t *testing.T) {
	w := do(t, newTestServer(newStubService()), http.MethodGet, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2-eth_USD") {
		t.Fatalf("host page missing default symbol")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(newStubService())
	for _, path := range []string{"/healthz", "/metrics", "/openapi.json"} {
		if w := do(t, h, http.MethodGet, path); w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, w.Code)
		}
	}
}

func TestUDFConfigAndTime(t *testing.T) {
	h := newTestServer(newStubService())

	cfg := decode[types.Configuration](t, do(t, h, http.MethodGet, "/udf/config"))
	if strings.Join(cfg.SupportedResolutions, ",") != "5,10,30,60,240,D" || !cfg.SupportsSearch || !cfg.SupportsTime {
		t.Fatalf("config = %+v", cfg)
	}

	w := do(t, h, http.MethodGet, "/udf/time")
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("content-type = %q", ct)
	}
	if got := strings.TrimSpace(w.Body.String()); len(got) < 10 {
		t.Fatalf("time = %q", got)
	}
}

func TestUDFSearch(t *testing.T) {
	svc := newStubService()
	svc.searchOut = []types.SymbolDescriptor{{Symbol: "WETH", Ticker: "0xabc-eth_USD"}}
	h := newTestServer(svc)

	got := decode[[]types.SymbolDescriptor](t, do(t, h, http.MethodGet, "/udf/search?query=weth&exchange=uni&type=crypto&limit=5"))
	if len(got) != 1 || got[0].Ticker != "0xabc-eth_USD" {
		t.Fatalf("results = %+v", got)
	}
	if strings.Join(svc.searchArgs, "|") != "weth|uni|crypto" {
		t.Fatalf("search args = %v", svc.searchArgs)
	}
}

func TestUDFSearchKeepsUnnamedFields(t *testing.T) {
	svc := newStubService()
	if err := json.Unmarshal([]byte(`[{"symbol":"WETH","ticker":"0xabc-eth_USD","exchange_logo":"x.png","logo_urls":["a"]}]`), &svc.searchOut); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	h := newTestServer(svc)

	w := do(t, h, http.MethodGet, "/udf/search?query=weth")
	body := w.Body.String()
	for _, want := range []string{`"exchange_logo":"x.png"`, `"logo_urls":["a"]`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body = %s; missing %s", body, want)
		}
	}
	if strings.Contains(body, "full_name") {
		t.Fatalf("body = %s; added full_name", body)
	}
}

func TestUDFSymbols(t *testing.T) {
	svc := newStubService()
	h := newTestServer(svc)

	info := decode[types.SymbolInfo](t, do(t, h, http.MethodGet, "/udf/symbols?symbol=0xabc-eth_USD"))
	if info.Ticker != "0xabc-eth_USD" || info.PriceScale != 100 {
		t.Fatalf("info = %+v", info)
	}

	svc.resolveErr = &datafeed.CodedError{Code: datafeed.CodeSymbolNotFound, Message: datafeed.MsgCannotResolve}
	w := do(t, h, http.MethodGet, "/udf/symbols?symbol=0xdead-eth_USD")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	body := decode[udfError](t, w)
	if body.S != "error" || body.ErrMsg != "Cannot resolve symbol" {
		t.Fatalf("body = %+v", body)
	}
}

func TestUDFHistory(t *testing.T) {
	vol := 7.0
	svc := newStubService()
	svc.bars = []types.Bar{
		{Time: 1000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: &vol},
		{Time: 2000000, Open: 1.5, High: 3, Low: 1, Close: 2.5},
	}
	h := newTestServer(svc)

	w := do(t, h, http.MethodGet, "/udf/history?symbol=0xabc-eth_USD&resolution=60&from=100&to=200&countback=300")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[udfHistory](t, w)
	if got.S != "ok" || len(got.T) != 2 || got.T[0] != 1000 || got.T[1] != 2000 {
		t.Fatalf("history = %+v", got)
	}
	if got.C[1] != 2.5 || got.V[0] != 7 || got.V[1] != 0 {
		t.Fatalf("history = %+v", got)
	}
	if svc.barsArgs.symbol != "0xabc-eth_USD" || svc.barsArgs.resolution != "60" {
		t.Fatalf("args = %+v", svc.barsArgs)
	}
	if p := svc.barsArgs.period; p.From != 100 || p.To != 200 || p.CountBack != 300 {
		t.Fatalf("period = %+v", p)
	}
}

func TestUDFHistoryNoData(t *testing.T) {
	next := int64(900)
	svc := newStubService()
	svc.bars = []types.Bar{}
	svc.meta = types.HistoryMeta{NoData: true, NextTime: &next}

	got := decode[udfHistory](t, do(t, newTestServer(svc), http.MethodGet, "/udf/history?symbol=0xabc-eth_USD&resolution=5"))
	if got.S != "no_data" || got.NextTime == nil || *got.NextTime != 900 || got.T != nil {
		t.Fatalf("history = %+v", got)
	}
}

func TestUDFHistoryError(t *testing.T) {
	svc := newStubService()
	svc.barsErr = &datafeed.CodedError{Code: datafeed.CodeUpstreamUnavailable, Message: ""}

	w := do(t, newTestServer(svc), http.MethodGet, "/udf/history?symbol=0xabc-eth_USD&resolution=5")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"errmsg":""`) || !strings.Contains(w.Body.String(), `"s":"error"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	svc := newStubService()
	svc.subs = []types.SubscriptionInfo{{GUID: "g1", ChannelID: "c1"}}
	h := newTestServer(svc)

	w := do(t, h, http.MethodGet, "/api/v1/subscriptions")
	if !strings.Contains(w.Body.String(), `"guid":"g1"`) {
		t.Fatalf("list body = %s", w.Body.String())
	}

	if w := do(t, h, http.MethodDelete, "/api/v1/subscriptions/g1"); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	if got := <-svc.unsubscribed; got != "g1" {
		t.Fatalf("unsubscribed %q", got)
	}

	svc.unsubscribeErr = &datafeed.CodedError{Code: datafeed.CodeSubscriptionNotFound, Message: "no subscription g2"}
	if w := do(t, h, http.MethodDelete, "/api/v1/subscriptions/g2"); w.Code != http.StatusNotFound {
		t.Fatalf("delete unknown status = %d", w.Code)
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	svc := newStubService()
	h := newTestServer(svc)

	if w := do(t, h, http.MethodGet, "/api/v1/stream?symbol=0xabc-eth_USD"); w.Code != http.StatusBadRequest {
		t.Fatalf("missing resolution status = %d", w.Code)
	}

	svc.subscribeErr = &datafeed.CodedError{Code: datafeed.CodeUnknownNetwork, Message: "unknown network solana"}
	w := do(t, h, http.MethodGet, "/api/v1/stream?symbol=0xabc-solana_USD&resolution=5")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown network status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown network solana") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestStreamForwardsBarsAndUnsubscribesOnClose(t *testing.T) {
	svc := newStubService()
	srv := httptest.NewServer(newTestServer(svc))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream?symbol=0xabc-eth_USD&resolution=5&guid=g-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	if got := <-svc.subscribed; got != "g-1" {
		t.Fatalf("subscribed guid = %q", got)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	expect := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed waiting for %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	expect("event: subscribed")
	svc.tick(types.Bar{Time: 1700000000000, Open: 1, High: 2, Low: 1, Close: 2})
	expect("event: bar")
	data := expect("data: ")
	var evt barEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &evt); err != nil {
		t.Fatalf("decode bar event: %v", err)
	}
	if evt.GUID != "g-1" || evt.Bar.Time != 1700000000000 || evt.Bar.Close != 2 {
		t.Fatalf("bar event = %+v", evt)
	}

	cancel()
	select {
	case got := <-svc.unsubscribed:
		if got != "g-1" {
			t.Fatalf("unsubscribed %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream close did not unsubscribe")
	}
}

func TestDropPublisher(t *testing.T) {
	b := relay.NewBroker()
	id, ch := b.Subscribe("g1")
	defer b.Unsubscribe("g1", id)

	DropPublisher(b)("g1", "c1", context.DeadlineExceeded)
	evt := <-ch
	if evt.Name != "dropped" || !strings.Contains(string(evt.Payload), `"channel_id":"c1"`) {
		t.Fatalf("event = %+v (%s)", evt, evt.Payload)
	}
}
