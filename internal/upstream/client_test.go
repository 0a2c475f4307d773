package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestSearchSendsQueryParameters(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		return jsonResponse(http.StatusOK, `[{"symbol":"WETH","full_name":"WETH/USD","ticker":"0xabc-eth_USD","exchange":"uniswap","type":"crypto"}]`), nil
	})}

	c := NewClient("https://api.example.com/", time.Second, WithHTTPClient(hc))
	got, err := c.Search(context.Background(), SearchParams{Query: "WETH", Type: "crypto", Exchange: "uniswap", Limit: SearchLimit})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotPath != searchPath {
		t.Fatalf("path = %q; want %q", gotPath, searchPath)
	}
	want := map[string]string{"query": "WETH", "limit": "30", "type": "crypto", "exchange": "uniswap"}
	for k, v := range want {
		if len(gotQuery[k]) != 1 || gotQuery[k][0] != v {
			t.Fatalf("query[%s] = %v; want %q", k, gotQuery[k], v)
		}
	}
	if len(got) != 1 || got[0].Ticker != "0xabc-eth_USD" || got[0].FullName != "WETH/USD" {
		t.Fatalf("Search() = %+v", got)
	}
}

func TestSearchOmitsEmptyOptionalParameters(t *testing.T) {
	var rawQuery string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		rawQuery = r.URL.RawQuery
		return jsonResponse(http.StatusOK, `[]`), nil
	})}

	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc))
	if _, err := c.Search(context.Background(), SearchParams{Query: "0xabc-eth_USD"}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if rawQuery != "query=0xabc-eth_USD" {
		t.Fatalf("raw query = %q; want %q", rawQuery, "query=0xabc-eth_USD")
	}
}

func TestSearchRejectsNonArrayBody(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"detail":"nope"}`), nil
	})}

	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc))
	_, err := c.Search(context.Background(), SearchParams{Query: "X"})
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("Search() error = %v; want ErrBadResponse", err)
	}
}

func TestGetReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.History(context.Background(), HistoryParams{Symbol: "X", Resolution: "5", From: 1, To: 2})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("History() error = %T %v; want *StatusError", err, err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want %d", statusErr.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestHistorySendsWindow(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != historyPath {
			t.Errorf("path = %q; want %q", r.URL.Path, historyPath)
		}
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, `{"s":"ok","t":[1],"c":[2]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	resp, err := c.History(context.Background(), HistoryParams{Symbol: "0xabc-eth_USD", Resolution: "60", From: 100, To: 200})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if !resp.OK() {
		t.Fatalf("History() status = %q; want ok", resp.Status)
	}
	for k, v := range map[string]string{"symbol": "0xabc-eth_USD", "resolution": "60", "from": "100", "to": "200"} {
		if got := gotQuery[k]; len(got) != 1 || got[0] != v {
			t.Fatalf("query[%s] = %v; want %q", k, got, v)
		}
	}
}

func TestHistoryNullBody(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `null`), nil
	})}

	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc))
	resp, err := c.History(context.Background(), HistoryParams{Symbol: "X", Resolution: "5"})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if resp.OK() {
		t.Fatalf("History() = %+v; want not ok", resp)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	calls := 0
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `[]`), nil
	})}

	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc), WithRateLimit(0.001, 1))
	if _, err := c.Search(context.Background(), SearchParams{Query: "A"}); err != nil {
		t.Fatalf("first Search() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, SearchParams{Query: "B"}); err == nil {
		t.Fatal("second Search() = nil; want rate limit error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestConcurrentSearchesReturnIndependentResults(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		<-release
		return jsonResponse(http.StatusOK, `[{"ticker":"0xabc-eth_USD"}]`), nil
	})}
	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc))

	const n = 4
	results := make(chan []types.SymbolDescriptor, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Search(context.Background(), SearchParams{Query: "0xabc-eth_USD"})
			if err != nil {
				t.Errorf("Search() error = %v", err)
				return
			}
			results <- got
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if got := calls.Load(); got < 1 || got > n {
		t.Fatalf("calls = %d", got)
	}
	for got := range results {
		if len(got) != 1 || got[0].Ticker != "0xabc-eth_USD" {
			t.Fatalf("Search() = %+v", got)
		}
		got[0].Ticker = "mutated"
	}
}

func TestSearchForwardsRecordsVerbatim(t *testing.T) {
	const record = `{"symbol":"WETH","ticker":"0xabc-eth_USD","exchange_logo":"x.png","logo_urls":["a"]}`
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, "["+record+"]"), nil
	})}
	c := NewClient("https://api.example.com", time.Second, WithHTTPClient(hc))

	got, err := c.Search(context.Background(), SearchParams{Query: "WETH"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Ticker != "0xabc-eth_USD" {
		t.Fatalf("Search() = %+v", got)
	}
	out, err := json.Marshal(got[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != record {
		t.Fatalf("forwarded record = %s; want %s", out, record)
	}
}

func TestSharedSearchSurvivesCallerCancel(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		<-release
		return jsonResponse(http.StatusOK, `[{"ticker":"X"}]`), nil
	})}
	c := NewClient("https://api.example.com", 2*time.Second, WithHTTPClient(hc))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Search(ctx, SearchParams{Query: "X"})
		first <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		out []types.SymbolDescriptor
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := c.Search(context.Background(), SearchParams{Query: "X"})
		second <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled Search() = %v; want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Search() did not return")
	}

	close(release)
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("live Search() error = %v", r.err)
		}
		if len(r.out) != 1 || r.out[0].Ticker != "X" {
			t.Fatalf("live Search() = %+v", r.out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live Search() did not return")
	}
}
