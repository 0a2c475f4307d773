// Package pagecheck loads the host page in a headless browser and reports
// whether the charting widget mounted.
package pagecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	mountedExpr     = `window.__tvMounted === true`
	scriptReadyExpr = `window.__tvScriptReady === true`
)

// Options configures a check.
type Options struct {
	PageURL string
	// CDPURL attaches to a running browser (e.g. "http://127.0.0.1:9222").
	// Empty launches a headless one.
	CDPURL  string
	Timeout time.Duration
}

// Result is what the browser observed.
type Result struct {
	URL            string        `json:"url"`
	Mounted        bool          `json:"mounted"`
	ScriptReady    bool          `json:"script_ready"`
	FailedRequests []string      `json:"failed_requests,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// OK reports whether the widget mounted.
func (r Result) OK() bool { return r.Mounted }

func (o Options) validate() error {
	if o.PageURL == "" {
		return errors.New("pagecheck: page url is required")
	}
	u, err := url.Parse(o.PageURL)
	if err != nil {
		return fmt.Errorf("pagecheck: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("pagecheck: unsupported scheme %q", u.Scheme)
	}
	return nil
}

// Check navigates to the page and waits for the widget to mount. A page
// that never mounts is not an error: Result.Mounted is false.
func Check(ctx context.Context, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.CDPURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.CDPURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	}
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	var mu sync.Mutex
	requests := make(map[network.RequestID]string)
	var failed []string
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			requests[e.RequestID] = e.Request.URL
		case *network.EventLoadingFailed:
			failed = append(failed, requests[e.RequestID])
		}
	})

	res := Result{URL: opts.PageURL}
	start := time.Now()
	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate(opts.PageURL)); err != nil {
		return res, fmt.Errorf("pagecheck: navigate: %w", err)
	}

	pollCtx, pollCancel := context.WithTimeout(tabCtx, opts.Timeout)
	defer pollCancel()
	var mounted bool
	err := chromedp.Run(pollCtx, chromedp.Poll(mountedExpr, &mounted, chromedp.WithPollingInterval(250*time.Millisecond)))
	res.Elapsed = time.Since(start)
	switch {
	case err == nil:
		res.Mounted = mounted
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("widget did not mount before timeout", "url", opts.PageURL, "timeout", opts.Timeout)
	default:
		return res, fmt.Errorf("pagecheck: poll: %w", err)
	}

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(scriptReadyExpr, &res.ScriptReady)); err != nil {
		slog.Debug("script ready probe failed", "error", err)
	}

	mu.Lock()
	res.FailedRequests = append(res.FailedRequests, failed...)
	mu.Unlock()
	return res, nil
}
