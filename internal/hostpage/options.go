package hostpage

import (
	"fmt"
	"strings"
)

// Options are the widget display options plus where the page finds the
// datafeed. Fields tagged json:"-" are page-level and never reach the widget.
type Options struct {
	Title                   string `yaml:"title" json:"-"`
	Symbol                  string `yaml:"symbol" json:"symbol"`
	Interval                string `yaml:"interval" json:"interval"`
	Container               string `yaml:"container" json:"container"`
	LibraryPath             string `yaml:"library_path" json:"library_path"`
	Locale                  string `yaml:"locale" json:"locale"`
	ChartsStorageURL        string `yaml:"charts_storage_url" json:"charts_storage_url"`
	ChartsStorageAPIVersion string `yaml:"charts_storage_api_version" json:"charts_storage_api_version"`
	ClientID                string `yaml:"client_id" json:"client_id"`
	UserID                  string `yaml:"user_id" json:"user_id"`
	Fullscreen              bool   `yaml:"fullscreen" json:"fullscreen"`
	Autosize                bool   `yaml:"autosize" json:"autosize"`

	DatafeedURL       string `yaml:"datafeed_url" json:"-"`
	BundleURL         string `yaml:"bundle_url" json:"-"`
	UpdateFrequencyMS int    `yaml:"update_frequency_ms" json:"-"`
}

// DefaultOptions returns the options the page mounts with when nothing is
// overridden.
func DefaultOptions() Options {
	return Options{
		Title:                   "TradingView Datafeed",
		Symbol:                  "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2-eth_USD",
		Interval:                "5",
		Container:               "tv_chart_container",
		LibraryPath:             "/static/charting_library/",
		Locale:                  "en",
		ChartsStorageURL:        "https://saveload.tradingview.com",
		ChartsStorageAPIVersion: "1.1",
		ClientID:                "tradingview.com",
		UserID:                  "public_user_id",
		Fullscreen:              false,
		Autosize:                true,
		DatafeedURL:             "/udf",
		BundleURL:               "/static/datafeeds/udf/dist/bundle.js",
		UpdateFrequencyMS:       10000,
	}
}

// Validate checks the options the page cannot mount without.
func (o Options) Validate() error {
	required := []struct {
		name, value string
	}{
		{"symbol", o.Symbol},
		{"interval", o.Interval},
		{"container", o.Container},
		{"library_path", o.LibraryPath},
		{"datafeed_url", o.DatafeedURL},
		{"bundle_url", o.BundleURL},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("hostpage: %s is required", f.name)
		}
	}
	if !strings.HasSuffix(o.LibraryPath, "/") {
		return fmt.Errorf("hostpage: library_path %q must end with /", o.LibraryPath)
	}
	if o.UpdateFrequencyMS < 0 {
		return fmt.Errorf("hostpage: update_frequency_ms must not be negative")
	}
	return nil
}
