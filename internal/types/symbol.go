package types

import "encoding/json"

// SymbolDescriptor is the market-data API's search record. The named fields
// are the ones the adapter reads; a decoded record marshals back to the exact
// bytes it was decoded from, so fields like exchange_logo reach the widget.
// Edits to the named fields of a decoded record are not marshaled.
type SymbolDescriptor struct {
	Symbol      string `json:"symbol"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Ticker      string `json:"ticker"`
	Type        string `json:"type"`

	raw json.RawMessage
}

type symbolFields SymbolDescriptor

// UnmarshalJSON decodes the named fields and keeps the whole record.
func (d *SymbolDescriptor) UnmarshalJSON(b []byte) error {
	var f symbolFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = SymbolDescriptor(f)
	d.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON emits the decoded record unchanged, or the named fields for a
// descriptor built in code.
func (d SymbolDescriptor) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	return json.Marshal(symbolFields(d))
}

// SymbolInfo is the resolved instrument handed to the widget.
type SymbolInfo struct {
	Ticker               string   `json:"ticker"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	Exchange             string   `json:"exchange"`
	ListedExchange       string   `json:"listed_exchange"`
	MinMov               int      `json:"minmov"`
	PriceScale           int      `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	SupportedResolutions []string `json:"supported_resolutions"`
}

// SubscriptionInfo describes one live bar subscription.
type SubscriptionInfo struct {
	GUID      string `json:"guid"`
	ChannelID string `json:"channel_id"`
	Ticks     int64  `json:"ticks"`
	OpenedAt  int64  `json:"opened_at"`
}
