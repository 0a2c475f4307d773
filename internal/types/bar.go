package types

// Bar is one OHLC(V) sample. Time is in milliseconds since epoch, the unit
// the charting widget expects.
type Bar struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// Valid reports whether high and low bound open and close.
func (b Bar) Valid() bool {
	if b.High < b.Low {
		return false
	}
	for _, v := range []float64{b.Open, b.Close} {
		if v > b.High || v < b.Low {
			return false
		}
	}
	return true
}

// PeriodParams is the time window the widget asks history for. From and To
// are unix seconds.
type PeriodParams struct {
	From             int64 `json:"from"`
	To               int64 `json:"to"`
	CountBack        int   `json:"countBack,omitempty"`
	FirstDataRequest bool  `json:"firstDataRequest,omitempty"`
}

// HistoryMeta accompanies a history result.
type HistoryMeta struct {
	NoData   bool   `json:"noData"`
	NextTime *int64 `json:"nextTime,omitempty"`
}
