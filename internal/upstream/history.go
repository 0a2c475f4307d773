package upstream

import (
	"fmt"

	"github.com/dgnsrekt/tv_datafeed/internal/types"
	"github.com/shopspring/decimal"
)

// StatusOK is the only history status that carries bars.
const StatusOK = "ok"

// HistoryResponse is the history endpoint's body. Price arrays accept both
// JSON numbers and numeric strings. Missing arrays decode to nil.
type HistoryResponse struct {
	Status   string            `json:"s"`
	ErrMsg   string            `json:"errmsg,omitempty"`
	NextTime *int64            `json:"nextTime,omitempty"`
	Time     []decimal.Decimal `json:"t"`
	Open     []decimal.Decimal `json:"o,omitempty"`
	High     []decimal.Decimal `json:"h,omitempty"`
	Low      []decimal.Decimal `json:"l,omitempty"`
	Close    []decimal.Decimal `json:"c"`
	Volume   []decimal.Decimal `json:"v,omitempty"`
}

// OK reports whether r carries bars.
func (r *HistoryResponse) OK() bool {
	return r != nil && r.Status == StatusOK
}

// Bars converts the parallel arrays into bars, one per timestamp. Close is
// always taken from c; open/high/low come from their arrays when o is
// present and fall back to close otherwise.
func (r *HistoryResponse) Bars() ([]types.Bar, error) {
	n := len(r.Time)
	if len(r.Close) < n {
		return nil, fmt.Errorf("%w: history: c has %d values for %d timestamps", ErrBadResponse, len(r.Close), n)
	}
	ohl := r.Open != nil
	if ohl && (len(r.Open) < n || len(r.High) < n || len(r.Low) < n) {
		return nil, fmt.Errorf("%w: history: o/h/l shorter than %d timestamps", ErrBadResponse, n)
	}
	vol := r.Volume != nil && len(r.Volume) >= n

	bars := make([]types.Bar, 0, n)
	for i := 0; i < n; i++ {
		c := r.Close[i].InexactFloat64()
		bar := types.Bar{
			Time:  r.Time[i].IntPart() * 1000,
			Open:  c,
			High:  c,
			Low:   c,
			Close: c,
		}
		if ohl {
			bar.Open = r.Open[i].InexactFloat64()
			bar.High = r.High[i].InexactFloat64()
			bar.Low = r.Low[i].InexactFloat64()
		}
		if vol {
			v := r.Volume[i].InexactFloat64()
			bar.Volume = &v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
