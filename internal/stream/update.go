package stream

import (
	"encoding/json"

	"github.com/dgnsrekt/tv_datafeed/internal/types"
	"github.com/shopspring/decimal"
)

const updateType = "updated"

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type candleUpdate struct {
	Update *struct {
		TimeRounded decimal.Decimal     `json:"t_rounded"`
		Open        decimal.Decimal     `json:"o"`
		High        decimal.Decimal     `json:"h"`
		Low         decimal.Decimal     `json:"l"`
		Close       decimal.Decimal     `json:"c"`
		Volume      decimal.NullDecimal `json:"v"`
	} `json:"update"`
}

// ParseUpdate decodes one inbound frame. ok is false for frames whose type
// is not "updated" or that carry no update payload.
func ParseUpdate(data []byte) (bar types.Bar, ok bool, err error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.Bar{}, false, err
	}
	if msg.Type != updateType {
		return types.Bar{}, false, nil
	}
	if len(msg.Data) == 0 {
		return types.Bar{}, false, nil
	}

	var payload candleUpdate
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return types.Bar{}, false, err
	}
	u := payload.Update
	if u == nil {
		return types.Bar{}, false, nil
	}

	bar = types.Bar{
		Time:  u.TimeRounded.IntPart() * 1000,
		Open:  u.Open.InexactFloat64(),
		High:  u.High.InexactFloat64(),
		Low:   u.Low.InexactFloat64(),
		Close: u.Close.InexactFloat64(),
	}
	if u.Volume.Valid {
		v := u.Volume.Decimal.InexactFloat64()
		bar.Volume = &v
	}
	return bar, true, nil
}
