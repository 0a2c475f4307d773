package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgnsrekt/tv_datafeed/internal/datafeed"
	"github.com/dgnsrekt/tv_datafeed/internal/relay"
	"github.com/dgnsrekt/tv_datafeed/internal/stream"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
)

// SSE event names.
const (
	eventSubscribed   = "subscribed"
	eventBar          = "bar"
	eventDropped      = "dropped"
	eventUnsubscribed = "unsubscribed"
)

type barEvent struct {
	GUID string    `json:"guid"`
	Bar  types.Bar `json:"bar"`
}

type subscribedEvent struct {
	GUID       string `json:"guid"`
	Symbol     string `json:"symbol"`
	Resolution string `json:"resolution"`
}

type droppedEvent struct {
	GUID      string `json:"guid"`
	ChannelID string `json:"channel_id"`
	Error     string `json:"error"`
}

// DropPublisher tells the SSE clients of a guid that its upstream socket
// failed.
func DropPublisher(b *relay.Broker) stream.DropFunc {
	return func(guid, channelID string, err error) {
		evt := droppedEvent{GUID: guid, ChannelID: channelID}
		if err != nil {
			evt.Error = err.Error()
		}
		publishJSON(b, guid, eventDropped, evt)
	}
}

func publishJSON(b *relay.Broker, topic, name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Debug("sse payload marshal failed", "event", name, "error", err)
		return
	}
	b.Publish(relay.Event{Topic: topic, Name: name, Payload: payload})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(udfError{S: udfStatusError, ErrMsg: msg}); err != nil {
		slog.Debug("error response write failed", "error", err)
	}
}

func registerStreamHandlers(router chi.Router, svc Service, broker *relay.Broker) {
	router.Get("/api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		symbol := q.Get("symbol")
		resolution := q.Get("resolution")
		guid := q.Get("guid")
		if symbol == "" || resolution == "" {
			writeJSONError(w, http.StatusBadRequest, "symbol and resolution are required")
			return
		}
		if guid == "" {
			guid = uuid.NewString()
		}

		id, events := broker.Subscribe(guid)
		subscribed := false
		defer func() {
			broker.Unsubscribe(guid, id)
			// Another client may still be reading the same guid.
			if !subscribed || broker.ClientCount(guid) > 0 {
				return
			}
			if err := svc.UnsubscribeBars(guid); err != nil && datafeed.Code(err) != datafeed.CodeSubscriptionNotFound {
				slog.Warn("unsubscribe on stream close failed", "guid", guid, "error", err)
			}
		}()

		onTick := func(bar types.Bar) {
			publishJSON(broker, guid, eventBar, barEvent{GUID: guid, Bar: bar})
		}
		info := types.SymbolInfo{Ticker: symbol, Name: symbol}
		if err := svc.SubscribeBars(r.Context(), info, resolution, onTick, guid); err != nil {
			status, msg := errorStatus(err)
			writeJSONError(w, status, msg)
			return
		}
		subscribed = true

		f, err := relay.StartSSE(w)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		hello, _ := json.Marshal(subscribedEvent{GUID: guid, Symbol: symbol, Resolution: resolution})
		if err := relay.WriteEvent(w, f, relay.Event{Topic: guid, Name: eventSubscribed, Payload: hello}); err != nil {
			return
		}
		if err := relay.Pump(w, r, f, events); err != nil {
			slog.Debug("sse stream ended", "guid", guid, "error", err)
		}
	})
}
