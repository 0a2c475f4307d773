package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/tv_datafeed/internal/metrics"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrNotFound is returned when a guid has no live subscription.
var ErrNotFound = errors.New("stream: subscription not found")

// TickFunc receives live bars. It is called from the subscription's read
// goroutine, one bar at a time. It may call Unsubscribe, including for its own
// guid, but must not call Close.
type TickFunc func(types.Bar)

// Tick is a received bar with its routing information.
type Tick struct {
	GUID       string    `json:"guid"`
	ChannelID  string    `json:"channel_id"`
	ReceivedAt time.Time `json:"received_at"`
	Bar        types.Bar `json:"bar"`
}

// Sink records ticks as they arrive.
type Sink interface {
	Write(record any) error
}

// DropFunc is called when a subscription's socket fails on its own (not
// through Unsubscribe or Close).
type DropFunc func(guid, channelID string, err error)

// Manager owns one socket per subscription guid.
type Manager struct {
	url         string
	dialTimeout time.Duration
	sink        Sink
	onDrop      DropFunc

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	guid      string
	channelID string
	conn      net.Conn
	openedAt  time.Time
	ticks     atomic.Int64
	closed    atomic.Bool
	done      chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink records every received tick to s.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithDropHandler registers fn for unexpected socket failures.
func WithDropHandler(fn DropFunc) Option {
	return func(m *Manager) { m.onDrop = fn }
}

// WithDialTimeout bounds the socket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

// NewManager creates a manager dialing wsURL (e.g. "wss://ws.dex.guru/v1/ws/channels").
func NewManager(wsURL string, opts ...Option) *Manager {
	m := &Manager{
		url:         wsURL,
		dialTimeout: 10 * time.Second,
		subs:        make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type subscribeMessage struct {
	Type string        `json:"type"`
	Data subscribeData `json:"data"`
}

type subscribeData struct {
	ChannelID string          `json:"channel_id"`
	Params    subscribeParams `json:"params"`
}

type subscribeParams struct {
	SubscriberID string `json:"subscriber_id"`
}

func newSubscribeMessage(channelID string) subscribeMessage {
	return subscribeMessage{
		Type: "subscribe",
		Data: subscribeData{
			ChannelID: channelID,
			Params:    subscribeParams{SubscriberID: channelID},
		},
	}
}

// Subscribe opens a socket for channelID, sends the subscribe message and
// starts forwarding updates to onTick. An existing subscription with the same
// guid is closed first.
func (m *Manager) Subscribe(ctx context.Context, guid, channelID string, onTick TickFunc) error {
	if onTick == nil {
		return fmt.Errorf("stream: nil tick func")
	}
	if old := m.take(guid); old != nil {
		slog.Debug("stream: replacing subscription", "guid", guid, "channel_id", old.channelID)
		old.close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	conn, br, _, err := ws.Dial(dialCtx, m.url)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w", m.url, err)
	}
	if br != nil {
		conn = &bufferedConn{Conn: conn, r: br}
	}

	payload, err := json.Marshal(newSubscribeMessage(channelID))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("stream: marshal subscribe: %w", err)
	}
	if err := wsutil.WriteClientText(conn, payload); err != nil {
		_ = conn.Close()
		return fmt.Errorf("stream: send subscribe: %w", err)
	}

	sub := &subscription{
		guid:      guid,
		channelID: channelID,
		conn:      conn,
		openedAt:  time.Now().UTC(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.subs[guid]; ok {
		// A concurrent Subscribe for the same guid won the race.
		prev.close()
	}
	m.subs[guid] = sub
	m.mu.Unlock()

	metrics.Subscriptions.Inc()
	metrics.SubscriptionOps.WithLabelValues("subscribe").Inc()
	slog.Info("stream: subscribed", "guid", guid, "channel_id", channelID)

	go m.readLoop(sub, onTick)
	return nil
}

// Unsubscribe closes the socket for guid. No tick is delivered for guid after
// it returns, except one already being delivered by the read goroutine.
func (m *Manager) Unsubscribe(guid string) error {
	sub := m.take(guid)
	if sub == nil {
		return ErrNotFound
	}
	sub.close()
	metrics.SubscriptionOps.WithLabelValues("unsubscribe").Inc()
	slog.Info("stream: unsubscribed", "guid", guid, "channel_id", sub.channelID, "ticks", sub.ticks.Load())
	return nil
}

// List returns the live subscriptions ordered by guid.
func (m *Manager) List() []types.SubscriptionInfo {
	m.mu.Lock()
	out := make([]types.SubscriptionInfo, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, types.SubscriptionInfo{
			GUID:      s.guid,
			ChannelID: s.channelID,
			Ticks:     s.ticks.Load(),
			OpenedAt:  s.openedAt.Unix(),
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Close closes every subscription and waits for their read loops to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for guid, s := range m.subs {
		subs = append(subs, s)
		delete(m.subs, guid)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.close()
		<-s.done
	}
	if len(subs) > 0 {
		slog.Info("stream: closed all subscriptions", "count", len(subs))
	}
	return nil
}

// take removes and returns the subscription for guid, or nil.
func (m *Manager) take(guid string) *subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[guid]
	if !ok {
		return nil
	}
	delete(m.subs, guid)
	return sub
}

// forget removes sub only if it is still the registered one for its guid.
func (m *Manager) forget(sub *subscription) {
	m.mu.Lock()
	if cur, ok := m.subs[sub.guid]; ok && cur == sub {
		delete(m.subs, sub.guid)
	}
	m.mu.Unlock()
}

func (m *Manager) readLoop(sub *subscription, onTick TickFunc) {
	defer close(sub.done)
	defer metrics.Subscriptions.Dec()

	for {
		data, err := wsutil.ReadServerText(sub.conn)
		if err != nil {
			if sub.closed.Load() {
				return
			}
			m.forget(sub)
			_ = sub.conn.Close()
			metrics.SubscriptionOps.WithLabelValues("drop").Inc()
			slog.Warn("stream: subscription dropped", "guid", sub.guid, "channel_id", sub.channelID, "error", err)
			if m.onDrop != nil {
				m.onDrop(sub.guid, sub.channelID, err)
			}
			return
		}

		bar, ok, err := ParseUpdate(data)
		if err != nil {
			metrics.FramesIgnored.WithLabelValues("decode").Inc()
			slog.Debug("stream: undecodable frame", "guid", sub.guid, "error", err)
			continue
		}
		if !ok {
			metrics.FramesIgnored.WithLabelValues("type").Inc()
			continue
		}
		if !bar.Valid() {
			slog.Debug("stream: bar outside high/low bounds", "guid", sub.guid, "bar", bar)
		}

		if sub.closed.Load() {
			return
		}

		sub.ticks.Add(1)
		metrics.TicksTotal.Inc()
		if m.sink != nil {
			tick := Tick{GUID: sub.guid, ChannelID: sub.channelID, ReceivedAt: time.Now().UTC(), Bar: bar}
			if err := m.sink.Write(tick); err != nil {
				slog.Debug("stream: tick record failed", "guid", sub.guid, "error", err)
			}
		}
		onTick(bar)
	}
}

func (s *subscription) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	// The read loop may be writing pongs. Conn serializes whole Write calls,
	// so the close frame goes out as one buffer.
	frame, err := ws.CompileFrame(ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
	if err == nil {
		_, err = s.conn.Write(frame)
	}
	if err != nil {
		slog.Debug("stream: close frame write failed", "guid", s.guid, "error", err)
	}
	if err := s.conn.Close(); err != nil {
		slog.Debug("stream: socket close failed", "guid", s.guid, "error", err)
	}
}

// bufferedConn drains bytes read past the handshake before the raw socket.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
