package relay

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tv_datafeed/internal/metrics"
)

const subscriberBufSize = 256

// Event is a single SSE event on a topic. Topics are subscription guids.
type Event struct {
	Topic   string
	Name    string
	Payload []byte
}

// Broker fans out events to the SSE clients listening on each topic.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[int64]chan Event
	nextID atomic.Int64
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]map[int64]chan Event),
	}
}

// Subscribe registers a listener on topic. The channel is buffered; slow
// listeners have events dropped.
func (b *Broker) Subscribe(topic string) (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[int64]chan Event)
		b.topics[topic] = subs
	}
	subs[id] = ch
	b.mu.Unlock()
	metrics.StreamClients.Inc()
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broker) Unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
	metrics.StreamClients.Dec()
}

// Publish sends evt to every listener on evt.Topic without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.topics[evt.Topic] {
		select {
		case ch <- evt:
		default:
			metrics.StreamDropped.Inc()
		}
	}
}

// ClientCount returns the number of listeners on topic, or on all topics
// when topic is empty.
func (b *Broker) ClientCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if topic != "" {
		return len(b.topics[topic])
	}
	n := 0
	for _, subs := range b.topics {
		n += len(subs)
	}
	return n
}
