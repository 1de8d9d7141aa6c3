package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/landmarket/internal/metrics"
)

// LocalBroker はプロセス内で完結するBroker。
// 購読者のバッファが一杯の場合、そのイベントはその購読者に対してのみ破棄される。
type LocalBroker struct {
	mu       sync.RWMutex
	topics   map[string]map[*localSubscription]struct{}
	buffer   int
	recorder metrics.Recorder
}

var _ Broker = (*LocalBroker)(nil)

// NewLocalBroker はLocalBrokerを生成する。bufferが0以下の場合はDefaultBufferSizeを使う。
func NewLocalBroker(buffer int, recorder metrics.Recorder) *LocalBroker {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &LocalBroker{
		topics:   make(map[string]map[*localSubscription]struct{}),
		buffer:   buffer,
		recorder: recorder,
	}
}

// Publish はtopicの全購読者へeventを配信する。
func (b *LocalBroker) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		select {
		case sub.events <- event:
		default:
			b.recorder.RecordRealtimeDropped(topic)
			slog.Warn("realtime subscriber buffer full, event dropped",
				slog.String("topic", topic),
				slog.String("table", event.Table),
				slog.String("type", string(event.Type)),
			)
		}
	}
	return nil
}

// Subscribe はtopicの購読を開始する。
func (b *LocalBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &localSubscription{
		broker: b,
		topic:  topic,
		events: make(chan Event, b.buffer),
	}

	b.mu.Lock()
	hub := b.topics[topic]
	if hub == nil {
		hub = make(map[*localSubscription]struct{})
		b.topics[topic] = hub
	}
	hub[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// SubscriberCount はtopicの購読者数を返す。
func (b *LocalBroker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *LocalBroker) unsubscribe(sub *localSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hub, ok := b.topics[sub.topic]; ok {
		delete(hub, sub)
		if len(hub) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	// Publishは読み取りロック中にのみ送信するため、ここで閉じても競合しない
	close(sub.events)
}

type localSubscription struct {
	broker *LocalBroker
	topic  string
	events chan Event
	once   sync.Once
}

func (s *localSubscription) Events() <-chan Event {
	return s.events
}

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
	})
	return nil
}
