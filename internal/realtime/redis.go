package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/landmarket/internal/metrics"
)

// RedisBroker はRedisのPUBLISH/SUBSCRIBEで複数インスタンス間にイベントを配信する。
type RedisBroker struct {
	client   *redis.Client
	buffer   int
	recorder metrics.Recorder
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisClient はredis://形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisBroker はRedisBrokerを生成する。
func NewRedisBroker(client *redis.Client, buffer int, recorder metrics.Recorder) *RedisBroker {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &RedisBroker{client: client, buffer: buffer, recorder: recorder}
}

// Publish はeventをJSONにしてtopicへPUBLISHする。
func (b *RedisBroker) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe はtopicをSUBSCRIBEし、購読確立を待ってから返す。
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, b.buffer),
	}
	go b.forward(topic, ps.Channel(), sub.events)
	return sub, nil
}

// forward はRedisのメッセージをデコードして購読者のチャネルへ渡す。
// PubSubが閉じられるとchが閉じられ、eventsも閉じる。
func (b *RedisBroker) forward(topic string, ch <-chan *redis.Message, events chan<- Event) {
	defer close(events)
	for msg := range ch {
		event, err := DecodeEvent([]byte(msg.Payload))
		if err != nil {
			slog.Warn("failed to decode realtime event",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case events <- event:
		default:
			b.recorder.RecordRealtimeDropped(topic)
			slog.Warn("realtime subscriber buffer full, event dropped",
				slog.String("topic", topic),
				slog.String("table", event.Table),
			)
		}
	}
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	once   sync.Once
	err    error
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}

// EncodeEvent はEventをRedisに載せるJSONに変換する。
func EncodeEvent(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return payload, nil
}

// DecodeEvent はRedisから受け取ったJSONをEventに戻す。
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Table == "" || event.Type == "" {
		return Event{}, fmt.Errorf("failed to decode event: missing table or type")
	}
	return event, nil
}
