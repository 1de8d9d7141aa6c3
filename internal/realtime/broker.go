// Package realtime は会話と受信箱の変更通知を購読者へ配信する。
//
// トピックは "conversation:<会話ID>" と "inbox:<ユーザーID>" の2種類。
// 単一プロセスではLocalBroker、複数インスタンス構成ではRedisBrokerを使う。
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType は変更種別。
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event は1件の変更通知。Recordは変更後（DELETEでは削除前）の行のJSON。
type Event struct {
	Table           string          `json:"table"`
	Type            EventType       `json:"type"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewEvent はrecordをJSONに変換してEventを生成する。
func NewEvent(table string, typ EventType, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s record: %w", table, err)
	}
	return Event{
		Table:           table,
		Type:            typ,
		Record:          raw,
		CommitTimestamp: time.Now().UTC(),
	}, nil
}

// Subscription は1トピックの購読。Closeは何度呼んでもよい。
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Broker はトピック単位のpublish/subscribeを提供する。
// Publishは購読者の受信を待たない。
type Broker interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// ConversationTopic は会話のメッセージ変更を流すトピック名を返す。
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// InboxTopic はユーザーの会話一覧の変更通知を流すトピック名を返す。
func InboxTopic(userID string) string {
	return "inbox:" + userID
}

// DefaultBufferSize は購読者ごとの未配信イベントの上限。
const DefaultBufferSize = 32
