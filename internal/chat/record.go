package chat

import (
	"time"

	"github.com/hitoshi/landmarket/internal/model"
)

// MessageRecord はメッセージのJSON表現。APIレスポンスとリアルタイムイベントで共通。
type MessageRecord struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	ReceiverID     string     `json:"receiver_id"`
	Content        string     `json:"content"`
	ImageURL       *string    `json:"image_url"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewMessageRecord はmodel.MessageをMessageRecordに変換する。
func NewMessageRecord(m *model.Message) MessageRecord {
	return MessageRecord{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		ImageURL:       m.ImageURL,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

// InboxNotice は会話一覧の再取得を促す通知。
type InboxNotice struct {
	ConversationID string  `json:"conversation_id"`
	LastMessage    *string `json:"last_message,omitempty"`
}

// deletedMessage はDELETEイベントのレコード。
type deletedMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}
