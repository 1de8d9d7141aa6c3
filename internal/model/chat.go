package model

import "time"

// Conversation は2人のユーザー間のメッセージスレッドを表す。
// 参加者の組（順序なし）ごとに1件のみ存在する。
type Conversation struct {
	ID          string
	BuyerID     string
	SellerID    string
	ListingID   *string
	LastMessage *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasParticipant はuserIDが参加者かどうかを返す。
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// OtherParticipant はuserIDから見た相手のIDを返す。
func (c *Conversation) OtherParticipant(userID string) string {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}

// Message は会話内の1メッセージを表す。
// 受信者による既読化以外は追記のみ。
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	ImageURL       *string
	Read           bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// ImageMessagePreview は画像のみのメッセージを会話一覧に表示するときの文言。
const ImageMessagePreview = "[รูปภาพ]"

// Preview は会話のlast_messageに記録する文字列を返す。
func (m *Message) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	if m.ImageURL != nil && *m.ImageURL != "" {
		return ImageMessagePreview
	}
	return ""
}
