// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/landmarket/internal/model"
)

// ErrDuplicateEmail はメールアドレスのユニーク制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// UpdateAvatarURL は認証メタデータ側のアバターURLを更新する。
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error

	// UpdatePasswordHash はパスワードハッシュを更新する。ユーザーが存在しない場合はエラーを返す。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteOthersByUserID は指定ユーザーのセッションのうちkeepID以外を削除し、削除件数を返す。
	DeleteOthersByUserID(ctx context.Context, userID, keepID string) (int64, error)
}

// ProfileWithUser はユーザーと（存在すれば）プロフィール行を結合した構造体。
// 表示名・アバターの解決に両方の値が必要になる。
type ProfileWithUser struct {
	User    model.User
	Profile *model.Profile // profiles行が無い場合はnil
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByIDs は指定ユーザー群のプロフィールを1クエリで取得する。
	// 存在しないユーザーIDは結果に含まれない。
	FindByIDs(ctx context.Context, ids []string) ([]ProfileWithUser, error)

	// Upsert はプロフィールの編集可能項目（full_name, phone, line_id, email）を保存する。
	Upsert(ctx context.Context, profile *model.Profile) error

	// UpdateAvatarURL はプロフィールのアバターURLを保存する。行が無ければ作成する。
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error

	// DeleteByID は指定IDのプロフィールを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ListingRepository は土地情報の永続化インターフェース。
type ListingRepository interface {
	// Create は土地情報を作成する。
	Create(ctx context.Context, listing *model.Listing) error

	// FindByID は指定IDの土地情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Listing, error)

	// FindByIDs は指定IDの土地情報を作成日時の降順で取得する。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Listing, error)

	// Update は土地情報の編集可能項目を更新する。
	Update(ctx context.Context, listing *model.Listing) error

	// Delete は指定IDの土地情報を削除する。
	Delete(ctx context.Context, id string) error

	// Search は条件に一致する土地情報を返す。
	Search(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error)

	// Similar は同じ県または同じ種別の土地情報を、自身を除いて返す。
	Similar(ctx context.Context, listing *model.Listing, limit int) ([]*model.Listing, error)

	// ListByUserID はユーザーが所有する土地情報を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Listing, error)

	// CountByUserID はユーザーが所有する土地情報の件数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// DeleteByUserID はユーザーの全土地情報を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// FavoriteRepository はお気に入りの永続化インターフェース。
type FavoriteRepository interface {
	// Toggle はお気に入り状態を1文で反転し、反転後の状態を返す。
	Toggle(ctx context.Context, userID, listingID string) (bool, error)

	// Add はお気に入りに追加する。既に追加済みの場合は何もしない。
	Add(ctx context.Context, userID, listingID string) error

	// Remove はお気に入りから削除する。未登録の場合は何もしない。
	Remove(ctx context.Context, userID, listingID string) error

	// Exists はお気に入り登録済みかどうかを返す。
	Exists(ctx context.Context, userID, listingID string) (bool, error)

	// FavoritedAmong はlistingIDsのうちお気に入り登録済みのIDを返す。
	FavoritedAmong(ctx context.Context, userID string, listingIDs []string) (map[string]bool, error)

	// ListingIDsByUser はユーザーのお気に入り土地IDを登録日時の降順で返す。
	ListingIDsByUser(ctx context.Context, userID string) ([]string, error)

	// DeleteByUserID はユーザーの全お気に入りを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ConversationRepository は会話の永続化インターフェース。
type ConversationRepository interface {
	// FindOrCreate は参加者の組（順序なし）に対する会話を取得し、無ければ作成する。
	// 作成した場合はcreated=trueを返す。
	FindOrCreate(ctx context.Context, buyerID, sellerID string, listingID *string) (conv *model.Conversation, created bool, err error)

	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// ListByParticipant はユーザーが参加する会話をupdated_atの降順で返す。
	ListByParticipant(ctx context.Context, userID string) ([]*model.Conversation, error)

	// DeleteWithMessages はメッセージ、会話の順に同一トランザクションで削除する。
	DeleteWithMessages(ctx context.Context, id string) error

	// DeleteByParticipant はユーザーが参加する全会話をメッセージごと削除する。
	DeleteByParticipant(ctx context.Context, userID string) error
}

// MessageRepository はメッセージの永続化インターフェース。
type MessageRepository interface {
	// CreateAndTouchConversation はメッセージを作成し、
	// 会話のlast_messageとupdated_atを同一トランザクションで更新する。
	CreateAndTouchConversation(ctx context.Context, msg *model.Message) error

	// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Message, error)

	// ListByConversation は会話のメッセージをcreated_at, idの昇順で返す。
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)

	// MarkConversationRead はreceiverID宛ての未読メッセージを1回のUPDATEで既読にし、
	// 更新した行を返す。
	MarkConversationRead(ctx context.Context, conversationID, receiverID string) ([]*model.Message, error)

	// MarkRead は1件のメッセージをreceiverIDが受信者の場合のみ既読にする。
	// 更新対象が無い場合はnilを返す。
	MarkRead(ctx context.Context, id, receiverID string) (*model.Message, error)

	// UnreadCounts はuserID宛ての未読数を会話IDごとに1クエリで集計する。
	UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)

	// DeleteAndRefreshConversation はメッセージを削除し、
	// 残った最新メッセージから会話のlast_messageを再計算する。
	DeleteAndRefreshConversation(ctx context.Context, id string) error
}

// ImageRepository は画像オブジェクトの永続化インターフェース。
type ImageRepository interface {
	// Create は画像を保存する。
	Create(ctx context.Context, image *model.Image) error

	// FindByName はバケットとオブジェクト名で画像を取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, bucket model.Bucket, name string) (*model.Image, error)

	// DeleteByOwnerID はユーザーがアップロードした全画像を削除する。
	DeleteByOwnerID(ctx context.Context, ownerID string) error
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}
