package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, listing, chat, storage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeWrongPassword         = "WRONG_PASSWORD"
	ErrCodeEmailTaken            = "EMAIL_TAKEN"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeListingNotFound       = "LISTING_NOT_FOUND"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeConversationNotFound  = "CONVERSATION_NOT_FOUND"
	ErrCodeMessageNotFound       = "MESSAGE_NOT_FOUND"
	ErrCodeEmptyMessage          = "EMPTY_MESSAGE"
	ErrCodeSelfConversation      = "SELF_CONVERSATION"
	ErrCodeImageNotFound         = "IMAGE_NOT_FOUND"
	ErrCodeInvalidImage          = "INVALID_IMAGE"
	ErrCodeImageTooLarge         = "IMAGE_TOO_LARGE"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRF                  = "CSRF_TOKEN_INVALID"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewWrongPasswordError はパスワード変更時に現在のパスワードが一致しない場合のエラーを生成する。
// セッションは有効なままなので401ではなく400として扱う。
func NewWrongPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongPassword,
		Message:  "現在のパスワードが正しくありません。",
		Category: "auth",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewListingNotFoundError は土地情報未検出エラーを生成する。
func NewListingNotFoundError(listingID string) *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  fmt.Sprintf("指定された土地情報が見つかりません: %s", listingID),
		Category: "listing",
		Action:   "土地情報IDを確認してください。",
	}
}

// NewForbiddenError は権限エラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  message,
		Category: "auth",
		Action:   "この操作を行う権限がありません。",
	}
}

// NewConversationNotFoundError は会話未検出エラーを生成する。
// 参加者でない場合も同じエラーを返す。
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("指定された会話が見つかりません: %s", conversationID),
		Category: "chat",
		Action:   "会話一覧から選択し直してください。",
	}
}

// NewMessageNotFoundError はメッセージ未検出エラーを生成する。
func NewMessageNotFoundError(messageID string) *APIError {
	return &APIError{
		Code:     ErrCodeMessageNotFound,
		Message:  fmt.Sprintf("指定されたメッセージが見つかりません: %s", messageID),
		Category: "chat",
		Action:   "画面を更新してください。",
	}
}

// NewEmptyMessageError は本文・画像ともに空のメッセージ送信エラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "メッセージが空です。",
		Category: "validation",
		Action:   "本文を入力するか画像を添付してください。",
	}
}

// NewSelfConversationError は自分自身への問い合わせエラーを生成する。
func NewSelfConversationError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfConversation,
		Message:  "自分自身に問い合わせることはできません。",
		Category: "chat",
		Action:   "他のユーザーの土地情報から問い合わせてください。",
	}
}

// NewImageNotFoundError は画像未検出エラーを生成する。
func NewImageNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotFound,
		Message:  fmt.Sprintf("指定された画像が見つかりません: %s", name),
		Category: "storage",
		Action:   "画像URLを確認してください。",
	}
}

// NewInvalidImageError は画像以外のファイルがアップロードされた場合のエラーを生成する。
func NewInvalidImageError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  "画像ファイルのみアップロードできます。",
		Category: "storage",
		Action:   "JPEG、PNG、GIF、WebPなどの画像ファイルを選択してください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "storage",
		Action:   "サイズの小さい画像を選択してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗を表すエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は予期しないエラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "予期しないエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
