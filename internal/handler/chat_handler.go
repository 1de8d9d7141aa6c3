package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/landmarket/internal/chat"
	"github.com/hitoshi/landmarket/internal/model"
)

// ChatServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Resolve(ctx context.Context, actorID, otherUserID string, listingID *string) (*conversationResponse, bool, error)
	List(ctx context.Context, actorID string) ([]conversationResponse, error)
	Open(ctx context.Context, actorID, conversationID string) (*threadResponse, error)
	Send(ctx context.Context, actorID, conversationID, content string, imageURL *string) (*chat.MessageRecord, error)
	MarkRead(ctx context.Context, actorID, conversationID string) (int, error)
	DeleteMessage(ctx context.Context, actorID, messageID string) error
	DeleteConversation(ctx context.Context, actorID, conversationID string) error
	UploadImage(ctx context.Context, actorID, filename string, r io.Reader) (string, error)
}

// ChatHandler は会話・メッセージのHTTPハンドラー。
type ChatHandler struct {
	service       ChatServiceInterface
	uploadMaxSize int64
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface, uploadMaxSize int64) *ChatHandler {
	return &ChatHandler{
		service:       service,
		uploadMaxSize: uploadMaxSize,
	}
}

// resolveConversationRequest は会話開始リクエストのボディ。
// 相手は出品者のユーザーID。送信者はセッションから決まる。
type resolveConversationRequest struct {
	UserID    string  `json:"user_id"`
	ListingID *string `json:"listing_id"`
}

// sendMessageRequest はメッセージ送信リクエストのボディ。
// 受信者はサーバー側で会話の相手として決まるため受け取らない。
type sendMessageRequest struct {
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url"`
}

// Resolve は相手との会話を取得し、無ければ作成する。
// POST /api/conversations
func (h *ChatHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req resolveConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("相手のユーザーIDは必須です。"))
		return
	}
	if req.ListingID != nil && strings.TrimSpace(*req.ListingID) == "" {
		req.ListingID = nil
	}

	conv, created, err := h.service.Resolve(r.Context(), userID, req.UserID, req.ListingID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeSuccess(w, status, envelope{"conversation": conv, "created": created})
}

// List はセッションユーザーの会話一覧を返す。
// GET /api/conversations
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	conversations, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"conversations": conversations})
}

// Open は会話の相手・土地情報・メッセージ履歴を返す。自分宛ての未読は既読になる。
// GET /api/conversations/{id}
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	thread, err := h.service.Open(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{
		"conversation": thread.Conversation,
		"other_user":   thread.OtherUser,
		"listing":      thread.Listing,
		"messages":     thread.Messages,
	})
}

// Send はメッセージを送信する。
// POST /api/conversations/{id}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.Send(r.Context(), userID, chi.URLParam(r, "id"), req.Content, req.ImageURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, envelope{"message": msg})
}

// MarkRead は会話内の自分宛ての未読メッセージを既読にする。
// POST /api/conversations/{id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	count, err := h.service.MarkRead(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{"updated": count})
}

// DeleteConversation は会話とメッセージを削除する。
// DELETE /api/conversations/{id}
func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteConversation(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, nil)
}

// DeleteMessage は自分が送信したメッセージを削除する。
// DELETE /api/messages/{id}
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteMessage(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, nil)
}

// UploadImage はメッセージ添付画像をアップロードしURLを返す。
// POST /api/messages/images (multipart, field "file")
func (h *ChatHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	handleUpload(w, r, h.uploadMaxSize, func(userID, filename string, body io.Reader) (string, error) {
		return h.service.UploadImage(r.Context(), userID, filename, body)
	})
}
