package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/landmarket/internal/chat"
	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/realtime"
)

const (
	// realtimePingInterval はクライアントへのping送信間隔。
	realtimePingInterval = 30 * time.Second
	// realtimePongWait はpongを待つ時間。超えたら切断する。
	realtimePongWait = 60 * time.Second
	// realtimeWriteWait は1フレームの書き込み期限。
	realtimeWriteWait = 10 * time.Second
	// realtimeReadLimit はクライアントから受け取るフレームの上限。
	// クライアントはpong以外を送らない想定。
	realtimeReadLimit = 4096
)

// RealtimeAuthorizer はリアルタイム購読の認可と配信時の既読化を行うインターフェース。
type RealtimeAuthorizer interface {
	AuthorizeConversation(ctx context.Context, actorID, conversationID string) error
	MarkDelivered(ctx context.Context, actorID, messageID string) error
}

// RealtimeHandler は会話・受信箱の変更通知をWebSocketで配信するハンドラー。
type RealtimeHandler struct {
	broker       realtime.Broker
	authz        RealtimeAuthorizer
	recorder     metrics.Recorder
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	// shutdown が閉じられると接続中の全ストリームに1001を送って終了する。
	// nilなら無効。
	shutdown <-chan struct{}
}

// NewRealtimeHandler はRealtimeHandlerを生成する。
// allowedOriginsはカンマ区切りで、CORS設定と同じ値を渡す。
func NewRealtimeHandler(broker realtime.Broker, authz RealtimeAuthorizer, recorder metrics.Recorder, allowedOrigins string) *RealtimeHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	origins := parseOrigins(allowedOrigins)
	return &RealtimeHandler{
		broker:   broker,
		authz:    authz,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, origins)
			},
		},
		pingInterval: realtimePingInterval,
		pongWait:     realtimePongWait,
	}
}

// Conversation は会話のメッセージ変更を配信する。参加者のみ購読できる。
// 自分宛てのINSERTを配信したらそのメッセージを既読にする。
// GET /api/realtime/conversations/{id}
func (h *RealtimeHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")

	if err := h.authz.AuthorizeConversation(r.Context(), userID, conversationID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.stream(w, r, realtime.ConversationTopic(conversationID), func(ctx context.Context, ev realtime.Event) {
		if ev.Table != "messages" || ev.Type != realtime.EventInsert {
			return
		}
		var rec chat.MessageRecord
		if err := json.Unmarshal(ev.Record, &rec); err != nil {
			slog.Warn("failed to decode realtime message", slog.String("error", err.Error()))
			return
		}
		if rec.ReceiverID != userID || rec.Read {
			return
		}
		if err := h.authz.MarkDelivered(ctx, userID, rec.ID); err != nil {
			slog.Warn("failed to mark delivered message as read",
				slog.String("user_id", userID),
				slog.String("message_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Inbox はセッションユーザーの会話一覧の変更通知を配信する。
// GET /api/realtime/inbox
func (h *RealtimeHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	h.stream(w, r, realtime.InboxTopic(userID), nil)
}

// stream はtopicを購読し、WebSocket接続が閉じるまでイベントを書き出す。
// 購読は接続の終了とともに必ず解除する。
func (h *RealtimeHandler) stream(w http.ResponseWriter, r *http.Request, topic string, afterWrite func(context.Context, realtime.Event)) {
	ctx := r.Context()

	sub, err := h.broker.Subscribe(ctx, topic)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.recorder.RealtimeSubscribed()
	defer h.recorder.RealtimeUnsubscribed()

	done := make(chan struct{})
	go h.readLoop(conn, done)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-h.shutdown:
			writeGoingAway(conn, "server shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				writeGoingAway(conn, "")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if afterWrite != nil {
				afterWrite(ctx, ev)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(realtimeWriteWait)); err != nil {
				return
			}
		}
	}
}

// writeGoingAway はクライアントに再接続を促すクローズフレームを送る。
func writeGoingAway(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(realtimeWriteWait))
}

// readLoop はpongを受けて読み込み期限を延長する。切断されたらdoneを閉じる。
func (h *RealtimeHandler) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(realtimeReadLimit)
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseOrigins(allowed string) []string {
	var origins []string
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// originAllowed はOriginヘッダーが許可リストか同一ホストであればtrueを返す。
// Originの無いリクエスト（ブラウザ以外）は許可する。
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
