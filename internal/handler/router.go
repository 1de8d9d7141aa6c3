package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/middleware"
	"github.com/hitoshi/landmarket/internal/realtime"
)

// defaultRequestTimeout はRequestTimeout未指定時のリクエスト処理の上限。
const defaultRequestTimeout = 15 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Recorder       metrics.Recorder
	Logger         *slog.Logger

	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	RequestTimeout    time.Duration
	UploadMaxSize     int64

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 土地情報・お気に入り
	ListingService  ListingServiceInterface
	FavoriteService FavoriteServiceInterface

	// プロフィール・ユーザー
	ProfileService ProfileServiceInterface
	UserService    UserServiceInterface

	// メッセージ
	ChatService        ChatServiceInterface
	Broker             realtime.Broker
	RealtimeAuthorizer RealtimeAuthorizer
	// Shutdown はサーバー停止開始時に閉じられる。WebSocketの切断通知に使う。
	Shutdown <-chan struct{}

	// 画像配信
	StorageService StorageServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → CSRF
//	  → Timeout（WebSocket以外）→ Session（必須/任意）→ RateLimit(General)
//
// WebSocketの購読エンドポイントは長時間接続のためTimeoutの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(recorder))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	listingHandler := NewListingHandler(deps.ListingService, deps.UploadMaxSize)
	favoriteHandler := NewFavoriteHandler(deps.FavoriteService)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.UploadMaxSize)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	chatHandler := NewChatHandler(deps.ChatService, deps.UploadMaxSize)
	realtimeHandler := NewRealtimeHandler(deps.Broker, deps.RealtimeAuthorizer, recorder, deps.CORSAllowedOrigin)
	realtimeHandler.shutdown = deps.Shutdown
	storageHandler := NewStorageHandler(deps.StorageService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))

		// --- 認証不要のルート ---
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		r.Get("/storage/{bucket}/{name}", storageHandler.Serve)

		// --- セッション任意のルート ---
		// ミドルウェアスタック: OptionalSession → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionResolver))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/auth/signup", authHandler.SignUp)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/api/listings", listingHandler.Search)
			r.Get("/api/listings/{id}", listingHandler.Get)
			r.Get("/api/listings/{id}/similar", listingHandler.Similar)
			r.Get("/api/profiles/{id}", profileHandler.Get)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)
			r.Put("/auth/password", authHandler.ChangePassword)

			// 土地情報
			r.Post("/api/listings", listingHandler.Create)
			r.Post("/api/listings/images", listingHandler.UploadImage)
			r.Put("/api/listings/{id}", listingHandler.Update)
			r.Delete("/api/listings/{id}", listingHandler.Delete)

			// お気に入り
			r.Post("/api/listings/{id}/favorite", favoriteHandler.Toggle)
			r.Put("/api/listings/{id}/favorite", favoriteHandler.Add)
			r.Delete("/api/listings/{id}/favorite", favoriteHandler.Remove)
			r.Get("/api/listings/{id}/favorite", favoriteHandler.Status)
			r.Get("/api/favorites", favoriteHandler.List)

			// プロフィール・ユーザー
			r.Get("/api/profiles/me", profileHandler.GetMe)
			r.Put("/api/profiles/me", profileHandler.UpdateMe)
			r.Post("/api/profiles/me/avatar", profileHandler.UploadAvatar)
			r.Delete("/api/users/me", userHandler.Withdraw)

			// 会話・メッセージ
			r.Post("/api/conversations", chatHandler.Resolve)
			r.Get("/api/conversations", chatHandler.List)
			r.Get("/api/conversations/{id}", chatHandler.Open)
			r.Delete("/api/conversations/{id}", chatHandler.DeleteConversation)
			r.Post("/api/conversations/{id}/read", chatHandler.MarkRead)
			// メッセージ送信は専用のレート制限を追加
			r.With(deps.RateLimiter.MessageMiddleware()).Post("/api/conversations/{id}/messages", chatHandler.Send)
			r.Post("/api/messages/images", chatHandler.UploadImage)
			r.Delete("/api/messages/{id}", chatHandler.DeleteMessage)
		})
	})

	// --- リアルタイム購読（WebSocket） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/realtime/conversations/{id}", realtimeHandler.Conversation)
		r.Get("/api/realtime/inbox", realtimeHandler.Inbox)
	})

	return r
}
