package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/landmarket/internal/auth"
	"github.com/hitoshi/landmarket/internal/chat"
	"github.com/hitoshi/landmarket/internal/config"
	"github.com/hitoshi/landmarket/internal/database"
	"github.com/hitoshi/landmarket/internal/favorite"
	"github.com/hitoshi/landmarket/internal/handler"
	"github.com/hitoshi/landmarket/internal/listing"
	"github.com/hitoshi/landmarket/internal/logger"
	"github.com/hitoshi/landmarket/internal/metrics"
	"github.com/hitoshi/landmarket/internal/middleware"
	"github.com/hitoshi/landmarket/internal/profile"
	"github.com/hitoshi/landmarket/internal/realtime"
	"github.com/hitoshi/landmarket/internal/repository"
	"github.com/hitoshi/landmarket/internal/security"
	"github.com/hitoshi/landmarket/internal/storage"
	"github.com/hitoshi/landmarket/internal/user"
	"github.com/hitoshi/landmarket/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
// 起動直後はDBの準備が整っていないことがあるため、pingはリトライする。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.Retry(ctx, cfg.DBRetryAttempts, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はPrometheusレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newBroker はREDIS_URLが設定されていればRedisBroker、無ければプロセス内のLocalBrokerを返す。
// 返り値のclose関数は終了時に必ず呼ぶこと。
func newBroker(ctx context.Context, cfg *config.Config, recorder metrics.Recorder) (realtime.Broker, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("realtime broker: in-process")
		return realtime.NewLocalBroker(realtime.DefaultBufferSize, recorder), func() {}, nil
	}

	client, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("realtime broker: redis")
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return realtime.NewRedisBroker(client, realtime.DefaultBufferSize, recorder), closeFn, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)
	favoriteRepo := repository.NewPostgresFavoriteRepo(db)
	convRepo := repository.NewPostgresConversationRepo(db)
	msgRepo := repository.NewPostgresMessageRepo(db)
	imageRepo := repository.NewPostgresImageRepo(db)

	// 3. 横断的な依存（サニタイザー・メトリクス・ブローカー）
	sanitizer := security.NewContentSanitizer()
	registry, collector := newMetrics()

	broker, closeBroker, err := newBroker(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeBroker()

	// 4. ドメインサービスの初期化
	storageService := storage.NewService(imageRepo, cfg.BaseURL, cfg.UploadMaxSize, collector)
	profileService := profile.NewService(profileRepo, userRepo, listingRepo, storageService, sanitizer)
	listingService := listing.NewService(
		listingRepo, favoriteRepo, profileService, storageService, sanitizer,
		collector, cfg.DBRetryAttempts,
	)
	favoriteService := favorite.NewService(favoriteRepo, listingRepo, profileService, collector)
	chatService := chat.NewService(chat.Deps{
		Conversations: convRepo,
		Messages:      msgRepo,
		Users:         userRepo,
		Listings:      listingRepo,
		Profiles:      profileService,
		Uploader:      storageService,
		Broker:        broker,
		Sanitizer:     sanitizer,
		Recorder:      collector,
		RetryAttempts: cfg.DBRetryAttempts,
	})
	authService := auth.NewService(
		userRepo, sessionRepo, profileRepo,
		auth.NewTokenSigner(cfg.SessionSecret),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	userService := user.NewService(
		userRepo, sessionRepo,
		favoriteRepo, convRepo, listingRepo, imageRepo, profileRepo,
	)

	// 5. ハンドラーアダプタの構築
	chatAdapter := handler.NewChatServiceAdapter(chatService)

	// 6. レートリミッターの構築（設定値はreq/min）
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMessage),
	)
	defer rateLimiter.Stop()

	// 7. HTTPサーバーの構築
	// WriteTimeoutはTimeoutミドルウェアより長くし、タイムアウト応答を書き切れるようにする。
	// WebSocketはUpgrade時にgorillaが期限を解除する。
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout + 15*time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		Recorder:       collector,
		Logger:         slog.Default(),

		SessionResolver:   authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		RequestTimeout: cfg.RequestTimeout,
		UploadMaxSize:  cfg.UploadMaxSize,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ListingService:  handler.NewListingServiceAdapter(listingService),
		FavoriteService: handler.NewFavoriteServiceAdapter(favoriteService),

		ProfileService: handler.NewProfileServiceAdapter(profileService),
		UserService:    userService,

		ChatService:        chatAdapter,
		Broker:             broker,
		RealtimeAuthorizer: chatAdapter,
		Shutdown:           notifyOnShutdown(server),

		StorageService: storageService,
	}

	server.Handler = handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	return serveUntilDone(ctx, server, "API server")
}

// notifyOnShutdown はserver.Shutdownの開始時に閉じられるチャネルを返す。
// Hijack済みのWebSocketはShutdownの追跡対象外のため、これで終了を伝える。
func notifyOnShutdown(server *http.Server) <-chan struct{} {
	ch := make(chan struct{})
	server.RegisterOnShutdown(func() { close(ch) })
	return ch
}

// serveUntilDone はctxが終了するまでserverを動かし、終了後にグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down " + name + "...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", name, err)
		}
		slog.Info(name + " stopped gracefully")
		return nil
	})

	return g.Wait()
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// メトリクスは/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクスの初期化
	registry, collector := newMetrics()

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)
	cleanupJob.ImageRetention = cfg.OrphanImageRetention

	// 4. メトリクス・ヘルスチェック用のHTTPサーバー
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(registry))
	mux.Handle("GET /health", handler.NewHealthHandler(db))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Duration("image_retention", cfg.OrphanImageRetention),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.SessionCleanupInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, server, "worker metrics server")
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
