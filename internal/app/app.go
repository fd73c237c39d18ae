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

	"github.com/hitoshi/parkman/internal/cache"
	"github.com/hitoshi/parkman/internal/config"
	"github.com/hitoshi/parkman/internal/database"
	"github.com/hitoshi/parkman/internal/events"
	"github.com/hitoshi/parkman/internal/handler"
	"github.com/hitoshi/parkman/internal/logger"
	"github.com/hitoshi/parkman/internal/lot"
	"github.com/hitoshi/parkman/internal/metrics"
	"github.com/hitoshi/parkman/internal/middleware"
	"github.com/hitoshi/parkman/internal/report"
	"github.com/hitoshi/parkman/internal/repository"
	"github.com/hitoshi/parkman/internal/reservation"
	"github.com/hitoshi/parkman/internal/security"
	"github.com/hitoshi/parkman/internal/worker/lotcache"
	"github.com/hitoshi/parkman/internal/worker/notify"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("unknown LOG_LEVEL, falling back to info", slog.String("log_level", cfg.LogLevel))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("time_zone", cfg.TimeZone),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns

	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newCacheStore はREDIS_ADDRが設定されていればRedis、なければプロセス内のストアを返す。
// 戻り値のcloseは終了時に呼び出す。
func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.RedisAddr == "" {
		slog.Info("REDIS_ADDR is not set, using in-process cache")
		return cache.NewMemoryStore(), func() {}, nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	return cache.NewRedisStore(client), func() { client.Close() }, nil
}

// newEventSink はAMQP_URLが設定されていればRabbitMQ、なければログ出力の配信先を返す。
func newEventSink(cfg *config.Config) (events.Sink, func(), error) {
	if cfg.AMQPURL == "" {
		slog.Info("AMQP_URL is not set, reservation events are logged only")
		return events.NewLogSink(slog.Default()), func() {}, nil
	}

	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("amqp publisher ready", slog.String("exchange", cfg.AMQPExchange))
	return publisher, func() { publisher.Close() }, nil
}

// newMetricsRegistry はランタイム・プロセスのメトリクスを含むレジストリを生成する。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()
	log := slog.Default()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	gateway := repository.NewPostgresGateway(db)
	reportRepo := repository.NewPostgresReportRepo(db)

	// 3. メトリクス・キャッシュ・イベント配信の初期化
	reg := newMetricsRegistry()
	mc := metrics.NewCollector(reg)

	store, closeStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up cache: %w", err)
	}
	defer closeStore()
	readCache := cache.New(store, cfg.CacheTTL, log, mc)

	sink, closeSink, err := newEventSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up event sink: %w", err)
	}
	defer closeSink()
	dispatcher := events.NewDispatcher(sink, cfg.EventBufferSize, log, mc)

	// 4. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	reservationService := reservation.NewService(gateway, readCache, dispatcher, mc, sanitizer, log, reservation.Settings{
		Location:    cfg.Location,
		MaxAttempts: cfg.AllocateMaxAttempts,
	})
	lotService := lot.NewService(gateway, reportRepo, readCache, sanitizer, log)
	reportService := report.NewService(reportRepo, readCache, cfg.Location, log)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitBooking),
		log,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		Metrics:            mc,
		MetricsHandler:     metrics.Handler(reg),
		HealthChecker:      reportService,
		RateLimiter:        rateLimiter,
		ReservationService: reservationService,
		LotService:         lotService,
		ReportService:      reportService,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 受付済みのイベントを配信し終えてから配信先を閉じる
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("event dispatcher did not drain before shutdown", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 駐車場一覧キャッシュの定期更新と、予約イベントの通知送信を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 2. 駐車場一覧キャッシュの更新ジョブ
	store, closeStore, err := newCacheStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up cache: %w", err)
	}
	defer closeStore()

	reportService := report.NewService(repository.NewPostgresReportRepo(db), nil, cfg.Location, log)
	warmer := lotcache.NewWarmer(reportService, cache.New(store, cfg.CacheTTL, log, nil), log)
	go warmer.Start(ctx, cfg.LotCacheRefreshInterval)

	// 3. 通知の送信先
	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.Duration("lot_cache_refresh_interval", cfg.LotCacheRefreshInterval),
		slog.Bool("notify_consumer", cfg.AMQPURL != ""),
	)

	if cfg.AMQPURL == "" {
		slog.Info("AMQP_URL is not set, notification consumer is disabled")
		<-ctx.Done()
		slog.Info("worker stopped gracefully")
		return nil
	}

	// 4. 予約イベントの購読（メインgoroutineでブロッキング）
	sub, err := notify.Subscribe(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, notify.DefaultPrefetch)
	if err != nil {
		return fmt.Errorf("failed to subscribe reservation events: %w", err)
	}
	defer sub.Close()

	deliveries, err := sub.Deliveries(ctx)
	if err != nil {
		return err
	}
	if err := notify.NewConsumer(notifier, log).Run(ctx, deliveries); err != nil {
		return fmt.Errorf("notification consumer failed: %w", err)
	}
	if ctx.Err() == nil {
		// ブローカー側で購読が切れた場合は再起動に任せる
		return errors.New("notification consumer stopped unexpectedly")
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newNotifier はNOTIFY_WEBHOOK_URLが設定されていればWebhook、なければログ出力の通知先を返す。
// Webhookの送信先は起動時に検証し、内部ネットワーク宛てであれば起動を中止する。
func newNotifier(cfg *config.Config, log *slog.Logger) (notify.Notifier, error) {
	if cfg.NotifyWebhookURL == "" {
		return notify.NewLogNotifier(log), nil
	}

	guard := security.NewOutboundGuard(false)
	if err := guard.ValidateURL(cfg.NotifyWebhookURL); err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_WEBHOOK_URL: %w", err)
	}
	return notify.NewWebhookNotifier(guard.NewClient(cfg.NotifyTimeout), cfg.NotifyWebhookURL), nil
}

// runMigrate はデータベースマイグレーションを実行する。
// directionがMigrateDownの場合は適用済みのマイグレーションを取り消す。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", string(direction)),
	)

	var err error
	if direction == MigrateDown {
		err = database.RollbackMigrations(cfg.DatabaseURL)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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
