package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/presenze/internal/config"
	"github.com/hitoshi/presenze/internal/database"
	"github.com/hitoshi/presenze/internal/export"
	"github.com/hitoshi/presenze/internal/handler"
	"github.com/hitoshi/presenze/internal/ledger"
	"github.com/hitoshi/presenze/internal/logger"
	"github.com/hitoshi/presenze/internal/metrics"
	"github.com/hitoshi/presenze/internal/middleware"
	"github.com/hitoshi/presenze/internal/repository"
	"github.com/hitoshi/presenze/internal/sorter"
)

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
// argsにはos.Args[1:]を渡す。exportコマンドではwにCSVを書き出し、ログは標準エラーに出力する。
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

	logOut := w
	if cmd == CommandExport {
		logOut = os.Stderr
	}

	cfg, err := Init(logOut)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("port", cfg.ServerPort),
	)
	if len(args) > 0 {
		if _, ok := LookupCommand(args[0]); !ok {
			slog.Warn("unknown command, falling back to serve", slog.String("arg", args[0]))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandExport:
		return runExport(ctx, cfg, w, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 永続化層を開いて台帳を読み込み、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. 永続化層
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 台帳の構築と読み込み（旧形式レコードはここで正規形に書き換わる）
	l, err := newLedger(cfg, store.repo, collector)
	if err != nil {
		return err
	}
	if _, err := loadLedger(ctx, l); err != nil {
		return err
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitSign))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AdminToken:        cfg.AdminToken,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,

		Ledger:          l,
		SignatureConfig: handler.SignatureHandlerConfig{NoticeTTL: cfg.NoticeTTL},
		ExportRecorder:  collector,

		HealthChecker:  store.health,
		MetricsHandler: metrics.Handler(reg),
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はマイグレーションを実行する。
// postgresではスキーママイグレーションを適用し、どのバックエンドでも
// 台帳を一度読み込んで旧形式のレコードを正規形に書き換える。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageBackend == config.BackendPostgres {
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
		)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	l, err := newLedger(cfg, store.repo, nil)
	if err != nil {
		return err
	}

	report, err := loadLedger(ctx, l)
	if err != nil {
		return err
	}

	slog.Info("legacy record rewrite completed",
		slog.Int("total", report.Total),
		slog.Int("migrated", report.Migrated),
		slog.Int("duplicates", report.Duplicates),
		slog.Bool("rewritten", report.Rewritten),
	)
	return nil
}

// runExport は保存済みの台帳を読み込み、並び替えたCSVをoutに書き出す。
func runExport(ctx context.Context, cfg *config.Config, out io.Writer, args []string) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return exportStored(ctx, cfg, store.repo, out, args)
}

// exportStored はrepoの内容を読み込んでCSVを書き出す。
// 旧形式レコードはメモリ上で変換するだけで、永続化層には書き戻さない。
func exportStored(ctx context.Context, cfg *config.Config, repo repository.SignatureRepository, out io.Writer, args []string) error {
	l, err := newLedger(cfg, repo, nil, ledger.WithoutRewrite())
	if err != nil {
		return err
	}
	if _, err := loadLedger(ctx, l); err != nil {
		return err
	}

	return exportLedger(l, out, args)
}

// exportLedger はexportサブコマンドのフラグを解析し、台帳をCSVとして書き出す。
//
//	-sort        lastName|firstName|email|timestamp（デフォルト: lastName）
//	-direction   ascending|descending（デフォルト: ascending）
//	-allow-empty 署名が0件でもヘッダー行のみのファイルを書き出す
//
// 保存内容は変更しない。旧形式レコードの書き換えはmigrateで行う。
func exportLedger(l *ledger.Ledger, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	sortFlag := fs.String("sort", string(sorter.DefaultKey), "sort key (lastName, firstName, email, timestamp)")
	directionFlag := fs.String("direction", string(sorter.DefaultDirection), "sort direction (ascending, descending)")
	allowEmpty := fs.Bool("allow-empty", false, "write a header-only file when the ledger is empty")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid export flags: %w", err)
	}

	key, ok := sorter.ParseKey(*sortFlag)
	if !ok {
		return fmt.Errorf("invalid sort key %q", *sortFlag)
	}
	dir, ok := sorter.ParseDirection(*directionFlag)
	if !ok {
		return fmt.Errorf("invalid sort direction %q", *directionFlag)
	}

	records := sorter.Order(l.List(), key, dir)
	if err := export.Write(out, records, *allowEmpty); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	slog.Info("ledger exported",
		slog.Int("count", len(records)),
		slog.String("sort", string(key)),
		slog.String("direction", string(dir)),
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
