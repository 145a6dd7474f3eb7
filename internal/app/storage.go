package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/presenze/internal/config"
	"github.com/hitoshi/presenze/internal/database"
	"github.com/hitoshi/presenze/internal/handler"
	"github.com/hitoshi/presenze/internal/ledger"
	"github.com/hitoshi/presenze/internal/remote"
	"github.com/hitoshi/presenze/internal/repository"
	"github.com/hitoshi/presenze/internal/roster"
	"github.com/hitoshi/presenze/internal/validator"
)

const storagePingTimeout = 5 * time.Second

// storage は選択された永続化層と、そのヘルスチェック・後始末をまとめたもの。
type storage struct {
	repo   repository.SignatureRepository
	health handler.HealthChecker // memory/remoteではnil
	close  func() error
}

// Close は永続化層の接続を閉じる。
func (s *storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// redisHealthChecker はredis.ClientをHealthCheckerとして扱うアダプタ。
type redisHealthChecker struct {
	client *redis.Client
}

func (h redisHealthChecker) PingContext(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// openStorage はSTORAGE_BACKENDに応じて永続化層を開く。
// postgres/redisは接続確認まで行い、失敗した場合はエラーを返す。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory storage, signatures are lost on restart")
		return &storage{repo: repository.NewMemorySignatureRepo()}, nil

	case config.BackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(ctx, db, storagePingTimeout); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &storage{
			repo:   repository.NewPostgresSignatureRepo(db),
			health: db,
			close:  db.Close,
		}, nil

	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, storagePingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		slog.Info("redis connection established", slog.String("key", cfg.RedisKey))
		return &storage{
			repo:   repository.NewRedisSignatureRepo(client, cfg.RedisKey),
			health: redisHealthChecker{client: client},
			close:  client.Close,
		}, nil

	case config.BackendRemote:
		client := remote.NewClient(
			&http.Client{Timeout: cfg.RemoteTimeout},
			slog.Default(),
			cfg.RemoteBaseURL,
			cfg.AdminToken,
		)
		slog.Info("using remote ledger service", slog.String("base_url", cfg.RemoteBaseURL))
		return &storage{repo: client}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// newLedger は設定に従ってバリデータと台帳を構築する。recorderはnilでもよい。
// extraは設定由来のオプションの後に適用する。
func newLedger(cfg *config.Config, repo repository.SignatureRepository, recorder ledger.Recorder, extra ...ledger.Option) (*ledger.Ledger, error) {
	validatorOpts := []validator.Option{validator.WithDomain(cfg.EmailDomain)}
	if cfg.RosterFile != "" {
		r, err := roster.LoadFile(cfg.RosterFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load roster: %w", err)
		}
		slog.Info("roster loaded",
			slog.String("path", cfg.RosterFile),
			slog.Int("emails", r.Len()),
		)
		validatorOpts = append(validatorOpts, validator.WithRoster(r))
	}

	ledgerOpts := []ledger.Option{ledger.WithLocation(cfg.Location())}
	if recorder != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithRecorder(recorder))
	}
	ledgerOpts = append(ledgerOpts, extra...)

	return ledger.New(repo, validator.New(validatorOpts...), slog.Default(), ledgerOpts...), nil
}

// loadLedger は永続化層から台帳を読み込む。
func loadLedger(ctx context.Context, l *ledger.Ledger) (ledger.LoadReport, error) {
	report, err := l.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load ledger: %w", err)
	}
	return report, nil
}
