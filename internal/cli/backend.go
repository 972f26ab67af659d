package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"quiz-round-service/internal/app"
	"quiz-round-service/internal/config"
	"quiz-round-service/internal/domain"
	"quiz-round-service/internal/infra/memory"
	"quiz-round-service/internal/infra/postgres"
	redisstore "quiz-round-service/internal/infra/redis"
	"quiz-round-service/internal/report"
)

// durableStore is what either the Postgres or the in-memory store provides.
type durableStore interface {
	app.PollRepository
	app.Roster
	app.ScoredRecordStore
	app.ParticipantDirectory
	MarkOpen(ctx context.Context, questionID string) error
	MarkClosed(ctx context.Context, questionID string) error
	LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// backend holds the stores selected by configuration.
type backend struct {
	store       durableStore
	catalog     app.QuestionCatalog
	submissions app.SubmissionStore
	redis       *redis.Client
	closers     []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend uses Postgres when postgres.url is set and Redis when redis.addr is
// set. Without either everything lives in process memory.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{}

	if cfg.Postgres.URL != "" {
		db := postgres.Open(cfg.Postgres.URL)
		b.closers = append(b.closers, func() { _ = db.Close() })
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.store = &pgBackedStore{Store: postgres.NewStore(db), QuestionLoader: postgres.NewQuestionLoader(pool)}
		logger.Info("using postgres store")
	} else {
		b.store = memory.NewStore()
		logger.Warn("postgres not configured, polls are kept in memory")
	}

	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = b.redis.Close() })
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("using redis", zap.String("addr", cfg.Redis.Addr))
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	if b.redis != nil {
		b.catalog = redisstore.NewCachedCatalog(b.redis, b.store, b.store, catalogTTL)
		b.submissions = redisstore.NewSubmissionStore(b.redis, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	} else {
		b.catalog = memory.NewCachedCatalog(b.store, b.store, catalogTTL)
		b.submissions = memory.NewSubmissionStore()
	}
	return b, nil
}

// pgBackedStore reads questions through pgx and writes everything else through bun.
type pgBackedStore struct {
	*postgres.Store
	*postgres.QuestionLoader
}

func (b *backend) pollService(logger *zap.Logger) *app.PollService {
	return app.NewPollService(b.store, b.catalog, b.store, logger)
}

func (b *backend) aggregator(logger *zap.Logger) *report.Aggregator {
	return report.NewAggregator(b.store, b.catalog, b.store, b.store, b.store, logger)
}

func openDB(cfg config.Config) (*bun.DB, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("postgres url not configured")
	}
	return postgres.Open(cfg.Postgres.URL), nil
}
