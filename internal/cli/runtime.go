package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/config"
	"daily-quiz-composer/internal/domain"
	"daily-quiz-composer/internal/infra/memory"
	"daily-quiz-composer/internal/infra/postgres"
	redisinfra "daily-quiz-composer/internal/infra/redis"
	"daily-quiz-composer/internal/logging"
	"daily-quiz-composer/internal/metrics"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// runtime is the wired composer with the connections it owns.
type runtime struct {
	cfg      config.Config
	logger   zerolog.Logger
	service  *app.ComposerService
	registry *prometheus.Registry
	pool     *pgxpool.Pool
	redis    *redis.Client
}

func loadRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.App.Name, cfg.App.Env, cfg.Log.Level)
	return buildRuntime(ctx, cfg, logger)
}

// buildRuntime picks Postgres and Redis when configured and falls back to
// the in-memory adapters otherwise.
func buildRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	defaults, err := cfg.ComposerDefaults()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var appStore app.Store
	if cfg.Postgres.URL != "" {
		rt.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		appStore = postgres.NewStore(rt.pool)
		logger.Info().Msg("using postgres store")
	} else {
		questions, err := loadSeed(cfg.Pool.SeedFile)
		if err != nil {
			return nil, err
		}
		appStore = memory.NewStore(questions...)
		logger.Info().Int("questions", len(questions)).Msg("using in-memory store")
	}

	cacheTTL := config.TTLDuration(cfg.Templates.CacheTTL, 10*time.Minute)
	opts := []app.Option{
		app.WithDefaults(defaults),
		app.WithHealthThresholds(healthThresholds(cfg)),
		app.WithRecorder(metrics.New(rt.registry)),
		app.WithLogger(logger),
	}
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		lockTTL := config.TTLDuration(cfg.Redis.LockTTL, 30*time.Second)
		opts = append(opts,
			app.WithDropLocker(redisinfra.NewDropLocker(rt.redis, lockTTL)),
			app.WithTemplateCache(redisinfra.NewTemplateCache(rt.redis, appStore, config.TTLDuration(cfg.Redis.TemplateTTL, cacheTTL))),
		)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis lock and template cache")
	} else {
		opts = append(opts,
			app.WithDropLocker(memory.NewDropLocker()),
			app.WithTemplateCache(memory.NewTemplateCache(appStore, cacheTTL)),
		)
	}

	baseURL := cfg.Templates.BaseURL
	if baseURL == "" {
		baseURL = "https://cdn.example.com"
	}
	if cfg.Templates.Secret == "" {
		logger.Warn().Msg("template secret not configured, answer digests use an empty key")
	}
	rt.service = app.NewComposerService(appStore, app.NewTemplateAssembler(baseURL, cfg.Templates.Secret), opts...)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

func healthThresholds(cfg config.Config) app.HealthThresholds {
	h := app.DefaultHealthThresholds()
	if cfg.Health.Window > 0 {
		h.Window = cfg.Health.Window
	}
	if cfg.Health.MaxFailureRate > 0 {
		h.MaxFailureRate = cfg.Health.MaxFailureRate
	}
	if cfg.Health.MaxAverageRelaxation > 0 {
		h.MaxAverageRelaxation = cfg.Health.MaxAverageRelaxation
	}
	if cfg.Health.PoolSafetyFactor > 0 {
		h.PoolSafetyFactor = cfg.Health.PoolSafetyFactor
	}
	h.Lookahead = config.TTLDuration(cfg.Health.Lookahead, h.Lookahead)
	return h
}

// loadSeed reads a JSON array of questions. An empty path yields an empty pool.
func loadSeed(path string) ([]domain.Question, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	return questions, nil
}
