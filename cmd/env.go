package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/crawler"
	"github.com/beaconhq/growth-engine/internal/knowledge"
	"github.com/beaconhq/growth-engine/internal/plangen"
	"github.com/beaconhq/growth-engine/internal/queue"
	"github.com/beaconhq/growth-engine/internal/retrieval"
	"github.com/beaconhq/growth-engine/internal/store"
	anthropicpkg "github.com/beaconhq/growth-engine/pkg/anthropic"
	"github.com/beaconhq/growth-engine/pkg/render"
)

// appEnv holds the initialized store, redis-backed queue primitives, and
// clients shared by the serve/work commands.
type appEnv struct {
	Store  store.Store
	Redis  *redis.Client
	Queue  queue.Queue
	Locks  *queue.RedisLocker
	Events *queue.RedisEvents
	DLQ    *queue.RedisDLQ
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, redis, and queue primitives. Callers should
// defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "redis ping")
	}

	return &appEnv{
		Store:  st,
		Redis:  rdb,
		Queue:  queue.NewRedisQueue(rdb),
		Locks:  queue.NewRedisLocker(rdb),
		Events: queue.NewRedisEvents(rdb),
		DLQ:    queue.NewRedisDLQ(rdb),
	}, nil
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		zap.L().Info("using sqlite store", zap.String("path", cfg.Store.DatabaseURL))
		return st, nil
	case "", "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		zap.L().Info("using postgres store")
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newGenerator builds the Anthropic-backed plan text generator.
func newGenerator() *plangen.AnthropicGenerator {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return plangen.NewAnthropicGenerator(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
}

// newCrawler assembles the fetch chain (static with rendered fallback),
// robots checker, and bounded crawl pool.
func newCrawler() *crawler.Crawler {
	static := crawler.NewStaticFetcher(cfg.Crawl.UserAgent)

	var fetcher crawler.Fetcher = static
	if cfg.Render.Key != "" {
		renderClient := render.NewClient(cfg.Render.Key, render.WithBaseURL(cfg.Render.BaseURL))
		fetcher = crawler.NewChainFetcher(static, crawler.NewRenderedFetcher(renderClient))
		zap.L().Info("rendered fetch fallback enabled")
	}

	robots := crawler.NewRobotsChecker(
		&http.Client{Timeout: cfg.Crawl.PageTimeout},
		cfg.Crawl.UserAgent,
		time.Hour,
	)

	return crawler.New(fetcher, robots, crawler.Config{
		MaxDepth:           cfg.Crawl.MaxDepth,
		MaxDepthOneLinks:   cfg.Crawl.MaxDepthOneLinks,
		PageTimeout:        cfg.Crawl.PageTimeout,
		PoolSize:           cfg.Crawl.PoolSize,
		PerHostConcurrency: cfg.Crawl.PerHostConcurrency,
		HostRate:           cfg.Crawl.HostRate,
		HostBurst:          cfg.Crawl.HostBurst,
	})
}

// newRetriever picks the knowledge searcher matching the store backend: the
// pg_trgm searcher on postgres, the in-memory lexical searcher elsewhere
// (seeded from kbDir when set).
func newRetriever(st store.Store, kbDir string) (*retrieval.Retriever, error) {
	var searcher knowledge.Searcher
	if ps, ok := st.(*store.PostgresStore); ok {
		searcher = knowledge.NewPostgresSearcher(ps.Pool(), cfg.Retrieval.MinScore)
	} else {
		mem := knowledge.NewMemorySearcher()
		if kbDir != "" {
			docs, err := knowledge.LoadDocuments(kbDir)
			if err != nil {
				return nil, eris.Wrapf(err, "load knowledge docs from %s", kbDir)
			}
			mem.Load(docs)
			zap.L().Info("loaded knowledge documents", zap.Int("count", len(docs)), zap.String("dir", kbDir))
		}
		searcher = mem
	}

	return retrieval.New(searcher, retrieval.Config{
		TopK:         cfg.Retrieval.TopK,
		PerQueryHits: cfg.Retrieval.PerQueryHits,
	}), nil
}
