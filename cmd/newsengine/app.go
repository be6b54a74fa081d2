package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/config"
	dbredis "github.com/newsiq/newsengine/internal/db/redis"
	"github.com/newsiq/newsengine/internal/domain"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/domain/story"
	"github.com/newsiq/newsengine/internal/metrics"
	articlerepo "github.com/newsiq/newsengine/internal/repository/article"
	clusterrepo "github.com/newsiq/newsengine/internal/repository/cluster"
	"github.com/newsiq/newsengine/internal/repository/embcache"
	interactionrepo "github.com/newsiq/newsengine/internal/repository/interaction"
	researchrepo "github.com/newsiq/newsengine/internal/repository/research"
	sourcerepo "github.com/newsiq/newsengine/internal/repository/source"
	userrepo "github.com/newsiq/newsengine/internal/repository/user"
	"github.com/newsiq/newsengine/internal/transport/events"
	openaitr "github.com/newsiq/newsengine/internal/transport/openai"
	"github.com/newsiq/newsengine/internal/transport/rss"
	articleuc "github.com/newsiq/newsengine/internal/usecase/article"
	clusteringuc "github.com/newsiq/newsengine/internal/usecase/clustering"
	embeddinguc "github.com/newsiq/newsengine/internal/usecase/embedding"
	healthuc "github.com/newsiq/newsengine/internal/usecase/health"
	ingestionuc "github.com/newsiq/newsengine/internal/usecase/ingestion"
	rankinguc "github.com/newsiq/newsengine/internal/usecase/ranking"
	researchuc "github.com/newsiq/newsengine/internal/usecase/research"
)

const healthTimeout = 3 * time.Second

// app is the composition root shared by the serve and fetch commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store *dbredis.Store
	bus   *events.Bus

	articles   *articleuc.Service
	clustering *clusteringuc.Service
	ranking    *rankinguc.Service
	research   *researchuc.Service
	ingestion  *ingestionuc.Service
	health     *healthuc.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	metrics.Register()

	store, err := dbredis.NewStore(dbredis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	defer func() {
		if err != nil {
			store.Close()
		}
	}()
	if err := store.WaitForReady(ctx, config.Seconds(cfg.Database.ReadinessTimeout)); err != nil {
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))

	prefix := cfg.Storage.KeyPrefix
	dim := cfg.Index.Dimensions

	articleRepo := articlerepo.New(store, prefix, dim)
	if err := articleRepo.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("article index: %w", err)
	}
	clusterRepo := clusterrepo.New(store, prefix, dim)
	if err := clusterRepo.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("cluster index: %w", err)
	}
	rk := cfg.Ranking
	userRepo := userrepo.New(store, prefix, time.Duration(rk.SessionTTLMin)*time.Minute)

	embedder, embedHealth := buildEmbedder(cfg, store, logger)
	generator := openaitr.NewGenerator(&openaitr.GeneratorConfig{
		Config: openaitr.Config{
			APIKey:  cfg.Generation.APIKey,
			BaseURL: cfg.Generation.BaseURL,
			Model:   cfg.Generation.Model,
			Logger:  logger,
		},
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	})

	bus := events.New(int64(cfg.Events.BufferSize), cfg.Events.ClusterWorkers, logger)
	articles := articleuc.New(articleRepo, bus, logger)

	cl := cfg.Clustering
	clustering := clusteringuc.New(clusterRepo, articles, logger).
		WithThresholds(clusteringuc.Thresholds{
			Join:           cl.JoinThreshold,
			Link:           cl.LinkThreshold,
			StabilityFloor: cl.StabilityFloor,
		}).
		WithPolicy(story.Policy{
			OngoingVolume: cl.OngoingVolume,
			OngoingWindow: time.Duration(cl.OngoingWindowHours) * time.Hour,
			Quiescence:    time.Duration(cl.QuiescenceHours) * time.Hour,
		})

	ranking, err := rankinguc.New(userRepo, interactionrepo.New(store, prefix), articles, clustering, rankinguc.Options{
		Weights: rankinguc.Weights{
			LongTerm:    rk.Weights.LongTerm,
			Session:     rk.Weights.Session,
			Credibility: rk.Weights.Credibility,
			Recency:     rk.Weights.Recency,
		},
		HalfLife:                time.Duration(rk.HalfLifeHours) * time.Hour,
		Lookback:                time.Duration(rk.LookbackDays) * 24 * time.Hour,
		CandidateK:              rk.CandidateK,
		BlindSpotMinCredibility: rk.BlindSpotMinCredibility,
		LearningRate:            rk.LearningRate,
		SessionAlpha:            rk.SessionAlpha,
		FallbackSize:            rk.FallbackSize,
		FallbackTTL:             time.Duration(rk.FallbackTTLMin) * time.Minute,
		Workers:                 rk.FeedbackWorkers,
	}, logger)
	if err != nil {
		return nil, err
	}

	rs := cfg.Research
	research := researchuc.New(researchrepo.New(store, prefix), articles, clustering, generator, researchuc.Options{
		TTL:                  time.Duration(rs.TTLHours) * time.Hour,
		GenerationTimeout:    config.Seconds(rs.GenerationTimeoutSec),
		RelatedK:             rs.RelatedK,
		SiblingLimit:         rs.SiblingLimit,
		StaleAfterNewRelated: rs.StaleAfterNewRelated,
	}, logger)

	in := cfg.Ingestion
	fetcher := rss.NewFetcher(&http.Client{Timeout: config.Seconds(in.FetchTimeoutSec)}, in.UserAgent).
		WithHostInterval(time.Duration(in.HostIntervalMs) * time.Millisecond)
	ingestion := ingestionuc.New(sourcerepo.New(store, prefix), fetcher, articles, embedder, logger).
		WithOptions(ingestionuc.Options{
			Concurrency:          in.Concurrency,
			DefaultInterval:      config.Seconds(in.DefaultIntervalSec),
			MaxItemsPerFetch:     in.MaxArticlesPerFetch,
			MinContentForExtract: in.MinContentCharsForExtract,
			EmbedAttempts:        in.EmbedAttempts,
			EmbedBackoff:         time.Duration(in.EmbedBackoffMs) * time.Millisecond,
			MaxEmbedChars:        cfg.Embedding.MaxInputChars,
			Backoff: domsource.Backoff{
				Max:       config.Seconds(in.MaxIntervalSec),
				Threshold: in.ErrorThreshold,
			},
		})
	if err := ingestion.Sync(ctx, sourceDefs(in.Sources)); err != nil {
		return nil, fmt.Errorf("sync sources: %w", err)
	}

	if err := bus.SubscribeArticleStored(ctx, func(ctx context.Context, evt events.ArticleStored) error {
		_, err := clustering.Assign(ctx, evt.ArticleID)
		return err
	}); err != nil {
		return nil, err
	}

	health := healthuc.New(healthTimeout,
		healthuc.Component{Name: "database", Checker: healthuc.CheckerFunc(store.Ping), Critical: true},
		healthuc.Component{Name: "embedding", Checker: embedHealth},
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		bus:        bus,
		articles:   articles,
		clustering: clustering,
		ranking:    ranking,
		research:   research,
		ingestion:  ingestion,
		health:     health,
	}, nil
}

// buildEmbedder assembles the chain OpenAI -> cache -> instrumentation -> instruction prefix.
// The instrumented layer is returned separately as the health probe.
func buildEmbedder(
	cfg config.Config, store *dbredis.Store, logger *zap.Logger,
) (domain.Embedder, *embeddinguc.InstrumentedEmbedder) {
	var embedder domain.Embedder = openaitr.NewEmbedder(&openaitr.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Index.Dimensions,
		Logger:     logger,
	})
	if days := cfg.Storage.EmbeddingCacheDays; days > 0 {
		embedder = embcache.New(embedder, store, cfg.Storage.KeyPrefix,
			time.Duration(days)*24*time.Hour, metrics.EmbeddingCacheTotal, logger)
	}
	instrumented := embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Embedding.Model, cfg.Index.Dimensions, logger)
	if instr := cfg.Embedding.DocumentInstruction; instr != "" {
		return domain.NewInstructionEmbedder(instrumented, instr), instrumented
	}
	return instrumented, instrumented
}

func sourceDefs(srcs []config.SourceConfig) []ingestionuc.SourceDef {
	defs := make([]ingestionuc.SourceDef, 0, len(srcs))
	for _, s := range srcs {
		defs = append(defs, ingestionuc.SourceDef{
			Name:        s.Name,
			URL:         s.URL,
			Interval:    config.Seconds(s.IntervalSec),
			Credibility: s.Credibility,
			Topics:      s.Topics,
		})
	}
	return defs
}

// close releases resources in dependency order: event consumers first, then
// queued feedback, then the store they write to.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.ranking.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.store.Close()
	return errors.Join(errs...)
}
