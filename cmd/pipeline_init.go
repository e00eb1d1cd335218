package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oddlyrohit/councilscraper/internal/adapters"
	"github.com/oddlyrohit/councilscraper/internal/dedup"
	"github.com/oddlyrohit/councilscraper/internal/mapping"
	"github.com/oddlyrohit/councilscraper/internal/monitoring"
	"github.com/oddlyrohit/councilscraper/internal/pipeline"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
	"github.com/oddlyrohit/councilscraper/internal/quality"
	"github.com/oddlyrohit/councilscraper/internal/rawstore"
	"github.com/oddlyrohit/councilscraper/internal/registry"
	"github.com/oddlyrohit/councilscraper/internal/resilience"
	"github.com/oddlyrohit/councilscraper/internal/scheduler"
	"github.com/oddlyrohit/councilscraper/internal/store"
	"github.com/oddlyrohit/councilscraper/pkg/inference"
)

// pipelineEnv holds the initialized store, registry, and coordinator shared
// by the scrape/schedule/mapping commands.
type pipelineEnv struct {
	Store       store.Store
	Registry    *registry.Registry
	Proxies     *proxy.Manager
	Mappings    *mapping.Cache
	Learner     *mapping.Learner
	Coordinator *pipeline.Coordinator
	Scheduler   *scheduler.Scheduler
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline wires every collaborator the coordinator needs. Callers
// should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	proxies := proxy.NewManager(proxy.Config{
		EscalateAfter:   cfg.Proxy.EscalateAfter,
		FailureWindow:   time.Duration(cfg.Proxy.FailureWindowMins) * time.Minute,
		DeescalateAfter: cfg.Proxy.DeescalateAfter,
		Cooldown:        time.Duration(cfg.Proxy.CooldownMins) * time.Minute,
		OnTierChange: func(sourceCode string, from, to proxy.Tier) {
			zap.L().Warn("proxy tier changed",
				zap.String("source", sourceCode),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	reg, err := buildRegistry(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cache := mapping.NewCache(st)
	learner := mapping.NewLearner(
		inference.NewClient(cfg.Anthropic.Key),
		cache,
		cfg.Anthropic.Model,
		int64(cfg.Anthropic.MaxTokens),
	)

	retry := resilience.DefaultRetryConfig()
	if cfg.Scraper.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Scraper.MaxRetries
	}

	coord := pipeline.New(pipeline.Deps{
		Store:    st,
		Registry: reg,
		Proxies:  proxies,
		Mappings: cache,
		Learner:  learner,
		Dedup:    dedup.New(st, cfg.Dedup.FuzzyWindowDays),
		Quality:  quality.NewChecker(cfg.Quality.AnomalyDeviation, cfg.Quality.BaselineRuns, cfg.Quality.LowScoreFlag),
		Archive:  rawstore.New(cfg.Raw.Path),
		Alerts:   monitoring.NewAlerter(cfg.Alerting.WebhookURL, time.Duration(cfg.Alerting.TimeoutSecs)*time.Second),
	}, pipeline.Config{
		Retry:             retry,
		RunTimeout:        time.Duration(cfg.Scraper.RunTimeoutSecs) * time.Second,
		MappingSampleSize: cfg.Scraper.MappingSampleSize,
	})

	return &pipelineEnv{
		Store:       st,
		Registry:    reg,
		Proxies:     proxies,
		Mappings:    cache,
		Learner:     learner,
		Coordinator: coord,
		Scheduler:   scheduler.New(reg, coord, cfg.Scheduler),
	}, nil
}

// buildRegistry binds an adapter to every source on record.
func buildRegistry(ctx context.Context, st store.Store) (*registry.Registry, error) {
	sources, err := st.ListSources(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list sources")
	}

	endpoints := proxy.Endpoints{
		DatacenterURL:  cfg.Proxy.DatacenterProxyURL,
		ResidentialURL: cfg.Proxy.ResidentialURL,
	}

	reg := registry.New()
	for _, src := range sources {
		switch src.PortalType {
		case "", "json":
			reg.Register(src, adapters.NewJSONPortal(src, adapters.PortalOptions{
				UserAgent:  cfg.Scraper.UserAgent,
				Timeout:    time.Duration(cfg.Scraper.TimeoutSecs) * time.Second,
				RatePerSec: cfg.Scraper.RateLimitPerSec,
				Endpoints:  endpoints,
			}))
		default:
			zap.L().Warn("skipping source with unsupported portal type",
				zap.String("source", src.Code),
				zap.String("portal_type", src.PortalType))
		}
	}

	if reg.Len() == 0 {
		zap.L().Warn("no sources registered; add some with 'councilscraper sources add'")
	}
	return reg, nil
}
