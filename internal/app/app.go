package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/corpus"
	"PaperBlogBot/internal/dispatch"
	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/httpapi"
	"PaperBlogBot/internal/infrastructure/console"
	"PaperBlogBot/internal/infrastructure/llm"
	"PaperBlogBot/internal/infrastructure/ml"
	"PaperBlogBot/internal/infrastructure/parser"
	"PaperBlogBot/internal/infrastructure/pmc"
	"PaperBlogBot/internal/infrastructure/pubmed"
	"PaperBlogBot/internal/infrastructure/render"
	"PaperBlogBot/internal/infrastructure/storage"
	"PaperBlogBot/internal/infrastructure/telegram"
	"PaperBlogBot/internal/infrastructure/topics"
	"PaperBlogBot/internal/logging"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
	"PaperBlogBot/internal/usecase"
	"PaperBlogBot/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	store   ports.CheckpointStore
	machine *workflow.Machine
	closers []func() error
}

// New opens the checkpoint store only. Use it for operator commands that
// never run the workflow.
func New(ctx context.Context, cfg config.Config, baseLogger *zap.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.New()}

	store, closer, err := openStore(ctx, cfg.Checkpoints, baseLogger)
	if err != nil {
		return nil, err
	}
	a.store = store
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	return a, nil
}

// NewWorkflow builds the full application: adapters, pipeline and machine.
func NewWorkflow(ctx context.Context, cfg config.Config, baseLogger *zap.Logger) (*Application, error) {
	a, err := New(ctx, cfg, baseLogger)
	if err != nil {
		return nil, err
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire() error {
	cfg, logger := a.cfg, a.logger

	pubmedClient := pubmed.NewClient(cfg.Search.PubMed, nil)
	registry := corpus.NewRegistry()
	registry.Register(pubmed.NewSearcher(pubmedClient, logger))
	registry.Register(parser.NewArxivSearcher(cfg.Search.Arxiv, nil, logger))

	source, err := corpus.NewSource(registry, cfg.Search.Providers, logger)
	if err != nil {
		return err
	}

	var enricher ports.Enricher
	if cfg.Enrichment.Enabled {
		enricher = pmc.NewEnricher(pubmedClient, logger)
	}

	chat := llm.NewClient(cfg.LLM, logger)

	var scorer ports.Scorer
	switch {
	case cfg.ScoringService.URL != "":
		scorer = ml.NewClient(cfg.ScoringService.URL, cfg.ScoringService.APIKey)
	case chat.Configured():
		scorer = llm.NewScorer(chat, cfg.Pipeline.AcceptThreshold)
	default:
		logger.Warn("no scoring service configured, every batch uses the keyword heuristic")
	}

	var (
		generator ports.Generator
		extractor ports.SubtopicExtractor
	)
	if chat.Configured() {
		generator = llm.NewGenerator(chat)
		extractor = llm.NewExtractor(chat)
	} else {
		generator = render.NewGenerator()
		logger.Warn("no llm key configured, posts are rendered from the offline template")
	}

	suggester := topics.NewSuggester(
		parser.NewSnippetScraper(cfg.Topics, nil, logger),
		extractor,
		cfg.Topics.Dictionary,
		logger,
	)

	p := cfg.Pipeline
	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Searcher: source,
		Enricher: enricher,
		Scorer:   scorer,
		Config: usecase.PipelineConfig{
			Aggregator: usecase.AggregatorConfig{
				PerQueryResults:   p.PerQueryResults,
				BroadResults:      p.BroadResults,
				TargetCount:       p.TargetCount,
				LowYieldThreshold: p.LowYieldThreshold,
				MaxRefinements:    p.MaxRefinements,
			},
			Enrichment: usecase.EnrichmentConfig{
				Prefix:        p.EnrichPrefix,
				Budget:        p.EnrichBudget,
				CallTimeout:   p.EnrichCallTimeout,
				ProgressEvery: p.ProgressEvery,
			},
			Scoring: usecase.ScoringConfig{
				BatchSize:        p.ScoreBatchSize,
				Timeout:          p.ScoreTimeout,
				AcceptThreshold:  p.AcceptThreshold,
				RelevanceMarkers: p.RelevanceMarkers,
				ExclusionMarkers: p.ExclusionMarkers,
			},
		},
		Logger:  logger,
		Metrics: a.metrics,
	})

	a.machine = workflow.NewMachine(workflow.Deps{
		Suggester: suggester,
		Pipeline:  pipeline,
		Generator: generator,
		Store:     a.store,
		Config: workflow.Config{
			SuggestTimeout:    p.SuggestTimeout,
			GenerationTimeout: p.GenerationTimeout,
			ProgressInterval:  p.ProgressInterval,
			ResumeListLimit:   p.ResumeListLimit,
		},
		Logger:  logger,
		Metrics: a.metrics,
	})

	logger.Info("application wired",
		zap.Strings("providers", cfg.Search.Providers),
		zap.Bool("enrichment", enricher != nil),
		zap.Bool("llm", chat.Configured()),
		zap.String("checkpoints", cfg.Checkpoints.Driver),
	)
	return nil
}

// Serve runs the Telegram front end and the ops HTTP server until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	if a.machine == nil {
		return errors.New("application was built without the workflow")
	}
	tg := a.cfg.Telegram
	bot := telegram.NewBot(telegram.NewClient(tg.APIURL, tg.BotToken, tg.PollTimeout), tg.PollTimeout, a.logger)
	d := a.dispatcher(bot, bot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(gctx, d.Submit)
	})
	if addr := a.cfg.HTTP.Address; addr != "" {
		ops := httpapi.NewServer(httpapi.NewOpsHandler(a.store, a.metrics, d.Active), a.logger)
		g.Go(func() error {
			a.logger.Info("ops http listening", zap.String("address", addr))
			if err := httpapi.Serve(gctx, ops, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops http: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := d.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("dispatcher shutdown incomplete", zap.Error(serr))
	}
	return err
}

// Console runs the workflow against a terminal until in is exhausted or ctx
// ends. Generated documents are written to outDir.
func (a *Application) Console(ctx context.Context, in io.Reader, out io.Writer, outDir string) error {
	if a.machine == nil {
		return errors.New("application was built without the workflow")
	}
	c := console.New(in, out, outDir, a.logger)
	d := a.dispatcher(c, c)

	err := c.Run(ctx, d.Submit)
	if err == nil && ctx.Err() == nil {
		err = d.Drain(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if serr := d.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("dispatcher shutdown incomplete", zap.Error(serr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Checkpoints lists resume points: the latest record of topic, or the most
// recent record per session when topic is empty.
func (a *Application) Checkpoints(ctx context.Context, topic string, limit int) ([]domain.CheckpointRecord, error) {
	if topic != "" {
		rec, err := a.store.Latest(ctx, topic)
		if err != nil {
			return nil, err
		}
		return []domain.CheckpointRecord{rec}, nil
	}
	return a.store.Recent(ctx, limit)
}

// Close releases the checkpoint store.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) dispatcher(conv ports.Conversation, sink ports.ProgressSink) *dispatch.Dispatcher {
	return dispatch.New(a.machine, conv, sink, dispatch.Config{
		Workers: a.cfg.Dispatch.Workers,
		IdleTTL: a.cfg.Dispatch.IdleTTL,
	}, a.logger, a.metrics)
}

func openStore(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (ports.CheckpointStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("checkpoints are kept in memory and lost on restart")
		return storage.NewMemoryStore(), nil, nil
	case "file", "":
		store, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file checkpoints: %w", err)
		}
		return store, nil, nil
	case "postgres":
		db, err := storage.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case "redis":
		client, err := storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client, cfg.RedisPrefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown checkpoint driver %q", domain.ErrConfiguration, cfg.Driver)
	}
}
