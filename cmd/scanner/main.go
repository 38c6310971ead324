package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"content-radar/internal/adapters/analyzer"
	"content-radar/internal/adapters/fetcher"
	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
	"content-radar/internal/infra/cache"
	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	applog "content-radar/internal/infra/log"
	"content-radar/internal/infra/metrics"
	openaiinfra "content-radar/internal/infra/openai"
	"content-radar/internal/infra/queue"
	"content-radar/internal/usecase/content"
	"content-radar/internal/usecase/relevance"
	"content-radar/internal/usecase/scan"
	"content-radar/internal/usecase/stats"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	var (
		configRepo  domain.ConfigRepo
		contentRepo domain.ContentRepo
		statsRepo   domain.StatsRepo
	)
	if cfg.PGDSN != "" {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Fatal().Err(err).Msg("scanner: миграции не применились")
		}
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("scanner: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		configRepo, contentRepo, statsRepo = pg, pg, pg
	} else {
		logger.Warn().Msg("scanner: PG_DSN не задан, храним данные в памяти")
		mem := repo.NewMemory()
		configRepo, contentRepo, statsRepo = mem, mem, mem
	}

	var appCache domain.Cache
	var scanQueue domain.ScanQueue
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		appCache = cache.NewRedis(rdb)
		scanQueue = queue.NewRedisScanQueue(rdb, cfg.Queues.Scan)
	} else {
		logger.Warn().Msg("scanner: REDIS_ADDR не задан, сканируем без очереди")
		appCache = cache.NewMemory()
	}

	openaiClient := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	gate := relevance.NewGate(
		analyzer.NewOpenAI(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout),
		logger.With().Str("component", "relevance").Logger(),
	)

	aggregator := stats.NewAggregator(statsRepo)
	contentSvc := content.NewService(
		contentRepo,
		content.NewDeduplicator(contentRepo, appCache),
		aggregator,
		logger.With().Str("component", "content").Logger(),
	)
	orchestrator := scan.NewOrchestrator(
		configRepo,
		contentSvc,
		gate,
		aggregator,
		map[domain.SourceKind]domain.SourceFetcher{
			domain.SourceKindAccount: fetcher.NewXAPI(cfg.XAPI.BaseURL, cfg.XAPI.Timeout),
			domain.SourceKindFeed:    fetcher.NewRSS(cfg.Scan.FetchTimeout),
		},
		scan.Options{
			FetchTimeout:   cfg.Scan.FetchTimeout,
			MaxItems:       cfg.Scan.MaxItems,
			MaxConcurrency: cfg.Scan.MaxConcurrency,
			FetchRPS:       cfg.Scan.FetchRPS,
		},
		logger.With().Str("component", "scan").Logger(),
	)

	planner := &scanPlanner{
		log:          logger.With().Str("component", "planner").Logger(),
		configs:      configRepo,
		cache:        appCache,
		queue:        scanQueue,
		orchestrator: orchestrator,
	}

	var wg sync.WaitGroup
	if scanQueue != nil {
		workers := cfg.Scan.Workers
		if workers <= 0 {
			workers = 1
		}
		worker := &jobWorker{
			log:          logger.With().Str("component", "worker").Logger(),
			queue:        scanQueue,
			orchestrator: orchestrator,
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.Run(ctx)
			}()
		}
	}

	logger.Info().Dur("interval", cfg.Scan.Interval).Msg("scanner: запуск планировщика")
	planner.Run(ctx, cfg.Scan.Interval)

	wg.Wait()
	logger.Info().Msg("scanner: остановлен")
}

// scanPlanner раз в тик находит пользователей с истёкшим интервалом и ставит
// задачи в очередь. Без очереди сканирование запускается в том же процессе.
type scanPlanner struct {
	log          zerolog.Logger
	configs      domain.ConfigRepo
	cache        domain.Cache
	queue        domain.ScanQueue
	orchestrator *scan.Orchestrator
}

func (p *scanPlanner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *scanPlanner) tick(ctx context.Context) {
	due, err := p.configs.ListDueConfigs(ctx, time.Now().UTC())
	if err != nil {
		p.log.Error().Err(err).Msg("scanner: выборка пользователей")
		return
	}
	for _, userCfg := range due {
		// Ключ живёт интервал сканирования: в пределах интервала пользователь
		// встаёт в очередь не больше одного раза, даже при нескольких планировщиках.
		free, err := p.cache.Once(ctx, "scan:pending:"+userCfg.UserID, userCfg.ScanInterval())
		if err != nil {
			p.log.Error().Err(err).Str("user", userCfg.UserID).Msg("scanner: проверка блокировки")
			continue
		}
		if !free {
			continue
		}
		if p.queue == nil {
			if _, err := p.orchestrator.RunScan(ctx, userCfg.UserID, domain.ScanTriggerScheduled); err != nil {
				p.log.Error().Err(err).Str("user", userCfg.UserID).Msg("scanner: сканирование не выполнено")
			}
			continue
		}
		job := domain.ScanJob{
			UserID:     userCfg.UserID,
			Trigger:    domain.ScanTriggerScheduled,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			p.log.Error().Err(err).Str("user", userCfg.UserID).Msg("scanner: постановка задачи")
		}
	}
}

// jobWorker обрабатывает задачи сканирования из очереди.
type jobWorker struct {
	log          zerolog.Logger
	queue        domain.ScanQueue
	orchestrator *scan.Orchestrator
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("scanner: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("user", job.UserID).
			Str("trigger", string(job.Trigger)).
			Time("enqueued_at", job.EnqueuedAt).
			Logger()

		report, err := w.orchestrator.RunScan(ctx, job.UserID, job.Trigger)
		if err != nil {
			jobLog.Error().Err(err).Msg("scanner: сканирование не выполнено")
			continue
		}
		totals := report.Totals()
		jobLog.Info().
			Int("seen", totals.Seen).
			Int("accepted", totals.Accepted).
			Int("duplicates", totals.Duplicates).
			Int("rejected", totals.Rejected).
			Int("failures", len(report.Failures)).
			Msg("scanner: задача обработана")
	}
}
