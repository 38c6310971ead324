package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"content-radar/internal/adapters/analyzer"
	"content-radar/internal/adapters/fetcher"
	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
	"content-radar/internal/infra/cache"
	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	httpinfra "content-radar/internal/infra/http"
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

	var (
		configRepo  domain.ConfigRepo
		contentRepo domain.ContentRepo
		statsRepo   domain.StatsRepo
	)
	if cfg.PGDSN != "" {
		if err := db.Migrate(cfg.PGDSN); err != nil {
			logger.Fatal().Err(err).Msg("api: миграции не применились")
		}
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		configRepo, contentRepo, statsRepo = pg, pg, pg
	} else {
		logger.Warn().Msg("api: PG_DSN не задан, храним данные в памяти")
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
		logger.Warn().Msg("api: REDIS_ADDR не задан, кэш в памяти, очередь отключена")
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

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	srv.Router.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Put("/config", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req domain.UserConfig
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			req.UserID = chi.URLParam(r, "userID")
			if len(req.Sources) == 0 {
				writeError(w, http.StatusBadRequest, "нужен хотя бы один источник")
				return
			}
			for _, src := range req.Sources {
				if src.Kind != domain.SourceKindAccount && src.Kind != domain.SourceKindFeed {
					writeError(w, http.StatusBadRequest, "неизвестный тип источника: "+string(src.Kind))
					return
				}
				if src.Locator == "" {
					writeError(w, http.StatusBadRequest, "у источника должен быть локатор")
					return
				}
			}
			saved, err := configRepo.SaveConfig(r.Context(), req)
			if err != nil {
				logger.Error().Err(err).Msg("api: сохранение конфигурации")
				writeError(w, http.StatusInternalServerError, "не удалось сохранить конфигурацию")
				return
			}
			writeJSON(w, saved)
		})

		r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			cfg, err := configRepo.GetConfig(r.Context(), chi.URLParam(r, "userID"))
			if err != nil {
				if errors.Is(err, domain.ErrConfigNotFound) {
					writeError(w, http.StatusNotFound, "конфигурация не найдена")
					return
				}
				logger.Error().Err(err).Msg("api: чтение конфигурации")
				writeError(w, http.StatusInternalServerError, "не удалось прочитать конфигурацию")
				return
			}
			writeJSON(w, cfg)
		})

		r.Post("/scans", func(w http.ResponseWriter, r *http.Request) {
			userID := chi.URLParam(r, "userID")
			if _, err := configRepo.GetConfig(r.Context(), userID); err != nil {
				if errors.Is(err, domain.ErrConfigNotFound) {
					writeError(w, http.StatusNotFound, "конфигурация не найдена")
					return
				}
				writeError(w, http.StatusInternalServerError, "не удалось прочитать конфигурацию")
				return
			}
			if scanQueue != nil && r.URL.Query().Get("async") == "true" {
				job := domain.ScanJob{UserID: userID, Trigger: domain.ScanTriggerManual, EnqueuedAt: time.Now().UTC()}
				if err := scanQueue.Enqueue(r.Context(), job); err != nil {
					logger.Error().Err(err).Msg("api: постановка сканирования в очередь")
					writeError(w, http.StatusInternalServerError, "не удалось поставить задачу в очередь")
					return
				}
				w.WriteHeader(http.StatusAccepted)
				writeJSON(w, map[string]string{"status": "queued"})
				return
			}
			report, err := orchestrator.RunScan(r.Context(), userID, domain.ScanTriggerManual)
			if err != nil {
				logger.Error().Err(err).Msg("api: ручное сканирование")
				writeError(w, http.StatusInternalServerError, "сканирование не выполнено")
				return
			}
			writeJSON(w, report)
		})

		r.Get("/contents", func(w http.ResponseWriter, r *http.Request) {
			q := domain.ContentQuery{}
			if raw := r.URL.Query().Get("status"); raw != "" {
				status := domain.ContentStatus(raw)
				if !domain.KnownStatus(status) {
					writeError(w, http.StatusBadRequest, "неизвестный статус: "+raw)
					return
				}
				q.Status = &status
			}
			q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
			q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
			items, err := contentSvc.Query(r.Context(), chi.URLParam(r, "userID"), q)
			if err != nil {
				logger.Error().Err(err).Msg("api: выборка контента")
				writeError(w, http.StatusInternalServerError, "не удалось получить контент")
				return
			}
			writeJSON(w, map[string]any{"items": items})
		})

		r.Post("/contents", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			userID := chi.URLParam(r, "userID")
			var req seedContentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			if req.Text == "" {
				writeError(w, http.StatusBadRequest, "текст обязателен")
				return
			}
			userCfg, err := configRepo.GetConfig(r.Context(), userID)
			if err != nil && !errors.Is(err, domain.ErrConfigNotFound) {
				writeError(w, http.StatusInternalServerError, "не удалось прочитать конфигурацию")
				return
			}
			evaluation := gate.Evaluate(r.Context(), req.Text, userCfg.Keywords)
			if !evaluation.Accept {
				writeJSON(w, map[string]any{"accepted": false, "analysis": evaluation.Analysis})
				return
			}
			candidate := domain.CandidateItem{
				Text:          req.Text,
				OriginLocator: "manual",
				SourceKind:    domain.SourceKindFeed,
				URL:           req.URL,
				PublishedAt:   time.Now().UTC(),
			}
			created, err := contentSvc.Create(r.Context(), userID, candidate, evaluation.Analysis)
			if err != nil {
				if errors.Is(err, domain.ErrDuplicateContent) {
					writeError(w, http.StatusConflict, "контент уже сохранён")
					return
				}
				logger.Error().Err(err).Msg("api: добавление контента")
				writeError(w, http.StatusInternalServerError, "не удалось сохранить контент")
				return
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, created)
		})

		r.Get("/contents/{contentID}", func(w http.ResponseWriter, r *http.Request) {
			item, err := contentRepo.GetContent(r.Context(), chi.URLParam(r, "contentID"), chi.URLParam(r, "userID"))
			if err != nil {
				if errors.Is(err, domain.ErrContentNotFound) {
					writeError(w, http.StatusNotFound, "контент не найден")
					return
				}
				writeError(w, http.StatusInternalServerError, "не удалось получить контент")
				return
			}
			writeJSON(w, item)
		})

		r.Post("/contents/{contentID}/status", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req transitionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "некорректное тело запроса")
				return
			}
			updated, err := contentSvc.Transition(r.Context(), chi.URLParam(r, "contentID"), chi.URLParam(r, "userID"), domain.ContentStatus(req.To))
			if err != nil {
				var transitionErr *domain.InvalidTransitionError
				switch {
				case errors.Is(err, domain.ErrContentNotFound):
					writeError(w, http.StatusNotFound, "контент не найден")
				case errors.As(err, &transitionErr):
					writeError(w, http.StatusConflict, transitionErr.Error())
				default:
					logger.Error().Err(err).Msg("api: переход статуса")
					writeError(w, http.StatusInternalServerError, "не удалось изменить статус")
				}
				return
			}
			writeJSON(w, updated)
		})

		r.Delete("/contents/{contentID}", func(w http.ResponseWriter, r *http.Request) {
			if err := contentSvc.Delete(r.Context(), chi.URLParam(r, "contentID"), chi.URLParam(r, "userID")); err != nil {
				logger.Error().Err(err).Msg("api: удаление контента")
				writeError(w, http.StatusInternalServerError, "не удалось удалить контент")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			current, err := aggregator.CurrentStats(r.Context(), chi.URLParam(r, "userID"))
			if err != nil {
				logger.Error().Err(err).Msg("api: чтение статистики")
				writeError(w, http.StatusInternalServerError, "не удалось получить статистику")
				return
			}
			writeJSON(w, current)
		})

		r.Post("/stats/reconcile", func(w http.ResponseWriter, r *http.Request) {
			reconciled, err := aggregator.Reconcile(r.Context(), chi.URLParam(r, "userID"))
			if err != nil {
				logger.Error().Err(err).Msg("api: сверка статистики")
				writeError(w, http.StatusInternalServerError, "не удалось пересчитать статистику")
				return
			}
			writeJSON(w, reconciled)
		})
	})

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type seedContentRequest struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type transitionRequest struct {
	To string `json:"to"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
