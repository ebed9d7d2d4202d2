package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/user/docqa/config"
	"github.com/user/docqa/internal/ingest"
	"github.com/user/docqa/internal/rag"
	"github.com/user/docqa/internal/ratelimit"
	"github.com/user/docqa/internal/session"
	"github.com/user/docqa/internal/store"
	"github.com/user/docqa/provider"
)

// Run wires the full service and blocks serving HTTP: shared state store,
// session registry, local artifact cache, rate limiter, ingestion queue,
// eviction sweeper and the API handlers on top.
func Run(cfg *appconfig.Config) error {
	e := newEcho(cfg)

	kv, err := store.Conn(
		context.Background(),
		cfg.Storage.Redis.Host,
		cfg.Storage.Redis.Port,
		cfg.Storage.Redis.Password,
		cfg.Storage.Redis.DB,
		cfg.Storage.Redis.Timeout,
	)
	if err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	cache := session.NewCache()
	reg := session.NewRegistry(kv, cache, cfg.Limits.SessionTTL, cfg.Limits.InactivityWindow)
	limiter := ratelimit.New(kv, cfg.Limits.RateMinInterval, cfg.Limits.InactivityWindow)

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	queue := ingest.NewQueue(kv, reg, backend,
		cfg.Ingest.Workers, cfg.Ingest.QueueSize,
		cfg.Ingest.TaskTimeout, cfg.Ingest.TaskRetention)
	queue.Start()
	defer queue.Close()

	sweeper := session.NewSweeper(reg, cache,
		cfg.Limits.SweepInterval, cfg.Limits.InactivityWindow, cfg.Limits.SweepCron)
	sweeper.Start()
	defer close(sweeper.Stop)

	dh := &DocumentsHandler{
		Reg:            reg,
		Queue:          queue,
		Limiter:        limiter,
		Cache:          cache,
		Backend:        backend,
		MaxUploadBytes: cfg.Ingest.MaxUploadBytes,
	}

	api := e.Group("/api/v1")
	secret := []byte(cfg.Server.JWTSecret)
	if len(secret) > 0 {
		// dev token mint endpoint, only when auth is on
		th := &TokenHandler{Secret: secret}
		api.POST("/token", th.issue)
		api.Use(authMiddleware(secret))
	}
	dh.Register(api, len(secret) > 0)

	log.Printf("listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}

// newEcho builds the echo instance with recovery, CORS and the unified JSON
// error handler.
func newEcho(cfg *appconfig.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "Cookie"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func buildBackend(cfg *appconfig.Config) (rag.Backend, error) {
	split := rag.NewSplitter(cfg.RAG.Encoding, cfg.RAG.ChunkTokens, cfg.RAG.ChunkOverlap)
	switch cfg.RAG.Provider {
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not configured (providers.openai.api_key)")
		}
		prov, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
		if err != nil {
			return nil, err
		}
		return rag.NewOpenAIBackend(prov, split, cfg.RAG.TopK, cfg.RAG.MaxChunks), nil
	case "mock":
		return rag.NewMockBackend(split, cfg.RAG.TopK, cfg.RAG.MaxChunks), nil
	default:
		return nil, fmt.Errorf("unknown rag provider %q", cfg.RAG.Provider)
	}
}
