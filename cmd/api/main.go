package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/vitrinastudio/server/internal/genai"
	"github.com/vitrinastudio/server/internal/http/handlers"
	"github.com/vitrinastudio/server/internal/http/httpapi"
	"github.com/vitrinastudio/server/internal/infra"
	"github.com/vitrinastudio/server/internal/orchestrator"
	"github.com/vitrinastudio/server/internal/retry"
	"github.com/vitrinastudio/server/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.GeminiImageModel,
		VideoModel: cfg.GeminiVideoModel,
		HTTPClient: &http.Client{Timeout: cfg.GenCallTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure gemini client")
	}

	jobs := store.NewMemory()
	orc := orchestrator.New(jobs, client, logger, orchestrator.Options{
		Retry: retry.Policy{
			MaxAttempts: cfg.GenMaxAttempts,
			BaseDelay:   cfg.GenRetryBaseDelay,
		},
		StyleDelay:       cfg.GenStyleDelay,
		PollInterval:     cfg.VideoPollInterval,
		CallTimeout:      cfg.GenCallTimeout,
		VideoAspectRatio: cfg.VideoAspectRatio,
		VideoResolution:  cfg.VideoResolution,
	})
	defer orc.Close()

	app := handlers.NewApp(jobs, orc, logger, cfg.MaxUploadBytes)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
