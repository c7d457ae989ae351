package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/aluiziolira/martprice/api"
	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/feed"
	"github.com/aluiziolira/martprice/recipe"
	"github.com/aluiziolira/martprice/store"
)

func serveCommand(defaults *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve grouped prices, the live snapshot stream and recipe generation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: defaults.ListenAddr, Usage: "HTTP listen address", EnvVars: []string{"MARTPRICE_LISTEN", "PORT"}},
			&cli.DurationFlag{Name: "poll-interval", Value: defaults.PollInterval, Usage: "How often to check the store for a new snapshot", EnvVars: []string{"MARTPRICE_POLL_INTERVAL"}},
			&cli.IntFlag{Name: "cache-size", Value: defaults.CacheSize, Usage: "Projection cache entries", EnvVars: []string{"MARTPRICE_CACHE_SIZE"}},
			&cli.StringSliceFlag{Name: "allowed-origins", Value: cli.NewStringSlice(defaults.AllowedOrigins...), Usage: "CORS allowed origins", EnvVars: []string{"CORS_ALLOWED_ORIGINS"}},
			&cli.StringFlag{Name: "jwt-secret", Usage: "HS256 secret for bearer tokens", EnvVars: []string{"JWT_SECRET"}},
			&cli.StringFlag{Name: "recipe-provider", Value: defaults.RecipeProvider, Usage: "Recipe provider (gemini, openai)", EnvVars: []string{"MARTPRICE_RECIPE_PROVIDER"}},
			&cli.StringFlag{Name: "gemini-api-key", Usage: "Gemini API key", EnvVars: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
			&cli.StringFlag{Name: "gemini-model", Value: defaults.GeminiModel, Usage: "Gemini model", EnvVars: []string{"GEMINI_MODEL"}},
			&cli.StringFlag{Name: "openai-api-key", Usage: "OpenAI API key", EnvVars: []string{"OPENAI_API_KEY"}},
			&cli.StringFlag{Name: "openai-model", Value: defaults.OpenAIModel, Usage: "OpenAI model", EnvVars: []string{"OPENAI_MODEL"}},
			&cli.StringFlag{Name: "openai-base-url", Usage: "OpenAI-compatible base URL", EnvVars: []string{"OPENAI_BASE_URL"}},
			&cli.IntFlag{Name: "recipe-limit", Value: defaults.RecipeLimit, Usage: "Recipes per user per window", EnvVars: []string{"MARTPRICE_RECIPE_LIMIT"}},
			&cli.DurationFlag{Name: "recipe-window", Value: defaults.RecipeWindow, Usage: "Recipe quota window", EnvVars: []string{"MARTPRICE_RECIPE_WINDOW"}},
		},
		Action: runServe,
	}
}

func serveConfig(c *cli.Context) *config.Config {
	cfg := baseConfig(c)
	cfg.ListenAddr = c.String("listen")
	cfg.PollInterval = c.Duration("poll-interval")
	cfg.CacheSize = c.Int("cache-size")
	cfg.AllowedOrigins = c.StringSlice("allowed-origins")
	cfg.JWTSecret = c.String("jwt-secret")
	cfg.RecipeProvider = c.String("recipe-provider")
	cfg.GeminiAPIKey = c.String("gemini-api-key")
	cfg.GeminiModel = c.String("gemini-model")
	cfg.OpenAIAPIKey = c.String("openai-api-key")
	cfg.OpenAIModel = c.String("openai-model")
	cfg.OpenAIBaseURL = c.String("openai-base-url")
	cfg.RecipeLimit = c.Int("recipe-limit")
	cfg.RecipeWindow = c.Duration("recipe-window")
	return cfg
}

func runServe(c *cli.Context) error {
	ctx := c.Context
	cfg := serveConfig(c)
	if err := cfg.ValidateServe(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}
	// PORT style values carry no host part.
	if !strings.Contains(cfg.ListenAddr, ":") {
		cfg.ListenAddr = ":" + cfg.ListenAddr
	}

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open store: %v", err), 1)
	}
	defer st.Close()

	hub := feed.NewHub(st, cfg.PollInterval)

	var recipes *recipe.Service
	if gen, err := recipe.NewGenerator(cfg); err != nil {
		slog.Warn("recipe generation disabled", slog.Any("error", err))
	} else {
		recipes = recipe.NewService(gen, recipe.NewLimiter(st, cfg.RecipeLimit, cfg.RecipeWindow))
		if cfg.JWTSecret == "" {
			slog.Warn("JWT secret not set, recipe requests will be refused")
		}
	}

	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := api.NewRouter(api.Deps{
		Config:  cfg,
		Feed:    hub,
		Recipes: recipes,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("build router: %v", err), 1)
	}

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("snapshot hub stopped", slog.Any("error", err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end when the process is asked to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return cli.Exit(fmt.Sprintf("http server failed: %v", err), 1)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", slog.Any("error", err))
		return srv.Close()
	}
	return nil
}
