// Package api exposes the price feed and recipe generation over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/martprice/config"
	"github.com/aluiziolira/martprice/ranking"
	"github.com/aluiziolira/martprice/recipe"
)

// Deps are the collaborators the router needs. Recipes may be nil to disable the
// recipe endpoint.
type Deps struct {
	Config    *config.Config
	Feed      SnapshotFeed
	Projector *ranking.Projector
	Recipes   *recipe.Service
	Metrics   *Metrics
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), deps.Metrics.middleware())

	corsConfig := cors.DefaultConfig()
	if len(deps.Config.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = deps.Config.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	prices, err := NewPriceHandler(deps.Feed, deps.Projector, deps.Config.CacheSize, deps.Metrics)
	if err != nil {
		return nil, err
	}

	api := router.Group("/api")
	{
		api.GET("/prices", prices.GetPrices)
		api.GET("/prices/stream", prices.StreamPrices)

		if deps.Recipes != nil {
			recipes := NewRecipeHandler(deps.Recipes, deps.Metrics)
			api.POST("/recipes", AuthMiddleware([]byte(deps.Config.JWTSecret)), recipes.CreateRecipe)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))

	return router, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
