package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/martprice/recipe"
)

// RecipeHandler serves recipe generation for authenticated users.
type RecipeHandler struct {
	service *recipe.Service
	metrics *Metrics
}

// NewRecipeHandler wraps service.
func NewRecipeHandler(service *recipe.Service, metrics *Metrics) *RecipeHandler {
	return &RecipeHandler{service: service, metrics: metrics}
}

// CreateRecipe generates a recipe from the posted ingredients.
func (h *RecipeHandler) CreateRecipe(c *gin.Context) {
	var req recipe.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecipesTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.service.Generate(c.Request.Context(), c.GetString(userIDKey), req)
	switch {
	case err == nil:
		h.metrics.RecipesTotal.WithLabelValues("generated").Inc()
		c.JSON(http.StatusOK, result)
	case errors.Is(err, recipe.ErrInvalidRequest):
		h.metrics.RecipesTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, recipe.ErrQuotaExceeded):
		h.metrics.RecipesTotal.WithLabelValues("quota_exceeded").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily recipe limit reached"})
	default:
		h.metrics.RecipesTotal.WithLabelValues("failed").Inc()
		slog.Error("recipe generation failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "recipe generation failed"})
	}
}
