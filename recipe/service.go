package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	maxIngredients  = 20
	defaultServings = 2
	maxServings     = 12
)

// ErrInvalidRequest marks a request rejected before the quota is touched.
var ErrInvalidRequest = errors.New("invalid recipe request")

// Request is what a user asks a recipe for.
type Request struct {
	Ingredients []string `json:"ingredients"`
	Servings    int      `json:"servings"`
	Language    string   `json:"language"`
}

// Recipe is the generated suggestion.
type Recipe struct {
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	Remaining int    `json:"remaining"`
}

// Service validates requests, applies the quota and calls the generator.
type Service struct {
	generator Generator
	limiter   *Limiter
}

// NewService wires a generator behind limiter.
func NewService(generator Generator, limiter *Limiter) *Service {
	return &Service{generator: generator, limiter: limiter}
}

// Generate produces a recipe for userID. The quota is checked before the provider is
// called; a failed generation does not count against it.
func (s *Service) Generate(ctx context.Context, userID string, req Request) (*Recipe, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	remaining, err := s.limiter.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}

	text, err := s.generator.Generate(ctx, BuildPrompt(req))
	if err != nil {
		if relErr := s.limiter.Release(context.WithoutCancel(ctx), userID); relErr != nil {
			slog.Warn("release recipe quota", slog.String("user", userID), slog.Any("error", relErr))
		}
		return nil, fmt.Errorf("generate recipe: %w", err)
	}

	slog.Info("recipe generated",
		slog.String("user", userID),
		slog.String("provider", s.generator.Name()),
		slog.Int("remaining", remaining),
	)
	return &Recipe{Text: text, Provider: s.generator.Name(), Remaining: remaining}, nil
}

func normalize(req Request) (Request, error) {
	var ingredients []string
	for _, ing := range req.Ingredients {
		if ing = strings.TrimSpace(ing); ing != "" {
			ingredients = append(ingredients, ing)
		}
	}
	if len(ingredients) == 0 {
		return req, fmt.Errorf("%w: at least one ingredient is required", ErrInvalidRequest)
	}
	if len(ingredients) > maxIngredients {
		return req, fmt.Errorf("%w: at most %d ingredients", ErrInvalidRequest, maxIngredients)
	}
	req.Ingredients = ingredients

	if req.Servings == 0 {
		req.Servings = defaultServings
	}
	if req.Servings < 0 || req.Servings > maxServings {
		return req, fmt.Errorf("%w: servings must be between 1 and %d", ErrInvalidRequest, maxServings)
	}
	req.Language = strings.TrimSpace(req.Language)
	return req, nil
}
