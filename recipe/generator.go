// Package recipe turns a shopping list into a cooking suggestion, bounded by a
// per-user quota.
package recipe

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/martprice/config"
)

// Generator produces recipe text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// NewGenerator picks the provider configured in cfg.
func NewGenerator(cfg *config.Config) (Generator, error) {
	switch cfg.RecipeProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini api key is required")
		}
		return NewGeminiGenerator(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai api key is required")
		}
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown recipe provider %q", cfg.RecipeProvider)
	}
}

// BuildPrompt renders the request as an instruction for the model.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a Korean home cook living in Germany. ")
	b.WriteString("Suggest one Korean recipe that uses the following groceries, bought at German supermarkets or Asian marts:\n")
	for _, ing := range req.Ingredients {
		fmt.Fprintf(&b, "- %s\n", ing)
	}
	fmt.Fprintf(&b, "Servings: %d.\n", req.Servings)
	if req.Language != "" {
		fmt.Fprintf(&b, "Answer in %s. ", req.Language)
	}
	b.WriteString("Start with the dish name on its own line, then list ingredients and numbered steps. Keep it under 300 words.")
	return b.String()
}
