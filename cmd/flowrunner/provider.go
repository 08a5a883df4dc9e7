package main

import (
	"fmt"
	"os"

	"github.com/haasonsaas/flowrunner/internal/responder"
)

func buildLLM(provider, model string) (responder.LLM, error) {
	switch provider {
	case "anthropic":
		return responder.NewAnthropicAdapter(responder.AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  model,
		})
	case "openai":
		return responder.NewOpenAIAdapter(responder.OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", provider)
	}
}
