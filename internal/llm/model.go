// Package llm provides text generation over langchaingo providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/askdb/internal/config"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Model wraps a langchaingo LLM for single-prompt text generation.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewModel creates an LLM model based on configuration.
// mc may be nil, in which case no usage is recorded.
func NewModel(ctx context.Context, cfg config.Config, mc *metrics.Collector, logger *slog.Logger) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderGoogleAI:
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("Google API key required")
		}
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.GoogleAPIKey),
			googleai.WithDefaultModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create googleai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return newModel(model, cfg.LLMModel, mc, logger), nil
}

func newModel(model llms.Model, name string, mc *metrics.Collector, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		llm:       model,
		modelName: name,
		metrics:   mc,
		logger:    logger,
	}
}

// Generate sends prompt as a single user message and returns the reply text.
// Provider errors are tagged with ErrRateLimited, ErrFatalAPI or ErrTransient
// when they match.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err == nil && len(response.Choices) == 0 {
		err = errors.New("no response choices")
	}
	if err != nil {
		m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), 0, 0, true)
		wrapped := wrapProviderError(err)
		m.logger.Debug("llm generate failed", "model", m.modelName, "error", wrapped)
		return "", fmt.Errorf("generate: %w", wrapped)
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice.GenerationInfo)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), in, out, false)
	m.logger.Debug("llm generate",
		"model", m.modelName,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", in,
		"output_tokens", out,
	)

	return choice.Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Providers report usage under different keys.
var (
	inputTokenKeys  = []string{"InputTokens", "PromptTokens", "input_tokens", "prompt_tokens"}
	outputTokenKeys = []string{"OutputTokens", "CompletionTokens", "output_tokens", "completion_tokens"}
)

func tokenUsage(info map[string]any) (in, out int64) {
	return firstInt(info, inputTokenKeys), firstInt(info, outputTokenKeys)
}

func firstInt(info map[string]any, keys []string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
