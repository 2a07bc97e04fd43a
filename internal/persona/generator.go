package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Generator produces the assistant's next message.
type Generator interface {
	Generate(ctx context.Context, history []Turn, userText string) (string, error)
}

// GeneratorConfig configures an OpenAIGenerator.
type GeneratorConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint (DeepSeek by default).
type OpenAIGenerator struct {
	client *openai.Client
	cfg    GeneratorConfig
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator for cfg.
func NewOpenAIGenerator(log *slog.Logger, cfg GeneratorConfig) *OpenAIGenerator {
	if log == nil {
		log = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: log.With(slog.String("component", "generator"), slog.String("model", cfg.Model)),
	}
}

// Generate sends the system prompt, history and userText, and returns the trimmed reply.
func (g *OpenAIGenerator) Generate(ctx context.Context, history []Turn, userText string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    buildMessages(g.cfg.SystemPrompt, history, userText),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	g.logger.Debug("chat completion done",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildMessages(systemPrompt string, history []Turn, userText string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText})
}
