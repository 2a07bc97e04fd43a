package persona

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGeneratorSendsHistory(t *testing.T) {
	t.Parallel()

	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  哈哈\n在呢  "},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(nil, GeneratorConfig{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/",
		Model:        "deepseek-chat",
		Temperature:  0.85,
		MaxTokens:    100,
		SystemPrompt: "你是晴晴",
	})
	reply, err := gen.Generate(context.Background(), []Turn{
		{Role: RoleUser, Text: "早"},
		{Role: RoleAssistant, Text: "早呀"},
	}, "在干嘛")
	require.NoError(t, err)
	assert.Equal(t, "哈哈\n在呢", reply)

	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	assert.InDelta(t, 0.85, got.Temperature, 0.001)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "你是晴晴", got.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[3].Role)
	assert.Equal(t, "在干嘛", got.Messages[3].Content)
}

func TestOpenAIGeneratorNoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(nil, GeneratorConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := gen.Generate(context.Background(), nil, "hi")
	assert.Error(t, err)
}

func TestOpenAIGeneratorUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator(nil, GeneratorConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := gen.Generate(context.Background(), nil, "hi")
	assert.Error(t, err)
}

func TestBuildMessagesWithoutSystemPrompt(t *testing.T) {
	t.Parallel()

	msgs := buildMessages("  ", nil, "hi")
	require.Len(t, msgs, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[0].Role)
}
