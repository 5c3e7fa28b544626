package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/provider/openai"
)

func newProviderFor(t *testing.T, serverURL string) *openai.Provider {
	t.Helper()
	provider, err := openai.NewProvider(openai.Config{
		APIKey:  "test-api-key",
		BaseURL: serverURL,
	})
	require.NoError(t, err)
	return provider
}

func TestNewProvider(t *testing.T) {
	t.Run("should require an API key", func(t *testing.T) {
		provider, err := openai.NewProvider(openai.Config{})

		require.Error(t, err)
		require.Nil(t, provider)
		require.Contains(t, err.Error(), "OpenAI API key is required")
	})

	t.Run("should report its name", func(t *testing.T) {
		provider, err := openai.NewProvider(openai.Config{APIKey: "test-key"})
		require.NoError(t, err)
		require.Equal(t, "openai", provider.Name())
	})
}

func TestProvider_Complete(t *testing.T) {
	t.Run("should convert the request and parse the response", func(t *testing.T) {
		var captured map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &captured))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "cmpl-1",
				"object": "chat.completion",
				"model": "gpt-4o",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "4"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 5, "completion_tokens": 1, "total_tokens": 6}
			}`))
		}))
		defer server.Close()

		temp := 0.2
		result, err := newProviderFor(t, server.URL).Complete(context.Background(), &domain.ProviderRequest{
			Model: "gpt-4o",
			Messages: []domain.ChatMessage{
				{Role: "user", Content: domain.MessageContent{Text: "2+2?"}},
			},
			Temperature: &temp,
			MaxTokens:   16,
			Reasoning:   &domain.ReasoningSpec{Effort: "low"},
		})

		require.NoError(t, err)
		require.Equal(t, "4", result.Content)
		require.Equal(t, domain.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6}, result.Usage)

		require.Equal(t, "gpt-4o", captured["model"])
		require.Equal(t, 0.2, captured["temperature"])
		require.Equal(t, float64(16), captured["max_tokens"])
		require.Equal(t, map[string]interface{}{"effort": "low"}, captured["reasoning"])
	})

	t.Run("should send multimodal parts for an expanded message", func(t *testing.T) {
		var captured map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &captured))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"cmpl-2","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
		}))
		defer server.Close()

		_, err := newProviderFor(t, server.URL).Complete(context.Background(), &domain.ProviderRequest{
			Model: "gpt-4o",
			Messages: []domain.ChatMessage{
				{Role: "user", Content: domain.MessageContent{Parts: []domain.ContentPart{
					domain.TextPart("what is this?"),
					domain.ImagePart("data:image/png;base64,iVA="),
				}}},
			},
		})
		require.NoError(t, err)

		messages := captured["messages"].([]interface{})
		require.Len(t, messages, 1)
		parts := messages[0].(map[string]interface{})["content"].([]interface{})
		require.Len(t, parts, 2)
		require.Equal(t, "text", parts[0].(map[string]interface{})["type"])
		require.Equal(t, "image_url", parts[1].(map[string]interface{})["type"])
	})

	t.Run("should classify upstream failures as provider errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
		}))
		defer server.Close()

		_, err := newProviderFor(t, server.URL).Complete(context.Background(), &domain.ProviderRequest{
			Model:    "gpt-4o",
			Messages: []domain.ChatMessage{{Role: "user", Content: domain.MessageContent{Text: "hi"}}},
		})

		require.Error(t, err)
		require.Equal(t, domain.KindProvider, domain.KindOf(err))
	})

	t.Run("should reject unexpanded file references", func(t *testing.T) {
		provider, err := openai.NewProvider(openai.Config{APIKey: "test-key"})
		require.NoError(t, err)

		_, err = provider.Complete(context.Background(), &domain.ProviderRequest{
			Model: "gpt-4o",
			Messages: []domain.ChatMessage{
				{Role: "user", Content: domain.MessageContent{Parts: []domain.ContentPart{
					domain.FileRefPart("file-123"),
				}}},
			},
		})

		require.Error(t, err)
		require.Equal(t, domain.KindValidation, domain.KindOf(err))
	})
}

func TestProvider_Stream(t *testing.T) {
	sseBody := "data: {\"id\":\"cmpl-3\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"cmpl-3\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"reasoning\":\"thinking\"},\"finish_reason\":null}]}\n\n" +
		"data: {\"id\":\"cmpl-3\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	t.Run("should relay chunks with content, reasoning and usage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte(sseBody))
		}))
		defer server.Close()

		events, err := newProviderFor(t, server.URL).Stream(context.Background(), &domain.ProviderRequest{
			Model:    "gpt-4o",
			Messages: []domain.ChatMessage{{Role: "user", Content: domain.MessageContent{Text: "hi"}}},
		})
		require.NoError(t, err)

		content := ""
		reasoning := ""
		var usage *domain.Usage
		var finish *string
		for ev := range events {
			require.NoError(t, ev.Err)
			content += ev.Chunk.ContentText()
			reasoning += ev.Chunk.ReasoningText()
			if ev.Chunk.Usage != nil {
				usage = ev.Chunk.Usage
			}
			if len(ev.Chunk.Choices) > 0 && ev.Chunk.Choices[0].FinishReason != nil {
				finish = ev.Chunk.Choices[0].FinishReason
			}
		}

		require.Equal(t, "Hello", content)
		require.Equal(t, "thinking", reasoning)
		require.NotNil(t, usage)
		require.Equal(t, domain.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, *usage)
		require.NotNil(t, finish)
		require.Equal(t, "stop", *finish)
	})

	t.Run("should surface a terminal event on upstream failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusBadRequest)
		}))
		defer server.Close()

		events, err := newProviderFor(t, server.URL).Stream(context.Background(), &domain.ProviderRequest{
			Model:    "gpt-4o",
			Messages: []domain.ChatMessage{{Role: "user", Content: domain.MessageContent{Text: "hi"}}},
		})
		require.NoError(t, err)

		var streamErr error
		for ev := range events {
			if ev.Err != nil {
				streamErr = ev.Err
			}
		}
		require.Error(t, streamErr)
		require.Equal(t, domain.KindProvider, domain.KindOf(streamErr))
	})
}
