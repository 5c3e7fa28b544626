// Package echo provides a deterministic in-memory provider that echoes the
// conversation back as its answer. It implements the domain.Provider
// interface without external API calls, for development and testing.
package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidbz/markl/internal/budget"
	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

const (
	providerName = "echo"
	chunkDelay   = 10 * time.Millisecond
)

// Provider implements the domain.Provider interface for echo testing.
type Provider struct {
	name string
}

// NewProvider creates a new echo provider.
// No configuration is required as this provider operates entirely in-memory.
func NewProvider() *Provider {
	return &Provider{name: providerName}
}

// Complete returns the echoed conversation as a single response.
func (p *Provider) Complete(ctx context.Context, req *domain.ProviderRequest) (*domain.ProviderResult, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("echoing request")

	content := buildEchoContent(req.Messages)
	usage := echoUsage(req.Messages, content)

	logger.Debug("echo completed",
		observability.Int("prompt_tokens", usage.PromptTokens),
		observability.Int("completion_tokens", usage.CompletionTokens),
	)

	return &domain.ProviderResult{
		Content: content,
		Usage:   usage,
	}, nil
}

// Stream returns the echoed conversation as wire-shaped chunks, one word per
// chunk, closing with a finish_reason and a usage snapshot.
func (p *Provider) Stream(ctx context.Context, req *domain.ProviderRequest) (<-chan domain.StreamEvent, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("streaming echo request")

	content := buildEchoContent(req.Messages)
	usage := echoUsage(req.Messages, content)
	streamID := fmt.Sprintf("echo-%s", uuid.NewString())
	created := time.Now().Unix()

	chunk := func(delta domain.StreamDelta) *domain.StreamChunk {
		return &domain.StreamChunk{
			ID:      streamID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []domain.StreamChoice{{Index: 0, Delta: delta}},
		}
	}

	events := make(chan domain.StreamEvent)

	go func() {
		defer close(events)

		send := func(ev domain.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(domain.StreamEvent{Chunk: chunk(domain.StreamDelta{Role: "assistant"})}) {
			return
		}

		// Synthetic reasoning when the request asks for it, so reasoning
		// consumers can be exercised without a real model.
		if req.Reasoning != nil {
			if !send(domain.StreamEvent{Chunk: chunk(domain.StreamDelta{
				Reasoning: "echoing the conversation back verbatim",
			})}) {
				return
			}
		}

		words := strings.Fields(content)
		for i, word := range words {
			delta := word
			if i < len(words)-1 {
				delta += " "
			}

			select {
			case <-ctx.Done():
				return
			case events <- domain.StreamEvent{Chunk: chunk(domain.StreamDelta{Content: delta})}:
				time.Sleep(chunkDelay)
			}
		}

		finish := "stop"
		send(domain.StreamEvent{Chunk: &domain.StreamChunk{
			ID:      streamID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []domain.StreamChoice{{Index: 0, FinishReason: &finish}},
			Usage:   &usage,
		}})
	}()

	return events, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// buildEchoContent constructs the echo response from request messages.
func buildEchoContent(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, msg := range messages {
		builder.WriteString(fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content.Text))
	}
	return builder.String()
}

// echoUsage approximates usage with the same heuristic the request gate uses,
// so streamed and non-streamed echo responses report identical numbers.
func echoUsage(messages []domain.ChatMessage, content string) domain.Usage {
	prompt := budget.EstimateTokens(messages)
	completion := budget.EstimateTokens([]domain.ChatMessage{{
		Role:    "assistant",
		Content: domain.MessageContent{Text: content},
	}})

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
