// Package openai adapts the OpenAI chat completions API to the
// domain.Provider interface using the official SDK. It converts multimodal
// message content, relays streaming chunks in wire shape, and surfaces
// reasoning deltas that arrive outside the SDK's typed fields.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/respjson"
	"github.com/openai/openai-go/shared"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

// Provider implements the domain.Provider interface for OpenAI.
type Provider struct {
	client openai.Client
	name   string
}

// NewProvider creates a new OpenAI provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.Timeout)*time.Second))
	}

	if config.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}

	return &Provider{
		client: openai.NewClient(opts...),
		name:   "openai",
	}, nil
}

// Complete sends a completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *domain.ProviderRequest) (*domain.ProviderResult, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI API")

	params, opts, err := toSDKParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		logger.Error("OpenAI API call failed", observability.Error(err))
		return nil, domain.ProviderError("OpenAI API call failed", err)
	}

	logger.Debug("OpenAI API call succeeded",
		observability.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
		observability.Int("completion_tokens", int(resp.Usage.CompletionTokens)),
	)

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &domain.ProviderResult{
		Content: content,
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream sends a completion request and returns a stream of events. Usage
// reporting is always requested so the final chunk carries a snapshot.
func (p *Provider) Stream(ctx context.Context, req *domain.ProviderRequest) (<-chan domain.StreamEvent, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling OpenAI streaming API")

	params, opts, err := toSDKParams(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, opts...)

	events := make(chan domain.StreamEvent)

	go func() {
		defer close(events)
		defer stream.Close()
		defer logger.Debug("OpenAI stream completed")

		for stream.Next() {
			chunk := toDomainChunk(stream.Current())
			select {
			case events <- domain.StreamEvent{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			select {
			case events <- domain.StreamEvent{Err: domain.ProviderError("OpenAI stream failed", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return events, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// toSDKParams converts a domain request into SDK parameters plus per-call
// request options for fields the typed params do not carry.
func toSDKParams(req *domain.ProviderRequest) (openai.ChatCompletionNewParams, []option.RequestOption, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		converted, err := toSDKMessage(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, nil, err
		}
		messages = append(messages, converted)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*req.FrequencyPenalty)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*req.PresencePenalty)
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var opts []option.RequestOption
	if req.Reasoning != nil {
		// Reasoning is a gateway extension the typed params don't model.
		opts = append(opts, option.WithJSONSet("reasoning", req.Reasoning))
	}

	return params, opts, nil
}

// toSDKMessage converts one chat message, including multimodal content parts.
// Expansion guarantees no file_ref parts reach the adapter.
func toSDKMessage(msg domain.ChatMessage) (openai.ChatCompletionMessageParamUnion, error) {
	if !msg.Content.IsParts() {
		switch msg.Role {
		case "assistant":
			return openai.AssistantMessage(msg.Content.Text), nil
		case "system":
			return openai.SystemMessage(msg.Content.Text), nil
		default:
			return openai.UserMessage(msg.Content.Text), nil
		}
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Content.Parts))
	for _, part := range msg.Content.Parts {
		switch part.Type {
		case domain.PartText:
			parts = append(parts, openai.TextContentPart(part.Text))
		case domain.PartImageURL:
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{
					URL: part.ImageURL.URL,
				}))
		case domain.PartFile:
			parts = append(parts, openai.FileContentPart(
				openai.ChatCompletionContentPartFileFileParam{
					Filename: openai.String(part.File.Filename),
					FileData: openai.String(part.File.Data),
				}))
		default:
			return openai.ChatCompletionMessageParamUnion{},
				domain.ValidationError(fmt.Sprintf("unsupported content part type: %s", part.Type))
		}
	}

	return openai.UserMessage(parts), nil
}

// toDomainChunk converts an SDK chunk into the wire shape the relay forwards.
// Reasoning deltas arrive as untyped extra fields under two naming
// conventions; both are lifted into the domain chunk.
func toDomainChunk(chunk openai.ChatCompletionChunk) *domain.StreamChunk {
	out := &domain.StreamChunk{
		ID:      chunk.ID,
		Object:  string(chunk.Object),
		Created: chunk.Created,
		Model:   chunk.Model,
	}

	if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
		out.Usage = &domain.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}

	for _, choice := range chunk.Choices {
		converted := domain.StreamChoice{
			Index: int(choice.Index),
			Delta: domain.StreamDelta{
				Role:             choice.Delta.Role,
				Content:          choice.Delta.Content,
				Reasoning:        rawStringField(choice.Delta.JSON.ExtraFields, "reasoning"),
				ReasoningContent: rawStringField(choice.Delta.JSON.ExtraFields, "reasoning_content"),
			},
		}
		if choice.FinishReason != "" {
			reason := choice.FinishReason
			converted.FinishReason = &reason
		}
		if details := rawReasoningDetails(choice.JSON.ExtraFields); len(details) > 0 {
			converted.Message = &domain.StreamMessage{ReasoningDetails: details}
		}
		out.Choices = append(out.Choices, converted)
	}

	return out
}

func rawStringField(fields map[string]respjson.Field, key string) string {
	field, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal([]byte(field.Raw()), &value); err != nil {
		return ""
	}
	return value
}

func rawReasoningDetails(fields map[string]respjson.Field) []domain.ReasoningDetail {
	field, ok := fields["message"]
	if !ok {
		return nil
	}
	var message domain.StreamMessage
	if err := json.Unmarshal([]byte(field.Raw()), &message); err != nil {
		return nil
	}
	return message.ReasoningDetails
}
