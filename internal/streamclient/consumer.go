// Package streamclient consumes the text-event protocol emitted by the
// completion relay. It classifies answer and reasoning tokens, reconstructs
// reasoning delivered only as a final structured block, and exposes a
// callback API with cancellation that is never reported as a failure.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

const dataPrefix = "data: "

// Final is the consolidated outcome handed to the completion callback.
type Final struct {
	Content  string
	Thinking string
	Usage    domain.Usage
}

// StreamError is a server-reported in-band error.
type StreamError struct {
	Code      string
	Message   string
	RequestID string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Callbacks receive consumption events. Nil callbacks are skipped.
type Callbacks struct {
	// OnToken receives each answer token.
	OnToken func(token string)

	// OnThinking receives each reasoning token.
	OnThinking func(token string)

	// OnComplete fires once, after [DONE] or natural stream end.
	OnComplete func(final Final)

	// OnError fires on a terminal in-band error or transport failure.
	OnError func(err error)

	// OnAborted fires when consumption stops due to cancellation.
	// Cancellation is never routed to OnError.
	OnAborted func()

	// Yield, when set, runs after each token callback so a fast stream
	// cannot starve the caller's rendering loop.
	Yield func()
}

// Consumer incrementally parses one SSE completion stream.
type Consumer struct {
	callbacks Callbacks

	content          strings.Builder
	thinking         strings.Builder
	usage            domain.Usage
	reasoningDetails []domain.ReasoningDetail
	finished         bool
}

// NewConsumer creates a consumer bound to the given callbacks.
func NewConsumer(callbacks Callbacks) *Consumer {
	return &Consumer{callbacks: callbacks}
}

// Consume reads the stream until [DONE], a terminal error frame, EOF, or
// cancellation. It always fires exactly one of OnComplete, OnError or
// OnAborted.
func (c *Consumer) Consume(ctx context.Context, r io.Reader) {
	buf := make([]byte, 4096)
	carry := ""

	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines := strings.Split(carry+string(buf[:n]), "\n")
			// The last element may be a partial line; keep it for the
			// next read.
			carry = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if stop := c.processLine(ctx, line); stop {
					return
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if carry != "" {
					if stop := c.processLine(ctx, carry); stop {
						return
					}
				}
				// Natural stream end without [DONE] still finalizes.
				c.finalize()
				return
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.abort()
				return
			}
			c.fail(fmt.Errorf("stream read failed: %w", err))
			return
		}

		if ctx.Err() != nil {
			c.abort()
			return
		}
	}
}

// processLine handles one complete protocol line. It returns true when
// consumption must stop.
func (c *Consumer) processLine(ctx context.Context, line string) bool {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return false
	}

	payload := line[len(dataPrefix):]
	if payload == "[DONE]" {
		c.finalize()
		return true
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		// The server never legitimately emits non-JSON; skip defensively.
		observability.FromContext(ctx).Warn("skipping unparseable stream frame",
			observability.Error(err))
		return false
	}

	if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		c.fail(unwrapStreamError(envelope.Error))
		return true
	}

	var chunk domain.StreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		observability.FromContext(ctx).Warn("skipping malformed stream chunk",
			observability.Error(err))
		return false
	}

	c.applyChunk(chunk)
	return false
}

func (c *Consumer) applyChunk(chunk domain.StreamChunk) {
	if chunk.Usage != nil {
		c.usage = *chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if token := choice.Delta.Content; token != "" {
		c.content.WriteString(token)
		c.emitToken(c.callbacks.OnToken, token)
	}
	if token := chunk.ReasoningText(); token != "" {
		c.thinking.WriteString(token)
		c.emitToken(c.callbacks.OnThinking, token)
	}
	if choice.Message != nil && len(choice.Message.ReasoningDetails) > 0 {
		// Captured now, applied only at finalization.
		c.reasoningDetails = choice.Message.ReasoningDetails
	}
}

func (c *Consumer) emitToken(callback func(string), token string) {
	if callback != nil {
		callback(token)
	}
	if c.callbacks.Yield != nil {
		c.callbacks.Yield()
	}
}

// finalize reconstructs reasoning from a captured reasoning_details block
// when no incremental reasoning tokens ever arrived, then fires OnComplete.
func (c *Consumer) finalize() {
	if c.finished {
		return
	}
	c.finished = true

	thinking := c.thinking.String()
	if thinking == "" && len(c.reasoningDetails) > 0 {
		var texts []string
		for _, detail := range c.reasoningDetails {
			if detail.Type == "reasoning.text" {
				texts = append(texts, detail.Text)
			}
		}
		thinking = strings.Join(texts, "\n\n")
	}

	if c.callbacks.OnComplete != nil {
		c.callbacks.OnComplete(Final{
			Content:  c.content.String(),
			Thinking: thinking,
			Usage:    c.usage,
		})
	}
}

func (c *Consumer) fail(err error) {
	if c.finished {
		return
	}
	c.finished = true
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *Consumer) abort() {
	if c.finished {
		return
	}
	c.finished = true
	if c.callbacks.OnAborted != nil {
		c.callbacks.OnAborted()
	}
}

// unwrapStreamError unpacks an in-band error envelope, recursively
// unwrapping nested {"error":{"error":{...}}} shapes.
func unwrapStreamError(raw json.RawMessage) *StreamError {
	var envelope struct {
		Code      json.RawMessage `json:"code"`
		Message   string          `json:"message"`
		RequestID string          `json:"requestId"`
		Error     json.RawMessage `json:"error"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &StreamError{Message: string(raw)}
	}

	if envelope.Message == "" && len(envelope.Error) > 0 && string(envelope.Error) != "null" {
		return unwrapStreamError(envelope.Error)
	}

	code := ""
	if len(envelope.Code) > 0 {
		// Codes arrive as strings or numbers depending on the provider.
		if err := json.Unmarshal(envelope.Code, &code); err != nil {
			code = strings.Trim(string(envelope.Code), `"`)
		}
	}

	message := envelope.Message
	if message == "" {
		message = "stream error"
	}

	return &StreamError{Code: code, Message: message, RequestID: envelope.RequestID}
}
