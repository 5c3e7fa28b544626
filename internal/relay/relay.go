// Package relay executes provider calls and bridges them to clients: it
// forwards streamed chunks over SSE while accumulating a persistable trace,
// and guarantees exactly one trace write per logical request (aborted
// requests excepted).
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

// Per-request lifecycle states.
type state int

const (
	stateIdle state = iota
	stateDispatched
	stateStreaming
	stateAwaitingResult
	stateCompleted
	stateFailed
	stateAborted
)

// Service drives provider calls and owns trace persistence.
type Service struct {
	traces domain.TraceStore
	events domain.EventPublisher
}

// NewService creates a new completion relay service (DI constructor).
func NewService(traces domain.TraceStore, events domain.EventPublisher) *Service {
	return &Service{
		traces: traces,
		events: events,
	}
}

// Request is one logical completion request, already expanded and routed.
type Request struct {
	UserID       string
	ModelID      string
	PromptID     string
	Provider     domain.Provider
	ProviderReq  *domain.ProviderRequest
	InputContent string
	Attachments  []domain.Attachment
	SaveTrace    bool
}

// Result is the outcome of a non-streaming completion.
type Result struct {
	Content   string       `json:"content"`
	Usage     domain.Usage `json:"usage"`
	LatencyMS int64        `json:"latencyMs"`
}

// run accumulates the observable state of one request.
type run struct {
	state   state
	start   time.Time
	content string
	usage   domain.Usage
	errMsg  string
}

func (r *run) latencyMS() int64 {
	return time.Since(r.start).Milliseconds()
}

// Complete executes a non-streaming provider call. On failure an error trace
// is written before the error is returned; on cancellation no trace is
// written.
func (s *Service) Complete(ctx context.Context, req *Request) (*Result, error) {
	r := &run{state: stateDispatched, start: time.Now()}
	defer s.writeTrace(ctx, req, r)

	r.state = stateAwaitingResult
	result, err := req.Provider.Complete(ctx, req.ProviderReq)
	if err != nil {
		if domain.IsAbort(err) {
			r.state = stateAborted
			return nil, domain.AbortError(err)
		}
		r.state = stateFailed
		r.errMsg = err.Error()
		return nil, domain.ProviderError("completion failed", err)
	}

	r.state = stateCompleted
	r.content = result.Content
	r.usage = result.Usage

	s.publish(ctx, "completion.finished", map[string]interface{}{
		"model":      req.ModelID,
		"latency_ms": r.latencyMS(),
		"tokens":     r.usage.TotalTokens,
	})

	return &Result{
		Content:   result.Content,
		Usage:     result.Usage,
		LatencyMS: r.latencyMS(),
	}, nil
}

// Stream executes a streaming provider call and relays it as SSE frames.
// Response headers are committed before the first provider byte, so provider
// errors raised mid-stream are encoded in-band as one error frame in place
// of the [DONE] terminator. On cancellation forwarding stops silently.
func (s *Service) Stream(ctx context.Context, w http.ResponseWriter, req *Request) {
	logger := observability.FromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	r := &run{state: stateDispatched, start: time.Now()}
	defer s.writeTrace(ctx, req, r)

	// Headers cannot be un-sent later: commit them before any provider
	// bytes are available.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, err := req.Provider.Stream(ctx, req.ProviderReq)
	if err != nil {
		if domain.IsAbort(err) {
			r.state = stateAborted
			return
		}
		r.state = stateFailed
		r.errMsg = err.Error()
		s.writeErrorFrame(ctx, w, flusher, err)
		return
	}

	r.state = stateStreaming
	for {
		select {
		case <-ctx.Done():
			// Client disconnected: stop forwarding silently.
			logger.Info("stream aborted by client")
			r.state = stateAborted
			return

		case ev, open := <-events:
			if !open {
				r.state = stateCompleted
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				s.publish(ctx, "completion.finished", map[string]interface{}{
					"model":      req.ModelID,
					"latency_ms": r.latencyMS(),
					"tokens":     r.usage.TotalTokens,
				})
				return
			}

			if ev.Err != nil {
				if domain.IsAbort(ev.Err) {
					r.state = stateAborted
					return
				}
				logger.Error("provider stream error", observability.Error(ev.Err))
				r.state = stateFailed
				r.errMsg = ev.Err.Error()
				s.writeErrorFrame(ctx, w, flusher, ev.Err)
				return
			}

			s.forwardChunk(w, flusher, r, ev.Chunk)
		}
	}
}

// forwardChunk accumulates the chunk's deltas and relays it verbatim as one
// SSE data frame.
func (s *Service) forwardChunk(w http.ResponseWriter, flusher http.Flusher, r *run, chunk *domain.StreamChunk) {
	if chunk == nil {
		return
	}

	r.content += chunk.ContentText()
	if chunk.Usage != nil {
		// Usage is a snapshot, not a delta: last write wins.
		r.usage = *chunk.Usage
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// errorEnvelope is the in-band error frame payload.
type errorEnvelope struct {
	Code      domain.ErrorKind `json:"code"`
	Message   string           `json:"message"`
	RequestID string           `json:"requestId,omitempty"`
}

func (s *Service) writeErrorFrame(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, cause error) {
	frame := struct {
		Error errorEnvelope `json:"error"`
	}{
		Error: errorEnvelope{
			Code:      domain.KindOf(cause),
			Message:   cause.Error(),
			RequestID: observability.GetRequestID(ctx),
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeTrace persists the request trace. Skipped entirely when trace-saving
// is disabled or the request was aborted. A trace-write failure is logged
// and swallowed so it never masks the primary response.
func (s *Service) writeTrace(ctx context.Context, req *Request, r *run) {
	if !req.SaveTrace || r.state == stateAborted {
		return
	}

	status := domain.TraceStatusError
	if r.content != "" {
		status = domain.TraceStatusSuccess
	}

	trace := &domain.Trace{
		PromptID:     req.PromptID,
		ModelID:      req.ModelID,
		Input:        req.InputContent,
		Output:       r.content,
		TokensInput:  r.usage.PromptTokens,
		TokensOutput: r.usage.CompletionTokens,
		LatencyMS:    r.latencyMS(),
		Status:       status,
		ErrorMessage: r.errMsg,
		Attachments:  req.Attachments,
		Metadata:     map[string]interface{}{"files": req.Attachments},
		CreatedAt:    time.Now(),
	}

	// The connection context may already be done for failed requests; the
	// trace write must not be cancelled with it.
	if err := s.traces.Create(context.WithoutCancel(ctx), req.UserID, trace); err != nil {
		observability.FromContext(ctx).Warn("failed to persist trace",
			observability.Error(err),
			observability.String("model", req.ModelID),
		)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, eventType, data)
}
