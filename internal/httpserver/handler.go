// Package httpserver exposes the completion pipeline over HTTP: request
// decoding and defaulting, model resolution, message expansion, the context
// budget gate, and dispatch to the streaming or non-streaming relay path.
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/davidbz/markl/internal/budget"
	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/expand"
	"github.com/davidbz/markl/internal/observability"
	"github.com/davidbz/markl/internal/registry"
	"github.com/davidbz/markl/internal/relay"
)

// Handler handles HTTP requests.
type Handler struct {
	registry *registry.Registry
	expander *expand.Expander
	relay    *relay.Service
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(reg *registry.Registry, expander *expand.Expander, relaySvc *relay.Service) *Handler {
	return &Handler{
		registry: reg,
		expander: expander,
		relay:    relaySvc,
	}
}

// completionRequest is the wire shape of POST /chat/completions.
type completionRequest struct {
	ModelID          string                 `json:"modelId"`
	Messages         []domain.ChatMessage   `json:"messages"`
	PromptID         string                 `json:"promptId,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	MaxTokens        int                    `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64               `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64               `json:"presence_penalty,omitempty"`
	Reasoning        *domain.ReasoningSpec  `json:"reasoning,omitempty"`
	ResponseFormat   *domain.ResponseFormat `json:"responseFormat,omitempty"`
	FileProcessing   string                 `json:"fileProcessing,omitempty"`
	OCRProvider      string                 `json:"ocrProvider,omitempty"`
	SaveTrace        *bool                  `json:"saveTrace,omitempty"`
	Stream           *bool                  `json:"stream,omitempty"`
}

// HandleChatCompletion processes chat completion requests, streaming by
// default.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, domain.ValidationError("X-User-Id header is required"))
		return
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	if req.ModelID == "" {
		writeError(w, domain.ValidationError("modelId is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, domain.ValidationError("messages are required"))
		return
	}

	// Streaming and trace-saving are opt-out.
	stream := req.Stream == nil || *req.Stream
	saveTrace := req.SaveTrace == nil || *req.SaveTrace

	ctx = observability.WithModel(ctx, req.ModelID)
	logger := observability.FromContext(ctx)
	logger.Info("completion request received",
		observability.String("model", req.ModelID),
		observability.Bool("stream", stream),
	)

	resolved, err := h.registry.GetModelWithProvider(ctx, userID, req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx = observability.WithProvider(ctx, resolved.Provider.Name())

	expansion, err := h.expander.Expand(ctx, userID, req.Messages, expand.Options{
		FileProcessing: req.FileProcessing,
		OCRProvider:    req.OCRProvider,
		Model:          resolved.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := budget.Check(expansion.Messages, resolved.Model.MaxContextLength); err != nil {
		writeError(w, err)
		return
	}

	relayReq := &relay.Request{
		UserID:   userID,
		ModelID:  req.ModelID,
		PromptID: req.PromptID,
		Provider: resolved.Provider,
		ProviderReq: &domain.ProviderRequest{
			Model:            req.ModelID,
			Messages:         expansion.Messages,
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			MaxTokens:        req.MaxTokens,
			FrequencyPenalty: req.FrequencyPenalty,
			PresencePenalty:  req.PresencePenalty,
			Reasoning:        req.Reasoning,
			ResponseFormat:   req.ResponseFormat,
		},
		InputContent: expansion.InputContent,
		Attachments:  expansion.Attachments,
		SaveTrace:    saveTrace,
	}

	if stream {
		h.relay.Stream(ctx, w, relayReq)
		return
	}

	result, err := h.relay.Complete(ctx, relayReq)
	if err != nil {
		if domain.IsAbort(err) {
			// Client is gone; nothing useful can be written.
			return
		}
		writeError(w, err)
		return
	}

	logger.Info("completion succeeded",
		observability.Int("tokens", result.Usage.TotalTokens),
		observability.Int64("latency_ms", result.LatencyMS),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// HandleModels lists the registered models.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.registry.ListModels(r.Context()),
	})
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPrecondition:
		return http.StatusUnprocessableEntity
	case domain.KindContextLimit:
		return http.StatusRequestEntityTooLarge
	case domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusFor(kind), map[string]interface{}{
		"error": map[string]interface{}{
			"code":    kind,
			"message": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
