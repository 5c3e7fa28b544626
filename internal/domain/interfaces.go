package domain

import "context"

// Provider represents any LLM provider adapter.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)

	// Stream sends a completion request and returns a stream of events.
	// The returned channel is closed after the last event; cancellation of
	// ctx stops the stream.
	Stream(ctx context.Context, req *ProviderRequest) (<-chan StreamEvent, error)

	// Name returns the provider identifier.
	Name() string
}

// ModelRegistry resolves a model id to its configuration and provider.
type ModelRegistry interface {
	// GetModelWithProvider returns the model and the provider serving it.
	GetModelWithProvider(ctx context.Context, userID, modelID string) (*ModelWithProvider, error)
}

// FileMeta describes a stored file.
type FileMeta struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// StoredFile is a downloaded file: metadata plus raw bytes.
type StoredFile struct {
	Meta FileMeta
	Data []byte
}

// FileUpload is the input to FileStore.Upload.
type FileUpload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Data         []byte
}

// FileStore persists and serves user file blobs.
type FileStore interface {
	// Download fetches a file owned by the user. Unresolvable or not-owned
	// ids yield a not-found error.
	Download(ctx context.Context, userID, fileID string) (*StoredFile, error)

	// Upload persists raw bytes and returns the stored metadata.
	Upload(ctx context.Context, userID string, up FileUpload) (*FileMeta, error)
}

// OCRResult is the extracted text of one file.
type OCRResult struct {
	FullText string `json:"fullText"`
}

// OCROptions tunes a single extraction call.
type OCROptions struct {
	Provider string
}

// OCRSettings are the per-user OCR preferences.
type OCRSettings struct {
	Enabled         bool   `json:"enabled"`
	DefaultProvider string `json:"defaultProvider,omitempty"`
}

// OCRService extracts text from stored files.
type OCRService interface {
	// ExtractForFile runs OCR over a stored file and returns its text.
	ExtractForFile(ctx context.Context, userID, fileID string, opts OCROptions) (*OCRResult, error)

	// GetSettings returns the user's OCR settings.
	GetSettings(ctx context.Context, userID string) (*OCRSettings, error)
}

// TraceStore persists completed request traces.
type TraceStore interface {
	// Create stores a trace. Traces are immutable after creation.
	Create(ctx context.Context, userID string, trace *Trace) error
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}
