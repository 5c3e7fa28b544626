package domain

import "time"

// Trace statuses.
const (
	TraceStatusSuccess = "success"
	TraceStatusError   = "error"
)

// Trace is the persisted record of one completed (non-aborted) chat request.
// It is created exactly once per logical request and immutable afterwards.
type Trace struct {
	ID           string                 `json:"id"`
	PromptID     string                 `json:"promptId,omitempty"`
	ModelID      string                 `json:"modelId"`
	Input        string                 `json:"input"`
	Output       string                 `json:"output,omitempty"`
	TokensInput  int                    `json:"tokensInput"`
	TokensOutput int                    `json:"tokensOutput"`
	LatencyMS    int64                  `json:"latencyMs"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Attachments  []Attachment           `json:"attachments,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}
