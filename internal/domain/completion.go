package domain

// ProviderRequest is the provider-agnostic completion request handed to an
// adapter. Messages are fully expanded: no file_ref part survives expansion.
type ProviderRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Reasoning        *ReasoningSpec  `json:"reasoning,omitempty"`
	ResponseFormat   *ResponseFormat `json:"responseFormat,omitempty"`
}

// ReasoningSpec asks the provider to emit intermediate reasoning tokens.
type ReasoningSpec struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ResponseFormat constrains the provider's output format.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ProviderResult is a completed non-streaming provider call.
type ProviderResult struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption. During streaming it is a last-write-wins
// snapshot, not a per-chunk delta.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is the transient wire object forwarded verbatim to streaming
// clients, one chunk per SSE data frame.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice is one choice slot within a stream chunk.
type StreamChoice struct {
	Index        int            `json:"index"`
	Delta        StreamDelta    `json:"delta"`
	Message      *StreamMessage `json:"message,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

// StreamDelta carries incremental token payloads. Reasoning and
// ReasoningContent are two provider conventions for the same concept.
type StreamDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// StreamMessage carries structured reasoning delivered as a final block by
// providers that do not stream reasoning incrementally.
type StreamMessage struct {
	ReasoningDetails []ReasoningDetail `json:"reasoning_details,omitempty"`
}

// ReasoningDetail is one entry of a reasoning_details block.
type ReasoningDetail struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ReasoningText extracts the text of the chunk's reasoning delta, whichever
// field convention the provider used.
func (c *StreamChunk) ReasoningText() string {
	if len(c.Choices) == 0 {
		return ""
	}
	delta := c.Choices[0].Delta
	if delta.Reasoning != "" {
		return delta.Reasoning
	}
	return delta.ReasoningContent
}

// ContentText extracts the text of the chunk's content delta.
func (c *StreamChunk) ContentText() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// StreamEvent is one element of a provider stream: either a chunk or a
// terminal error. The producer closes the channel after the last event.
type StreamEvent struct {
	Chunk *StreamChunk
	Err   error
}
