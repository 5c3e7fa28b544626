package domain

// Model describes one completion model known to the registry.
type Model struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Provider         string `json:"provider"`
	SupportsVision   bool   `json:"supportsVision"`
	MaxContextLength int    `json:"maxContextLength"`
}

// ModelWithProvider pairs a model's configuration with the provider adapter
// that serves it.
type ModelWithProvider struct {
	Model    Model
	Provider Provider
}
