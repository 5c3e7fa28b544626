// Package registry maps model ids to their configuration and the provider
// adapter serving them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/davidbz/markl/internal/domain"
)

// Registry implements the domain.ModelRegistry interface over an in-memory
// model table.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
	models    map[string]domain.Model
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.Provider),
		models:    make(map[string]domain.Model),
	}
}

// RegisterProvider adds a provider adapter under its own name.
func (r *Registry) RegisterProvider(provider domain.Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.providers[name] = provider
	return nil
}

// RegisterModel adds a model backed by an already registered provider.
func (r *Registry) RegisterModel(model domain.Model) error {
	if model.ID == "" {
		return errors.New("model id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[model.Provider]; !exists {
		return fmt.Errorf("model %s references unregistered provider %s", model.ID, model.Provider)
	}
	if _, exists := r.models[model.ID]; exists {
		return fmt.Errorf("model %s already registered", model.ID)
	}

	r.models[model.ID] = model
	return nil
}

// ListModels returns the registered models.
func (r *Registry) ListModels(_ context.Context) []domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]domain.Model, 0, len(r.models))
	for _, model := range r.models {
		models = append(models, model)
	}
	return models
}

// GetModelWithProvider resolves a model id to its configuration and provider.
// Unknown ids are a not-found failure so the caller can map them to 404.
func (r *Registry) GetModelWithProvider(_ context.Context, userID, modelID string) (*domain.ModelWithProvider, error) {
	if userID == "" {
		return nil, domain.ValidationError("user id is required")
	}
	if modelID == "" {
		return nil, domain.ValidationError("model id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	model, exists := r.models[modelID]
	if !exists {
		return nil, domain.NotFoundError(fmt.Sprintf("model not found: %s", modelID), nil)
	}

	provider, exists := r.providers[model.Provider]
	if !exists {
		return nil, domain.NotFoundError(fmt.Sprintf("provider not found: %s", model.Provider), nil)
	}

	return &domain.ModelWithProvider{Model: model, Provider: provider}, nil
}
