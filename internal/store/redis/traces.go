package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/observability"
)

// TraceStore implements the domain.TraceStore interface. Each trace is one
// JSON document plus an entry in the user's chronological index list.
type TraceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTraceStore creates a Redis-backed trace store.
func NewTraceStore(client *redis.Client, ttl time.Duration) *TraceStore {
	return &TraceStore{client: client, ttl: ttl}
}

func traceKey(userID, traceID string) string {
	return fmt.Sprintf("traces:%s:%s", userID, traceID)
}

func traceIndexKey(userID string) string {
	return fmt.Sprintf("traces:%s", userID)
}

// Create stores a trace. Traces are immutable after creation.
func (s *TraceStore) Create(ctx context.Context, userID string, trace *domain.Trace) error {
	if userID == "" {
		return domain.ValidationError("user id is required")
	}
	if trace == nil {
		return domain.ValidationError("trace is required")
	}

	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = time.Now().UTC()
	}

	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	logger := observability.FromContext(ctx)
	logger.Debug("storing trace",
		observability.String("trace_id", trace.ID),
		observability.String("status", trace.Status))

	key := traceKey(userID, trace.ID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, doc, s.ttl)
	pipe.LPush(ctx, traceIndexKey(userID), trace.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, traceIndexKey(userID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("trace store failed", observability.Error(err))
		return fmt.Errorf("failed to store trace: %w", err)
	}

	return nil
}

// List returns the user's most recent traces, newest first.
func (s *TraceStore) List(ctx context.Context, userID string, limit int) ([]*domain.Trace, error) {
	if userID == "" {
		return nil, domain.ValidationError("user id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.LRange(ctx, traceIndexKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = traceKey(userID, id)
	}

	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch traces: %w", err)
	}

	traces := make([]*domain.Trace, 0, len(docs))
	for _, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			// Expired documents leave nil holes in the index.
			continue
		}
		var trace domain.Trace
		if err := json.Unmarshal([]byte(raw), &trace); err != nil {
			observability.FromContext(ctx).Warn("skipping unreadable trace",
				observability.Error(err))
			continue
		}
		traces = append(traces, &trace)
	}

	return traces, nil
}
