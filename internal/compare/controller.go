// Package compare runs two streamed completions side by side with fully
// independent lifecycles: stopping one side never affects the other.
package compare

import (
	"context"
	"sync"
	"time"

	"github.com/davidbz/markl/internal/streamclient"
)

// Side identifies one half of a comparison run.
type Side string

// Comparison sides.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// StreamRunner runs one streamed completion through callbacks.
type StreamRunner interface {
	StreamCompletion(ctx context.Context, req streamclient.Request, callbacks streamclient.Callbacks) error
}

// SideResult is the mutable state of one comparison side. It is owned
// exclusively by that side and finalized at completion, error or abort.
type SideResult struct {
	Content   string
	Thinking  string
	LatencyMS int64
	TokensIn  int
	TokensOut int
	Err       error
	Aborted   bool

	// IsThinking approximates whether the stream is currently inside a
	// reasoning segment. Providers mark no explicit boundary, so the flag
	// flips on callback order and interleaved tokens can misclassify.
	IsThinking bool
}

// Controller orchestrates dual completion runs.
type Controller struct {
	runner StreamRunner

	mu      sync.Mutex
	cancels map[Side]context.CancelFunc
}

// NewController creates a comparison controller.
func NewController(runner StreamRunner) *Controller {
	return &Controller{
		runner:  runner,
		cancels: make(map[Side]context.CancelFunc),
	}
}

// Run launches both sides concurrently and joins them. A failure or abort
// on one side replaces only that side's result; the other side always runs
// to its own completion.
func (c *Controller) Run(
	ctx context.Context,
	left, right streamclient.Request,
) map[Side]*SideResult {
	results := map[Side]*SideResult{
		SideLeft:  {},
		SideRight: {},
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.runSide(ctx, SideLeft, left, results[SideLeft], &wg)
	go c.runSide(ctx, SideRight, right, results[SideRight], &wg)
	wg.Wait()

	return results
}

// StopSide cancels one side. Stopping an already-finished side is a no-op.
func (c *Controller) StopSide(side Side) {
	c.mu.Lock()
	cancel, ok := c.cancels[side]
	c.mu.Unlock()

	if ok {
		cancel()
	}
}

// StopBoth cancels each side independently, tolerating sides that have
// already completed.
func (c *Controller) StopBoth() {
	c.StopSide(SideLeft)
	c.StopSide(SideRight)
}

func (c *Controller) runSide(
	ctx context.Context,
	side Side,
	req streamclient.Request,
	result *SideResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	// Each side owns its cancellation token; the map entry is destroyed on
	// completion so tokens are never leaked.
	sideCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[side] = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.cancels, side)
		c.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	defer func() {
		result.LatencyMS = time.Since(start).Milliseconds()
	}()

	err := c.runner.StreamCompletion(sideCtx, req, streamclient.Callbacks{
		OnToken: func(token string) {
			result.Content += token
			result.IsThinking = false
		},
		OnThinking: func(token string) {
			result.Thinking += token
			result.IsThinking = true
		},
		OnComplete: func(final streamclient.Final) {
			result.Content = final.Content
			if final.Thinking != "" {
				result.Thinking = final.Thinking
			}
			// Token counts are only trustworthy after completion.
			result.TokensIn = final.Usage.PromptTokens
			result.TokensOut = final.Usage.CompletionTokens
			result.IsThinking = false
		},
		OnError: func(err error) {
			result.Err = err
			result.IsThinking = false
		},
		OnAborted: func() {
			result.Aborted = true
			result.IsThinking = false
		},
	})
	if err != nil && result.Err == nil && !result.Aborted {
		result.Err = err
	}
}
