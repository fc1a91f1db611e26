package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-relay/core/recognition"
)

// recognizer is a nil-safe facade over the optional recognizer client.
type recognizer struct {
	client Recognizer
}

func (r *recognizer) set(client Recognizer) {
	if r != nil {
		r.client = client
	}
}

func (r *recognizer) isConfigured() bool {
	return r != nil && r.client != nil
}

func (r *recognizer) Listen(ctx context.Context, onResult func(recognition.Result)) error {
	if !r.isConfigured() {
		return nil
	}
	return r.client.Listen(ctx, onResult)
}

func (r *recognizer) Stop() {
	if !r.isConfigured() {
		return
	}
	r.client.Stop()
}

func (r *recognizer) Resume(ctx context.Context) error {
	if !r.isConfigured() {
		return nil
	}

	switch c := r.client.(type) {
	case interface{ Resume(context.Context) error }:
		return c.Resume(ctx)
	case interface{ Resume() error }:
		return c.Resume()
	case interface{ Resume() }:
		c.Resume()
	}
	return nil
}

// Paused reports whether the recognizer itself says it is not accepting
// input. Recognizers that cannot tell are assumed active.
func (r *recognizer) Paused() bool {
	if !r.isConfigured() {
		return false
	}
	if c, ok := r.client.(interface{ Paused() bool }); ok {
		return c.Paused()
	}
	return false
}

func (r *recognizer) Close() error {
	if !r.isConfigured() {
		return nil
	}

	switch c := r.client.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close recognizer: %w", err)
		}
	case interface{ Close() }:
		c.Close()
	}
	return nil
}
