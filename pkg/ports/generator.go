package ports

import (
	"context"

	"github.com/aretw0/blueprint/pkg/domain"
)

// Generator is the language-generation collaborator.
// It may be slow or fail; callers never block stage progression on it.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req domain.GenerationRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return f(ctx, req)
}

// Notifier receives non-blocking notices (degraded persistence, unavailable generation).
// Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n domain.Notice)

func (f NotifierFunc) Notify(ctx context.Context, n domain.Notice) { f(ctx, n) }
