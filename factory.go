package poolx

import "context"

// ConnectionFactory opens, checks and closes raw connections of type C.
// Calls may block on I/O; the pool never holds its lock while calling them.
type ConnectionFactory[C any] interface {
	// Create opens a new raw connection.
	Create(ctx context.Context) (C, error)
	// Validate reports whether conn is still usable.
	Validate(ctx context.Context, conn C) bool
	// Destroy closes conn. Errors are logged by the pool and never propagated.
	Destroy(conn C) error
}

// FactoryFuncs adapts plain functions to ConnectionFactory.
// A nil ValidateFunc treats every connection as valid; a nil DestroyFunc is a no-op.
type FactoryFuncs[C any] struct {
	CreateFunc   func(ctx context.Context) (C, error)
	ValidateFunc func(ctx context.Context, conn C) bool
	DestroyFunc  func(conn C) error
}

// Create implements ConnectionFactory
func (f FactoryFuncs[C]) Create(ctx context.Context) (C, error) {
	return f.CreateFunc(ctx)
}

// Validate implements ConnectionFactory
func (f FactoryFuncs[C]) Validate(ctx context.Context, conn C) bool {
	if f.ValidateFunc == nil {
		return true
	}
	return f.ValidateFunc(ctx, conn)
}

// Destroy implements ConnectionFactory
func (f FactoryFuncs[C]) Destroy(conn C) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(conn)
}
