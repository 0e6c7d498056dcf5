package feature

import "context"

// Funcs adapts plain start/stop functions to the Startable capability,
// for features without their own type. Nil functions are no-ops.
type Funcs struct {
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

// Start implements Startable.
func (f Funcs) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

// Stop implements Startable.
func (f Funcs) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}
