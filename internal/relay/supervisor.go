// Package relay runs the workers and auditors that drive queued VAAs to redemption.
package relay

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// PanicError is a recovered panic of a supervised task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Supervise runs fn until ctx is cancelled. Whenever fn returns or panics it is logged and
// relaunched after delay.
func Supervise(ctx context.Context, logger *zap.Logger, name string, delay time.Duration, fn func(context.Context) error) {
	logger = logger.With(zap.String("task", name))
	for {
		err := protect(ctx, fn)
		if ctx.Err() != nil {
			return
		}

		fields := []zap.Field{zap.Error(err), zap.Duration("restartDelay", delay)}
		if p, ok := err.(*PanicError); ok {
			fields = append(fields, zap.ByteString("stack", p.Stack))
		} else {
			fields = append(fields, zap.Stack("stack"))
		}
		logger.Error("Task crashed, restarting", fields...)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	if err := fn(ctx); err != nil {
		return err
	}
	return fmt.Errorf("task returned")
}
