package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single recognition attempt
const DefaultTimeout = 60 * time.Second

// Outcome is the result of one recognition attempt. Exactly one of Result or
// Error is set.
type Outcome struct {
	Success  bool          `json:"success"`
	Result   *Result       `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Engine   string        `json:"engine"`
	Duration time.Duration `json:"duration"`
}

// Adapter runs an Engine and turns every failure into a failed Outcome
type Adapter struct {
	engine  Engine
	timeout time.Duration
}

// NewAdapter creates a new Adapter. A zero timeout uses DefaultTimeout.
func NewAdapter(engine Engine, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{engine: engine, timeout: timeout}
}

// Engine returns the wrapped engine's name
func (a *Adapter) Engine() string {
	return a.engine.Name()
}

type attempt struct {
	result *Result
	err    error
}

// Recognize runs the engine in its own goroutine and waits at most the
// configured timeout. Engine errors, panics and timeouts are reported in the
// returned Outcome; this method never fails.
func (a *Adapter) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	progress = safeProgress(progress)
	report(progress, "starting", 0)

	done := make(chan attempt, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attempt{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		result, err := a.engine.Recognize(ctx, imageData, contentType, progress)
		done <- attempt{result: result, err: err}
	}()

	var at attempt
	select {
	case at = <-done:
	case <-ctx.Done():
		at = attempt{err: ctx.Err()}
	}

	outcome := Outcome{Engine: a.engine.Name(), Duration: time.Since(start)}
	switch {
	case errors.Is(at.err, context.DeadlineExceeded):
		outcome.Error = fmt.Sprintf("recognition timed out after %s", a.timeout)
	case at.err != nil:
		outcome.Error = at.err.Error()
	case at.result == nil:
		outcome.Error = "engine returned no result"
	default:
		outcome.Success = true
		outcome.Result = &Result{Text: at.result.Text, Confidence: clampConfidence(at.result.Confidence)}
	}

	if outcome.Success {
		report(progress, "done", 1)
		slog.Info("recognition finished", "engine", outcome.Engine, "duration", outcome.Duration, "confidence", outcome.Result.Confidence)
	} else {
		slog.Warn("recognition failed", "engine", outcome.Engine, "duration", outcome.Duration, "error", outcome.Error)
	}
	return outcome
}

// safeProgress wraps a progress sink so a panicking sink cannot fail the
// recognition it is observing.
func safeProgress(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(p Progress) {
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("progress callback panicked", "panic", r)
			}
		}()
		progress(p)
	}
}
