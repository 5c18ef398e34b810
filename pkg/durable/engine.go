package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cassiomorais/payflow/pkg/retry"
)

// Handler is a workflow body. Returning (out, nil) completes the run with out.
// Returning (out, err) with a non-nil out completes the run and surfaces err
// to the caller. Returning (nil, err) fails the run.
type Handler func(wf *Context) (any, error)

// Observer receives run lifecycle events.
type Observer interface {
	RunStarted(kind string)
	RunFinished(kind string, state State, elapsed time.Duration)
	SignalReceived(kind, name string, applied bool)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string)                        {}
func (nopObserver) RunFinished(string, State, time.Duration) {}
func (nopObserver) SignalReceived(string, string, bool)      {}

// Engine executes registered workflows against a Store.
type Engine struct {
	store    Store
	locker   Locker
	now      func() time.Time
	logger   zerolog.Logger
	observer Observer
	tracer   trace.Tracer
	conflict retry.Policy

	// signalWait bounds how long Signal waits for the run lock before leaving
	// the signal buffered for the current holder or the due poller.
	signalWait time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

type Option func(*Engine)

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithSignalWait(d time.Duration) Option {
	return func(e *Engine) { e.signalWait = d }
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locker:   NewLocalLocker(),
		now:      time.Now,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/cassiomorais/payflow/pkg/durable"),
		handlers: make(map[string]Handler),
		conflict: retry.Policy{
			MaxAttempts:  5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Retryable:    func(err error) bool { return errors.Is(err, ErrVersionConflict) },
		},
	}
	e.signalWait = 2 * time.Second
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a handler to a workflow kind.
func (e *Engine) Register(kind string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

func (e *Engine) handler(kind string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[kind]
	return h, ok
}

// Enqueue creates the run for (kind, key) without executing it. It is
// idempotent: when the run already exists the stored run is returned with
// created set to false.
func (e *Engine) Enqueue(ctx context.Context, kind, key string, input any) (run *Run, created bool, err error) {
	if _, ok := e.handler(kind); !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, false, fmt.Errorf("encode run input: %w", err)
	}

	now := e.now()
	run = &Run{
		ID:        RunID(kind, key),
		Kind:      kind,
		Key:       key,
		State:     StateRunning,
		Input:     b,
		WakeAt:    &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, run); err != nil {
		if errors.Is(err, ErrRunExists) {
			existing, getErr := e.store.Get(ctx, run.ID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create run %s: %w", run.ID, err)
	}

	e.observer.RunStarted(kind)
	e.logger.Info().Str("run_id", run.ID).Str("kind", kind).Msg("run created")
	return run, true, nil
}

// Start enqueues the run and executes it until it completes, fails or suspends.
func (e *Engine) Start(ctx context.Context, kind, key string, input any) (*Run, error) {
	run, _, err := e.Enqueue(ctx, kind, key, input)
	if err != nil {
		return nil, err
	}
	if run.State.IsTerminal() {
		return run, nil
	}
	return e.Resume(ctx, run.ID)
}

// Get loads a run by id.
func (e *Engine) Get(ctx context.Context, id string) (*Run, error) {
	return e.store.Get(ctx, id)
}

// Resume executes a non-terminal run. Terminal runs are returned as is.
func (e *Engine) Resume(ctx context.Context, id string) (*Run, error) {
	return e.resume(ctx, ctx, id)
}

// resume takes the run lock with lockCtx and executes the run with ctx.
func (e *Engine) resume(ctx, lockCtx context.Context, id string) (*Run, error) {
	unlock, err := e.locker.Lock(lockCtx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	run, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.State.IsTerminal() {
		return run, nil
	}
	return e.execute(ctx, run)
}

// Signal appends a signal to the run's inbox and resumes the run when it is
// suspended on that signal. A non-empty dedupID makes redelivery a no-op.
// Signals sent to terminal runs are ignored.
//
// The inbox append does not take the run lock, so a signal sent while the run
// executes is stored and picked up by that execution or by the next resume.
func (e *Engine) Signal(ctx context.Context, id, name string, payload any, dedupID string) (*Run, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode signal payload: %w", err)
		}
		raw = b
	}

	var (
		run     *Run
		applied bool
	)
	err := retry.Do(ctx, e.conflict, func() error {
		var getErr error
		run, getErr = e.store.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		applied = false
		if run.State.IsTerminal() {
			return nil
		}
		if dedupID != "" && run.hasSignal(dedupID) {
			return nil
		}
		sigID := dedupID
		if sigID == "" {
			sigID = uuid.NewString()
		}
		now := e.now()
		run.Signals = append(run.Signals, Signal{
			ID:         sigID,
			Name:       name,
			Payload:    raw,
			ReceivedAt: now,
		})
		if run.State == StateSuspended && run.awaits(name) {
			// due immediately, in case nobody can resume it right now
			run.WakeAt = &now
		}
		run.UpdatedAt = now
		if saveErr := e.store.Save(ctx, run); saveErr != nil {
			return saveErr
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("signal %s on run %s: %w", name, id, err)
	}

	e.observer.SignalReceived(run.Kind, name, applied)
	logger := e.logger.With().Str("run_id", id).Str("signal", name).Logger()
	if !applied {
		logger.Info().Str("state", string(run.State)).Msg("signal ignored")
		return run, nil
	}
	logger.Info().Msg("signal received")

	if run.State != StateSuspended || !run.awaits(name) {
		return run, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.signalWait)
	defer cancel()
	resumed, err := e.resume(ctx, lockCtx, id)
	if errors.Is(err, ErrLocked) {
		logger.Info().Msg("run busy, signal buffered")
		return run, nil
	}
	return resumed, err
}

// RunDue resumes up to limit runs whose WakeAt has passed. Runs locked by
// another worker are skipped.
func (e *Engine) RunDue(ctx context.Context, limit int) (int, error) {
	ids, err := e.store.ListDue(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due runs: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, err := e.Resume(ctx, id)
		switch {
		case errors.Is(err, ErrLocked):
			continue
		case err != nil && !IsHandlerError(err):
			errs = append(errs, fmt.Errorf("resume %s: %w", id, err))
		}
		n++
	}
	return n, errors.Join(errs...)
}

// workflowError marks errors surfaced by a handler, as opposed to engine or
// storage failures.
type workflowError struct{ err error }

func (w *workflowError) Error() string { return w.err.Error() }
func (w *workflowError) Unwrap() error { return w.err }

// IsHandlerError reports whether err was returned by a workflow handler rather
// than by the engine or its store.
func IsHandlerError(err error) bool {
	var we *workflowError
	return errors.As(err, &we)
}

// execute runs the handler against run. The caller holds the run lock. A
// signal merged into the inbox while the handler ran resumes it again when the
// run suspended on that signal.
func (e *Engine) execute(ctx context.Context, run *Run) (*Run, error) {
	for {
		out, err := e.executeOnce(ctx, run)
		if err != nil || out.State != StateSuspended || !out.hasAwaitedSignal() {
			return out, err
		}
		e.logger.Debug().Str("run_id", run.ID).Msg("signal arrived during execution, resuming")
		run = out
	}
}

// save persists run. On a version conflict it merges signals appended by
// Signal since run was loaded and retries. Any other concurrent change means
// another executor owns the run.
func (e *Engine) save(ctx context.Context, run *Run) error {
	return retry.Do(ctx, e.conflict, func() error {
		err := e.store.Save(ctx, run)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		latest, getErr := e.store.Get(ctx, run.ID)
		if getErr != nil {
			return getErr
		}
		if !run.mergeInbox(latest) {
			return fmt.Errorf("%w: %s", ErrDiverged, run.ID)
		}
		return err
	})
}

func (e *Engine) executeOnce(ctx context.Context, run *Run) (*Run, error) {
	h, ok := e.handler(run.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, run.Kind)
	}

	ctx, span := e.tracer.Start(ctx, "durable.execute",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("run.kind", run.Kind),
		),
	)
	defer span.End()

	now := e.now()
	logger := e.logger.With().Str("run_id", run.ID).Str("kind", run.Kind).Logger()

	wf := &Context{
		ctx: ctx,
		run: run,
		now: now,
		checkpoint: func(ctx context.Context) error {
			run.UpdatedAt = now
			return e.save(ctx, run)
		},
		logger: logger,
		tracer: e.tracer,
	}

	out, hErr := h(wf)
	if wf.abortErr != nil {
		span.RecordError(wf.abortErr)
		span.SetStatus(codes.Error, "checkpoint failed")
		logger.Error().Err(wf.abortErr).Msg("run aborted")
		return nil, fmt.Errorf("checkpoint run %s: %w", run.ID, wf.abortErr)
	}

	var resultErr error
	switch {
	case errors.Is(hErr, ErrSuspended):
		run.State = StateSuspended
		run.WakeAt = wf.wakeAt
		run.Awaiting = wf.awaiting
	case hErr == nil || out != nil:
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode run %s output: %w", run.ID, err)
		}
		run.State = StateCompleted
		run.Output = b
		if hErr != nil {
			run.Error = hErr.Error()
			resultErr = &workflowError{err: hErr}
		}
	default:
		run.State = StateFailed
		run.Error = hErr.Error()
		resultErr = &workflowError{err: hErr}
	}

	if run.State.IsTerminal() {
		run.WakeAt = nil
		run.Awaiting = nil
		completed := now
		run.CompletedAt = &completed
	}
	run.UpdatedAt = now

	if err := e.save(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, fmt.Errorf("save run %s: %w", run.ID, err)
	}

	span.SetAttributes(attribute.String("run.state", string(run.State)))
	if run.State.IsTerminal() {
		e.observer.RunFinished(run.Kind, run.State, now.Sub(run.CreatedAt))
		logger.Info().Str("state", string(run.State)).Str("error", run.Error).Msg("run finished")
	} else {
		logger.Debug().Strs("awaiting", run.Awaiting).Msg("run suspended")
	}
	return run, resultErr
}
