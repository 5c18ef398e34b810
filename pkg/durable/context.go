package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSuspended is returned by Await when the run must wait for a signal or a
// deadline. Workflows return it unchanged so the engine can park the run.
var ErrSuspended = errors.New("run suspended")

// StepError is the replayed form of an error journaled by a step.
type StepError struct {
	Step    string
	Message string
}

func (e *StepError) Error() string {
	return e.Message
}

// Context is handed to a workflow handler on every execution of its run.
type Context struct {
	ctx        context.Context
	run        *Run
	now        time.Time
	checkpoint func(context.Context) error
	logger     zerolog.Logger
	tracer     trace.Tracer

	abortErr error
	wakeAt   *time.Time
	awaiting []string
}

// Context returns the context of the current execution.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) RunID() string { return c.run.ID }

func (c *Context) Key() string { return c.run.Key }

func (c *Context) Logger() zerolog.Logger { return c.logger }

// Input decodes the run input into v.
func (c *Context) Input(v any) error {
	if err := json.Unmarshal(c.run.Input, v); err != nil {
		return fmt.Errorf("decode run input: %w", err)
	}
	return nil
}

// SetMemo records queryable state on the run. It is persisted with the next checkpoint.
func (c *Context) SetMemo(key, value string) {
	if c.run.Memo == nil {
		c.run.Memo = make(map[string]string)
	}
	c.run.Memo[key] = value
}

func (c *Context) record(rec StepRecord) error {
	c.run.Steps = append(c.run.Steps, rec)
	if err := c.checkpoint(c.ctx); err != nil {
		c.abortErr = err
		return err
	}
	return nil
}

// Step runs fn once per run and journals its result and error. Later executions
// of the same run return the journaled values without calling fn.
func Step[T any](c *Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if c.abortErr != nil {
		return out, c.abortErr
	}

	key := "step:" + name
	if rec, ok := c.run.step(key); ok {
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &out); err != nil {
				return out, fmt.Errorf("decode step %q: %w", name, err)
			}
		}
		if rec.Error != "" {
			return out, &StepError{Step: name, Message: rec.Error}
		}
		return out, nil
	}

	ctx, span := c.tracer.Start(c.ctx, "durable.step",
		trace.WithAttributes(
			attribute.String("run.id", c.run.ID),
			attribute.String("step.name", name),
		),
	)
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	rec := StepRecord{Name: key, RecordedAt: c.now}
	b, mErr := json.Marshal(v)
	if mErr != nil {
		c.abortErr = fmt.Errorf("encode step %q: %w", name, mErr)
		return out, c.abortErr
	}
	rec.Result = b
	if err != nil {
		rec.Error = err.Error()
	}
	if cpErr := c.record(rec); cpErr != nil {
		return out, cpErr
	}

	c.logger.Debug().Str("step", name).Bool("failed", err != nil).Msg("step recorded")
	return v, err
}

type awaitDeadline struct {
	Deadline time.Time `json:"deadline"`
}

type awaitResolution struct {
	SignalID string `json:"signal_id,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Await waits for the first of the named signals or for timeout to elapse,
// whichever comes first. It returns the consumed signal, or nil when the wait
// timed out. Signal names are checked in the order given. A non-positive
// timeout waits indefinitely.
//
// When neither has happened yet Await returns ErrSuspended.
func (c *Context) Await(name string, timeout time.Duration, signals ...string) (*Signal, error) {
	if c.abortErr != nil {
		return nil, c.abortErr
	}

	key := "await:" + name
	if rec, ok := c.run.step(key); ok {
		var res awaitResolution
		if err := json.Unmarshal(rec.Result, &res); err != nil {
			return nil, fmt.Errorf("decode wait %q: %w", name, err)
		}
		if res.TimedOut {
			return nil, nil
		}
		sig := c.run.signalByID(res.SignalID)
		if sig == nil {
			return nil, fmt.Errorf("wait %q resolved by unknown signal %s", name, res.SignalID)
		}
		out := *sig
		return &out, nil
	}

	deadlineKey := key + ":deadline"
	var dl awaitDeadline
	if rec, ok := c.run.step(deadlineKey); ok {
		if err := json.Unmarshal(rec.Result, &dl); err != nil {
			return nil, fmt.Errorf("decode wait %q deadline: %w", name, err)
		}
	} else {
		if timeout > 0 {
			dl.Deadline = c.now.Add(timeout)
		}
		b, _ := json.Marshal(dl)
		if err := c.record(StepRecord{Name: deadlineKey, Result: b, RecordedAt: c.now}); err != nil {
			return nil, err
		}
	}

	for _, sigName := range signals {
		sig := c.run.pendingSignal(sigName, dl.Deadline)
		if sig == nil {
			continue
		}
		sig.ConsumedBy = key
		b, _ := json.Marshal(awaitResolution{SignalID: sig.ID})
		if err := c.record(StepRecord{Name: key, Result: b, RecordedAt: c.now}); err != nil {
			return nil, err
		}
		c.logger.Debug().Str("wait", name).Str("signal", sig.Name).Msg("wait resolved by signal")
		out := *sig
		return &out, nil
	}

	if !dl.Deadline.IsZero() && !c.now.Before(dl.Deadline) {
		b, _ := json.Marshal(awaitResolution{TimedOut: true})
		if err := c.record(StepRecord{Name: key, Result: b, RecordedAt: c.now}); err != nil {
			return nil, err
		}
		c.logger.Debug().Str("wait", name).Msg("wait timed out")
		return nil, nil
	}

	if !dl.Deadline.IsZero() {
		d := dl.Deadline
		c.wakeAt = &d
	}
	c.awaiting = signals
	return nil, ErrSuspended
}
