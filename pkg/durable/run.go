package durable

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a run
type State string

const (
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether a run in this state will never execute again
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StepRecord is one journaled side effect or wait resolution.
type StepRecord struct {
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Signal is an external event buffered in a run's inbox.
type Signal struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	ConsumedBy string          `json:"consumed_by,omitempty"`
}

// Decode unmarshals the signal payload into v. An empty payload leaves v untouched.
func (s Signal) Decode(v any) error {
	if len(s.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("decode signal %q payload: %w", s.Name, err)
	}
	return nil
}

// Run is the persisted state of one workflow execution.
type Run struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Key         string            `json:"key"`
	State       State             `json:"state"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	Steps       []StepRecord      `json:"steps,omitempty"`
	Signals     []Signal          `json:"signals,omitempty"`
	Awaiting    []string          `json:"awaiting,omitempty"`
	WakeAt      *time.Time        `json:"wake_at,omitempty"`
	Memo        map[string]string `json:"memo,omitempty"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// RunID builds the run identifier for a business key within a workflow kind.
func RunID(kind, key string) string {
	return kind + "/" + key
}

// DecodeOutput unmarshals the run's result into v.
func (r *Run) DecodeOutput(v any) error {
	if len(r.Output) == 0 {
		return fmt.Errorf("run %s has no output", r.ID)
	}
	return json.Unmarshal(r.Output, v)
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	b, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("durable: clone run %s: %v", r.ID, err))
	}
	out := &Run{}
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("durable: clone run %s: %v", r.ID, err))
	}
	return out
}

func (r *Run) step(name string) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}

func (r *Run) hasSignal(id string) bool {
	for _, s := range r.Signals {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (r *Run) signalByID(id string) *Signal {
	for i := range r.Signals {
		if r.Signals[i].ID == id {
			return &r.Signals[i]
		}
	}
	return nil
}

// pendingSignal returns the earliest unconsumed signal with the given name
// received no later than deadline. A zero deadline accepts any arrival time.
func (r *Run) pendingSignal(name string, deadline time.Time) *Signal {
	for i := range r.Signals {
		s := &r.Signals[i]
		if s.Name != name || s.ConsumedBy != "" {
			continue
		}
		if !deadline.IsZero() && s.ReceivedAt.After(deadline) {
			continue
		}
		return s
	}
	return nil
}

func (r *Run) awaits(name string) bool {
	for _, n := range r.Awaiting {
		if n == name {
			return true
		}
	}
	return false
}

// mergeInbox adopts signals appended to latest since r was loaded, along with
// latest's version. It reports false when latest differs from r in anything
// Signal cannot write, which means another executor saved the run.
func (r *Run) mergeInbox(latest *Run) bool {
	if latest.State.IsTerminal() || len(latest.Steps) > len(r.Steps) {
		return false
	}
	for i, s := range latest.Steps {
		if r.Steps[i].Name != s.Name {
			return false
		}
	}
	for _, s := range latest.Signals {
		if !r.hasSignal(s.ID) {
			r.Signals = append(r.Signals, s)
		}
	}
	r.Version = latest.Version
	return true
}

// hasAwaitedSignal reports whether an unconsumed signal the run waits for
// arrived no later than its wake time.
func (r *Run) hasAwaitedSignal() bool {
	var deadline time.Time
	if r.WakeAt != nil {
		deadline = *r.WakeAt
	}
	for _, name := range r.Awaiting {
		if r.pendingSignal(name, deadline) != nil {
			return true
		}
	}
	return false
}
