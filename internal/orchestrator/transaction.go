package orchestrator

import (
	"sync"
	"time"

	"pos-terminal-bridge/internal/terminal"
)

type State string

const (
	StateIdle      State = "IDLE"
	StateCreating  State = "CREATING"
	StatePolling   State = "POLLING"
	StateStreaming State = "STREAMING"
	StateResolved  State = "RESOLVED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// Final reports whether no further transition is allowed.
func (s State) Final() bool {
	return s == StateResolved || s == StateCancelled || s == StateFailed
}

// Transaction is one payment attempt. It is mutated only by the orchestrator
// and never persisted.
type Transaction struct {
	mu sync.Mutex

	id               string
	provider         terminal.Provider
	amountMinorUnits int64
	kind             terminal.Kind
	reference        string
	state            State
	pollingHandle    string
	startedAt        time.Time
	lastPolledAt     time.Time
	lastStatus       string
	outcome          *terminal.Outcome

	// delayedNoticeFired latches the delayed notice for this transaction.
	delayedNoticeFired bool
}

// Snapshot is a consistent copy of a transaction for callers.
type Snapshot struct {
	ID                 string            `json:"id"`
	Provider           terminal.Provider `json:"provider"`
	AmountMinorUnits   int64             `json:"amountMinorUnits"`
	Kind               terminal.Kind     `json:"kind"`
	Reference          string            `json:"reference,omitempty"`
	State              State             `json:"state"`
	PollingHandle      string            `json:"pollingHandle,omitempty"`
	StartedAt          time.Time         `json:"startedAt"`
	LastPolledAt       time.Time         `json:"lastPolledAt,omitempty"`
	LastStatus         string            `json:"lastStatus,omitempty"`
	DelayedNoticeFired bool              `json:"delayedNoticeFired"`
	Outcome            *terminal.Outcome `json:"outcome,omitempty"`
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		ID:                 t.id,
		Provider:           t.provider,
		AmountMinorUnits:   t.amountMinorUnits,
		Kind:               t.kind,
		Reference:          t.reference,
		State:              t.state,
		PollingHandle:      t.pollingHandle,
		StartedAt:          t.startedAt,
		LastPolledAt:       t.lastPolledAt,
		LastStatus:         t.lastStatus,
		DelayedNoticeFired: t.delayedNoticeFired,
	}
	if t.outcome != nil {
		o := *t.outcome
		s.Outcome = &o
	}
	return s
}

// transition moves to next unless the transaction is already final. It
// returns the previous state and whether the move happened.
func (t *Transaction) transition(next State) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	if prev.Final() {
		return prev, false
	}
	t.state = next
	return prev, true
}

// resolve records outcome and its final state. A transaction that is already
// final keeps its outcome.
func (t *Transaction) resolve(outcome terminal.Outcome) (State, State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	if prev.Final() {
		return prev, prev, false
	}
	t.state = stateFor(outcome)
	t.outcome = &outcome
	t.lastPolledAt = time.Now()
	return prev, t.state, true
}

// fireDelayed latches the delayed notice and reports whether this call is the
// one that fired it.
func (t *Transaction) fireDelayed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPolledAt = time.Now()
	if t.delayedNoticeFired || t.state.Final() {
		return false
	}
	t.delayedNoticeFired = true
	return true
}

func (t *Transaction) recordStatus(status string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Final() {
		return false
	}
	t.lastStatus = status
	t.lastPolledAt = time.Now()
	return true
}

func stateFor(o terminal.Outcome) State {
	switch o.Kind {
	case terminal.OutcomeApproved, terminal.OutcomeDeclined:
		return StateResolved
	case terminal.OutcomeCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}
