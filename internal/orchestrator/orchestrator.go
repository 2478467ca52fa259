// Package orchestrator owns the lifecycle of in-flight payment transactions:
// it creates them through a terminal adapter, drives polling or streaming,
// latches the delayed notice and normalises every ending into one outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrTransactionNotActive = errors.New("transaction is not active")

const (
	defaultDrainTimeout = 30 * time.Second
	defaultRetention    = 10 * time.Minute
)

type Request struct {
	AmountMinorUnits int64
	Kind             terminal.Kind
	Reference        string
}

// Callbacks are invoked from the goroutine driving the transaction.
type Callbacks struct {
	OnDelayed      func(tx *Transaction, notice *terminal.PollingTimeoutError)
	OnStatusUpdate func(tx *Transaction, status string)
}

type Option func(*Orchestrator)

// WithDrainTimeout bounds how long a cancelled stream is kept open to collect
// the device's final answer.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.drainTimeout = d }
}

// WithRetention sets how long finished transactions remain visible to Lookup.
func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) { o.retention = d }
}

type Orchestrator struct {
	adapter      terminal.Adapter
	logger       *core.AppLogger
	drainTimeout time.Duration
	retention    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(adapter terminal.Adapter, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:      adapter,
		logger:       core.NewAppLogger(logger, "orchestrator"),
		drainTimeout: defaultDrainTimeout,
		retention:    defaultRetention,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Provider() terminal.Provider { return o.adapter.Provider() }

// Session is the handle a caller holds on one transaction.
type Session struct {
	o      *Orchestrator
	tx     *Transaction
	handle *terminal.Handle
	cb     Callbacks

	runCtx context.Context
	stop   context.CancelFunc

	done       chan struct{}
	doneOnce   sync.Once
	drained    chan struct{}
	finishedAt time.Time
}

func (s *Session) Transaction() *Transaction { return s.tx }

// Done is closed once the transaction reaches a final state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Drained is closed once nothing is reading from the device any more. After a
// cancel this can be later than Done.
func (s *Session) Drained() <-chan struct{} { return s.drained }

// Wait blocks until the transaction is final and returns its outcome.
func (s *Session) Wait(ctx context.Context) (terminal.Outcome, error) {
	select {
	case <-ctx.Done():
		return terminal.Outcome{}, ctx.Err()
	case <-s.done:
	}
	snap := s.tx.Snapshot()
	if snap.Outcome == nil {
		return terminal.Outcome{}, fmt.Errorf("transaction %s finished without outcome", snap.ID)
	}
	return *snap.Outcome, nil
}

// Cancel stops the transaction. The state becomes Cancelled before the device
// is asked to abort, so an answer arriving afterwards is discarded.
func (s *Session) Cancel(ctx context.Context) error {
	if !s.finish(terminal.Cancelled()) {
		return ErrTransactionNotActive
	}

	err := s.o.adapter.CancelTransaction(ctx, s.handle)
	switch {
	case err == nil:
		go func() {
			select {
			case <-s.drained:
			case <-time.After(s.o.drainTimeout):
				s.stop()
			}
		}()
	case errors.Is(err, terminal.ErrCancelUnsupported):
		s.o.logger.Debugf("%s has no cancel primitive, stopping %s client-side", s.tx.provider, s.tx.id)
		s.stop()
	default:
		s.o.logger.Warningf("Cancel request for %s failed: %v", s.tx.id, err)
		s.stop()
	}
	return nil
}

// Start validates the request, creates the transaction on the terminal and
// begins driving it. Creation failures are returned as-is; nothing retries.
func (o *Orchestrator) Start(ctx context.Context, req Request, cb Callbacks) (*Session, error) {
	o.prune()

	provider := o.adapter.Provider()
	tx := &Transaction{
		id:               uuid.NewString(),
		provider:         provider,
		amountMinorUnits: req.AmountMinorUnits,
		kind:             req.Kind,
		reference:        req.Reference,
		state:            StateIdle,
		startedAt:        time.Now(),
	}

	if err := terminal.ValidateAmount(provider, req.AmountMinorUnits); err != nil {
		return nil, err
	}
	o.move(tx, StateCreating)

	runCtx, stop := context.WithCancel(context.Background())
	s := &Session{
		o:       o,
		tx:      tx,
		cb:      cb,
		runCtx:  runCtx,
		stop:    stop,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}

	handle, err := o.adapter.CreateTransaction(ctx, terminal.TransactionRequest{
		TransactionID:    tx.id,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		Reference:        req.Reference,
	})
	if err != nil {
		var failure *terminal.TerminalFailure
		if errors.As(err, &failure) {
			// The device was reached, so this is an outcome rather than a
			// creation error.
			o.register(s)
			s.finish(terminal.Failed(failure.Error()))
			close(s.drained)
			stop()
			return s, nil
		}
		stop()
		o.move(tx, StateFailed)
		return nil, err
	}
	s.handle = handle
	tx.mu.Lock()
	tx.pollingHandle = handle.PollingHandle
	tx.mu.Unlock()
	o.register(s)

	switch o.adapter.Mode() {
	case terminal.ModeImmediate:
		outcome := terminal.Failed("terminal returned no result")
		if handle.Result != nil {
			outcome = *handle.Result
		}
		s.finish(outcome)
		close(s.drained)
		stop()
	case terminal.ModePolling:
		poller, ok := o.adapter.(terminal.Poller)
		if !ok {
			return o.misconfigured(s)
		}
		o.move(tx, StatePolling)
		go s.drive(func(ctx context.Context) (terminal.Outcome, error) {
			return poller.PollOutcome(ctx, handle, s.onDelayed)
		})
	case terminal.ModeStreaming:
		streamer, ok := o.adapter.(terminal.Streamer)
		if !ok {
			return o.misconfigured(s)
		}
		o.move(tx, StateStreaming)
		go s.drive(func(ctx context.Context) (terminal.Outcome, error) {
			return streamer.StreamOutcome(ctx, handle, s.onStatus)
		})
	}
	return s, nil
}

func (o *Orchestrator) misconfigured(s *Session) (*Session, error) {
	s.finish(terminal.Failed(fmt.Sprintf("%s adapter does not support %s mode", s.tx.provider, o.adapter.Mode())))
	close(s.drained)
	s.stop()
	return s, nil
}

func (s *Session) drive(run func(ctx context.Context) (terminal.Outcome, error)) {
	defer close(s.drained)
	defer s.stop()

	outcome, err := run(s.runCtx)
	if err != nil {
		if s.runCtx.Err() != nil {
			// Already final after a cancel; otherwise stopped by Close.
			s.finish(terminal.Failed("transaction stopped"))
			return
		}
		outcome = terminal.Failed(err.Error())
	}

	if !s.finish(outcome) {
		if outcome.Kind == terminal.OutcomeCancelled {
			s.o.logger.Debugf("Terminal confirmed cancellation of %s", s.tx.id)
			return
		}
		s.o.logger.LogOrphanedOutcome(string(s.tx.provider), s.tx.id, outcome.String())
	}
}

func (s *Session) onDelayed(notice *terminal.PollingTimeoutError) {
	if !s.tx.fireDelayed() {
		return
	}
	s.o.logger.LogDelayedNotice(string(s.tx.provider), s.tx.id, notice.Elapsed)
	if s.cb.OnDelayed != nil {
		s.cb.OnDelayed(s.tx, notice)
	}
}

func (s *Session) onStatus(status string) {
	if !s.tx.recordStatus(status) {
		return
	}
	if s.cb.OnStatusUpdate != nil {
		s.cb.OnStatusUpdate(s.tx, status)
	}
}

// finish makes outcome final. It reports false when the transaction had
// already ended, in which case outcome is not applied.
func (s *Session) finish(outcome terminal.Outcome) bool {
	prev, next, ok := s.tx.resolve(outcome)
	if !ok {
		return false
	}
	s.o.logger.LogStateTransition(string(s.tx.provider), s.tx.id, string(prev), string(next))
	s.o.logger.LogTransactionComplete(string(s.tx.provider), s.tx.id, outcome.String(),
		s.tx.amountMinorUnits, time.Since(s.tx.startedAt))

	s.o.mu.Lock()
	s.finishedAt = time.Now()
	s.o.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	return true
}

func (o *Orchestrator) move(tx *Transaction, next State) {
	if prev, ok := tx.transition(next); ok {
		o.logger.LogStateTransition(string(tx.provider), tx.id, string(prev), string(next))
	}
}

func (o *Orchestrator) register(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[s.tx.id] = s
}

// prune forgets transactions that finished longer than the retention ago.
func (o *Orchestrator) prune() {
	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := time.Now().Add(-o.retention)
	for id, s := range o.sessions {
		if !s.finishedAt.IsZero() && s.finishedAt.Before(cutoff) {
			delete(o.sessions, id)
		}
	}
}

// Lookup returns an in-flight or recently finished transaction.
func (o *Orchestrator) Lookup(id string) (*Transaction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, false
	}
	return s.tx, true
}

// Cancel cancels the transaction with id.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		return ErrTransactionNotActive
	}
	return s.Cancel(ctx)
}

// Active lists transactions that have not reached a final state.
func (o *Orchestrator) Active() []Snapshot {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	var active []Snapshot
	for _, s := range sessions {
		if snap := s.tx.Snapshot(); !snap.State.Final() {
			active = append(active, snap)
		}
	}
	return active
}

// Close stops every running transaction without waiting for the devices.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		s.stop()
	}
}
