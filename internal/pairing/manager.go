// Package pairing runs the one-time exchange of a pairing code or terminal ids
// for a long-lived credential.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateUnpaired      State = "UNPAIRED"
	StatePairing       State = "PAIRING"
	StatePaired        State = "PAIRED"
	StatePairingFailed State = "PAIRING_FAILED"
)

var (
	ErrPairingInProgress = errors.New("pairing already in progress")
	ErrCannotForget      = errors.New("stored credentials cannot be removed")
)

// CredentialForgetter drops a stored credential.
type CredentialForgetter interface {
	Forget(provider terminal.Provider) error
}

// Status is the manager state as shown to callers.
type Status struct {
	Provider     terminal.Provider `json:"provider"`
	State        State             `json:"state"`
	DevicePaired bool              `json:"devicePaired"`
	LastError    string            `json:"lastError,omitempty"`
}

type Manager struct {
	adapter   terminal.Adapter
	persister CredentialPersister
	logger    *core.AppLogger

	mu           sync.Mutex
	state        State
	devicePaired bool
	lastErr      error
}

// NewManager starts Paired when the persister can already produce a
// credential for the adapter's provider.
func NewManager(adapter terminal.Adapter, persister CredentialPersister, logger *logrus.Logger) *Manager {
	m := &Manager{
		adapter:   adapter,
		persister: persister,
		logger:    core.NewAppLogger(logger, "pairing"),
		state:     StateUnpaired,
	}
	if src, ok := persister.(terminal.CredentialSource); ok {
		if _, err := src.Credential(adapter.Provider()); err == nil {
			m.state = StatePaired
		}
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{Provider: m.adapter.Provider(), State: m.state, DevicePaired: m.devicePaired}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Pair runs the device exchange and then persists the credential. A
// persistence failure leaves the manager in PairingFailed with an error that
// reports DevicePaired, since the terminal now believes it is paired.
func (m *Manager) Pair(ctx context.Context, input terminal.PairingInput) (*terminal.PairingCredential, error) {
	m.mu.Lock()
	if m.state == StatePairing {
		m.mu.Unlock()
		return nil, ErrPairingInProgress
	}
	m.state = StatePairing
	m.devicePaired = false
	m.lastErr = nil
	m.mu.Unlock()

	provider := m.adapter.Provider()
	cred, err := m.adapter.Pair(ctx, input)
	if err != nil {
		var pairErr *terminal.PairingError
		if !errors.As(err, &pairErr) {
			err = &terminal.PairingError{Provider: provider, Reason: "pairing request failed", Err: err}
		}
		m.fail(false, err)
		return nil, err
	}

	if err := m.persister.SaveCredential(ctx, cred); err != nil {
		pairErr := &terminal.PairingError{
			Provider:     provider,
			Reason:       "credential could not be stored",
			DevicePaired: true,
			Err:          errors.Join(terminal.ErrCredentialNotPersisted, err),
		}
		m.fail(true, pairErr)
		return nil, pairErr
	}

	m.mu.Lock()
	m.state = StatePaired
	m.devicePaired = true
	m.mu.Unlock()
	m.logger.LogPairing(string(provider), true, true, nil)
	return cred, nil
}

// Unpair removes the stored credential of the adapter's provider. The next
// transaction fails with ErrNotPaired until Pair succeeds again.
func (m *Manager) Unpair(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	forgetter, ok := m.persister.(CredentialForgetter)
	if !ok {
		return ErrCannotForget
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePairing {
		return ErrPairingInProgress
	}

	provider := m.adapter.Provider()
	if err := forgetter.Forget(provider); err != nil {
		return fmt.Errorf("failed to remove %s credential: %w", provider, err)
	}
	m.state = StateUnpaired
	m.devicePaired = false
	m.lastErr = nil
	m.logger.WithField("provider", provider).Info("terminal unpaired")
	return nil
}

func (m *Manager) fail(devicePaired bool, err error) {
	m.mu.Lock()
	m.state = StatePairingFailed
	m.devicePaired = devicePaired
	m.lastErr = err
	m.mu.Unlock()
	m.logger.LogPairing(string(m.adapter.Provider()), false, devicePaired, err)
}
