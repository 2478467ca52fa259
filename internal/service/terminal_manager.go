package service

import (
	"encoding/json"
	"errors"
	"sync"

	"pos-terminal-bridge/internal/orchestrator"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/settings"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/sirupsen/logrus"
)

var ErrNoTerminal = errors.New("no payment terminal configured")

// Credentials is what the manager needs from the credential store: adapters
// read it, the pairing manager writes it.
type Credentials interface {
	terminal.CredentialSource
	pairing.CredentialPersister
}

// TerminalManager owns the active adapter together with the orchestrator and
// pairing manager built on it, and swaps all three when the terminal
// selection changes.
type TerminalManager struct {
	logger      *logrus.Logger
	bridge      transport.Bridge
	credentials Credentials
	opts        []orchestrator.Option

	mu           sync.RWMutex
	config       *settings.TerminalConfig
	adapter      terminal.Adapter
	orchestrator *orchestrator.Orchestrator
	pairing      *pairing.Manager
}

func NewTerminalManager(logger *logrus.Logger, bridge transport.Bridge, credentials Credentials, opts ...orchestrator.Option) *TerminalManager {
	return &TerminalManager{
		logger:      logger,
		bridge:      bridge,
		credentials: credentials,
		opts:        opts,
	}
}

// HandleConfigChange stops the current terminal and, when cfg is not nil,
// starts the one it names. In-flight transactions on the old terminal are
// stopped and end as failed.
func (tm *TerminalManager) HandleConfigChange(cfg *settings.TerminalConfig) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.shouldRestart(cfg) {
		return nil
	}
	tm.stopCurrent()
	if cfg == nil {
		return nil
	}
	return tm.startNew(cfg)
}

func (tm *TerminalManager) shouldRestart(cfg *settings.TerminalConfig) bool {
	if tm.adapter == nil {
		if cfg == nil {
			return false
		}
		tm.logger.Infof("No active terminal - starting %s", cfg.Provider)
		return true
	}
	if cfg == nil {
		tm.logger.Info("No terminal configuration - stopping current terminal")
		return true
	}
	if tm.config != nil && tm.config.Provider == cfg.Provider && jsonEqual(tm.config.Config, cfg.Config) {
		tm.logger.Debugf("Terminal %s already active - no restart needed", cfg.Provider)
		return false
	}
	return true
}

func (tm *TerminalManager) stopCurrent() {
	if tm.orchestrator == nil {
		return
	}
	tm.logger.Infof("Stopping current terminal: %s", tm.adapter.Provider())
	tm.orchestrator.Close()
	tm.config = nil
	tm.adapter = nil
	tm.orchestrator = nil
	tm.pairing = nil
}

func (tm *TerminalManager) startNew(cfg *settings.TerminalConfig) error {
	provider := terminal.Provider(cfg.Provider)
	newFunc, err := terminal.Get(provider)
	if err != nil {
		tm.logger.Errorf("Failed to get terminal adapter: %v", err)
		return err
	}

	adapter, err := newFunc(terminal.Dependencies{
		Logger:      tm.logger,
		Bridge:      tm.bridge,
		Credentials: tm.credentials,
	}, cfg.Config)
	if err != nil {
		tm.logger.Errorf("Failed to create %s adapter: %v", provider, err)
		return err
	}

	copied := *cfg
	tm.config = &copied
	tm.adapter = adapter
	tm.orchestrator = orchestrator.New(adapter, tm.logger, tm.opts...)
	tm.pairing = pairing.NewManager(adapter, tm.credentials, tm.logger)
	tm.logger.Infof("Terminal %s active (%s mode)", provider, adapter.Mode())
	return nil
}

// Orchestrator returns the active orchestrator or ErrNoTerminal.
func (tm *TerminalManager) Orchestrator() (*orchestrator.Orchestrator, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.orchestrator == nil {
		return nil, ErrNoTerminal
	}
	return tm.orchestrator, nil
}

// Pairing returns the active pairing manager or ErrNoTerminal.
func (tm *TerminalManager) Pairing() (*pairing.Manager, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.pairing == nil {
		return nil, ErrNoTerminal
	}
	return tm.pairing, nil
}

// Provider names the active terminal, or "" when none is configured.
func (tm *TerminalManager) Provider() terminal.Provider {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.adapter == nil {
		return ""
	}
	return tm.adapter.Provider()
}

func (tm *TerminalManager) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopCurrent()
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return string(a) == string(b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return string(ca) == string(cb)
}
