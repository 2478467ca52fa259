package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"pos-terminal-bridge/internal/core"

	"github.com/sirupsen/logrus"
)

// PrinterConfig is one receipt printer known to the register.
type PrinterConfig struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	Address            string `json:"address"`
	KitchenPrinter     bool   `json:"kitchen_printer"`
	IgnoreOnlineOrders bool   `json:"ignore_online_orders"`
}

// TerminalConfig selects the payment terminal provider and carries its
// provider-specific configuration block.
type TerminalConfig struct {
	Provider string          `json:"provider"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// RegisterSettings is the register-level configuration pushed by the back
// office.
type RegisterSettings struct {
	RegisterName             string          `json:"register_name,omitempty"`
	PrintOnlineOrderReceipts bool            `json:"print_online_order_receipts"`
	Printers                 []PrinterConfig `json:"printers"`
	Terminal                 *TerminalConfig `json:"terminal,omitempty"`
}

// Manager holds the current register settings and persists every update.
type Manager struct {
	sync.RWMutex
	logger         *logrus.Logger
	store          *core.Store
	current        RegisterSettings
	changeChan     chan struct{}
	updateCallback func(terminal *TerminalConfig)
}

// NewManager restores the last persisted settings when store is not nil.
func NewManager(logger *logrus.Logger, store *core.Store) *Manager {
	if logger == nil {
		logger = core.NopLogger()
	}
	m := &Manager{
		logger:     logger,
		store:      store,
		changeChan: make(chan struct{}, 1),
	}
	if store != nil {
		var saved RegisterSettings
		found, err := store.Load(core.KeyRegisterSettings, &saved)
		switch {
		case err != nil:
			logger.Warningf("Could not restore register settings: %v", err)
		case found:
			m.current = saved
			logger.Infof("Restored register settings (%d printers)", len(saved.Printers))
		}
	}
	return m
}

// UpdateSettings replaces the register settings with payload. Printers are
// deduplicated by address. The update callback runs only when the terminal
// selection changed.
func (m *Manager) UpdateSettings(payload []byte) error {
	var next RegisterSettings
	if err := json.Unmarshal(payload, &next); err != nil {
		return fmt.Errorf("could not unmarshal register settings: %w", err)
	}
	next.Printers = deduplicatePrinters(next.Printers)

	m.Lock()
	defer m.Unlock()

	terminalChanged := !sameTerminal(m.current.Terminal, next.Terminal)
	if m.store != nil {
		if err := m.store.Save(core.KeyRegisterSettings, next); err != nil {
			return fmt.Errorf("failed to persist register settings: %w", err)
		}
	}
	m.current = next
	m.logger.Infof("Register settings updated: %d printers, online receipts %t", len(next.Printers), next.PrintOnlineOrderReceipts)

	if terminalChanged && m.updateCallback != nil {
		m.updateCallback(copyTerminal(next.Terminal))
	}

	m.notifyChange()
	return nil
}

// Current returns a copy of the settings.
func (m *Manager) Current() RegisterSettings {
	m.RLock()
	defer m.RUnlock()

	out := m.current
	out.Printers = append([]PrinterConfig(nil), m.current.Printers...)
	out.Terminal = copyTerminal(m.current.Terminal)
	return out
}

// ActiveTerminal returns the selected terminal, or nil when none is set.
func (m *Manager) ActiveTerminal() *TerminalConfig {
	m.RLock()
	defer m.RUnlock()
	return copyTerminal(m.current.Terminal)
}

func (m *Manager) PrintOnlineOrderReceipts() bool {
	m.RLock()
	defer m.RUnlock()
	return m.current.PrintOnlineOrderReceipts
}

// OnlineOrderPrinters lists kitchen printers that accept online orders.
func (m *Manager) OnlineOrderPrinters() []PrinterConfig {
	m.RLock()
	defer m.RUnlock()

	var out []PrinterConfig
	for _, p := range m.current.Printers {
		if p.KitchenPrinter && !p.IgnoreOnlineOrders {
			out = append(out, p)
		}
	}
	return out
}

// Changes returns a channel that signals when settings have been updated.
func (m *Manager) Changes() <-chan struct{} {
	return m.changeChan
}

// SetUpdateCallback sets the function called when the terminal selection
// changes.
func (m *Manager) SetUpdateCallback(callback func(terminal *TerminalConfig)) {
	m.Lock()
	defer m.Unlock()
	m.updateCallback = callback
}

func (m *Manager) notifyChange() {
	select {
	case m.changeChan <- struct{}{}:
	default:
	}
}

func deduplicatePrinters(printers []PrinterConfig) []PrinterConfig {
	seen := make(map[string]bool)
	result := make([]PrinterConfig, 0, len(printers))

	for _, p := range printers {
		key := strings.ToLower(strings.TrimSpace(p.Address))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, p)
	}
	return result
}

func sameTerminal(a, b *TerminalConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Provider == b.Provider && bytes.Equal(a.Config, b.Config)
}

func copyTerminal(t *TerminalConfig) *TerminalConfig {
	if t == nil {
		return nil
	}
	out := *t
	out.Config = append(json.RawMessage(nil), t.Config...)
	return &out
}
