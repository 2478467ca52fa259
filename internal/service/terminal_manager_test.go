package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/settings"
	"pos-terminal-bridge/internal/terminal"
	_ "pos-terminal-bridge/internal/terminal/verifone"
	_ "pos-terminal-bridge/internal/terminal/windcave"
	"pos-terminal-bridge/internal/transport"
)

type memCredentials struct {
	mu    sync.Mutex
	creds map[terminal.Provider]*terminal.PairingCredential
}

func (m *memCredentials) Credential(p terminal.Provider) (*terminal.PairingCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[p]; ok {
		return c, nil
	}
	return nil, terminal.ErrNotPaired
}

func (m *memCredentials) SaveCredential(_ context.Context, c *terminal.PairingCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		m.creds = map[terminal.Provider]*terminal.PairingCredential{}
	}
	m.creds[c.Provider] = c
	return nil
}

func newManager() *TerminalManager {
	return NewTerminalManager(core.NopLogger(), transport.NewHTTPBridge(time.Second, nil, nil), &memCredentials{})
}

func TestTerminalManager_NoTerminal(t *testing.T) {
	tm := newManager()

	if _, err := tm.Orchestrator(); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("Expected ErrNoTerminal, got %v", err)
	}
	if _, err := tm.Pairing(); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("Expected ErrNoTerminal, got %v", err)
	}
	if err := tm.HandleConfigChange(nil); err != nil {
		t.Errorf("Clearing an empty manager should not error: %v", err)
	}
	tm.Stop()
}

func TestTerminalManager_StartAndSwitch(t *testing.T) {
	tm := newManager()

	windcave := &settings.TerminalConfig{Provider: "Windcave", Config: json.RawMessage(`{"station_id":"3801585856"}`)}
	if err := tm.HandleConfigChange(windcave); err != nil {
		t.Fatalf("Failed to start Windcave: %v", err)
	}
	first, err := tm.Orchestrator()
	if err != nil {
		t.Fatalf("Expected orchestrator, got %v", err)
	}
	if first.Provider() != terminal.Windcave {
		t.Errorf("Expected Windcave, got %s", first.Provider())
	}

	// Same selection with different key order keeps the running terminal.
	same := &settings.TerminalConfig{Provider: "Windcave", Config: json.RawMessage(`{ "station_id": "3801585856" }`)}
	if err := tm.HandleConfigChange(same); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if again, _ := tm.Orchestrator(); again != first {
		t.Error("Identical configuration should not rebuild the orchestrator")
	}

	if err := tm.HandleConfigChange(&settings.TerminalConfig{Provider: "Verifone", Config: json.RawMessage(`{"ip":"10.0.0.9"}`)}); err != nil {
		t.Fatalf("Failed to switch to Verifone: %v", err)
	}
	if tm.Provider() != terminal.Verifone {
		t.Errorf("Expected Verifone, got %s", tm.Provider())
	}
	pm, err := tm.Pairing()
	if err != nil {
		t.Fatalf("Expected pairing manager, got %v", err)
	}
	if pm.State() != pairing.StateUnpaired {
		t.Errorf("Expected unpaired, got %s", pm.State())
	}

	if err := tm.HandleConfigChange(nil); err != nil {
		t.Fatalf("Failed to stop terminal: %v", err)
	}
	if tm.Provider() != "" {
		t.Errorf("Expected no provider, got %s", tm.Provider())
	}
}

func TestTerminalManager_UnknownProvider(t *testing.T) {
	tm := newManager()
	if err := tm.HandleConfigChange(&settings.TerminalConfig{Provider: "Square"}); err == nil {
		t.Error("Expected error for unregistered provider")
	}
	if _, err := tm.Orchestrator(); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("Expected ErrNoTerminal after failed start, got %v", err)
	}
}

func TestTerminalManager_PairedOnStartWhenCredentialStored(t *testing.T) {
	creds := &memCredentials{}
	_ = creds.SaveCredential(context.Background(), &terminal.PairingCredential{Provider: terminal.Windcave, Credential: "k"})
	tm := NewTerminalManager(core.NopLogger(), transport.NewHTTPBridge(time.Second, nil, nil), creds)

	if err := tm.HandleConfigChange(&settings.TerminalConfig{Provider: "Windcave"}); err != nil {
		t.Fatal(err)
	}
	pm, _ := tm.Pairing()
	if pm.State() != pairing.StatePaired {
		t.Errorf("Expected paired, got %s", pm.State())
	}
}
