package tyro

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/terminal/simulator"
	"pos-terminal-bridge/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func (m *memCredentials) put(c *terminal.PairingCredential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		m.creds = map[terminal.Provider]*terminal.PairingCredential{}
	}
	m.creds[c.Provider] = c
}

type fixture struct {
	adapter *Adapter
	device  *simulator.Tyro
	creds   *memCredentials
	bridge  *simulator.CountingBridge
}

func newFixture(t *testing.T, device *simulator.Tyro) *fixture {
	t.Helper()
	srv := httptest.NewServer(device.Handler())
	t.Cleanup(srv.Close)

	raw, err := json.Marshal(Settings{
		BaseURL:    srv.URL,
		StreamURL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		MerchantID: device.MerchantID,
		TerminalID: device.TerminalID,
	})
	require.NoError(t, err)

	creds := &memCredentials{}
	bridge := simulator.NewCountingBridge(transport.NewHTTPBridge(5*time.Second, nil, nil))
	a, err := New(terminal.Dependencies{Bridge: bridge, Credentials: creds}, raw)
	require.NoError(t, err)
	return &fixture{adapter: a.(*Adapter), device: device, creds: creds, bridge: bridge}
}

func (f *fixture) pair(t *testing.T) {
	t.Helper()
	cred, err := f.adapter.Pair(context.Background(), terminal.PairingInput{})
	require.NoError(t, err)
	f.creds.put(cred)
}

func TestPair(t *testing.T) {
	f := newFixture(t, simulator.NewTyro("123", "4", simulator.TyroMessage{Result: "APPROVED"}))

	_, err := f.adapter.Pair(context.Background(), terminal.PairingInput{MerchantID: "123", TerminalID: "99"})
	var pairErr *terminal.PairingError
	require.ErrorAs(t, err, &pairErr)
	assert.Equal(t, "Terminal not found", pairErr.Reason)

	cred, err := f.adapter.Pair(context.Background(), terminal.PairingInput{})
	require.NoError(t, err)
	assert.Equal(t, terminal.Tyro, cred.Provider)
	assert.NotEmpty(t, cred.Credential)
}

func TestCreateTransaction_RequiresPairing(t *testing.T) {
	f := newFixture(t, simulator.NewTyro("123", "4", simulator.TyroMessage{Result: "APPROVED"}))

	_, err := f.adapter.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 100, Kind: terminal.Purchase})
	var createErr *terminal.TransactionCreateError
	require.ErrorAs(t, err, &createErr)
	assert.ErrorIs(t, err, terminal.ErrNotPaired)
	assert.Equal(t, 0, f.bridge.Calls())
}

func TestCreateTransaction_InvalidAmountMakesNoCall(t *testing.T) {
	f := newFixture(t, simulator.NewTyro("123", "4", simulator.TyroMessage{Result: "APPROVED"}))
	f.pair(t)
	calls := f.bridge.Calls()

	_, err := f.adapter.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 0, Kind: terminal.Purchase})
	assert.ErrorIs(t, err, terminal.ErrInvalidAmount)
	assert.Equal(t, calls, f.bridge.Calls())
}

func TestStreamOutcome_StatusesThenApproved(t *testing.T) {
	device := simulator.NewTyro("123", "4",
		simulator.TyroMessage{Result: "APPROVED", Message: "Approved", CustomerReceipt: "TYRO\nAPPROVED"},
		"Waiting for card", "Processing")
	f := newFixture(t, device)
	f.pair(t)

	h, err := f.adapter.CreateTransaction(context.Background(), terminal.TransactionRequest{
		TransactionID: "tx-1", AmountMinorUnits: 2599, Kind: terminal.Purchase,
	})
	require.NoError(t, err)

	var statuses []string
	outcome, err := f.adapter.StreamOutcome(context.Background(), h, func(s string) { statuses = append(statuses, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Waiting for card", "Processing"}, statuses)
	assert.Equal(t, terminal.Approved("Approved", "TYRO\nAPPROVED"), outcome)

	cmd := device.LastCommand()
	assert.Equal(t, "purchase", cmd.Command)
	assert.Equal(t, "2599", cmd.Amount)
	assert.Equal(t, "tx-1", cmd.TransactionID)
}

func TestCancelTransaction_InterruptsStream(t *testing.T) {
	device := simulator.NewTyro("123", "4", simulator.TyroMessage{Result: "APPROVED"},
		"Waiting for card", "Waiting for card", "Waiting for card", "Waiting for card")
	device.StepDelay = 30 * time.Millisecond
	f := newFixture(t, device)
	f.pair(t)

	h, err := f.adapter.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 100, Kind: terminal.Purchase})
	require.NoError(t, err)

	first := make(chan struct{})
	var once sync.Once
	done := make(chan terminal.Outcome, 1)
	go func() {
		outcome, _ := f.adapter.StreamOutcome(context.Background(), h, func(string) { once.Do(func() { close(first) }) })
		done <- outcome
	}()

	<-first
	require.NoError(t, f.adapter.CancelTransaction(context.Background(), h))

	select {
	case outcome := <-done:
		assert.Equal(t, terminal.OutcomeCancelled, outcome.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancel")
	}
	assert.True(t, device.CancelReceived())
}

func TestMapResult(t *testing.T) {
	assert.Equal(t, terminal.Declined("Transaction reversed", "R"), mapResult(message{Result: "REVERSED", CustomerReceipt: "R"}))
	assert.Equal(t, terminal.OutcomeFailed, mapResult(message{Result: "SYSTEM ERROR"}).Kind)
	assert.Equal(t, terminal.OutcomeFailed, mapResult(message{Result: "NOT STARTED"}).Kind)
	assert.Equal(t, terminal.OutcomeDeclined, mapResult(message{Result: "DECLINED"}).Kind)
}

func TestCreateTransaction_UsesIdsFromPairing(t *testing.T) {
	device := simulator.NewTyro("123", "4", simulator.TyroMessage{Result: "APPROVED", Message: "Approved"})
	srv := httptest.NewServer(device.Handler())
	defer srv.Close()

	raw, err := json.Marshal(Settings{
		BaseURL:   srv.URL,
		StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	require.NoError(t, err)
	creds := &memCredentials{}
	a, err := New(terminal.Dependencies{Bridge: transport.NewHTTPBridge(5*time.Second, nil, nil), Credentials: creds}, raw)
	require.NoError(t, err)

	cred, err := a.Pair(context.Background(), terminal.PairingInput{MerchantID: "123", TerminalID: "4"})
	require.NoError(t, err)
	assert.Equal(t, "123", cred.MerchantID)
	assert.Equal(t, "4", cred.TerminalID)
	creds.put(cred)

	h, err := a.CreateTransaction(context.Background(), terminal.TransactionRequest{
		TransactionID: "tx-2", AmountMinorUnits: 500, Kind: terminal.Purchase,
	})
	require.NoError(t, err)
	outcome, err := a.(*Adapter).StreamOutcome(context.Background(), h, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, terminal.OutcomeApproved, outcome.Kind)

	cmd := device.LastCommand()
	assert.Equal(t, "123", cmd.MID)
	assert.Equal(t, "4", cmd.TID)
	assert.Equal(t, cred.Credential, cmd.IntegrationKey)
}
