package verifone

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/terminal/simulator"
	"pos-terminal-bridge/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, device *simulator.Verifone, timeoutMs int) (terminal.Adapter, *simulator.CountingBridge) {
	t.Helper()
	srv := httptest.NewServer(device.Handler())
	t.Cleanup(srv.Close)

	raw, err := json.Marshal(Settings{IP: srv.URL, RequestTimeoutMs: timeoutMs})
	require.NoError(t, err)

	bridge := simulator.NewCountingBridge(transport.NewHTTPBridge(5*time.Second, nil, nil))
	a, err := New(terminal.Dependencies{Bridge: bridge}, raw)
	require.NoError(t, err)
	return a, bridge
}

func TestCreateTransaction_ResultInSameCall(t *testing.T) {
	device := simulator.NewVerifone(simulator.VerifoneResult{
		Result: "APPROVED", ResponseText: "APPROVED 00", CustomerReceipt: "VERIFONE\nAPPROVED",
	})
	a, _ := newTestAdapter(t, device, 0)
	assert.Equal(t, terminal.ModeImmediate, a.Mode())

	h, err := a.CreateTransaction(context.Background(), terminal.TransactionRequest{
		TransactionID: "tx-1", AmountMinorUnits: 4250, Kind: terminal.Refund,
	})
	require.NoError(t, err)
	require.NotNil(t, h.Result)
	assert.Equal(t, terminal.Approved("APPROVED 00", "VERIFONE\nAPPROVED"), *h.Result)

	sent, ok := device.LastRequest()
	require.True(t, ok)
	assert.Equal(t, int64(4250), sent.Amount)
	assert.Equal(t, "REFUND", sent.TransactionType)
	assert.Equal(t, "tx-1", sent.TransactionID)
}

func TestCreateTransaction_ResultMapping(t *testing.T) {
	cases := map[string]terminal.OutcomeKind{
		"DECLINED":  terminal.OutcomeDeclined,
		"CANCELLED": terminal.OutcomeCancelled,
		"ERROR":     terminal.OutcomeFailed,
		"TIMEOUT":   terminal.OutcomeFailed,
	}
	for result, want := range cases {
		t.Run(result, func(t *testing.T) {
			a, _ := newTestAdapter(t, simulator.NewVerifone(simulator.VerifoneResult{Result: result}), 0)
			h, err := a.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 1, Kind: terminal.Purchase})
			require.NoError(t, err)
			assert.Equal(t, want, h.Result.Kind)
		})
	}
}

func TestCreateTransaction_InvalidAmountMakesNoCall(t *testing.T) {
	device := simulator.NewVerifone(simulator.VerifoneResult{Result: "APPROVED"})
	a, bridge := newTestAdapter(t, device, 0)

	_, err := a.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: -100, Kind: terminal.Purchase})
	assert.ErrorIs(t, err, terminal.ErrInvalidAmount)
	assert.Equal(t, 0, bridge.Calls())
	assert.Equal(t, 0, device.Requests())
}

func TestCreateTransaction_Timeout(t *testing.T) {
	device := simulator.NewVerifone(simulator.VerifoneResult{Result: "APPROVED"})
	device.Delay = time.Second
	a, _ := newTestAdapter(t, device, 30)

	_, err := a.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 100, Kind: terminal.Purchase})
	var failure *terminal.TerminalFailure
	assert.ErrorAs(t, err, &failure)
}

func TestCreateTransaction_Unreachable(t *testing.T) {
	raw, _ := json.Marshal(Settings{IP: "127.0.0.1", Port: 1})
	a, err := New(terminal.Dependencies{Bridge: transport.NewHTTPBridge(time.Second, nil, nil)}, raw)
	require.NoError(t, err)

	_, err = a.CreateTransaction(context.Background(), terminal.TransactionRequest{AmountMinorUnits: 100, Kind: terminal.Purchase})
	var createErr *terminal.TransactionCreateError
	assert.ErrorAs(t, err, &createErr)
}

func TestPairAndCancelUnsupported(t *testing.T) {
	a, _ := newTestAdapter(t, simulator.NewVerifone(simulator.VerifoneResult{}), 0)
	_, err := a.Pair(context.Background(), terminal.PairingInput{})
	assert.ErrorIs(t, err, terminal.ErrPairingUnsupported)
	assert.ErrorIs(t, a.CancelTransaction(context.Background(), &terminal.Handle{}), terminal.ErrCancelUnsupported)
}
