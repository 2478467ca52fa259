package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	provider terminal.Provider
	pairErr  error
}

func (f *fakeAdapter) Provider() terminal.Provider { return f.provider }
func (f *fakeAdapter) Mode() terminal.Mode         { return terminal.ModeStreaming }

func (f *fakeAdapter) Pair(_ context.Context, in terminal.PairingInput) (*terminal.PairingCredential, error) {
	if f.pairErr != nil {
		return nil, f.pairErr
	}
	return &terminal.PairingCredential{Provider: f.provider, Credential: "key-" + in.TerminalID, ObtainedAt: time.Now()}, nil
}

func (f *fakeAdapter) CreateTransaction(context.Context, terminal.TransactionRequest) (*terminal.Handle, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) CancelTransaction(context.Context, *terminal.Handle) error { return nil }

type failingPersister struct{}

func (failingPersister) SaveCredential(context.Context, *terminal.PairingCredential) error {
	return errors.New("mutation rejected")
}

func openStore(t *testing.T) *core.Store {
	t.Helper()
	store, err := core.NewStore(t.TempDir(), core.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPairPersistsCredential(t *testing.T) {
	creds := NewCredentialStore(openStore(t))
	m := NewManager(&fakeAdapter{provider: terminal.Tyro}, creds, core.NopLogger())
	assert.Equal(t, StateUnpaired, m.State())

	cred, err := m.Pair(context.Background(), terminal.PairingInput{MerchantID: "123", TerminalID: "4"})
	require.NoError(t, err)
	assert.Equal(t, StatePaired, m.State())

	stored, err := creds.Credential(terminal.Tyro)
	require.NoError(t, err)
	assert.Equal(t, cred.Credential, stored.Credential)
}

func TestPairRejectedByDevice(t *testing.T) {
	adapter := &fakeAdapter{provider: terminal.SmartPay, pairErr: &terminal.PairingError{Provider: terminal.SmartPay, Reason: "Invalid pairing code"}}
	m := NewManager(adapter, NewCredentialStore(openStore(t)), core.NopLogger())

	_, err := m.Pair(context.Background(), terminal.PairingInput{Code: "000000"})
	var pairErr *terminal.PairingError
	require.ErrorAs(t, err, &pairErr)
	assert.False(t, pairErr.DevicePaired)
	assert.Equal(t, StatePairingFailed, m.State())
	assert.False(t, m.Status().DevicePaired)
}

func TestPairNonPairingErrorIsWrapped(t *testing.T) {
	adapter := &fakeAdapter{provider: terminal.Tyro, pairErr: context.DeadlineExceeded}
	m := NewManager(adapter, NewCredentialStore(openStore(t)), core.NopLogger())

	_, err := m.Pair(context.Background(), terminal.PairingInput{})
	var pairErr *terminal.PairingError
	require.ErrorAs(t, err, &pairErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPersistenceFailureIsDistinct(t *testing.T) {
	m := NewManager(&fakeAdapter{provider: terminal.Tyro}, failingPersister{}, core.NopLogger())

	_, err := m.Pair(context.Background(), terminal.PairingInput{TerminalID: "4"})
	var pairErr *terminal.PairingError
	require.ErrorAs(t, err, &pairErr)
	assert.True(t, pairErr.DevicePaired)
	assert.ErrorIs(t, err, terminal.ErrCredentialNotPersisted)
	assert.Equal(t, StatePairingFailed, m.State())

	status := m.Status()
	assert.True(t, status.DevicePaired)
	assert.Contains(t, status.LastError, "mutation rejected")
}

func TestManagerStartsPairedWithStoredCredential(t *testing.T) {
	store := openStore(t)
	creds := NewCredentialStore(store)
	require.NoError(t, creds.SaveCredential(context.Background(), &terminal.PairingCredential{Provider: terminal.Tyro, Credential: "abc"}))

	m := NewManager(&fakeAdapter{provider: terminal.Tyro}, NewCredentialStore(store), core.NopLogger())
	assert.Equal(t, StatePaired, m.State())
}

func TestCredentialStoreForget(t *testing.T) {
	creds := NewCredentialStore(openStore(t))
	_, err := creds.Credential(terminal.Tyro)
	assert.ErrorIs(t, err, terminal.ErrNotPaired)

	require.NoError(t, creds.SaveCredential(context.Background(), &terminal.PairingCredential{Provider: terminal.Tyro, Credential: "abc"}))
	require.NoError(t, creds.Forget(terminal.Tyro))
	_, err = creds.Credential(terminal.Tyro)
	assert.ErrorIs(t, err, terminal.ErrNotPaired)
}

func TestCredentialStoreProviders(t *testing.T) {
	store := openStore(t)
	creds := NewCredentialStore(store)
	ctx := context.Background()
	require.NoError(t, creds.SaveCredential(ctx, &terminal.PairingCredential{Provider: terminal.Tyro, Credential: "abc"}))
	require.NoError(t, creds.SaveCredential(ctx, &terminal.PairingCredential{Provider: terminal.SmartPay, Credential: "reg"}))
	require.NoError(t, store.Save(core.KeyRegisterSettings, map[string]bool{"x": true}))

	providers, err := creds.Providers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []terminal.Provider{terminal.Tyro, terminal.SmartPay}, providers)

	require.NoError(t, creds.Forget(terminal.SmartPay))
	providers, err = creds.Providers()
	require.NoError(t, err)
	assert.Equal(t, []terminal.Provider{terminal.Tyro}, providers)
}

func TestUnpairForgetsCredential(t *testing.T) {
	creds := NewCredentialStore(openStore(t))
	require.NoError(t, creds.SaveCredential(context.Background(), &terminal.PairingCredential{Provider: terminal.Tyro, Credential: "abc"}))

	m := NewManager(&fakeAdapter{provider: terminal.Tyro}, creds, core.NopLogger())
	require.Equal(t, StatePaired, m.State())

	require.NoError(t, m.Unpair(context.Background()))
	assert.Equal(t, StateUnpaired, m.State())
	assert.False(t, m.Status().DevicePaired)
	_, err := creds.Credential(terminal.Tyro)
	assert.ErrorIs(t, err, terminal.ErrNotPaired)
}

func TestUnpairWithoutForgetter(t *testing.T) {
	m := NewManager(&fakeAdapter{provider: terminal.Tyro}, failingPersister{}, core.NopLogger())
	assert.ErrorIs(t, m.Unpair(context.Background()), ErrCannotForget)
}
