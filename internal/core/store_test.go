package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedDoc struct {
	Name  string    `json:"name"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	}()

	in := storedDoc{Name: "kitchen", Count: 3, At: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Save("doc", in))

	var out storedDoc
	found, err := store.Load("doc", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Count, out.Count)
	assert.True(t, in.At.Equal(out.At))
}

func TestStore_LoadMissingKey(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	var out storedDoc
	found, err := store.Load("missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(KeyOnlineOrdersLastFetched, "2024-05-01T12:00:00Z"))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	var watermark string
	found, err := reopened.Load(KeyOnlineOrdersLastFetched, &watermark)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2024-05-01T12:00:00Z", watermark)
}

func TestStore_DeleteAndKeys(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(CredentialKey("Tyro"), "key-1"))
	require.NoError(t, store.Save(CredentialKey("SmartPay"), "key-2"))
	require.NoError(t, store.Save(KeyRegisterSettings, map[string]bool{"x": true}))

	keys, err := store.Keys(KeyCredentialPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pairing_credential_tyro", "pairing_credential_smartpay"}, keys)

	require.NoError(t, store.Delete(CredentialKey("Tyro")))
	var v string
	found, err := store.Load(CredentialKey("Tyro"), &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SecondOpenFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	_, err = NewStore(dir, nil)
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(dir, "LOCK"))
	require.NoError(t, err, "lock of the running store must stay in place")

	require.NoError(t, store.Save(KeyRegisterSettings, map[string]bool{"x": true}))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	var v map[string]bool
	found, err := reopened.Load(KeyRegisterSettings, &v)
	require.NoError(t, err)
	assert.True(t, found)
}
