package pairing

import (
	"context"
	"fmt"
	"sync"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"
)

// CredentialPersister hands a fresh credential to durable storage. Pairing is
// only complete once it returns nil.
type CredentialPersister interface {
	SaveCredential(ctx context.Context, cred *terminal.PairingCredential) error
}

// CredentialStore keeps one credential per provider in the local store. It is
// both the persister used by the Manager and the source adapters read from.
type CredentialStore struct {
	store *core.Store

	mu    sync.RWMutex
	cache map[terminal.Provider]*terminal.PairingCredential
}

func NewCredentialStore(store *core.Store) *CredentialStore {
	return &CredentialStore{
		store: store,
		cache: make(map[terminal.Provider]*terminal.PairingCredential),
	}
}

func (c *CredentialStore) SaveCredential(ctx context.Context, cred *terminal.PairingCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.Save(core.CredentialKey(string(cred.Provider)), cred); err != nil {
		return fmt.Errorf("failed to store %s credential: %w", cred.Provider, err)
	}

	c.mu.Lock()
	stored := *cred
	c.cache[cred.Provider] = &stored
	c.mu.Unlock()
	return nil
}

func (c *CredentialStore) Credential(provider terminal.Provider) (*terminal.PairingCredential, error) {
	c.mu.RLock()
	cached, ok := c.cache[provider]
	c.mu.RUnlock()
	if ok {
		out := *cached
		return &out, nil
	}

	var cred terminal.PairingCredential
	found, err := c.store.Load(core.CredentialKey(string(provider)), &cred)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s credential: %w", provider, err)
	}
	if !found || cred.Credential == "" {
		return nil, terminal.ErrNotPaired
	}

	c.mu.Lock()
	c.cache[provider] = &cred
	c.mu.Unlock()
	out := cred
	return &out, nil
}

// Forget removes the stored credential so the provider has to pair again.
func (c *CredentialStore) Forget(provider terminal.Provider) error {
	c.mu.Lock()
	delete(c.cache, provider)
	c.mu.Unlock()
	return c.store.Delete(core.CredentialKey(string(provider)))
}

// Providers lists every provider with a stored credential, including ones
// that are not the active terminal.
func (c *CredentialStore) Providers() ([]terminal.Provider, error) {
	keys, err := c.store.Keys(core.KeyCredentialPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	providers := make([]terminal.Provider, 0, len(keys))
	for _, key := range keys {
		var cred terminal.PairingCredential
		found, err := c.store.Load(key, &cred)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if found && cred.Credential != "" {
			providers = append(providers, cred.Provider)
		}
	}
	return providers, nil
}
