package terminal

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu      sync.RWMutex
	adapterRegistry = make(map[Provider]NewFunc)
)

// Register adds an adapter constructor to the registry.
// This is typically called from the adapter package's init() function.
func Register(provider Provider, newFunc NewFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := adapterRegistry[provider]; exists {
		return
	}
	adapterRegistry[provider] = newFunc
}

// Get returns the constructor registered for provider.
func Get(provider Provider) (NewFunc, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	newFunc, exists := adapterRegistry[provider]
	if !exists || newFunc == nil {
		return nil, fmt.Errorf("no terminal adapter registered for provider: %s", provider)
	}
	return newFunc, nil
}

// Registered lists the providers with a constructor, sorted by name.
func Registered() []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()

	providers := make([]Provider, 0, len(adapterRegistry))
	for p, f := range adapterRegistry {
		if f != nil {
			providers = append(providers, p)
		}
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
