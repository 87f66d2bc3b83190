package deploy

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Provider)
	mu       sync.RWMutex
)

func Register(p Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[p.ID()]; exists {
		panic(fmt.Sprintf("deploy provider %s already registered", p.ID()))
	}
	registry[p.ID()] = p
}

func List() []Provider {
	mu.RLock()
	defer mu.RUnlock()
	var providers []Provider
	for _, p := range registry {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].ID() < providers[j].ID()
	})
	return providers
}

func Resolve(id string) (Provider, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown deploy provider: %s", id)
	}
	return p, nil
}
