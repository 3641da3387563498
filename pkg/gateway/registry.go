package gateway

import (
	"fmt"
	"sync"

	"github.com/tradeforge/execore/pkg/models"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[models.ExchangeName]Gateway)
)

// Register installs a venue adapter, typically from the adapter package's
// init. Registering the same name twice replaces the previous adapter.
func Register(gw Gateway) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[gw.Name()] = gw
}

// Lookup resolves a venue adapter by name.
func Lookup(name models.ExchangeName) (Gateway, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	gw, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownExchange, name)
	}
	return gw, nil
}
