package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "sqlite", "duckdb", "postgres", "sqlserver"
	DisplayName string `json:"display_name"` // "SQLite", "Microsoft SQL Server"
	Description string `json:"description"`
}

// Options carries connection settings shared by all adapters.
type Options struct {
	MaxOpenConns int
}

// Registration contains info plus the factory for opening a datasource.
type Registration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, dsn string, opts Options) (Datasource, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Open creates a datasource of the given type.
func Open(ctx context.Context, dsType, dsn string, opts Options) (Datasource, error) {
	registryMu.RLock()
	reg, ok := registry[dsType]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return reg.Factory(ctx, dsn, opts)
}
