// Package routing owns the region → gateway table consumed by the payment
// simulator and mutated by the action executor.
package routing

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/model"
)

// ErrInvalidRoute is returned for a blank region or gateway.
var ErrInvalidRoute = eris.New("routing: region and gateway are required")

// Store is the concurrency-safe routing table abstraction.
type Store interface {
	// Table returns a copy of the full mapping.
	Table(ctx context.Context) (model.RoutingTable, error)
	// Resolve returns the effective gateway for region.
	Resolve(ctx context.Context, region string) (string, error)
	// Set points region at gateway and returns the previous explicit entry.
	Set(ctx context.Context, region, gateway string) (string, error)
}

func validateRoute(region, gateway string) error {
	if strings.TrimSpace(region) == "" || strings.TrimSpace(gateway) == "" {
		return ErrInvalidRoute
	}
	return nil
}

// MemoryStore keeps the table in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	table model.RoutingTable
}

// NewMemoryStore seeds a store with initial, or the default table when nil.
func NewMemoryStore(initial model.RoutingTable) *MemoryStore {
	if initial == nil {
		initial = model.DefaultRoutingTable()
	}
	return &MemoryStore{table: initial.Clone()}
}

func (s *MemoryStore) Table(_ context.Context) (model.RoutingTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone(), nil
}

func (s *MemoryStore) Resolve(_ context.Context, region string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Resolve(region), nil
}

func (s *MemoryStore) Set(_ context.Context, region, gateway string) (string, error) {
	if err := validateRoute(region, gateway); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.table[region]
	s.table[region] = gateway
	return prev, nil
}
