package inventory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Ledger owns per-item stock. Lock and Release move stock by one unit atomically;
// stock never goes below zero.
type Ledger interface {
	Lock(ctx context.Context, id string) (Item, error)
	Release(ctx context.Context, id string) (Item, error)
	Get(ctx context.Context, id string) (Item, error)
	Flights(ctx context.Context) ([]Flight, error)
	Hotels(ctx context.Context) ([]Hotel, error)
}

// MemoryLedger keeps stock in process under a mutex.
type MemoryLedger struct {
	mu      sync.Mutex
	catalog Catalog
	items   map[string]Item
	logger  *zap.Logger
}

func NewMemoryLedger(c Catalog, logger *zap.Logger) *MemoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &MemoryLedger{catalog: c.clone(), items: map[string]Item{}, logger: logger}
	for _, it := range c.Items() {
		l.items[it.ID] = it
	}
	return l
}

func (l *MemoryLedger) Lock(_ context.Context, id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if it.Stock <= 0 {
		return it, fmt.Errorf("%s: %w", id, ErrOutOfStock)
	}
	it.Stock--
	l.items[id] = it
	l.logger.Info("inventory locked", zap.String("inventoryId", id), zap.Int("remaining", it.Stock))
	return it, nil
}

func (l *MemoryLedger) Release(_ context.Context, id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	it.Stock++
	l.items[id] = it
	l.logger.Info("inventory released", zap.String("inventoryId", id), zap.Int("remaining", it.Stock))
	return it, nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return Item{}, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	return it, nil
}

func (l *MemoryLedger) Flights(context.Context) ([]Flight, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Flight, len(l.catalog.Flights))
	for i, f := range l.catalog.Flights {
		f.AvailableSeats = l.items[f.ID].Stock
		out[i] = f
	}
	return out, nil
}

func (l *MemoryLedger) Hotels(context.Context) ([]Hotel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Hotel, len(l.catalog.Hotels))
	for i, h := range l.catalog.Hotels {
		h.AvailableRooms = l.items[h.ID].Stock
		out[i] = h
	}
	return out, nil
}
