package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// variantRecord is one slot in the arena: the variant, its movement history
// and the mutex that makes the counter update and the history append a
// single unit. Each record owns its own lock; there is no ledger-wide lock.
type variantRecord struct {
	mu        sync.Mutex
	variant   domain.Variant
	movements []domain.StockMovement
}

// MemoryAdapter implements port.LedgerStore, port.VariantRepository and
// port.OrderRepository in process memory. It backs dev mode (no MySQL
// configured) and the unit tests. The outer mutex only guards the maps;
// appends run under the per-variant record lock, so operations on distinct
// variants never contend.
type MemoryAdapter struct {
	mu       sync.RWMutex
	variants map[string]*variantRecord
	orders   map[string]*domain.Order
	ordersMu sync.Mutex
	seq      atomic.Int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		variants: make(map[string]*variantRecord),
		orders:   make(map[string]*domain.Order),
	}
}

func (m *MemoryAdapter) record(variantID string) (*variantRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.variants[variantID]
	return rec, ok
}

func (m *MemoryAdapter) AppendMovement(ctx context.Context, mv domain.StockMovement) (domain.StockMovement, int, error) {
	rec, ok := m.record(mv.VariantID)
	if !ok {
		return domain.StockMovement{}, 0, port.ErrVariantNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.variant.FloorViolated(mv.Quantity) {
		return domain.StockMovement{}, 0, port.ErrInsufficientStock
	}

	mv.Seq = m.seq.Add(1)
	rec.variant.OnHand += mv.Quantity
	rec.variant.UpdatedAt = mv.CreatedAt
	rec.movements = append(rec.movements, mv)
	return mv, rec.variant.OnHand, nil
}

func (m *MemoryAdapter) ListMovements(ctx context.Context, variantID string, skip, take int) ([]domain.StockMovement, int, error) {
	rec, ok := m.record(variantID)
	if !ok {
		return nil, 0, port.ErrVariantNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	total := len(rec.movements)
	if skip >= total {
		return []domain.StockMovement{}, total, nil
	}
	end := skip + take
	if end > total {
		end = total
	}
	page := make([]domain.StockMovement, end-skip)
	copy(page, rec.movements[skip:end])
	return page, total, nil
}

func (m *MemoryAdapter) SumMovements(ctx context.Context, variantID string) (int, error) {
	rec, ok := m.record(variantID)
	if !ok {
		return 0, port.ErrVariantNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	sum := 0
	for _, mv := range rec.movements {
		sum += mv.Quantity
	}
	return sum, nil
}

func (m *MemoryAdapter) SaleRecorded(ctx context.Context, orderLineID string) (bool, error) {
	mv, err := m.GetSaleMovement(ctx, orderLineID)
	if errors.Is(err, port.ErrMovementNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return mv != nil, nil
}

func (m *MemoryAdapter) ReversalRecorded(ctx context.Context, orderLineID string) (bool, error) {
	m.mu.RLock()
	records := make([]*variantRecord, 0, len(m.variants))
	for _, rec := range m.variants {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	for _, rec := range records {
		rec.mu.Lock()
		for _, mv := range rec.movements {
			if mv.OrderLineID == nil || *mv.OrderLineID != orderLineID {
				continue
			}
			if mv.Kind == domain.MovementCancellation || mv.Kind == domain.MovementReturn {
				rec.mu.Unlock()
				return true, nil
			}
		}
		rec.mu.Unlock()
	}
	return false, nil
}

func (m *MemoryAdapter) GetSaleMovement(ctx context.Context, orderLineID string) (*domain.StockMovement, error) {
	m.mu.RLock()
	records := make([]*variantRecord, 0, len(m.variants))
	for _, rec := range m.variants {
		records = append(records, rec)
	}
	m.mu.RUnlock()

	for _, rec := range records {
		rec.mu.Lock()
		for i := range rec.movements {
			mv := rec.movements[i]
			if mv.Kind == domain.MovementSale && mv.OrderLineID != nil && *mv.OrderLineID == orderLineID {
				rec.mu.Unlock()
				return &mv, nil
			}
		}
		rec.mu.Unlock()
	}
	return nil, port.ErrMovementNotFound
}

func (m *MemoryAdapter) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	rec, ok := m.record(id)
	if !ok {
		return nil, port.ErrVariantNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	v := rec.variant
	return &v, nil
}

func (m *MemoryAdapter) CreateVariant(ctx context.Context, v domain.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = &variantRecord{variant: v}
	return nil
}

func (m *MemoryAdapter) SetTracking(ctx context.Context, id string, track bool) error {
	rec, ok := m.record(id)
	if !ok {
		return port.ErrVariantNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.variant.TrackInventory = track
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, port.ErrOrderNotFound
	}
	cp := *o
	cp.Lines = make([]domain.OrderLine, len(o.Lines))
	copy(cp.Lines, o.Lines)
	return &cp, nil
}

func (m *MemoryAdapter) CreateOrder(ctx context.Context, o domain.Order) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	cp := o
	cp.Lines = make([]domain.OrderLine, len(o.Lines))
	copy(cp.Lines, o.Lines)
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryAdapter) UpdateOrderState(ctx context.Context, id string, from, to domain.OrderState) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return port.ErrOrderNotFound
	}
	if o.State != from {
		return port.ErrStaleOrderState
	}
	o.State = to
	return nil
}

func (m *MemoryAdapter) MarkLineReconciled(ctx context.Context, lineID string) error {
	m.ordersMu.Lock()
	defer m.ordersMu.Unlock()

	for _, o := range m.orders {
		for i := range o.Lines {
			if o.Lines[i].ID == lineID {
				o.Lines[i].StockReconciled = true
				return nil
			}
		}
	}
	return port.ErrOrderNotFound
}

// MemoryCache is the in-process stand-in for the Redis cache, used in dev
// mode and tests.
type MemoryCache struct {
	mu     sync.Mutex
	keys   map[string]bool
	onHand map[string]int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		keys:   make(map[string]bool),
		onHand: make(map[string]int),
	}
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *MemoryCache) SetOnHand(ctx context.Context, variantID string, onHand int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHand[variantID] = onHand
	return nil
}

func (c *MemoryCache) GetOnHand(ctx context.Context, variantID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.onHand[variantID]
	return v, ok, nil
}
