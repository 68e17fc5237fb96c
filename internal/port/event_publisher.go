package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// EventPublisher feeds the operator-visible audit stream. Publishing is
// best-effort relative to the ledger write: a failed publish is logged, not
// propagated, because the movement row itself is the durable audit record.
type EventPublisher interface {
	PublishMovementRecorded(ctx context.Context, m domain.StockMovement, onHand int) error
	PublishShortfall(ctx context.Context, s domain.Shortfall) error
	Close() error
}
