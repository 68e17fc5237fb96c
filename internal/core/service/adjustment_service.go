package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrNegativeStock = errors.New("stockOnHand cannot be a negative value")

// AdjustmentRequest asks for a variant's on-hand count to become
// StockOnHand. TrackInventory, when non-nil, updates the tracking flag on
// the same call; the flag change is independent of the quantity logic and
// never produces a movement by itself.
type AdjustmentRequest struct {
	VariantID      string
	StockOnHand    int
	TrackInventory *bool
}

// AdjustmentResult reports the outcome for one variant. Movement is nil
// when the request was a no-op (requested value equal to current on-hand).
type AdjustmentResult struct {
	VariantID string
	OnHand    int
	Delta     int
	Movement  *domain.StockMovement
	Err       error
}

// AdjustmentService is the administrative write path: it turns absolute
// requested stock values into signed adjustment deltas on the ledger.
type AdjustmentService struct {
	ledger   *LedgerService
	variants port.VariantRepository
	logger   *zap.Logger
}

func NewAdjustmentService(ledger *LedgerService, variants port.VariantRepository, logger *zap.Logger) *AdjustmentService {
	return &AdjustmentService{
		ledger:   ledger,
		variants: variants,
		logger:   logger.Named("adjustment"),
	}
}

// SetStockOnHand applies one adjustment request. The negative-value check
// runs before anything is touched, regardless of the tracking flag. A
// request equal to the current on-hand value succeeds without writing a
// ledger row.
func (s *AdjustmentService) SetStockOnHand(ctx context.Context, req AdjustmentRequest) (AdjustmentResult, error) {
	if req.StockOnHand < 0 {
		return AdjustmentResult{VariantID: req.VariantID, Err: ErrNegativeStock}, ErrNegativeStock
	}

	if req.TrackInventory != nil {
		if err := s.variants.SetTracking(ctx, req.VariantID, *req.TrackInventory); err != nil {
			err = fmt.Errorf("set tracking: %w", err)
			return AdjustmentResult{VariantID: req.VariantID, Err: err}, err
		}
	}

	v, err := s.variants.GetVariant(ctx, req.VariantID)
	if err != nil {
		return AdjustmentResult{VariantID: req.VariantID, Err: err}, err
	}

	delta := req.StockOnHand - v.OnHand
	if delta == 0 {
		return AdjustmentResult{VariantID: req.VariantID, OnHand: v.OnHand}, nil
	}

	m, err := s.ledger.Append(ctx, req.VariantID, domain.MovementAdjustment, delta, nil)
	if err != nil {
		return AdjustmentResult{VariantID: req.VariantID, Err: err}, err
	}
	return AdjustmentResult{
		VariantID: req.VariantID,
		OnHand:    req.StockOnHand,
		Delta:     delta,
		Movement:  &m,
	}, nil
}

// SetStockOnHandBatch adjusts several variants in one call. Each variant is
// its own unit of work: one variant's validation failure neither rolls back
// nor blocks its siblings, and the returned slice carries one result per
// request, in request order.
func (s *AdjustmentService) SetStockOnHandBatch(ctx context.Context, reqs []AdjustmentRequest) []AdjustmentResult {
	results := make([]AdjustmentResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.SetStockOnHand(ctx, req)
		if err != nil {
			s.logger.Warn("batch adjustment item failed",
				zap.String("variant_id", req.VariantID), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}
