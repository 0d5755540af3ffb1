package escrow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/ledger"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/types"
)

// ReleaseLocked pays out an escrow whose purchase session ended after the
// lock. Only the buyer who locked the funds can release them.
func ReleaseLocked(ctx context.Context, deps Deps, escrowID, buyerID string) (*ledger.Settlement, error) {
	lock, err := lockedBy(ctx, deps, escrowID, buyerID)
	if err != nil {
		return nil, err
	}
	settlement, err := deps.Ledger.ReleaseEscrow(ctx, escrowID, buyerID, lock.AssetID)
	if err != nil {
		return nil, err
	}

	if deps.Assets != nil {
		if _, err := deps.Assets.IncrementDownloads(context.WithoutCancel(ctx), lock.AssetID); err != nil {
			logger.OrNop(deps.Log).Error("failed to count download", zap.String("escrow_id", escrowID), zap.Error(err))
		}
	}
	deps.Metrics.EscrowOutcome("released")
	events.OrNop(deps.Events).Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "escrow",
		Subject:  escrowID,
		Stage:    string(StageComplete),
		Passed:   true,
		Message:  fmt.Sprintf("escrow %s released, %s %s paid to seller", escrowID, lock.Amount, lock.Currency),
	})
	return settlement, nil
}

// DisputeLocked freezes an escrow whose purchase session ended after the
// lock.
func DisputeLocked(ctx context.Context, deps Deps, escrowID, buyerID, reason string) (*types.WalletTransaction, error) {
	lock, err := lockedBy(ctx, deps, escrowID, buyerID)
	if err != nil {
		return nil, err
	}
	row, err := deps.Ledger.DisputeEscrow(ctx, escrowID, buyerID, lock.AssetID, reason)
	if err != nil {
		return nil, err
	}

	deps.Metrics.EscrowOutcome("disputed")
	events.OrNop(deps.Events).Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "escrow",
		Subject:  escrowID,
		Stage:    string(StageDisputed),
		Passed:   false,
		Flags:    []string{row.Note},
		Message:  fmt.Sprintf("escrow %s disputed, %s %s frozen", escrowID, lock.Amount, lock.Currency),
	})
	return row, nil
}

// lockedBy returns the escrow_lock row of escrowID when buyerID placed it.
// Whether it is still open is left to the ledger.
func lockedBy(ctx context.Context, deps Deps, escrowID, buyerID string) (*types.WalletTransaction, error) {
	if deps.Ledger == nil {
		return nil, errors.New("escrow: missing dependency")
	}
	if escrowID == "" {
		return nil, types.Invalid("escrow_id", "is required")
	}
	history, err := deps.Ledger.EscrowHistory(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow %s: %w", escrowID, err)
	}
	for _, row := range history {
		if row.Type == types.TxEscrowLock && row.WalletID == buyerID {
			return row, nil
		}
	}
	return nil, ledger.ErrNoEscrowLock
}
