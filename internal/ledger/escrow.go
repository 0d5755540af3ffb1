package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/types"
)

// LockRequest moves Amount from the buyer's available balance into pending
// escrow under a caller-chosen EscrowID.
type LockRequest struct {
	EscrowID string
	BuyerID  string
	SellerID string
	AssetID  string
	Currency types.Currency
	Amount   decimal.Decimal
}

// Settlement is what a release commits: the buyer's escrow_release row and
// the seller's sale row.
type Settlement struct {
	Release *types.WalletTransaction
	Sale    *types.WalletTransaction
}

// LockEscrow commits the balance move and a completed escrow_lock row.
func (l *Ledger) LockEscrow(ctx context.Context, req LockRequest) (*types.WalletTransaction, error) {
	switch {
	case strings.TrimSpace(req.EscrowID) == "":
		return nil, types.Invalid("escrow_id", "is required")
	case strings.TrimSpace(req.BuyerID) == "":
		return nil, types.Invalid("buyer_id", "is required")
	case strings.TrimSpace(req.SellerID) == "":
		return nil, types.Invalid("seller_id", "is required")
	case strings.TrimSpace(req.AssetID) == "":
		return nil, types.Invalid("asset_id", "is required")
	case req.BuyerID == req.SellerID:
		return nil, types.Invalid("buyer_id", "cannot buy your own asset")
	}
	if err := positive(req.Amount); err != nil {
		return nil, err
	}

	var row *types.WalletTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&marketdb.SQLiteWalletTransaction{}).
			Where("escrow_id = ?", req.EscrowID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEscrowExists
		}

		w, err := l.loadWallet(tx, req.BuyerID)
		if err != nil {
			return err
		}
		if err := sufficient(w, req.Currency, req.Amount); err != nil {
			return err
		}
		w.Available.Add(req.Currency, req.Amount.Neg())
		w.PendingEscrow.Add(req.Currency, req.Amount)
		if err := l.saveWallet(tx, w); err != nil {
			return err
		}

		row = l.newRow(req.BuyerID, types.TxEscrowLock, req.Currency, req.Amount, types.TxCompleted)
		row.AssetID = req.AssetID
		row.EscrowID = req.EscrowID
		row.Counterparty = req.SellerID
		row.ChainTxHash = simulatedHash(row.ID)
		return l.appendRow(tx, row)
	})
	if err != nil {
		return nil, l.wrap("lock escrow", req.BuyerID, err)
	}
	l.log.Info("escrow locked",
		zap.String("escrow_id", req.EscrowID),
		zap.String("asset_id", req.AssetID),
		zap.String("currency", string(req.Currency)),
		zap.String("amount", req.Amount.String()))
	return row, nil
}

// ReleaseEscrow pays the locked amount to the seller. It requires a
// completed escrow_lock row for the same escrow, asset and buyer, and fails
// once the escrow has been released or disputed.
func (l *Ledger) ReleaseEscrow(ctx context.Context, escrowID, buyerID, assetID string) (*Settlement, error) {
	var out Settlement
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock, err := openLock(tx, escrowID, buyerID, assetID)
		if err != nil {
			return err
		}

		buyer, err := l.loadWallet(tx, buyerID)
		if err != nil {
			return err
		}
		if err := takePending(buyer, lock); err != nil {
			return err
		}
		if err := l.saveWallet(tx, buyer); err != nil {
			return err
		}

		seller, err := l.loadOrNew(tx, lock.Counterparty)
		if err != nil {
			return err
		}
		seller.Available.Add(lock.Currency, lock.Amount)
		if err := l.saveWallet(tx, seller); err != nil {
			return err
		}

		release := l.newRow(buyerID, types.TxEscrowRelease, lock.Currency, lock.Amount, types.TxCompleted)
		release.AssetID = assetID
		release.EscrowID = escrowID
		release.Counterparty = lock.Counterparty
		release.ChainTxHash = simulatedHash(release.ID)
		if err := l.appendRow(tx, release); err != nil {
			return err
		}

		sale := l.newRow(lock.Counterparty, types.TxSale, lock.Currency, lock.Amount, types.TxCompleted)
		sale.AssetID = assetID
		sale.EscrowID = escrowID
		sale.Counterparty = buyerID
		sale.ChainTxHash = release.ChainTxHash
		if err := l.appendRow(tx, sale); err != nil {
			return err
		}

		out = Settlement{Release: release, Sale: sale}
		return nil
	})
	if err != nil {
		return nil, l.wrap("release escrow", buyerID, err)
	}
	l.log.Info("escrow released", zap.String("escrow_id", escrowID), zap.String("asset_id", assetID))
	return &out, nil
}

// DisputeEscrow freezes the locked amount. The buyer's pending escrow drops
// by the amount, which moves to the disputed bucket; nothing is paid out.
// The reason is kept on the disputed row.
func (l *Ledger) DisputeEscrow(ctx context.Context, escrowID, buyerID, assetID, reason string) (*types.WalletTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, types.Invalid("reason", "a dispute needs a reason")
	}

	var row *types.WalletTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock, err := openLock(tx, escrowID, buyerID, assetID)
		if err != nil {
			return err
		}
		buyer, err := l.loadWallet(tx, buyerID)
		if err != nil {
			return err
		}
		if err := takePending(buyer, lock); err != nil {
			return err
		}
		buyer.Disputed.Add(lock.Currency, lock.Amount)
		if err := l.saveWallet(tx, buyer); err != nil {
			return err
		}

		row = l.newRow(buyerID, types.TxEscrowLock, lock.Currency, lock.Amount, types.TxDisputed)
		row.AssetID = assetID
		row.EscrowID = escrowID
		row.Counterparty = lock.Counterparty
		row.Note = reason
		return l.appendRow(tx, row)
	})
	if err != nil {
		return nil, l.wrap("dispute escrow", buyerID, err)
	}
	l.log.Warn("escrow disputed",
		zap.String("escrow_id", escrowID),
		zap.String("asset_id", assetID),
		zap.String("reason", reason))
	return row, nil
}

// openLock finds the completed lock for (escrow, buyer, asset) and checks
// that nothing has settled it yet.
func openLock(tx *gorm.DB, escrowID, buyerID, assetID string) (*types.WalletTransaction, error) {
	var m marketdb.SQLiteWalletTransaction
	err := tx.Where("escrow_id = ? AND type = ? AND status = ? AND wallet_id = ? AND asset_id = ?",
		escrowID, string(types.TxEscrowLock), string(types.TxCompleted), buyerID, assetID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoEscrowLock
	}
	if err != nil {
		return nil, err
	}

	var settled int64
	if err := tx.Model(&marketdb.SQLiteWalletTransaction{}).
		Where("escrow_id = ? AND (type = ? OR status = ?)",
			escrowID, string(types.TxEscrowRelease), string(types.TxDisputed)).
		Count(&settled).Error; err != nil {
		return nil, err
	}
	if settled > 0 {
		return nil, ErrEscrowClosed
	}
	return txFromModel(&m)
}

func takePending(w *types.VexisWallet, lock *types.WalletTransaction) error {
	pending := w.PendingEscrow.Get(lock.Currency)
	if pending.LessThan(lock.Amount) {
		return errors.New("pending escrow below locked amount; ledger is inconsistent")
	}
	w.PendingEscrow.Set(lock.Currency, pending.Sub(lock.Amount))
	return nil
}
