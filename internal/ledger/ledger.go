// Package ledger owns wallet balances and the append-only transaction log.
//
// Every balance change is a single read-modify-write of the affected wallet
// rows inside one database transaction, committed together with the ledger
// rows that explain it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	// ErrNoEscrowLock means no completed escrow_lock row exists for the
	// escrow id, asset and buyer given.
	ErrNoEscrowLock = errors.New("no matching escrow lock")
	// ErrEscrowClosed means the escrow was already released or disputed.
	ErrEscrowClosed = errors.New("escrow already settled")
	ErrEscrowExists = errors.New("escrow id already used")
)

// Ledger is the store handle for wallets and transactions.
type Ledger struct {
	db     *gorm.DB
	params *chaincfg.Params
	log    *zap.Logger
	now    func() time.Time
}

// New wraps an open database. params selects the bitcoin network addresses
// are validated against.
func New(db *gorm.DB, params *chaincfg.Params, log *zap.Logger) *Ledger {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Ledger{
		db:     db,
		params: params,
		log:    logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetupWallet creates the wallet or replaces its addresses. At least one
// address is required and every address given must be well-formed.
func (l *Ledger) SetupWallet(ctx context.Context, walletID string, addrs types.Addresses) (*types.VexisWallet, error) {
	if strings.TrimSpace(walletID) == "" {
		return nil, types.Invalid("wallet_id", "is required")
	}
	if addrs.Empty() {
		return nil, types.Invalid("address", "at least one wallet address is required")
	}
	for _, c := range types.Currencies {
		if a := addrs.Get(c); strings.TrimSpace(a) != "" {
			if err := ValidateAddress(c, a, l.params); err != nil {
				return nil, err
			}
		}
	}

	var out *types.VexisWallet
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := l.loadOrNew(tx, walletID)
		if err != nil {
			return err
		}
		w.Addresses = types.Addresses{
			BTC: strings.TrimSpace(addrs.BTC),
			ETH: strings.TrimSpace(addrs.ETH),
			XMR: strings.TrimSpace(addrs.XMR),
		}
		if err := l.saveWallet(tx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, l.wrap("setup wallet", walletID, err)
	}
	l.log.Info("wallet configured", zap.String("wallet_id", walletID))
	return out, nil
}

// Wallet loads one wallet.
func (l *Ledger) Wallet(ctx context.Context, walletID string) (*types.VexisWallet, error) {
	var m marketdb.SQLiteWallet
	err := l.db.WithContext(ctx).Where("id = ?", walletID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return walletFromModel(&m)
}

// RecognizeDeposit credits a deposit that was observed elsewhere. Chain
// monitoring is not part of this system; this is the seam it would call.
func (l *Ledger) RecognizeDeposit(ctx context.Context, walletID string, c types.Currency, amount decimal.Decimal, chainTxHash string) (*types.WalletTransaction, error) {
	c, err := types.ParseCurrency(string(c))
	if err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}

	var row *types.WalletTransaction
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := l.loadWallet(tx, walletID)
		if err != nil {
			return err
		}
		w.Available.Add(c, amount)
		if err := l.saveWallet(tx, w); err != nil {
			return err
		}
		row = l.newRow(walletID, types.TxDeposit, c, amount, types.TxCompleted)
		row.ChainTxHash = chainTxHash
		if row.ChainTxHash == "" {
			row.ChainTxHash = simulatedHash(row.ID)
		}
		return l.appendRow(tx, row)
	})
	if err != nil {
		return nil, l.wrap("recognize deposit", walletID, err)
	}
	return row, nil
}

// Withdraw debits available balance toward an external address. An amount
// above the available balance is rejected before any row is written.
func (l *Ledger) Withdraw(ctx context.Context, walletID string, c types.Currency, amount decimal.Decimal, toAddress string) (*types.WalletTransaction, error) {
	if err := positive(amount); err != nil {
		return nil, err
	}
	if err := ValidateAddress(c, toAddress, l.params); err != nil {
		return nil, err
	}

	var row *types.WalletTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := l.loadWallet(tx, walletID)
		if err != nil {
			return err
		}
		if err := sufficient(w, c, amount); err != nil {
			return err
		}
		w.Available.Add(c, amount.Neg())
		if err := l.saveWallet(tx, w); err != nil {
			return err
		}
		row = l.newRow(walletID, types.TxWithdrawal, c, amount, types.TxCompleted)
		row.Counterparty = strings.TrimSpace(toAddress)
		row.ChainTxHash = simulatedHash(row.ID)
		return l.appendRow(tx, row)
	})
	if err != nil {
		return nil, l.wrap("withdraw", walletID, err)
	}
	l.log.Info("withdrawal completed",
		zap.String("wallet_id", walletID),
		zap.String("currency", string(c)),
		zap.String("amount", amount.String()))
	return row, nil
}

// Transaction loads one ledger row.
func (l *Ledger) Transaction(ctx context.Context, id string) (*types.WalletTransaction, error) {
	var m marketdb.SQLiteWalletTransaction
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	return txFromModel(&m)
}

// Transactions returns a wallet's rows, newest first.
func (l *Ledger) Transactions(ctx context.Context, walletID string) ([]*types.WalletTransaction, error) {
	return l.listRows(l.db.WithContext(ctx).Where("wallet_id = ?", walletID), "desc")
}

// TransactionsByStatus returns a wallet's rows in one status, newest first.
func (l *Ledger) TransactionsByStatus(ctx context.Context, walletID string, status types.TransactionStatus) ([]*types.WalletTransaction, error) {
	return l.listRows(l.db.WithContext(ctx).Where("wallet_id = ? AND status = ?", walletID, string(status)), "desc")
}

// TransactionsSince returns a wallet's rows at or after t, newest first.
func (l *Ledger) TransactionsSince(ctx context.Context, walletID string, t time.Time) ([]*types.WalletTransaction, error) {
	return l.listRows(l.db.WithContext(ctx).Where("wallet_id = ? AND timestamp >= ?", walletID, t.UTC()), "desc")
}

// EscrowHistory returns every row linked to one escrow, oldest first.
func (l *Ledger) EscrowHistory(ctx context.Context, escrowID string) ([]*types.WalletTransaction, error) {
	return l.listRows(l.db.WithContext(ctx).Where("escrow_id = ?", escrowID), "asc")
}

func (l *Ledger) listRows(q *gorm.DB, dir string) ([]*types.WalletTransaction, error) {
	var rows []marketdb.SQLiteWalletTransaction
	if err := q.Order("timestamp " + dir + ", rowid " + dir).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]*types.WalletTransaction, 0, len(rows))
	for i := range rows {
		t, err := txFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *Ledger) loadWallet(tx *gorm.DB, walletID string) (*types.VexisWallet, error) {
	var m marketdb.SQLiteWallet
	if err := tx.Where("id = ?", walletID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return walletFromModel(&m)
}

func (l *Ledger) loadOrNew(tx *gorm.DB, walletID string) (*types.VexisWallet, error) {
	w, err := l.loadWallet(tx, walletID)
	if errors.Is(err, ErrWalletNotFound) {
		now := l.now()
		return &types.VexisWallet{ID: walletID, CreatedAt: now, UpdatedAt: now}, nil
	}
	return w, err
}

func (l *Ledger) saveWallet(tx *gorm.DB, w *types.VexisWallet) error {
	w.UpdatedAt = l.now()
	return tx.Save(walletToModel(w)).Error
}

func (l *Ledger) newRow(walletID string, t types.TransactionType, c types.Currency, amount decimal.Decimal, status types.TransactionStatus) *types.WalletTransaction {
	return &types.WalletTransaction{
		ID:        uuid.NewString(),
		WalletID:  walletID,
		Type:      t,
		Amount:    amount,
		Currency:  c,
		Status:    status,
		Timestamp: l.now(),
	}
}

func (l *Ledger) appendRow(tx *gorm.DB, row *types.WalletTransaction) error {
	return tx.Create(txToModel(row)).Error
}

// wrap keeps sentinel and validation errors intact and logs store failures.
func (l *Ledger) wrap(op, walletID string, err error) error {
	for _, known := range []error{ErrWalletNotFound, ErrInsufficientBalance, ErrNoEscrowLock, ErrEscrowClosed, ErrEscrowExists} {
		if errors.Is(err, known) {
			return err
		}
	}
	if types.IsValidation(err) {
		return err
	}
	l.log.Error("ledger write failed", zap.String("op", op), zap.String("wallet_id", walletID), zap.Error(err))
	return fmt.Errorf("failed to %s: %w", op, err)
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.Invalid("amount", "must be greater than zero")
	}
	return nil
}

func sufficient(w *types.VexisWallet, c types.Currency, amount decimal.Decimal) error {
	if avail := w.Available.Get(c); avail.LessThan(amount) {
		return &types.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("%s %s exceeds available %s %s", amount, c, avail, c),
			Err:    ErrInsufficientBalance,
		}
	}
	return nil
}

// simulatedHash derives a stable stand-in for a chain transaction hash.
func simulatedHash(seed string) string {
	return chainhash.DoubleHashH([]byte(seed)).String()
}
