package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType names the kind of ledger entry.
type TransactionType string

const (
	TxSale          TransactionType = "sale"
	TxWithdrawal    TransactionType = "withdrawal"
	TxEscrowLock    TransactionType = "escrow_lock"
	TxEscrowRelease TransactionType = "escrow_release"
	TxDeposit       TransactionType = "deposit"
)

// TransactionStatus is the settlement state recorded on a ledger row.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxConfirming TransactionStatus = "confirming"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxDisputed   TransactionStatus = "disputed"
)

// WalletTransaction is one append-only ledger row. A purchase is represented
// by several rows sharing an EscrowID.
type WalletTransaction struct {
	ID           string
	WalletID     string
	Type         TransactionType
	AssetID      string
	EscrowID     string
	Amount       decimal.Decimal
	Currency     Currency
	Status       TransactionStatus
	ChainTxHash  string
	Counterparty string
	Note         string // operator context, such as a dispute reason
	Timestamp    time.Time
}

// VexisWallet is the per-user balance record.
type VexisWallet struct {
	ID            string
	Addresses     Addresses
	Available     Amounts
	PendingEscrow Amounts
	// Disputed holds escrow that left PendingEscrow through a dispute and is
	// frozen until resolved outside this system.
	Disputed  Amounts
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultWalletID is the singleton wallet key used when no owner is given.
const DefaultWalletID = "primary"
