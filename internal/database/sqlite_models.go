package marketdb

import (
	"time"
)

// SQLiteAsset represents a marketplace listing
type SQLiteAsset struct {
	ID          string `gorm:"primaryKey"`
	VendorID    string `gorm:"index"`
	Title       string
	Description string
	Category    string `gorm:"index"`
	Language    string
	SourceCode  string
	UsageProof  string
	PriceBTC    string
	PriceETH    string
	PriceXMR    string

	AuthorshipScore  int
	IsVerified       bool `gorm:"index"`
	IsFlagged        bool
	FlagReason       string
	VexisSecureBadge bool
	SafetyReport     string // JSON, empty when no report is attached

	Downloads   int
	Rating      float64
	RatingCount int

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// SQLiteWallet holds one balance record per owner
type SQLiteWallet struct {
	ID         string `gorm:"primaryKey"`
	AddressBTC string
	AddressETH string
	AddressXMR string

	AvailableBTC string
	AvailableETH string
	AvailableXMR string

	PendingBTC string
	PendingETH string
	PendingXMR string

	DisputedBTC string
	DisputedETH string
	DisputedXMR string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteWalletTransaction is an append-only ledger row
type SQLiteWalletTransaction struct {
	ID           string `gorm:"primaryKey"`
	WalletID     string `gorm:"index"`
	Type         string `gorm:"index"`
	AssetID      string `gorm:"index"`
	EscrowID     string `gorm:"index"`
	Amount       string
	Currency     string
	Status       string `gorm:"index"` // pending, confirming, completed, failed, disputed
	ChainTxHash  string
	Counterparty string
	Note         string
	Timestamp    time.Time `gorm:"index"`
}

// SQLiteSandboxTest stores a verification run and its log
type SQLiteSandboxTest struct {
	ID          string `gorm:"primaryKey"`
	AssetID     string `gorm:"index"`
	Status      string `gorm:"index"` // queued, running, completed, failed
	StartedAt   time.Time
	CompletedAt *time.Time
	Report      string // JSON
	Logs        string // JSON array, in emission order
}

// SQLiteMetadata stores miscellaneous key/value settings
type SQLiteMetadata struct {
	Key   string `gorm:"primaryKey"`
	Value string
}
