package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category classifies what a security asset is for.
type Category string

const (
	CategoryReconnaissance   Category = "reconnaissance"
	CategoryExploitation     Category = "exploitation"
	CategoryPostExploitation Category = "post-exploitation"
	CategoryDefense          Category = "defense"
	CategoryUtility          Category = "utility"
)

// Categories lists the fixed category enum.
var Categories = []Category{
	CategoryReconnaissance,
	CategoryExploitation,
	CategoryPostExploitation,
	CategoryDefense,
	CategoryUtility,
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", Invalid("category", "unknown category %q", s)
}

// RiskLevel is an ordered classification: safe < low < medium < high < critical.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the position of r in the ordering, or -1 for unknown levels.
func (r RiskLevel) Rank() int {
	if n, ok := riskRank[r]; ok {
		return n
	}
	return -1
}

// Acceptable reports whether an asset at this level may pass verification:
// known levels up to low.
func (r RiskLevel) Acceptable() bool {
	n := r.Rank()
	return n >= 0 && n <= RiskLow.Rank()
}

// SafetyReport is the output of one safety analysis over a source snapshot.
//
// ModifiedFiles, ExternalAddresses and SystemCalls are representative samples
// for operator review. They are not an exhaustive trace and must never be used
// as an allow/deny list.
type SafetyReport struct {
	NetworkActivity   bool      `json:"network_activity"`
	ModifiedFiles     []string  `json:"modified_files"`
	ExternalAddresses []string  `json:"external_addresses"`
	SystemCalls       []string  `json:"system_calls"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Passed            bool      `json:"passed"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}

// SecurityAsset is a vendor-owned marketplace listing.
type SecurityAsset struct {
	ID          string
	VendorID    string
	Title       string
	Description string
	Category    Category
	Language    string
	SourceCode  string
	UsageProof  string
	Price       Amounts

	AuthorshipScore  int
	IsVerified       bool
	IsFlagged        bool
	FlagReason       string
	VexisSecureBadge bool
	SafetyReport     *SafetyReport

	Downloads   int
	Rating      float64
	RatingCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrBadgeInvariant is returned when a badge is set without a passing verification.
var ErrBadgeInvariant = errors.New("secure badge requires a verified asset with a passing safety report")

// CheckBadge enforces that the badge implies verification and a passed report.
func (a *SecurityAsset) CheckBadge() error {
	if !a.VexisSecureBadge {
		return nil
	}
	if !a.IsVerified || a.SafetyReport == nil || !a.SafetyReport.Passed {
		return fmt.Errorf("asset %s: %w", a.ID, ErrBadgeInvariant)
	}
	return nil
}

// ResetVerification returns the asset to the unverified draft state. Vendor
// content edits call this so stale verdicts never outlive the code they judged.
func (a *SecurityAsset) ResetVerification() {
	a.AuthorshipScore = 0
	a.IsVerified = false
	a.IsFlagged = false
	a.FlagReason = ""
	a.VexisSecureBadge = false
	a.SafetyReport = nil
}

// Listable reports whether buyers should see the asset in the marketplace.
func (a *SecurityAsset) Listable() bool {
	return a.IsVerified && !a.IsFlagged
}
