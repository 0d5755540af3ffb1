// Package assets is the persisted catalog of vendor submissions.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/types"
)

var (
	ErrNotFound = errors.New("asset not found")
	ErrNotOwner = errors.New("asset belongs to another vendor")
)

// SubmitRequest is a vendor's new listing.
type SubmitRequest struct {
	VendorID    string
	Title       string
	Description string
	Category    string
	Language    string
	SourceCode  string
	UsageProof  string
	Price       types.Amounts
}

// ContentEdit carries the vendor-editable fields. Nil fields are left alone.
type ContentEdit struct {
	Title       *string
	Description *string
	Language    *string
	SourceCode  *string
	UsageProof  *string
	Price       *types.Amounts
}

// Store persists SecurityAsset records. Every write replaces the full record;
// use Update for read-modify-write.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: logger.OrNop(log), now: func() time.Time { return time.Now().UTC() }}
}

// Submit validates and stores a new, unverified asset.
func (s *Store) Submit(ctx context.Context, req SubmitRequest) (*types.SecurityAsset, error) {
	if strings.TrimSpace(req.VendorID) == "" {
		return nil, types.Invalid("vendor_id", "is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, types.Invalid("title", "is required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, types.Invalid("source_code", "is required")
	}
	if strings.TrimSpace(req.UsageProof) == "" {
		return nil, types.Invalid("usage_proof", "is required")
	}
	category, err := types.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = "python"
	}

	now := s.now()
	a := &types.SecurityAsset{
		ID:          uuid.NewString(),
		VendorID:    req.VendorID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    category,
		Language:    language,
		SourceCode:  req.SourceCode,
		UsageProof:  req.UsageProof,
		Price:       req.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Put(ctx, a); err != nil {
		s.log.Error("failed to store asset", zap.String("vendor_id", a.VendorID), zap.Error(err))
		return nil, err
	}
	s.log.Info("asset submitted", zap.String("asset_id", a.ID), zap.String("vendor_id", a.VendorID))
	return a, nil
}

// Get loads one asset.
func (s *Store) Get(ctx context.Context, id string) (*types.SecurityAsset, error) {
	var m marketdb.SQLiteAsset
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	return fromModel(&m)
}

// Put writes the full record, last writer wins. Callers that change an
// existing asset should use Update so concurrent edits are not lost.
func (s *Store) Put(ctx context.Context, a *types.SecurityAsset) error {
	if err := a.CheckBadge(); err != nil {
		return err
	}
	a.UpdatedAt = s.now()
	m, err := toModel(a)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

// Update applies fn to the current record inside one write transaction and
// returns the stored result.
func (s *Store) Update(ctx context.Context, id string, fn func(*types.SecurityAsset) error) (*types.SecurityAsset, error) {
	var out *types.SecurityAsset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m marketdb.SQLiteAsset
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		a, err := fromModel(&m)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := a.CheckBadge(); err != nil {
			return err
		}
		a.ID = id
		a.UpdatedAt = s.now()
		updated, err := toModel(a)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotOwner) ||
			errors.Is(err, types.ErrBadgeInvariant) || types.IsValidation(err) {
			return nil, err
		}
		s.log.Error("asset update failed", zap.String("asset_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to update asset: %w", err)
	}
	return out, nil
}

// UpdateContent applies a vendor edit. Any edit returns the asset to the
// unverified state.
func (s *Store) UpdateContent(ctx context.Context, vendorID, id string, edit ContentEdit) (*types.SecurityAsset, error) {
	if edit.Title != nil && strings.TrimSpace(*edit.Title) == "" {
		return nil, types.Invalid("title", "is required")
	}
	if edit.SourceCode != nil && strings.TrimSpace(*edit.SourceCode) == "" {
		return nil, types.Invalid("source_code", "is required")
	}
	if edit.UsageProof != nil && strings.TrimSpace(*edit.UsageProof) == "" {
		return nil, types.Invalid("usage_proof", "is required")
	}
	if edit.Price != nil {
		if err := validatePrice(*edit.Price); err != nil {
			return nil, err
		}
	}

	return s.Update(ctx, id, func(a *types.SecurityAsset) error {
		if a.VendorID != vendorID {
			return ErrNotOwner
		}
		if edit.Title != nil {
			a.Title = strings.TrimSpace(*edit.Title)
		}
		if edit.Description != nil {
			a.Description = *edit.Description
		}
		if edit.Language != nil {
			a.Language = strings.ToLower(strings.TrimSpace(*edit.Language))
		}
		if edit.SourceCode != nil {
			a.SourceCode = *edit.SourceCode
		}
		if edit.UsageProof != nil {
			a.UsageProof = *edit.UsageProof
		}
		if edit.Price != nil {
			a.Price = *edit.Price
		}
		a.ResetVerification()
		return nil
	})
}

// Delete hard-deletes an asset on behalf of its vendor.
func (s *Store) Delete(ctx context.Context, vendorID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m marketdb.SQLiteAsset
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load asset: %w", err)
		}
		if m.VendorID != vendorID {
			return ErrNotOwner
		}
		if err := tx.Delete(&m).Error; err != nil {
			return fmt.Errorf("failed to delete asset: %w", err)
		}
		s.log.Info("asset deleted", zap.String("asset_id", id), zap.String("vendor_id", vendorID))
		return nil
	})
}

// IncrementDownloads bumps the delivery counter.
func (s *Store) IncrementDownloads(ctx context.Context, id string) (*types.SecurityAsset, error) {
	return s.Update(ctx, id, func(a *types.SecurityAsset) error {
		a.Downloads++
		return nil
	})
}

// Rate folds a 1-5 star rating into the running average.
func (s *Store) Rate(ctx context.Context, id string, stars int) (*types.SecurityAsset, error) {
	if stars < 1 || stars > 5 {
		return nil, types.Invalid("rating", "must be between 1 and 5, got %d", stars)
	}
	return s.Update(ctx, id, func(a *types.SecurityAsset) error {
		total := a.Rating*float64(a.RatingCount) + float64(stars)
		a.RatingCount++
		a.Rating = total / float64(a.RatingCount)
		return nil
	})
}

// ListByVendor returns a vendor's assets, newest first.
func (s *Store) ListByVendor(ctx context.Context, vendorID string) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx).Where("vendor_id = ?", vendorID))
}

// ListByCategory returns assets in one category, newest first.
func (s *Store) ListByCategory(ctx context.Context, c types.Category) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx).Where("category = ?", string(c)))
}

// ListByVerified filters on the verification flag, newest first.
func (s *Store) ListByVerified(ctx context.Context, verified bool) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx).Where("is_verified = ?", verified))
}

// ListCreatedSince returns assets created at or after t, newest first.
func (s *Store) ListCreatedSince(ctx context.Context, t time.Time) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx).Where("created_at >= ?", t.UTC()))
}

// ListMarketplace returns what buyers can see: verified and not flagged.
func (s *Store) ListMarketplace(ctx context.Context) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx).Where("is_verified = ? AND is_flagged = ?", true, false))
}

// ListAll returns every asset, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*types.SecurityAsset, error) {
	return s.list(s.db.WithContext(ctx))
}

func (s *Store) list(q *gorm.DB) ([]*types.SecurityAsset, error) {
	var rows []marketdb.SQLiteAsset
	if err := q.Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	out := make([]*types.SecurityAsset, 0, len(rows))
	for i := range rows {
		a, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func validatePrice(p types.Amounts) error {
	positive := false
	for _, c := range types.Currencies {
		v := p.Get(c)
		if v.IsNegative() {
			return types.Invalid("price", "%s price must not be negative", c)
		}
		if v.IsPositive() {
			positive = true
		}
	}
	if !positive {
		return types.Invalid("price", "at least one currency price must be set")
	}
	return nil
}

func toModel(a *types.SecurityAsset) (*marketdb.SQLiteAsset, error) {
	var report []byte
	if a.SafetyReport != nil {
		var err error
		if report, err = json.Marshal(a.SafetyReport); err != nil {
			return nil, fmt.Errorf("failed to encode safety report: %w", err)
		}
	}
	return &marketdb.SQLiteAsset{
		ID:               a.ID,
		VendorID:         a.VendorID,
		Title:            a.Title,
		Description:      a.Description,
		Category:         string(a.Category),
		Language:         a.Language,
		SourceCode:       a.SourceCode,
		UsageProof:       a.UsageProof,
		PriceBTC:         a.Price.BTC.String(),
		PriceETH:         a.Price.ETH.String(),
		PriceXMR:         a.Price.XMR.String(),
		AuthorshipScore:  a.AuthorshipScore,
		IsVerified:       a.IsVerified,
		IsFlagged:        a.IsFlagged,
		FlagReason:       a.FlagReason,
		VexisSecureBadge: a.VexisSecureBadge,
		SafetyReport:     string(report),
		Downloads:        a.Downloads,
		Rating:           a.Rating,
		RatingCount:      a.RatingCount,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}, nil
}

func fromModel(m *marketdb.SQLiteAsset) (*types.SecurityAsset, error) {
	a := &types.SecurityAsset{
		ID:               m.ID,
		VendorID:         m.VendorID,
		Title:            m.Title,
		Description:      m.Description,
		Category:         types.Category(m.Category),
		Language:         m.Language,
		SourceCode:       m.SourceCode,
		UsageProof:       m.UsageProof,
		AuthorshipScore:  m.AuthorshipScore,
		IsVerified:       m.IsVerified,
		IsFlagged:        m.IsFlagged,
		FlagReason:       m.FlagReason,
		VexisSecureBadge: m.VexisSecureBadge,
		Downloads:        m.Downloads,
		Rating:           m.Rating,
		RatingCount:      m.RatingCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	var err error
	if a.Price.BTC, err = parseAmount(m.PriceBTC); err != nil {
		return nil, err
	}
	if a.Price.ETH, err = parseAmount(m.PriceETH); err != nil {
		return nil, err
	}
	if a.Price.XMR, err = parseAmount(m.PriceXMR); err != nil {
		return nil, err
	}
	if m.SafetyReport != "" {
		var r types.SafetyReport
		if err := json.Unmarshal([]byte(m.SafetyReport), &r); err != nil {
			return nil, fmt.Errorf("failed to decode safety report: %w", err)
		}
		a.SafetyReport = &r
	}
	return a, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return d, nil
}
