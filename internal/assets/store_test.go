package assets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := marketdb.Open(filepath.Join(t.TempDir(), "assets.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = marketdb.Close(db) })
	return NewStore(db, nil)
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		VendorID:   "vendor-1",
		Title:      "Subnet sweeper",
		Category:   "reconnaissance",
		Language:   "Python",
		SourceCode: "def sweep(network):\n    return network.hosts()\n",
		UsageProof: "$ python sweep.py 10.0.0.0/24\n12 hosts up",
		Price:      types.Amounts{BTC: decimal.RequireFromString("0.001")},
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cases := map[string]func(*SubmitRequest){
		"title":       func(r *SubmitRequest) { r.Title = "  " },
		"source_code": func(r *SubmitRequest) { r.SourceCode = "" },
		"usage_proof": func(r *SubmitRequest) { r.UsageProof = "" },
		"vendor_id":   func(r *SubmitRequest) { r.VendorID = "" },
		"category":    func(r *SubmitRequest) { r.Category = "malware" },
		"price":       func(r *SubmitRequest) { r.Price = types.Amounts{} },
	}
	for field, mutate := range cases {
		req := validRequest()
		mutate(&req)
		_, err := s.Submit(ctx, req)
		require.Error(t, err, field)
		assert.True(t, types.IsValidation(err), field)
		assert.Contains(t, err.Error(), field)
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmitAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)
	assert.False(t, a.IsVerified)
	assert.Equal(t, "python", a.Language)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)
	assert.True(t, got.Price.BTC.Equal(decimal.RequireFromString("0.001")))
	assert.Nil(t, got.SafetyReport)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	first, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, a.ID)
	require.NoError(t, err)

	first.Title = "Renamed sweeper"
	require.NoError(t, s.Put(ctx, first))
	second.Description = "stale copy"
	require.NoError(t, s.Put(ctx, second))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "stale copy", got.Description)
	assert.Equal(t, "Subnet sweeper", got.Title)
}

func TestPutRejectsBadgeWithoutPassingReport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	a.VexisSecureBadge = true
	a.IsVerified = true
	a.SafetyReport = &types.SafetyReport{RiskLevel: types.RiskHigh, Passed: false}
	assert.ErrorIs(t, s.Put(ctx, a), types.ErrBadgeInvariant)

	a.SafetyReport = nil
	assert.ErrorIs(t, s.Put(ctx, a), types.ErrBadgeInvariant)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.VexisSecureBadge)
	assert.False(t, got.IsVerified)

	a.SafetyReport = &types.SafetyReport{RiskLevel: types.RiskSafe, Passed: true}
	require.NoError(t, s.Put(ctx, a))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.VexisSecureBadge)
}

func TestUpdateRejectsBadgeWithoutPassingReport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	_, err = s.Update(ctx, a.ID, func(a *types.SecurityAsset) error {
		a.IsVerified = true
		a.VexisSecureBadge = true
		return nil
	})
	assert.ErrorIs(t, err, types.ErrBadgeInvariant)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.VexisSecureBadge)
}

func verify(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.Update(context.Background(), id, func(a *types.SecurityAsset) error {
		a.AuthorshipScore = 90
		a.IsVerified = true
		a.VexisSecureBadge = true
		a.SafetyReport = &types.SafetyReport{RiskLevel: types.RiskSafe, Passed: true}
		return nil
	})
	require.NoError(t, err)
}

func TestContentEditResetsVerification(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)
	verify(t, s, a.ID)

	src := "def sweep(network, timeout):\n    return network.hosts(timeout)\n"
	edited, err := s.UpdateContent(ctx, "vendor-1", a.ID, ContentEdit{SourceCode: &src})
	require.NoError(t, err)
	assert.False(t, edited.IsVerified)
	assert.False(t, edited.VexisSecureBadge)
	assert.Nil(t, edited.SafetyReport)
	assert.Equal(t, 0, edited.AuthorshipScore)
	assert.Equal(t, src, edited.SourceCode)

	_, err = s.UpdateContent(ctx, "vendor-2", a.ID, ContentEdit{SourceCode: &src})
	assert.ErrorIs(t, err, ErrNotOwner)

	empty := ""
	_, err = s.UpdateContent(ctx, "vendor-1", a.ID, ContentEdit{UsageProof: &empty})
	assert.True(t, types.IsValidation(err))
}

func TestDeleteIsVendorOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, "vendor-2", a.ID), ErrNotOwner)
	require.NoError(t, s.Delete(ctx, "vendor-1", a.ID))
	assert.ErrorIs(t, s.Delete(ctx, "vendor-1", a.ID), ErrNotFound)
}

func TestIndexes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.VendorID = "vendor-2"
	req.Category = "defense"
	second, err := s.Submit(ctx, req)
	require.NoError(t, err)
	verify(t, s, second.ID)

	byVendor, err := s.ListByVendor(ctx, "vendor-1")
	require.NoError(t, err)
	require.Len(t, byVendor, 1)
	assert.Equal(t, first.ID, byVendor[0].ID)

	byCategory, err := s.ListByCategory(ctx, types.CategoryDefense)
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, second.ID, byCategory[0].ID)

	verified, err := s.ListByVerified(ctx, true)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, second.ID, verified[0].ID)

	market, err := s.ListMarketplace(ctx)
	require.NoError(t, err)
	require.Len(t, market, 1)
	assert.True(t, market[0].Listable())

	since, err := s.ListCreatedSince(ctx, second.CreatedAt)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, second.ID, since[0].ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}

func TestCountersAndRating(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, err := s.Submit(ctx, validRequest())
	require.NoError(t, err)

	_, err = s.IncrementDownloads(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.Rate(ctx, a.ID, 5)
	require.NoError(t, err)
	got, err := s.Rate(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Downloads)
	assert.Equal(t, 2, got.RatingCount)
	assert.InDelta(t, 3.5, got.Rating, 1e-9)

	_, err = s.Rate(ctx, a.ID, 6)
	assert.True(t, types.IsValidation(err))
}
