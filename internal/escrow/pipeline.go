// Package escrow drives one purchase: lock the buyer's funds, re-check the
// asset, then release to the seller or dispute.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Maphikza/vexis-market/internal/analysis"
	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/ledger"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/metrics"
	"github.com/Maphikza/vexis-market/internal/types"
)

// Stage is the purchase position shown to the buyer.
type Stage string

const (
	StageConfirm       Stage = "confirm"
	StageEscrowLock    Stage = "escrow-lock"
	StageSandboxVerify Stage = "sandbox-verify"
	StageRelease       Stage = "release"
	StageComplete      Stage = "complete"
	StageDisputed      Stage = "disputed"
)

// Terminal reports whether the purchase is settled one way or the other.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageDisputed
}

// Recommendation is the advice shown at the release stage. It never blocks
// either choice.
type Recommendation string

const (
	RecommendReady   Recommendation = "ready"
	RecommendFlagged Recommendation = "flagged"
)

var (
	ErrClosed        = errors.New("escrow pipeline is closed")
	ErrStageInFlight = errors.New("a stage is already running")
	ErrWrongStage    = errors.New("action not available at this stage")
)

// AssetStore is the slice of the asset catalog the pipeline needs.
type AssetStore interface {
	Get(ctx context.Context, id string) (*types.SecurityAsset, error)
	IncrementDownloads(ctx context.Context, id string) (*types.SecurityAsset, error)
}

// Ledger is the store handle that owns balances. It is passed in per
// session; the pipeline never holds balances itself.
type Ledger interface {
	LockEscrow(ctx context.Context, req ledger.LockRequest) (*types.WalletTransaction, error)
	ReleaseEscrow(ctx context.Context, escrowID, buyerID, assetID string) (*ledger.Settlement, error)
	DisputeEscrow(ctx context.Context, escrowID, buyerID, assetID, reason string) (*types.WalletTransaction, error)
	EscrowHistory(ctx context.Context, escrowID string) ([]*types.WalletTransaction, error)
}

// TestStore records the buyer-side verification run.
type TestStore interface {
	Create(ctx context.Context, assetID string) (*types.SandboxTest, error)
	Start(ctx context.Context, id string) (*types.SandboxTest, error)
	Complete(ctx context.Context, id string, report types.SafetyReport, lines ...string) (*types.SandboxTest, error)
	Fail(ctx context.Context, id, reason string) error
}

// Deps are the collaborators of a purchase. Events, Metrics and Log may be nil.
type Deps struct {
	Assets     AssetStore
	Ledger     Ledger
	Tests      TestStore
	Authorship analysis.AuthorshipAnalyzer
	Safety     analysis.SafetyAnalyzer
	Confirmer  Confirmer
	// MinAuthorshipScore is the inclusive bar for a ready recommendation
	// on assets without a badge, applied as given.
	MinAuthorshipScore int
	Events             events.Publisher
	Metrics            *metrics.Metrics
	Log                *zap.Logger
}

// Purchase names what the buyer wants and how they pay.
type Purchase struct {
	AssetID  string
	BuyerID  string
	Currency types.Currency
}

// Quote is the fixed price captured when the pipeline starts.
type Quote struct {
	EscrowID string
	AssetID  string
	Title    string
	SellerID string
	BuyerID  string
	Currency types.Currency
	Amount   decimal.Decimal
	Badge    bool
}

// Check is the sandbox-verify output.
type Check struct {
	TestID          string
	AuthorshipScore int
	Report          types.SafetyReport
	Passed          bool
	Recommendation  Recommendation
}

// State is a read-only view of the purchase for renderers.
type State struct {
	Stage      Stage
	Running    bool
	Closed     bool
	Quote      Quote
	Lock       *types.WalletTransaction
	Check      *Check
	Settlement *ledger.Settlement
	Dispute    *types.WalletTransaction
}

// Pipeline is one operator-driven purchase.
type Pipeline struct {
	deps  Deps
	log   *zap.Logger
	pub   events.Publisher
	asset *types.SecurityAsset
	quote Quote

	mu         sync.Mutex
	stage      Stage
	running    bool
	closed     bool
	cancel     context.CancelFunc
	lock       *types.WalletTransaction
	check      *Check
	settlement *ledger.Settlement
	dispute    *types.WalletTransaction
}

// New captures the quote for p and returns a pipeline at StageConfirm.
// Nothing is written until Lock.
func New(ctx context.Context, deps Deps, p Purchase) (*Pipeline, error) {
	if deps.Assets == nil || deps.Ledger == nil || deps.Tests == nil ||
		deps.Authorship == nil || deps.Safety == nil || deps.Confirmer == nil {
		return nil, errors.New("escrow: missing dependency")
	}
	if deps.MinAuthorshipScore < 0 || deps.MinAuthorshipScore > 100 {
		return nil, types.Invalid("min_authorship_score", "%d out of range 0-100", deps.MinAuthorshipScore)
	}
	currency, err := types.ParseCurrency(string(p.Currency))
	if err != nil {
		return nil, err
	}
	if p.BuyerID == "" {
		return nil, types.Invalid("buyer_id", "is required")
	}

	asset, err := deps.Assets.Get(ctx, p.AssetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", p.AssetID, err)
	}
	if asset.VendorID == p.BuyerID {
		return nil, types.Invalid("buyer_id", "cannot buy your own asset")
	}
	price := asset.Price.Get(currency)
	if !price.IsPositive() {
		return nil, types.Invalid("currency", "asset is not priced in %s", currency)
	}

	log := logger.OrNop(deps.Log)
	q := Quote{
		EscrowID: uuid.NewString(),
		AssetID:  asset.ID,
		Title:    asset.Title,
		SellerID: asset.VendorID,
		BuyerID:  p.BuyerID,
		Currency: currency,
		Amount:   price,
		Badge:    asset.VexisSecureBadge,
	}
	return &Pipeline{
		deps:  deps,
		log:   log.With(zap.String("escrow_id", q.EscrowID), zap.String("asset_id", asset.ID)),
		pub:   events.OrNop(deps.Events),
		asset: asset,
		quote: q,
		stage: StageConfirm,
	}, nil
}

// State returns a copy of the current position and outputs.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Stage:      p.stage,
		Running:    p.running,
		Closed:     p.closed,
		Quote:      p.quote,
		Lock:       p.lock,
		Check:      p.check,
		Settlement: p.settlement,
		Dispute:    p.dispute,
	}
}

// Lock waits for the lock confirmation, then moves the price from the
// buyer's available balance into pending escrow.
func (p *Pipeline) Lock(ctx context.Context) (*types.WalletTransaction, error) {
	stageCtx, err := p.begin(ctx, StageConfirm, StageEscrowLock)
	if err != nil {
		return nil, err
	}

	var row *types.WalletTransaction
	err = p.deps.Confirmer.Confirm(stageCtx, StageEscrowLock)
	if err == nil {
		row, err = p.deps.Ledger.LockEscrow(stageCtx, ledger.LockRequest{
			EscrowID: p.quote.EscrowID,
			BuyerID:  p.quote.BuyerID,
			SellerID: p.quote.SellerID,
			AssetID:  p.quote.AssetID,
			Currency: p.quote.Currency,
			Amount:   p.quote.Amount,
		})
	}
	if err := p.finish(StageConfirm, StageSandboxVerify, func() { p.lock = row }, err); err != nil {
		return nil, err
	}
	return row, nil
}

// Verify re-checks the asset and records the run. The result is advice:
// Release and Dispute are both allowed afterwards.
func (p *Pipeline) Verify(ctx context.Context) (*Check, error) {
	stageCtx, err := p.begin(ctx, StageSandboxVerify, "")
	if err != nil {
		return nil, err
	}
	check, err := p.runCheck(stageCtx)
	if err := p.finish(StageSandboxVerify, StageRelease, func() { p.check = check }, err); err != nil {
		return nil, err
	}

	p.pub.Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "escrow",
		Subject:  p.quote.EscrowID,
		Stage:    string(StageSandboxVerify),
		Passed:   check.Passed,
		Flags:    []string{fmt.Sprintf("authorship score %d", check.AuthorshipScore), "risk level " + string(check.Report.RiskLevel)},
		Message:  fmt.Sprintf("%q recommendation: %s", p.quote.Title, check.Recommendation),
	})
	return check, nil
}

// Release waits for the release confirmation and pays the seller.
func (p *Pipeline) Release(ctx context.Context) (*ledger.Settlement, error) {
	stageCtx, err := p.begin(ctx, StageRelease, "")
	if err != nil {
		return nil, err
	}

	var settlement *ledger.Settlement
	err = p.deps.Confirmer.Confirm(stageCtx, StageRelease)
	if err == nil {
		settlement, err = p.deps.Ledger.ReleaseEscrow(stageCtx, p.quote.EscrowID, p.quote.BuyerID, p.quote.AssetID)
	}
	if err := p.finish(StageRelease, StageComplete, func() { p.settlement = settlement }, err); err != nil {
		return nil, err
	}

	if _, err := p.deps.Assets.IncrementDownloads(context.WithoutCancel(ctx), p.quote.AssetID); err != nil {
		p.log.Error("failed to count download", zap.Error(err))
	}
	p.deps.Metrics.EscrowOutcome("released")
	p.pub.Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "escrow",
		Subject:  p.quote.EscrowID,
		Stage:    string(StageComplete),
		Passed:   true,
		Message:  fmt.Sprintf("%q delivered, %s %s released to seller", p.quote.Title, p.quote.Amount, p.quote.Currency),
	})
	return settlement, nil
}

// Dispute freezes the escrowed funds. Resolution happens outside this system.
func (p *Pipeline) Dispute(ctx context.Context, reason string) (*types.WalletTransaction, error) {
	stageCtx, err := p.begin(ctx, StageRelease, "")
	if err != nil {
		return nil, err
	}
	row, err := p.deps.Ledger.DisputeEscrow(stageCtx, p.quote.EscrowID, p.quote.BuyerID, p.quote.AssetID, reason)
	if err := p.finish(StageRelease, StageDisputed, func() { p.dispute = row }, err); err != nil {
		return nil, err
	}

	p.deps.Metrics.EscrowOutcome("disputed")
	p.pub.Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "escrow",
		Subject:  p.quote.EscrowID,
		Stage:    string(StageDisputed),
		Passed:   false,
		Flags:    []string{reason},
		Message:  fmt.Sprintf("%q disputed, %s %s frozen", p.quote.Title, p.quote.Amount, p.quote.Currency),
	})
	return row, nil
}

// Cancel stops the purchase. Committed writes stay: a lock that already
// went through remains locked. A cancelled pipeline cannot be resumed.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stage.Terminal() {
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	if p.lock != nil {
		p.log.Warn("purchase abandoned with funds in escrow", zap.String("stage", string(p.stage)))
	}
	p.deps.Metrics.EscrowOutcome("abandoned")
}

func (p *Pipeline) runCheck(ctx context.Context) (*Check, error) {
	test, err := p.deps.Tests.Create(ctx, p.asset.ID)
	if err != nil {
		return nil, err
	}
	if _, err := p.deps.Tests.Start(ctx, test.ID); err != nil {
		return nil, err
	}

	auth := p.deps.Authorship.Score(p.asset.SourceCode)
	report := p.deps.Safety.Analyze(p.asset.SourceCode)
	passed := p.quote.Badge || auth.Score >= p.deps.MinAuthorshipScore
	rec := RecommendFlagged
	if passed {
		rec = RecommendReady
	}

	if err := p.deps.Confirmer.Confirm(ctx, StageSandboxVerify); err != nil {
		if ferr := p.deps.Tests.Fail(context.WithoutCancel(ctx), test.ID, err.Error()); ferr != nil {
			p.log.Error("failed to seal sandbox test", zap.String("test_id", test.ID), zap.Error(ferr))
		}
		return nil, err
	}

	lines := []string{
		fmt.Sprintf("[verify] escrow %s buyer %s", p.quote.EscrowID, p.quote.BuyerID),
		fmt.Sprintf("[verify] badge=%t authorship=%d risk=%s", p.quote.Badge, auth.Score, report.RiskLevel),
		fmt.Sprintf("[verify] recommendation=%s", rec),
	}
	if _, err := p.deps.Tests.Complete(ctx, test.ID, report, lines...); err != nil {
		return nil, err
	}
	return &Check{
		TestID:          test.ID,
		AuthorshipScore: auth.Score,
		Report:          report,
		Passed:          passed,
		Recommendation:  rec,
	}, nil
}

// begin claims the pipeline for an action allowed only at want. display,
// when set, is shown while the action runs.
func (p *Pipeline) begin(ctx context.Context, want, display Stage) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.stage.Terminal() {
		return nil, ErrClosed
	}
	if p.running {
		return nil, ErrStageInFlight
	}
	if p.stage != want {
		return nil, fmt.Errorf("%w: at %s, need %s", ErrWrongStage, p.stage, want)
	}
	stageCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	if display != "" {
		p.stage = display
	}
	return stageCtx, nil
}

// finish releases the pipeline. A nil err means the store write committed,
// so the pipeline advances even if Cancel raced with it.
func (p *Pipeline) finish(from, to Stage, commit func(), err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	if err == nil {
		commit()
		p.stage = to
		p.pub.Publish(events.Event{Kind: events.KindStage, Pipeline: "escrow", Subject: p.quote.EscrowID, Stage: string(to)})
		p.log.Info("stage complete", zap.String("from", string(from)), zap.String("to", string(to)))
		return nil
	}

	p.stage = from
	if p.closed || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if !p.closed {
			p.closed = true
			p.deps.Metrics.EscrowOutcome("abandoned")
		}
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if !types.IsValidation(err) {
		p.deps.Metrics.StageFailed("escrow", string(from))
	}
	p.log.Error("stage failed", zap.String("stage", string(from)), zap.Error(err))
	return err
}
