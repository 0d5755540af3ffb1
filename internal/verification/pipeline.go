// Package verification drives one asset through the trust pipeline:
// authorship check, sandbox run, safety report and verdict.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Maphikza/vexis-market/internal/analysis"
	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/logger"
	"github.com/Maphikza/vexis-market/internal/metrics"
	"github.com/Maphikza/vexis-market/internal/sandbox"
	"github.com/Maphikza/vexis-market/internal/types"
)

// Stage is the pipeline position shown to the operator.
type Stage string

const (
	StageIntro      Stage = "intro"
	StageAuthorship Stage = "authorship-check"
	StageSandbox    Stage = "sandbox-run"
	StageSafety     Stage = "safety-report"
	StageResult     Stage = "result"
	StageApplied    Stage = "applied"
	StageRejected   Stage = "rejected"
)

// Terminal reports whether no further action is accepted.
func (s Stage) Terminal() bool {
	return s == StageApplied || s == StageRejected
}

var (
	ErrClosed        = errors.New("verification pipeline is closed")
	ErrStageInFlight = errors.New("a stage is already running")
	ErrWrongStage    = errors.New("action not available at this stage")
	// ErrStale means the vendor edited the asset after the run started.
	ErrStale = errors.New("asset content changed during verification")
)

// AssetStore is the slice of the asset catalog the pipeline needs.
type AssetStore interface {
	Get(ctx context.Context, id string) (*types.SecurityAsset, error)
	Update(ctx context.Context, id string, fn func(*types.SecurityAsset) error) (*types.SecurityAsset, error)
}

// TestStore records sandbox runs.
type TestStore interface {
	Create(ctx context.Context, assetID string) (*types.SandboxTest, error)
	Start(ctx context.Context, id string) (*types.SandboxTest, error)
	AppendLog(ctx context.Context, id string, lines ...string) error
	Complete(ctx context.Context, id string, report types.SafetyReport, lines ...string) (*types.SandboxTest, error)
	Fail(ctx context.Context, id, reason string) error
}

// Deps are the collaborators of a pipeline. Events, Metrics and Log may be
// nil. Thresholds are applied as given; DefaultThresholds is the usual set.
type Deps struct {
	Assets     AssetStore
	Tests      TestStore
	Runner     sandbox.Runner
	Authorship analysis.AuthorshipAnalyzer
	Safety     analysis.SafetyAnalyzer
	Thresholds Thresholds
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// State is a read-only view of the pipeline for renderers.
type State struct {
	AssetID    string
	Stage      Stage
	Running    bool
	Progress   int
	Authorship *analysis.AuthorshipResult
	TestID     string
	Report     *types.SafetyReport
	Verdict    *Verdict
}

// Pipeline is one operator-driven verification run. Stages only move
// forward; at most one stage action runs at a time.
type Pipeline struct {
	deps  Deps
	log   *zap.Logger
	pub   events.Publisher
	asset *types.SecurityAsset

	mu         sync.Mutex
	stage      Stage
	running    bool
	cancel     context.CancelFunc
	progress   int
	authorship *analysis.AuthorshipResult
	test       *types.SandboxTest
	trace      *sandbox.ExecutionTrace
	report     *types.SafetyReport
	verdict    *Verdict
}

// New loads the asset and returns a pipeline at StageIntro.
func New(ctx context.Context, deps Deps, assetID string) (*Pipeline, error) {
	if deps.Assets == nil || deps.Tests == nil || deps.Runner == nil || deps.Authorship == nil || deps.Safety == nil {
		return nil, errors.New("verification: missing dependency")
	}
	if err := deps.Thresholds.Validate(); err != nil {
		return nil, err
	}
	asset, err := deps.Assets.Get(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}
	return &Pipeline{
		deps:  deps,
		log:   logger.OrNop(deps.Log).With(zap.String("asset_id", assetID)),
		pub:   events.OrNop(deps.Events),
		asset: asset,
		stage: StageIntro,
	}, nil
}

// State returns a copy of the current position and outputs.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := State{
		AssetID:    p.asset.ID,
		Stage:      p.stage,
		Running:    p.running,
		Progress:   p.progress,
		Authorship: p.authorship,
		Report:     p.report,
		Verdict:    p.verdict,
	}
	if p.test != nil {
		s.TestID = p.test.ID
	}
	return s
}

// Next runs the action that leads out of the current stage and returns the
// new stage. At StageResult use Apply or Close instead.
func (p *Pipeline) Next(ctx context.Context) (Stage, error) {
	from, stageCtx, err := p.begin(ctx)
	if err != nil {
		return from, err
	}

	var (
		to     Stage
		commit func()
	)
	switch from {
	case StageIntro:
		to, commit, err = p.runAuthorship()
	case StageAuthorship:
		to, commit, err = p.runSandbox(stageCtx)
	case StageSandbox:
		to, commit, err = p.runSafety(stageCtx)
	case StageSafety:
		to, commit, err = p.runResult()
	default:
		err = ErrWrongStage
	}
	return p.finish(from, to, commit, err)
}

// Apply writes the verdict onto the asset and ends the pipeline.
func (p *Pipeline) Apply(ctx context.Context) (*types.SecurityAsset, error) {
	from, stageCtx, err := p.begin(ctx)
	if err != nil {
		return nil, err
	}
	if from != StageResult {
		_, err = p.finish(from, "", nil, ErrWrongStage)
		return nil, err
	}

	v := *p.verdict
	report := *p.report
	snapshot := p.asset
	updated, err := p.deps.Assets.Update(stageCtx, snapshot.ID, func(a *types.SecurityAsset) error {
		if a.SourceCode != snapshot.SourceCode || a.UsageProof != snapshot.UsageProof {
			return ErrStale
		}
		a.AuthorshipScore = v.AuthorshipScore
		a.IsVerified = v.Passed
		a.VexisSecureBadge = v.Passed
		a.IsFlagged = !v.Passed
		a.FlagReason = v.FlagReason()
		a.SafetyReport = &report
		return nil
	})
	switch {
	case errors.Is(err, ErrStale):
		p.end(StageRejected)
		p.log.Warn("verdict discarded, asset edited mid-run")
		return nil, err
	case err != nil:
		_, err = p.finish(from, "", nil, err)
		return nil, err
	}

	// The write is committed; a concurrent Close cannot undo it.
	p.end(StageApplied)
	p.deps.Metrics.Verdict(v.Passed)
	p.pub.Publish(events.Event{
		Kind:     events.KindVerdict,
		Pipeline: "verification",
		Subject:  snapshot.ID,
		Stage:    string(StageApplied),
		Passed:   v.Passed,
		Flags:    v.Reasons,
		Message:  verdictMessage(updated, v),
	})
	p.log.Info("verdict applied", zap.Bool("passed", v.Passed), zap.Strings("reasons", v.Reasons))
	return updated, nil
}

// Close abandons the pipeline. In-memory progress is dropped; sandbox log
// lines already persisted stay. Closing a finished pipeline is a no-op.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage.Terminal() {
		return
	}
	p.log.Debug("pipeline closed", zap.String("stage", string(p.stage)))
	p.stage = StageRejected
	if p.running {
		// finish drops the outputs once the running action returns.
		p.cancel()
		return
	}
	p.dropOutputs()
}

// begin claims the pipeline for one stage action.
func (p *Pipeline) begin(ctx context.Context) (Stage, context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage.Terminal() {
		return p.stage, nil, ErrClosed
	}
	if p.running {
		return p.stage, nil, ErrStageInFlight
	}
	stageCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	return p.stage, stageCtx, nil
}

// finish releases the pipeline and, unless it was closed meanwhile or the
// action failed, commits the in-memory outputs and moves to the next stage.
func (p *Pipeline) finish(from, to Stage, commit func(), err error) (Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.stage.Terminal() {
		p.dropOutputs()
		return p.stage, ErrClosed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A cancelled run cannot be resumed.
		p.stage = StageRejected
		p.dropOutputs()
		return p.stage, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if err != nil {
		if !errors.Is(err, ErrWrongStage) {
			p.deps.Metrics.StageFailed("verification", string(from))
			p.log.Error("stage failed", zap.String("stage", string(from)), zap.Error(err))
		}
		return p.stage, err
	}
	if commit != nil {
		commit()
	}
	p.stage = to
	p.pub.Publish(events.Event{Kind: events.KindStage, Pipeline: "verification", Subject: p.asset.ID, Stage: string(to)})
	p.log.Debug("stage complete", zap.String("from", string(from)), zap.String("to", string(to)))
	return to, nil
}

// end moves straight to a terminal stage after a committed or abandoned Apply.
func (p *Pipeline) end(to Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.stage = to
	p.pub.Publish(events.Event{Kind: events.KindStage, Pipeline: "verification", Subject: p.asset.ID, Stage: string(to)})
}

func (p *Pipeline) dropOutputs() {
	p.progress = 0
	p.authorship, p.test, p.trace, p.report, p.verdict = nil, nil, nil, nil, nil
}

func (p *Pipeline) runAuthorship() (Stage, func(), error) {
	res := p.deps.Authorship.Score(p.asset.SourceCode)
	return StageAuthorship, func() { p.authorship = &res }, nil
}

func (p *Pipeline) runSandbox(ctx context.Context) (Stage, func(), error) {
	test, err := p.deps.Tests.Create(ctx, p.asset.ID)
	if err != nil {
		return "", nil, err
	}
	if _, err := p.deps.Tests.Start(ctx, test.ID); err != nil {
		return "", nil, err
	}

	var logErr error
	trace, err := p.deps.Runner.Run(ctx, p.asset, func(phase sandbox.Phase, percent int, line string) {
		if logErr != nil {
			return
		}
		if logErr = p.deps.Tests.AppendLog(ctx, test.ID, line); logErr != nil {
			return
		}
		p.mu.Lock()
		p.progress = percent
		p.mu.Unlock()
		p.pub.Publish(events.Event{
			Kind:     events.KindProgress,
			Pipeline: "verification",
			Subject:  p.asset.ID,
			Stage:    string(phase),
			Progress: percent,
		})
	})
	if err == nil {
		err = logErr
	}
	if err != nil {
		// Seal the run so it does not linger as running; its logs stay.
		if ferr := p.deps.Tests.Fail(context.WithoutCancel(ctx), test.ID, err.Error()); ferr != nil {
			p.log.Error("failed to seal sandbox test", zap.String("test_id", test.ID), zap.Error(ferr))
		}
		return "", nil, err
	}
	p.deps.Metrics.SandboxRun(trace.Duration)

	return StageSandbox, func() {
		p.test = test
		p.trace = trace
	}, nil
}

func (p *Pipeline) runSafety(ctx context.Context) (Stage, func(), error) {
	report := p.deps.Safety.Analyze(p.asset.SourceCode)
	line := fmt.Sprintf("[report] risk=%s passed=%t network=%t", report.RiskLevel, report.Passed, report.NetworkActivity)
	test, err := p.deps.Tests.Complete(ctx, p.test.ID, report, line)
	if err != nil {
		return "", nil, err
	}
	return StageSafety, func() {
		p.test = test
		p.report = &report
	}, nil
}

func (p *Pipeline) runResult() (Stage, func(), error) {
	v := Evaluate(*p.authorship, *p.report, p.asset.UsageProof, p.deps.Thresholds)
	return StageResult, func() { p.verdict = &v }, nil
}

func verdictMessage(a *types.SecurityAsset, v Verdict) string {
	if v.Passed {
		return fmt.Sprintf("%q verified: secure badge granted", a.Title)
	}
	return fmt.Sprintf("%q flagged: %s", a.Title, a.FlagReason)
}
