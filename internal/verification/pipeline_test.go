package verification

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/vexis-market/internal/analysis"
	"github.com/Maphikza/vexis-market/internal/assets"
	marketdb "github.com/Maphikza/vexis-market/internal/database"
	"github.com/Maphikza/vexis-market/internal/events"
	"github.com/Maphikza/vexis-market/internal/metrics"
	"github.com/Maphikza/vexis-market/internal/sandbox"
	"github.com/Maphikza/vexis-market/internal/types"
)

const humanSource = `# Enumerate open TCP ports on a lab host and print a summary table.
def enumerate_ports(hostname, port_range):
    discovered = []
    for candidate in port_range:
        try:
            banner = grab_banner(hostname, candidate)
        except TimeoutError:
            continue
        discovered.append((candidate, banner))
    return discovered
`

const usageProof = "$ python enum.py 10.0.0.5 1-1024\n22/tcp open ssh\n80/tcp open http"

type env struct {
	assets  *assets.Store
	tests   *sandbox.Store
	bus     *events.Bus
	metrics *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := marketdb.Open(filepath.Join(t.TempDir(), "verify.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = marketdb.Close(db) })
	bus := events.NewBus(nil)
	return &env{
		assets:  assets.NewStore(db, nil),
		tests:   sandbox.NewStore(db, bus, nil),
		bus:     bus,
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (e *env) deps(runner sandbox.Runner) Deps {
	if runner == nil {
		runner = &sandbox.SimulatedRunner{}
	}
	return Deps{
		Assets:     e.assets,
		Tests:      e.tests,
		Runner:     runner,
		Authorship: analysis.NewHeuristicAuthorship(),
		Safety:     analysis.NewHeuristicSafety(),
		Thresholds: DefaultThresholds(),
		Events:     e.bus,
		Metrics:    e.metrics,
	}
}

func (e *env) submit(t *testing.T, source, proof string) *types.SecurityAsset {
	t.Helper()
	a, err := e.assets.Submit(context.Background(), assets.SubmitRequest{
		VendorID:   "vendor-1",
		Title:      "Port enumerator",
		Category:   "reconnaissance",
		SourceCode: source,
		UsageProof: proof,
		Price:      types.Amounts{BTC: decimal.RequireFromString("0.001")},
	})
	require.NoError(t, err)
	return a
}

func runToResult(t *testing.T, p *Pipeline) {
	t.Helper()
	want := []Stage{StageAuthorship, StageSandbox, StageSafety, StageResult}
	for _, stage := range want {
		got, err := p.Next(context.Background())
		require.NoError(t, err)
		require.Equal(t, stage, got)
	}
}

func TestEvaluateIsAndOfGates(t *testing.T) {
	th := DefaultThresholds()
	good := analysis.AuthorshipResult{Score: 80}
	safe := types.SafetyReport{RiskLevel: types.RiskSafe, Passed: true}
	proof := strings.Repeat("x", 21)

	require.True(t, Evaluate(good, safe, proof, th).Passed)

	v := Evaluate(analysis.AuthorshipResult{Score: 49, Flags: []string{"generic"}}, safe, proof, th)
	assert.False(t, v.Passed)
	assert.False(t, v.Gates.Authorship)
	assert.Equal(t, "authorship score 49 below minimum 50: generic", v.FlagReason())

	v = Evaluate(good, types.SafetyReport{RiskLevel: types.RiskHigh}, proof, th)
	assert.False(t, v.Passed)
	assert.False(t, v.Gates.Safety)
	assert.Contains(t, v.FlagReason(), "risk level high")

	v = Evaluate(good, safe, strings.Repeat("x", 20), th)
	assert.False(t, v.Passed)
	assert.False(t, v.Gates.UsageProof)
	assert.Contains(t, v.FlagReason(), "need more than 20")

	assert.True(t, Evaluate(analysis.AuthorshipResult{Score: 50}, safe, proof, th).Passed)
	assert.Len(t, Evaluate(good, safe, proof, th).Reasons, 3)
}

func TestFlagReasonNamesFailedGateBeforeAuthorshipFlags(t *testing.T) {
	flagged := analysis.AuthorshipResult{Score: 85, Flags: []string{"comment-to-line ratio 0.40 exceeds 0.35"}}
	risky := types.SafetyReport{RiskLevel: types.RiskHigh, SystemCalls: []string{"process:execve"}}

	v := Evaluate(flagged, risky, strings.Repeat("x", 40), DefaultThresholds())
	require.False(t, v.Passed)
	require.True(t, v.Gates.Authorship)
	require.False(t, v.Gates.Safety)

	reason := v.FlagReason()
	assert.True(t, strings.HasPrefix(reason, "safety risk level high rejected"), reason)
	assert.Contains(t, reason, "process:execve")
	assert.Contains(t, reason, "authorship flags: comment-to-line ratio 0.40 exceeds 0.35")
	assert.NotContains(t, reason, "authorship score")

	safe := types.SafetyReport{RiskLevel: types.RiskSafe, Passed: true}
	assert.Empty(t, Evaluate(flagged, safe, strings.Repeat("x", 40), DefaultThresholds()).FlagReason())
}

func TestPipelinePassingAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	ch, unsubscribe := e.bus.Subscribe(64)
	defer unsubscribe()

	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, StageIntro, p.State().Stage)

	runToResult(t, p)
	st := p.State()
	require.NotNil(t, st.Verdict)
	assert.True(t, st.Verdict.Passed)
	assert.Equal(t, 100, st.Progress)

	updated, err := p.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, StageApplied, p.State().Stage)
	assert.True(t, updated.IsVerified)
	assert.True(t, updated.VexisSecureBadge)
	assert.False(t, updated.IsFlagged)
	require.NotNil(t, updated.SafetyReport)
	assert.Equal(t, types.RiskSafe, updated.SafetyReport.RiskLevel)
	assert.NoError(t, updated.CheckBadge())

	run, err := e.tests.Get(ctx, st.TestID)
	require.NoError(t, err)
	assert.Equal(t, types.SandboxCompleted, run.Status)
	assert.Len(t, run.Logs, 5)

	var verdicts int
	for len(ch) > 0 {
		ev := <-ch
		if ev.Kind == events.KindVerdict {
			verdicts++
			assert.True(t, ev.Passed)
			assert.NotEmpty(t, ev.Flags)
		}
	}
	assert.Equal(t, 1, verdicts)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.VerificationVerdicts.WithLabelValues("passed")))

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipelineFlagsRiskyGenericAsset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	lines := []string{"# merge scan results", "def summarize_findings(hostname):"}
	for i := 0; i < 6; i++ {
		lines = append(lines, "    data = merge(result, temp)")
	}
	lines = append(lines,
		"    sock = socket.socket()",
		"    exec(payload)",
		"    return data + result")
	asset := e.submit(t, strings.Join(lines, "\n"), usageProof)

	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)
	runToResult(t, p)

	st := p.State()
	require.NotNil(t, st.Authorship)
	assert.Less(t, st.Authorship.Score, 70)
	assert.GreaterOrEqual(t, st.Authorship.Score, 50)
	assert.Equal(t, types.RiskHigh, st.Report.RiskLevel)
	assert.False(t, st.Report.Passed)
	assert.False(t, st.Verdict.Passed)

	updated, err := p.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, updated.IsFlagged)
	assert.False(t, updated.IsVerified)
	assert.False(t, updated.VexisSecureBadge)
	assert.Contains(t, updated.FlagReason, "generic identifier density")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.VerificationVerdicts.WithLabelValues("rejected")))

	listed, err := e.assets.ListMarketplace(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
	_, err = e.assets.Get(ctx, asset.ID)
	assert.NoError(t, err)
}

func TestPipelineShortUsageProofFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, "ran it, works")

	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)
	runToResult(t, p)
	updated, err := p.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, updated.IsFlagged)
	assert.Contains(t, updated.FlagReason, "usage proof")
}

func TestPipelineUsesThresholdsAsGiven(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, "ran it, works")

	deps := e.deps(nil)
	deps.Thresholds = Thresholds{}
	p, err := New(ctx, deps, asset.ID)
	require.NoError(t, err)
	runToResult(t, p)
	v := p.State().Verdict
	require.NotNil(t, v)
	assert.True(t, v.Gates.Authorship)
	assert.True(t, v.Gates.UsageProof)

	deps.Thresholds = Thresholds{MinAuthorshipScore: 101}
	_, err = New(ctx, deps, asset.ID)
	assert.True(t, types.IsValidation(err))
	deps.Thresholds = Thresholds{MinAuthorshipScore: 50, MinUsageProof: -1}
	_, err = New(ctx, deps, asset.ID)
	assert.True(t, types.IsValidation(err))
}

func TestPipelineIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)

	_, err = p.Apply(ctx)
	assert.ErrorIs(t, err, ErrWrongStage)
	assert.Equal(t, StageIntro, p.State().Stage)

	runToResult(t, p)
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrWrongStage)
	assert.Equal(t, StageResult, p.State().Stage)
}

func TestCloseBeforeResultDiscardsProgress(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)

	_, err = p.Next(ctx)
	require.NoError(t, err)
	_, err = p.Next(ctx)
	require.NoError(t, err)

	p.Close()
	st := p.State()
	assert.Equal(t, StageRejected, st.Stage)
	assert.Nil(t, st.Authorship)
	assert.Empty(t, st.TestID)

	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	got, err := e.assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsFlagged)
	assert.Nil(t, got.SafetyReport)

	runs, err := e.tests.ListByAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Logs, 4)
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, asset *types.SecurityAsset, progress sandbox.ProgressFunc) (*sandbox.ExecutionTrace, error) {
	progress(sandbox.PhaseInit, 25, "[init] container up")
	close(r.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloseDuringSandboxRun(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	runner := &blockingRunner{started: make(chan struct{})}
	p, err := New(ctx, e.deps(runner), asset.ID)
	require.NoError(t, err)
	_, err = p.Next(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx)
		done <- err
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("sandbox run never started")
	}
	assert.True(t, p.State().Running)
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrStageInFlight)

	p.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not observe close")
	}

	runs, err := e.tests.ListByAsset(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.SandboxFailed, runs[0].Status)
	assert.Equal(t, "[init] container up", runs[0].Logs[0])
	assert.Nil(t, runs[0].Report)
}

func TestCallerCancellationEndsPipeline(t *testing.T) {
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	runner := &blockingRunner{started: make(chan struct{})}
	p, err := New(context.Background(), e.deps(runner), asset.ID)
	require.NoError(t, err)
	_, err = p.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-runner.started
		cancel()
	}()
	_, err = p.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StageRejected, p.State().Stage)
}

func TestApplyRejectsStaleContent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)
	p, err := New(ctx, e.deps(nil), asset.ID)
	require.NoError(t, err)
	runToResult(t, p)

	edited := humanSource + "\nprint('patched')\n"
	_, err = e.assets.UpdateContent(ctx, "vendor-1", asset.ID, assets.ContentEdit{SourceCode: &edited})
	require.NoError(t, err)

	_, err = p.Apply(ctx)
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, StageRejected, p.State().Stage)

	got, err := e.assets.Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.False(t, got.IsVerified)
}

type failingAssets struct {
	AssetStore
	err error
}

func (f *failingAssets) Update(context.Context, string, func(*types.SecurityAsset) error) (*types.SecurityAsset, error) {
	return nil, f.err
}

func TestApplyPersistenceErrorKeepsResultStage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.submit(t, humanSource, usageProof)

	deps := e.deps(nil)
	storeDown := errors.New("disk I/O error")
	deps.Assets = &failingAssets{AssetStore: e.assets, err: storeDown}
	p, err := New(ctx, deps, asset.ID)
	require.NoError(t, err)
	runToResult(t, p)

	_, err = p.Apply(ctx)
	assert.ErrorIs(t, err, storeDown)
	assert.Equal(t, StageResult, p.State().Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.StageFailures.WithLabelValues("verification", "result")))
}

func TestNewUnknownAsset(t *testing.T) {
	e := newEnv(t)
	_, err := New(context.Background(), e.deps(nil), "missing")
	assert.ErrorIs(t, err, assets.ErrNotFound)
}
