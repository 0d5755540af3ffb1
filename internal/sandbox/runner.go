package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Maphikza/vexis-market/internal/types"
)

// Phase names one step of a sandbox execution.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseMount   Phase = "mount"
	PhaseExecute Phase = "execute"
	PhaseCapture Phase = "capture"
)

// Phases is the fixed execution order.
var Phases = []Phase{PhaseInit, PhaseMount, PhaseExecute, PhaseCapture}

// ProgressFunc receives the phase just finished, the overall percentage and
// the log line for that phase.
type ProgressFunc func(phase Phase, percent int, line string)

// ExecutionTrace is what a sandbox run hands back to the verification
// pipeline.
type ExecutionTrace struct {
	Phases   []Phase
	Logs     []string
	Duration time.Duration
}

// Runner executes an asset in isolation. Run must return ctx.Err() promptly
// once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, asset *types.SecurityAsset, progress ProgressFunc) (*ExecutionTrace, error)
}

// SimulatedRunner stands in for a real sandbox: it waits PhaseDuration per
// phase and emits canned log lines. It never executes the asset.
type SimulatedRunner struct {
	PhaseDuration time.Duration
}

// Run implements Runner.
func (r *SimulatedRunner) Run(ctx context.Context, asset *types.SecurityAsset, progress ProgressFunc) (*ExecutionTrace, error) {
	start := time.Now()
	trace := &ExecutionTrace{}

	for i, phase := range Phases {
		if err := wait(ctx, r.PhaseDuration); err != nil {
			return nil, err
		}
		line := phaseLine(phase, asset)
		trace.Phases = append(trace.Phases, phase)
		trace.Logs = append(trace.Logs, line)
		if progress != nil {
			progress(phase, (i+1)*100/len(Phases), line)
		}
	}

	trace.Duration = time.Since(start)
	return trace, nil
}

func phaseLine(phase Phase, asset *types.SecurityAsset) string {
	switch phase {
	case PhaseInit:
		return fmt.Sprintf("[init] provisioning isolated container for %s", asset.ID)
	case PhaseMount:
		return fmt.Sprintf("[mount] mounting %s source read-only (%d bytes)", asset.Language, len(asset.SourceCode))
	case PhaseExecute:
		return "[execute] running entrypoint with network and filesystem tracing"
	case PhaseCapture:
		return "[capture] collecting syscall, file and network traces"
	}
	return string(phase)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
