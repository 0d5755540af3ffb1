package analysis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// genericSource carries exactly twenty generic identifiers.
func genericSource() string {
	lines := []string{
		"# merge scan results",
		"def summarize_findings(hostname):",
	}
	for i := 0; i < 6; i++ {
		lines = append(lines, "    data = merge(result, temp)")
	}
	lines = append(lines, "    return data + result")
	return strings.Join(lines, "\n")
}

func TestAuthorshipHumanSourceScoresHigh(t *testing.T) {
	res := NewHeuristicAuthorship().Score(humanSource)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.Flags)
	assert.Equal(t, 2, res.Metrics.ErrorConstructs)
}

func TestAuthorshipGenericIdentifiers(t *testing.T) {
	res := NewHeuristicAuthorship().Score(genericSource())

	assert.Equal(t, 20, res.Metrics.GenericIdentifiers)
	assert.Less(t, res.Score, 70)
	assert.GreaterOrEqual(t, res.Score, 50)
	require.Len(t, res.Flags, 1)
	assert.Contains(t, res.Flags[0], "generic identifier density")
	assert.Contains(t, res.Flags[0], "20 occurrences")
}

func TestAuthorshipGenericCountIsCaseInsensitive(t *testing.T) {
	a := NewHeuristicAuthorship()
	lower := a.Score("data = result + temp")
	upper := a.Score("DATA = Result + TEMP")
	assert.Equal(t, 3, upper.Metrics.GenericIdentifiers)
	assert.Equal(t, lower.Score, upper.Score)
}

func TestAuthorshipCommentHeavy(t *testing.T) {
	src := strings.Join([]string{
		"# This function enumerates interfaces",
		"# It loops over each one",
		"# and prints the name",
		"def list_interfaces(handle):",
		"    # iterate",
		"    for iface in handle.interfaces():",
		"        print(iface.name)",
	}, "\n")
	res := NewHeuristicAuthorship().Score(src)
	assert.Equal(t, 85, res.Score)
	require.Len(t, res.Flags, 1)
	assert.Contains(t, res.Flags[0], "comment-to-line ratio")
}

func TestAuthorshipBoilerplate(t *testing.T) {
	var b strings.Builder
	for _, name := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"} {
		b.WriteString("def " + name + "():\n    pass\n")
	}
	res := NewHeuristicAuthorship().Score(b.String())
	assert.Equal(t, 6, res.Metrics.Functions)
	assert.Equal(t, 75, res.Score)
	require.Len(t, res.Flags, 1)
	assert.Contains(t, res.Flags[0], "boilerplate structure")
}

func TestAuthorshipRangeAndDeterminism(t *testing.T) {
	a := NewHeuristicAuthorship()
	inputs := []string{
		"",
		"\n\n\n",
		humanSource,
		genericSource(),
		strings.Repeat("data result temp tmp value val item obj\n", 200),
		strings.Repeat("# comment\n", 50),
		strings.Repeat("def f():\n x\n", 40) + strings.Repeat("# c\n", 100),
	}
	for _, in := range inputs {
		first := a.Score(in)
		second := a.Score(in)
		assert.GreaterOrEqual(t, first.Score, 0)
		assert.LessOrEqual(t, first.Score, 100)
		assert.Equal(t, first, second)
	}
}

func TestAuthorshipClampsAtZero(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("# generated\n# helper\ndef f():\n    data = temp\n")
	}
	res := NewHeuristicAuthorship().Score(b.String())
	assert.Equal(t, 20, res.Score)
	assert.Len(t, res.Flags, 3)

	h := NewHeuristicAuthorship()
	h.BoilerplateLineLen = 1000
	h.CommentRatioThreshold = 0
	assert.GreaterOrEqual(t, h.Score(b.String()).Score, 0)
}

func TestClassifyRiskTable(t *testing.T) {
	cases := []struct {
		in   Indicators
		want types.RiskLevel
	}{
		{Indicators{}, types.RiskSafe},
		{Indicators{Network: true}, types.RiskLow},
		{Indicators{File: true}, types.RiskLow},
		{Indicators{Network: true, File: true}, types.RiskMedium},
		{Indicators{Exec: true}, types.RiskMedium},
		{Indicators{Exec: true, File: true}, types.RiskMedium},
		{Indicators{Exec: true, Network: true}, types.RiskHigh},
		{Indicators{Exec: true, Network: true, File: true}, types.RiskHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyRisk(tc.in), "%+v", tc.in)
	}
}

func fixedSafety() *HeuristicSafety {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &HeuristicSafety{Now: func() time.Time { return at }}
}

func TestSafetyNoIndicators(t *testing.T) {
	r := fixedSafety().Analyze(humanSource)
	assert.Equal(t, types.RiskSafe, r.RiskLevel)
	assert.True(t, r.Passed)
	assert.False(t, r.NetworkActivity)
	assert.Empty(t, r.ModifiedFiles)
	assert.Empty(t, r.ExternalAddresses)
	assert.Empty(t, r.SystemCalls)
	assert.Equal(t, 2026, r.AnalyzedAt.Year())
}

func TestSafetyExecAndNetworkIsHigh(t *testing.T) {
	sources := []string{
		"import socket, subprocess\ns = socket.socket()\nsubprocess.run(['id'])",
		"exec(payload)\ns = socket.create_connection(('10.0.0.5', 4444))",
		`out, _ := exec.Command("sh").Output(); net.Dial("tcp", "198.51.100.7:22")`,
	}
	for _, src := range sources {
		r := fixedSafety().Analyze(src)
		assert.Equal(t, types.RiskHigh, r.RiskLevel, src)
		assert.False(t, r.Passed, src)
		assert.True(t, r.NetworkActivity)
		assert.Contains(t, r.SystemCalls, "process:execve")
	}
}

func TestSafetyRepresentativeSamples(t *testing.T) {
	src := `r = requests.get("https://api.example.com/v1/scan")
with open("/etc/hosts") as fh:
    print(fh.read())`
	r := fixedSafety().Analyze(src)
	assert.Equal(t, types.RiskMedium, r.RiskLevel)
	assert.False(t, r.Passed)
	assert.Equal(t, []string{"https://api.example.com/v1/scan"}, r.ExternalAddresses)
	assert.Equal(t, []string{"/etc/hosts"}, r.ModifiedFiles)
}

func TestSafetyFallbackSamples(t *testing.T) {
	r := fixedSafety().Analyze("conn = socket.socket()")
	assert.Equal(t, types.RiskLow, r.RiskLevel)
	assert.True(t, r.Passed)
	assert.Equal(t, []string{sampleAddress}, r.ExternalAddresses)

	r = fixedSafety().Analyze("fh = open(target_path, 'w')")
	assert.Equal(t, types.RiskLow, r.RiskLevel)
	assert.Equal(t, []string{samplePath}, r.ModifiedFiles)
}

func TestSafetyDeterministic(t *testing.T) {
	s := fixedSafety()
	src := "exec(x)\nopen('/tmp/a')\nfetch('http://10.1.1.1')"
	assert.Equal(t, s.Analyze(src), s.Analyze(src))
}
