package verification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Maphikza/vexis-market/internal/analysis"
	"github.com/Maphikza/vexis-market/internal/types"
)

// Thresholds are the gate limits.
type Thresholds struct {
	// MinAuthorshipScore is inclusive.
	MinAuthorshipScore int
	// MinUsageProof is exclusive: the proof must be strictly longer.
	MinUsageProof int
}

// DefaultThresholds returns score >= 50 and proof longer than 20 characters.
func DefaultThresholds() Thresholds {
	return Thresholds{MinAuthorshipScore: 50, MinUsageProof: 20}
}

// Validate checks the limits are in range. Zero is a real limit: a zero
// score bar passes every score.
func (th Thresholds) Validate() error {
	if th.MinAuthorshipScore < 0 || th.MinAuthorshipScore > 100 {
		return types.Invalid("min_authorship_score", "%d out of range 0-100", th.MinAuthorshipScore)
	}
	if th.MinUsageProof < 0 {
		return types.Invalid("min_usage_proof", "%d must not be negative", th.MinUsageProof)
	}
	return nil
}

// Gates records each independent check.
type Gates struct {
	Authorship bool `json:"authorship"`
	Safety     bool `json:"safety"`
	UsageProof bool `json:"usage_proof"`
}

// Verdict is the overall result. Reasons always explain every gate, passed
// or not.
type Verdict struct {
	Passed           bool            `json:"passed"`
	Gates            Gates           `json:"gates"`
	AuthorshipScore  int             `json:"authorship_score"`
	AuthorshipFlags  []string        `json:"authorship_flags"`
	RiskLevel        types.RiskLevel `json:"risk_level"`
	UsageProofLength int             `json:"usage_proof_length"`
	Reasons          []string        `json:"reasons"`
}

// Evaluate ANDs the three gates. There is no partial credit.
func Evaluate(auth analysis.AuthorshipResult, report types.SafetyReport, usageProof string, th Thresholds) Verdict {
	proofLen := utf8.RuneCountInString(usageProof)
	g := Gates{
		Authorship: auth.Score >= th.MinAuthorshipScore,
		Safety:     report.Passed,
		UsageProof: proofLen > th.MinUsageProof,
	}
	v := Verdict{
		Passed:           g.Authorship && g.Safety && g.UsageProof,
		Gates:            g,
		AuthorshipScore:  auth.Score,
		AuthorshipFlags:  append([]string(nil), auth.Flags...),
		RiskLevel:        report.RiskLevel,
		UsageProofLength: proofLen,
	}

	if g.Authorship {
		v.Reasons = append(v.Reasons, fmt.Sprintf("authorship score %d meets minimum %d", auth.Score, th.MinAuthorshipScore))
	} else {
		r := fmt.Sprintf("authorship score %d below minimum %d", auth.Score, th.MinAuthorshipScore)
		if len(auth.Flags) > 0 {
			r += ": " + strings.Join(auth.Flags, "; ")
		}
		v.Reasons = append(v.Reasons, r)
	}

	if g.Safety {
		v.Reasons = append(v.Reasons, fmt.Sprintf("safety risk level %s accepted", report.RiskLevel))
	} else {
		r := fmt.Sprintf("safety risk level %s rejected", report.RiskLevel)
		if len(report.SystemCalls) > 0 {
			r += " (indicators: " + strings.Join(report.SystemCalls, ", ") + ")"
		}
		v.Reasons = append(v.Reasons, r)
	}

	if g.UsageProof {
		v.Reasons = append(v.Reasons, fmt.Sprintf("usage proof %d characters", proofLen))
	} else {
		v.Reasons = append(v.Reasons, fmt.Sprintf("usage proof %d characters, need more than %d", proofLen, th.MinUsageProof))
	}
	return v
}

// FlagReason is what gets stored on a failed asset: the reasons of every
// failed gate, followed by any authorship flags the failed reasons do not
// already carry.
func (v Verdict) FlagReason() string {
	if v.Passed {
		return ""
	}
	var failed []string
	gates := []bool{v.Gates.Authorship, v.Gates.Safety, v.Gates.UsageProof}
	for i, ok := range gates {
		if !ok && i < len(v.Reasons) {
			failed = append(failed, v.Reasons[i])
		}
	}
	if v.Gates.Authorship && len(v.AuthorshipFlags) > 0 {
		failed = append(failed, "authorship flags: "+strings.Join(v.AuthorshipFlags, "; "))
	}
	return strings.Join(failed, "; ")
}
