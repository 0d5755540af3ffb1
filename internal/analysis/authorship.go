// Package analysis holds the source-text heuristics used to judge a
// submitted script. Both analyzers are pure functions of their input.
package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// AuthorshipResult is a directional signal, not ground truth.
type AuthorshipResult struct {
	Score   int               `json:"score"`
	Flags   []string          `json:"flags"`
	Metrics AuthorshipMetrics `json:"metrics"`
}

// AuthorshipMetrics are the observations the score was derived from.
type AuthorshipMetrics struct {
	Lines              int     `json:"lines"`
	Identifiers        int     `json:"identifiers"`
	GenericIdentifiers int     `json:"generic_identifiers"`
	GenericDensity     float64 `json:"generic_density"`
	CommentRatio       float64 `json:"comment_ratio"`
	Functions          int     `json:"functions"`
	AvgLineLength      float64 `json:"avg_line_length"`
	DistinctLong       int     `json:"distinct_long_identifiers"`
	ErrorConstructs    int     `json:"error_constructs"`
}

// AuthorshipAnalyzer scores source text for likely-human authorship.
type AuthorshipAnalyzer interface {
	Score(source string) AuthorshipResult
}

var (
	identRe    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	funcDefRe  = regexp.MustCompile(`(?m)^\s*(?:async\s+)?(?:def|func|function|fn|sub|proc)\s+[A-Za-z_(]|^\s*(?:const|let|var)\s+\w+\s*=\s*(?:async\s*)?(?:function\b|\([^)]*\)\s*=>)`)
	commentRe  = regexp.MustCompile(`^\s*(?:#|//|/\*|\*|--|;|<!--)`)
	errorForms = map[string]*regexp.Regexp{
		"try":      regexp.MustCompile(`\btry\b`),
		"except":   regexp.MustCompile(`\bexcept\b`),
		"catch":    regexp.MustCompile(`\bcatch\b`),
		"finally":  regexp.MustCompile(`\bfinally\b`),
		"raise":    regexp.MustCompile(`\braise\b`),
		"throw":    regexp.MustCompile(`\bthrow\b`),
		"rescue":   regexp.MustCompile(`\brescue\b`),
		"err-nil":  regexp.MustCompile(`\berr\s*!=\s*nil\b`),
		"recover":  regexp.MustCompile(`\brecover\(\)`),
		"trap":     regexp.MustCompile(`\btrap\b`),
		"set-e":    regexp.MustCompile(`\bset\s+-e\b`),
		"or-die":   regexp.MustCompile(`\bor\s+die\b`),
		"on-error": regexp.MustCompile(`(?i)\bon\s+error\b`),
	}
)

// DefaultGenericIdentifiers are names that templated code leans on.
var DefaultGenericIdentifiers = []string{
	"data", "result", "temp", "tmp", "value", "val", "item", "obj",
	"foo", "bar", "res", "info", "output", "response",
}

// HeuristicAuthorship is the pattern-matching AuthorshipAnalyzer.
type HeuristicAuthorship struct {
	GenericIdentifiers []string
	// GenericDensityThreshold is the share of identifier tokens above which
	// the generic-name penalty applies.
	GenericDensityThreshold float64
	CommentRatioThreshold   float64
	// Boilerplate fires when there are at least BoilerplateFuncs definitions
	// and the average non-blank line is shorter than BoilerplateLineLen.
	BoilerplateFuncs   int
	BoilerplateLineLen float64
	DiversityThreshold int
}

// NewHeuristicAuthorship returns the analyzer with its stock thresholds.
func NewHeuristicAuthorship() *HeuristicAuthorship {
	return &HeuristicAuthorship{
		GenericIdentifiers:      DefaultGenericIdentifiers,
		GenericDensityThreshold: 0.05,
		CommentRatioThreshold:   0.35,
		BoilerplateFuncs:        6,
		BoilerplateLineLen:      25,
		DiversityThreshold:      25,
	}
}

const (
	genericBasePenalty = 20
	genericMaxPenalty  = 40
	commentPenalty     = 15
	boilerplatePenalty = 25
	diversityBonus     = 5
	errorHandlingBonus = 3
)

// Score implements AuthorshipAnalyzer.
func (h *HeuristicAuthorship) Score(source string) AuthorshipResult {
	m := h.measure(source)
	score := 100
	flags := []string{}

	if m.GenericIdentifiers > 0 && m.GenericDensity > h.GenericDensityThreshold {
		penalty := genericBasePenalty + m.GenericIdentifiers
		if penalty > genericMaxPenalty {
			penalty = genericMaxPenalty
		}
		score -= penalty
		flags = append(flags, fmt.Sprintf("generic identifier density %.1f%% (%d occurrences)",
			m.GenericDensity*100, m.GenericIdentifiers))
	}
	if m.CommentRatio > h.CommentRatioThreshold {
		score -= commentPenalty
		flags = append(flags, fmt.Sprintf("comment-to-line ratio %.2f exceeds %.2f",
			m.CommentRatio, h.CommentRatioThreshold))
	}
	if m.Functions >= h.BoilerplateFuncs && m.AvgLineLength < h.BoilerplateLineLen {
		score -= boilerplatePenalty
		flags = append(flags, fmt.Sprintf("boilerplate structure: %d functions with %.1f avg line length",
			m.Functions, m.AvgLineLength))
	}
	if m.DistinctLong > h.DiversityThreshold {
		score += diversityBonus
	}
	if m.ErrorConstructs >= 2 {
		score += errorHandlingBonus
	}

	return AuthorshipResult{Score: clamp(score, 0, 100), Flags: flags, Metrics: m}
}

func (h *HeuristicAuthorship) measure(source string) AuthorshipMetrics {
	var m AuthorshipMetrics

	generic := make(map[string]struct{}, len(h.GenericIdentifiers))
	for _, g := range h.GenericIdentifiers {
		generic[strings.ToLower(g)] = struct{}{}
	}

	var nonBlank, comments, totalLen int
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonBlank++
		totalLen += len(trimmed)
		if commentRe.MatchString(line) {
			comments++
		}
	}
	m.Lines = nonBlank
	if nonBlank > 0 {
		m.CommentRatio = float64(comments) / float64(nonBlank)
		m.AvgLineLength = float64(totalLen) / float64(nonBlank)
	}

	distinct := make(map[string]struct{})
	for _, tok := range identRe.FindAllString(source, -1) {
		m.Identifiers++
		if _, ok := generic[strings.ToLower(tok)]; ok {
			m.GenericIdentifiers++
		}
		if len(tok) >= 5 {
			distinct[tok] = struct{}{}
		}
	}
	m.DistinctLong = len(distinct)
	if m.Identifiers > 0 {
		m.GenericDensity = float64(m.GenericIdentifiers) / float64(m.Identifiers)
	}

	m.Functions = len(funcDefRe.FindAllString(source, -1))

	for _, re := range errorForms {
		if re.MatchString(source) {
			m.ErrorConstructs++
		}
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
