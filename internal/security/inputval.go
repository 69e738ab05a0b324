package security

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Severity ranks findings from the input validator and the auditor.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Threat is one detection surfaced for inbound text. The validator never
// rejects input; the caller decides what to do with threats.
type Threat struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Match    string   `json:"match,omitempty"`
}

type threatRule struct {
	category string
	severity Severity
	pattern  *regexp.Regexp
}

var threatRules = []threatRule{
	{"prompt_injection", SeverityCritical, regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`)},
	{"prompt_injection", SeverityCritical, regexp.MustCompile(`(?i)disregard\s+(your|the|all)\s+(instructions|rules|guidelines|system)`)},
	{"prompt_injection", SeverityCritical, regexp.MustCompile(`(?i)new\s+instructions?\s*:`)},
	{"jailbreak", SeverityCritical, regexp.MustCompile(`(?i)\b(dan\s+mode|developer\s+mode|jailbreak|do\s+anything\s+now)\b`)},
	{"jailbreak", SeverityCritical, regexp.MustCompile(`(?i)pretend\s+(you\s+have|there\s+are)\s+no\s+(rules|restrictions|limits)`)},
	{"role_manipulation", SeverityHigh, regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+(a|an|the)?\s*\w+`)},
	{"role_manipulation", SeverityHigh, regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|a|an)\b`)},
	{"prompt_extraction", SeverityMedium, regexp.MustCompile(`(?i)(repeat|print|show|reveal|output)\s+(your|the)\s+(system\s+)?(prompt|instructions)`)},
	{"prompt_extraction", SeverityMedium, regexp.MustCompile(`(?i)what\s+(are|were)\s+your\s+(initial\s+)?instructions`)},
	{"exfiltration", SeverityHigh, regexp.MustCompile(`(?i)curl\s+[^\n|]*\|\s*(ba)?sh`)},
	{"exfiltration", SeverityHigh, regexp.MustCompile(`(?i)\bwget\s+(-\S+\s+)*https?://`)},
	{"exfiltration", SeverityHigh, regexp.MustCompile(`(?i)\bnc\s+(-\S+\s+)*\S+\s+\d+`)},
}

// homoglyphs maps Cyrillic and Greek Latin-lookalikes to their Latin forms
// so detection runs on the folded text.
var homoglyphs = map[rune]rune{
	// Cyrillic
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y',
	'і': 'i', 'ѕ': 's', 'ј': 'j', 'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K',
	'М': 'M', 'Н': 'H', 'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Greek
	'α': 'a', 'ο': 'o', 'ν': 'v', 'ι': 'i', 'ρ': 'p', 'τ': 't', 'υ': 'u',
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

// invisible runes that hide payloads from naive matching.
var invisibleRunes = map[rune]bool{
	'\u200b': true, // zero-width space
	'\u200c': true, // zero-width non-joiner
	'\u200d': true, // zero-width joiner
	'\u2060': true, // word joiner
	'\ufeff': true, // byte-order mark
	'\u00ad': true, // soft hyphen
	'\u180e': true, // mongolian vowel separator
}

// InputValidator surfaces injection and obfuscation threats in user text.
type InputValidator struct{}

func NewInputValidator() *InputValidator { return &InputValidator{} }

// Normalize applies NFKC, strips invisible characters, and folds homoglyphs
// to Latin so obfuscated variants match the same rules as plain text.
func (v *InputValidator) Normalize(text string) string {
	text = norm.NFKC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if invisibleRunes[r] {
			continue
		}
		if folded, ok := homoglyphs[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Scan returns every threat detected in a single message.
func (v *InputValidator) Scan(text string) []Threat {
	var threats []Threat

	hadInvisible := false
	hadHomoglyph := false
	for _, r := range text {
		if invisibleRunes[r] {
			hadInvisible = true
		}
		if _, ok := homoglyphs[r]; ok {
			hadHomoglyph = true
		}
	}
	if hadInvisible {
		threats = append(threats, Threat{Category: "invisible_characters", Severity: SeverityMedium})
	}
	if hadHomoglyph {
		threats = append(threats, Threat{Category: "homoglyph_substitution", Severity: SeverityMedium})
	}

	normalized := v.Normalize(text)
	for _, rule := range threatRules {
		if m := rule.pattern.FindString(normalized); m != "" {
			threats = append(threats, Threat{Category: rule.category, Severity: rule.severity, Match: m})
		}
	}
	return threats
}

var (
	extractionProbe = regexp.MustCompile(`(?i)(system\s+prompt|your\s+instructions|initial\s+prompt)`)
	overrideProbe   = regexp.MustCompile(`(?i)(ignore|disregard|override|forget)\s`)
	sensitiveProbe  = regexp.MustCompile(`(?i)\b(password|secret|api[\s_-]?key|credential|token|private\s+key)\b`)
)

// ScanConversation detects patterns that only emerge across turns: repeated
// extraction probes (3 or more), repeated override attempts (2 or more),
// and sensitive-keyword probing.
func (v *InputValidator) ScanConversation(history []string) []Threat {
	var threats []Threat
	extraction, override, sensitive := 0, 0, 0
	for _, msg := range history {
		normalized := v.Normalize(msg)
		if extractionProbe.MatchString(normalized) {
			extraction++
		}
		if overrideProbe.MatchString(normalized) {
			override++
		}
		if sensitiveProbe.MatchString(normalized) {
			sensitive++
		}
	}
	if extraction >= 3 {
		threats = append(threats, Threat{Category: "multi_turn_extraction", Severity: SeverityHigh})
	}
	if override >= 2 {
		threats = append(threats, Threat{Category: "multi_turn_override", Severity: SeverityHigh})
	}
	if sensitive >= 2 {
		threats = append(threats, Threat{Category: "sensitive_keyword_probing", Severity: SeverityMedium})
	}
	return threats
}
