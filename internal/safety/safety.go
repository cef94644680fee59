// Package safety is the C5 Safety Filter: inspects content before
// persistence and applies one of block/redact/warn per detector kind.
// No corpus example repo carries a PII-detection library — every
// detector here is a hand-rolled regexp.Regexp, the standard-library
// choice justified in DESIGN.md since nothing in the pack's dependency
// surface covers this concern.
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
)

// Action is what the filter does when a detector fires.
type Action string

const (
	ActionBlock  Action = "block"
	ActionRedact Action = "redact"
	ActionWarn   Action = "warn"
)

// Kind identifies a detector.
type Kind string

const (
	KindEmail        Kind = "email"
	KindPhone        Kind = "phone"
	KindNationalID   Kind = "national_id"
	KindCreditCard   Kind = "credit_card"
	KindIPAddress    Kind = "ip_address"
	KindAPIKey       Kind = "api_key"
	KindSensitiveWord Kind = "sensitive_word"
	KindMaxLength    Kind = "max_length"
)

// Finding is one detector hit.
type Finding struct {
	Kind  Kind
	Span  string
	Start int
	End   int
}

// Result is the filter's output for one piece of content.
type Result struct {
	Action           Action
	SanitizedContent string
	Findings         []Finding
}

// Config is the filter's configuration: {enabled, max_chars, rules}.
// Unrecognized rule keys are ignored.
type Config struct {
	Enabled  bool
	MaxChars int
	Rules    map[Kind]Action // default action per kind when a detector fires
	Words    []string        // configurable sensitive-word list
}

// DefaultConfig returns the spec's defaults: enabled, 2000-char cap, no
// rules configured (detectors that fire with no configured rule default
// to warn).
func DefaultConfig() Config {
	return Config{Enabled: true, MaxChars: 2000, Rules: map[Kind]Action{}}
}

var patterns = map[Kind]*regexp.Regexp{
	KindEmail:      regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	KindPhone:      regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	KindNationalID: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	KindCreditCard: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	KindIPAddress:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
	KindAPIKey:     regexp.MustCompile(`\b(?:sk|pk|key|token)[-_][A-Za-z0-9]{16,}\b`),
}

// Filter is the C5 Safety Filter.
type Filter struct {
	cfg Config
}

// New constructs a Filter from cfg.
func New(cfg Config) *Filter { return &Filter{cfg: cfg} }

// Inspect runs every enabled detector against content and applies the
// configured action per kind. When multiple findings map to different
// actions, block takes precedence over redact, which takes precedence
// over warn — a single block finding fails the whole write.
func (f *Filter) Inspect(content string) (Result, error) {
	if !f.cfg.Enabled {
		return Result{Action: ActionWarn, SanitizedContent: content}, nil
	}

	maxChars := f.cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	var findings []Finding
	if len(content) > maxChars {
		findings = append(findings, Finding{Kind: KindMaxLength, Span: fmt.Sprintf("%d chars", len(content))})
	}

	for kind, re := range patterns {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{Kind: kind, Span: content[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	for _, word := range f.cfg.Words {
		if word == "" {
			continue
		}
		idx := strings.Index(strings.ToLower(content), strings.ToLower(word))
		if idx >= 0 {
			findings = append(findings, Finding{Kind: KindSensitiveWord, Span: word, Start: idx, End: idx + len(word)})
		}
	}

	if len(findings) == 0 {
		return Result{Action: ActionWarn, SanitizedContent: content, Findings: nil}, nil
	}

	overall := f.worstAction(findings)
	sanitized := content
	if overall == ActionRedact {
		sanitized = f.redactAll(content, findings)
	}
	if overall == ActionBlock {
		return Result{Action: ActionBlock, SanitizedContent: content, Findings: findings}, kernelerr.ErrPolicyViolation
	}
	return Result{Action: overall, SanitizedContent: sanitized, Findings: findings}, nil
}

// actionFor resolves kind's configured action. KindMaxLength is never
// configurable: a length overrun always blocks, regardless of
// Rules[KindMaxLength] — content strictly over the cap must never reach
// either store.
func (f *Filter) actionFor(kind Kind) Action {
	if kind == KindMaxLength {
		return ActionBlock
	}
	if a, ok := f.cfg.Rules[kind]; ok {
		return a
	}
	return ActionWarn
}

func (f *Filter) worstAction(findings []Finding) Action {
	worst := ActionWarn
	for _, fd := range findings {
		a := f.actionFor(fd.Kind)
		if a == ActionBlock {
			return ActionBlock
		}
		if a == ActionRedact {
			worst = ActionRedact
		}
	}
	return worst
}

// redactAll masks every finding whose configured action is redact,
// leaving warn-level findings' spans untouched in the returned content.
func (f *Filter) redactAll(content string, findings []Finding) string {
	type span struct{ start, end int }
	var spans []span
	for _, fd := range findings {
		if fd.Start == 0 && fd.End == 0 {
			continue // length-cap findings carry no span to mask
		}
		if f.actionFor(fd.Kind) != ActionRedact {
			continue
		}
		spans = append(spans, span{fd.Start, fd.End})
	}
	if len(spans) == 0 {
		return content
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	last := 0
	// Masking proceeds left to right; overlapping spans are skipped
	// since FindAllStringIndex already returns non-overlapping matches
	// per pattern and cross-pattern overlap is rare enough to accept
	// as-is rather than build an interval merge for it.
	for _, sp := range spans {
		if sp.start < last {
			continue
		}
		b.WriteString(content[last:sp.start])
		b.WriteString(strings.Repeat("*", sp.end-sp.start))
		last = sp.end
	}
	b.WriteString(content[last:])
	return b.String()
}
