package services

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/osqr/memvault/internal/adapters/metrics"
	"github.com/osqr/memvault/internal/domain/models"
)

// baseRedactionRules always run, regardless of tier or per-user settings.
// PII and medical details never leave the vault.
var baseRedactionRules = []*models.RedactionRule{
	{
		Name:    "pii_email",
		Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
		Action:  models.RedactRemove,
	},
	{
		Name:    "pii_phone",
		Pattern: `\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`,
		Action:  models.RedactRemove,
	},
	{
		Name:    "pii_ssn",
		Pattern: `\b\d{3}-\d{2}-\d{4}\b`,
		Action:  models.RedactRemove,
	},
	{
		Name:    "medical",
		Pattern: `(?i)\b(diagnos\w*|prescri\w*|medication|chemotherapy|therapist|surgery)\b[^.!?]*`,
		Action:  models.RedactRemove,
	},
}

// tierRedactionRules tighten the output for requesters below full access.
var tierRedactionRules = []*models.RedactionRule{
	{
		Name:        "financial_amounts",
		Pattern:     `\$\s?\d[\d,.]*\s?(million|billion|[MBK])?\b`,
		Action:      models.RedactGeneralize,
		Replacement: "[substantial financial goals]",
	},
	{
		Name:    "street_address",
		Pattern: `\b\d{1,5}\s+[A-Z][a-z]+\s+(Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr)\b`,
		Action:  models.RedactHash,
	},
}

var (
	emptyBracketsRe  = regexp.MustCompile(`\[\s*\]|\(\s*\)`)
	whitespaceRunRe  = regexp.MustCompile(`\s{2,}`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
)

// RedactionEngine applies pattern-based redaction rules and normalizes the
// result. Compiled patterns are cached; an invalid pattern is skipped with
// a warning rather than failing the whole pass.
type RedactionEngine struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func NewRedactionEngine() *RedactionEngine {
	return &RedactionEngine{compiled: make(map[string]*regexp.Regexp)}
}

func (e *RedactionEngine) pattern(rule *models.RedactionRule) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.compiled[rule.Pattern]; ok {
		return re
	}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		log.Printf("[RedactionEngine] warning: skipping rule %s with bad pattern: %v", rule.Name, err)
		e.compiled[rule.Pattern] = nil
		return nil
	}
	e.compiled[rule.Pattern] = re
	return re
}

// Apply runs the rules over content in order and returns the redacted text
// plus the names of the rules that actually matched.
func (e *RedactionEngine) Apply(content string, rules []*models.RedactionRule) (string, []string) {
	var applied []string
	for _, rule := range rules {
		re := e.pattern(rule)
		if re == nil || !re.MatchString(content) {
			continue
		}

		switch rule.Action {
		case models.RedactGeneralize:
			content = re.ReplaceAllString(content, rule.Replacement)
		case models.RedactHash:
			content = re.ReplaceAllStringFunc(content, hashToken)
		default:
			content = re.ReplaceAllString(content, "")
		}

		applied = append(applied, rule.Name)
		metrics.RedactionsTotal.WithLabelValues(rule.Name).Inc()
	}
	return Cleanup(content), applied
}

// RulesForTier assembles the effective rule list: the always-on base rules,
// tier tightening below full, then per-user rules.
func (e *RedactionEngine) RulesForTier(tier models.AccessTier, userRules []*models.RedactionRule) []*models.RedactionRule {
	rules := append([]*models.RedactionRule(nil), baseRedactionRules...)
	if tier != models.TierFull {
		rules = append(rules, tierRedactionRules...)
	}
	return append(rules, userRules...)
}

// Cleanup normalizes redacted text: empty brackets go away, whitespace runs
// collapse to one space, and whitespace before punctuation is dropped.
func Cleanup(s string) string {
	s = emptyBracketsRe.ReplaceAllString(s, "")
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func hashToken(match string) string {
	sum := sha256.Sum256([]byte(match))
	return "[REDACTED:" + hex.EncodeToString(sum[:4]) + "]"
}
