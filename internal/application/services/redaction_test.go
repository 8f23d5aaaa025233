package services

import (
	"strings"
	"testing"

	"github.com/osqr/memvault/internal/domain/models"
)

func TestApplyRemovesPII(t *testing.T) {
	e := NewRedactionEngine()

	content := "Reach me at jane.doe@example.com or 555-867-5309. SSN 123-45-6789 on file."
	out, applied := e.Apply(content, baseRedactionRules)

	if strings.Contains(out, "jane.doe@example.com") {
		t.Error("email survived redaction")
	}
	if strings.Contains(out, "123-45-6789") {
		t.Error("SSN survived redaction")
	}
	if len(applied) == 0 {
		t.Error("expected applied rule names")
	}

	found := map[string]bool{}
	for _, name := range applied {
		found[name] = true
	}
	if !found["pii_email"] || !found["pii_ssn"] {
		t.Errorf("expected pii_email and pii_ssn applied, got %v", applied)
	}
}

func TestApplyRemovesMedicalDetails(t *testing.T) {
	e := NewRedactionEngine()

	content := "Planning the offsite. She was diagnosed with a condition last spring. Budget next."
	out, applied := e.Apply(content, baseRedactionRules)

	if strings.Contains(strings.ToLower(out), "diagnos") {
		t.Errorf("medical detail survived: %q", out)
	}
	if !strings.Contains(out, "Planning the offsite.") {
		t.Errorf("unrelated sentence lost: %q", out)
	}
	if len(applied) != 1 || applied[0] != "medical" {
		t.Errorf("expected only the medical rule, got %v", applied)
	}
}

func TestApplyGeneralizesFinancialAmounts(t *testing.T) {
	e := NewRedactionEngine()

	out, applied := e.Apply("Wants to hit $10 million in revenue next year.", tierRedactionRules)

	if strings.Contains(out, "$10") {
		t.Errorf("amount survived: %q", out)
	}
	if !strings.Contains(out, "[substantial financial goals]") {
		t.Errorf("expected generalized replacement, got %q", out)
	}
	if len(applied) != 1 || applied[0] != "financial_amounts" {
		t.Errorf("expected financial_amounts applied, got %v", applied)
	}
}

func TestApplyHashesStreetAddresses(t *testing.T) {
	e := NewRedactionEngine()

	out, _ := e.Apply("Office is at 42 Elm Street downtown.", tierRedactionRules)

	if strings.Contains(out, "42 Elm Street") {
		t.Errorf("address survived: %q", out)
	}
	if !strings.Contains(out, "[REDACTED:") {
		t.Errorf("expected hash token, got %q", out)
	}
}

func TestApplySkipsInvalidUserPattern(t *testing.T) {
	e := NewRedactionEngine()

	rules := []*models.RedactionRule{
		{Name: "broken", Pattern: "([", Action: models.RedactRemove},
		{Name: "works", Pattern: "secret", Action: models.RedactRemove},
	}
	out, applied := e.Apply("the secret plan", rules)

	if strings.Contains(out, "secret") {
		t.Errorf("valid rule should still run: %q", out)
	}
	if len(applied) != 1 || applied[0] != "works" {
		t.Errorf("expected only the valid rule applied, got %v", applied)
	}
}

func TestRulesForTier(t *testing.T) {
	e := NewRedactionEngine()
	userRule := &models.RedactionRule{Name: "custom", Pattern: "x", Action: models.RedactRemove}

	full := e.RulesForTier(models.TierFull, []*models.RedactionRule{userRule})
	if len(full) != len(baseRedactionRules)+1 {
		t.Errorf("full tier should get base + user rules, got %d", len(full))
	}

	contextual := e.RulesForTier(models.TierContextual, nil)
	if len(contextual) != len(baseRedactionRules)+len(tierRedactionRules) {
		t.Errorf("below-full tiers should get the tightening rules, got %d", len(contextual))
	}
}

func TestCleanup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"left  []  over", "left over"},
		{"tight ( ) fit", "tight fit"},
		{"word ,  next .", "word, next."},
		{"  padded  ", "padded"},
	}
	for _, c := range cases {
		if got := Cleanup(c.in); got != c.want {
			t.Errorf("Cleanup(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
