package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorPrefixes(t *testing.T) {
	g := New()

	cases := map[string]func() string{
		"ses":  g.GenerateSessionID,
		"cv":   g.GenerateConversationID,
		"msg":  g.GenerateMessageID,
		"mem":  g.GenerateMemoryID,
		"scr":  g.GenerateScriptID,
		"rule": g.GenerateRuleID,
		"brf":  g.GenerateBriefingID,
		"job":  g.GenerateJobID,
		"log":  g.GenerateAccessLogID,
		"ret":  g.GenerateRetrievalID,
		"out":  g.GenerateOutcomeID,
	}

	for prefix, generate := range cases {
		id := generate()
		assert.True(t, strings.HasPrefix(id, prefix+"_"), "id %q should carry prefix %q", id, prefix)
		assert.Greater(t, len(id), len(prefix)+1)
	}
}

func TestGeneratorUniqueness(t *testing.T) {
	g := New()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.GenerateMemoryID()
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}
