package models

import "testing"

func TestSemanticMemoryAddTopicNormalizes(t *testing.T) {
	m := NewSemanticMemory("mem_1", "drinks espresso", CategoryPreferences, MemorySource{Type: SourceTypeManual, Confidence: 0.9})

	m.AddTopic("Coffee")
	m.AddTopic("  coffee  ")
	m.AddTopic("COFFEE")
	m.AddTopic("")
	m.AddTopic("   ")
	m.AddTopic("morning routine")

	want := []string{"coffee", "morning routine"}
	if len(m.Metadata.Topics) != len(want) {
		t.Fatalf("expected %d topics, got %v", len(want), m.Metadata.Topics)
	}
	for i, topic := range want {
		if m.Metadata.Topics[i] != topic {
			t.Errorf("topic %d: expected %q, got %q", i, topic, m.Metadata.Topics[i])
		}
	}
}

func TestHasContradictions(t *testing.T) {
	m := NewSemanticMemory("mem_1", "works remotely", CategoryBusinessInfo, MemorySource{Type: SourceTypeManual, Confidence: 0.9})

	if m.HasContradictions() {
		t.Error("a fresh memory should have no contradictions")
	}

	m.Metadata.Contradicts = append(m.Metadata.Contradicts, "mem_2")
	if !m.HasContradictions() {
		t.Error("expected HasContradictions after recording an edge")
	}
}
