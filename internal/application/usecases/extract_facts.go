package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/osqr/memvault/internal/domain/models"
	"github.com/osqr/memvault/internal/ports"
)

const (
	extractionMinConfidence = 0.6
	extractionMaxFacts      = 20
	extractionMaxRetries    = 3
	extractionRetryDelay    = time.Second
	extractionTimeout       = 30 * time.Second
)

const extractionSystemPrompt = `You distill finished conversations into durable facts about the user.

Return ONLY a JSON object with this shape:
{
  "facts": [
    {"content": "...", "category": "...", "confidence": 0.0, "topics": ["..."]}
  ],
  "summary": "one or two sentences describing the conversation",
  "contradictions": [
    {"existing_memory_id": "...", "new_fact_index": 0, "resolution": "keep_existing|replace_with_new|keep_both", "explanation": "..."}
  ]
}

Rules:
- category must be one of: personal_info, business_info, relationships, projects, preferences, domain_knowledge, decisions, commitments.
- confidence is your certainty in [0,1] that the fact is durable and correct.
- Only include facts worth remembering across conversations. Return {"facts": [], "summary": "..."} when there are none.
- Compare new facts against the EXISTING MEMORIES list and report conflicts in contradictions.`

// LLMFactExtractor implements fact extraction over a chat-only LLM. A final
// failure never propagates: the extractor logs and returns an empty result
// so a flaky model cannot wedge the synthesis queue.
type LLMFactExtractor struct {
	llm ports.LLMService
}

func NewLLMFactExtractor(llm ports.LLMService) *LLMFactExtractor {
	return &LLMFactExtractor{llm: llm}
}

// Extract asks the model for facts, retrying transient failures with
// exponential backoff.
func (e *LLMFactExtractor) Extract(ctx context.Context, conversation *models.Conversation, existing []*models.SemanticMemory) (*models.ExtractionResult, error) {
	transcript := renderTranscript(conversation)
	if transcript == "" {
		return &models.ExtractionResult{}, nil
	}

	messages := []ports.LLMMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: buildExtractionPrompt(transcript, existing)},
	}

	var lastErr error
	delay := extractionRetryDelay
	for attempt := 1; attempt <= extractionMaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
		response, err := e.llm.Chat(attemptCtx, messages)
		cancel()

		if err == nil {
			result, parseErr := parseExtraction(response.Content)
			if parseErr == nil {
				return result, nil
			}
			err = parseErr
		}

		lastErr = err
		if attempt < extractionMaxRetries {
			log.Printf("[FactExtractor] warning: attempt %d failed, retrying in %s: %v", attempt, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				log.Printf("[FactExtractor] warning: extraction cancelled: %v", ctx.Err())
				return &models.ExtractionResult{}, nil
			}
			delay *= 2
		}
	}

	log.Printf("[FactExtractor] warning: extraction failed after %d attempts, returning empty result: %v", extractionMaxRetries, lastErr)
	return &models.ExtractionResult{}, nil
}

func renderTranscript(conversation *models.Conversation) string {
	if conversation == nil {
		return ""
	}
	var b strings.Builder
	for _, msg := range conversation.Messages {
		if msg.Content == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func buildExtractionPrompt(transcript string, existing []*models.SemanticMemory) string {
	var b strings.Builder
	b.WriteString("CONVERSATION:\n")
	b.WriteString(transcript)

	if len(existing) > 0 {
		b.WriteString("\n\nEXISTING MEMORIES:\n")
		for _, m := range existing {
			fmt.Fprintf(&b, "- [%s] (%s) %s\n", m.ID, m.Category, m.Content)
		}
	}
	return b.String()
}

// parseExtraction decodes the model output, tolerating prose around the
// JSON object, and drops facts that fail validation.
func parseExtraction(content string) (*models.ExtractionResult, error) {
	payload := extractJSONObject(content)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}

	var raw struct {
		Facts []struct {
			Content    string   `json:"content"`
			Category   string   `json:"category"`
			Confidence float64  `json:"confidence"`
			Topics     []string `json:"topics"`
		} `json:"facts"`
		Summary        string `json:"summary"`
		Contradictions []struct {
			ExistingMemoryID string `json:"existing_memory_id"`
			NewFactIndex     int    `json:"new_fact_index"`
			Resolution       string `json:"resolution"`
			Explanation      string `json:"explanation"`
		} `json:"contradictions"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	result := &models.ExtractionResult{Summary: strings.TrimSpace(raw.Summary)}

	// Contradiction indices refer to the raw fact list; remember where each
	// surviving fact lands after filtering.
	newIndex := make(map[int]int, len(raw.Facts))
	for i, fact := range raw.Facts {
		if len(result.Facts) >= extractionMaxFacts {
			break
		}
		content := strings.TrimSpace(fact.Content)
		if content == "" {
			continue
		}
		category := models.MemoryCategory(fact.Category)
		if !models.ValidCategory(category) {
			log.Printf("[FactExtractor] warning: dropping fact with unknown category %q", fact.Category)
			continue
		}
		confidence := fact.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence < extractionMinConfidence {
			continue
		}

		newIndex[i] = len(result.Facts)
		result.Facts = append(result.Facts, &models.ExtractedFact{
			Content:    content,
			Category:   category,
			Confidence: confidence,
			Topics:     fact.Topics,
		})
	}

	for _, c := range raw.Contradictions {
		idx, ok := newIndex[c.NewFactIndex]
		if !ok || c.ExistingMemoryID == "" {
			continue
		}
		resolution := models.ContradictionResolution(c.Resolution)
		switch resolution {
		case models.ResolutionKeepExisting, models.ResolutionReplaceWithNew, models.ResolutionKeepBoth:
		default:
			log.Printf("[FactExtractor] warning: dropping contradiction with unknown resolution %q", c.Resolution)
			continue
		}
		result.Contradictions = append(result.Contradictions, &models.Contradiction{
			ExistingMemoryID: c.ExistingMemoryID,
			NewFactIndex:     idx,
			Resolution:       resolution,
			Explanation:      c.Explanation,
		})
	}

	return result, nil
}

// extractJSONObject returns the first balanced {...} block in s, skipping
// braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
