package id

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) generate(prefix string) string {
	id, err := gonanoid.New(21)
	if err != nil {
		return prefix + "_fallback"
	}
	return prefix + "_" + id
}

func (g *Generator) GenerateSessionID() string {
	return g.generate("ses")
}

func (g *Generator) GenerateConversationID() string {
	return g.generate("cv")
}

func (g *Generator) GenerateMessageID() string {
	return g.generate("msg")
}

func (g *Generator) GenerateMemoryID() string {
	return g.generate("mem")
}

func (g *Generator) GenerateScriptID() string {
	return g.generate("scr")
}

func (g *Generator) GenerateRuleID() string {
	return g.generate("rule")
}

func (g *Generator) GenerateBriefingID() string {
	return g.generate("brf")
}

func (g *Generator) GenerateJobID() string {
	return g.generate("job")
}

func (g *Generator) GenerateAccessLogID() string {
	return g.generate("log")
}

func (g *Generator) GenerateRetrievalID() string {
	return g.generate("ret")
}

func (g *Generator) GenerateOutcomeID() string {
	return g.generate("out")
}
