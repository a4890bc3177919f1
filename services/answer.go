package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"iqbot/internal/ai"
	"iqbot/internal/logger"
	"iqbot/models"
)

// UnknownAnswer is returned verbatim when the indexed content cannot answer
// a question.
const UnknownAnswer = "I don't know based on the provided content."

const promptTemplate = `You are a study assistant. Answer the question using only the context below.
If the context does not contain the answer, reply exactly with "%s" and nothing else.

Context:
%s

Question: %s

Answer:`

// Answer is a synthesized reply with one citation per retrieved chunk.
// Grounded is false for the unknown sentinel and for error answers. Err holds
// the failure behind an error answer.
type Answer struct {
	Text      string
	Citations []models.Citation
	Grounded  bool
	Err       error
}

func errorAnswer(err error) Answer {
	return Answer{Text: fmt.Sprintf("Sorry, I encountered an error: %v", err), Citations: []models.Citation{}, Err: err}
}

// IsUnknownAnswer reports whether text is the unknown sentinel, ignoring
// case, surrounding quotes and trailing punctuation.
func IsUnknownAnswer(text string) bool {
	return strings.EqualFold(trimSentinel(text), trimSentinel(UnknownAnswer))
}

func trimSentinel(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "\"'`“”")
	return strings.TrimRight(s, " \t\r\n.!?")
}

// Synthesizer turns retrieved chunks into an answer with one generation call.
type Synthesizer struct {
	generator       ai.Generator
	previewLen      int
	maxContextChars int
}

func NewSynthesizer(generator ai.Generator, previewLen, maxContextChars int) *Synthesizer {
	if previewLen <= 0 {
		previewLen = 200
	}
	return &Synthesizer{generator: generator, previewLen: previewLen, maxContextChars: maxContextChars}
}

// Answer never returns an error: provider failures become the answer text.
func (s *Synthesizer) Answer(ctx context.Context, question string, chunks []models.RetrievedChunk) Answer {
	if len(chunks) == 0 {
		return Answer{Text: UnknownAnswer, Citations: []models.Citation{}}
	}

	prompt := BuildPrompt(question, chunks, s.maxContextChars)
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("Answer generation failed", "provider", s.generator.Name(), "error", err)
		return errorAnswer(err)
	}

	citations := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = models.Citation{
			Preview:    Preview(c.Chunk.Text, s.previewLen),
			SourceName: c.Chunk.SourceName,
			SourceKind: c.Chunk.SourceKind,
			Page:       c.Chunk.Page,
			OriginURL:  c.OriginURL,
			Score:      c.Score,
		}
	}
	return Answer{
		Text:      text,
		Citations: citations,
		Grounded:  !IsUnknownAnswer(text),
	}
}

// BuildPrompt joins chunk texts in retrieval order with blank lines. When
// maxChars > 0 the context stops before the chunk that would exceed it,
// except that the first chunk is always included.
func BuildPrompt(question string, chunks []models.RetrievedChunk, maxChars int) string {
	var ctxText strings.Builder
	for i, c := range chunks {
		add := c.Chunk.Text
		if i > 0 {
			add = "\n\n" + add
		}
		if i > 0 && maxChars > 0 && utf8.RuneCountInString(ctxText.String())+utf8.RuneCountInString(add) > maxChars {
			break
		}
		ctxText.WriteString(add)
	}
	return fmt.Sprintf(promptTemplate, UnknownAnswer, ctxText.String(), question)
}

// Preview keeps the first n characters of text and marks truncation with "...".
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
