package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iqbot/internal/logger"
	"iqbot/internal/telemetry"
	"iqbot/internal/workspace"
	"iqbot/models"
)

// ChatService answers questions against a workspace and records the
// conversation.
type ChatService struct {
	ws        *workspace.Workspace
	retriever *Retriever
	synth     *Synthesizer
	metrics   *telemetry.Metrics
}

func NewChatService(ws *workspace.Workspace, retriever *Retriever, synth *Synthesizer, metrics *telemetry.Metrics) *ChatService {
	return &ChatService{ws: ws, retriever: retriever, synth: synth, metrics: metrics}
}

// Ask retrieves context, synthesizes an answer and appends the question and
// the answer to the chat history. Failures are reported in the answer text.
func (s *ChatService) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("question is empty")
	}
	start := time.Now()

	var ans Answer
	chunks, err := s.retriever.Retrieve(ctx, question, 0)
	if err != nil {
		logger.Error("Retrieval failed", "error", err)
		ans = errorAnswer(err)
	} else {
		ans = s.synth.Answer(ctx, question, chunks)
	}

	now := time.Now().UTC()
	s.ws.AppendTurns(
		models.ChatTurn{Role: models.RoleUser, Text: question, CreatedAt: now},
		models.ChatTurn{Role: models.RoleAssistant, Text: ans.Text, Citations: ans.Citations, Grounded: ans.Grounded, CreatedAt: now},
	)

	outcome := "grounded"
	switch {
	case ans.Err != nil:
		outcome = "error"
	case !ans.Grounded:
		outcome = "unknown"
	}
	s.metrics.RecordQuestion(outcome)
	logger.Info("Question answered",
		"outcome", outcome,
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ans, nil
}

// History returns the chat turns in order.
func (s *ChatService) History() []models.ChatTurn { return s.ws.Turns() }

// ResetChat clears the chat history and keeps the indexed sources.
func (s *ChatService) ResetChat() {
	s.ws.ResetChat()
	logger.Info("Chat history reset", "workspace", s.ws.ID)
}

// ClearAll empties sources, index and chat history.
func (s *ChatService) ClearAll() {
	s.ws.Clear()
	logger.Info("Workspace cleared", "workspace", s.ws.ID)
}
