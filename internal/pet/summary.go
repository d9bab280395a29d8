package pet

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/llm"
	"github.com/koheon2/screenmate-backend/internal/store"
)

const summaryMaxTokens = 600

const summarySystemPrompt = "You are an assistant that condenses conversations into long-term memory. " +
	"Merge the previous summary and the recent turns into a single updated summary. " +
	"Keep concrete facts about the user, promises made, and the emotional tone of the relationship. " +
	"Compress everything into 8-12 sentences of plain prose."

// appendAndMaybeSummarize persists the turn and, every full window of
// stored turns, folds the window into the running summary. Summarization
// is best-effort: any failure is logged and the turn succeeds anyway.
func (s *Service) appendAndMaybeSummarize(ctx context.Context, characterID uuid.UUID, userMessage, assistantMessage string) {
	wrote := false
	if msg := strings.TrimSpace(userMessage); msg != "" {
		if err := s.store.AppendConversationTurn(ctx, characterID, store.RoleUser, msg); err != nil {
			log.Printf("[pet] append user turn: %v", err)
		} else {
			wrote = true
		}
	}
	if msg := strings.TrimSpace(assistantMessage); msg != "" {
		if err := s.store.AppendConversationTurn(ctx, characterID, store.RoleAssistant, msg); err != nil {
			log.Printf("[pet] append assistant turn: %v", err)
		} else {
			wrote = true
		}
	}
	if !wrote {
		return
	}

	count, err := s.store.CountConversationTurns(ctx, characterID)
	if err != nil {
		log.Printf("[pet] count conversation turns: %v", err)
		return
	}
	if count == 0 || count%int64(s.window) != 0 {
		return
	}
	if err := s.summarize(ctx, characterID); err != nil {
		log.Printf("[pet] summarize character %s: %v", characterID, err)
	}
}

func (s *Service) summarize(ctx context.Context, characterID uuid.UUID) error {
	qaData, _, err := s.store.LoadMemory(ctx, characterID)
	if err != nil {
		return fmt.Errorf("load qa memory: %w", err)
	}
	window, err := s.loadWindowOldestFirst(ctx, characterID)
	if err != nil {
		return err
	}
	if len(window) == 0 {
		return nil
	}

	var b strings.Builder
	if prev := qaData[store.SummaryKey]; prev != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(prev)
		b.WriteString("\n\n")
	}
	b.WriteString("Recent turns:\n")
	for _, t := range window {
		speaker := "Pet"
		if t.Role == store.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&b, "- %s: %s\n", speaker, t.Content)
	}

	raw, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return err
	}
	summary, err := llm.ExtractContent(raw)
	if err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}

	patch := map[string]*string{store.SummaryKey: &summary}
	if _, err := s.store.MergeMemoryPatch(ctx, characterID, patch); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}
