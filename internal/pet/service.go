// Package pet orchestrates one conversational turn with the desktop pet:
// rate limiting, ownership, prompt assembly, the completion call, response
// validation, the intimacy economy and conversation/memory persistence.
package pet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/apperr"
	"github.com/koheon2/screenmate-backend/internal/config"
	"github.com/koheon2/screenmate-backend/internal/llm"
	"github.com/koheon2/screenmate-backend/internal/ratelimit"
	"github.com/koheon2/screenmate-backend/internal/store"
)

type Service struct {
	store          *store.Engine
	llm            llm.Client
	limiter        *ratelimit.Limiter
	contract       *llm.Contract
	maxTokens      int
	window         int
	dailyCap       int
	allowedActions []string
	now            func() time.Time
}

func NewService(engine *store.Engine, client llm.Client, limiter *ratelimit.Limiter, cfg config.ChatConfig) *Service {
	return &Service{
		store:          engine,
		llm:            client,
		limiter:        limiter,
		contract:       llm.NewContract(cfg.AllowedActions),
		maxTokens:      cfg.MaxTokens,
		window:         cfg.ConversationWindow,
		dailyCap:       cfg.IntimacyDailyCap,
		allowedActions: cfg.AllowedActions,
		now:            time.Now,
	}
}

type GenerateInput struct {
	UserID      uuid.UUID
	CharacterID uuid.UUID
	UserMessage string
	Screenshot  *llm.ScreenshotUpload
}

type GenerateResult struct {
	Message              string       `json:"message,omitempty"`
	Actions              []llm.Action `json:"actions"`
	Emotion              string       `json:"emotion,omitempty"`
	IntimacyDelta        *float64     `json:"intimacyDelta,omitempty"`
	IntimacyScore        float64      `json:"intimacyScore"`
	IntimacyDeltaApplied bool         `json:"intimacyDeltaApplied"`
	IntimacyDailyCount   int          `json:"intimacyDailyCount"`
}

// Generate runs one full turn. Everything up to and including response
// validation happens before any state is touched, so a failure there
// leaves no trace; persistence is the last step.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	if !s.limiter.TryConsume(in.UserID) {
		return nil, apperr.RateLimited("Rate limit exceeded. Please try again later.")
	}

	ch, err := s.store.GetCharacterForUser(ctx, in.CharacterID, in.UserID)
	if err != nil {
		return nil, err
	}

	qaData, _, err := s.store.LoadMemory(ctx, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load qa memory: %w", err)
	}

	window, err := s.loadWindowOldestFirst(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	systemPrompt := llm.BuildSystemPrompt(s.promptInput(ch, qaData, window))

	screenshot, err := llm.ValidateScreenshot(in.Screenshot)
	if err != nil {
		return nil, err
	}

	messages := llm.BuildMessages(systemPrompt, in.UserMessage, screenshot)

	raw, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Messages:  messages,
		MaxTokens: s.maxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return nil, err
	}

	reply, err := s.contract.Parse(raw)
	if err != nil {
		return nil, err
	}
	// One bad patch key discards the whole turn, conversational text
	// included; partial application is never an option.
	if err := store.ValidateQaPatch(reply.QaPatch); err != nil {
		return nil, err
	}

	today := s.now().Format("2006-01-02")
	intimacy := applyIntimacyDelta(ch, reply.IntimacyDelta, today, s.dailyCap)

	s.appendAndMaybeSummarize(ctx, ch.ID, in.UserMessage, reply.Message)

	if len(reply.QaPatch) > 0 {
		if _, err := s.store.MergeMemoryPatch(ctx, ch.ID, reply.QaPatch); err != nil {
			return nil, fmt.Errorf("merge qa patch: %w", err)
		}
	}

	if err := s.store.SaveCharacterState(ctx, ch); err != nil {
		return nil, fmt.Errorf("save character: %w", err)
	}

	return &GenerateResult{
		Message:              reply.Message,
		Actions:              reply.Actions,
		Emotion:              reply.Emotion,
		IntimacyDelta:        reply.IntimacyDelta,
		IntimacyScore:        intimacy.Score,
		IntimacyDeltaApplied: intimacy.Applied,
		IntimacyDailyCount:   intimacy.DailyCount,
	}, nil
}

func (s *Service) promptInput(ch *store.Character, qaData map[string]string, window []llm.TurnView) llm.PromptInput {
	learned := make(map[string]string, len(qaData))
	for k, v := range qaData {
		if k != store.SummaryKey {
			learned[k] = v
		}
	}
	return llm.PromptInput{
		Character: llm.CharacterView{
			Name:          ch.Name,
			Species:       ch.Species,
			Personality:   ch.Personality,
			StageIndex:    ch.StageIndex,
			Happiness:     ch.Happiness,
			Hunger:        ch.Hunger,
			Health:        ch.Health,
			IntimacyScore: ch.IntimacyScore,
		},
		Summary:        qaData[store.SummaryKey],
		Memory:         learned,
		Window:         window,
		WindowSize:     s.window,
		AllowedActions: s.allowedActions,
	}
}

// loadWindowOldestFirst flips the storage boundary's newest-first order
// into the chronological order prompts are built from.
func (s *Service) loadWindowOldestFirst(ctx context.Context, characterID uuid.UUID) ([]llm.TurnView, error) {
	turns, err := s.store.LoadRecentConversation(ctx, characterID, s.window)
	if err != nil {
		return nil, fmt.Errorf("load recent conversation: %w", err)
	}
	window := make([]llm.TurnView, len(turns))
	for i, t := range turns {
		window[len(turns)-1-i] = llm.TurnView{Role: t.Role, Content: t.Content}
	}
	return window, nil
}
