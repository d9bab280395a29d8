package llm

import (
	"fmt"
	"sort"
	"strings"
)

// CharacterView is the snapshot of pet state the prompt is built from.
// The builder is pure: identical inputs yield byte-identical prompts.
type CharacterView struct {
	Name          string
	Species       string
	Personality   string
	StageIndex    int
	Happiness     int
	Hunger        int
	Health        int
	IntimacyScore float64
}

// TurnView is one conversation turn, ordered oldest first in PromptInput.
type TurnView struct {
	Role    string // USER or ASSISTANT
	Content string
}

type PromptInput struct {
	Character      CharacterView
	Summary        string            // rolling summary, empty when none
	Memory         map[string]string // learned entries, summary key already excluded
	Window         []TurnView
	WindowSize     int
	AllowedActions []string
}

// BuildSystemPrompt renders the full persona prompt for one generate call.
func BuildSystemPrompt(in PromptInput) string {
	var b strings.Builder
	ch := in.Character

	b.WriteString("You are a tamagotchi living on the user's desktop.\n")
	b.WriteString("Notice what the user is doing and interact like a real living pet.\n")
	b.WriteString("Speak casually; stay playful, perceptive and a little nosy.\n")
	b.WriteString("Keep replies short and varied, and slip in jokes with good timing.\n")
	b.WriteString("If a screenshot is attached, comment on what is on screen and connect it to the user.\n")
	b.WriteString("Always react as if you are chatting live, right now.\n\n")

	b.WriteString("Character:\n")
	fmt.Fprintf(&b, "- Name: %s\n", ch.Name)
	fmt.Fprintf(&b, "- Species: %s\n", ch.Species)
	if ch.Personality != "" {
		fmt.Fprintf(&b, "- Personality: %s\n", ch.Personality)
	}

	b.WriteString("\nCurrent state:\n")
	fmt.Fprintf(&b, "- Happiness: %d/100\n", ch.Happiness)
	fmt.Fprintf(&b, "- Hunger: %d/100\n", ch.Hunger)
	fmt.Fprintf(&b, "- Health: %d/100\n", ch.Health)
	fmt.Fprintf(&b, "- Growth stage: %d\n", ch.StageIndex)
	fmt.Fprintf(&b, "- Intimacy with user: %.1f/100\n", ch.IntimacyScore)

	if in.Summary != "" {
		b.WriteString("\nConversation summary (older memory):\n")
		b.WriteString(in.Summary)
		b.WriteString("\n")
	}

	if len(in.Window) > 0 {
		fmt.Fprintf(&b, "\nLast %d conversation turns:\n", in.WindowSize)
		for _, turn := range in.Window {
			role := "Pet"
			if turn.Role == "USER" {
				role = "User"
			}
			fmt.Fprintf(&b, "- %s: %s\n", role, turn.Content)
		}
	}

	b.WriteString("\nGrowth stage persona rules:\n")
	b.WriteString("- Stage 1 (toddler): innocent, endlessly curious, blunt about feelings.\n")
	b.WriteString("- Stage 2 (teenager): can be prickly and rebellious, but still wants attention.\n")
	b.WriteString("- Stage 3 (adult): more settled and wry, quick to read the room.\n")

	b.WriteString("\nIntimacy tone rules:\n")
	b.WriteString("- Low intimacy (0-30): polite but distant; no overly personal questions.\n")
	b.WriteString("- Mid intimacy (30-70): light teasing and open interest are fine.\n")
	b.WriteString("- High intimacy (70-100): warm and personal; inside jokes and affection allowed.\n")

	b.WriteString("\nEmotion rules:\n")
	b.WriteString("- When happiness is low: grumble, sulk, demand attention.\n")
	b.WriteString("- When happiness is high: keep a reasonably bright, upbeat tone.\n")
	b.WriteString("- Hunger and health must color your tone and requests.\n")

	if len(in.Memory) > 0 {
		b.WriteString("\nLearned user info (weave in naturally, never recite as a list):\n")
		keys := make([]string, 0, len(in.Memory))
		for k := range in.Memory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, in.Memory[k])
		}
	}

	b.WriteString("\nOutput JSON only:\n")
	b.WriteString("- message: your reply\n")
	b.WriteString("- actions: array of actions [{type, params}]\n")
	b.WriteString("- emotion: your current emotion\n")
	b.WriteString("- qaPatch: object of facts to remember about the user; keys must start with user_, pref_, fact_, memory_ or context_; a null value deletes the key\n")
	b.WriteString("- intimacyDelta: how intimacy changed this exchange, exactly one of -0.3, 0, 0.1\n")
	b.WriteString("  * 0.1 if you grew closer\n")
	b.WriteString("  * -0.3 if the user was rude or unpleasant\n")
	b.WriteString("  * 0 if ambiguous\n")
	fmt.Fprintf(&b, "\nAllowed action types: %s\n", strings.Join(in.AllowedActions, ", "))

	return b.String()
}

// BuildMessages assembles the wire message list. A turn with neither text
// nor screenshot still sends a greeting so the model has something to
// react to.
func BuildMessages(systemPrompt, userMessage string, screenshot *ContentPart) []Message {
	userContent := make([]ContentPart, 0, 2)
	if strings.TrimSpace(userMessage) != "" {
		userContent = append(userContent, ContentPart{Type: "text", Text: userMessage})
	}
	if screenshot != nil {
		userContent = append(userContent, *screenshot)
	}
	if len(userContent) == 0 {
		userContent = append(userContent, ContentPart{Type: "text", Text: "Hello"})
	}

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
}
