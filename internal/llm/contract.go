package llm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/koheon2/screenmate-backend/internal/apperr"
)

// Action is a command the pet client may execute. Types outside the
// whitelist are dropped during parsing, never surfaced as errors.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// GenerateReply is the typed result of one model turn. QaPatch values of
// nil mean "delete this key"; IntimacyDelta is nil when the model proposed
// nothing usable.
type GenerateReply struct {
	Message       string
	Actions       []Action
	Emotion       string
	QaPatch       map[string]*string
	IntimacyDelta *float64
}

// Contract parses raw completion bodies against the response schema and
// the deployment's action whitelist. Parsing is fail-closed: malformed
// output aborts the turn rather than being patched up.
type Contract struct {
	allowed map[string]struct{}
}

func NewContract(allowedActions []string) *Contract {
	allowed := make(map[string]struct{}, len(allowedActions))
	for _, a := range allowedActions {
		allowed[strings.ToUpper(a)] = struct{}{}
	}
	return &Contract{allowed: allowed}
}

func invalidResponse(msg string) error {
	return apperr.BadRequest("INVALID_LLM_RESPONSE", msg)
}

// ExtractContent pulls the first choice's message content out of a raw
// completion body.
func ExtractContent(raw string) (string, error) {
	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", invalidResponse("Failed to parse LLM response")
	}
	if len(decoded.Choices) == 0 {
		return "", invalidResponse("No choices in LLM response")
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *Contract) Parse(raw string) (*GenerateReply, error) {
	content, err := ExtractContent(raw)
	if err != nil {
		return nil, err
	}

	var inner struct {
		Message       string             `json:"message"`
		Emotion       string             `json:"emotion"`
		Actions       []Action           `json:"actions"`
		QaPatch       map[string]*string `json:"qaPatch"`
		IntimacyDelta json.RawMessage    `json:"intimacyDelta"`
	}
	if err := json.Unmarshal([]byte(content), &inner); err != nil {
		return nil, invalidResponse("Failed to parse LLM response")
	}

	return &GenerateReply{
		Message:       inner.Message,
		Actions:       c.filterActions(inner.Actions),
		Emotion:       inner.Emotion,
		QaPatch:       inner.QaPatch,
		IntimacyDelta: parseDelta(inner.IntimacyDelta),
	}, nil
}

// filterActions keeps whitelisted types in their original order; the type
// match is case-insensitive.
func (c *Contract) filterActions(actions []Action) []Action {
	filtered := make([]Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == "" {
			continue
		}
		if _, ok := c.allowed[strings.ToUpper(a.Type)]; ok {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// parseDelta accepts a JSON number or a numeric string; anything else
// counts as "no delta proposed".
func parseDelta(raw json.RawMessage) *float64 {
	// A literal null would be a silent no-op when decoded into float64,
	// so it has to be caught before the number branch.
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return &num
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &parsed
		}
	}
	return nil
}
