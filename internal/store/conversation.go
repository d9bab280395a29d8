package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// ConversationTurn is one appended message. Seq is the storage-assigned
// monotonic order; window and summarization logic key off it, never off
// wall-clock timestamps.
type ConversationTurn struct {
	Seq         int64
	CharacterID uuid.UUID
	Role        string
	Content     string
	CreatedAt   string
}

func (e *Engine) AppendConversationTurn(ctx context.Context, characterID uuid.UUID, role, content string) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO character_conversations (character_id, role, content) VALUES (?, ?, ?)`,
		characterID.String(), role, content)
	if err != nil {
		return fmt.Errorf("insert conversation turn: %w", err)
	}
	return nil
}

// LoadRecentConversation returns up to n turns, most recent first.
func (e *Engine) LoadRecentConversation(ctx context.Context, characterID uuid.UUID, n int) ([]ConversationTurn, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT seq, character_id, role, content, created_at
		FROM character_conversations
		WHERE character_id = ?
		ORDER BY seq DESC LIMIT ?`,
		characterID.String(), n)
	if err != nil {
		return nil, fmt.Errorf("query recent conversation: %w", err)
	}
	defer rows.Close()

	turns := make([]ConversationTurn, 0, n)
	for rows.Next() {
		var t ConversationTurn
		var id string
		if err := rows.Scan(&t.Seq, &id, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		if t.CharacterID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse character id: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (e *Engine) CountConversationTurns(ctx context.Context, characterID uuid.UUID) (int64, error) {
	var count int64
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM character_conversations WHERE character_id = ?`,
		characterID.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conversation turns: %w", err)
	}
	return count, nil
}

// PruneConversations trims every character's history to its most recent
// keep turns and reports how many rows were deleted.
func (e *Engine) PruneConversations(ctx context.Context, keep int) (int64, error) {
	res, err := e.db.ExecContext(ctx, `
		DELETE FROM character_conversations
		WHERE seq NOT IN (
			SELECT c2.seq FROM character_conversations AS c2
			WHERE c2.character_id = character_conversations.character_id
			ORDER BY c2.seq DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune conversations rows: %w", err)
	}
	return n, nil
}
