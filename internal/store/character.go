package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/apperr"
)

// Character is the persisted pet record. Stats are clamped to [0,100] and
// the stage index to [0,3] whenever the row is written.
type Character struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	Name               string
	Species            string
	Personality        string
	StageIndex         int
	Happiness          int
	Hunger             int
	Health             int
	IntimacyScore      float64
	IntimacyDailyDate  string // calendar date "2006-01-02", empty until first apply
	IntimacyDailyCount int
	CreatedAt          string
	UpdatedAt          string
}

func (e *Engine) CreateCharacter(ctx context.Context, ch *Character) error {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	ch.StageIndex = clampInt(ch.StageIndex, 0, 3)
	ch.Happiness = clampInt(ch.Happiness, 0, 100)
	ch.Hunger = clampInt(ch.Hunger, 0, 100)
	ch.Health = clampInt(ch.Health, 0, 100)
	ch.IntimacyScore = clampFloat(ch.IntimacyScore, 0, 100)

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO characters (id, user_id, name, species, personality, stage_index,
			happiness, hunger, health, intimacy_score, intimacy_daily_date, intimacy_daily_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID.String(), ch.UserID.String(), ch.Name, ch.Species, ch.Personality, ch.StageIndex,
		ch.Happiness, ch.Hunger, ch.Health, ch.IntimacyScore, ch.IntimacyDailyDate, ch.IntimacyDailyCount)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	return nil
}

// GetCharacterForUser resolves a character scoped to its owner. A missing
// character and an ownership mismatch are indistinguishable to the caller:
// both report not-found, so existence of other users' pets never leaks.
func (e *Engine) GetCharacterForUser(ctx context.Context, characterID, userID uuid.UUID) (*Character, error) {
	row := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, species, personality, stage_index,
			happiness, hunger, health, intimacy_score, intimacy_daily_date, intimacy_daily_count,
			created_at, updated_at
		FROM characters WHERE id = ? AND user_id = ?`,
		characterID.String(), userID.String())

	ch, err := scanCharacter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("CHARACTER_NOT_FOUND", "Character not found or you don't have access")
	}
	if err != nil {
		return nil, fmt.Errorf("query character: %w", err)
	}
	return ch, nil
}

// SaveCharacterState writes back the mutable pet state. Clamping happens
// here so no code path can persist an out-of-range stat.
func (e *Engine) SaveCharacterState(ctx context.Context, ch *Character) error {
	ch.StageIndex = clampInt(ch.StageIndex, 0, 3)
	ch.Happiness = clampInt(ch.Happiness, 0, 100)
	ch.Hunger = clampInt(ch.Hunger, 0, 100)
	ch.Health = clampInt(ch.Health, 0, 100)
	ch.IntimacyScore = clampFloat(ch.IntimacyScore, 0, 100)

	res, err := e.db.ExecContext(ctx, `
		UPDATE characters SET name = ?, personality = ?, stage_index = ?,
			happiness = ?, hunger = ?, health = ?,
			intimacy_score = ?, intimacy_daily_date = ?, intimacy_daily_count = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		ch.Name, ch.Personality, ch.StageIndex,
		ch.Happiness, ch.Hunger, ch.Health,
		ch.IntimacyScore, ch.IntimacyDailyDate, ch.IntimacyDailyCount,
		ch.ID.String())
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update character rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("CHARACTER_NOT_FOUND", "Character not found or you don't have access")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (*Character, error) {
	var ch Character
	var id, userID string
	err := row.Scan(&id, &userID, &ch.Name, &ch.Species, &ch.Personality, &ch.StageIndex,
		&ch.Happiness, &ch.Hunger, &ch.Health, &ch.IntimacyScore, &ch.IntimacyDailyDate, &ch.IntimacyDailyCount,
		&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ch.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse character id: %w", err)
	}
	if ch.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &ch, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
