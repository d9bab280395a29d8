package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/koheon2/screenmate-backend/internal/apperr"
)

// SummaryKey is the reserved QA memory key holding the rolling conversation
// summary. Its prefix is deliberately outside the allowed set so neither
// the model nor the external patch path can overwrite it directly.
const SummaryKey = "conversation_summary"

const (
	maxQaKeyLength   = 100
	maxQaValueLength = 2000
	maxQaEntries     = 100
)

var allowedQaKeyPrefixes = []string{"user_", "pref_", "fact_", "memory_", "context_"}

// ValidateQaPatch checks a key/value patch against the namespace rules.
// A nil value means "delete this key". One bad entry rejects the whole
// patch; callers abort before any mutation.
func ValidateQaPatch(patch map[string]*string) error {
	if len(patch) == 0 {
		return nil
	}
	if len(patch) > maxQaEntries {
		return apperr.BadRequest("TOO_MANY_QA_ENTRIES",
			fmt.Sprintf("Cannot have more than %d QA entries in a single patch", maxQaEntries))
	}
	for key, value := range patch {
		if err := validateQaKey(key); err != nil {
			return err
		}
		if value != nil && len(*value) > maxQaValueLength {
			return apperr.BadRequest("QA_VALUE_TOO_LONG",
				fmt.Sprintf("QA value must not exceed %d characters", maxQaValueLength))
		}
	}
	return nil
}

func validateQaKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return apperr.BadRequest("INVALID_QA_KEY", "QA key cannot be empty")
	}
	if len(key) > maxQaKeyLength {
		return apperr.BadRequest("QA_KEY_TOO_LONG",
			fmt.Sprintf("QA key must not exceed %d characters", maxQaKeyLength))
	}
	for _, prefix := range allowedQaKeyPrefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return apperr.BadRequest("INVALID_QA_KEY_PREFIX",
		fmt.Sprintf("QA key must start with one of: %s", strings.Join(allowedQaKeyPrefixes, ", ")))
}

// LoadMemory returns the QA document and its version. A character without
// a memory row reads as an empty document at version 0.
func (e *Engine) LoadMemory(ctx context.Context, characterID uuid.UUID) (map[string]string, int64, error) {
	var raw string
	var version int64
	err := e.db.QueryRowContext(ctx,
		`SELECT qa_data, version FROM character_qa_memories WHERE character_id = ?`,
		characterID.String()).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("query qa memory: %w", err)
	}

	data := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, 0, fmt.Errorf("decode qa memory: %w", err)
	}
	return data, version, nil
}

// MergeMemoryPatch applies a model-initiated patch additively inside one
// read-modify-write transaction. There is no version precondition: when
// two turns for the same character race, the row update itself is never
// lost but key-level last-writer-wins is accepted.
func (e *Engine) MergeMemoryPatch(ctx context.Context, characterID uuid.UUID, patch map[string]*string) (int64, error) {
	_, version, err := e.applyPatch(ctx, characterID, patch, nil)
	return version, err
}

// PatchMemoryWithVersion is the externally-initiated patch operation: it
// requires the caller's expectedVersion to match the stored version and
// fails with a conflict otherwise. Returns the merged document and its new
// version.
func (e *Engine) PatchMemoryWithVersion(ctx context.Context, characterID uuid.UUID, expectedVersion int64, patch map[string]*string) (map[string]string, int64, error) {
	return e.applyPatch(ctx, characterID, patch, &expectedVersion)
}

func (e *Engine) applyPatch(ctx context.Context, characterID uuid.UUID, patch map[string]*string, expectedVersion *int64) (map[string]string, int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin qa patch tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	var version int64
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT qa_data, version FROM character_qa_memories WHERE character_id = ?`,
		characterID.String()).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		raw = "{}"
		version = 0
	} else if err != nil {
		return nil, 0, fmt.Errorf("query qa memory: %w", err)
	}

	if expectedVersion != nil && *expectedVersion != version {
		return nil, 0, apperr.VersionConflict(*expectedVersion, version)
	}

	data := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, 0, fmt.Errorf("decode qa memory: %w", err)
	}
	for key, value := range patch {
		if value == nil {
			delete(data, key)
		} else {
			data[key] = *value
		}
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("encode qa memory: %w", err)
	}

	newVersion := version + 1
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE character_qa_memories SET qa_data = ?, version = ?, updated_at = datetime('now') WHERE character_id = ?`,
			string(encoded), newVersion, characterID.String())
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO character_qa_memories (character_id, qa_data, version) VALUES (?, ?, ?)`,
			characterID.String(), string(encoded), newVersion)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("write qa memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit qa patch: %w", err)
	}
	return data, newVersion, nil
}
