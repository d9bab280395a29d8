package pet

import (
	"math"

	"github.com/koheon2/screenmate-backend/internal/store"
)

// The intimacy economy only ever moves the score by pre-agreed discrete
// steps. Quantizing the model's proposal keeps prompt injection and model
// drift from manipulating the score continuously or without bound.
const (
	intimacyEpsilon   = 1e-9
	positiveThreshold = 0.05
	negativeThreshold = -0.15
	positiveStep      = 0.1
	negativeStep      = -0.3
)

type intimacyResult struct {
	Score      float64
	Applied    bool
	DailyCount int
}

// quantizeDelta maps a raw proposal onto {-0.3, 0, +0.1}. The asymmetric
// thresholds are intentional: losing trust is easier than gaining it.
func quantizeDelta(raw float64) float64 {
	if raw > positiveThreshold {
		return positiveStep
	}
	if raw < negativeThreshold {
		return negativeStep
	}
	return 0
}

// applyIntimacyDelta advances the per-day intimacy state machine on ch.
// The date roll happens first so a stale daily counter never blocks a new
// day. A proposal quantized to zero still counts as applied and still
// consumes one daily slot.
func applyIntimacyDelta(ch *store.Character, raw *float64, today string, dailyCap int) intimacyResult {
	if ch.IntimacyDailyDate != today {
		ch.IntimacyDailyDate = today
		ch.IntimacyDailyCount = 0
	}

	if raw == nil || math.Abs(*raw) < intimacyEpsilon {
		return intimacyResult{Score: ch.IntimacyScore, Applied: false, DailyCount: ch.IntimacyDailyCount}
	}

	if ch.IntimacyDailyCount >= dailyCap {
		return intimacyResult{Score: ch.IntimacyScore, Applied: false, DailyCount: ch.IntimacyDailyCount}
	}

	next := ch.IntimacyScore + quantizeDelta(*raw)
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	ch.IntimacyScore = next
	ch.IntimacyDailyCount++

	return intimacyResult{Score: next, Applied: true, DailyCount: ch.IntimacyDailyCount}
}
