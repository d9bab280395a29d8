// Package maintenance runs the scheduled housekeeping jobs: pruning old
// conversation turns and dropping idle rate-limit buckets.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/koheon2/screenmate-backend/internal/config"
	"github.com/koheon2/screenmate-backend/internal/ratelimit"
	"github.com/koheon2/screenmate-backend/internal/store"
)

const limiterIdleAge = 24 * time.Hour

type Service struct {
	store     *store.Engine
	limiter   *ratelimit.Limiter
	schedule  string
	keepTurns int
	cron      *rcron.Cron
}

func NewService(engine *store.Engine, limiter *ratelimit.Limiter, cfg config.RetentionConfig) *Service {
	return &Service{
		store:     engine,
		limiter:   limiter,
		schedule:  cfg.Schedule,
		keepTurns: cfg.KeepTurns,
	}
}

func (s *Service) Start() error {
	s.cron = rcron.New(rcron.WithSeconds())
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("register maintenance schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.Printf("[maintenance] scheduled %q, keeping %d turns per character", s.schedule, s.keepTurns)
	return nil
}

func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[maintenance] stop timeout waiting for running job")
	}
	log.Printf("[maintenance] stopped")
}

// runOnce is the job body; it never fails the scheduler, only logs.
func (s *Service) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.store.PruneConversations(ctx, s.keepTurns)
	if err != nil {
		log.Printf("[maintenance] prune conversations: %v", err)
	} else {
		log.Printf("[maintenance] pruned %d conversation turns", deleted)
	}

	removed := s.limiter.RemoveIdle(limiterIdleAge)
	log.Printf("[maintenance] removed %d idle rate-limit buckets", removed)
}
