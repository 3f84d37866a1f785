package orchestrator

import (
	"context"

	"go.uber.org/zap"
)

const mailboxSize = 64

// botActor serializes all work for one bot id. Different bots run in parallel.
type botActor struct {
	id      string
	mailbox chan func(context.Context)
}

// post queues work for a bot, starting its actor on first use. A full mailbox drops the
// job; decision cycles are repeated on the next tick anyway.
func (s *Service) post(botID string, job func(context.Context)) bool {
	s.mu.Lock()
	if s.lifecycle == LifecycleStopping || s.lifecycle == LifecycleStopped || s.ctx == nil {
		s.mu.Unlock()
		return false
	}
	a, ok := s.actors[botID]
	if !ok {
		a = &botActor{id: botID, mailbox: make(chan func(context.Context), mailboxSize)}
		s.actors[botID] = a
		s.wg.Add(1)
		go s.runActor(s.ctx, a)
	}
	s.mu.Unlock()

	select {
	case a.mailbox <- job:
		return true
	default:
		s.logger.Warn("机器人任务队列已满, 丢弃任务", zap.String("bot", botID))
		return false
	}
}

func (s *Service) runActor(ctx context.Context, a *botActor) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.mailbox:
			s.runJob(ctx, a.id, job)
		}
	}
}

func (s *Service) runJob(ctx context.Context, botID string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("机器人任务 panic", zap.String("bot", botID), zap.Any("panic", r))
		}
	}()
	job(ctx)
}
