package cache

import (
	"errors"
	"sync"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrSchedulerFull = errs.New("delayed task scheduler is full")

// Scheduler 延迟任务；同时挂起的任务数受池大小限制，满了直接拒绝
type Scheduler struct {
	pool  *ants.Pool
	flush chan struct{}
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
}

func NewScheduler(maxPending int) (*Scheduler, error) {
	if maxPending <= 0 {
		maxPending = 10000
	}
	pool, err := ants.NewPool(maxPending,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("delayed task panic", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "new ants pool", "size", maxPending)
	}
	return &Scheduler{pool: pool, flush: make(chan struct{})}, nil
}

// After delay 后执行 f；Close 时未到期的任务立即执行
func (s *Scheduler) After(delay time.Duration, f func()) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return ErrSchedulerFull
	}
	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.flush:
		}
		f()
	})
	if err != nil {
		s.wg.Done()
		if errors.Is(err, ants.ErrPoolOverload) || errors.Is(err, ants.ErrPoolClosed) {
			return ErrSchedulerFull
		}
		return errs.Wrap(err)
	}
	return nil
}

func (s *Scheduler) Cap() int { return s.pool.Cap() }

// Close 提前触发所有挂起任务并等待完成
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.flush)
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
}
