package scheduler

import (
	"context"
	"time"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Clock 时钟抽象，升级巡检等定时任务注入假时钟做确定性测试
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func RealClock() Clock { return realClock{} }

type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	clock  Clock
}

func New() *Scheduler {
	return NewWithClock(realClock{})
}

func NewWithClock(clock Clock) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{ctx: ctx, cancel: cancel, clock: clock}
}

func (s *Scheduler) Clock() Clock { return s.clock }

func (s *Scheduler) Stop() { s.cancel() }

func (s *Scheduler) Every(d time.Duration, job Job) { go s.loopEvery(d, job) }

func (s *Scheduler) OnceAfter(d time.Duration, job Job) { go s.onceAfter(d, job) }

func (s *Scheduler) loopEvery(d time.Duration, job Job) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			job.Run(s.ctx)
		}
	}
}

func (s *Scheduler) onceAfter(d time.Duration, job Job) {
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(d):
		job.Run(s.ctx)
	}
}
