package scheduler

import (
	"context"
	"sync"
	"time"

	"lecrec/internal/logger"
	"lecrec/internal/metrics"
	"lecrec/internal/tasks"
)

// Capturer records a source for a bounded duration on behalf of a target.
// capture.Manager is the production implementation.
type Capturer interface {
	CaptureTask(ctx context.Context, task, sourceURL string, duration time.Duration, outputPath string) error
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms one timer per target that still has time left today.
type Scheduler struct {
	spec     *tasks.TaskSpec
	capturer Capturer
	logger   logger.Logger
	metrics  *metrics.Metrics

	// Now and AfterFunc default to the wall clock.
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer

	mutex   sync.Mutex
	pending map[*pendingTask]struct{}
	wg      sync.WaitGroup
}

type pendingTask struct {
	name  string
	timer Timer
}

// New creates a scheduler for spec. m may be nil.
func New(log logger.Logger, spec *tasks.TaskSpec, capturer Capturer, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		spec:      spec,
		capturer:  capturer,
		logger:    log,
		metrics:   m,
		Now:       time.Now,
		AfterFunc: afterFunc,
		pending:   make(map[*pendingTask]struct{}),
	}
}

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// secondsElapsedToday counts whole seconds since local midnight.
func secondsElapsedToday(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Schedule arms today's targets and returns how many were scheduled. Targets
// whose window has already passed are skipped. Cancelling ctx interrupts the
// captures that are running.
func (s *Scheduler) Schedule(ctx context.Context) int {
	now := s.Now()
	elapsed := secondsElapsedToday(now)

	scheduled := 0
	for _, target := range s.spec.TargetsOn(now.Weekday()) {
		start, err := target.StartSecond()
		if err != nil {
			s.logger.Warnf("Skipping %s: %v", target.Name, err)
			continue
		}
		total, err := target.DurationSeconds()
		if err != nil {
			s.logger.Warnf("Skipping %s: %v", target.Name, err)
			continue
		}
		sourceURL, ok := s.spec.SourceURL(target)
		if !ok {
			s.logger.Warnf("Skipping %s: unknown source %q", target.Name, target.Source)
			continue
		}
		if start+total <= elapsed {
			continue
		}

		delay := max(0, start-elapsed)
		s.logger.Debugf("Recording %s from %s in %s", target.Name, sourceURL, time.Duration(delay)*time.Second)
		s.arm(ctx, time.Duration(delay)*time.Second, target, sourceURL, start, total)
		scheduled++
	}

	if s.metrics != nil {
		s.metrics.ScheduledTasks.Set(float64(scheduled))
	}
	s.logger.Infof("Scheduled %d task(s) for today", scheduled)
	return scheduled
}

func (s *Scheduler) arm(ctx context.Context, delay time.Duration, target tasks.Target, sourceURL string, start, total int) {
	s.wg.Add(1)
	p := &pendingTask{name: target.Name}

	s.mutex.Lock()
	s.pending[p] = struct{}{}
	s.mutex.Unlock()

	timer := s.AfterFunc(delay, func() {
		if !s.take(p) {
			return
		}
		defer s.wg.Done()
		s.fire(ctx, target, sourceURL, start, total)
	})

	s.mutex.Lock()
	if _, ok := s.pending[p]; ok {
		p.timer = timer
	}
	s.mutex.Unlock()
}

// take removes p from the pending set. Only the caller that removes it may
// release its WaitGroup slot.
func (s *Scheduler) take(p *pendingTask) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.pending[p]; !ok {
		return false
	}
	delete(s.pending, p)
	return true
}

// fire recomputes how much of the window is left; a timer that fired too
// late to record anything is abandoned.
func (s *Scheduler) fire(ctx context.Context, target tasks.Target, sourceURL string, start, total int) {
	if ctx.Err() != nil {
		return
	}
	now := s.Now()
	remaining := total - max(0, secondsElapsedToday(now)-start)
	if remaining <= 0 {
		s.logger.Debugf("Abandoning %s: its window has passed", target.Name)
		return
	}

	outputPath := target.OutputPath(s.spec.OutDirectory, now)
	if err := s.capturer.CaptureTask(ctx, target.Name, sourceURL, time.Duration(remaining)*time.Second, outputPath); err != nil {
		s.logger.Errorf("Recording %s failed: %v", target.Name, err)
	}
}

// Stop cancels timers that have not fired yet. Running captures are not
// affected; cancel the context given to Schedule for that.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.pending, p)
		s.logger.Debugf("Cancelled pending recording %s", p.name)
		s.wg.Done()
	}
}

// Wait blocks until every armed timer was stopped, abandoned, or its capture
// returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
