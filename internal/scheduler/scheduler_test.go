package scheduler

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lecrec/internal/logger"
	"lecrec/internal/metrics"
	"lecrec/internal/tasks"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCall struct {
	task     string
	source   string
	duration time.Duration
	output   string
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls []captureCall
	err   error
}

func (f *fakeCapturer) CaptureTask(ctx context.Context, task, sourceURL string, duration time.Duration, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, captureCall{task, sourceURL, duration, outputPath})
	return f.err
}

func (f *fakeCapturer) recorded() []captureCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captureCall(nil), f.calls...)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// harness drives a Scheduler with a settable clock and manually fired timers.
type harness struct {
	sched    *Scheduler
	capturer *fakeCapturer
	now      time.Time
	timers   []*fakeTimer
	logs     bytes.Buffer
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, now time.Time, targets ...tasks.Target) *harness {
	t.Helper()
	h := &harness{capturer: &fakeCapturer{}, now: now, metrics: metrics.New()}
	spec := &tasks.TaskSpec{
		Sources:      map[string]string{"hall": "https://live.example.edu/hall/live.manifest"},
		Targets:      targets,
		OutDirectory: "recordings",
	}
	log := logger.NewLoggerWithOptions(logger.Options{Level: "info", Format: "text", Stdout: &h.logs, Stderr: &h.logs})
	h.sched = New(log, spec, h.capturer, h.metrics)
	h.sched.Now = func() time.Time { return h.now }
	h.sched.AfterFunc = func(d time.Duration, f func()) Timer {
		ft := &fakeTimer{delay: d, fn: f}
		h.timers = append(h.timers, ft)
		return ft
	}
	return h
}

func target(name, weekday, start, duration string) tasks.Target {
	return tasks.Target{
		Name:     name,
		Source:   "hall",
		Start:    tasks.Start{Weekday: weekday, Time: start},
		Duration: duration,
	}
}

// 2026-10-19 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2026, time.October, 19, hour, minute, 0, 0, time.Local)
}

func TestSchedule_StartedWindowRecordsRemainder(t *testing.T) {
	h := newHarness(t, monday(10, 10), target("algebra", "monday", "10:00", "00:30"))

	require.Equal(t, 1, h.sched.Schedule(context.Background()))
	require.Len(t, h.timers, 1)
	assert.Zero(t, h.timers[0].delay)

	h.timers[0].fn()
	h.sched.Wait()

	calls := h.capturer.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, 20*time.Minute, calls[0].duration)
	assert.Equal(t, "algebra", calls[0].task)
	assert.Equal(t, "https://live.example.edu/hall/live.manifest", calls[0].source)
	assert.Equal(t, filepath.Join("recordings", "algebra", "2026-10-19_10-00.mp4"), calls[0].output)
}

func TestSchedule_FutureWindowWaitsForStart(t *testing.T) {
	h := newHarness(t, monday(9, 0), target("algebra", "monday", "10:00", "01:30"))

	require.Equal(t, 1, h.sched.Schedule(context.Background()))
	require.Len(t, h.timers, 1)
	assert.Equal(t, time.Hour, h.timers[0].delay)

	h.now = monday(10, 0)
	h.timers[0].fn()
	h.sched.Wait()

	calls := h.capturer.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, 90*time.Minute, calls[0].duration)
}

func TestSchedule_SkipsPassedWindowsAndOtherDays(t *testing.T) {
	h := newHarness(t, monday(10, 30),
		target("ended", "monday", "10:00", "00:30"),
		target("tuesday", "tuesday", "11:00", "00:30"),
		target("later", "monday", "14:00", "01:00"),
	)

	assert.Equal(t, 1, h.sched.Schedule(context.Background()))
	require.Len(t, h.timers, 1)
	assert.Equal(t, 3*time.Hour+30*time.Minute, h.timers[0].delay)
	assert.Contains(t, h.logs.String(), "Scheduled 1 task(s) for today")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScheduledTasks))
}

func TestSchedule_NothingToday(t *testing.T) {
	h := newHarness(t, monday(8, 0), target("friday", "friday", "10:00", "00:30"))

	assert.Zero(t, h.sched.Schedule(context.Background()))
	assert.Empty(t, h.timers)
	assert.Contains(t, h.logs.String(), "Scheduled 0 task(s) for today")
	h.sched.Wait()
}

func TestSchedule_LateFireIsAbandoned(t *testing.T) {
	h := newHarness(t, monday(9, 0), target("algebra", "monday", "10:00", "00:30"))
	require.Equal(t, 1, h.sched.Schedule(context.Background()))

	h.now = monday(10, 31)
	h.timers[0].fn()
	h.sched.Wait()

	assert.Empty(t, h.capturer.recorded())
}

func TestSchedule_StopCancelsPendingTimers(t *testing.T) {
	h := newHarness(t, monday(9, 0),
		target("a", "monday", "10:00", "00:30"),
		target("b", "monday", "11:00", "00:30"),
	)
	require.Equal(t, 2, h.sched.Schedule(context.Background()))

	h.sched.Stop()
	h.sched.Wait()
	for _, timer := range h.timers {
		assert.True(t, timer.stopped)
	}

	// A timer that still fires after Stop does nothing.
	h.timers[0].fn()
	assert.Empty(t, h.capturer.recorded())
}

func TestSchedule_CancelledContextSkipsCapture(t *testing.T) {
	h := newHarness(t, monday(9, 0), target("a", "monday", "10:00", "00:30"))
	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, 1, h.sched.Schedule(ctx))

	cancel()
	h.now = monday(10, 0)
	h.timers[0].fn()
	h.sched.Wait()
	assert.Empty(t, h.capturer.recorded())
}

func TestSchedule_CaptureErrorIsLogged(t *testing.T) {
	h := newHarness(t, monday(10, 0), target("a", "monday", "10:00", "00:30"))
	h.capturer.err = errors.New("manifest unreachable")
	require.Equal(t, 1, h.sched.Schedule(context.Background()))

	h.timers[0].fn()
	h.sched.Wait()
	assert.Contains(t, h.logs.String(), "manifest unreachable")
}

func TestSchedule_WallClockTimers(t *testing.T) {
	capturer := &fakeCapturer{}
	now := time.Now()
	spec := &tasks.TaskSpec{
		Sources: map[string]string{"hall": "https://live.example.edu/hall/live.manifest"},
		Targets: []tasks.Target{{
			Name:     "now",
			Source:   "hall",
			Start:    tasks.Start{Weekday: tasks.WeekdayName(now.Weekday()), Time: "00:00"},
			Duration: "23:59",
		}},
		OutDirectory: t.TempDir(),
	}
	if secondsElapsedToday(now) >= 23*3600+59*60 {
		t.Skip("too close to midnight")
	}

	sched := New(logger.Nop(), spec, capturer, nil)
	require.Equal(t, 1, sched.Schedule(context.Background()))

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled capture did not run")
	}
	assert.Len(t, capturer.recorded(), 1)
}
