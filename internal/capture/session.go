package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lecrec/internal/cache"
	"lecrec/internal/logger"
	"lecrec/internal/metrics"
	"lecrec/internal/models"
	"lecrec/internal/playlist"
)

// State is the life-cycle position of a Session.
type State int32

const (
	// Polling is the initial state: the poll ticker is running.
	Polling State = iota
	// Stopped is terminal. It is entered only after the poll ticker is stopped.
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "polling"
}

// Config tunes a capture session. Zero values select the defaults.
type Config struct {
	PollInterval  time.Duration
	Retention     time.Duration
	SegmentSuffix string
	// QueueSize bounds the batches waiting for the writer.
	QueueSize int
	// Now is the clock used for the deduplication window.
	Now func() time.Time
}

// DefaultConfig returns the standard polling cadence and retention window.
func DefaultConfig() Config {
	return Config{
		PollInterval:  5 * time.Second,
		Retention:     cache.DefaultRetention,
		SegmentSuffix: playlist.DefaultSegmentSuffix,
		QueueSize:     64,
		Now:           time.Now,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.SegmentSuffix == "" {
		c.SegmentSuffix = def.SegmentSuffix
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Now == nil {
		c.Now = def.Now
	}
	return c
}

// Session holds all context for a single bounded-duration recording.
type Session struct {
	ID         string
	Task       string
	Stream     playlist.Stream
	Duration   time.Duration
	OutputPath string
	StartedAt  time.Time
	Logger     logger.Logger

	client  *playlist.Client
	seen    *cache.SegmentCache
	metrics *metrics.Metrics
	cfg     Config

	out       *os.File
	closeOnce sync.Once
	closeErr  error

	// claimMu orders claim+enqueue so batches reach the writer in discovery order.
	claimMu sync.Mutex
	batches chan []models.Segment
	polls   sync.WaitGroup

	state     atomic.Int32
	pollCount atomic.Int64
	segments  atomic.Int64
	bytes     atomic.Int64
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string    `json:"id"`
	Task       string    `json:"task,omitempty"`
	Source     string    `json:"source"`
	SegmentURL string    `json:"segmentList"`
	Output     string    `json:"output"`
	StartedAt  time.Time `json:"startedAt"`
	EndsAt     time.Time `json:"endsAt"`
	State      string    `json:"state"`
	Polls      int64     `json:"polls"`
	Segments   int64     `json:"segments"`
	Bytes      int64     `json:"bytes"`
}

// openSession resolves the manifest and prepares the output file. Any error
// here is fatal for the capture.
func openSession(ctx context.Context, id string, client *playlist.Client, log logger.Logger, m *metrics.Metrics, cfg Config, sourceURL string, duration time.Duration, outputPath string) (*Session, error) {
	cfg = cfg.withDefaults()

	stream, err := client.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve stream %s: %w", sourceURL, err)
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file %s: %w", outputPath, err)
	}

	return &Session{
		ID:         id,
		Stream:     stream,
		Duration:   duration,
		OutputPath: outputPath,
		StartedAt:  cfg.Now(),
		Logger:     log,
		client:     client,
		seen:       cache.New(log, cfg.Retention),
		metrics:    m,
		cfg:        cfg,
		out:        out,
		batches:    make(chan []models.Segment, cfg.QueueSize),
	}, nil
}

// State reports whether the session is still polling.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		Task:       s.Task,
		Source:     s.Stream.ManifestURL,
		SegmentURL: s.Stream.SegmentListURL,
		Output:     s.OutputPath,
		StartedAt:  s.StartedAt,
		EndsAt:     s.StartedAt.Add(s.Duration),
		State:      s.State().String(),
		Polls:      s.pollCount.Load(),
		Segments:   s.segments.Load(),
		Bytes:      s.bytes.Load(),
	}
}

// Run polls immediately and then on every tick until the duration elapses or
// ctx is cancelled. On return the poll ticker is stopped and the output file
// has been synced and closed.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	deadline := time.NewTimer(s.Duration)
	defer deadline.Stop()

	s.startPoll(ctx)
loop:
	for {
		select {
		case <-ticker.C:
			s.startPoll(ctx)
		case <-deadline.C:
			break loop
		case <-ctx.Done():
			s.Logger.Infof("Recording interrupted before its scheduled end")
			break loop
		}
	}

	// Polling -> Stopped: the ticker dies before the file is closed.
	ticker.Stop()
	s.state.Store(int32(Stopped))
	cancel()
	s.polls.Wait()
	<-writerDone
	return s.closeErr
}

func (s *Session) startPoll(ctx context.Context) {
	s.pollCount.Add(1)
	s.polls.Add(1)
	go s.poll(ctx)
}

// poll runs one independent poll. Failures are contained here so the ticker
// keeps going.
func (s *Session) poll(ctx context.Context) {
	defer s.polls.Done()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Errorf("Error while downloading segments: panic: %v", r)
			s.observePoll("error")
		}
	}()

	if err := s.pollOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Logger.Errorf("Error while downloading segments: %v", err)
		s.observePoll("error")
		return
	}
	s.observePoll("ok")
}

// pollOnce fetches the segment list, refreshes the deduplication window and
// hands newly seen segments to the writer.
func (s *Session) pollOnce(ctx context.Context) error {
	text, _, err := s.client.FetchText(ctx, s.Stream.SegmentListURL)
	if err != nil {
		return fmt.Errorf("failed to fetch segment list: %w", err)
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	// The window is kept in whole seconds.
	now := s.cfg.Now().Truncate(time.Second)
	if evicted := s.seen.Evict(now); evicted > 0 && s.metrics != nil {
		s.metrics.SegmentsEvicted.Add(float64(evicted))
	}

	// Ids are marked seen before any download starts, so a failed or slow
	// download is never queued twice.
	ids := s.seen.Claim(playlist.SegmentIDs(text, s.cfg.SegmentSuffix), now)
	if len(ids) == 0 {
		return nil
	}
	s.Logger.Debugf("Found %d new segments", len(ids))

	select {
	case s.batches <- s.Stream.Segments(ids):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the only writer of the output file and closes it on exit.
func (s *Session) writeLoop(ctx context.Context) {
	defer s.closeOutput()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.batches:
			s.writeBatch(ctx, batch)
		}
	}
}

// writeBatch downloads and appends each segment strictly in order. A failed
// segment is skipped; the rest of the batch continues.
func (s *Session) writeBatch(ctx context.Context, batch []models.Segment) {
	for _, seg := range batch {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		data, err := s.client.FetchSegment(ctx, seg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Logger.Errorf("Error writing segment %s for recording %s: %v", seg.ID, s.OutputPath, err)
			s.observeSegmentFailure()
			continue
		}
		if s.metrics != nil {
			s.metrics.SegmentFetchDelay.Observe(time.Since(started).Seconds())
		}

		if _, err := s.out.Write(data); err != nil {
			s.Logger.Errorf("Error writing segment %s for recording %s: %v", seg.ID, s.OutputPath, err)
			s.observeSegmentFailure()
			continue
		}
		s.segments.Add(1)
		s.bytes.Add(int64(len(data)))
		if s.metrics != nil {
			s.metrics.SegmentsCaptured.Inc()
			s.metrics.BytesWritten.Add(float64(len(data)))
		}
	}

	if err := s.out.Sync(); err != nil {
		s.Logger.Warnf("Failed to sync %s: %v", s.OutputPath, err)
	}
}

func (s *Session) closeOutput() {
	s.closeOnce.Do(func() {
		if err := s.out.Sync(); err != nil {
			s.Logger.Warnf("Failed to sync %s: %v", s.OutputPath, err)
		}
		if err := s.out.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close output file %s: %w", s.OutputPath, err)
		}
	})
}

func (s *Session) observePoll(result string) {
	if s.metrics != nil {
		s.metrics.Polls.WithLabelValues(result).Inc()
	}
}

func (s *Session) observeSegmentFailure() {
	if s.metrics != nil {
		s.metrics.SegmentsFailed.Inc()
	}
}
