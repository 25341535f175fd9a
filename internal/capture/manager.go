package capture

import (
	"context"
	"sort"
	"sync"
	"time"

	"lecrec/internal/history"
	"lecrec/internal/logger"
	"lecrec/internal/metrics"
	"lecrec/internal/playlist"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Manager runs capture sessions and keeps track of the active ones. Sessions
// are independent; any number may run at once.
type Manager struct {
	mutex    sync.RWMutex
	sessions map[string]*Session

	logger  logger.Logger
	client  *playlist.Client
	cfg     Config
	metrics *metrics.Metrics
	history *history.Store
}

// NewManager creates a new capture manager. m and store may be nil.
func NewManager(log logger.Logger, client *playlist.Client, cfg Config, m *metrics.Metrics, store *history.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   log,
		client:   client,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		history:  store,
	}
}

// Capture records sourceURL into outputPath for duration. It blocks until the
// duration has elapsed or ctx is cancelled. Only an unresolvable manifest or
// an unusable output file is reported as an error; failures while recording
// are logged and contained.
func (m *Manager) Capture(ctx context.Context, sourceURL string, duration time.Duration, outputPath string) error {
	return m.CaptureTask(ctx, "", sourceURL, duration, outputPath)
}

// CaptureTask is Capture on behalf of the named target, which is carried into
// session info and the journal.
func (m *Manager) CaptureTask(ctx context.Context, task, sourceURL string, duration time.Duration, outputPath string) error {
	id := uuid.NewString()
	log := m.logger.With("session", id)
	if task != "" {
		log = log.With("task", task)
	}
	journalID := m.beginHistory(ctx, id, task, sourceURL, outputPath)

	sess, err := openSession(ctx, id, m.client, log, m.metrics, m.cfg, sourceURL, duration, outputPath)
	if err != nil {
		log.Errorf("Failed to start recording of %s: %v", sourceURL, err)
		m.observeSession("failed")
		m.finishHistory(journalID, 0, 0, err)
		return err
	}

	sess.Task = task
	m.add(sess)
	defer m.remove(sess.ID)

	log.Infof("Starting recording task. Source: %s Duration: %s Outfile: %s", sourceURL, duration, outputPath)
	runErr := sess.Run(ctx)

	info := sess.Info()
	if runErr != nil {
		log.Errorf("Recording of %s ended with error: %v", outputPath, runErr)
		m.observeSession("failed")
	} else {
		log.Infof("Completed recording task. View in %s (%d segments, %s)", outputPath, info.Segments, humanize.Bytes(uint64(info.Bytes)))
		m.observeSession("completed")
	}
	m.finishHistory(journalID, info.Segments, info.Bytes, runErr)
	return runErr
}

// Sessions lists the active sessions ordered by start time.
func (m *Manager) Sessions() []Info {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) add(s *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[s.ID] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
}

func (m *Manager) remove(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, id)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
}

func (m *Manager) observeSession(result string) {
	if m.metrics != nil {
		m.metrics.Sessions.WithLabelValues(result).Inc()
	}
}

func (m *Manager) beginHistory(ctx context.Context, id, task, source, output string) int64 {
	if m.history == nil {
		return 0
	}
	rowID, err := m.history.Begin(ctx, id, task, source, output, m.cfg.Now())
	if err != nil {
		m.logger.Warnf("Failed to journal recording %s: %v", id, err)
		return 0
	}
	return rowID
}

// finishHistory uses a fresh context: the capture context is usually
// cancelled by the time the outcome is known.
func (m *Manager) finishHistory(rowID, segments, bytes int64, runErr error) {
	if m.history == nil || rowID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.history.Finish(ctx, rowID, m.cfg.Now(), segments, bytes, runErr); err != nil {
		m.logger.Warnf("Failed to journal outcome of recording %d: %v", rowID, err)
	}
}
