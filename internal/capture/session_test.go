package capture

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lecrec/internal/logger"
	"lecrec/internal/metrics"
	"lecrec/internal/models"
	"lecrec/internal/playlist"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *playlist.Client {
	return playlist.NewClient(logger.Nop(), playlist.Options{
		RequestsPerSecond: -1,
		RetryDelay:        5 * time.Millisecond,
		MaxRetries:        1,
	})
}

func openTestSession(t *testing.T, o *fakeOrigin, cfg Config, duration time.Duration) (*Session, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "lec", "2026-10-20_14-00.mp4")
	s, err := openSession(context.Background(), "test", testClient(), logger.Nop(), metrics.New(), cfg, o.manifestURL(), duration, out)
	require.NoError(t, err)
	return s, out
}

// nextBatch takes the batch a poll queued, failing if there is none.
func nextBatch(t *testing.T, s *Session) []models.Segment {
	t.Helper()
	select {
	case b := <-s.batches:
		return b
	default:
		t.Fatal("expected a queued batch")
		return nil
	}
}

func assertNoBatch(t *testing.T, s *Session) {
	t.Helper()
	select {
	case b := <-s.batches:
		t.Fatalf("unexpected batch %v", b)
	default:
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSession_DerivesSegmentURLs(t *testing.T) {
	o := newFakeOrigin(t, "seg1.ts\n")
	s, out := openTestSession(t, o, Config{}, time.Minute)
	defer s.closeOutput()

	assert.Equal(t, o.server.URL+"/live/chunklist.m3u8", s.Stream.SegmentListURL)
	assert.Equal(t, o.server.URL+"/live/", s.Stream.SegmentBaseURL)
	assert.FileExists(t, out)
}

func TestSession_DedupAcrossPolls(t *testing.T) {
	o := newFakeOrigin(t, "a.ts\nb.ts\n", "a.ts\nb.ts\nc.ts\n")
	clock := newFakeClock()
	s, out := openTestSession(t, o, Config{Now: clock.Now}, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	s.writeBatch(ctx, nextBatch(t, s))

	clock.Advance(5 * time.Second)
	require.NoError(t, s.pollOnce(ctx))
	batch := nextBatch(t, s)
	require.Len(t, batch, 1)
	assert.Equal(t, "c.ts", batch[0].ID)
	s.writeBatch(ctx, batch)
	s.closeOutput()

	assert.Equal(t, 1, o.hits("a.ts"))
	assert.Equal(t, 1, o.hits("b.ts"))
	assert.Equal(t, 1, o.hits("c.ts"))
	assert.Equal(t, "a.ts|b.ts|c.ts|", readFile(t, out))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.SegmentsCaptured))
}

func TestSession_EvictionAtRetentionBoundary(t *testing.T) {
	o := newFakeOrigin(t, "a.ts\n")
	clock := newFakeClock()
	s, _ := openTestSession(t, o, Config{Now: clock.Now}, time.Minute)
	defer s.closeOutput()
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	assert.Equal(t, []string{"a.ts"}, ids(nextBatch(t, s)))

	clock.Advance(59 * time.Second)
	require.NoError(t, s.pollOnce(ctx))
	assertNoBatch(t, s)

	clock.Advance(time.Second)
	require.NoError(t, s.pollOnce(ctx))
	assert.Equal(t, []string{"a.ts"}, ids(nextBatch(t, s)))
}

func TestSession_EvictionUsesWholeSeconds(t *testing.T) {
	o := newFakeOrigin(t, "a.ts\n")
	clock := newFakeClock()
	clock.Advance(900 * time.Millisecond)
	s, _ := openTestSession(t, o, Config{Now: clock.Now}, time.Minute)
	defer s.closeOutput()
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	assert.Equal(t, []string{"a.ts"}, ids(nextBatch(t, s)))

	// First seen at second T; 59.1 s later the clock reads T+60.
	clock.Advance(59*time.Second + 100*time.Millisecond)
	require.NoError(t, s.pollOnce(ctx))
	assert.Equal(t, []string{"a.ts"}, ids(nextBatch(t, s)))

	// Re-claimed at T+60; still held at T+119.9.
	clock.Advance(59*time.Second + 900*time.Millisecond)
	require.NoError(t, s.pollOnce(ctx))
	assertNoBatch(t, s)
}

func TestSession_ClaimsBeforeDownload(t *testing.T) {
	o := newFakeOrigin(t, "a.ts\n")
	o.segStatus["a.ts"] = http.StatusNotFound
	clock := newFakeClock()
	s, out := openTestSession(t, o, Config{Now: clock.Now}, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	s.writeBatch(ctx, nextBatch(t, s))

	// The failed segment is not re-queued inside the window.
	clock.Advance(5 * time.Second)
	require.NoError(t, s.pollOnce(ctx))
	assertNoBatch(t, s)
	s.closeOutput()

	assert.Equal(t, 1, o.hits("a.ts"))
	assert.Empty(t, readFile(t, out))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.SegmentsFailed))
}

func TestSession_BatchOrderIsListOrder(t *testing.T) {
	o := newFakeOrigin(t, "x.ts\ny.ts\nz.ts\n")
	o.segDelay["x.ts"] = 150 * time.Millisecond
	s, out := openTestSession(t, o, Config{}, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	s.writeBatch(ctx, nextBatch(t, s))
	s.closeOutput()

	assert.Equal(t, "x.ts|y.ts|z.ts|", readFile(t, out))
}

func TestSession_SegmentFailureSkipsOnlyThatSegment(t *testing.T) {
	o := newFakeOrigin(t, "x.ts\ny.ts\nz.ts\n")
	o.segStatus["y.ts"] = http.StatusInternalServerError
	s, out := openTestSession(t, o, Config{}, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.pollOnce(ctx))
	s.writeBatch(ctx, nextBatch(t, s))
	s.closeOutput()

	assert.Equal(t, "x.ts|z.ts|", readFile(t, out))
	assert.Equal(t, int64(2), s.Info().Segments)
}

func TestSession_AppendsToExistingFile(t *testing.T) {
	o := newFakeOrigin(t, "seg1.ts\n")
	out := filepath.Join(t.TempDir(), "rec.mp4")
	require.NoError(t, os.WriteFile(out, []byte("earlier|"), 0o644))

	s, err := openSession(context.Background(), "test", testClient(), logger.Nop(), nil, Config{}, o.manifestURL(), time.Minute, out)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.pollOnce(ctx))
	s.writeBatch(ctx, nextBatch(t, s))
	s.closeOutput()

	assert.Equal(t, "earlier|seg1.ts|", readFile(t, out))
}

func TestSession_PollFailureDoesNotStopPolling(t *testing.T) {
	o := newFakeOrigin(t, "seg1.ts\n", "seg1.ts\nseg2.ts\n")
	o.failList(0)
	s, out := openTestSession(t, o, Config{PollInterval: 50 * time.Millisecond}, 400*time.Millisecond)

	started := time.Now()
	require.NoError(t, s.Run(context.Background()))
	elapsed := time.Since(started)

	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, o.listRequests(), 3)
	assert.Equal(t, "seg1.ts|seg2.ts|", readFile(t, out))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Polls.WithLabelValues("error")))
	assert.Equal(t, Stopped, s.State())
}

func TestSession_StopCancelsPollTimerAndClosesFile(t *testing.T) {
	o := newFakeOrigin(t, "seg1.ts\n")
	s, _ := openTestSession(t, o, Config{PollInterval: 20 * time.Millisecond}, 100*time.Millisecond)
	assert.Equal(t, Polling, s.State())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, Stopped, s.State())

	polls := s.Info().Polls
	assert.GreaterOrEqual(t, polls, int64(3))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, polls, s.Info().Polls, "no polls after the session stopped")

	// A request cancelled at stop may still reach the origin late; after
	// that the count must stay put.
	time.Sleep(50 * time.Millisecond)
	settled := o.listRequests()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, o.listRequests())

	_, err := s.out.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestSession_ContextCancelEndsEarly(t *testing.T) {
	o := newFakeOrigin(t, "seg1.ts\n")
	s, _ := openTestSession(t, o, Config{PollInterval: 20 * time.Millisecond}, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, Stopped, s.State())
}

func TestOpenSession_UnresolvableManifest(t *testing.T) {
	o := newFakeOrigin(t)
	out := filepath.Join(t.TempDir(), "never", "rec.mp4")

	_, err := openSession(context.Background(), "test", testClient(), logger.Nop(), nil, Config{}, o.server.URL+"/missing.manifest", time.Minute, out)
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func ids(batch []models.Segment) []string {
	out := make([]string, len(batch))
	for i, s := range batch {
		out[i] = s.ID
	}
	return out
}
