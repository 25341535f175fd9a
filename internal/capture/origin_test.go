package capture

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeOrigin serves a top-level manifest, a segment list that advances on
// every request, and segment bodies of the form "<id>|".
type fakeOrigin struct {
	mu        sync.Mutex
	lists     []string
	listCalls int
	failLists map[int]bool
	segHits   map[string]int
	segDelay  map[string]time.Duration
	segStatus map[string]int
	order     []string

	server *httptest.Server
}

func newFakeOrigin(t *testing.T, lists ...string) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{
		lists:     lists,
		failLists: map[int]bool{},
		segHits:   map[string]int{},
		segDelay:  map[string]time.Duration{},
		segStatus: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live.manifest", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "#EXTM3U\r\n#EXT-X-STREAM-INF:BANDWIDTH=800000\r\n%s/live/chunklist.m3u8\r\n", o.server.URL)
	})
	mux.HandleFunc("/live/chunklist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		call := o.listCalls
		o.listCalls++
		fail := o.failLists[call]
		body := ""
		if len(o.lists) > 0 {
			idx := call
			if idx >= len(o.lists) {
				idx = len(o.lists) - 1
			}
			body = o.lists[idx]
		}
		o.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:4\n"+body)
	})
	mux.HandleFunc("/live/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/live/")
		o.mu.Lock()
		o.segHits[id]++
		delay := o.segDelay[id]
		status := o.segStatus[id]
		o.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		o.mu.Lock()
		o.order = append(o.order, id)
		o.mu.Unlock()
		fmt.Fprintf(w, "%s|", id)
	})

	o.server = httptest.NewServer(mux)
	t.Cleanup(o.server.Close)
	return o
}

func (o *fakeOrigin) manifestURL() string {
	return o.server.URL + "/live.manifest"
}

func (o *fakeOrigin) hits(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.segHits[id]
}

func (o *fakeOrigin) listRequests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listCalls
}

func (o *fakeOrigin) failList(call int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failLists[call] = true
}

// fakeClock is a manually advanced clock for the deduplication window.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_760_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
