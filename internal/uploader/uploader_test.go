package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian/internal/api"
)

// fakeStore is a stand-in object store accepting presigned part PUTs.
type fakeStore struct {
	mu        sync.Mutex
	parts     map[int][]byte
	putCounts map[int]int
	// failures[n] is how many attempts for part n fail with 500 first.
	failures map[int]int
	// block[n], when set, makes part n PUTs hang until the request context
	// is cancelled.
	block map[int]chan struct{}

	srv *httptest.Server
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	s := &fakeStore{
		parts:     make(map[int][]byte),
		putCounts: make(map[int]int),
		failures:  make(map[int]int),
		block:     make(map[int]chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handlePut))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeStore) url(partNumber int) string {
	return fmt.Sprintf("%s/part?partNumber=%d", s.srv.URL, partNumber)
}

func (s *fakeStore) handlePut(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("partNumber"))

	s.mu.Lock()
	s.putCounts[n]++
	blocker := s.block[n]
	if s.failures[n] > 0 {
		s.failures[n]--
		s.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.mu.Unlock()

	if blocker != nil {
		select {
		case <-r.Context().Done():
			return
		case <-blocker:
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.parts[n] = body
	s.mu.Unlock()

	w.Header().Set("ETag", fmt.Sprintf(`"etag-%d"`, n))
	w.WriteHeader(http.StatusOK)
}

func (s *fakeStore) putCount(partNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCounts[partNumber]
}

func (s *fakeStore) assembled(totalParts int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for n := 1; n <= totalParts; n++ {
		out = append(out, s.parts[n]...)
	}
	return out
}

// fakeCoordinator speaks the coordinator JSON protocol, handing out part
// URLs that point at the fake store.
type fakeCoordinator struct {
	store      *fakeStore
	partSize   int64
	totalParts int
	simple     bool

	mu        sync.Mutex
	completed bool
	aborted   bool
	gotParts  []api.CompletedPart

	srv *httptest.Server
}

func newFakeCoordinator(t *testing.T, store *fakeStore, partSize int64, totalParts int) *fakeCoordinator {
	t.Helper()
	c := &fakeCoordinator{store: store, partSize: partSize, totalParts: totalParts}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/init", c.handleInit)
	mux.HandleFunc("/upload/presign", c.handlePresign)
	mux.HandleFunc("/upload/complete", c.handleComplete)
	mux.HandleFunc("/upload/abort", c.handleAbort)

	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *fakeCoordinator) handleInit(w http.ResponseWriter, r *http.Request) {
	if c.simple {
		writeJSON(w, api.InitResponse{
			UploadType:   api.UploadTypeSimple,
			Key:          "uploads/simple.bin",
			PresignedURL: c.store.url(1),
			FileURL:      "https://store.example.com/uploads/simple.bin",
		})
		return
	}

	parts := make([]api.PresignedPart, 0, c.totalParts)
	for n := 1; n <= c.totalParts; n++ {
		parts = append(parts, api.PresignedPart{PartNumber: n, URL: c.store.url(n)})
	}
	writeJSON(w, api.InitResponse{
		UploadType:     api.UploadTypeMultipart,
		Key:            "uploads/test.bin",
		UploadID:       "upload-1",
		PartSize:       c.partSize,
		TotalParts:     c.totalParts,
		PresignedParts: parts,
	})
}

func (c *fakeCoordinator) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req api.PresignRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	parts := make([]api.PresignedPart, 0, len(req.PartNumbers))
	for _, n := range req.PartNumbers {
		parts = append(parts, api.PresignedPart{PartNumber: n, URL: c.store.url(n)})
	}
	writeJSON(w, api.PresignResponse{PresignedParts: parts})
}

func (c *fakeCoordinator) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	c.mu.Lock()
	c.gotParts = req.Parts
	c.mu.Unlock()

	if len(req.Parts) != c.totalParts {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, api.ErrorResponse{Error: "upload is incomplete", Uploaded: len(req.Parts), Total: c.totalParts})
		return
	}
	for _, p := range req.Parts {
		if p.ETag == "" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, api.ErrorResponse{Error: "part is missing an ETag"})
			return
		}
	}

	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()

	writeJSON(w, api.CompleteResponse{
		Status:     "completed",
		FileURL:    "https://store.example.com/uploads/test.bin",
		Key:        "uploads/test.bin",
		ETag:       `"final-etag"`,
		TotalParts: c.totalParts,
	})
}

func (c *fakeCoordinator) handleAbort(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
	writeJSON(w, map[string]string{"status": "failed"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(serverURL string) Config {
	cfg := DefaultConfig(serverURL)
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	return cfg
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// =============================================================================
// Tests
// =============================================================================

func TestUploader_MultipartSuccess(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 3)

	data := testData(10) // parts of 4, 4, 2 bytes
	u := New(testConfig(coord.srv.URL), zerolog.Nop())

	err := u.Start(context.Background(), NewBytesSource(data), "test.bin", "application/octet-stream")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, u.State())
	require.Equal(t, 1.0, u.Progress())
	require.Equal(t, "https://store.example.com/uploads/test.bin", u.FileURL())
	require.Equal(t, data, store.assembled(3))

	// Every part uploaded exactly once, in any order.
	for n := 1; n <= 3; n++ {
		require.Equal(t, 1, store.putCount(n))
	}
	coord.mu.Lock()
	require.Len(t, coord.gotParts, 3)
	coord.mu.Unlock()
}

func TestUploader_SimpleUpload(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 0, 0)
	coord.simple = true

	data := testData(100)
	u := New(testConfig(coord.srv.URL), zerolog.Nop())

	err := u.Start(context.Background(), NewBytesSource(data), "simple.bin", "application/octet-stream")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, u.State())
	require.Equal(t, "https://store.example.com/uploads/simple.bin", u.FileURL())
	require.Equal(t, data, store.assembled(1))
}

func TestUploader_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 3)

	// Part 2 fails twice before succeeding.
	store.failures[2] = 2

	data := testData(10)
	u := New(testConfig(coord.srv.URL), zerolog.Nop())

	err := u.Start(context.Background(), NewBytesSource(data), "test.bin", "application/octet-stream")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, u.State())
	require.Equal(t, 3, store.putCount(2))
	require.Equal(t, data, store.assembled(3))
}

func TestUploader_FailsAfterRetryExhaustion(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 3)

	cfg := testConfig(coord.srv.URL)
	cfg.MaxRetries = 2
	store.failures[2] = 100 // never succeeds

	u := New(cfg, zerolog.Nop())

	err := u.Start(context.Background(), NewBytesSource(testData(10)), "test.bin", "application/octet-stream")
	require.Error(t, err)
	require.Contains(t, err.Error(), "part 2")
	require.Equal(t, StateFailed, u.State())
	require.Equal(t, 3, store.putCount(2)) // initial attempt + 2 retries

	coord.mu.Lock()
	completed := coord.completed
	coord.mu.Unlock()
	require.False(t, completed)
}

func TestUploader_PauseResume(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 2)

	// Part 2 hangs until released, so the test can pause mid-upload.
	gate := make(chan struct{})
	store.block[2] = gate

	cfg := testConfig(coord.srv.URL)
	cfg.Concurrency = 1 // parts upload in order: 1 then 2

	data := testData(8)
	u := New(cfg, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- u.Start(context.Background(), NewBytesSource(data), "test.bin", "application/octet-stream")
	}()

	// Wait until part 1 finished and part 2 is in flight, then pause.
	require.Eventually(t, func() bool {
		return store.putCount(2) >= 1
	}, 5*time.Second, 5*time.Millisecond)

	u.Pause()
	require.NoError(t, <-done)
	require.Equal(t, StatePaused, u.State())
	require.Equal(t, 0.5, u.Progress())

	// Unblock the store and resume; part 1 must not upload again.
	store.mu.Lock()
	delete(store.block, 2)
	store.mu.Unlock()
	close(gate)

	require.NoError(t, u.Resume(context.Background()))
	require.Equal(t, StateCompleted, u.State())
	require.Equal(t, 1.0, u.Progress())
	require.Equal(t, 1, store.putCount(1))
	require.Equal(t, data, store.assembled(2))
}

func TestUploader_CancelAbortsOnServer(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 2)

	gate := make(chan struct{})
	defer close(gate)
	store.block[1] = gate
	store.block[2] = gate

	u := New(testConfig(coord.srv.URL), zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- u.Start(context.Background(), NewBytesSource(testData(8)), "test.bin", "application/octet-stream")
	}()

	require.Eventually(t, func() bool {
		return store.putCount(1) >= 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, u.Cancel())
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, u.State())

	coord.mu.Lock()
	aborted := coord.aborted
	coord.mu.Unlock()
	require.True(t, aborted)
}

func TestUploader_CancelDiscardsLatePartRecords(t *testing.T) {
	u := New(testConfig("http://127.0.0.1:0"), zerolog.Nop())

	u.mu.Lock()
	u.state = StateUploading
	gen := u.gen
	u.mu.Unlock()

	require.NoError(t, u.Cancel())
	require.Equal(t, StateIdle, u.State())

	// A worker finishing after Cancel still carries the generation of the
	// cancelled run; its record must not leak into the fresh state.
	u.recordPart(gen, 1, `"etag-1"`, 4)

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Empty(t, u.completed)
	require.Zero(t, u.uploaded)
}

func TestUploader_StartWhileBusy(t *testing.T) {
	store := newFakeStore(t)
	coord := newFakeCoordinator(t, store, 4, 2)

	gate := make(chan struct{})
	defer close(gate)
	store.block[1] = gate
	store.block[2] = gate

	u := New(testConfig(coord.srv.URL), zerolog.Nop())

	go func() {
		_ = u.Start(context.Background(), NewBytesSource(testData(8)), "test.bin", "application/octet-stream")
	}()

	require.Eventually(t, func() bool {
		return u.State() == StateUploading
	}, 5*time.Second, 5*time.Millisecond)

	err := u.Start(context.Background(), NewBytesSource(testData(8)), "other.bin", "application/octet-stream")
	require.ErrorIs(t, err, ErrBusy)

	u.Pause()
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{BackoffBase: time.Second, BackoffCap: 30 * time.Second}

	require.Equal(t, 1*time.Second, cfg.backoff(0))
	require.Equal(t, 2*time.Second, cfg.backoff(1))
	require.Equal(t, 4*time.Second, cfg.backoff(2))
	require.Equal(t, 16*time.Second, cfg.backoff(4))
	require.Equal(t, 30*time.Second, cfg.backoff(5))  // capped
	require.Equal(t, 30*time.Second, cfg.backoff(40)) // overflow guard
}
