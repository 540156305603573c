package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memRecorder struct {
	mu      sync.Mutex
	results []Result
	fail    bool
}

func (m *memRecorder) Record(_ context.Context, r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("boom")
	}
	m.results = append(m.results, r)
	return nil
}

func (m *memRecorder) snapshot() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}

func TestAsync_WritesQueuedResults(t *testing.T) {
	rec := &memRecorder{}
	a := NewAsync(rec, 8, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Record(Result{RoomID: "r1", Winner: "Alice", Moves: 12})
	a.Record(Result{RoomID: "r2", Winner: "Bob", Moves: 30})

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "Alice", rec.snapshot()[0].Winner)
}

func TestAsync_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	rec := &memRecorder{}
	a := NewAsync(rec, 1, zaptest.NewLogger(t))

	finished := make(chan struct{})
	go func() {
		a.Record(Result{RoomID: "a"})
		a.Record(Result{RoomID: "b"})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	assert.Len(t, a.queue, 1)
}

func TestAsync_DrainsOnShutdown(t *testing.T) {
	rec := &memRecorder{}
	a := NewAsync(rec, 4, zaptest.NewLogger(t))
	a.Record(Result{RoomID: "late"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].RoomID)
}

func TestAsync_RecorderErrorIsLogged(t *testing.T) {
	rec := &memRecorder{fail: true}
	a := NewAsync(rec, 4, zaptest.NewLogger(t))
	a.Record(Result{RoomID: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Empty(t, rec.snapshot())
}

func TestGormStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PUZZLEDUEL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PUZZLEDUEL_TEST_DATABASE_URL not set")
	}

	s, err := OpenPostgres(dsn)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	room := "test-" + now.Format("150405.000")

	require.NoError(t, s.Record(ctx, Result{RoomID: room, Winner: "Alice", Moves: 41, FinishedAt: now}))

	recent, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, recent)
	assert.Equal(t, room, recent[0].RoomID)
	assert.Equal(t, 41, recent[0].Moves)
}
