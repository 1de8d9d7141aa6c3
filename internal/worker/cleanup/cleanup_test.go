package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/landmarket/internal/metrics"
)

type fakeResult struct {
	rowsAffected int64
	err          error
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, r.err }

type execCall struct {
	query string
	args  []interface{}
}

// mockExecutor はExecutorのモック実装。呼び出し順にresultsを返す。
type mockExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	results []sql.Result
	errs    []error
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, execCall{query: query, args: args})
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return &fakeResult{}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockRecorder はRecordCleanupの呼び出しを記録する。
type mockRecorder struct {
	metrics.Nop
	mu       sync.Mutex
	sessions int64
	images   int64
	calls    int
}

func (m *mockRecorder) RecordCleanup(sessions, images int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions += sessions
	m.images += images
	m.calls++
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はJSONログからkeyを持つ最初のエントリを返す。
func findLogEntry(buf *bytes.Buffer, key string) map[string]interface{} {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

func TestNewCleanupJob_Defaults(t *testing.T) {
	job := NewCleanupJob(&mockExecutor{}, slog.Default(), nil)

	if job.ImageRetention != DefaultImageRetention {
		t.Errorf("ImageRetention = %v, want %v", job.ImageRetention, DefaultImageRetention)
	}
	if job.recorder == nil {
		t.Error("recorder should default to Nop")
	}
}

func TestCleanupJob_Run_DeletesSessionsThenImages(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		results: []sql.Result{&fakeResult{rowsAffected: 3}, &fakeResult{rowsAffected: 2}},
	}
	rec := &mockRecorder{}
	job := NewCleanupJob(mock, newTestLogger(&buf), rec)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("ExecContext calls = %d, want 2", len(mock.calls))
	}
	if !strings.Contains(mock.calls[0].query, "DELETE FROM sessions") ||
		!strings.Contains(mock.calls[0].query, "expires_at < now()") {
		t.Errorf("first query = %s", mock.calls[0].query)
	}

	imageQuery := mock.calls[1].query
	if !strings.Contains(imageQuery, "DELETE FROM images") {
		t.Errorf("second query = %s", imageQuery)
	}
	for _, ref := range []string{"unnest(l.images)", "us.avatar_url", "p.avatar_url", "m.image_url"} {
		if !strings.Contains(imageQuery, ref) {
			t.Errorf("orphan query does not check %s", ref)
		}
	}

	if rec.calls != 1 || rec.sessions != 3 || rec.images != 2 {
		t.Errorf("RecordCleanup = (%d, %d) x%d, want (3, 2) x1", rec.sessions, rec.images, rec.calls)
	}

	entry := findLogEntry(&buf, "deleted_sessions")
	if entry == nil {
		t.Fatalf("completion log not found: %s", buf.String())
	}
	if entry["deleted_sessions"] != float64(3) || entry["deleted_images"] != float64(2) {
		t.Errorf("log entry = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("log entry should contain duration_ms")
	}
}

func TestCleanupJob_Run_PassesRetentionInterval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		want      string
	}{
		{24 * time.Hour, "86400 seconds"},
		{90 * time.Minute, "5400 seconds"},
		{1500 * time.Millisecond, "1 seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			mock := &mockExecutor{}
			job := NewCleanupJob(mock, newTestLogger(&buf), nil)
			job.ImageRetention = tt.retention

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(mock.calls) != 2 || len(mock.calls[1].args) != 1 {
				t.Fatalf("calls = %+v", mock.calls)
			}
			if got := mock.calls[1].args[0]; got != tt.want {
				t.Errorf("interval = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanupJob_Run_SessionFailureStopsBeforeImages(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{errs: []error{sql.ErrConnDone}}
	rec := &mockRecorder{}
	job := NewCleanupJob(mock, newTestLogger(&buf), rec)

	err := job.Run(context.Background())
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Run() error = %v, want ErrConnDone", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("ExecContext calls = %d, want 1", len(mock.calls))
	}
	if rec.calls != 0 {
		t.Error("RecordCleanup should not be called on failure")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("expected ERROR log, got: %s", buf.String())
	}
}

func TestCleanupJob_Run_RowsAffectedFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		results: []sql.Result{&fakeResult{}, &fakeResult{err: errors.New("driver does not support RowsAffected")}},
	}
	job := NewCleanupJob(mock, newTestLogger(&buf), nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when RowsAffected fails")
	}
}

func TestCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockExecutor{}, newTestLogger(&buf), nil)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}

	entry := findLogEntry(&buf, "deleted_sessions")
	if entry == nil || entry["deleted_sessions"] != float64(0) {
		t.Errorf("0件でも完了ログを出力すべき: %s", buf.String())
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndOnInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewCleanupJob(mock, newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for mock.callCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if n := mock.callCount(); n < 4 {
		t.Errorf("ExecContext calls = %d, want at least 4 (two runs)", n)
	}
}
