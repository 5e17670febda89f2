package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
	"github.com/c0deZ3R0/fieldsync/mutation"
	"github.com/c0deZ3R0/fieldsync/synckit"
)

var rejected = mutation.Task{
	ID:           "t-1",
	Method:       mutation.Patch,
	ResourcePath: "/visits/42",
	RetryCount:   2,
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, Log{Logger: logger}.Report(context.Background(), rejected, "visit is closed"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "t-1", line["task_id"])
	assert.Equal(t, "/visits/42", line["path"])
	assert.Equal(t, "visit is closed", line["detail"])
	assert.EqualValues(t, 2, line["retry_count"])
}

func TestHTTPReporterPostsReport(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	var got Report
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, WithToken("secret"), WithClock(func() time.Time { return at }))
	require.NoError(t, h.Report(context.Background(), rejected, "visit is closed"))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, Report{
		TaskID:     "t-1",
		Method:     mutation.Patch,
		Path:       "/visits/42",
		Detail:     "visit is closed",
		RetryCount: 2,
		ReportedAt: at,
	}, got)
}

func TestHTTPReporterErrors(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	err := NewHTTP(srv.URL).Report(context.Background(), rejected, "x")
	assert.True(t, syncErrors.IsRetryable(err))
	assert.False(t, syncErrors.IsRejected(err))
	assert.Equal(t, http.StatusServiceUnavailable, syncErrors.StatusCode(err))

	code.Store(http.StatusBadRequest)
	err = NewHTTP(srv.URL).Report(context.Background(), rejected, "x")
	assert.True(t, syncErrors.IsRejected(err))
	assert.False(t, syncErrors.IsRetryable(err))
	assert.Equal(t, http.StatusBadRequest, syncErrors.StatusCode(err))

	srv.Close()
	err = NewHTTP(srv.URL, WithHTTPClient(&http.Client{Timeout: time.Second})).Report(context.Background(), rejected, "x")
	assert.True(t, syncErrors.IsNetwork(err))
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls []string
	ok := synckit.ReporterFunc(func(_ context.Context, task mutation.Task, detail string) error {
		calls = append(calls, "ok:"+task.ID)
		return nil
	})
	boom := errors.New("boom")
	bad := synckit.ReporterFunc(func(context.Context, mutation.Task, string) error {
		calls = append(calls, "bad")
		return boom
	})

	err := Multi{ok, nil, bad}.Report(context.Background(), rejected, "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok:t-1", "bad"}, calls)
	assert.NoError(t, Multi{ok}.Report(context.Background(), rejected, "x"))
}
