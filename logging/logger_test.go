package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/c0deZ3R0/fieldsync/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			var buf bytes.Buffer
			config.Output = &buf
			logger := NewLogger(config)

			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))

			testErr := errors.NewStorageError(errors.OpPersist, fmt.Errorf("disk full"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("queue"))
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				Operation("drain"),
				Component("synckit"),
				func() error {
					time.Sleep(time.Millisecond)
					return nil
				},
			)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if !strings.Contains(buf.String(), "Child logger message") {
				t.Errorf("expected child logger output, got %q", buf.String())
			}
		})
	}
}

func TestLogErrorIncludesSyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.LogError(context.Background(), errors.NewNetworkError(errors.OpSend, fmt.Errorf("dial tcp")), "send failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	group, ok := entry["sync_error"].(map[string]any)
	if !ok {
		t.Fatalf("sync_error group missing: %v", entry)
	}
	if group["code"] != string(errors.ErrCodeNetworkFailure) {
		t.Errorf("code = %v", group["code"])
	}
	if group["retryable"] != true {
		t.Errorf("retryable = %v", group["retryable"])
	}
}

func TestDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	config := Config{
		Level:  "info",
		Format: "text",
		Output: &buf,
	}

	logger, levelVar := NewLoggerWithDynamicLevel(config)

	logger.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug line written at info level")
	}

	if !levelVar.SetFromString("debug") {
		t.Fatal("SetFromString(debug) = false")
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatal("debug line missing after level change")
	}

	if levelVar.SetFromString("loud") {
		t.Error("SetFromString accepted an unknown level")
	}
}

func TestSyncErrorValuer(t *testing.T) {
	syncErr := &errors.SyncError{
		Op:        errors.OpDrain,
		Component: "test",
		Code:      errors.ErrCodeStorageFailure,
		Kind:      errors.KindInternal,
		Err:       fmt.Errorf("underlying error"),
		Retryable: true,
		Metadata: map[string]interface{}{
			"retry_count": 3,
		},
	}

	valuer := SyncErrorValuer{SyncError: syncErr}
	logValue := valuer.LogValue()

	if logValue.Kind() != slog.KindGroup {
		t.Errorf("Expected group value, got %v", logValue.Kind())
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_FORMAT", "")

	cfg := GetConfigFromEnv()
	if cfg.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if cfg.AddSource {
		t.Error("AddSource should be off in production")
	}
}

func BenchmarkLogger(b *testing.B) {
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &bytes.Buffer{}})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.InfoContext(ctx, "Benchmark message",
			slog.String("operation", "benchmark"),
			slog.Int("iteration", i),
		)
	}
}
