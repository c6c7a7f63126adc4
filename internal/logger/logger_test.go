package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newConsoleLogger(t *testing.T, level string) (*CentralLogger, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: level,
		Console:      &ConsoleOutput{Enabled: true, Level: level},
	}, WithConsoleWriter(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl, buf
}

func TestNewCentralLoggerRejectsNilConfig(t *testing.T) {
	_, err := NewCentralLogger(nil)
	assert.Error(t, err)
}

func TestNewCentralLoggerInvalidTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestModuleLoggerLevels(t *testing.T) {
	testCases := []struct {
		name       string
		level      string
		logFunc    func(l Logger)
		wantOutput bool
	}{
		{"debug suppressed at info", "info", func(l Logger) { l.Debug("probe") }, false},
		{"info shown at info", "info", func(l Logger) { l.Info("probe") }, true},
		{"warn shown at info", "info", func(l Logger) { l.Warn("probe") }, true},
		{"trace suppressed at debug", "debug", func(l Logger) { l.Trace("probe") }, false},
		{"trace shown at trace", "trace", func(l Logger) { l.Trace("probe") }, true},
		{"error always shown", "error", func(l Logger) { l.Error("probe") }, true},
		{"explicit level honoured", "warn", func(l Logger) { l.Log(LogLevelInfo, "probe") }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cl, buf := newConsoleLogger(t, tc.level)
			tc.logFunc(cl.Module("test"))
			assert.Equal(t, tc.wantOutput, strings.Contains(buf.String(), "probe"), buf.String())
		})
	}
}

func TestConsoleOutputFormat(t *testing.T) {
	cl, buf := newConsoleLogger(t, "trace")
	log := cl.Module("scheduler").Module("worker")

	log.Info("item done",
		String("item", "decode"),
		Int("worker", 2),
		Float64("ratio", 0.123456),
		Duration("elapsed", 1500*time.Microsecond),
		Bool("cancelled", false))
	log.Trace("trace line")

	out := buf.String()
	assert.Contains(t, out, "module=scheduler.worker")
	assert.Contains(t, out, "item=decode")
	assert.Contains(t, out, "worker=2")
	assert.Contains(t, out, "ratio=0.123")
	assert.Contains(t, out, "elapsed=1.5ms")
	assert.Contains(t, out, "level=TRACE")
	assert.NotContains(t, out, "time=")
}

func TestWithAccumulatesFields(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info")
	base := cl.Module("sound")
	voice := base.With(String("voice_id", "v1"))

	voice.Info("playing")
	base.Info("unscoped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "voice_id=v1")
	assert.NotContains(t, lines[1], "voice_id")
}

func TestWithContextTraceID(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info")
	log := cl.Module("device")

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("opened")
	log.WithContext(context.Background()).Info("plain")

	out := buf.String()
	assert.Contains(t, out, "trace_id=abc-123")
	assert.Equal(t, 1, strings.Count(out, "trace_id"))
}

func TestErrorField(t *testing.T) {
	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, os.ErrClosed.Error(), Error(os.ErrClosed).Value)
	assert.Equal(t, "error", Error(nil).Key)
}

func TestFileOutputJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
	})
	require.NoError(t, err)

	cl.Module("timedqueue").Debug("packet dropped", Int64("end_tick", 400))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "packet dropped", entry["msg"])
	assert.Equal(t, "timedqueue", entry["module"])
	assert.EqualValues(t, 400, entry["end_tick"])
	assert.True(t, strings.HasSuffix(entry["time"].(string), "Z"), "timestamp should be UTC RFC3339")
}

func TestModuleOutputRouting(t *testing.T) {
	dir := t.TempDir()
	modulePath := filepath.Join(dir, "device.log")
	buf := &syncBuffer{}

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
		ModuleOutputs: map[string]ModuleOutput{
			"device": {Enabled: true, FilePath: modulePath, Level: "debug"},
		},
	}, WithConsoleWriter(buf))
	require.NoError(t, err)

	cl.Module("device").Debug("routed to file")
	cl.Module("sound").Info("routed to console")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(modulePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "routed to file")
	assert.NotContains(t, buf.String(), "routed to file")
	assert.Contains(t, buf.String(), "routed to console")
}

func TestConcurrentLogging(t *testing.T) {
	cl, buf := newConsoleLogger(t, "info")
	log := cl.Module("bench")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 50 {
				log.Info("tick", Int("goroutine", i), Int("n", j))
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 400, strings.Count(buf.String(), "msg=tick"))
}

func TestGlobalFallback(t *testing.T) {
	g := Global()
	require.NotNil(t, g)
	assert.NotNil(t, g.Module("fallback"))
	assert.Same(t, g, Global())
}
