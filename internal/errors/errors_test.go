package errors

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
)

// captureTransport records events sent through a sentry client
type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *captureTransport) Configure(_ sentry.ClientOptions) {}

func (t *captureTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *captureTransport) Flush(_ time.Duration) bool { return true }

func (t *captureTransport) FlushWithContext(_ context.Context) bool { return true }

func (t *captureTransport) Close() {}

func (t *captureTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func (t *captureTransport) last() *sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.events) == 0 {
		return nil
	}
	return t.events[len(t.events)-1]
}

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != ComponentUnknown {
		t.Errorf("Expected component 'unknown' in fast path, got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' in fast path, got '%s'", ee.Category)
	}
}

func TestBuilderFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("queue full: %d", 3).
		Component("timedqueue").
		Category(CategoryQueue).
		Priority(PriorityHigh).
		Context("capacity", 3).
		Timing("submit_packet", 5*time.Millisecond).
		Build()

	if ee.GetComponent() != "timedqueue" {
		t.Errorf("Expected component 'timedqueue', got '%s'", ee.GetComponent())
	}
	if ee.GetCategory() != string(CategoryQueue) {
		t.Errorf("Expected category %q, got %q", CategoryQueue, ee.GetCategory())
	}
	if ee.GetPriority() != PriorityHigh {
		t.Errorf("Expected priority high, got %q", ee.GetPriority())
	}

	ctx := ee.GetContext()
	if ctx["capacity"] != 3 {
		t.Errorf("Expected capacity context 3, got %v", ctx["capacity"])
	}
	if ctx["operation"] != "submit_packet" {
		t.Errorf("Expected operation context, got %v", ctx["operation"])
	}

	// The returned context is a copy
	ctx["capacity"] = 10
	if ee.GetContext()["capacity"] != 3 {
		t.Error("GetContext must return a copy")
	}
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	if ee.Priority != PriorityMedium {
		t.Errorf("Expected medium priority fallback, got %q", ee.Priority)
	}
}

func TestInvariantError(t *testing.T) {
	ee := Invariant("lockfree", "release of zero count on slot %d", 7)

	if !strings.HasPrefix(ee.Error(), "invariant violated:") {
		t.Errorf("Unexpected message %q", ee.Error())
	}
	if ee.Category != CategoryInvariant {
		t.Errorf("Expected invariant category, got %q", ee.Category)
	}
	if ee.Priority != PriorityCritical {
		t.Errorf("Expected critical priority, got %q", ee.Priority)
	}
	if !IsCategory(ee, CategoryInvariant) {
		t.Error("IsCategory should match wrapped invariant error")
	}
}

func TestIsAndUnwrap(t *testing.T) {
	sentinel := NewStd("sentinel")
	ee := New(sentinel).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("outer: %w", ee)

	if !Is(wrapped, sentinel) {
		t.Error("Is should find the sentinel through the enhanced error")
	}
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should match CategoryNotFound")
	}
	if Unwrap(ee) != sentinel {
		t.Error("Unwrap should return the original error")
	}

	var target *EnhancedError
	if !As(wrapped, &target) || target != ee {
		t.Error("As should extract the enhanced error")
	}

	joined := Join(ee, NewStd("other"))
	if !Is(joined, sentinel) {
		t.Error("Join should preserve the error tree")
	}
}

func TestDetectCategory(t *testing.T) {
	cases := []struct {
		msg       string
		component string
		want      ErrorCategory
	}{
		{"invariant broken", "", CategoryInvariant},
		{"operation timeout", "", CategoryTimeout},
		{"work item cancelled", "", CategoryCancellation},
		{"failed to open file", "decode", CategoryFileIO},
		{"invalid packet size", "", CategoryValidation},
		{"something odd", "scheduler", CategoryScheduler},
		{"something odd", "device", CategoryDevice},
		{"something odd", "elsewhere", CategoryGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.msg+"/"+tc.component, func(t *testing.T) {
			got := detectCategory(NewStd(tc.msg), tc.component)
			if got != tc.want {
				t.Errorf("detectCategory(%q, %q) = %q, want %q", tc.msg, tc.component, got, tc.want)
			}
		})
	}
}

func TestFileContext(t *testing.T) {
	ee := FileError("decode", "read_audio_file", NewStd("read failed"), "/music/song.FLAC", 2048)
	ctx := ee.GetContext()

	if ee.Category != CategoryFileIO {
		t.Errorf("Expected file-io category, got %v", ee.Category)
	}
	if ctx["operation"] != "read_audio_file" {
		t.Errorf("Expected operation context, got %v", ctx["operation"])
	}

	if ctx["file_type"] != "absolute-path" {
		t.Errorf("Expected absolute-path, got %v", ctx["file_type"])
	}
	if ctx["file_extension"] != "flac" {
		t.Errorf("Expected flac extension, got %v", ctx["file_extension"])
	}
	if ctx["file_size_category"] != "small" {
		t.Errorf("Expected small size category, got %v", ctx["file_size_category"])
	}
}

func TestFileErrorMissingFile(t *testing.T) {
	ee := FileError("decode", "open_audio_file", fmt.Errorf("open song.wav: %w", fs.ErrNotExist), "song.wav", 0)

	if !IsNotFound(ee) {
		t.Errorf("Expected not-found category, got %v", ee.Category)
	}
	if ee.GetComponent() != "decode" {
		t.Errorf("Expected decode component, got %v", ee.GetComponent())
	}
	if !Is(ee, fs.ErrNotExist) {
		t.Error("FileError should keep the underlying error")
	}
}

func TestPathScrubbing(t *testing.T) {
	scrubbed := basicPathScrub("cannot open /home/alice/music/a.wav from https://example.com/x?token=abc")

	if strings.Contains(scrubbed, "alice") {
		t.Errorf("User name not scrubbed: %s", scrubbed)
	}
	if strings.Contains(scrubbed, "token=abc") {
		t.Errorf("Query string not scrubbed: %s", scrubbed)
	}
}

func TestSentryReporter(t *testing.T) {
	transport := &captureTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Transport:  transport,
		SampleRate: 1.0,
	})
	if err != nil {
		t.Fatalf("Failed to create sentry client: %v", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())

	reporter := NewSentryReporterWithHub(hub)
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("device lost")).
		Component("device").
		Category(CategoryDevice).
		Context("operation", "start_playback").
		Build()

	if !ee.IsReported() {
		t.Fatal("Error should be marked reported")
	}
	if transport.count() != 1 {
		t.Fatalf("Expected 1 event, got %d", transport.count())
	}

	event := transport.last()
	if event.Level != sentry.LevelWarning {
		t.Errorf("Expected warning level, got %s", event.Level)
	}
	if event.Tags["component"] != "device" {
		t.Errorf("Expected component tag, got %v", event.Tags)
	}
	if len(event.Exception) != 1 || event.Exception[0].Type != "Device Device Error Start Playback" {
		t.Errorf("Unexpected exception title: %+v", event.Exception)
	}

	// Reporting twice must not send again
	reporter.ReportError(ee)
	if transport.count() != 1 {
		t.Errorf("Expected no duplicate event, got %d", transport.count())
	}
}
