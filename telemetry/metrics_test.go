package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersMetrics(t *testing.T) {
	Init()

	if PollDuration == nil {
		t.Error("PollDuration histogram not initialized")
	}
	if AcquireDuration == nil {
		t.Error("AcquireDuration histogram not initialized")
	}
	if ActiveSessions == nil {
		t.Error("ActiveSessions gauge not initialized")
	}
	if PollErrors == nil {
		t.Error("PollErrors counter vec not initialized")
	}

	// Init is idempotent; a second call must not re-register.
	Init()
}

func TestHelpersAreNilSafeBeforeInit(t *testing.T) {
	// Helpers guard against use before Init; none of these should panic even
	// when the underlying metric happens to be registered already.
	SetStoreDegraded(true)
	SetStoreDegraded(false)
	SetActiveSessions(3)
	CountPollError("http")
	CountPollError("lock")
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationContext(t *testing.T) {
	ctx := WithCorrelation(t.Context(), "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if got := GetCorrelation(t.Context()); got != "" {
		t.Errorf("GetCorrelation on bare context = %q, want empty", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
