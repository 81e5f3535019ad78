package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://tracker.archiveteam.org/fotopedia", "tracker.archiveteam.org"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := grabItemsTotal
	Init()

	if first == nil || grabItemsTotal != first {
		t.Fatal("Init() did not keep a single set of collectors")
	}
}

func TestObserverItemFinished(t *testing.T) {
	obs := NewObserver()

	released := grabItemsTotal.WithLabelValues(string(item.StateReleased), "")
	failed := grabItemsTotal.WithLabelValues(string(item.StateFailed), "fetch")
	beforeReleased := testutil.ToFloat64(released)
	beforeFailed := testutil.ToFloat64(failed)
	beforeBytes := testutil.ToFloat64(grabContainerBytesTotal)

	obs.ItemFinished(item.Outcome{State: item.StateReleased, Bytes: 2048})
	obs.ItemFinished(item.Outcome{State: item.StateFailed, FailedStage: "fetch", Bytes: 99})

	if got := testutil.ToFloat64(released) - beforeReleased; got != 1 {
		t.Errorf("released delta = %f; want 1", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFailed; got != 1 {
		t.Errorf("failed delta = %f; want 1", got)
	}
	if got := testutil.ToFloat64(grabContainerBytesTotal) - beforeBytes; got != 2048 {
		t.Errorf("bytes delta = %f; want 2048", got)
	}
}

func TestObserverStageFinished(t *testing.T) {
	obs := NewObserver()
	obs.StageFinished("annotate", 5*time.Millisecond, nil)
	obs.StageFinished("annotate", time.Second, errors.New("boom"))

	if n := testutil.CollectAndCount(grabStageDurationSeconds); n < 2 {
		t.Errorf("expected ok and error series, got %d", n)
	}
}

func TestFetchExitAndGauges(t *testing.T) {
	Init()
	counter := grabFetchExitsTotal.WithLabelValues("8")
	before := testutil.ToFloat64(counter)
	ObserveFetchExit(8)
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("exit 8 delta = %f; want 1", got)
	}

	SetDeliveriesInFlight(3)
	if got := testutil.ToFloat64(grabDeliveriesInFlight); got != 3 {
		t.Errorf("in-flight = %f; want 3", got)
	}

	ObserveRateLimitDelay("http://tracker.example/request", 2*time.Second)
	if n := testutil.CollectAndCount(grabRateLimitDelaysSeconds); n < 1 {
		t.Error("expected a rate limit delay series")
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://fotopedia.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
