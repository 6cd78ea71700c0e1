package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterMetricsCounts(t *testing.T) {
	t.Parallel()

	recorder := NewCounterMetrics()
	recorder.Increment("auth.login.success")
	recorder.Increment("auth.login.success")
	if recorder.Count("auth.login.success") != 2 {
		t.Fatalf("expected 2, got %d", recorder.Count("auth.login.success"))
	}
	if recorder.Count("auth.login.failure") != 0 {
		t.Fatalf("expected unseen event to be zero")
	}
}

func TestPrometheusRecorderExposesEvents(t *testing.T) {
	t.Parallel()

	recorder := NewPrometheusRecorder()
	recorder.Increment("users.delete.success")

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()

	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer func() { _ = response.Body.Close() }()
	body, _ := io.ReadAll(response.Body)
	if !strings.Contains(string(body), `tusers_events_total{event="users.delete.success"} 1`) {
		t.Fatalf("expected event counter in exposition, got %s", body)
	}
}
