package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.SessionsStarted.Inc()
	m.SessionsCompleted.WithLabelValues("completed").Inc()
	m.AgentsSpawned.WithLabelValues("searcher").Add(3)
	m.ToolCalls.WithLabelValues("web_search", "ok").Add(7)
	m.LLMTokens.WithLabelValues("input").Add(1500)
	m.SessionDuration.Observe(42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"deepresearch_sessions_started_total 1",
		`deepresearch_sessions_completed_total{status="completed"} 1`,
		`deepresearch_agents_spawned_total{role="searcher"} 3`,
		`deepresearch_tool_calls_total{outcome="ok",tool="web_search"} 7`,
		`deepresearch_llm_tokens_total{direction="input"} 1500`,
		"deepresearch_session_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestTracerIsUsableWithoutSDK(t *testing.T) {
	tracer := Tracer("test")
	if tracer == nil {
		t.Fatal("expected a tracer from the global provider")
	}
	_, span := tracer.Start(context.Background(), "op")
	span.End()
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.SessionsStarted.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "deepresearch_sessions_started_total 1") {
		t.Fatal("registries should be independent")
	}
}
