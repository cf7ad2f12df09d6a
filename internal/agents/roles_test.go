package agents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*gateway.Response
	errs      []error
	requests  []gateway.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return &gateway.Response{Blocks: []gateway.ContentBlock{gateway.TextBlock("done")}}, nil
}

type stubProvider struct {
	results []search.Result
}

func (p *stubProvider) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	return p.results, nil
}

func (p *stubProvider) GetContents(ctx context.Context, urls []string, maxChars int) ([]search.Document, error) {
	return nil, nil
}

func (p *stubProvider) FindSimilar(ctx context.Context, url string, numResults int) ([]search.Result, error) {
	return p.results, nil
}

func newTestRuntime(t *testing.T, client gateway.Client) *Runtime {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return &Runtime{
		Gateway: gateway.New(client, gateway.Options{RetryBaseDelay: time.Millisecond}, logger),
		Tools:   search.NewToolset(&stubProvider{results: []search.Result{{Title: "Hit", URL: "https://a"}}}, logger),
		Tracker: tracker.New("sess", "test topic", tracker.Options{Logger: logger, MemoryInterval: -1}),
		Models: ModelRouting{
			Orchestrator: "model-orch", Searcher: "model-search",
			Analyzer: "model-analyze", Writer: "model-write",
		},
		Paths:  NewPaths(t.TempDir()),
		Logger: logger,
	}
}

func agentStatus(t *testing.T, tr *tracker.Tracker, agentID string) tracker.Status {
	t.Helper()
	for _, a := range tr.Activities() {
		if a.AgentID == agentID {
			return a.Status
		}
	}
	t.Fatalf("agent %s not registered", agentID)
	return ""
}

func TestRunSearcherWritesNote(t *testing.T) {
	findings := "## Summary\nQuantum progress is rapid.\n\n## Key Findings\n- qubit counts doubled\n\n## Sources\n- [Nature](https://nature.com)"
	client := &scriptedClient{responses: []*gateway.Response{
		{
			Blocks: []gateway.ContentBlock{
				gateway.ToolUseBlock("c1", search.ToolSearch, json.RawMessage(`{"query":"qubits"}`)),
			},
			Usage: gateway.Usage{InputTokens: 100, OutputTokens: 20},
		},
		{
			Blocks: []gateway.ContentBlock{gateway.TextBlock(findings)},
			Usage:  gateway.Usage{InputTokens: 200, OutputTokens: 150},
		},
	}}
	rt := newTestRuntime(t, client)
	rt.Tracker.RegisterAgent("SEARCHER-1", tracker.RoleSearcher, "Researching: hardware")

	res := RunSearcher(context.Background(), rt, SearcherConfig{
		AgentID:    "SEARCHER-1",
		Subtopic:   "hardware",
		FocusAreas: []string{"qubits", "error correction"},
	})
	if !res.Success {
		t.Fatalf("searcher failed: %s", res.Error)
	}
	if res.OutputPath != rt.Paths.NotePath("SEARCHER-1") {
		t.Fatalf("unexpected note path %s", res.OutputPath)
	}
	note, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if !strings.Contains(string(note), "qubit counts doubled") {
		t.Fatalf("note missing findings:\n%s", note)
	}
	if res.FullFindings != findings {
		t.Fatal("full findings should carry the raw model output")
	}
	if agentStatus(t, rt.Tracker, "SEARCHER-1") != tracker.StatusCompleted {
		t.Fatal("searcher should be completed")
	}

	// Tool call attributed to the searcher, usage tracked on its id.
	stats := rt.Tracker.Statistics()
	if stats.TotalToolCalls != 1 || stats.SearchCalls != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	enhanced := rt.Tracker.EnhancedStatistics()
	if len(enhanced.AgentUsage) != 1 || enhanced.AgentUsage[0].AgentID != "SEARCHER-1" {
		t.Fatalf("unexpected usage attribution: %+v", enhanced.AgentUsage)
	}
	if enhanced.AgentUsage[0].TotalTokens != 470 {
		t.Fatalf("unexpected token total: %+v", enhanced.AgentUsage[0])
	}
}

func TestRunSearcherDegradesOnModelFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("model exploded")}}
	rt := newTestRuntime(t, client)
	rt.Tracker.RegisterAgent("SEARCHER-1", tracker.RoleSearcher, "Researching: x")

	res := RunSearcher(context.Background(), rt, SearcherConfig{AgentID: "SEARCHER-1", Subtopic: "x"})
	if res.Success {
		t.Fatal("expected degraded result")
	}
	if !strings.Contains(res.Summary, "model exploded") {
		t.Fatalf("summary should carry the error, got %q", res.Summary)
	}
	if agentStatus(t, rt.Tracker, "SEARCHER-1") != tracker.StatusFailed {
		t.Fatal("searcher should be marked failed")
	}
}

func TestSummarizeFindings(t *testing.T) {
	long := strings.Repeat("x", 600)
	if got := summarizeFindings(long); len(got) != 500 {
		t.Fatalf("expected 500-char cap, got %d", len(got))
	}
	many := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	if got := summarizeFindings(many); got != "l1\nl2\nl3\nl4\nl5" {
		t.Fatalf("expected first 5 lines, got %q", got)
	}
}

func TestRunAnalyzerExtractsSections(t *testing.T) {
	synthesis := strings.Join([]string{
		"## Key Themes",
		"- theme bullet one",
		"- theme bullet two",
		"not a bullet",
		"- theme bullet three",
		"## Cross-Subtopic Insights",
		"* crossing insight",
		"## Areas of Consensus",
		"- consensus bullet",
	}, "\n")
	client := &scriptedClient{responses: []*gateway.Response{
		{Blocks: []gateway.ContentBlock{gateway.TextBlock(synthesis)}, Usage: gateway.Usage{InputTokens: 50, OutputTokens: 60}},
	}}
	rt := newTestRuntime(t, client)
	for i, note := range []string{"# Note A\n\nfindings a", "# Note B\n\nfindings b"} {
		path := filepath.Join(rt.Paths.NotesDir, []string{"SEARCHER-1.md", "SEARCHER-2.md"}[i])
		if err := os.MkdirAll(rt.Paths.NotesDir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(note), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	rt.Tracker.RegisterAgent("ANALYZER-1", tracker.RoleAnalyzer, "analyze")

	res := RunAnalyzer(context.Background(), rt, AnalyzerConfig{AgentID: "ANALYZER-1", SearcherCount: 2})
	if !res.Success {
		t.Fatalf("analyzer failed: %s", res.Error)
	}
	if res.NotesRead != 2 {
		t.Fatalf("expected 2 notes read, got %d", res.NotesRead)
	}
	if len(res.Insights) != 3 || res.Insights[0] != "theme bullet one" {
		t.Fatalf("unexpected insights: %v", res.Insights)
	}
	if len(res.Themes) != 1 || res.Themes[0] != "crossing insight" {
		t.Fatalf("unexpected themes: %v", res.Themes)
	}
	if _, err := os.Stat(rt.Paths.SynthesisPath()); err != nil {
		t.Fatalf("synthesis artifact missing: %v", err)
	}
	// The combined prompt carries both notes.
	prompt := client.requests[0].Messages[0].Blocks[0].Text
	if !strings.Contains(prompt, "findings a") || !strings.Contains(prompt, "findings b") {
		t.Fatal("prompt missing note content")
	}
}

func TestRunAnalyzerNoNotes(t *testing.T) {
	client := &scriptedClient{}
	rt := newTestRuntime(t, client)
	rt.Tracker.RegisterAgent("ANALYZER-1", tracker.RoleAnalyzer, "analyze")

	res := RunAnalyzer(context.Background(), rt, AnalyzerConfig{AgentID: "ANALYZER-1", SearcherCount: 0})
	if res.Success {
		t.Fatal("expected failure with no notes")
	}
	if agentStatus(t, rt.Tracker, "ANALYZER-1") != tracker.StatusFailed {
		t.Fatal("analyzer should be marked failed")
	}
}

func TestExtractBulletsMissingHeadings(t *testing.T) {
	got := extractBullets("just prose\n- stray bullet", "## Key Themes", "## Cross-Subtopic Insights")
	if len(got) != 0 {
		t.Fatalf("expected empty list for missing headings, got %v", got)
	}
}

func TestExtractBulletsCap(t *testing.T) {
	var lines []string
	lines = append(lines, "## Key Themes")
	for i := 0; i < 15; i++ {
		lines = append(lines, "- bullet")
	}
	lines = append(lines, "## Cross-Subtopic Insights")
	got := extractBullets(strings.Join(lines, "\n"), "## Key Themes", "## Cross-Subtopic Insights")
	if len(got) != maxExtractedBullets {
		t.Fatalf("expected cap of %d, got %d", maxExtractedBullets, len(got))
	}
}

func TestRunWriterComputesMetrics(t *testing.T) {
	report := "# Report\n\n" + strings.Repeat("word ", 100) +
		"[a](https://a.com) [b](http://b.com) plain (not a link)"
	client := &scriptedClient{responses: []*gateway.Response{
		{Blocks: []gateway.ContentBlock{gateway.TextBlock(report)}, Usage: gateway.Usage{InputTokens: 10, OutputTokens: 400}},
	}}
	rt := newTestRuntime(t, client)
	if err := writeArtifact(rt.Paths.SynthesisPath(), "## Key Themes\n- t"); err != nil {
		t.Fatal(err)
	}
	rt.Tracker.RegisterAgent("WRITER-1", tracker.RoleWriter, "write")

	res := RunWriter(context.Background(), rt, WriterConfig{AgentID: "WRITER-1", Topic: "test topic"})
	if !res.Success {
		t.Fatalf("writer failed: %s", res.Error)
	}
	if res.SourceCount != 2 {
		t.Fatalf("expected 2 sources, got %d", res.SourceCount)
	}
	if res.WordCount != len(strings.Fields(report)) {
		t.Fatalf("unexpected word count %d", res.WordCount)
	}
	raw, err := os.ReadFile(rt.Paths.ReportPath())
	if err != nil {
		t.Fatalf("report artifact missing: %v", err)
	}
	if string(raw) != report {
		t.Fatal("report artifact differs from model output")
	}
}

func TestRunWriterSynthesisFallback(t *testing.T) {
	client := &scriptedClient{responses: []*gateway.Response{
		{Blocks: []gateway.ContentBlock{gateway.TextBlock("short report")}},
	}}
	rt := newTestRuntime(t, client)
	rt.Tracker.RegisterAgent("WRITER-1", tracker.RoleWriter, "write")

	res := RunWriter(context.Background(), rt, WriterConfig{AgentID: "WRITER-1", Topic: "t"})
	if !res.Success {
		t.Fatalf("writer failed: %s", res.Error)
	}
	prompt := client.requests[0].Messages[0].Blocks[0].Text
	if !strings.Contains(prompt, synthesisFallback) {
		t.Fatal("expected synthesis fallback in prompt")
	}
}
