package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeProvider struct {
	lastQuery   Query
	lastURLs    []string
	lastSimilar string
	results     []Result
	documents   []Document
	err         error
}

func (f *fakeProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	f.lastQuery = q
	return f.results, f.err
}

func (f *fakeProvider) GetContents(ctx context.Context, urls []string, maxChars int) ([]Document, error) {
	f.lastURLs = urls
	return f.documents, f.err
}

func (f *fakeProvider) FindSimilar(ctx context.Context, url string, numResults int) ([]Result, error) {
	f.lastSimilar = url
	return f.results, f.err
}

func TestToolsetDefinitions(t *testing.T) {
	ts := NewToolset(&fakeProvider{}, nil)
	defs := ts.Definitions()
	if len(defs) != 5 {
		t.Fatalf("expected 5 tool definitions, got %d", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if d.InputSchema["type"] != "object" {
			t.Fatalf("tool %s schema is not an object", d.Name)
		}
	}
	for _, want := range []string{ToolSearch, ToolGetContents, ToolFindSimilar, ToolSearchPapers, ToolSearchNews} {
		if !names[want] {
			t.Fatalf("missing tool %s", want)
		}
		if !IsCapability(want) {
			t.Fatalf("%s should be a capability tool", want)
		}
	}
	if IsCapability("spawn_searcher") {
		t.Fatal("spawn tools are not capability tools")
	}
}

func TestExecuteSearch(t *testing.T) {
	provider := &fakeProvider{results: []Result{
		{Title: "Go", URL: "https://go.dev", Snippet: "the language"},
		{Title: "Gopher", URL: "https://go.dev/blog"},
	}}
	ts := NewToolset(provider, nil)

	out, err := ts.Execute(context.Background(), ToolSearch, json.RawMessage(`{"query":"golang","num_results":2}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.lastQuery.Query != "golang" || provider.lastQuery.NumResults != 2 {
		t.Fatalf("unexpected query: %+v", provider.lastQuery)
	}
	var payload resultsPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Count != 2 || payload.Results[0].URL != "https://go.dev" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestExecuteSearchNewsAppliesDateFloor(t *testing.T) {
	provider := &fakeProvider{}
	ts := NewToolset(provider, nil)

	if _, err := ts.Execute(context.Background(), ToolSearchNews, json.RawMessage(`{"query":"ai","days_back":3}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.lastQuery.Category != "news" {
		t.Fatalf("expected news category, got %q", provider.lastQuery.Category)
	}
	floor, err := time.Parse("2006-01-02", provider.lastQuery.StartPublishedDate)
	if err != nil {
		t.Fatalf("parse date floor: %v", err)
	}
	if age := time.Since(floor); age < 2*24*time.Hour || age > 4*24*time.Hour {
		t.Fatalf("date floor %s not ~3 days back", provider.lastQuery.StartPublishedDate)
	}
}

func TestExecuteSearchPapersSetsCategory(t *testing.T) {
	provider := &fakeProvider{}
	ts := NewToolset(provider, nil)
	if _, err := ts.Execute(context.Background(), ToolSearchPapers, json.RawMessage(`{"query":"transformers"}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.lastQuery.Category != "research paper" {
		t.Fatalf("expected research paper category, got %q", provider.lastQuery.Category)
	}
	if provider.lastQuery.NumResults != defaultNumResults {
		t.Fatalf("expected default num results, got %d", provider.lastQuery.NumResults)
	}
}

func TestExecuteGetContents(t *testing.T) {
	provider := &fakeProvider{documents: []Document{{Title: "Doc", URL: "https://a", Text: "body"}}}
	ts := NewToolset(provider, nil)

	out, err := ts.Execute(context.Background(), ToolGetContents, json.RawMessage(`{"urls":["https://a"]}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var payload documentsPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Count != 1 || payload.Documents[0].Text != "body" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(provider.lastURLs) != 1 || provider.lastURLs[0] != "https://a" {
		t.Fatalf("unexpected urls: %v", provider.lastURLs)
	}
}

func TestExecuteValidation(t *testing.T) {
	ts := NewToolset(&fakeProvider{}, nil)

	cases := []struct {
		name  string
		input string
	}{
		{ToolSearch, `{}`},
		{ToolGetContents, `{"urls":[]}`},
		{ToolFindSimilar, `{}`},
		{ToolSearchPapers, `{}`},
		{ToolSearchNews, `{}`},
		{"bogus_tool", `{}`},
	}
	for _, tc := range cases {
		if _, err := ts.Execute(context.Background(), tc.name, json.RawMessage(tc.input)); err == nil {
			t.Fatalf("expected error for %s with input %s", tc.name, tc.input)
		}
	}

	if _, err := ts.Execute(context.Background(), ToolSearch, json.RawMessage(`not json`)); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
