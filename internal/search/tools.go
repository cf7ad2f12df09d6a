package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
)

// Tool names exposed to the model.
const (
	ToolSearch       = "search"
	ToolGetContents  = "get_contents"
	ToolFindSimilar  = "find_similar"
	ToolSearchPapers = "search_papers"
	ToolSearchNews   = "search_news"
)

const (
	defaultNumResults = 5
	defaultMaxChars   = 3000
	defaultNewsDays   = 7
)

// Toolset adapts a Provider into gateway tool schemas and executors.
type Toolset struct {
	provider Provider
	logger   *log.Logger
}

// NewToolset wraps a provider.
func NewToolset(provider Provider, logger *log.Logger) *Toolset {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Toolset{provider: provider, logger: logger}
}

// Definitions returns the five capability tool schemas.
func (t *Toolset) Definitions() []gateway.Tool {
	return []gateway.Tool{
		{
			Name:        ToolSearch,
			Description: "Search the web for sources on a query. Returns ranked results with titles, URLs and snippets.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":                stringProp("The search query"),
				"type":                 enumProp("Search mode", "auto", "neural", "keyword"),
				"category":             stringProp("Optional content category filter"),
				"num_results":          intProp("Number of results to return (default 5)"),
				"include_domains":      stringArrayProp("Restrict results to these domains"),
				"exclude_domains":      stringArrayProp("Exclude results from these domains"),
				"start_published_date": stringProp("Only include sources published after this ISO date"),
			}, "query"),
		},
		{
			Name:        ToolGetContents,
			Description: "Retrieve the full text content of one or more result URLs.",
			InputSchema: objectSchema(map[string]interface{}{
				"urls":           stringArrayProp("URLs or result ids to fetch"),
				"max_characters": intProp("Maximum characters of text per source (default 3000)"),
			}, "urls"),
		},
		{
			Name:        ToolFindSimilar,
			Description: "Find sources similar to a known URL.",
			InputSchema: objectSchema(map[string]interface{}{
				"url":         stringProp("The reference URL"),
				"num_results": intProp("Number of similar sources to return (default 5)"),
			}, "url"),
		},
		{
			Name:        ToolSearchPapers,
			Description: "Search academic papers and research publications.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":       stringProp("The research query"),
				"num_results": intProp("Number of papers to return (default 5)"),
			}, "query"),
		},
		{
			Name:        ToolSearchNews,
			Description: "Search recent news articles.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":       stringProp("The news query"),
				"days_back":   intProp("How many days back to search (default 7)"),
				"num_results": intProp("Number of articles to return (default 5)"),
			}, "query"),
		},
	}
}

// IsCapability reports whether name is one of the five search tools.
func IsCapability(name string) bool {
	switch name {
	case ToolSearch, ToolGetContents, ToolFindSimilar, ToolSearchPapers, ToolSearchNews:
		return true
	}
	return false
}

type searchArgs struct {
	Query              string   `json:"query"`
	Type               string   `json:"type"`
	Category           string   `json:"category"`
	NumResults         int      `json:"num_results"`
	IncludeDomains     []string `json:"include_domains"`
	ExcludeDomains     []string `json:"exclude_domains"`
	StartPublishedDate string   `json:"start_published_date"`
}

type contentsArgs struct {
	URLs          []string `json:"urls"`
	MaxCharacters int      `json:"max_characters"`
}

type similarArgs struct {
	URL        string `json:"url"`
	NumResults int    `json:"num_results"`
}

type newsArgs struct {
	Query      string `json:"query"`
	DaysBack   int    `json:"days_back"`
	NumResults int    `json:"num_results"`
}

type resultsPayload struct {
	Count   int      `json:"count"`
	Results []Result `json:"results"`
}

type documentsPayload struct {
	Count     int        `json:"count"`
	Documents []Document `json:"documents"`
}

// Execute runs one capability tool and returns its JSON result payload.
func (t *Toolset) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case ToolSearch:
		var args searchArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.Query == "" {
			return "", fmt.Errorf("%s requires a query", name)
		}
		results, err := t.provider.Search(ctx, Query{
			Query:              args.Query,
			Type:               args.Type,
			Category:           args.Category,
			NumResults:         orDefault(args.NumResults, defaultNumResults),
			IncludeDomains:     args.IncludeDomains,
			ExcludeDomains:     args.ExcludeDomains,
			StartPublishedDate: args.StartPublishedDate,
		})
		if err != nil {
			return "", err
		}
		return marshalResults(results)

	case ToolGetContents:
		var args contentsArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if len(args.URLs) == 0 {
			return "", fmt.Errorf("%s requires at least one url", name)
		}
		docs, err := t.provider.GetContents(ctx, args.URLs, orDefault(args.MaxCharacters, defaultMaxChars))
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(documentsPayload{Count: len(docs), Documents: docs})
		if err != nil {
			return "", fmt.Errorf("marshal documents: %w", err)
		}
		return string(out), nil

	case ToolFindSimilar:
		var args similarArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.URL == "" {
			return "", fmt.Errorf("%s requires a url", name)
		}
		results, err := t.provider.FindSimilar(ctx, args.URL, orDefault(args.NumResults, defaultNumResults))
		if err != nil {
			return "", err
		}
		return marshalResults(results)

	case ToolSearchPapers:
		var args searchArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.Query == "" {
			return "", fmt.Errorf("%s requires a query", name)
		}
		results, err := t.provider.Search(ctx, Query{
			Query:      args.Query,
			Category:   "research paper",
			NumResults: orDefault(args.NumResults, defaultNumResults),
		})
		if err != nil {
			return "", err
		}
		return marshalResults(results)

	case ToolSearchNews:
		var args newsArgs
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.Query == "" {
			return "", fmt.Errorf("%s requires a query", name)
		}
		days := orDefault(args.DaysBack, defaultNewsDays)
		results, err := t.provider.Search(ctx, Query{
			Query:              args.Query,
			Category:           "news",
			NumResults:         orDefault(args.NumResults, defaultNumResults),
			StartPublishedDate: time.Now().AddDate(0, 0, -days).Format("2006-01-02"),
		})
		if err != nil {
			return "", err
		}
		return marshalResults(results)
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func marshalResults(results []Result) (string, error) {
	out, err := json.Marshal(resultsPayload{Count: len(results), Results: results})
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(out), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func enumProp(desc string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc, "enum": values}
}

func stringArrayProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}
