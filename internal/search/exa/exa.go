// Package exa implements search.Provider on top of the Exa search API.
package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/deepresearch/internal/search"
)

const defaultEndpoint = "https://api.exa.ai"

// Client talks to the Exa HTTP API.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *log.Logger
}

// New builds an Exa client. endpoint defaults to the public API when empty.
func New(apiKey, endpoint string, timeout time.Duration, logger *log.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXA] ", log.LstdFlags)
	}
	return &Client{
		apiKey:     apiKey,
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type searchRequest struct {
	Query              string   `json:"query"`
	Type               string   `json:"type,omitempty"`
	Category           string   `json:"category,omitempty"`
	NumResults         int      `json:"numResults,omitempty"`
	IncludeDomains     []string `json:"includeDomains,omitempty"`
	ExcludeDomains     []string `json:"excludeDomains,omitempty"`
	StartPublishedDate string   `json:"startPublishedDate,omitempty"`
}

type contentsRequest struct {
	URLs []string        `json:"urls"`
	Text contentsTextOpt `json:"text"`
}

type contentsTextOpt struct {
	MaxCharacters int `json:"maxCharacters,omitempty"`
}

type findSimilarRequest struct {
	URL        string `json:"url"`
	NumResults int    `json:"numResults,omitempty"`
}

type apiResult struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Author        string  `json:"author"`
	PublishedDate string  `json:"publishedDate"`
	Score         float64 `json:"score"`
	Text          string  `json:"text"`
	Snippet       string  `json:"snippet"`
}

type apiResponse struct {
	Results []apiResult `json:"results"`
}

// Search implements search.Provider.
func (c *Client) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	req := searchRequest{
		Query:              q.Query,
		Type:               q.Type,
		Category:           q.Category,
		NumResults:         q.NumResults,
		IncludeDomains:     q.IncludeDomains,
		ExcludeDomains:     q.ExcludeDomains,
		StartPublishedDate: q.StartPublishedDate,
	}
	var resp apiResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, fmt.Errorf("exa search: %w", err)
	}
	return toResults(resp.Results), nil
}

// GetContents implements search.Provider. Sources the API returns without
// text are fetched directly and run through readability as a fallback.
func (c *Client) GetContents(ctx context.Context, urls []string, maxChars int) ([]search.Document, error) {
	req := contentsRequest{URLs: urls, Text: contentsTextOpt{MaxCharacters: maxChars}}
	var resp apiResponse
	if err := c.post(ctx, "/contents", req, &resp); err != nil {
		return nil, fmt.Errorf("exa contents: %w", err)
	}
	docs := make([]search.Document, 0, len(resp.Results))
	for _, r := range resp.Results {
		doc := search.Document{
			ID:            r.ID,
			Title:         r.Title,
			URL:           r.URL,
			Author:        r.Author,
			PublishedDate: r.PublishedDate,
			Text:          r.Text,
		}
		if doc.Text == "" && doc.URL != "" {
			if text, err := c.extractPage(ctx, doc.URL, maxChars); err == nil {
				doc.Text = text
			} else {
				c.logger.Printf("readability fallback for %s: %v", doc.URL, err)
			}
		}
		if maxChars > 0 && len(doc.Text) > maxChars {
			doc.Text = doc.Text[:maxChars]
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FindSimilar implements search.Provider.
func (c *Client) FindSimilar(ctx context.Context, url string, numResults int) ([]search.Result, error) {
	var resp apiResponse
	if err := c.post(ctx, "/findSimilar", findSimilarRequest{URL: url, NumResults: numResults}, &resp); err != nil {
		return nil, fmt.Errorf("exa find similar: %w", err)
	}
	return toResults(resp.Results), nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractPage fetches a URL and extracts readable article text.
func (c *Client) extractPage(ctx context.Context, pageURL string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	article, err := readability.FromReader(resp.Body, resp.Request.URL)
	if err != nil {
		return "", err
	}
	text := article.TextContent
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

func toResults(in []apiResult) []search.Result {
	out := make([]search.Result, 0, len(in))
	for _, r := range in {
		snippet := r.Snippet
		if snippet == "" && r.Text != "" {
			snippet = r.Text
			if len(snippet) > 300 {
				snippet = snippet[:300]
			}
		}
		out = append(out, search.Result{
			ID:            r.ID,
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       snippet,
			Author:        r.Author,
			PublishedDate: r.PublishedDate,
			Score:         r.Score,
		})
	}
	return out
}
