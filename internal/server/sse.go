package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// doneSentinel terminates every stream, success or failure.
const doneSentinel = "data: [DONE]\n\n"

// sseWriter serializes frames onto one event stream. Tracker callbacks and
// tool executors write from different goroutines, so every write takes the
// lock and flushes before releasing it.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

// send marshals one frame and writes it as a data event. Marshal failures
// are swallowed; a half-written frame would corrupt the stream.
func (s *sseWriter) send(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *sseWriter) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, doneSentinel)
	s.flusher.Flush()
}

// Stream frame shapes, one struct per type discriminant.

// statusFrame opens the stream and closes it on success. The completed
// variant carries the report text and the final session aggregates.
type statusFrame struct {
	Type       string                  `json:"type"`
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Topic      string                  `json:"topic,omitempty"`
	Report     string                  `json:"report,omitempty"`
	Stats      *tracker.Statistics     `json:"stats,omitempty"`
	Activities []tracker.AgentActivity `json:"activities,omitempty"`
}

// agentEventFrame wraps a tracker event for the stream.
type agentEventFrame struct {
	Type  string        `json:"type"`
	Event tracker.Event `json:"event"`
}

// normalizeEvent maps the event kind onto the closed set before it leaves
// the process; a kind the set does not know goes out as unknown rather
// than as a free-form string.
func normalizeEvent(ev tracker.Event) tracker.Event {
	ev.Type = tracker.ParseEventType(string(ev.Type))
	return ev
}

type agentStatsFrame struct {
	Type  string             `json:"type"`
	Stats tracker.Statistics `json:"stats"`
}

type assistantFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type toolUseFrame struct {
	Type      string          `json:"type"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

type toolResultFrame struct {
	Type          string `json:"type"`
	ToolName      string `json:"tool_name"`
	ResultSummary string `json:"result_summary"`
}

// resultFrame carries the model's final text, when it produced one.
type resultFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// summarizeToolResult condenses a tool's raw result payload into the short
// line shown on the stream.
func summarizeToolResult(tool, result string, isError bool) string {
	if isError {
		return firstLine(result)
	}
	switch tool {
	case search.ToolSearch, search.ToolSearchPapers, search.ToolSearchNews:
		if n, ok := resultCount(result); ok {
			return fmt.Sprintf("Found %d results", n)
		}
	case search.ToolGetContents:
		if n, ok := resultCount(result); ok {
			return fmt.Sprintf("Retrieved content from %d source(s)", n)
		}
	case search.ToolFindSimilar:
		if n, ok := resultCount(result); ok {
			return fmt.Sprintf("Found %d similar sources", n)
		}
	case agents.ToolSpawnSearcher:
		var p struct {
			AgentID string `json:"agent_id"`
			Summary string `json:"summary"`
			Success bool   `json:"success"`
		}
		if err := json.Unmarshal([]byte(result), &p); err == nil && p.AgentID != "" {
			if !p.Success {
				return p.AgentID + " failed"
			}
			return p.AgentID + " finished: " + firstLine(p.Summary)
		}
	case agents.ToolSpawnAnalyzer:
		var p struct {
			Insights []string `json:"insights"`
			Success  bool     `json:"success"`
		}
		if err := json.Unmarshal([]byte(result), &p); err == nil && p.Success {
			return fmt.Sprintf("Synthesis complete with %d insights", len(p.Insights))
		}
	case agents.ToolSpawnWriter:
		var p struct {
			WordCount   int  `json:"word_count"`
			SourceCount int  `json:"source_count"`
			Success     bool `json:"success"`
		}
		if err := json.Unmarshal([]byte(result), &p); err == nil && p.Success {
			return fmt.Sprintf("Report written (%d words, %d sources)", p.WordCount, p.SourceCount)
		}
	}
	return "Results received"
}

// resultCount pulls the count field search tool payloads carry.
func resultCount(result string) (int, bool) {
	var p struct {
		Count *int `json:"count"`
	}
	if err := json.Unmarshal([]byte(result), &p); err != nil || p.Count == nil {
		return 0, false
	}
	return *p.Count, true
}

// DecodeFrames reads an event stream and returns the JSON payloads in
// order, plus whether the done sentinel terminated the stream. Non-data
// lines are ignored per the SSE grammar.
func DecodeFrames(r io.Reader) ([]json.RawMessage, bool, error) {
	var frames []json.RawMessage
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return frames, true, nil
		}
		if !json.Valid([]byte(payload)) {
			return frames, false, fmt.Errorf("invalid frame payload: %q", payload)
		}
		frames = append(frames, json.RawMessage(payload))
	}
	return frames, false, scanner.Err()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
