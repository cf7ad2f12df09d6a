package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BuildSessionReport renders the human-readable markdown report for one
// finished session: agent table, tool-call breakdown, cost chart and memory
// summary.
func BuildSessionReport(s SessionSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Session %s\n\n", s.SessionID)
	fmt.Fprintf(&b, "**Topic:** %s\n\n", s.Topic)
	fmt.Fprintf(&b, "**Status:** %s  \n", s.Status)
	fmt.Fprintf(&b, "**Started:** %s  \n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Duration:** %s\n\n", formatDuration(s.Duration))

	b.WriteString("## Agents\n\n")
	b.WriteString("| Agent | Role | Status | Duration | Tool Calls | Task |\n")
	b.WriteString("|-------|------|--------|----------|------------|------|\n")
	for _, a := range s.Agents {
		duration := "-"
		if a.EndTime != nil {
			duration = formatDuration(a.EndTime.Sub(a.StartTime))
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
			a.AgentID, a.Role, a.Status, duration, len(a.ToolCalls), sanitizeCell(a.Task))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Tool Activity\n\nTotal tool calls: %d (search %d, content %d)\n\n",
		s.Stats.TotalToolCalls, s.Stats.SearchCalls, s.Stats.ContentFetches)
	if len(s.ToolCosts) > 0 {
		b.WriteString("| Tool | Calls | Cost |\n|------|-------|------|\n")
		for _, t := range s.ToolCosts {
			fmt.Fprintf(&b, "| %s | %d | $%.4f |\n", t.ToolName, t.CallCount, t.Cost)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Costs\n\n")
	if len(s.AgentUsage) > 0 {
		b.WriteString("| Agent | Model | Input | Output | Cost |\n|-------|-------|-------|--------|------|\n")
		for _, u := range s.AgentUsage {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | $%.4f |\n",
				u.AgentID, u.Model, u.InputTokens, u.OutputTokens, u.Cost)
		}
		b.WriteString("\n")
		for _, u := range s.AgentUsage {
			share := 0.0
			if s.Costs.LLMCost > 0 {
				share = u.Cost / s.Costs.LLMCost
			}
			fmt.Fprintf(&b, "%-14s %s %5.1f%%\n", u.AgentID, progressBar(share, 24), share*100)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**LLM:** $%.4f  \n**Tools:** $%.4f  \n**Total:** $%.4f\n\n",
		s.Costs.LLMCost, s.Costs.ToolCost, s.Costs.TotalCost)

	b.WriteString("## Memory\n\n")
	if s.PeakMemory != nil {
		fmt.Fprintf(&b, "Peak heap: %s of %s (rss %s)\n",
			formatBytes(s.PeakMemory.HeapUsed), formatBytes(s.PeakMemory.HeapTotal), formatBytes(s.PeakMemory.RSS))
	} else {
		b.WriteString("No snapshots captured.\n")
	}

	return b.String()
}

// WriteSessionReport writes the report to dir/session_<id>.md, creating the
// directory if needed, and returns the written path.
func WriteSessionReport(dir string, s SessionSummary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session_%s.md", s.SessionID))
	if err := os.WriteFile(path, []byte(BuildSessionReport(s)), 0o644); err != nil {
		return "", fmt.Errorf("write session report: %w", err)
	}
	return path, nil
}

func progressBar(frac float64, width int) string {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
}
