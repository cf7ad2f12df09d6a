package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

const maxExtractedBullets = 10

// RunAnalyzer reads every research note, synthesizes them in one model call
// without tools, writes the synthesis artifact and extracts headline
// insights and themes from it.
func RunAnalyzer(ctx context.Context, rt *Runtime, cfg AnalyzerConfig) AnalyzerResult {
	result := AnalyzerResult{Insights: []string{}, Themes: []string{}}

	notes, err := readNotes(rt.Paths.NotesDir)
	if err != nil {
		rt.logf("analyzer %s failed reading notes: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}
	result.NotesRead = len(notes)
	if len(notes) == 0 {
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = "no research notes found"
		return result
	}

	var combined strings.Builder
	fmt.Fprintf(&combined, "Synthesize the research notes of %d searcher(s) below.\n", cfg.SearcherCount)
	for _, note := range notes {
		fmt.Fprintf(&combined, "\n---\n\n%s\n", note)
	}

	synthesis, err := rt.Gateway.RunConversation(ctx, gateway.ConversationParams{
		Model:     rt.Models.Analyzer,
		System:    analyzerSystemPrompt,
		Prompt:    combined.String(),
		MaxTokens: rt.Models.AnalyzerMaxTokens,
		OnUsage: func(u gateway.Usage) {
			rt.Tracker.TrackUsage(cfg.AgentID, rt.Models.Analyzer, u.InputTokens, u.OutputTokens)
		},
	})
	if err != nil {
		rt.logf("analyzer %s failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}

	path := rt.Paths.SynthesisPath()
	if err := writeArtifact(path, synthesis); err != nil {
		rt.logf("analyzer %s synthesis write failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}

	rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusCompleted)
	result.Success = true
	result.OutputPath = path
	result.Insights = extractBullets(synthesis, "## Key Themes", "## Cross-Subtopic Insights")
	result.Themes = extractBullets(synthesis, "## Cross-Subtopic Insights", "## Areas of Consensus")
	return result
}

// readNotes returns the content of every note in the directory, in file
// name order. A missing directory means zero notes, not an error.
func readNotes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read notes dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	notes := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read note %s: %w", name, err)
		}
		notes = append(notes, string(raw))
	}
	return notes, nil
}

// extractBullets collects the bullet lines between two headings, capped at
// 10. Absent headings yield an empty list rather than an error.
func extractBullets(content, startHeading, endHeading string) []string {
	bullets := []string{}
	inSection := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, startHeading) {
			inSection = true
			continue
		}
		if inSection && strings.HasPrefix(trimmed, endHeading) {
			break
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			bullets = append(bullets, strings.TrimSpace(trimmed[2:]))
			if len(bullets) == maxExtractedBullets {
				break
			}
		}
	}
	return bullets
}
