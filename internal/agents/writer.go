package agents

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

const synthesisFallback = "No synthesis available. Write the report directly from the research notes."

// RunWriter produces the final cited report from the synthesis and the raw
// notes, then derives word and source counts from the text.
func RunWriter(ctx context.Context, rt *Runtime, cfg WriterConfig) WriterResult {
	var result WriterResult

	synthesis := synthesisFallback
	if raw, err := os.ReadFile(rt.Paths.SynthesisPath()); err == nil {
		synthesis = string(raw)
	} else {
		rt.logf("writer %s: synthesis missing, using fallback", cfg.AgentID)
	}
	notes, err := readNotes(rt.Paths.NotesDir)
	if err != nil {
		rt.logf("writer %s failed reading notes: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write the final research report on: %s\n\n# Synthesis\n\n%s\n", cfg.Topic, synthesis)
	for i, note := range notes {
		fmt.Fprintf(&prompt, "\n# Research Notes %d\n\n%s\n", i+1, note)
	}

	report, err := rt.Gateway.RunConversation(ctx, gateway.ConversationParams{
		Model:     rt.Models.Writer,
		System:    writerSystemPrompt,
		Prompt:    prompt.String(),
		MaxTokens: rt.Models.WriterMaxTokens,
		OnUsage: func(u gateway.Usage) {
			rt.Tracker.TrackUsage(cfg.AgentID, rt.Models.Writer, u.InputTokens, u.OutputTokens)
		},
	})
	if err != nil {
		rt.logf("writer %s failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}

	path := rt.Paths.ReportPath()
	if err := writeArtifact(path, report); err != nil {
		rt.logf("writer %s report write failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		return result
	}

	rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusCompleted)
	result.Success = true
	result.OutputPath = path
	result.WordCount = len(strings.Fields(report))
	result.SourceCount = strings.Count(report, "](http")
	return result
}
