package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

const (
	summaryMaxLines = 5
	summaryMaxChars = 500
	outputCap       = 1000
)

// RunSearcher researches one subtopic with the capability tools and writes
// a markdown note keyed by agent id. Failures never escape: the result
// degrades to an error summary and the agent is marked failed.
func RunSearcher(ctx context.Context, rt *Runtime, cfg SearcherConfig) SearcherResult {
	result := SearcherResult{AgentID: cfg.AgentID}

	prompt := fmt.Sprintf("Research this subtopic: %s", cfg.Subtopic)
	if len(cfg.FocusAreas) > 0 {
		prompt += fmt.Sprintf("\n\nFocus areas:\n- %s", strings.Join(cfg.FocusAreas, "\n- "))
	}

	findings, err := rt.Gateway.RunConversation(ctx, gateway.ConversationParams{
		Model:     rt.Models.Searcher,
		System:    searcherSystemPrompt,
		Prompt:    prompt,
		Tools:     rt.Tools.Definitions(),
		MaxTokens: rt.Models.SearcherMaxTokens,
		OnUsage: func(u gateway.Usage) {
			rt.Tracker.TrackUsage(cfg.AgentID, rt.Models.Searcher, u.InputTokens, u.OutputTokens)
		},
		OnToolUse: func(ctx context.Context, callID, name string, input json.RawMessage) (string, error) {
			rt.Tracker.PreToolUse(tracker.ToolStart{
				CallID:   callID,
				ToolName: name,
				Input:    input,
				AgentID:  cfg.AgentID,
			})
			out, err := rt.Tools.Execute(ctx, name, input)
			output := truncate(out, outputCap)
			if err != nil {
				output = err.Error()
			}
			rt.Tracker.PostToolUse(tracker.ToolFinish{
				CallID:   callID,
				ToolName: name,
				Output:   output,
				Success:  err == nil,
				AgentID:  cfg.AgentID,
			})
			return out, err
		},
	})
	if err != nil {
		rt.logf("searcher %s failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		result.Summary = "Search failed: " + err.Error()
		return result
	}

	note := fmt.Sprintf("# Research Notes: %s\n\n_Agent %s, %s_\n\n%s\n",
		cfg.Subtopic, cfg.AgentID, time.Now().Format("2006-01-02"), findings)
	notePath := rt.Paths.NotePath(cfg.AgentID)
	if err := writeArtifact(notePath, note); err != nil {
		rt.logf("searcher %s note write failed: %v", cfg.AgentID, err)
		rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusFailed)
		result.Error = err.Error()
		result.Summary = "Search failed: " + err.Error()
		return result
	}

	rt.Tracker.CompleteAgent(cfg.AgentID, tracker.StatusCompleted)
	result.Success = true
	result.OutputPath = notePath
	result.FullFindings = findings
	result.Summary = summarizeFindings(findings)
	return result
}

// summarizeFindings keeps the first few lines of the findings, capped at
// 500 characters.
func summarizeFindings(findings string) string {
	lines := strings.Split(findings, "\n")
	if len(lines) > summaryMaxLines {
		lines = lines[:summaryMaxLines]
	}
	return truncate(strings.Join(lines, "\n"), summaryMaxChars)
}
