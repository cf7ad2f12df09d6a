package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

type researchRequest struct {
	Topic string `json:"topic"`
}

// handleResearch runs one research session and streams it back. Once the
// stream has started, failures surface as error frames rather than HTTP
// status codes.
func (s *Server) handleResearch(c echo.Context) error {
	var req researchRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Topic) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Topic is required"})
	}
	topic := strings.TrimSpace(req.Topic)

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Streaming unsupported"})
	}

	sessionID := uuid.NewString()
	base := filepath.Join(s.cfg.Storage.File.DataDir, "sessions", sessionID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		s.logger.Printf("session %s workspace: %v", sessionID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to start research"})
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	stream := newSSEWriter(resp, flusher)
	s.runSession(c.Request().Context(), sessionID, topic, base, stream)
	return nil
}

// runSession drives one orchestrated session onto the stream and archives
// the outcome. It always terminates the stream with the done sentinel.
func (s *Server) runSession(ctx context.Context, sessionID, topic, base string, stream *sseWriter) {
	s.metrics.SessionsStarted.Inc()
	s.logger.Printf("session %s started: %s", sessionID, topic)

	stream.send(statusFrame{
		Type:    "status",
		Status:  "started",
		Message: "Research started",
		Topic:   topic,
	})

	tr := tracker.New(sessionID, topic, tracker.Options{
		Logger: s.logger,
		LogDir: s.cfg.Storage.File.LogDir,
	})
	tr.OnEvent(func(ev tracker.Event) {
		stream.send(agentEventFrame{Type: "agent_event", Event: normalizeEvent(ev)})
		switch ev.Type {
		case tracker.EventAgentStarted:
			s.metrics.AgentsSpawned.WithLabelValues(string(ev.Role)).Inc()
		case tracker.EventToolCompleted:
			outcome := "error"
			if ev.Success != nil && *ev.Success {
				outcome = "ok"
			}
			s.metrics.ToolCalls.WithLabelValues(ev.ToolName, outcome).Inc()
		}
	})

	rt := &agents.Runtime{
		Gateway: s.gateway,
		Tools:   s.tools,
		Tracker: tr,
		Models:  s.models,
		Paths:   agents.NewPaths(base),
		Logger:  s.logger,
	}
	orch := agents.NewOrchestrator(rt)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.SessionDeadline)
	defer cancel()

	err := orch.Run(ctx, topic, func(m agents.StreamMessage) {
		switch m.Type {
		case agents.MessageAssistant:
			stream.send(assistantFrame{Type: "assistant", Content: m.Content})
		case agents.MessageToolUse:
			stream.send(toolUseFrame{Type: "tool_use", ToolName: m.ToolName, ToolInput: m.ToolInput})
		case agents.MessageToolResult:
			stream.send(toolResultFrame{
				Type:          "tool_result",
				ToolName:      m.ToolName,
				ResultSummary: summarizeToolResult(m.ToolName, m.Result, m.IsError),
			})
			stream.send(agentStatsFrame{Type: "agent_stats", Stats: tr.Statistics()})
		case agents.MessageComplete:
			stream.send(resultFrame{Type: "result", Content: m.Content})
		}
	})

	status := tracker.StatusCompleted
	if err != nil {
		status = tracker.StatusFailed
		s.logger.Printf("session %s failed: %v", sessionID, err)
		stream.send(errorFrame{Type: "error", Error: "Research failed: " + err.Error()})
	}

	summary := tr.FinalizeSession(status)
	if err == nil {
		report := "Error: final report could not be read"
		if raw, rerr := os.ReadFile(rt.Paths.ReportPath()); rerr == nil {
			report = string(raw)
		} else {
			s.logger.Printf("session %s report read: %v", sessionID, rerr)
		}
		stream.send(statusFrame{
			Type:       "status",
			Status:     "completed",
			Message:    "Research completed",
			Topic:      topic,
			Report:     report,
			Stats:      &summary.Stats,
			Activities: summary.Agents,
		})
	}
	s.metrics.SessionsCompleted.WithLabelValues(string(status)).Inc()
	s.metrics.SessionDuration.Observe(summary.Duration.Seconds())
	if s.cfg.Telemetry.CostTracking {
		s.metrics.SessionCost.Observe(summary.Costs.TotalCost)
		for _, u := range summary.AgentUsage {
			s.metrics.LLMTokens.WithLabelValues("input").Add(float64(u.InputTokens))
			s.metrics.LLMTokens.WithLabelValues("output").Add(float64(u.OutputTokens))
		}
	}

	// The request context may already be canceled; archiving gets its own.
	actx, acancel := store.Timeout(context.Background(), 10*time.Second)
	defer acancel()
	if err := s.archive.Save(actx, summary); err != nil {
		s.logger.Printf("session %s archive: %v", sessionID, err)
	}

	stream.done()
}
