// Package tracker is the coordination nucleus of a research session: agent
// registry, tool-call attribution, event emission, usage and memory
// aggregation, and session finalization. One Tracker is created per request
// and shared by every agent in that session.
package tracker

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

// Role identifies the kind of work an agent performs.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleSearcher     Role = "searcher"
	RoleAnalyzer     Role = "analyzer"
	RoleWriter       Role = "writer"
)

// Status is an agent's lifecycle state. Active transitions exactly once to
// completed or failed.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// OrchestratorID is the top-level agent identifier and the attribution
// fallback when a tool call cannot be tied to any other agent.
const OrchestratorID = "ORCHESTRATOR"

// EventType is the closed set of tracker event kinds. Unrecognized strings
// decode to EventUnknown rather than being dropped.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentCompleted EventType = "agent_completed"
	EventToolStarted    EventType = "tool_started"
	EventToolCompleted  EventType = "tool_completed"
	EventUnknown        EventType = "unknown"
)

// ParseEventType maps a wire string onto the closed event set.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventAgentStarted, EventAgentCompleted, EventToolStarted, EventToolCompleted:
		return EventType(s)
	}
	return EventUnknown
}

// Event is one tracker occurrence, emitted synchronously after the state
// mutation that produced it.
type Event struct {
	Type       EventType       `json:"type"`
	AgentID    string          `json:"agentId"`
	Role       Role            `json:"role,omitempty"`
	Task       string          `json:"task,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Status     Status          `json:"status,omitempty"`
	DurationMS int64           `json:"duration,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ToolCall is one tool invocation attributed to an agent.
type ToolCall struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Success   bool            `json:"success"`
}

// AgentActivity is the full record of one agent within a session.
type AgentActivity struct {
	AgentID   string      `json:"agentId"`
	Role      Role        `json:"role"`
	Task      string      `json:"task"`
	ToolCalls []*ToolCall `json:"toolCalls"`
	StartTime time.Time   `json:"startTime"`
	EndTime   *time.Time  `json:"endTime,omitempty"`
	Status    Status      `json:"status"`
}

// Statistics is a point-in-time aggregate over the agent set. Search calls
// and content fetches are classified by tool-name substring.
type Statistics struct {
	TotalAgents     int `json:"totalAgents"`
	ActiveAgents    int `json:"activeAgents"`
	CompletedAgents int `json:"completedAgents"`
	FailedAgents    int `json:"failedAgents"`
	TotalToolCalls  int `json:"totalToolCalls"`
	SearchCalls     int `json:"searchCalls"`
	ContentFetches  int `json:"contentFetches"`
}

// EnhancedStatistics adds cost totals and the peak memory snapshot.
type EnhancedStatistics struct {
	Statistics
	Costs      CostTotals        `json:"costs"`
	AgentUsage []AgentUsage      `json:"agentUsage"`
	ToolCosts  []ToolCostMetrics `json:"toolCosts"`
	PeakMemory *MemorySnapshot   `json:"peakMemory,omitempty"`
}

// SessionSummary is the finalized view of one session, fed to the session
// report and the archive.
type SessionSummary struct {
	SessionID  string            `json:"sessionId"`
	Topic      string            `json:"topic"`
	Status     Status            `json:"status"`
	StartTime  time.Time         `json:"startTime"`
	EndTime    time.Time         `json:"endTime"`
	Duration   time.Duration     `json:"duration"`
	Agents     []AgentActivity   `json:"agents"`
	Stats      Statistics        `json:"stats"`
	Costs      CostTotals        `json:"costs"`
	AgentUsage []AgentUsage      `json:"agentUsage"`
	ToolCosts  []ToolCostMetrics `json:"toolCosts"`
	PeakMemory *MemorySnapshot   `json:"peakMemory,omitempty"`
	ReportPath string            `json:"reportPath,omitempty"`
}

// ToolStart carries the inputs of preToolUse. AgentID may be empty, in which
// case attribution falls back to the ParentCallID scan.
type ToolStart struct {
	CallID       string
	ToolName     string
	Input        json.RawMessage
	AgentID      string
	ParentCallID string
}

// ToolFinish carries the inputs of postToolUse.
type ToolFinish struct {
	CallID       string
	ToolName     string
	Output       string
	Success      bool
	AgentID      string
	ParentCallID string
}

// Options configures a Tracker.
type Options struct {
	Logger *log.Logger
	// LogDir is where the markdown session report is written. Empty disables
	// the report file.
	LogDir string
	// MemoryInterval is the background sampling period; zero uses the
	// default, negative disables sampling.
	MemoryInterval time.Duration
}

// Tracker is the shared mutable coordination point of one session. All
// operations are safe under concurrent tool executions. Event callbacks run
// synchronously under the tracker's lock and must not call back into it.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	topic     string
	startTime time.Time
	endTime   *time.Time
	status    Status
	agents    map[string]*AgentActivity
	order     []string
	inflight  map[string]*ToolCall
	callbacks []func(Event)
	finalized bool

	usage         *UsageCalculator
	memory        *MemoryMonitor
	logger        *log.Logger
	logDir        string
	sessionReport string
}

// New creates a session-scoped tracker and starts its memory sampler.
func New(sessionID, topic string, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[TRACKER] ", log.LstdFlags)
	}
	t := &Tracker{
		sessionID: sessionID,
		topic:     topic,
		startTime: time.Now(),
		status:    StatusActive,
		agents:    make(map[string]*AgentActivity),
		inflight:  make(map[string]*ToolCall),
		usage:     NewUsageCalculator(),
		memory:    NewMemoryMonitor(opts.MemoryInterval, logger),
		logger:    logger,
		logDir:    opts.LogDir,
	}
	t.memory.Start()
	return t
}

// SessionID returns the session identifier.
func (t *Tracker) SessionID() string { return t.sessionID }

// Topic returns the research topic.
func (t *Tracker) Topic() string { return t.topic }

// OnEvent subscribes a listener. Callbacks fire synchronously, in
// registration order, for every event; one callback's panic is isolated and
// does not block delivery to the others.
func (t *Tracker) OnEvent(fn func(Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// RegisterAgent inserts a new active agent, records its memory baseline and
// emits agent_started.
func (t *Tracker) RegisterAgent(agentID string, role Role, task string) {
	t.memory.RecordAgentStart(agentID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.agents[agentID]; exists {
		t.logger.Printf("agent %s already registered, ignoring", agentID)
		return
	}
	t.agents[agentID] = &AgentActivity{
		AgentID:   agentID,
		Role:      role,
		Task:      task,
		StartTime: time.Now(),
		Status:    StatusActive,
	}
	t.order = append(t.order, agentID)
	t.logger.Printf("agent %s (%s) started: %s", agentID, role, task)
	t.emit(Event{
		Type:      EventAgentStarted,
		AgentID:   agentID,
		Role:      role,
		Task:      task,
		Timestamp: time.Now(),
	})
}

// PreToolUse records the start of a tool call, attributing it per
// InferAgentID, and emits tool_started.
func (t *Tracker) PreToolUse(start ToolStart) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agentID := InferAgentID(start.AgentID, start.ParentCallID, t.activitiesLocked())
	call := &ToolCall{
		ID:        start.CallID,
		ToolName:  start.ToolName,
		Input:     start.Input,
		StartTime: time.Now(),
	}
	t.inflight[start.CallID] = call
	owner, ok := t.agents[agentID]
	if !ok {
		// Attribution fell through to an agent that was never registered.
		// Keep the call in flight so postToolUse can still close it out.
		t.logger.Printf("tool %s attributed to unknown agent %s", start.ToolName, agentID)
	} else {
		owner.ToolCalls = append(owner.ToolCalls, call)
	}
	t.emit(Event{
		Type:      EventToolStarted,
		AgentID:   agentID,
		ToolName:  start.ToolName,
		Input:     start.Input,
		Timestamp: time.Now(),
	})
}

// PostToolUse closes out an in-flight tool call, records a billable tool
// cost when applicable, and emits tool_completed.
func (t *Tracker) PostToolUse(finish ToolFinish) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agentID := InferAgentID(finish.AgentID, finish.ParentCallID, t.activitiesLocked())
	call, ok := t.inflight[finish.CallID]
	if !ok {
		t.logger.Printf("no in-flight tool call %s (%s)", finish.CallID, finish.ToolName)
	} else {
		now := time.Now()
		call.EndTime = &now
		call.Success = finish.Success
		call.Output = finish.Output
		delete(t.inflight, finish.CallID)
	}
	if finish.Success {
		t.usage.TrackToolCost(finish.ToolName)
	}
	success := finish.Success
	t.emit(Event{
		Type:      EventToolCompleted,
		AgentID:   agentID,
		ToolName:  finish.ToolName,
		Success:   &success,
		Timestamp: time.Now(),
	})
}

// CompleteAgent transitions an agent to a terminal status and emits
// agent_completed with its elapsed duration. A second terminal transition
// for the same agent is a no-op.
func (t *Tracker) CompleteAgent(agentID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agent, ok := t.agents[agentID]
	if !ok {
		t.logger.Printf("complete for unknown agent %s", agentID)
		return
	}
	if agent.Status != StatusActive {
		return
	}
	now := time.Now()
	agent.EndTime = &now
	agent.Status = status

	delta := t.memory.RecordAgentEnd(agentID)
	duration := now.Sub(agent.StartTime)
	t.logger.Printf("agent %s %s after %s (%d tool calls, heap delta %+d bytes)",
		agentID, status, duration.Round(time.Millisecond), len(agent.ToolCalls), delta)
	t.emit(Event{
		Type:       EventAgentCompleted,
		AgentID:    agentID,
		Role:       agent.Role,
		Status:     status,
		DurationMS: duration.Milliseconds(),
		Timestamp:  now,
	})
}

// TrackUsage accumulates one model round's token counts and derived cost
// into the agent's usage metrics.
func (t *Tracker) TrackUsage(agentID, model string, inputTokens, outputTokens int64) {
	t.usage.TrackLLMUsage(agentID, model, inputTokens, outputTokens)
}

// Statistics computes the point-in-time aggregate over all agents.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statisticsLocked()
}

// ActiveAgents counts agents of the given role still active. A zero-value
// role counts every active agent.
func (t *Tracker) ActiveAgents(role Role) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.agents {
		if a.Status == StatusActive && (role == "" || a.Role == role) {
			n++
		}
	}
	return n
}

// EnhancedStatistics adds cost totals and the peak memory snapshot.
func (t *Tracker) EnhancedStatistics() EnhancedStatistics {
	t.mu.Lock()
	stats := t.statisticsLocked()
	t.mu.Unlock()
	return EnhancedStatistics{
		Statistics: stats,
		Costs:      t.usage.Totals(),
		AgentUsage: t.usage.AgentBreakdown(),
		ToolCosts:  t.usage.ToolBreakdown(),
		PeakMemory: t.memory.Peak(),
	}
}

// Activities returns deep copies of every agent record in registration
// order.
func (t *Tracker) Activities() []AgentActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AgentActivity, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, copyActivity(t.agents[id]))
	}
	return out
}

// FinalizeSession stops the memory sampler, logs cost and memory summaries,
// writes the markdown session report and returns the session summary.
// Subsequent calls return the first summary unchanged.
func (t *Tracker) FinalizeSession(status Status) SessionSummary {
	t.mu.Lock()
	if t.finalized {
		summary := t.summaryLocked()
		t.mu.Unlock()
		return summary
	}
	t.finalized = true
	now := time.Now()
	t.endTime = &now
	t.status = status
	summary := t.summaryLocked()
	t.mu.Unlock()

	t.memory.Stop()
	t.usage.LogSummary(t.logger, t.sessionID)
	t.memory.LogReport(t.logger)

	if t.logDir != "" {
		path, err := WriteSessionReport(t.logDir, summary)
		if err != nil {
			t.logger.Printf("session report: %v", err)
		} else {
			t.mu.Lock()
			t.sessionReport = path
			t.mu.Unlock()
			summary.ReportPath = path
		}
	}
	t.logger.Printf("session %s finalized: %s in %s", t.sessionID, status, summary.Duration.Round(time.Millisecond))
	return summary
}

// summaryLocked builds the summary snapshot. Callers hold t.mu.
func (t *Tracker) summaryLocked() SessionSummary {
	end := time.Now()
	if t.endTime != nil {
		end = *t.endTime
	}
	agents := make([]AgentActivity, 0, len(t.order))
	for _, id := range t.order {
		agents = append(agents, copyActivity(t.agents[id]))
	}
	return SessionSummary{
		SessionID:  t.sessionID,
		Topic:      t.topic,
		Status:     t.status,
		StartTime:  t.startTime,
		EndTime:    end,
		Duration:   end.Sub(t.startTime),
		Agents:     agents,
		Stats:      t.statisticsLocked(),
		Costs:      t.usage.Totals(),
		AgentUsage: t.usage.AgentBreakdown(),
		ToolCosts:  t.usage.ToolBreakdown(),
		PeakMemory: t.memory.Peak(),
		ReportPath: t.sessionReport,
	}
}

func (t *Tracker) statisticsLocked() Statistics {
	stats := Statistics{}
	for _, a := range t.agents {
		stats.TotalAgents++
		switch a.Status {
		case StatusActive:
			stats.ActiveAgents++
		case StatusCompleted:
			stats.CompletedAgents++
		case StatusFailed:
			stats.FailedAgents++
		}
		for _, call := range a.ToolCalls {
			stats.TotalToolCalls++
			name := strings.ToLower(call.ToolName)
			if strings.Contains(name, "search") {
				stats.SearchCalls++
			}
			if strings.Contains(name, "content") {
				stats.ContentFetches++
			}
		}
	}
	return stats
}

func (t *Tracker) activitiesLocked() []*AgentActivity {
	out := make([]*AgentActivity, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.agents[id])
	}
	return out
}

// emit delivers an event to every subscriber in registration order,
// isolating per-callback panics. Callers hold t.mu, which is what orders
// events strictly after their mutations.
func (t *Tracker) emit(ev Event) {
	for _, fn := range t.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Printf("event callback panicked: %v", r)
				}
			}()
			fn(ev)
		}()
	}
}

// InferAgentID resolves the owner of a tool call: the explicit agent id when
// supplied, otherwise the agent owning the parent tool call, otherwise the
// orchestrator.
func InferAgentID(explicitID, parentCallID string, activities []*AgentActivity) string {
	if explicitID != "" {
		return explicitID
	}
	if parentCallID != "" {
		for _, agent := range activities {
			for _, call := range agent.ToolCalls {
				if call.ID == parentCallID {
					return agent.AgentID
				}
			}
		}
	}
	return OrchestratorID
}

func copyActivity(a *AgentActivity) AgentActivity {
	out := *a
	out.ToolCalls = make([]*ToolCall, len(a.ToolCalls))
	for i, call := range a.ToolCalls {
		c := *call
		out.ToolCalls[i] = &c
	}
	return out
}
