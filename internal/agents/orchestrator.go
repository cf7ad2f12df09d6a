package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// Spawn tool names the orchestrator model can call.
const (
	ToolSpawnSearcher = "spawn_searcher"
	ToolSpawnAnalyzer = "spawn_analyzer"
	ToolSpawnWriter   = "spawn_writer"
)

// Stream message types the orchestrator emits toward the transport.
const (
	MessageAssistant  = "assistant"
	MessageToolUse    = "tool_use"
	MessageToolResult = "tool_result"
	MessageComplete   = "complete"
)

// StreamMessage is one unit of orchestrator output interleaved with tracker
// events on the client stream.
type StreamMessage struct {
	Type      string
	Content   string
	ToolName  string
	ToolInput json.RawMessage
	Result    string
	IsError   bool
}

// Orchestrator is the top-level session driver. The role runners are
// replaceable for tests.
type Orchestrator struct {
	rt          *Runtime
	runSearcher func(context.Context, *Runtime, SearcherConfig) SearcherResult
	runAnalyzer func(context.Context, *Runtime, AnalyzerConfig) AnalyzerResult
	runWriter   func(context.Context, *Runtime, WriterConfig) WriterResult
	tracer      trace.Tracer
	searcherSeq atomic.Int64
}

// NewOrchestrator builds an orchestrator over the shared runtime.
func NewOrchestrator(rt *Runtime) *Orchestrator {
	return &Orchestrator{
		rt:          rt,
		runSearcher: RunSearcher,
		runAnalyzer: RunAnalyzer,
		runWriter:   RunWriter,
		tracer:      telemetry.Tracer("agents"),
	}
}

// Run executes one full research session. Sub-agent failures degrade; an
// unrecovered failure of the orchestrator's own conversation marks it
// failed and is returned to the caller.
func (o *Orchestrator) Run(ctx context.Context, topic string, emit func(StreamMessage)) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()

	if emit == nil {
		emit = func(StreamMessage) {}
	}

	o.rt.Tracker.RegisterAgent(tracker.OrchestratorID, tracker.RoleOrchestrator, "Coordinating research: "+topic)

	final, err := o.rt.Gateway.RunConversation(ctx, gateway.ConversationParams{
		Model:     o.rt.Models.Orchestrator,
		System:    orchestratorSystemPrompt,
		Prompt:    "Research this topic and produce a cited report: " + topic,
		Tools:     o.toolDefinitions(),
		MaxTokens: o.rt.Models.OrchestratorMaxTokens,
		OnText: func(text string) {
			emit(StreamMessage{Type: MessageAssistant, Content: text})
		},
		OnUsage: func(u gateway.Usage) {
			o.rt.Tracker.TrackUsage(tracker.OrchestratorID, o.rt.Models.Orchestrator, u.InputTokens, u.OutputTokens)
		},
		OnToolUse: func(ctx context.Context, callID, name string, input json.RawMessage) (string, error) {
			return o.executeSpawn(ctx, callID, name, input, emit)
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.rt.Tracker.CompleteAgent(tracker.OrchestratorID, tracker.StatusFailed)
		return fmt.Errorf("orchestrator conversation: %w", err)
	}

	o.rt.Tracker.CompleteAgent(tracker.OrchestratorID, tracker.StatusCompleted)
	emit(StreamMessage{Type: MessageComplete, Content: final})
	return nil
}

func (o *Orchestrator) toolDefinitions() []gateway.Tool {
	return []gateway.Tool{
		{
			Name:        ToolSpawnSearcher,
			Description: "Spawn a searcher agent to research one subtopic with web search tools. Call once per subtopic, all in the same turn so they run in parallel.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent_id": map[string]interface{}{"type": "string", "description": "Unique id for the searcher, e.g. SEARCHER-1"},
					"subtopic": map[string]interface{}{"type": "string", "description": "The subtopic to research"},
					"focus_areas": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "2-4 specific angles to cover",
					},
				},
				"required": []string{"agent_id", "subtopic"},
			},
		},
		{
			Name:        ToolSpawnAnalyzer,
			Description: "Spawn the analyzer to cross-reference all research notes into a synthesis. Only call after every searcher has returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"searcher_count": map[string]interface{}{"type": "integer", "description": "How many searchers were spawned"},
				},
				"required": []string{"searcher_count"},
			},
		},
		{
			Name:        ToolSpawnWriter,
			Description: "Spawn the writer to produce the final cited report. Only call after the analyzer has returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"topic": map[string]interface{}{"type": "string", "description": "The original research topic"},
				},
				"required": []string{"topic"},
			},
		},
	}
}

// executeSpawn wraps one spawn tool call with tracker hooks and stream
// messages. The returned error is fed back to the model as an error result
// by the gateway; it never aborts the conversation.
func (o *Orchestrator) executeSpawn(ctx context.Context, callID, name string, input json.RawMessage, emit func(StreamMessage)) (string, error) {
	o.rt.Tracker.PreToolUse(tracker.ToolStart{
		CallID:   callID,
		ToolName: name,
		Input:    input,
		AgentID:  tracker.OrchestratorID,
	})
	emit(StreamMessage{Type: MessageToolUse, ToolName: name, ToolInput: input})

	out, err := o.dispatch(ctx, name, input)
	output := out
	if err != nil {
		output = err.Error()
	}
	o.rt.Tracker.PostToolUse(tracker.ToolFinish{
		CallID:   callID,
		ToolName: name,
		Output:   truncate(output, outputCap),
		Success:  err == nil,
		AgentID:  tracker.OrchestratorID,
	})
	emit(StreamMessage{Type: MessageToolResult, ToolName: name, Result: output, IsError: err != nil})
	return out, err
}

func (o *Orchestrator) dispatch(ctx context.Context, name string, input json.RawMessage) (string, error) {
	switch name {
	case ToolSpawnSearcher:
		var args struct {
			AgentID    string   `json:"agent_id"`
			Subtopic   string   `json:"subtopic"`
			FocusAreas []string `json:"focus_areas"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.Subtopic == "" {
			return "", fmt.Errorf("%s requires a subtopic", name)
		}
		if args.AgentID == "" {
			args.AgentID = fmt.Sprintf("SEARCHER-%d", o.searcherSeq.Add(1))
		}
		// The sub-agent is registered before it runs so every tool call it
		// makes already has an owner.
		o.rt.Tracker.RegisterAgent(args.AgentID, tracker.RoleSearcher, "Researching: "+args.Subtopic)
		res := o.runSearcher(ctx, o.rt, SearcherConfig{
			AgentID:    args.AgentID,
			Subtopic:   args.Subtopic,
			FocusAreas: args.FocusAreas,
		})
		return marshalPayload(res)

	case ToolSpawnAnalyzer:
		var args struct {
			SearcherCount int `json:"searcher_count"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if active := o.rt.Tracker.ActiveAgents(tracker.RoleSearcher); active > 0 {
			return "", fmt.Errorf("cannot analyze yet: %d searcher(s) still active", active)
		}
		o.rt.Tracker.RegisterAgent("ANALYZER-1", tracker.RoleAnalyzer, "Cross-referencing research notes")
		res := o.runAnalyzer(ctx, o.rt, AnalyzerConfig{
			AgentID:       "ANALYZER-1",
			SearcherCount: args.SearcherCount,
		})
		return marshalPayload(res)

	case ToolSpawnWriter:
		var args struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("parse %s input: %w", name, err)
		}
		if args.Topic == "" {
			args.Topic = o.rt.Tracker.Topic()
		}
		if active := o.rt.Tracker.ActiveAgents(tracker.RoleAnalyzer); active > 0 {
			return "", fmt.Errorf("cannot write yet: analyzer still active")
		}
		o.rt.Tracker.RegisterAgent("WRITER-1", tracker.RoleWriter, "Writing report: "+args.Topic)
		res := o.runWriter(ctx, o.rt, WriterConfig{AgentID: "WRITER-1", Topic: args.Topic})
		return marshalPayload(res)
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func marshalPayload(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}
