package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

const (
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	defaultMaxTokens      = 4096
)

// ToolExecutor runs one requested tool call and returns its result payload.
// A returned error is fed back to the model as an error-tagged tool result,
// never escalated out of the round.
type ToolExecutor func(ctx context.Context, callID, name string, input json.RawMessage) (string, error)

// ConversationParams describes one tool-calling conversation.
type ConversationParams struct {
	Model     string
	System    string
	Prompt    string
	Tools     []Tool
	MaxTokens int

	// OnToolUse is invoked once per tool_use block the model emits. Required
	// when Tools is non-empty.
	OnToolUse ToolExecutor
	// OnText receives every text block from every round, in order.
	OnText func(text string)
	// OnUsage receives the token counts of every model round.
	OnUsage func(u Usage)
}

// Options tunes retry behavior. Zero values fall back to 3 retries with a 1s
// base delay.
type Options struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Gateway drives tool-calling conversations against a Client.
type Gateway struct {
	client     Client
	maxRetries int
	retryBase  time.Duration
	logger     *log.Logger
	tracer     trace.Tracer
}

// New builds a Gateway over the given backend.
func New(client Client, opts Options, logger *log.Logger) *Gateway {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBaseDelay
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags)
	}
	return &Gateway{
		client:     client,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBaseDelay,
		logger:     logger,
		tracer:     telemetry.Tracer("gateway"),
	}
}

// RunConversation drives one conversation to completion and returns the
// accumulated text of every model round, joined in order. Each round's
// tool_use blocks are executed concurrently; the conversation ends on the
// first round without any.
func (g *Gateway) RunConversation(ctx context.Context, p ConversationParams) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.run_conversation",
		trace.WithAttributes(attribute.String("model", p.Model)))
	defer span.End()

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	history := []Message{{Role: RoleUser, Blocks: []ContentBlock{TextBlock(p.Prompt)}}}

	// Text survives across rounds: findings a model narrates while calling
	// tools belong in the returned transcript.
	var transcript []string

	for round := 1; ; round++ {
		resp, err := g.completeWithRetry(ctx, Request{
			Model:     p.Model,
			System:    p.System,
			Messages:  history,
			Tools:     p.Tools,
			MaxTokens: maxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("model round %d: %w", round, err)
		}
		if p.OnUsage != nil {
			p.OnUsage(resp.Usage)
		}

		var toolUses []ContentBlock
		for _, block := range resp.Blocks {
			switch block.Type {
			case BlockText:
				transcript = append(transcript, block.Text)
				if p.OnText != nil {
					p.OnText(block.Text)
				}
			case BlockToolUse:
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			span.SetAttributes(attribute.Int("rounds", round))
			return strings.Join(transcript, "\n"), nil
		}

		g.logger.Printf("round %d requested %d tool call(s)", round, len(toolUses))
		results := g.executeTools(ctx, toolUses, p.OnToolUse)
		history = append(history,
			Message{Role: RoleAssistant, Blocks: resp.Blocks},
			Message{Role: RoleUser, Blocks: results},
		)
	}
}

// executeTools runs every requested tool call concurrently and waits for all
// of them. A failing executor yields an error-tagged result for its own call
// only.
func (g *Gateway) executeTools(ctx context.Context, toolUses []ContentBlock, exec ToolExecutor) []ContentBlock {
	results := make([]ContentBlock, len(toolUses))
	var wg sync.WaitGroup
	for i, tu := range toolUses {
		wg.Add(1)
		go func(i int, tu ContentBlock) {
			defer wg.Done()
			ctx, span := g.tracer.Start(ctx, "gateway.tool_call",
				trace.WithAttributes(attribute.String("tool", tu.Name)))
			defer span.End()

			if exec == nil {
				results[i] = ToolResultBlock(tu.ID, "Error: no tool executor configured", true)
				return
			}
			out, err := exec(ctx, tu.ID, tu.Name, tu.Input)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				g.logger.Printf("tool %s failed: %v", tu.Name, err)
				results[i] = ToolResultBlock(tu.ID, "Error: "+err.Error(), true)
				return
			}
			results[i] = ToolResultBlock(tu.ID, out, false)
		}(i, tu)
	}
	wg.Wait()
	return results
}

// completeWithRetry calls the backend once per attempt, retrying only
// rate-limit errors with exponential backoff (base, 2x, 4x, ...).
func (g *Gateway) completeWithRetry(ctx context.Context, req Request) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := g.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRateLimit(err) || attempt >= g.maxRetries {
			return nil, err
		}
		delay := g.retryBase << uint(attempt)
		g.logger.Printf("rate limited, retrying in %s (attempt %d/%d)", delay, attempt+1, g.maxRetries)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
