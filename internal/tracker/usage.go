package tracker

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// modelPrice is dollars per token, derived from per-million list prices.
type modelPrice struct {
	Input  float64
	Output float64
}

const perMillion = 1_000_000

// Pricing for known model families. Lookup is exact match first, then
// substring containment in either direction, then the default.
var modelPricing = map[string]modelPrice{
	"claude-sonnet-4-5":    {3.00 / perMillion, 15.00 / perMillion},
	"claude-opus-4-1":      {15.00 / perMillion, 75.00 / perMillion},
	"claude-haiku-3-5":     {0.80 / perMillion, 4.00 / perMillion},
	"gpt-4o":               {2.50 / perMillion, 10.00 / perMillion},
	"gpt-4o-mini":          {0.15 / perMillion, 0.60 / perMillion},
	"gemini-3-pro-preview": {1.25 / perMillion, 5.00 / perMillion},
}

// defaultPricingModel covers unknown model names so cost tracking never
// fails on one.
const defaultPricingModel = "gemini-3-pro-preview"

func priceFor(model string) modelPrice {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	for name, p := range modelPricing {
		if strings.Contains(model, name) || strings.Contains(name, model) {
			return p
		}
	}
	return modelPricing[defaultPricingModel]
}

// Billable non-LLM tool pricing, dollars per call.
var toolPricing = map[string]float64{
	"search":        0.50 / 1000,
	"search_papers": 0.50 / 1000,
	"search_news":   0.50 / 1000,
	"find_similar":  0.50 / 1000,
	"get_contents":  3.00 / 1000,
}

// AgentUsage accumulates one agent's token counts and derived cost.
type AgentUsage struct {
	AgentID      string  `json:"agentId"`
	Model        string  `json:"model"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	Cost         float64 `json:"cost"`
}

// ToolCostMetrics accumulates billable calls per tool name.
type ToolCostMetrics struct {
	ToolName  string  `json:"toolName"`
	CallCount int     `json:"callCount"`
	Cost      float64 `json:"cost"`
}

// CostTotals splits session spend into LLM and tool components.
type CostTotals struct {
	LLMCost   float64 `json:"llmCost"`
	ToolCost  float64 `json:"toolCost"`
	TotalCost float64 `json:"totalCost"`
}

// UsageCalculator aggregates LLM token usage and billable tool calls for one
// session. Safe for concurrent use.
type UsageCalculator struct {
	mu         sync.Mutex
	agents     map[string]*AgentUsage
	agentOrder []string
	tools      map[string]*ToolCostMetrics
	toolOrder  []string
}

// NewUsageCalculator builds an empty calculator.
func NewUsageCalculator() *UsageCalculator {
	return &UsageCalculator{
		agents: make(map[string]*AgentUsage),
		tools:  make(map[string]*ToolCostMetrics),
	}
}

// TrackLLMUsage adds one model round's tokens and cost to an agent. Totals
// are additive, so the final figure is independent of call order.
func (c *UsageCalculator) TrackLLMUsage(agentID, model string, inputTokens, outputTokens int64) {
	price := priceFor(model)
	cost := float64(inputTokens)*price.Input + float64(outputTokens)*price.Output

	c.mu.Lock()
	defer c.mu.Unlock()
	usage, ok := c.agents[agentID]
	if !ok {
		usage = &AgentUsage{AgentID: agentID, Model: model}
		c.agents[agentID] = usage
		c.agentOrder = append(c.agentOrder, agentID)
	}
	usage.InputTokens += inputTokens
	usage.OutputTokens += outputTokens
	usage.TotalTokens += inputTokens + outputTokens
	usage.Cost += cost
}

// TrackToolCost records one billable tool call. Non-billable tool names are
// ignored; the return value reports whether the call was billed.
func (c *UsageCalculator) TrackToolCost(toolName string) bool {
	price, ok := toolPricing[toolName]
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics, ok := c.tools[toolName]
	if !ok {
		metrics = &ToolCostMetrics{ToolName: toolName}
		c.tools[toolName] = metrics
		c.toolOrder = append(c.toolOrder, toolName)
	}
	metrics.CallCount++
	metrics.Cost += price
	return true
}

// Totals returns the current spend split.
func (c *UsageCalculator) Totals() CostTotals {
	c.mu.Lock()
	defer c.mu.Unlock()
	var totals CostTotals
	for _, usage := range c.agents {
		totals.LLMCost += usage.Cost
	}
	for _, metrics := range c.tools {
		totals.ToolCost += metrics.Cost
	}
	totals.TotalCost = totals.LLMCost + totals.ToolCost
	return totals
}

// AgentBreakdown returns per-agent usage in first-seen order.
func (c *UsageCalculator) AgentBreakdown() []AgentUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AgentUsage, 0, len(c.agentOrder))
	for _, id := range c.agentOrder {
		out = append(out, *c.agents[id])
	}
	return out
}

// ToolBreakdown returns per-tool billing in first-seen order.
func (c *UsageCalculator) ToolBreakdown() []ToolCostMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolCostMetrics, 0, len(c.toolOrder))
	for _, name := range c.toolOrder {
		out = append(out, *c.tools[name])
	}
	return out
}

// LogSummary prints the end-of-session cost table, most expensive agent
// first.
func (c *UsageCalculator) LogSummary(logger *log.Logger, sessionID string) {
	agents := c.AgentBreakdown()
	tools := c.ToolBreakdown()
	totals := c.Totals()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Cost > agents[j].Cost })

	logger.Printf("session %s cost summary:", sessionID)
	for _, a := range agents {
		logger.Printf("  %-14s %s  in=%d out=%d  $%.4f", a.AgentID, a.Model, a.InputTokens, a.OutputTokens, a.Cost)
	}
	for _, t := range tools {
		logger.Printf("  %-14s %d call(s)  $%.4f", t.ToolName, t.CallCount, t.Cost)
	}
	logger.Printf("  llm $%.4f + tools $%.4f = $%.4f", totals.LLMCost, totals.ToolCost, totals.TotalCost)
}
