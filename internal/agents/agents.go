// Package agents implements the four research roles. The orchestrator
// drives the session; searcher, analyzer and writer are bounded tasks it
// spawns through model tool calls, all reporting to one shared tracker.
package agents

import (
	"log"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// ModelRouting selects a model and output budget per role.
type ModelRouting struct {
	Orchestrator string
	Searcher     string
	Analyzer     string
	Writer       string

	OrchestratorMaxTokens int
	SearcherMaxTokens     int
	AnalyzerMaxTokens     int
	WriterMaxTokens       int
}

// Paths locates the session's filesystem artifacts.
type Paths struct {
	NotesDir    string
	AnalysisDir string
	ReportsDir  string
}

// NewPaths lays out the artifact directories under one base path.
func NewPaths(base string) Paths {
	return Paths{
		NotesDir:    filepath.Join(base, "research_notes"),
		AnalysisDir: filepath.Join(base, "analysis"),
		ReportsDir:  filepath.Join(base, "reports"),
	}
}

// SynthesisPath is where the analyzer writes its artifact.
func (p Paths) SynthesisPath() string { return filepath.Join(p.AnalysisDir, "synthesis.md") }

// ReportPath is where the writer writes the final report.
func (p Paths) ReportPath() string { return filepath.Join(p.ReportsDir, "final_report.md") }

// NotePath is where a searcher writes its research note.
func (p Paths) NotePath(agentID string) string {
	return filepath.Join(p.NotesDir, agentID+".md")
}

// Runtime bundles the shared dependencies handed to every role.
type Runtime struct {
	Gateway *gateway.Gateway
	Tools   *search.Toolset
	Tracker *tracker.Tracker
	Models  ModelRouting
	Paths   Paths
	Logger  *log.Logger
}

func (rt *Runtime) logf(format string, args ...interface{}) {
	if rt.Logger != nil {
		rt.Logger.Printf(format, args...)
	}
}

// SearcherConfig parameterizes one searcher run.
type SearcherConfig struct {
	AgentID    string
	Subtopic   string
	FocusAreas []string
}

// SearcherResult is always well formed; on failure Summary carries the
// error message and Success is false.
type SearcherResult struct {
	AgentID      string `json:"agent_id"`
	OutputPath   string `json:"output_path,omitempty"`
	Summary      string `json:"summary"`
	FullFindings string `json:"-"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// AnalyzerConfig parameterizes the analyzer run.
type AnalyzerConfig struct {
	AgentID       string
	SearcherCount int
}

// AnalyzerResult carries the synthesis artifact and its extracted bullets.
type AnalyzerResult struct {
	OutputPath string   `json:"output_path,omitempty"`
	NotesRead  int      `json:"notes_read"`
	Insights   []string `json:"insights"`
	Themes     []string `json:"themes"`
	Success    bool     `json:"success"`
	Error      string   `json:"error,omitempty"`
}

// WriterConfig parameterizes the writer run.
type WriterConfig struct {
	AgentID string
	Topic   string
}

// WriterResult carries the final report artifact and its derived metrics.
type WriterResult struct {
	OutputPath  string `json:"output_path,omitempty"`
	WordCount   int    `json:"word_count"`
	SourceCount int    `json:"source_count"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

func writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
