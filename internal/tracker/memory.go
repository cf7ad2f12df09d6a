package tracker

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	defaultSampleInterval = 10 * time.Second
	maxSnapshots          = 100

	pressureWarn     = 0.75
	pressureCritical = 0.90
)

// MemorySnapshot is one observation of process memory, optionally tagged
// with the agent whose boundary produced it.
type MemorySnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	HeapUsed  uint64    `json:"heapUsed"`
	HeapTotal uint64    `json:"heapTotal"`
	RSS       uint64    `json:"rss"`
	AgentID   string    `json:"agentId,omitempty"`
}

// MemoryMonitor samples process memory in the background and records
// per-agent baselines and deltas. Snapshots are capped at the most recent
// 100.
type MemoryMonitor struct {
	mu        sync.Mutex
	snapshots []MemorySnapshot
	baselines map[string]uint64
	deltas    map[string]int64

	proc     *process.Process
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	logger   *log.Logger
}

// NewMemoryMonitor builds a monitor. interval zero uses the default,
// negative disables background sampling.
func NewMemoryMonitor(interval time.Duration, logger *log.Logger) *MemoryMonitor {
	if interval == 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &MemoryMonitor{
		baselines: make(map[string]uint64),
		deltas:    make(map[string]int64),
		proc:      proc,
		interval:  interval,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
}

// Start launches the background sampler. Harmless when sampling is
// disabled or already running.
func (m *MemoryMonitor) Start() {
	m.mu.Lock()
	if m.started || m.interval < 0 {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Capture("")
			}
		}
	}()
}

// Stop halts the sampler. Safe to call more than once.
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Capture takes one snapshot, tags it with agentID when given, and warns on
// heap pressure.
func (m *MemoryMonitor) Capture(agentID string) MemorySnapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	snap := MemorySnapshot{
		Timestamp: time.Now(),
		HeapUsed:  stats.HeapAlloc,
		HeapTotal: stats.HeapSys,
		AgentID:   agentID,
	}
	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			snap.RSS = info.RSS
		}
	}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	if len(m.snapshots) > maxSnapshots {
		m.snapshots = m.snapshots[len(m.snapshots)-maxSnapshots:]
	}
	m.mu.Unlock()

	if snap.HeapTotal > 0 {
		ratio := float64(snap.HeapUsed) / float64(snap.HeapTotal)
		switch {
		case ratio >= pressureCritical:
			m.logger.Printf("critical memory pressure: heap %.0f%% of %s", ratio*100, formatBytes(snap.HeapTotal))
		case ratio >= pressureWarn:
			m.logger.Printf("high memory pressure: heap %.0f%% of %s", ratio*100, formatBytes(snap.HeapTotal))
		}
	}
	return snap
}

// RecordAgentStart captures a snapshot and stores the agent's heap
// baseline.
func (m *MemoryMonitor) RecordAgentStart(agentID string) {
	snap := m.Capture(agentID)
	m.mu.Lock()
	m.baselines[agentID] = snap.HeapUsed
	m.mu.Unlock()
}

// RecordAgentEnd captures a snapshot and returns the heap delta since the
// agent's baseline. Unknown agents yield zero.
func (m *MemoryMonitor) RecordAgentEnd(agentID string) int64 {
	snap := m.Capture(agentID)
	m.mu.Lock()
	defer m.mu.Unlock()
	baseline, ok := m.baselines[agentID]
	if !ok {
		return 0
	}
	delta := int64(snap.HeapUsed) - int64(baseline)
	m.deltas[agentID] = delta
	return delta
}

// Peak returns the snapshot with the highest heap usage, or nil before any
// capture.
func (m *MemoryMonitor) Peak() *MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var peak *MemorySnapshot
	for i := range m.snapshots {
		if peak == nil || m.snapshots[i].HeapUsed > peak.HeapUsed {
			peak = &m.snapshots[i]
		}
	}
	if peak == nil {
		return nil
	}
	out := *peak
	return &out
}

// AgentDeltas returns the recorded per-agent heap deltas.
func (m *MemoryMonitor) AgentDeltas() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.deltas))
	for id, d := range m.deltas {
		out[id] = d
	}
	return out
}

// LogReport prints the end-of-session memory summary.
func (m *MemoryMonitor) LogReport(logger *log.Logger) {
	peak := m.Peak()
	if peak == nil {
		logger.Printf("memory report: no snapshots captured")
		return
	}
	logger.Printf("memory report: peak heap %s of %s (rss %s)",
		formatBytes(peak.HeapUsed), formatBytes(peak.HeapTotal), formatBytes(peak.RSS))
	for id, delta := range m.AgentDeltas() {
		logger.Printf("  %-14s heap delta %+d bytes", id, delta)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), []string{"KB", "MB", "GB", "TB"}[exp])
}
