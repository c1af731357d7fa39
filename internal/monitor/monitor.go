// Package monitor counts bot activity, logs periodic stats and writes JSON
// diagnostic reports.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/metacards/internal/generation"
)

const reportPrefix = "report_"

// SessionCounter reports live sessions.
type SessionCounter interface {
	Len() int
	CountByState() map[string]int
}

// GenerationStats reports generation client counters.
type GenerationStats interface {
	Stats() generation.Stats
}

// Config controls the background loops.
type Config struct {
	ReportsDir      string
	MetricsInterval time.Duration
	ReportInterval  time.Duration
	ReportRetention time.Duration
}

// Monitor collects counters. The zero value is not usable; use New.
type Monitor struct {
	requests    atomic.Int64
	errors      atomic.Int64
	rateLimited atomic.Int64
	images      atomic.Int64
	genFailures atomic.Int64
	completed   atomic.Int64

	cfg      Config
	sessions SessionCounter
	gen      GenerationStats
	started  time.Time
	now      func() time.Time
	log      *slog.Logger
	wg       sync.WaitGroup
}

// New returns a Monitor. sessions and gen may be nil.
func New(cfg Config, sessions SessionCounter, gen GenerationStats, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		sessions: sessions,
		gen:      gen,
		started:  time.Now(),
		now:      time.Now,
		log:      log,
	}
}

func (m *Monitor) IncRequests()           { m.requests.Add(1) }
func (m *Monitor) IncErrors()             { m.errors.Add(1) }
func (m *Monitor) IncRateLimited()        { m.rateLimited.Add(1) }
func (m *Monitor) IncImages()             { m.images.Add(1) }
func (m *Monitor) IncGenerationFailures() { m.genFailures.Add(1) }
func (m *Monitor) IncCompleted()          { m.completed.Add(1) }

// Snapshot is the state reported in logs, reports and the admin API.
type Snapshot struct {
	Timestamp          time.Time         `json:"timestamp"`
	UptimeSeconds      int64             `json:"uptime_seconds"`
	Requests           int64             `json:"requests"`
	Errors             int64             `json:"errors"`
	ErrorRate          float64           `json:"error_rate"`
	RateLimited        int64             `json:"rate_limited"`
	ImagesGenerated    int64             `json:"images_generated"`
	GenerationFailures int64             `json:"generation_failures"`
	SessionsCompleted  int64             `json:"sessions_completed"`
	SessionsActive     int               `json:"sessions_active"`
	SessionsByState    map[string]int    `json:"sessions_by_state,omitempty"`
	Generation         *generation.Stats `json:"generation,omitempty"`
	Runtime            RuntimeStats      `json:"runtime"`
}

// RuntimeStats describes the process.
type RuntimeStats struct {
	HeapMB     uint64 `json:"heap_mb"`
	SysMB      uint64 `json:"sys_mb"`
	Goroutines int    `json:"goroutines"`
	NumCPU     int    `json:"num_cpu"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Snapshot returns the current counters.
func (m *Monitor) Snapshot() Snapshot {
	now := m.now()
	snap := Snapshot{
		Timestamp:          now.UTC(),
		UptimeSeconds:      int64(now.Sub(m.started).Seconds()),
		Requests:           m.requests.Load(),
		Errors:             m.errors.Load() + m.genFailures.Load(),
		RateLimited:        m.rateLimited.Load(),
		ImagesGenerated:    m.images.Load(),
		GenerationFailures: m.genFailures.Load(),
		SessionsCompleted:  m.completed.Load(),
		Runtime:            runtimeStats(),
	}
	if snap.Requests > 0 {
		snap.ErrorRate = float64(snap.Errors) / float64(snap.Requests) * 100
	}
	if m.sessions != nil {
		snap.SessionsActive = m.sessions.Len()
		snap.SessionsByState = m.sessions.CountByState()
	}
	if m.gen != nil {
		st := m.gen.Stats()
		snap.Generation = &st
	}
	return snap
}

func runtimeStats() RuntimeStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeStats{
		HeapMB:     ms.HeapAlloc / 1024 / 1024,
		SysMB:      ms.Sys / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// WriteReport writes the current snapshot to a new JSON file in the reports
// directory and returns its path.
func (m *Monitor) WriteReport() (string, error) {
	if err := os.MkdirAll(m.cfg.ReportsDir, 0755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	name := reportPrefix + snap.Timestamp.Format("20060102T150405.000Z") + ".json"
	path := filepath.Join(m.cfg.ReportsDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// CleanupReports deletes reports older than the retention period.
func (m *Monitor) CleanupReports() (int, error) {
	entries, err := os.ReadDir(m.cfg.ReportsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read reports directory: %w", err)
	}
	cutoff := m.now().Add(-m.cfg.ReportRetention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), reportPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.cfg.ReportsDir, e.Name())); err != nil {
			m.log.Warn("Failed to remove old report", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// LogStats writes one stats line.
func (m *Monitor) LogStats() {
	s := m.Snapshot()
	attrs := []any{
		"uptime_seconds", s.UptimeSeconds,
		"requests", s.Requests,
		"errors", s.Errors,
		"rate_limited", s.RateLimited,
		"images_generated", s.ImagesGenerated,
		"sessions_active", s.SessionsActive,
		"heap_mb", s.Runtime.HeapMB,
		"goroutines", s.Runtime.Goroutines,
	}
	if s.Generation != nil {
		attrs = append(attrs, "gen_in_flight", s.Generation.InFlight, "gen_waiting", s.Generation.Waiting)
	}
	m.log.Info("Bot stats", attrs...)
}

// Start runs the stats log and report loops until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		metrics := time.NewTicker(positive(m.cfg.MetricsInterval, time.Minute))
		reports := time.NewTicker(positive(m.cfg.ReportInterval, 5*time.Minute))
		defer metrics.Stop()
		defer reports.Stop()
		m.log.Info("Monitor started", "metrics_interval", m.cfg.MetricsInterval, "report_interval", m.cfg.ReportInterval)

		for {
			select {
			case <-metrics.C:
				m.LogStats()
			case <-reports.C:
				if path, err := m.WriteReport(); err != nil {
					m.log.Error("Failed to write report", "error", err)
				} else {
					m.log.Debug("Report written", "path", path)
				}
			case <-ctx.Done():
				m.log.Info("Monitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Wait blocks until the loop started by Start has returned.
func (m *Monitor) Wait() { m.wg.Wait() }

func positive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
