// Package cleanup runs the periodic sweeps that expire idle sessions and
// remove stale artifacts.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SessionExpirer removes idle sessions and reports whose they were.
type SessionExpirer interface {
	Expire(maxIdle time.Duration) []int64
}

// LimiterSweeper drops rate limit records.
type LimiterSweeper interface {
	Forget(ids ...int64)
	Sweep() int
}

// CacheSweeper drops expired generation cache entries.
type CacheSweeper interface {
	SweepCache(ctx context.Context) (int, error)
}

// ReportCleaner deletes old diagnostic reports.
type ReportCleaner interface {
	CleanupReports() (int, error)
}

// ArchiveCleaner deletes old archived sessions.
type ArchiveCleaner interface {
	CleanupArchive(ctx context.Context, ttl time.Duration) (int64, error)
}

// Config sets intervals and ages.
type Config struct {
	SessionInterval  time.Duration
	IdleTimeout      time.Duration
	ArtifactInterval time.Duration
	TempDir          string
	TempPrefix       string
	TempFileTTL      time.Duration
	ArchiveRetention time.Duration
}

// Deps are the things the scheduler sweeps. Any of them may be nil.
type Deps struct {
	Sessions SessionExpirer
	Limiter  LimiterSweeper
	Cache    CacheSweeper
	Reports  ReportCleaner
	Archive  ArchiveCleaner
}

// Scheduler runs the session sweep and the artifact sweep on independent
// tickers.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time
	g    *errgroup.Group
}

// New returns a Scheduler.
func New(cfg Config, deps Deps, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, deps: deps, log: log, now: time.Now}
}

// Start launches both sweep loops. They stop when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	s.g = g
	g.Go(func() error {
		s.loop(ctx, "session", s.cfg.SessionInterval, func() { s.SweepSessions() })
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, "artifact", s.cfg.ArtifactInterval, func() { s.SweepArtifacts(ctx) })
		return nil
	})
}

// Wait blocks until the loops have stopped.
func (s *Scheduler) Wait() {
	if s.g != nil {
		_ = s.g.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, sweep func()) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.log.Info("Cleanup worker started", "sweep", name, "interval", interval)

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			s.log.Info("Cleanup worker shutting down", "sweep", name, "reason", ctx.Err())
			return
		}
	}
}

// SweepSessions expires idle sessions and the rate limit state that goes
// with them. It returns the number of sessions removed.
func (s *Scheduler) SweepSessions() int {
	var expired []int64
	if s.deps.Sessions != nil {
		expired = s.deps.Sessions.Expire(s.cfg.IdleTimeout)
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Forget(expired...)
		if n := s.deps.Limiter.Sweep(); n > 0 {
			s.log.Debug("Rate limit records swept", "count", n)
		}
	}
	if len(expired) > 0 {
		s.log.Info("Idle sessions expired", "count", len(expired), "idle_timeout", s.cfg.IdleTimeout)
	}
	return len(expired)
}

// ArtifactReport counts what one artifact sweep removed.
type ArtifactReport struct {
	CacheEntries int
	TempFiles    int
	Reports      int
	Archived     int64
}

// SweepArtifacts removes expired cache entries, stale temp files, old
// reports and old archived sessions. A failure in one part does not stop
// the others.
func (s *Scheduler) SweepArtifacts(ctx context.Context) ArtifactReport {
	var r ArtifactReport
	if s.deps.Cache != nil {
		n, err := s.deps.Cache.SweepCache(ctx)
		if err != nil {
			s.log.Warn("Cache sweep failed", "error", err)
		}
		r.CacheEntries = n
	}

	r.TempFiles = s.sweepTempFiles()

	if s.deps.Reports != nil {
		n, err := s.deps.Reports.CleanupReports()
		if err != nil {
			s.log.Warn("Report cleanup failed", "error", err)
		}
		r.Reports = n
	}

	if s.deps.Archive != nil && s.cfg.ArchiveRetention > 0 {
		n, err := s.deps.Archive.CleanupArchive(ctx, s.cfg.ArchiveRetention)
		if err != nil {
			s.log.Warn("Archive cleanup failed", "error", err)
		}
		r.Archived = n
	}

	if r != (ArtifactReport{}) {
		s.log.Info("Artifacts cleaned up",
			"cache_entries", r.CacheEntries,
			"temp_files", r.TempFiles,
			"reports", r.Reports,
			"archived_sessions", r.Archived)
	}
	return r
}

func (s *Scheduler) sweepTempFiles() int {
	if s.cfg.TempDir == "" || s.cfg.TempFileTTL <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("Temp dir not readable", "dir", s.cfg.TempDir, "error", err)
		}
		return 0
	}
	cutoff := s.now().Add(-s.cfg.TempFileTTL)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), s.cfg.TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.TempDir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
