// Package scheduler runs the periodic portfolio cycle: every active session
// gets its positions re-checked against the current limits and a fresh
// snapshot, then system metrics are recorded.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/coordination"
	"github.com/Aidin1998/pincex_fno/internal/database"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Portfolio is the part of *portfolio.Aggregator the cycle drives.
type Portfolio interface {
	Reevaluate(ctx context.Context, actor model.Actor, sessionID uuid.UUID, limits config.RiskLimits) ([]models.RiskEvent, error)
	Snapshot(ctx context.Context, actor model.Actor, sessionID uuid.UUID, limits config.RiskLimits) (*models.PortfolioSnapshot, error)
}

// Drainer flushes notifications left in the inbox by an earlier failure.
type Drainer interface {
	DrainInbox(ctx context.Context) (int, error)
}

// Report summarizes one cycle.
type Report struct {
	Skipped          bool
	SessionsChecked  int
	SessionsFailed   int
	RiskEventsRaised int
	Drained          int
	Duration         time.Duration
}

// Scheduler runs cycles on a fixed interval while this node is leader.
type Scheduler struct {
	store     *repository.Store
	portfolio Portfolio
	limits    config.LimitsSource
	elector   coordination.Elector
	drainer   Drainer
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	lastRun   time.Time
	lastTotal int64
	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
	running   bool
}

// New creates a scheduler. elector and drainer may be nil.
func New(store *repository.Store, portfolio Portfolio, limits config.LimitsSource, elector coordination.Elector,
	drainer Drainer, interval time.Duration, logger *zap.Logger) *Scheduler {
	if elector == nil {
		elector = coordination.AlwaysLeader{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:     store,
		portfolio: portfolio,
		limits:    limits,
		elector:   elector,
		drainer:   drainer,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs cycles in the background until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedWg.Add(1)
	go s.loop(ctx, s.stopCh)
}

// Stop waits for the running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.stoppedWg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.stoppedWg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.RunCycle(ctx); err != nil {
				s.logger.Error("Scheduler cycle failed", zap.Error(err))
			}
		}
	}
}

// RunCycle performs one cycle. A failing session is logged and skipped; only
// failures that affect the whole cycle are returned.
func (s *Scheduler) RunCycle(ctx context.Context) (*Report, error) {
	report := &Report{}
	if !s.elector.IsLeader() {
		report.Skipped = true
		return report, nil
	}
	start := time.Now()

	if s.drainer != nil {
		n, err := s.drainer.DrainInbox(ctx)
		report.Drained = n
		if err != nil {
			s.logger.Warn("Inbox drain incomplete", zap.Int("applied", n), zap.Error(err))
		}
	}

	limits, err := s.limits.Limits(ctx)
	if err != nil {
		return report, err
	}
	sessions, err := s.store.Reader().ListActiveSessions(ctx)
	if err != nil {
		return report, err
	}

	for _, session := range sessions {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.SessionsChecked++
		raised, err := s.portfolio.Reevaluate(ctx, model.ActorScheduler, session.ID, limits)
		if err == nil {
			report.RiskEventsRaised += len(raised)
			_, err = s.portfolio.Snapshot(ctx, model.ActorScheduler, session.ID, limits)
		}
		if err != nil {
			report.SessionsFailed++
			s.logger.Error("Session cycle failed",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
	}

	report.Duration = time.Since(start)
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	database.ReportPoolStats(s.store.DB())
	if err := s.recordSystemMetrics(ctx, report); err != nil {
		s.logger.Warn("Failed to record system metrics", zap.Error(err))
	}

	s.logger.Info("Scheduler cycle completed",
		zap.Int("sessions", report.SessionsChecked),
		zap.Int("failed", report.SessionsFailed),
		zap.Int("risk_events", report.RiskEventsRaised),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *Scheduler) recordSystemMetrics(ctx context.Context, report *Report) error {
	reader := s.store.Reader()
	active, total, err := reader.CountOrders(ctx)
	if err != nil {
		return err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := time.Now().UTC()

	s.mu.Lock()
	rate := 0.0
	if !s.lastRun.IsZero() {
		if elapsed := now.Sub(s.lastRun).Seconds(); elapsed > 0 {
			rate = float64(total-s.lastTotal) / elapsed
		}
	}
	s.lastRun, s.lastTotal = now, total
	s.mu.Unlock()

	return reader.InsertSystemMetric(ctx, &models.SystemMetric{
		MemoryUsageMB:   float64(mem.Sys) / (1 << 20),
		HeapInUseMB:     float64(mem.HeapInuse) / (1 << 20),
		Goroutines:      runtime.NumGoroutine(),
		OrdersPerSecond: rate,
		ActiveOrders:    active,
		TotalOrders:     total,
		SessionsChecked: report.SessionsChecked,
		CycleDurationMs: report.Duration.Milliseconds(),
		RecordedAt:      now,
	})
}
