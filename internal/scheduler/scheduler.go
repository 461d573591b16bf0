package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/clock"
	obscontext "github.com/smallbiznis/voxbill/internal/observability/context"
	obslogger "github.com/smallbiznis/voxbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobPruneDeliveryLogs = "prune_delivery_logs"

const (
	jobOutcomeSuccess = "success"
	jobOutcomeError   = "error"
	jobOutcomeTimeout = "timeout"
	jobOutcomeSkipped = "skipped"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       webhookdomain.Repository
	Locker     ratelimit.Locker    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler runs periodic maintenance. With a Locker wired, each job runs on
// at most one replica per tick.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	genID      *snowflake.Node
	repo       webhookdomain.Repository
	locker     ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	runID := s.genID.Generate().String()
	ctx := obscontext.WithRequestID(parent, runID)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("job", name),
		zap.String("run_id", runID),
	)

	if s.locker != nil {
		token, acquired, err := s.locker.TryLock(ctx, "scheduler:job:"+name, timeout)
		if err != nil {
			s.obsMetrics.RecordJobRun(ctx, name, jobOutcomeError)
			return fmt.Errorf("%s: lock: %w", name, err)
		}
		if !acquired {
			log.Debug("job held by another replica")
			s.obsMetrics.RecordJobRun(ctx, name, jobOutcomeSkipped)
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), "scheduler:job:"+name, token); err != nil {
				log.Warn("job lock release failed", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.clock.Now()
	log.Debug("job started")
	err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	if err == nil {
		log.Info("job finished", zap.Duration("duration", duration))
		s.obsMetrics.RecordJobRun(ctx, name, jobOutcomeSuccess)
		return nil
	}

	// deadline is a soft timeout; the next tick resumes the work
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		s.obsMetrics.RecordJobRun(parent, name, jobOutcomeTimeout)
		return nil
	}

	s.obsMetrics.RecordJobRun(parent, name, jobOutcomeError)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobPruneDeliveryLogs, s.PruneDeliveryLogsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneDeliveryLogsJob deletes delivery logs older than the retention window,
// one batch at a time so no single statement holds the table for long.
func (s *Scheduler) PruneDeliveryLogsJob(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.cfg.DeliveryLogRetention)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := s.repo.PruneLogs(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(s.cfg.BatchSize) {
			break
		}
	}

	if total > 0 {
		obslogger.WithContext(ctx, s.log).Info("pruned webhook delivery logs",
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
