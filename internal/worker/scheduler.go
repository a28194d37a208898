package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobConfig describes one recurring job.
type JobConfig struct {
	Name    string
	Cron    string
	Timeout time.Duration
	Enabled bool
}

type scheduledJob struct {
	config  JobConfig
	job     Job
	running atomic.Bool
}

// Scheduler runs named jobs on cron specs (with seconds). A job still running
// when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*scheduledJob
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func NewScheduler(log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*scheduledJob),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

func (s *Scheduler) RegisterJob(config JobConfig, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[config.Name]; exists {
		return fmt.Errorf("job %s already registered", config.Name)
	}

	sj := &scheduledJob{config: config, job: job}
	s.jobs[config.Name] = sj

	if !config.Enabled {
		s.log.Info("job registered but disabled", zap.String("job", config.Name))
		return nil
	}

	if _, err := s.cron.AddFunc(config.Cron, func() { s.executeJob(sj) }); err != nil {
		delete(s.jobs, config.Name)
		return fmt.Errorf("failed to add cron job %s: %w", config.Name, err)
	}

	s.log.Info("job registered", zap.String("job", config.Name), zap.String("cron", config.Cron))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// TriggerJob runs a registered job now, outside its schedule.
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	sj, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	go s.executeJob(sj)
	return nil
}

func (s *Scheduler) executeJob(sj *scheduledJob) {
	name := sj.config.Name
	if !sj.running.CompareAndSwap(false, true) {
		s.log.Warn("previous run still in progress, skipping", zap.String("job", name))
		return
	}
	defer sj.running.Store(false)

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	ctx := s.ctx
	if sj.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, sj.config.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in scheduled job", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	s.log.Info("starting job", zap.String("job", name))
	if err := sj.job(ctx); err != nil {
		s.log.Error("job failed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.log.Info("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}
