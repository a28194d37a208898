package services

import (
	"context"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/metrics"
	"advisory-service/internal/models"

	"go.uber.org/zap"
)

const sweepBatchLimit = 500

// RetryableLogSource hands out retryable logs. A claimed log is not returned
// to any other claimer until its lease, the stale-after window, runs out.
type RetryableLogSource interface {
	ClaimRetryable(ctx context.Context, now, staleBefore time.Time, maxRetries int, limit int) ([]models.AdvisoryDeliveryLog, error)
}

type SweepSummary struct {
	Candidates int
	Redispatch int
	Errors     int
}

// SweepService recovers logs the pipeline left behind: PENDING rows whose
// dispatch never completed and DELIVERY_FAILED rows with retries left. A log
// may be retried maxRetries times after its first failed attempt; permanent
// failures are never retried. Retries update the same row.
type SweepService struct {
	source     RetryableLogSource
	farmers    FarmerDirectory
	dispatch   *DispatchService
	staleAfter time.Duration
	maxRetries int
	log        *zap.Logger
	now        func() time.Time
}

func NewSweepService(source RetryableLogSource, farmers FarmerDirectory, dispatch *DispatchService, cfg config.PipelineConfig, log *zap.Logger) *SweepService {
	return &SweepService{
		source:     source,
		farmers:    farmers,
		dispatch:   dispatch,
		staleAfter: cfg.StalePendingAfter,
		maxRetries: cfg.MaxDispatchRetries,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *SweepService) Run(ctx context.Context) (*SweepSummary, error) {
	now := s.now()
	logs, err := s.source.ClaimRetryable(ctx, now, now.Add(-s.staleAfter), s.maxRetries, sweepBatchLimit)
	if err != nil {
		return nil, err
	}
	summary := &SweepSummary{Candidates: len(logs)}
	if len(logs) == 0 {
		return summary, nil
	}

	reqs := make([]DispatchRequest, 0, len(logs))
	for i := range logs {
		entry := &logs[i]
		metrics.RecordSweepRetry(string(entry.DeliveryStatus))

		farmer, err := s.farmers.GetFarmer(ctx, entry.FarmerID)
		if err != nil {
			s.log.Warn("farmer lookup failed during sweep",
				zap.String("log_id", entry.ID.String()),
				zap.String("farmer_id", entry.FarmerID),
				zap.Error(err))
			farmer = nil
		}
		reqs = append(reqs, DispatchRequest{Log: entry, Farmer: farmer})
	}

	result, err := s.dispatch.DispatchBatch(ctx, reqs)
	summary.Redispatch = result.Submitted
	summary.Errors = result.Failed

	s.log.Info("delivery sweep finished",
		zap.Int("candidates", summary.Candidates),
		zap.Int("redispatched", summary.Redispatch),
		zap.Int("errors", summary.Errors))
	return summary, err
}
