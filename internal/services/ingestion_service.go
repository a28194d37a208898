package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/metrics"
	"advisory-service/internal/models"
	"advisory-service/internal/worker"

	"go.uber.org/zap"
)

const defaultForecastHours = 24

type WeatherProvider interface {
	GetCurrentWeather(ctx context.Context, district string) (*models.WeatherReading, error)
	GetForecast(ctx context.Context, district string, hours int) ([]models.WeatherReading, error)
	GetAlerts(ctx context.Context, district string) ([]models.WeatherReading, error)
	IsAvailable(ctx context.Context) bool
}

type FarmerDirectory interface {
	ListFarmersByDistrict(ctx context.Context, district string) ([]models.Farmer, error)
	GetFarmer(ctx context.Context, farmerID string) (*models.Farmer, error)
}

// RuleProvider returns the rules eligible at now, normally through the rule cache.
type RuleProvider interface {
	EligibleRules(ctx context.Context, now time.Time) ([]models.AdvisoryRule, error)
}

// CycleSummary tallies one ingestion cycle across all districts.
type CycleSummary struct {
	StartedAt          time.Time
	Districts          int
	NoData             []string
	Farmers            int
	Triggered          int
	Recorded           int
	Duplicates         int
	Capped             int
	Delivered          int
	FailedJobs         int
	SkippedRules       int
	BulletinsPublished int
}

type cycleCounters struct {
	farmers    atomic.Int64
	triggered  atomic.Int64
	recorded   atomic.Int64
	duplicates atomic.Int64
	capped     atomic.Int64
	delivered  atomic.Int64
}

// IngestionService runs the pipeline: weather per district, signals, rule
// matching per farmer, per-day cap, content, deduplicated recording, dispatch.
// Farmers are processed as independent jobs on the worker pool.
type IngestionService struct {
	weather   WeatherProvider
	farmers   FarmerDirectory
	rules     RuleProvider
	engine    *RuleEngine
	detector  *SignalDetector
	logs      *DeliveryLogService
	content   *ContentBuilder
	dispatch  *DispatchService
	bulletins *WeatherAdvisoryService
	pool      *worker.WorkingPool
	cfg       config.PipelineConfig
	log       *zap.Logger
	now       func() time.Time
}

type IngestionDeps struct {
	Weather   WeatherProvider
	Farmers   FarmerDirectory
	Rules     RuleProvider
	Engine    *RuleEngine
	Detector  *SignalDetector
	Logs      *DeliveryLogService
	Content   *ContentBuilder
	Dispatch  *DispatchService
	Bulletins *WeatherAdvisoryService
	Pool      *worker.WorkingPool
}

func NewIngestionService(deps IngestionDeps, cfg config.PipelineConfig, log *zap.Logger) *IngestionService {
	return &IngestionService{
		weather:   deps.Weather,
		farmers:   deps.Farmers,
		rules:     deps.Rules,
		engine:    deps.Engine,
		detector:  deps.Detector,
		logs:      deps.Logs,
		content:   deps.Content,
		dispatch:  deps.Dispatch,
		bulletins: deps.Bulletins,
		pool:      deps.Pool,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// CYCLE
// ============================================================================

// RunCycle processes every configured district once. A district without
// weather data is skipped, never treated as normal conditions.
func (s *IngestionService) RunCycle(ctx context.Context) (*CycleSummary, error) {
	start := time.Now()
	now := s.now()
	summary := &CycleSummary{StartedAt: now}

	status := "success"
	defer func() {
		metrics.RecordIngestionCycle(status, time.Since(start).Seconds())
	}()

	if !s.weather.IsAvailable(ctx) {
		status = "weather_unavailable"
		s.log.Warn("weather service unavailable, skipping ingestion cycle")
		return summary, models.ErrNoWeatherData
	}

	rules, err := s.rules.EligibleRules(ctx, now)
	if err != nil {
		status = "error"
		return summary, fmt.Errorf("failed to load advisory rules: %w", err)
	}
	compiled, skipped := s.engine.Compile(rules, now)
	summary.SkippedRules = len(skipped)
	metrics.RecordRulesSkipped(len(skipped))

	var counters cycleCounters
	var errs []error
	for _, district := range s.cfg.Districts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		summary.Districts++

		published, err := s.processDistrict(ctx, district, compiled, now, &counters)
		if errors.Is(err, models.ErrNoWeatherData) {
			summary.NoData = append(summary.NoData, district)
			continue
		}
		if err != nil {
			s.log.Error("district ingestion failed", zap.String("district", district), zap.Error(err))
			errs = append(errs, fmt.Errorf("district %s: %w", district, err))
			continue
		}
		if published {
			summary.BulletinsPublished++
		}
	}

	summary.Farmers = int(counters.farmers.Load())
	summary.Triggered = int(counters.triggered.Load())
	summary.Recorded = int(counters.recorded.Load())
	summary.Duplicates = int(counters.duplicates.Load())
	summary.Capped = int(counters.capped.Load())
	summary.Delivered = int(counters.delivered.Load())

	s.log.Info("ingestion cycle finished",
		zap.Int("districts", summary.Districts),
		zap.Strings("no_data", summary.NoData),
		zap.Int("farmers", summary.Farmers),
		zap.Int("triggered", summary.Triggered),
		zap.Int("recorded", summary.Recorded),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("capped", summary.Capped),
		zap.Int("skipped_rules", summary.SkippedRules),
		zap.Duration("elapsed", time.Since(start)))

	if len(errs) > 0 {
		status = "partial"
		return summary, errors.Join(errs...)
	}
	return summary, nil
}

// processDistrict reports whether a bulletin was published.
func (s *IngestionService) processDistrict(ctx context.Context, district string, compiled []CompiledRule, now time.Time, counters *cycleCounters) (bool, error) {
	reading, alerts, err := s.fetchWeather(ctx, district)
	if err != nil {
		return false, err
	}

	signals := s.detector.DetectAll(reading, alerts)
	if len(signals) == 0 {
		metrics.RecordWeatherUnavailable(district)
		s.log.Warn("no weather data for district", zap.String("district", district))
		return false, models.ErrNoWeatherData
	}
	for _, sig := range signals {
		metrics.RecordSignal(string(sig))
	}

	published := false
	if s.bulletins != nil {
		bulletin, err := s.bulletins.PublishFromSignals(ctx, district, signals)
		if err != nil {
			s.log.Warn("failed to publish weather bulletin", zap.String("district", district), zap.Error(err))
		}
		published = bulletin != nil
	}

	farmers, err := s.farmers.ListFarmersByDistrict(ctx, district)
	if err != nil {
		return published, fmt.Errorf("failed to list farmers: %w", err)
	}
	if len(compiled) == 0 || len(farmers) == 0 {
		return published, nil
	}

	batch := s.pool.NewBatch()
	for i := range farmers {
		farmer := farmers[i]
		evalCtx := BuildEvaluationContext(&farmer, district, signals, reading, now)
		if err := batch.Submit(ctx, func(jobCtx context.Context) error {
			return s.processFarmer(jobCtx, compiled, &farmer, evalCtx, now, counters)
		}); err != nil {
			s.log.Error("failed to submit farmer job", zap.String("farmer_id", farmer.ID), zap.Error(err))
			break
		}
	}

	result, err := batch.Wait(ctx)
	if result.Failed > 0 {
		s.log.Warn("some farmer jobs failed",
			zap.String("district", district),
			zap.Int("failed", result.Failed),
			zap.Errors("errors", result.Errors))
	}
	return published, err
}

// fetchWeather requires the current observation or a forecast; alerts and
// forecast failures only narrow what is known.
func (s *IngestionService) fetchWeather(ctx context.Context, district string) (*models.WeatherReading, []models.WeatherReading, error) {
	hours := s.cfg.ForecastHours
	if hours <= 0 {
		hours = defaultForecastHours
	}

	current, currentErr := s.weather.GetCurrentWeather(ctx, district)
	if currentErr != nil {
		s.log.Warn("current weather unavailable", zap.String("district", district), zap.Error(currentErr))
	}
	forecast, err := s.weather.GetForecast(ctx, district, hours)
	if err != nil {
		s.log.Warn("forecast unavailable", zap.String("district", district), zap.Error(err))
	}
	alerts, err := s.weather.GetAlerts(ctx, district)
	if err != nil {
		s.log.Warn("weather alerts unavailable", zap.String("district", district), zap.Error(err))
	}

	if currentErr != nil && len(forecast) == 0 && len(alerts) == 0 {
		return nil, nil, fmt.Errorf("no weather source answered: %w", currentErr)
	}
	return MergeWeather(district, current, forecast), alerts, nil
}

// ============================================================================
// PER-FARMER JOB
// ============================================================================

func (s *IngestionService) processFarmer(ctx context.Context, compiled []CompiledRule, farmer *models.Farmer, evalCtx models.EvaluationContext, now time.Time, counters *cycleCounters) error {
	counters.farmers.Add(1)

	candidates := s.engine.MatchCompiled(compiled, evalCtx)
	if len(candidates) == 0 {
		return nil
	}
	counters.triggered.Add(int64(len(candidates)))
	for _, c := range candidates {
		metrics.RecordRuleTriggered(string(c.Severity))
	}

	sel, err := s.logs.SelectWithinCap(ctx, farmer.ID, evalCtx, candidates, now)
	if err != nil {
		return fmt.Errorf("failed to apply daily cap for farmer %s: %w", farmer.ID, err)
	}
	counters.duplicates.Add(int64(sel.Duplicates))
	counters.capped.Add(int64(sel.Capped))

	var errs []error
	for i := range sel.Selected {
		if err := s.deliver(ctx, &sel.Selected[i], farmer, evalCtx, now, counters); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *IngestionService) deliver(ctx context.Context, tr *TriggeredRule, farmer *models.Farmer, evalCtx models.EvaluationContext, now time.Time, counters *cycleCounters) error {
	content := s.content.Build(ctx, ContentInput{
		Outcome:  tr.Outcome,
		Severity: tr.Severity,
		Context:  evalCtx,
		Farmer:   farmer,
	})

	channel, _, err := ResolveChannel(farmer, tr.Outcome.Channel, tr.Severity)
	if err != nil {
		channel = models.ChannelSMS
	}

	ruleID := tr.Rule.ID
	advisoryType := tr.Outcome.AdvisoryType
	if advisoryType == "" {
		advisoryType = string(tr.Rule.RuleType)
	}
	entry, created, err := s.logs.RecordTrigger(ctx, models.TriggerRequest{
		RuleID:       &ruleID,
		RuleName:     models.String(tr.Rule.Name),
		FarmerID:     farmer.ID,
		AdvisoryType: advisoryType,
		Severity:     tr.Severity,
		Priority:     tr.Priority,
		Channel:      channel,
		Context:      evalCtx,
		Title:        models.String(content.Title),
		Content:      models.String(content.Body),
		TriggeredAt:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to record trigger of rule %s for farmer %s: %w", tr.Rule.Name, farmer.ID, err)
	}
	if !created {
		counters.duplicates.Add(1)
		return nil
	}
	counters.recorded.Add(1)

	status, err := s.dispatch.Dispatch(ctx, DispatchRequest{Log: entry, Farmer: farmer})
	if err != nil {
		return err
	}
	if status == models.DeliveryDelivered {
		counters.delivered.Add(1)
	}
	return nil
}

// ============================================================================
// CONTEXT
// ============================================================================

// BuildEvaluationContext assembles the per-farmer snapshot rules are matched against.
func BuildEvaluationContext(farmer *models.Farmer, district string, signals []models.Signal, reading *models.WeatherReading, now time.Time) models.EvaluationContext {
	season := SeasonFor(now)
	c := models.EvaluationContext{
		FarmerID:     farmer.ID,
		District:     district,
		CropType:     farmer.CropType,
		GrowthStage:  farmer.GrowthStage,
		Season:       &season,
		RiskLevel:    farmer.RiskLevel,
		Signals:      signals,
		DiseaseCodes: farmer.DiseaseCodes,
		PestCodes:    farmer.PestCodes,
		Weather:      reading,
	}
	if strings.TrimSpace(farmer.District) != "" {
		c.District = farmer.District
	}
	return c
}

// SeasonFor maps a date onto the Nepali cropping calendar.
func SeasonFor(t time.Time) string {
	switch t.Month() {
	case time.June, time.July, time.August, time.September:
		return "MONSOON"
	case time.October, time.November:
		return "POST_MONSOON"
	case time.December, time.January, time.February:
		return "WINTER"
	default:
		return "PRE_MONSOON"
	}
}
