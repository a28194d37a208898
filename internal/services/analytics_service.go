package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/models"
	"advisory-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ignoredEmergencyLookback bounds how far back ignored emergencies are searched.
const ignoredEmergencyLookback = 7 * 24 * time.Hour

type AnalyticsStore interface {
	LoadReportData(ctx context.Context, from, to time.Time, fatigueThreshold int, emergencyCutoff time.Time) (*repository.ReportData, error)
	DeliveryStats(ctx context.Context, from, to time.Time) ([]models.DeliveryStatRow, error)
	AlertFatigueFarmers(ctx context.Context, threshold int, from, to time.Time) ([]models.FarmerAlertCount, error)
	IgnoredEmergencies(ctx context.Context, from, cutoff time.Time) ([]models.IgnoredEmergency, error)
}

// AnalyticsService is read-only: it folds delivery-log aggregates into
// effectiveness figures. Every rate is nil when its denominator is zero.
type AnalyticsService struct {
	store            AnalyticsStore
	fatigueThreshold int
	emergencyWindow  time.Duration
	log              *zap.Logger
	now              func() time.Time
}

func NewAnalyticsService(store AnalyticsStore, cfg config.PipelineConfig, log *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		store:            store,
		fatigueThreshold: cfg.AlertFatigueThreshold,
		emergencyWindow:  cfg.IgnoredEmergencyWindow,
		log:              log,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// RATES
// ============================================================================

// DeliverySuccessRate is (delivered + opened + feedback) / total.
func DeliverySuccessRate(c models.StatusCounts) *float64 {
	return models.Ratio(c.Reached(), c.Total)
}

// OpenRate is (opened + feedback) / (delivered + opened + feedback).
func OpenRate(c models.StatusCounts) *float64 {
	return models.Ratio(c.Engaged(), c.Reached())
}

// FeedbackRate is feedback / (opened + feedback).
func FeedbackRate(c models.StatusCounts) *float64 {
	return models.Ratio(c.FeedbackReceived, c.Engaged())
}

func (s *AnalyticsService) counts(ctx context.Context, from, to time.Time) (models.StatusCounts, error) {
	rows, err := s.store.DeliveryStats(ctx, from, to)
	if err != nil {
		return models.StatusCounts{}, err
	}
	var c models.StatusCounts
	for _, row := range rows {
		c.Add(row.DeliveryStatus, row.Feedback, row.Count)
	}
	return c, nil
}

func (s *AnalyticsService) GetDeliverySuccessRate(ctx context.Context, from, to time.Time) (*float64, error) {
	c, err := s.counts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return DeliverySuccessRate(c), nil
}

func (s *AnalyticsService) GetOpenRate(ctx context.Context, from, to time.Time) (*float64, error) {
	c, err := s.counts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return OpenRate(c), nil
}

func (s *AnalyticsService) GetFeedbackRate(ctx context.Context, from, to time.Time) (*float64, error) {
	c, err := s.counts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return FeedbackRate(c), nil
}

// GetAlertFatigueFarmers lists farmers who got more than threshold advisories on a single day.
func (s *AnalyticsService) GetAlertFatigueFarmers(ctx context.Context, threshold int, from, to time.Time) ([]models.FarmerAlertCount, error) {
	if threshold <= 0 {
		threshold = s.fatigueThreshold
	}
	return s.store.AlertFatigueFarmers(ctx, threshold, from, to)
}

// GetIgnoredEmergencyAlerts lists EMERGENCY advisories older than window that were never opened.
func (s *AnalyticsService) GetIgnoredEmergencyAlerts(ctx context.Context, window time.Duration, now time.Time) ([]models.IgnoredEmergency, error) {
	if window <= 0 {
		window = s.emergencyWindow
	}
	cutoff := now.Add(-window)
	return s.store.IgnoredEmergencies(ctx, cutoff.Add(-ignoredEmergencyLookback), cutoff)
}

// ============================================================================
// REPORT
// ============================================================================

func (s *AnalyticsService) BuildReport(ctx context.Context, from, to time.Time) (*models.EffectivenessReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("report window is empty: %s .. %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	now := s.now()
	cutoff := now.Add(-s.emergencyWindow)
	if to.Before(cutoff) {
		cutoff = to
	}

	data, err := s.store.LoadReportData(ctx, from, to, s.fatigueThreshold, cutoff)
	if err != nil {
		s.log.Error("failed to load effectiveness report data", zap.Error(err))
		return nil, err
	}

	report := FoldReport(data.Stats)
	report.From = from
	report.To = to
	report.AlertFatigueFarmers = nonNil(data.FatigueFarmers)
	report.IgnoredEmergencies = nonNil(data.IgnoredEmergencies)
	report.GeneratedAt = now

	if len(report.IgnoredEmergencies) > 0 {
		s.log.Warn("emergency advisories were never opened",
			zap.Int("count", len(report.IgnoredEmergencies)),
			zap.Time("cutoff", cutoff))
	}
	return report, nil
}

type ruleKey struct {
	id   uuid.UUID
	name string
}

// FoldReport turns grouped delivery-log rows into totals and breakdowns.
func FoldReport(rows []models.DeliveryStatRow) *models.EffectivenessReport {
	var total models.StatusCounts
	channels := map[models.DeliveryChannel]*models.StatusCounts{}
	rules := map[ruleKey]*models.StatusCounts{}
	ruleIDs := map[ruleKey]*uuid.UUID{}
	districts := map[string]*models.DistrictStats{}

	for _, row := range rows {
		total.Add(row.DeliveryStatus, row.Feedback, row.Count)

		ch := channels[row.Channel]
		if ch == nil {
			ch = &models.StatusCounts{}
			channels[row.Channel] = ch
		}
		ch.Add(row.DeliveryStatus, row.Feedback, row.Count)

		key := ruleKey{name: "(manual)"}
		if row.RuleID != nil {
			key.id = *row.RuleID
			key.name = deref(row.RuleName)
		}
		rc := rules[key]
		if rc == nil {
			rc = &models.StatusCounts{}
			rules[key] = rc
			ruleIDs[key] = row.RuleID
		}
		rc.Add(row.DeliveryStatus, row.Feedback, row.Count)

		dkey := strings.ToLower(strings.TrimSpace(row.District))
		ds := districts[dkey]
		if ds == nil {
			ds = &models.DistrictStats{District: row.District}
			districts[dkey] = ds
		}
		ds.Count += row.Count
		if row.Severity == models.SeverityEmergency {
			ds.EmergencyCount += row.Count
		}
		if row.DeliveryStatus == models.DeliveryFailed {
			ds.FailedCount += row.Count
		}
	}

	report := &models.EffectivenessReport{
		Counts:              total,
		DeliverySuccessRate: DeliverySuccessRate(total),
		OpenRate:            OpenRate(total),
		FeedbackRate:        FeedbackRate(total),
		ByChannel:           make([]models.ChannelStats, 0, len(channels)),
		ByRule:              make([]models.RuleEffectiveness, 0, len(rules)),
		ByDistrict:          make([]models.DistrictStats, 0, len(districts)),
	}

	for channel, c := range channels {
		report.ByChannel = append(report.ByChannel, models.ChannelStats{
			Channel:             channel,
			Counts:              *c,
			DeliverySuccessRate: DeliverySuccessRate(*c),
			OpenRate:            OpenRate(*c),
		})
	}
	sort.Slice(report.ByChannel, func(i, j int) bool {
		return report.ByChannel[i].Channel < report.ByChannel[j].Channel
	})

	for key, c := range rules {
		report.ByRule = append(report.ByRule, models.RuleEffectiveness{
			RuleID:         ruleIDs[key],
			RuleName:       key.name,
			TriggerCount:   c.Total,
			OpenCount:      c.Engaged(),
			UsefulCount:    c.Useful,
			NotUsefulCount: c.NotUseful,
			UsefulRatio:    models.Ratio(c.Useful, c.Useful+c.NotUseful),
		})
	}
	sort.Slice(report.ByRule, func(i, j int) bool {
		a, b := report.ByRule[i], report.ByRule[j]
		if a.TriggerCount != b.TriggerCount {
			return a.TriggerCount > b.TriggerCount
		}
		return a.RuleName < b.RuleName
	})

	for _, ds := range districts {
		ds.FailureRate = models.Ratio(ds.FailedCount, ds.Count)
		report.ByDistrict = append(report.ByDistrict, *ds)
	}
	sort.Slice(report.ByDistrict, func(i, j int) bool {
		a, b := report.ByDistrict[i], report.ByDistrict[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.District < b.District
	})

	return report
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
