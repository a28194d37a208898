package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/metrics"
	"advisory-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDedupBucket = 24 * time.Hour

type DeliveryLogStore interface {
	InsertIfAbsent(ctx context.Context, entry *models.AdvisoryDeliveryLog) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AdvisoryDeliveryLog, error)
	List(ctx context.Context, filter models.DeliveryLogFilter) ([]models.AdvisoryDeliveryLog, error)
	CountForFarmerSince(ctx context.Context, farmerID string, since time.Time) (int, error)
	ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error)
	Transition(ctx context.Context, id uuid.UUID, change models.StatusChange) (*models.AdvisoryDeliveryLog, models.DeliveryStatus, error)
}

type DeliveryEventPublisher interface {
	PublishDeliveryEvent(ctx context.Context, evt models.DeliveryLogEvent) error
}

// DeliveryLogService owns the delivery log: deduplicated creation, the
// per-day cap and every status change. Each successful change is published
// as a DeliveryLogEvent.
type DeliveryLogService struct {
	store    DeliveryLogStore
	events   DeliveryEventPublisher
	bucket   time.Duration
	dailyCap int
	log      *zap.Logger
	now      func() time.Time
}

func NewDeliveryLogService(store DeliveryLogStore, events DeliveryEventPublisher, cfg config.PipelineConfig, log *zap.Logger) *DeliveryLogService {
	bucket := cfg.DedupBucket
	if bucket <= 0 {
		bucket = defaultDedupBucket
	}
	return &DeliveryLogService{
		store:    store,
		events:   events,
		bucket:   bucket,
		dailyCap: cfg.MaxAdvisoriesPerFarmerDay,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// DEDUPLICATION
// ============================================================================

// BucketStart returns the start of the dedup window containing at, in UTC.
// A 24h bucket is the UTC calendar day.
func BucketStart(at time.Time, bucket time.Duration) time.Time {
	if bucket <= 0 {
		bucket = defaultDedupBucket
	}
	return at.UTC().Truncate(bucket)
}

// BuildDeduplicationKey derives the key identifying one logical trigger event.
func BuildDeduplicationKey(source, farmerID, district string, at time.Time, bucket time.Duration) string {
	raw := strings.Join([]string{
		source,
		farmerID,
		strings.ToLower(strings.TrimSpace(district)),
		BucketStart(at, bucket).Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TriggerSource names what caused a trigger: a rule, a bare signal or a manual advisory type.
func TriggerSource(req models.TriggerRequest) string {
	switch {
	case req.RuleID != nil:
		return "rule:" + req.RuleID.String()
	case req.Signal != nil:
		return "signal:" + string(*req.Signal)
	default:
		return "manual:" + strings.ToUpper(req.AdvisoryType)
	}
}

// ============================================================================
// RECORDING
// ============================================================================

// RecordTrigger creates a PENDING log for the trigger. A trigger whose key
// already exists returns (nil, false, nil): it is already delivered or in flight.
func (s *DeliveryLogService) RecordTrigger(ctx context.Context, req models.TriggerRequest) (*models.AdvisoryDeliveryLog, bool, error) {
	if req.FarmerID == "" {
		return nil, false, fmt.Errorf("trigger has no farmer id")
	}
	if !models.IsValidSeverity(req.Severity) {
		return nil, false, fmt.Errorf("trigger has invalid severity %q", req.Severity)
	}
	if req.TriggeredAt.IsZero() {
		req.TriggeredAt = s.now()
	}

	entry := s.buildEntry(req)
	inserted, err := s.store.InsertIfAbsent(ctx, entry)
	if err != nil {
		metrics.RecordTrigger("error")
		return nil, false, err
	}
	if !inserted {
		metrics.RecordTrigger("duplicate")
		return nil, false, nil
	}

	metrics.RecordTrigger("recorded")
	s.publish(ctx, entry, nil, nil, entry.CreatedAt)
	return entry, true, nil
}

func triggerDistrict(c models.EvaluationContext) string {
	if c.District == "" && c.Weather != nil {
		return c.Weather.District
	}
	return c.District
}

func (s *DeliveryLogService) buildEntry(req models.TriggerRequest) *models.AdvisoryDeliveryLog {
	c := req.Context
	district := triggerDistrict(c)

	entry := &models.AdvisoryDeliveryLog{
		ID:               uuid.New(),
		FarmerID:         req.FarmerID,
		RuleID:           req.RuleID,
		RuleName:         req.RuleName,
		AdvisoryType:     req.AdvisoryType,
		Severity:         req.Severity,
		District:         district,
		CropType:         c.CropType,
		GrowthStage:      c.GrowthStage,
		Season:           c.Season,
		RiskLevel:        c.RiskLevel,
		DeliveryStatus:   models.DeliveryPending,
		Channel:          req.Channel,
		Priority:         req.Priority,
		DeduplicationKey: BuildDeduplicationKey(TriggerSource(req), req.FarmerID, district, req.TriggeredAt, s.bucket),
		Title:            req.Title,
		Content:          req.Content,
		Feedback:         models.FeedbackNoFeedback,
		CreatedAt:        req.TriggeredAt.UTC(),
	}
	if entry.AdvisoryType == "" {
		entry.AdvisoryType = "GENERAL"
	}
	if entry.Channel == "" {
		entry.Channel = models.ChannelSMS
	}

	if req.Signal != nil {
		entry.WeatherSignal = models.String(string(*req.Signal))
	} else if primary, ok := c.PrimarySignal(); ok {
		entry.WeatherSignal = models.String(string(primary))
	}
	if len(c.DiseaseCodes) > 0 {
		entry.DiseaseCode = models.String(c.DiseaseCodes[0])
	}
	if len(c.PestCodes) > 0 {
		entry.PestCode = models.String(c.PestCodes[0])
	}
	if w := c.Weather; w != nil {
		entry.Temperature = w.Temperature
		entry.Rainfall = w.EffectiveRainfall24h()
		entry.Humidity = w.Humidity
	}
	return entry
}

// CapSelection is the outcome of filtering one farmer's triggered rules.
type CapSelection struct {
	Selected   []TriggeredRule
	Duplicates int
	Capped     int
}

// SelectWithinCap drops candidates already recorded in the current dedup bucket,
// then applies the per-farmer daily cap to the rest. Candidates must be ordered
// most urgent first; whatever exceeds the cap is dropped, not queued.
func (s *DeliveryLogService) SelectWithinCap(ctx context.Context, farmerID string, evalCtx models.EvaluationContext, candidates []TriggeredRule, at time.Time) (CapSelection, error) {
	if len(candidates) == 0 {
		return CapSelection{}, nil
	}

	district := triggerDistrict(evalCtx)
	keys := make([]string, len(candidates))
	for i := range candidates {
		ruleID := candidates[i].Rule.ID
		keys[i] = BuildDeduplicationKey(TriggerSource(models.TriggerRequest{RuleID: &ruleID}), farmerID, district, at, s.bucket)
	}
	existing, err := s.store.ExistingKeys(ctx, keys)
	if err != nil {
		return CapSelection{}, err
	}

	var sel CapSelection
	fresh := make([]TriggeredRule, 0, len(candidates))
	for i := range candidates {
		if existing[keys[i]] {
			sel.Duplicates++
			metrics.RecordTrigger("duplicate")
			continue
		}
		fresh = append(fresh, candidates[i])
	}

	if s.dailyCap <= 0 || len(fresh) == 0 {
		sel.Selected = fresh
		return sel, nil
	}

	already, err := s.store.CountForFarmerSince(ctx, farmerID, BucketStart(at, defaultDedupBucket))
	if err != nil {
		return CapSelection{}, err
	}
	remaining := max(s.dailyCap-already, 0)
	if remaining >= len(fresh) {
		sel.Selected = fresh
		return sel, nil
	}

	sel.Selected = fresh[:remaining]
	sel.Capped = len(fresh) - remaining
	metrics.RecordTriggersCapped(sel.Capped)
	s.log.Info("daily advisory cap reached, dropping lower priority advisories",
		zap.String("farmer_id", farmerID),
		zap.Int("cap", s.dailyCap),
		zap.Int("already_sent", already),
		zap.Int("dropped", sel.Capped))
	return sel, nil
}

// ============================================================================
// STATUS TRANSITIONS
// ============================================================================

// MarkDelivered records a successful send. An empty channel keeps the one on the log.
func (s *DeliveryLogService) MarkDelivered(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	return s.transition(ctx, id, models.StatusChange{To: models.DeliveryDelivered, At: at, Channel: channel})
}

// MarkFailed records a failed attempt the sweep may retry.
func (s *DeliveryLogService) MarkFailed(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, reason string, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	return s.markFailed(ctx, id, channel, reason, false, at)
}

// MarkUndeliverable records a failure no retry can fix, such as a farmer with no contact.
func (s *DeliveryLogService) MarkUndeliverable(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, reason string, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	return s.markFailed(ctx, id, channel, reason, true, at)
}

func (s *DeliveryLogService) markFailed(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, reason string, permanent bool, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	if reason == "" {
		reason = "unknown transport failure"
	}
	return s.transition(ctx, id, models.StatusChange{
		To:        models.DeliveryFailed,
		At:        at,
		Channel:   channel,
		Reason:    &reason,
		Permanent: permanent,
	})
}

func (s *DeliveryLogService) MarkOpened(ctx context.Context, id uuid.UUID, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	return s.transition(ctx, id, models.StatusChange{To: models.DeliveryOpened, At: at})
}

// SubmitFeedback records the farmer's verdict. Feedback on a log that was never
// opened also stamps opened_at, since reading is implied.
func (s *DeliveryLogService) SubmitFeedback(ctx context.Context, id uuid.UUID, feedback models.FeedbackValue, comment *string, at time.Time) (*models.AdvisoryDeliveryLog, error) {
	if feedback != models.FeedbackUseful && feedback != models.FeedbackNotUseful {
		return nil, fmt.Errorf("feedback must be %s or %s, got %q: %w",
			models.FeedbackUseful, models.FeedbackNotUseful, feedback, models.ErrInvalidReceipt)
	}
	return s.transition(ctx, id, models.StatusChange{
		To:       models.DeliveryFeedbackReceived,
		At:       at,
		Feedback: feedback,
		Comment:  comment,
	})
}

func (s *DeliveryLogService) transition(ctx context.Context, id uuid.UUID, change models.StatusChange) (*models.AdvisoryDeliveryLog, error) {
	if change.At.IsZero() {
		change.At = s.now()
	}
	change.At = change.At.UTC()

	updated, from, err := s.store.Transition(ctx, id, change)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			metrics.RecordInvalidTransition(string(change.To))
			s.log.Warn("data integrity: rejected delivery status change",
				zap.String("log_id", id.String()),
				zap.String("current_status", string(from)),
				zap.String("requested_status", string(change.To)))
		}
		return nil, err
	}

	metrics.RecordTransition(string(change.To))
	s.publish(ctx, updated, &from, change.Reason, change.At)
	return updated, nil
}

func (s *DeliveryLogService) publish(ctx context.Context, entry *models.AdvisoryDeliveryLog, from *models.DeliveryStatus, reason *string, at time.Time) {
	if s.events == nil {
		return
	}
	evt := models.DeliveryLogEvent{
		LogID:      entry.ID,
		FarmerID:   entry.FarmerID,
		RuleID:     entry.RuleID,
		District:   entry.District,
		Severity:   entry.Severity,
		Channel:    entry.Channel,
		FromStatus: from,
		ToStatus:   entry.DeliveryStatus,
		Reason:     reason,
		OccurredAt: at,
	}
	// The log row is authoritative; a lost event is logged, never rolled back.
	if err := s.events.PublishDeliveryEvent(ctx, evt); err != nil {
		s.log.Warn("failed to publish delivery event",
			zap.String("log_id", entry.ID.String()),
			zap.String("to_status", string(entry.DeliveryStatus)),
			zap.Error(err))
	}
}

// ============================================================================
// RECEIPTS & READS
// ============================================================================

// HandleReceipt applies a receipt reported by the transport or the farmer app.
func (s *DeliveryLogService) HandleReceipt(ctx context.Context, receipt models.DeliveryReceipt) error {
	if receipt.LogID == uuid.Nil {
		return fmt.Errorf("receipt without log id: %w", models.ErrInvalidReceipt)
	}
	at := s.now()
	if receipt.OccurredAt != nil {
		at = *receipt.OccurredAt
	}

	var err error
	switch strings.ToLower(receipt.Event) {
	case models.ReceiptDelivered:
		_, err = s.MarkDelivered(ctx, receipt.LogID, "", at)
	case models.ReceiptFailed:
		reason := "transport reported failure"
		if receipt.Reason != nil && *receipt.Reason != "" {
			reason = *receipt.Reason
		}
		_, err = s.MarkFailed(ctx, receipt.LogID, "", reason, at)
	case models.ReceiptOpened:
		_, err = s.MarkOpened(ctx, receipt.LogID, at)
	case models.ReceiptFeedback:
		if receipt.Feedback == nil {
			return fmt.Errorf("feedback receipt without feedback value: %w", models.ErrInvalidReceipt)
		}
		_, err = s.SubmitFeedback(ctx, receipt.LogID, *receipt.Feedback, receipt.Comment, at)
	default:
		return fmt.Errorf("receipt event %q: %w", receipt.Event, models.ErrInvalidReceipt)
	}
	return err
}

func (s *DeliveryLogService) GetDeliveryLog(ctx context.Context, id uuid.UUID) (*models.AdvisoryDeliveryLog, error) {
	return s.store.GetByID(ctx, id)
}

func (s *DeliveryLogService) ListDeliveryLogs(ctx context.Context, filter models.DeliveryLogFilter) ([]models.AdvisoryDeliveryLog, error) {
	return s.store.List(ctx, filter)
}

// ListFarmerAdvisories returns a farmer's advisories, newest first.
func (s *DeliveryLogService) ListFarmerAdvisories(ctx context.Context, farmerID string, limit int) ([]models.AdvisoryDeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, models.DeliveryLogFilter{FarmerID: &farmerID, Limit: limit})
}
