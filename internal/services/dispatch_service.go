package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"advisory-service/internal/metrics"
	"advisory-service/internal/models"
	"advisory-service/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDispatchTimeout = 10 * time.Second

// Notifier is the outbound transport. It only reports success or failure.
type Notifier interface {
	Send(ctx context.Context, msg models.MessageRequest) error
}

// DeliveryRecorder is the slice of the delivery log the dispatcher writes to.
type DeliveryRecorder interface {
	MarkDelivered(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, at time.Time) (*models.AdvisoryDeliveryLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, reason string, at time.Time) (*models.AdvisoryDeliveryLog, error)
	MarkUndeliverable(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, reason string, at time.Time) (*models.AdvisoryDeliveryLog, error)
}

// DispatchRequest pairs a recorded log with the farmer it is addressed to.
// Farmer is nil when the directory lookup failed.
type DispatchRequest struct {
	Log    *models.AdvisoryDeliveryLog
	Farmer *models.Farmer
}

type DispatchService struct {
	notifier Notifier
	logs     DeliveryRecorder
	content  *ContentBuilder
	pool     *worker.WorkingPool
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatchService(notifier Notifier, logs DeliveryRecorder, content *ContentBuilder, pool *worker.WorkingPool, timeout time.Duration, log *zap.Logger) *DispatchService {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if content == nil {
		content = NewContentBuilder(nil, nil, log)
	}
	return &DispatchService{
		notifier: notifier,
		logs:     logs,
		content:  content,
		pool:     pool,
		timeout:  timeout,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// CHANNEL RESOLUTION
// ============================================================================

var channelFallbackOrder = []models.DeliveryChannel{models.ChannelSMS, models.ChannelPush, models.ChannelEmail}

// ResolveChannel picks the channel and recipient for an advisory. EMERGENCY
// advisories go by SMS whenever a phone is known; otherwise the preferred
// channel is used if it has a contact, then SMS, PUSH and EMAIL in that order.
func ResolveChannel(farmer *models.Farmer, preferred *models.DeliveryChannel, severity models.Severity) (models.DeliveryChannel, string, error) {
	if farmer == nil {
		return "", "", models.ErrNoContact
	}
	if severity == models.SeverityEmergency {
		if phone := farmer.ContactFor(models.ChannelSMS); phone != "" {
			return models.ChannelSMS, phone, nil
		}
	}

	if preferred == nil {
		preferred = farmer.PreferredChannel
	}
	if preferred != nil && models.IsValidChannel(*preferred) {
		if contact := farmer.ContactFor(*preferred); contact != "" {
			return *preferred, contact, nil
		}
	}

	for _, ch := range channelFallbackOrder {
		if contact := farmer.ContactFor(ch); contact != "" {
			return ch, contact, nil
		}
	}
	return "", "", models.ErrNoContact
}

// ============================================================================
// DISPATCH
// ============================================================================

// Dispatch sends one recorded advisory and writes the outcome back to its log,
// returning the status the log ended in. Transport failures end up in the log as
// DELIVERY_FAILED and are not returned; the error result only reports that the
// log itself could not be updated.
func (s *DispatchService) Dispatch(ctx context.Context, req DispatchRequest) (models.DeliveryStatus, error) {
	entry := req.Log
	if entry == nil {
		return "", fmt.Errorf("dispatch without delivery log")
	}

	if req.Farmer == nil {
		return s.fail(ctx, entry, "", "farmer not found in directory", false, 0)
	}

	channel, recipient, err := ResolveChannel(req.Farmer, &entry.Channel, entry.Severity)
	if err != nil {
		return s.fail(ctx, entry, "", err.Error(), errors.Is(err, models.ErrNoContact), 0)
	}

	title, body := s.messageContent(ctx, entry, req.Farmer)
	msg := models.MessageRequest{
		Type:      channel,
		Recipient: recipient,
		Subject:   title,
		Content:   body,
		Priority:  entry.Severity.TransportPriority(),
		Metadata:  dispatchMetadata(entry, channel),
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err = s.notifier.Send(sendCtx, msg)
	elapsed := time.Since(start)

	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("transport timed out after %s", s.timeout)
		}
		return s.fail(ctx, entry, channel, reason, false, elapsed)
	}

	metrics.RecordDispatch(string(channel), "delivered", elapsed.Seconds())
	if _, err := s.logs.MarkDelivered(ctx, entry.ID, channel, s.now()); err != nil {
		return "", fmt.Errorf("advisory %s sent but log not updated: %w", entry.ID, err)
	}

	s.log.Debug("advisory dispatched",
		zap.String("log_id", entry.ID.String()),
		zap.String("farmer_id", entry.FarmerID),
		zap.String("channel", string(channel)),
		zap.Duration("elapsed", elapsed))
	return models.DeliveryDelivered, nil
}

// fail records a failed attempt. An empty channel leaves the log's channel as is.
func (s *DispatchService) fail(ctx context.Context, entry *models.AdvisoryDeliveryLog, channel models.DeliveryChannel, reason string, permanent bool, elapsed time.Duration) (models.DeliveryStatus, error) {
	metricChannel := channel
	if metricChannel == "" {
		metricChannel = entry.Channel
	}
	metrics.RecordDispatch(string(metricChannel), "failed", elapsed.Seconds())
	s.log.Warn("advisory dispatch failed",
		zap.String("log_id", entry.ID.String()),
		zap.String("farmer_id", entry.FarmerID),
		zap.String("channel", string(metricChannel)),
		zap.String("reason", reason),
		zap.Bool("permanent", permanent))

	mark := s.logs.MarkFailed
	if permanent {
		mark = s.logs.MarkUndeliverable
	}
	if _, err := mark(ctx, entry.ID, channel, reason, s.now()); err != nil {
		return "", fmt.Errorf("failed to record dispatch failure for %s: %w", entry.ID, err)
	}
	return models.DeliveryFailed, nil
}

// messageContent prefers the snapshot taken when the trigger was recorded.
func (s *DispatchService) messageContent(ctx context.Context, entry *models.AdvisoryDeliveryLog, farmer *models.Farmer) (string, string) {
	title := deref(entry.Title)
	if entry.Content != nil && *entry.Content != "" {
		if title == "" {
			title = fmt.Sprintf("%s advisory", entry.Severity)
		}
		return title, *entry.Content
	}

	built := s.content.Build(ctx, ContentInput{
		Outcome:  models.RuleOutcome{Severity: entry.Severity, AdvisoryType: entry.AdvisoryType, Title: title},
		Severity: entry.Severity,
		Context:  contextFromLog(entry),
		Farmer:   farmer,
	})
	return built.Title, built.Body
}

func dispatchMetadata(entry *models.AdvisoryDeliveryLog, channel models.DeliveryChannel) map[string]string {
	meta := map[string]string{
		"log_id":        entry.ID.String(),
		"farmer_id":     entry.FarmerID,
		"severity":      string(entry.Severity),
		"advisory_type": entry.AdvisoryType,
		"channel":       string(channel),
	}
	if entry.RuleID != nil {
		meta["rule_id"] = entry.RuleID.String()
	}
	return meta
}

// contextFromLog rebuilds the evaluation snapshot stored on a log.
func contextFromLog(entry *models.AdvisoryDeliveryLog) models.EvaluationContext {
	c := models.EvaluationContext{
		FarmerID:    entry.FarmerID,
		District:    entry.District,
		CropType:    entry.CropType,
		GrowthStage: entry.GrowthStage,
		Season:      entry.Season,
		RiskLevel:   entry.RiskLevel,
		Weather: &models.WeatherReading{
			District:    entry.District,
			Temperature: entry.Temperature,
			Rainfall24h: entry.Rainfall,
			Humidity:    entry.Humidity,
		},
	}
	if entry.WeatherSignal != nil {
		c.Signals = []models.Signal{models.Signal(*entry.WeatherSignal)}
	}
	return c
}

// ============================================================================
// BATCHES
// ============================================================================

// DispatchBatch dispatches every request as an independent pool job and waits
// for all of them. One failing or panicking dispatch never affects the others.
func (s *DispatchService) DispatchBatch(ctx context.Context, reqs []DispatchRequest) (worker.BatchResult, error) {
	batch := s.pool.NewBatch()
	for _, req := range reqs {
		if err := batch.Submit(ctx, func(jobCtx context.Context) error {
			_, err := s.Dispatch(jobCtx, req)
			return err
		}); err != nil {
			s.log.Error("failed to submit dispatch job", zap.Error(err))
			break
		}
	}
	return batch.Wait(ctx)
}
