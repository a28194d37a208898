package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ADVISORY DELIVERY LOG
// ============================================================================

type AdvisoryDeliveryLog struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	FarmerID         string          `json:"farmer_id" db:"farmer_id"`
	RuleID           *uuid.UUID      `json:"rule_id,omitempty" db:"rule_id"`
	RuleName         *string         `json:"rule_name,omitempty" db:"rule_name"`
	AdvisoryType     string          `json:"advisory_type" db:"advisory_type"`
	Severity         Severity        `json:"severity" db:"severity"`
	WeatherSignal    *string         `json:"weather_signal,omitempty" db:"weather_signal"`
	DiseaseCode      *string         `json:"disease_code,omitempty" db:"disease_code"`
	PestCode         *string         `json:"pest_code,omitempty" db:"pest_code"`
	District         string          `json:"district" db:"district"`
	CropType         *string         `json:"crop_type,omitempty" db:"crop_type"`
	GrowthStage      *string         `json:"growth_stage,omitempty" db:"growth_stage"`
	Season           *string         `json:"season,omitempty" db:"season"`
	RiskLevel        *string         `json:"risk_level,omitempty" db:"risk_level"`
	Temperature      *float64        `json:"temperature,omitempty" db:"temperature"`
	Rainfall         *float64        `json:"rainfall,omitempty" db:"rainfall"`
	Humidity         *float64        `json:"humidity,omitempty" db:"humidity"`
	DeliveryStatus   DeliveryStatus  `json:"delivery_status" db:"delivery_status"`
	Channel          DeliveryChannel `json:"channel" db:"channel"`
	Priority         int             `json:"priority" db:"priority"`
	DeduplicationKey string          `json:"deduplication_key" db:"deduplication_key"`
	FailureReason    *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	Title            *string         `json:"title,omitempty" db:"title"`
	Content          *string         `json:"content,omitempty" db:"content"`
	RetryCount       int             `json:"retry_count" db:"retry_count"`
	PermanentFailure bool            `json:"permanent_failure" db:"permanent_failure"`
	Feedback         FeedbackValue   `json:"feedback" db:"feedback"`
	FeedbackComment  *string         `json:"feedback_comment,omitempty" db:"feedback_comment"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	LastAttemptAt    *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt         *time.Time      `json:"opened_at,omitempty" db:"opened_at"`
	FeedbackAt       *time.Time      `json:"feedback_at,omitempty" db:"feedback_at"`
}

// allowedTransitions lists, for each target status, the statuses a log may move from.
// Anything not listed is a backwards or skipping move and is rejected.
var allowedTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryDelivered:        {DeliveryPending, DeliveryFailed},
	DeliveryFailed:           {DeliveryPending, DeliveryFailed},
	DeliveryOpened:           {DeliveryDelivered},
	DeliveryFeedbackReceived: {DeliveryDelivered, DeliveryOpened},
}

// AllowedSources returns the statuses from which `to` may be reached.
func AllowedSources(to DeliveryStatus) []DeliveryStatus {
	return allowedTransitions[to]
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to DeliveryStatus) bool {
	for _, allowed := range allowedTransitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

func DeliveryStatusesToStrings(statuses []DeliveryStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

// TriggerRequest carries everything needed to record one (rule|signal) x farmer trigger.
type TriggerRequest struct {
	RuleID       *uuid.UUID
	RuleName     *string
	Signal       *Signal
	FarmerID     string
	AdvisoryType string
	Severity     Severity
	Priority     int
	Channel      DeliveryChannel
	Context      EvaluationContext
	Title        *string
	Content      *string
	TriggeredAt  time.Time
}

// DeliveryLogFilter narrows ListDeliveryLogs queries.
type DeliveryLogFilter struct {
	FarmerID *string
	RuleID   *uuid.UUID
	District *string
	Statuses []DeliveryStatus
	From     *time.Time
	To       *time.Time
	Limit    int
}

// DeliveryLogEvent is published every time a log is created or changes status.
type DeliveryLogEvent struct {
	LogID      uuid.UUID       `json:"log_id"`
	FarmerID   string          `json:"farmer_id"`
	RuleID     *uuid.UUID      `json:"rule_id,omitempty"`
	District   string          `json:"district"`
	Severity   Severity        `json:"severity"`
	Channel    DeliveryChannel `json:"channel"`
	FromStatus *DeliveryStatus `json:"from_status,omitempty"`
	ToStatus   DeliveryStatus  `json:"to_status"`
	Reason     *string         `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// DeliveryReceipt is reported back by the notification transport or the farmer app.
type DeliveryReceipt struct {
	LogID      uuid.UUID      `json:"log_id"`
	Event      string         `json:"event"`
	Reason     *string        `json:"reason,omitempty"`
	Feedback   *FeedbackValue `json:"feedback,omitempty"`
	Comment    *string        `json:"comment,omitempty"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
}

const (
	ReceiptDelivered = "delivered"
	ReceiptFailed    = "failed"
	ReceiptOpened    = "opened"
	ReceiptFeedback  = "feedback"
)

// StatusChange is one requested move through the delivery state machine.
// Channel, when set, replaces the log's channel with the one actually used.
// Permanent marks a failure the sweep must not retry.
type StatusChange struct {
	To        DeliveryStatus
	At        time.Time
	Channel   DeliveryChannel
	Reason    *string
	Permanent bool
	Feedback  FeedbackValue
	Comment   *string
}
