package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ANALYTICS
// ============================================================================

// DeliveryStatRow is one group of the delivery-log aggregation query.
type DeliveryStatRow struct {
	DeliveryStatus DeliveryStatus  `db:"delivery_status"`
	Channel        DeliveryChannel `db:"channel"`
	RuleID         *uuid.UUID      `db:"rule_id"`
	RuleName       *string         `db:"rule_name"`
	District       string          `db:"district"`
	Severity       Severity        `db:"severity"`
	Feedback       FeedbackValue   `db:"feedback"`
	Count          int64           `db:"count"`
}

// StatusCounts tallies logs by lifecycle stage.
type StatusCounts struct {
	Total            int64 `json:"total"`
	Pending          int64 `json:"pending"`
	Delivered        int64 `json:"delivered"`
	Opened           int64 `json:"opened"`
	FeedbackReceived int64 `json:"feedback_received"`
	Failed           int64 `json:"failed"`
	Useful           int64 `json:"useful"`
	NotUseful        int64 `json:"not_useful"`
}

func (c *StatusCounts) Add(status DeliveryStatus, feedback FeedbackValue, n int64) {
	c.Total += n
	switch status {
	case DeliveryPending:
		c.Pending += n
	case DeliveryDelivered:
		c.Delivered += n
	case DeliveryOpened:
		c.Opened += n
	case DeliveryFeedbackReceived:
		c.FeedbackReceived += n
	case DeliveryFailed:
		c.Failed += n
	}
	switch feedback {
	case FeedbackUseful:
		c.Useful += n
	case FeedbackNotUseful:
		c.NotUseful += n
	}
}

// Reached counts logs that made it to the farmer (delivered, opened or with feedback).
func (c StatusCounts) Reached() int64 {
	return c.Delivered + c.Opened + c.FeedbackReceived
}

// Engaged counts logs the farmer opened; feedback implies an open.
func (c StatusCounts) Engaged() int64 {
	return c.Opened + c.FeedbackReceived
}

type ChannelStats struct {
	Channel             DeliveryChannel `json:"channel"`
	Counts              StatusCounts    `json:"counts"`
	DeliverySuccessRate *float64        `json:"delivery_success_rate"`
	OpenRate            *float64        `json:"open_rate"`
}

type RuleEffectiveness struct {
	RuleID         *uuid.UUID `json:"rule_id,omitempty"`
	RuleName       string     `json:"rule_name"`
	TriggerCount   int64      `json:"trigger_count"`
	OpenCount      int64      `json:"open_count"`
	UsefulCount    int64      `json:"useful_count"`
	NotUsefulCount int64      `json:"not_useful_count"`
	UsefulRatio    *float64   `json:"useful_ratio"`
}

type DistrictStats struct {
	District       string   `json:"district"`
	Count          int64    `json:"count"`
	EmergencyCount int64    `json:"emergency_count"`
	FailedCount    int64    `json:"failed_count"`
	FailureRate    *float64 `json:"failure_rate"`
}

type FarmerAlertCount struct {
	FarmerID string `json:"farmer_id" db:"farmer_id"`
	Count    int64  `json:"count" db:"count"`
}

type IgnoredEmergency struct {
	LogID          uuid.UUID      `json:"log_id" db:"id"`
	FarmerID       string         `json:"farmer_id" db:"farmer_id"`
	District       string         `json:"district" db:"district"`
	RuleName       *string        `json:"rule_name,omitempty" db:"rule_name"`
	DeliveryStatus DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// EffectivenessReport is the operator-facing aggregate over a time window.
type EffectivenessReport struct {
	From                time.Time           `json:"from"`
	To                  time.Time           `json:"to"`
	Counts              StatusCounts        `json:"counts"`
	DeliverySuccessRate *float64            `json:"delivery_success_rate"`
	OpenRate            *float64            `json:"open_rate"`
	FeedbackRate        *float64            `json:"feedback_rate"`
	ByChannel           []ChannelStats      `json:"by_channel"`
	ByRule              []RuleEffectiveness `json:"by_rule"`
	ByDistrict          []DistrictStats     `json:"by_district"`
	AlertFatigueFarmers []FarmerAlertCount  `json:"alert_fatigue_farmers"`
	IgnoredEmergencies  []IgnoredEmergency  `json:"ignored_emergencies"`
	GeneratedAt         time.Time           `json:"generated_at"`
}

// Ratio returns num/den, or nil when den is zero.
func Ratio(num, den int64) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}
