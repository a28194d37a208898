package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// ADVISORY RULES (versioned, effective-dated)
// ============================================================================

type AdvisoryRule struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	RuleGroupID   uuid.UUID  `json:"rule_group_id" db:"rule_group_id"`
	Name          string     `json:"name" db:"name"`
	Definition    JSONRaw    `json:"definition" db:"definition"`
	RuleType      RuleType   `json:"rule_type" db:"rule_type"`
	Priority      int        `json:"priority" db:"priority"`
	Version       int        `json:"version" db:"version"`
	Status        RuleStatus `json:"status" db:"status"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	CreatedBy     *string    `json:"created_by,omitempty" db:"created_by"`
	UpdatedBy     *string    `json:"updated_by,omitempty" db:"updated_by"`
}

// IsEligible reports whether the rule may be matched at the given instant.
func (r *AdvisoryRule) IsEligible(now time.Time) bool {
	if r.Status != RuleActive || !r.IsActive {
		return false
	}
	if now.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && now.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// RuleDefinition is the JSON document stored in advisory_rules.definition.
type RuleDefinition struct {
	Conditions ConditionNode `json:"conditions"`
	Outcome    RuleOutcome   `json:"outcome"`
}

// ConditionNode is either a composite (AND/OR/NOT with children) or a leaf
// comparing one context field against Value / Values.
type ConditionNode struct {
	Op       string          `json:"op"`
	Field    string          `json:"field,omitempty"`
	Value    any             `json:"value,omitempty"`
	Values   []any           `json:"values,omitempty"`
	Children []ConditionNode `json:"children,omitempty"`
}

func (n ConditionNode) IsComposite() bool {
	switch LogicalOperator(n.Op) {
	case LogicalAND, LogicalOR, LogicalNOT:
		return true
	default:
		return false
	}
}

type RuleOutcome struct {
	Severity        Severity         `json:"severity"`
	AdvisoryType    string           `json:"advisory_type,omitempty"`
	Title           string           `json:"title,omitempty"`
	MessageTemplate string           `json:"message_template,omitempty"`
	ContentKey      string           `json:"content_key,omitempty"`
	Channel         *DeliveryChannel `json:"channel,omitempty"`
}

func (o RuleOutcome) ToMap() map[string]any {
	out := map[string]any{
		"severity":      string(o.Severity),
		"advisory_type": o.AdvisoryType,
		"title":         o.Title,
	}
	if o.ContentKey != "" {
		out["content_key"] = o.ContentKey
	}
	if o.Channel != nil {
		out["channel"] = string(*o.Channel)
	}
	return out
}

// CreateRuleRequest is used both for new drafts and for new versions of an existing rule.
type CreateRuleRequest struct {
	Name          string         `json:"name"`
	Definition    RuleDefinition `json:"definition"`
	RuleType      RuleType       `json:"rule_type"`
	Priority      int            `json:"priority"`
	EffectiveFrom *time.Time     `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time     `json:"effective_to,omitempty"`
	Actor         string         `json:"actor"`
}

func (r CreateRuleRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Priority < 1 {
		return fmt.Errorf("priority must be >= 1 (1 is the most urgent)")
	}
	switch r.RuleType {
	case RuleTypeWeather, RuleTypeDisease, RuleTypePest, RuleTypeGeneral:
	default:
		return fmt.Errorf("invalid rule_type: %s", r.RuleType)
	}
	if r.EffectiveFrom != nil && r.EffectiveTo != nil && r.EffectiveTo.Before(*r.EffectiveFrom) {
		return fmt.Errorf("effective_to must not be before effective_from")
	}
	return nil
}

// MarshalDefinition encodes a definition for storage.
func MarshalDefinition(def RuleDefinition) (JSONRaw, error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule definition: %w", err)
	}
	return JSONRaw(raw), nil
}
