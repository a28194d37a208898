package services

import (
	"context"
	"fmt"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RuleStore interface {
	Create(ctx context.Context, rule *models.AdvisoryRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AdvisoryRule, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.AdvisoryRule, error)
	UpdateDraft(ctx context.Context, rule *models.AdvisoryRule) error
	Activate(ctx context.Context, id uuid.UUID, actor *string, now time.Time) error
	Archive(ctx context.Context, id uuid.UUID, actor *string, now time.Time) error
	ReplaceWithVersion(ctx context.Context, current *models.AdvisoryRule, next *models.AdvisoryRule) error
}

type RuleCacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RuleService manages the rule lifecycle DRAFT -> ACTIVE -> ARCHIVED. Live
// rules are never edited in place: an update archives the ACTIVE row and
// inserts the next version under the same rule group.
type RuleService struct {
	store  RuleStore
	cache  RuleCacheInvalidator
	engine *RuleEngine
	log    *zap.Logger
	now    func() time.Time
}

func NewRuleService(store RuleStore, cache RuleCacheInvalidator, engine *RuleEngine, log *zap.Logger) *RuleService {
	return &RuleService{
		store:  store,
		cache:  cache,
		engine: engine,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RuleService) CreateDraft(ctx context.Context, req models.CreateRuleRequest) (*models.AdvisoryRule, error) {
	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}
	rule.Status = models.RuleDraft
	rule.IsActive = false
	rule.Version = 1

	if err := s.store.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleService) Activate(ctx context.Context, id uuid.UUID, actor string) error {
	if err := s.store.Activate(ctx, id, actorPtr(actor), s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, "activate", id)
	return nil
}

// UpdateRule edits a DRAFT in place and versions an ACTIVE rule. ARCHIVED rules
// are not editable. The returned rule is the row now carrying the change.
func (s *RuleService) UpdateRule(ctx context.Context, id uuid.UUID, req models.CreateRuleRequest) (*models.AdvisoryRule, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case models.RuleDraft:
		next.ID = current.ID
		next.RuleGroupID = current.RuleGroupID
		next.Version = current.Version
		next.Status = models.RuleDraft
		next.CreatedAt = current.CreatedAt
		next.CreatedBy = current.CreatedBy
		next.UpdatedBy = actorPtr(req.Actor)
		if err := s.store.UpdateDraft(ctx, next); err != nil {
			return nil, err
		}
		return next, nil

	case models.RuleActive:
		next.Status = models.RuleActive
		next.IsActive = true
		if err := s.store.ReplaceWithVersion(ctx, current, next); err != nil {
			return nil, err
		}
		s.log.Info("advisory rule versioned",
			zap.String("rule_group_id", next.RuleGroupID.String()),
			zap.String("previous_id", current.ID.String()),
			zap.String("rule_id", next.ID.String()),
			zap.Int("version", next.Version))
		s.invalidate(ctx, "update", next.ID)
		return next, nil

	default:
		return nil, fmt.Errorf("rule %s is %s: %w", id, current.Status, models.ErrRuleNotEditable)
	}
}

func (s *RuleService) Archive(ctx context.Context, id uuid.UUID, actor string) error {
	if err := s.store.Archive(ctx, id, actorPtr(actor), s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, "archive", id)
	return nil
}

func (s *RuleService) GetRule(ctx context.Context, id uuid.UUID) (*models.AdvisoryRule, error) {
	return s.store.GetByID(ctx, id)
}

// History returns every version of the rule's group, newest first.
func (s *RuleService) History(ctx context.Context, id uuid.UUID) ([]models.AdvisoryRule, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListByGroup(ctx, rule.RuleGroupID)
}

// SimulateStored evaluates a stored rule of any status against a mock context.
func (s *RuleService) SimulateStored(ctx context.Context, id uuid.UUID, mockContext map[string]any) (*SimulationResult, error) {
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Simulate(rule.Definition, mockContext)
}

func (s *RuleService) buildRule(req models.CreateRuleRequest) (*models.AdvisoryRule, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule request: %w", err)
	}
	if err := ValidateRuleDefinition(&req.Definition); err != nil {
		return nil, err
	}
	definition, err := models.MarshalDefinition(req.Definition)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rule := &models.AdvisoryRule{
		Name:          req.Name,
		Definition:    definition,
		RuleType:      req.RuleType,
		Priority:      req.Priority,
		EffectiveFrom: now,
		EffectiveTo:   req.EffectiveTo,
		CreatedAt:     now,
		CreatedBy:     actorPtr(req.Actor),
	}
	if req.EffectiveFrom != nil {
		rule.EffectiveFrom = req.EffectiveFrom.UTC()
	}
	return rule, nil
}

// invalidate drops the active-rule cache. A failure only delays visibility
// until the cache TTL expires, so it is logged and not returned.
func (s *RuleService) invalidate(ctx context.Context, op string, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("failed to invalidate rule cache",
			zap.String("operation", op),
			zap.String("rule_id", id.String()),
			zap.Error(err))
	}
}

func actorPtr(actor string) *string {
	if actor == "" {
		return nil
	}
	return &actor
}
