package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const advisoryRuleColumns = `
	id, rule_group_id, name, definition, rule_type, priority, version, status,
	is_active, effective_from, effective_to, created_at, updated_at, created_by, updated_by`

type AdvisoryRuleRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewAdvisoryRuleRepository(db *sqlx.DB, log *zap.Logger) *AdvisoryRuleRepository {
	return &AdvisoryRuleRepository{db: db, log: log}
}

// ============================================================================
// CREATE OPERATIONS
// ============================================================================

// Create inserts a rule row as-is. Callers set status, version and group.
func (r *AdvisoryRuleRepository) Create(ctx context.Context, rule *models.AdvisoryRule) error {
	return r.insert(ctx, r.db, rule)
}

func (r *AdvisoryRuleRepository) insert(ctx context.Context, exec sqlx.ExtContext, rule *models.AdvisoryRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.RuleGroupID == uuid.Nil {
		rule.RuleGroupID = rule.ID
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO advisory_rules (` + advisoryRuleColumns + `
		) VALUES (
			:id, :rule_group_id, :name, :definition, :rule_type, :priority, :version, :status,
			:is_active, :effective_from, :effective_to, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := sqlx.NamedExecContext(ctx, exec, query, rule); err != nil {
		r.log.Error("failed to create advisory rule",
			zap.String("rule_id", rule.ID.String()),
			zap.String("name", rule.Name),
			zap.Error(err))
		return fmt.Errorf("failed to create advisory rule: %w", err)
	}

	r.log.Info("created advisory rule",
		zap.String("rule_id", rule.ID.String()),
		zap.String("rule_group_id", rule.RuleGroupID.String()),
		zap.Int("version", rule.Version),
		zap.String("status", string(rule.Status)))
	return nil
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

func (r *AdvisoryRuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AdvisoryRule, error) {
	var rule models.AdvisoryRule
	query := `SELECT ` + advisoryRuleColumns + ` FROM advisory_rules WHERE id = $1`

	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, models.ErrRuleNotFound)
		}
		return nil, fmt.Errorf("failed to get advisory rule: %w", err)
	}
	return &rule, nil
}

// ListActive returns ACTIVE rules ordered by priority (1 = most urgent).
// The effective window is not filtered here; callers check eligibility at use time.
func (r *AdvisoryRuleRepository) ListActive(ctx context.Context) ([]models.AdvisoryRule, error) {
	var rules []models.AdvisoryRule
	query := `
		SELECT ` + advisoryRuleColumns + `
		FROM advisory_rules
		WHERE status = 'ACTIVE' AND is_active = TRUE
		ORDER BY priority ASC, name ASC`

	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		r.log.Error("failed to list active advisory rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list active advisory rules: %w", err)
	}
	return rules, nil
}

// ListByGroup returns every version of a rule, newest first.
func (r *AdvisoryRuleRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.AdvisoryRule, error) {
	var rules []models.AdvisoryRule
	query := `
		SELECT ` + advisoryRuleColumns + `
		FROM advisory_rules
		WHERE rule_group_id = $1
		ORDER BY version DESC`

	if err := r.db.SelectContext(ctx, &rules, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list advisory rule versions: %w", err)
	}
	return rules, nil
}

// ============================================================================
// UPDATE OPERATIONS
// ============================================================================

// UpdateDraft edits a DRAFT rule in place. Non-draft rules return ErrRuleNotEditable.
func (r *AdvisoryRuleRepository) UpdateDraft(ctx context.Context, rule *models.AdvisoryRule) error {
	rule.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE advisory_rules SET
			name = $1, definition = $2, rule_type = $3, priority = $4,
			effective_from = $5, effective_to = $6, updated_at = $7, updated_by = $8
		WHERE id = $9 AND status = 'DRAFT'`

	err := execWithCheck(ctx, r.db, query,
		rule.Name, rule.Definition, rule.RuleType, rule.Priority,
		rule.EffectiveFrom, rule.EffectiveTo, rule.UpdatedAt, rule.UpdatedBy, rule.ID)
	if errors.Is(err, errNoRowsAffected) {
		return fmt.Errorf("rule %s is not a draft: %w", rule.ID, models.ErrRuleNotEditable)
	}
	return err
}

// Activate moves a DRAFT rule to ACTIVE.
func (r *AdvisoryRuleRepository) Activate(ctx context.Context, id uuid.UUID, actor *string, now time.Time) error {
	query := `
		UPDATE advisory_rules
		SET status = 'ACTIVE', is_active = TRUE, updated_at = $1, updated_by = $2
		WHERE id = $3 AND status = 'DRAFT'`

	err := execWithCheck(ctx, r.db, query, now, actor, id)
	if errors.Is(err, errNoRowsAffected) {
		return fmt.Errorf("rule %s is not a draft: %w", id, models.ErrRuleNotEditable)
	}
	return err
}

// Archive retires a rule. ARCHIVED is terminal.
func (r *AdvisoryRuleRepository) Archive(ctx context.Context, id uuid.UUID, actor *string, now time.Time) error {
	return r.archive(ctx, r.db, id, actor, now)
}

func (r *AdvisoryRuleRepository) archive(ctx context.Context, exec sqlx.ExecerContext, id uuid.UUID, actor *string, now time.Time) error {
	query := `
		UPDATE advisory_rules
		SET status = 'ARCHIVED', is_active = FALSE, updated_at = $1, updated_by = $2
		WHERE id = $3 AND status <> 'ARCHIVED'`

	err := execWithCheck(ctx, exec, query, now, actor, id)
	if errors.Is(err, errNoRowsAffected) {
		return fmt.Errorf("rule %s is archived or missing: %w", id, models.ErrRuleNotEditable)
	}
	return err
}

// ReplaceWithVersion archives the current ACTIVE row and inserts next in one transaction,
// so a rule group never has two live versions and past deliveries keep pointing at the old row.
func (r *AdvisoryRuleRepository) ReplaceWithVersion(ctx context.Context, current *models.AdvisoryRule, next *models.AdvisoryRule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		UPDATE advisory_rules
		SET status = 'ARCHIVED', is_active = FALSE, effective_to = COALESCE(effective_to, GREATEST(effective_from, $1)), updated_at = $1, updated_by = $2
		WHERE id = $3 AND status = 'ACTIVE'`
	if err := execWithCheck(ctx, tx, query, now, next.CreatedBy, current.ID); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return fmt.Errorf("rule %s is no longer active: %w", current.ID, models.ErrRuleNotEditable)
		}
		return err
	}

	next.RuleGroupID = current.RuleGroupID
	next.Version = current.Version + 1
	if err := r.insert(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule version: %w", err)
	}
	return nil
}
