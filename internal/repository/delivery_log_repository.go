package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const deliveryLogColumns = `
	id, farmer_id, rule_id, rule_name, advisory_type, severity,
	weather_signal, disease_code, pest_code, district, crop_type, growth_stage, season, risk_level,
	temperature, rainfall, humidity, delivery_status, channel, priority, deduplication_key,
	failure_reason, title, content, retry_count, permanent_failure, feedback, feedback_comment,
	created_at, last_attempt_at, delivered_at, opened_at, feedback_at`

type DeliveryLogRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewDeliveryLogRepository(db *sqlx.DB, log *zap.Logger) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db, log: log}
}

// ============================================================================
// CREATE OPERATIONS
// ============================================================================

// InsertIfAbsent inserts the log unless its deduplication key already exists.
// It returns false, without error, when the key was taken.
func (r *DeliveryLogRepository) InsertIfAbsent(ctx context.Context, entry *models.AdvisoryDeliveryLog) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO advisory_delivery_logs (` + deliveryLogColumns + `
		) VALUES (
			:id, :farmer_id, :rule_id, :rule_name, :advisory_type, :severity,
			:weather_signal, :disease_code, :pest_code, :district, :crop_type, :growth_stage, :season, :risk_level,
			:temperature, :rainfall, :humidity, :delivery_status, :channel, :priority, :deduplication_key,
			:failure_reason, :title, :content, :retry_count, :permanent_failure, :feedback, :feedback_comment,
			:created_at, :last_attempt_at, :delivered_at, :opened_at, :feedback_at
		)
		ON CONFLICT (deduplication_key) DO NOTHING
		RETURNING id`

	bound, args, err := r.db.BindNamed(query, entry)
	if err != nil {
		return false, fmt.Errorf("failed to bind delivery log insert: %w", err)
	}

	var insertedID uuid.UUID
	err = r.db.QueryRowxContext(ctx, bound, args...).Scan(&insertedID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		r.log.Debug("duplicate advisory trigger absorbed",
			zap.String("deduplication_key", entry.DeduplicationKey),
			zap.String("farmer_id", entry.FarmerID))
		return false, nil
	default:
		r.log.Error("failed to insert delivery log",
			zap.String("farmer_id", entry.FarmerID),
			zap.Error(err))
		return false, fmt.Errorf("failed to insert delivery log: %w", err)
	}
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

func (r *DeliveryLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AdvisoryDeliveryLog, error) {
	var entry models.AdvisoryDeliveryLog
	query := `SELECT ` + deliveryLogColumns + ` FROM advisory_delivery_logs WHERE id = $1`

	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delivery log %s: %w", id, models.ErrDeliveryLogNotFound)
		}
		return nil, fmt.Errorf("failed to get delivery log: %w", err)
	}
	return &entry, nil
}

func (r *DeliveryLogRepository) List(ctx context.Context, filter models.DeliveryLogFilter) ([]models.AdvisoryDeliveryLog, error) {
	qb := QueryBuilder{
		TemplateQuery: `SELECT ` + deliveryLogColumns + ` FROM advisory_delivery_logs`,
		OrderBy:       []string{"created_at DESC"},
		Limit:         filter.Limit,
	}
	if filter.FarmerID != nil {
		qb.Conditions = append(qb.Conditions, Condition{Field: "farmer_id", Operator: "=", Value: *filter.FarmerID})
	}
	if filter.RuleID != nil {
		qb.Conditions = append(qb.Conditions, Condition{Field: "rule_id", Operator: "=", Value: *filter.RuleID})
	}
	if filter.District != nil {
		qb.Conditions = append(qb.Conditions, Condition{Field: "LOWER(district)", Operator: "=", Value: normalizeDistrict(*filter.District)})
	}
	if len(filter.Statuses) > 0 {
		qb.Conditions = append(qb.Conditions, Condition{Field: "delivery_status", Operator: "ANY", Value: models.DeliveryStatusesToStrings(filter.Statuses)})
	}
	if filter.From != nil {
		qb.Conditions = append(qb.Conditions, Condition{Field: "created_at", Operator: ">=", Value: *filter.From})
	}
	if filter.To != nil {
		qb.Conditions = append(qb.Conditions, Condition{Field: "created_at", Operator: "<", Value: *filter.To})
	}

	query, args, err := qb.BuildQueryDynamicFilter()
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery log query: %w", err)
	}

	var entries []models.AdvisoryDeliveryLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return entries, nil
}

// CountForFarmerSince counts logs for a farmer created at or after since, failed ones excluded.
func (r *DeliveryLogRepository) CountForFarmerSince(ctx context.Context, farmerID string, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM advisory_delivery_logs
		WHERE farmer_id = $1 AND created_at >= $2 AND delivery_status <> 'DELIVERY_FAILED'`

	if err := r.db.GetContext(ctx, &count, query, farmerID, since); err != nil {
		return 0, fmt.Errorf("failed to count farmer advisories: %w", err)
	}
	return count, nil
}

// ExistingKeys reports which of the given deduplication keys are already recorded.
func (r *DeliveryLogRepository) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	var existing []string
	query := `SELECT deduplication_key FROM advisory_delivery_logs WHERE deduplication_key = ANY($1)`
	if err := r.db.SelectContext(ctx, &existing, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("failed to look up deduplication keys: %w", err)
	}
	for _, key := range existing {
		found[key] = true
	}
	return found, nil
}

// ClaimRetryable selects stale PENDING logs and retryable failed logs, oldest first,
// and stamps last_attempt_at = now on them in the same statement. A claimed row is
// invisible to other sweeps until its last attempt is older than staleBefore;
// concurrent claimers skip rows another transaction has locked.
func (r *DeliveryLogRepository) ClaimRetryable(ctx context.Context, now, staleBefore time.Time, maxRetries int, limit int) ([]models.AdvisoryDeliveryLog, error) {
	query := `
		WITH due AS (
			SELECT id FROM advisory_delivery_logs
			WHERE (last_attempt_at IS NULL OR last_attempt_at < $1)
			  AND ((delivery_status = 'PENDING' AND created_at < $1)
			    OR (delivery_status = 'DELIVERY_FAILED' AND retry_count <= $2 AND NOT permanent_failure))
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE advisory_delivery_logs AS l
		SET last_attempt_at = $4
		FROM due
		WHERE l.id = due.id
		RETURNING l.*`

	var entries []models.AdvisoryDeliveryLog
	if err := r.db.SelectContext(ctx, &entries, query, staleBefore, maxRetries, limit, now); err != nil {
		return nil, fmt.Errorf("failed to claim retryable delivery logs: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// ============================================================================
// STATE TRANSITIONS
// ============================================================================

type transitionRow struct {
	models.AdvisoryDeliveryLog
	PreviousStatus models.DeliveryStatus `db:"previous_status"`
}

// Transition applies change only if the log's current status is an allowed source for change.To.
// The row is locked for the duration so concurrent writers serialize and none can move it backwards.
// It returns the updated log and the status it moved from.
func (r *DeliveryLogRepository) Transition(ctx context.Context, id uuid.UUID, change models.StatusChange) (*models.AdvisoryDeliveryLog, models.DeliveryStatus, error) {
	allowed := models.AllowedSources(change.To)
	if len(allowed) == 0 {
		return nil, "", fmt.Errorf("no transition into %s: %w", change.To, models.ErrInvalidTransition)
	}

	var setClause string
	args := []any{id, pq.Array(models.DeliveryStatusesToStrings(allowed)), change.At}
	switch change.To {
	case models.DeliveryDelivered:
		setClause = `delivery_status = 'DELIVERED', delivered_at = $3, last_attempt_at = $3, failure_reason = NULL,
			channel = COALESCE(NULLIF($4, ''), l.channel)`
		args = append(args, string(change.Channel))
	case models.DeliveryFailed:
		setClause = `delivery_status = 'DELIVERY_FAILED', last_attempt_at = $3, failure_reason = $4, retry_count = l.retry_count + 1,
			channel = COALESCE(NULLIF($5, ''), l.channel), permanent_failure = $6`
		args = append(args, change.Reason, string(change.Channel), change.Permanent)
	case models.DeliveryOpened:
		setClause = `delivery_status = 'OPENED', opened_at = $3`
	case models.DeliveryFeedbackReceived:
		setClause = `delivery_status = 'FEEDBACK_RECEIVED', opened_at = COALESCE(l.opened_at, $3), feedback_at = $3, feedback = $4, feedback_comment = $5`
		args = append(args, change.Feedback, change.Comment)
	}

	query := `
		WITH prev AS (
			SELECT id, delivery_status FROM advisory_delivery_logs WHERE id = $1 FOR UPDATE
		)
		UPDATE advisory_delivery_logs AS l
		SET ` + setClause + `
		FROM prev
		WHERE l.id = prev.id AND prev.delivery_status = ANY($2)
		RETURNING l.*, prev.delivery_status AS previous_status`

	var row transitionRow
	err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&row)
	if err == nil {
		return &row.AdvisoryDeliveryLog, row.PreviousStatus, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("failed to transition delivery log: %w", err)
	}

	// Nothing updated: either the log does not exist or it is in a state that forbids the move.
	var current models.DeliveryStatus
	err = r.db.GetContext(ctx, &current, `SELECT delivery_status FROM advisory_delivery_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("delivery log %s: %w", id, models.ErrDeliveryLogNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read delivery log status: %w", err)
	}
	return nil, current, fmt.Errorf("delivery log %s: %s -> %s: %w", id, current, change.To, models.ErrInvalidTransition)
}

func normalizeDistrict(district string) string {
	return strings.ToLower(strings.TrimSpace(district))
}
