package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"advisory-service/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// AnalyticsRepository runs read-only aggregations over the delivery log.
type AnalyticsRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewAnalyticsRepository(db *sqlx.DB, log *zap.Logger) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, log: log}
}

// ReportData is every raw aggregate the effectiveness report is folded from.
type ReportData struct {
	Stats              []models.DeliveryStatRow
	FatigueFarmers     []models.FarmerAlertCount
	IgnoredEmergencies []models.IgnoredEmergency
}

// LoadReportData reads all aggregates inside one read-only snapshot so the parts agree
// with each other even while the pipeline keeps writing.
func (r *AnalyticsRepository) LoadReportData(ctx context.Context, from, to time.Time, fatigueThreshold int, emergencyCutoff time.Time) (*ReportData, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin analytics snapshot: %w", err)
	}
	defer tx.Rollback()

	data := &ReportData{}
	if data.Stats, err = deliveryStats(ctx, tx, from, to); err != nil {
		return nil, err
	}
	if data.FatigueFarmers, err = alertFatigueFarmers(ctx, tx, fatigueThreshold, from, to); err != nil {
		return nil, err
	}
	if data.IgnoredEmergencies, err = ignoredEmergencies(ctx, tx, from, emergencyCutoff); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to close analytics snapshot: %w", err)
	}
	return data, nil
}

func (r *AnalyticsRepository) DeliveryStats(ctx context.Context, from, to time.Time) ([]models.DeliveryStatRow, error) {
	return deliveryStats(ctx, r.db, from, to)
}

func (r *AnalyticsRepository) AlertFatigueFarmers(ctx context.Context, threshold int, from, to time.Time) ([]models.FarmerAlertCount, error) {
	return alertFatigueFarmers(ctx, r.db, threshold, from, to)
}

func (r *AnalyticsRepository) IgnoredEmergencies(ctx context.Context, from, cutoff time.Time) ([]models.IgnoredEmergency, error) {
	return ignoredEmergencies(ctx, r.db, from, cutoff)
}

func deliveryStats(ctx context.Context, q sqlx.QueryerContext, from, to time.Time) ([]models.DeliveryStatRow, error) {
	query := `
		SELECT delivery_status, channel, rule_id, rule_name, district, severity, feedback, COUNT(*) AS count
		FROM advisory_delivery_logs
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY delivery_status, channel, rule_id, rule_name, district, severity, feedback`

	var rows []models.DeliveryStatRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	return rows, nil
}

// alertFatigueFarmers lists farmers who received more than threshold advisories on any single
// UTC day of the window, with their busiest day's count.
func alertFatigueFarmers(ctx context.Context, q sqlx.QueryerContext, threshold int, from, to time.Time) ([]models.FarmerAlertCount, error) {
	query := `
		SELECT farmer_id, MAX(daily) AS count
		FROM (
			SELECT farmer_id, date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, COUNT(*) AS daily
			FROM advisory_delivery_logs
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY farmer_id, day
		) per_day
		WHERE daily > $3
		GROUP BY farmer_id
		ORDER BY count DESC, farmer_id ASC`

	var farmers []models.FarmerAlertCount
	if err := sqlx.SelectContext(ctx, q, &farmers, query, from, to, threshold); err != nil {
		return nil, fmt.Errorf("failed to query alert fatigue farmers: %w", err)
	}
	return farmers, nil
}

// ignoredEmergencies lists EMERGENCY logs created in [from, cutoff) that were never opened.
func ignoredEmergencies(ctx context.Context, q sqlx.QueryerContext, from, cutoff time.Time) ([]models.IgnoredEmergency, error) {
	query := `
		SELECT id, farmer_id, district, rule_name, delivery_status, created_at
		FROM advisory_delivery_logs
		WHERE severity = 'EMERGENCY'
		  AND opened_at IS NULL
		  AND created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC`

	var ignored []models.IgnoredEmergency
	if err := sqlx.SelectContext(ctx, q, &ignored, query, from, cutoff); err != nil {
		return nil, fmt.Errorf("failed to query ignored emergencies: %w", err)
	}
	return ignored, nil
}
