package repository

import (
	"context"
	"fmt"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const weatherAdvisoryColumns = `id, title, description, region, alert_level, weather_signal, valid_until, is_active, created_at`

type WeatherAdvisoryRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

func NewWeatherAdvisoryRepository(db *sqlx.DB, log *zap.Logger) *WeatherAdvisoryRepository {
	return &WeatherAdvisoryRepository{db: db, log: log}
}

// Publish deactivates the region's current bulletins and inserts the new one atomically.
func (r *WeatherAdvisoryRepository) Publish(ctx context.Context, advisory *models.WeatherAdvisory) error {
	if advisory.ID == uuid.Nil {
		advisory.ID = uuid.New()
	}
	if advisory.CreatedAt.IsZero() {
		advisory.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE weather_advisories SET is_active = FALSE WHERE region = $1 AND is_active = TRUE`,
		advisory.Region); err != nil {
		return fmt.Errorf("failed to supersede weather advisories: %w", err)
	}

	query := `
		INSERT INTO weather_advisories (` + weatherAdvisoryColumns + `)
		VALUES (:id, :title, :description, :region, :alert_level, :weather_signal, :valid_until, :is_active, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, advisory); err != nil {
		return fmt.Errorf("failed to create weather advisory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit weather advisory: %w", err)
	}

	r.log.Info("weather advisory published",
		zap.String("id", advisory.ID.String()),
		zap.String("region", advisory.Region),
		zap.String("alert_level", string(advisory.AlertLevel)))
	return nil
}

// ListActive returns bulletins still valid at now; an empty region lists every region.
func (r *WeatherAdvisoryRepository) ListActive(ctx context.Context, region string, now time.Time) ([]models.WeatherAdvisory, error) {
	qb := QueryBuilder{
		TemplateQuery: `SELECT ` + weatherAdvisoryColumns + ` FROM weather_advisories`,
		Conditions: []Condition{
			{Field: "is_active", Operator: "=", Value: true},
			{Field: "valid_until", Operator: ">", Value: now},
		},
		OrderBy: []string{"created_at DESC"},
	}
	if region != "" {
		qb.Conditions = append(qb.Conditions, Condition{Field: "LOWER(region)", Operator: "=", Value: normalizeDistrict(region)})
	}

	query, args, err := qb.BuildQueryDynamicFilter()
	if err != nil {
		return nil, err
	}

	var advisories []models.WeatherAdvisory
	if err := r.db.SelectContext(ctx, &advisories, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list weather advisories: %w", err)
	}
	return advisories, nil
}

// ExpireStale deactivates bulletins whose validity ended before now.
func (r *WeatherAdvisoryRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE weather_advisories SET is_active = FALSE WHERE is_active = TRUE AND valid_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire weather advisories: %w", err)
	}
	return result.RowsAffected()
}
