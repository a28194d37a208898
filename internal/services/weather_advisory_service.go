package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"advisory-service/internal/models"

	"go.uber.org/zap"
)

const defaultBulletinValidity = 24 * time.Hour

type BulletinStore interface {
	Publish(ctx context.Context, advisory *models.WeatherAdvisory) error
	ListActive(ctx context.Context, region string, now time.Time) ([]models.WeatherAdvisory, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// WeatherAdvisoryService publishes region-wide bulletins. Bulletins are not
// deduplicated; a new one supersedes the region's previous bulletin.
type WeatherAdvisoryService struct {
	store    BulletinStore
	validFor time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewWeatherAdvisoryService(store BulletinStore, validFor time.Duration, log *zap.Logger) *WeatherAdvisoryService {
	if validFor <= 0 {
		validFor = defaultBulletinValidity
	}
	return &WeatherAdvisoryService{
		store:    store,
		validFor: validFor,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PublishFromSignals creates a bulletin for the region's most severe signal.
// Nothing is published when that signal maps to NORMAL.
func (s *WeatherAdvisoryService) PublishFromSignals(ctx context.Context, region string, signals []models.Signal) (*models.WeatherAdvisory, error) {
	top, ok := HighestSeverity(signals)
	if !ok {
		return nil, nil
	}
	level := top.AlertLevel()
	if level == models.AlertLevelNormal {
		return nil, nil
	}

	now := s.now()
	advisory := &models.WeatherAdvisory{
		Title:         bulletinTitle(top, region),
		Description:   bulletinDescription(level, signals),
		Region:        region,
		AlertLevel:    level,
		WeatherSignal: models.String(string(top)),
		ValidUntil:    now.Add(s.validFor),
		IsActive:      true,
		CreatedAt:     now,
	}
	if err := s.store.Publish(ctx, advisory); err != nil {
		return nil, err
	}

	s.log.Info("weather bulletin published",
		zap.String("region", region),
		zap.String("alert_level", string(level)),
		zap.String("signal", string(top)))
	return advisory, nil
}

func (s *WeatherAdvisoryService) ListActive(ctx context.Context, region string) ([]models.WeatherAdvisory, error) {
	return s.store.ListActive(ctx, region, s.now())
}

func (s *WeatherAdvisoryService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired weather bulletins", zap.Int64("count", n))
	}
	return n, nil
}

func bulletinTitle(signal models.Signal, region string) string {
	words := strings.Fields(strings.ToLower(strings.ReplaceAll(string(signal), "_", " ")))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return fmt.Sprintf("%s in %s", strings.Join(words, " "), region)
}

func bulletinDescription(level models.AlertLevel, signals []models.Signal) string {
	var active []string
	for _, sig := range signals {
		if sig != models.SignalNormalConditions {
			active = append(active, string(sig))
		}
	}
	return fmt.Sprintf("%s level weather bulletin. Active conditions: %s.", level, strings.Join(active, ", "))
}
