package models

import (
	"time"

	"github.com/google/uuid"
)

// WeatherAdvisory is a region-wide bulletin. Unlike delivery logs it is not deduplicated.
type WeatherAdvisory struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	Description   string     `json:"description" db:"description"`
	Region        string     `json:"region" db:"region"`
	AlertLevel    AlertLevel `json:"alert_level" db:"alert_level"`
	WeatherSignal *string    `json:"weather_signal,omitempty" db:"weather_signal"`
	ValidUntil    time.Time  `json:"valid_until" db:"valid_until"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
