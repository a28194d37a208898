package models

import "time"

// ============================================================================
// WEATHER DATA (consumed from weather-service)
// ============================================================================

// WeatherReading is a single observation or forecast step for a district.
// Nil measurements mean "not measured" and must never be read as zero.
type WeatherReading struct {
	District       string     `json:"district"`
	Temperature    *float64   `json:"temperature,omitempty"`
	MinTemperature *float64   `json:"min_temperature,omitempty"`
	MaxTemperature *float64   `json:"max_temperature,omitempty"`
	Rainfall       *float64   `json:"rainfall,omitempty"`
	Rainfall24h    *float64   `json:"rainfall_24h,omitempty"`
	Humidity       *float64   `json:"humidity,omitempty"`
	WindSpeed      *float64   `json:"wind_speed,omitempty"`
	AlertType      *string    `json:"alert_type,omitempty"`
	AlertSeverity  *string    `json:"alert_severity,omitempty"`
	ObservedAt     *time.Time `json:"observed_at,omitempty"`
}

// HasMeasurements reports whether the reading carries any usable value.
func (r *WeatherReading) HasMeasurements() bool {
	if r == nil {
		return false
	}
	return r.Temperature != nil || r.MinTemperature != nil || r.MaxTemperature != nil ||
		r.Rainfall != nil || r.Rainfall24h != nil || r.Humidity != nil || r.WindSpeed != nil ||
		(r.AlertType != nil && *r.AlertType != "")
}

// EffectiveRainfall24h prefers the 24h forecast and falls back to the instantaneous reading.
func (r *WeatherReading) EffectiveRainfall24h() *float64 {
	if r.Rainfall24h != nil {
		return r.Rainfall24h
	}
	return r.Rainfall
}

func (r *WeatherReading) EffectiveMaxTemperature() *float64 {
	if r.MaxTemperature != nil {
		return r.MaxTemperature
	}
	return r.Temperature
}

func (r *WeatherReading) EffectiveMinTemperature() *float64 {
	if r.MinTemperature != nil {
		return r.MinTemperature
	}
	return r.Temperature
}

// Float64 returns a pointer to v, handy for building readings.
func Float64(v float64) *float64 {
	return &v
}

func String(v string) *string {
	return &v
}
