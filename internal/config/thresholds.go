package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SignalThresholds are the hard numeric cutoffs used by the signal detector.
// Rainfall in mm over 24h, temperatures in °C, humidity in %, wind in km/h.
type SignalThresholds struct {
	HeavyRainAbove       float64  `yaml:"heavy_rain_above"`
	FloodRiskAtLeast     float64  `yaml:"flood_risk_at_least"`
	HeatWaveAtLeast      float64  `yaml:"heat_wave_at_least"`
	HighTempAtLeast      float64  `yaml:"high_temperature_at_least"`
	FrostAtMost          float64  `yaml:"frost_at_most"`
	ColdWaveAtMost       float64  `yaml:"cold_wave_at_most"`
	HighHumidityAtLeast  float64  `yaml:"high_humidity_at_least"`
	LowHumidityAtMost    float64  `yaml:"low_humidity_at_most"`
	StrongWindAtLeast    float64  `yaml:"strong_wind_at_least"`
	StormWindAtLeast     float64  `yaml:"storm_wind_at_least"`
	ExtremeAlertSeverity []string `yaml:"extreme_alert_severities"`
}

func DefaultSignalThresholds() SignalThresholds {
	return SignalThresholds{
		HeavyRainAbove:       100,
		FloodRiskAtLeast:     150,
		HeatWaveAtLeast:      40,
		HighTempAtLeast:      35,
		FrostAtMost:          2,
		ColdWaveAtMost:       7,
		HighHumidityAtLeast:  85,
		LowHumidityAtMost:    30,
		StrongWindAtLeast:    40,
		StormWindAtLeast:     60,
		ExtremeAlertSeverity: []string{"severe", "extreme"},
	}
}

// LoadSignalThresholds reads a YAML file; keys missing from the file keep their default value.
func LoadSignalThresholds(path string) (*SignalThresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read thresholds file: %w", err)
	}

	thresholds := DefaultSignalThresholds()
	if err := yaml.Unmarshal(raw, &thresholds); err != nil {
		return nil, fmt.Errorf("could not parse thresholds file: %w", err)
	}

	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &thresholds, nil
}

// Validate rejects threshold sets whose tiers are inverted.
func (t SignalThresholds) Validate() error {
	if t.FloodRiskAtLeast <= t.HeavyRainAbove {
		return fmt.Errorf("flood_risk_at_least (%v) must be greater than heavy_rain_above (%v)", t.FloodRiskAtLeast, t.HeavyRainAbove)
	}
	if t.HeatWaveAtLeast < t.HighTempAtLeast {
		return fmt.Errorf("heat_wave_at_least (%v) must not be below high_temperature_at_least (%v)", t.HeatWaveAtLeast, t.HighTempAtLeast)
	}
	if t.FrostAtMost > t.ColdWaveAtMost {
		return fmt.Errorf("frost_at_most (%v) must not exceed cold_wave_at_most (%v)", t.FrostAtMost, t.ColdWaveAtMost)
	}
	if t.StormWindAtLeast < t.StrongWindAtLeast {
		return fmt.Errorf("storm_wind_at_least (%v) must not be below strong_wind_at_least (%v)", t.StormWindAtLeast, t.StrongWindAtLeast)
	}
	if t.LowHumidityAtMost >= t.HighHumidityAtLeast {
		return fmt.Errorf("low_humidity_at_most (%v) must be below high_humidity_at_least (%v)", t.LowHumidityAtMost, t.HighHumidityAtLeast)
	}
	return nil
}
