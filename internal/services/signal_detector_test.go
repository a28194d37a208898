package services

import (
	"testing"

	"advisory-service/internal/config"
	"advisory-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *SignalDetector {
	return NewSignalDetector(config.DefaultSignalThresholds())
}

// ============================================================================
// TEST SUITE 1: DATA ABSENCE
// ============================================================================

func TestDetectSignals_NilReadingIsNoData(t *testing.T) {
	signals := newTestDetector().DetectSignals(nil)
	assert.NotNil(t, signals)
	assert.Empty(t, signals)
}

func TestDetectSignals_EmptyReadingIsNoData(t *testing.T) {
	signals := newTestDetector().DetectSignals(&models.WeatherReading{District: "Kathmandu"})
	assert.Empty(t, signals)
}

func TestDetectSignals_SafeRangeIsNormal(t *testing.T) {
	reading := &models.WeatherReading{
		District:    "Kathmandu",
		Temperature: models.Float64(22),
		Rainfall:    models.Float64(5),
		Humidity:    models.Float64(60),
		WindSpeed:   models.Float64(10),
	}
	assert.Equal(t, []models.Signal{models.SignalNormalConditions}, newTestDetector().DetectSignals(reading))
}

// ============================================================================
// TEST SUITE 2: AXIS THRESHOLDS
// ============================================================================

func TestDetectSignals_Rainfall(t *testing.T) {
	tests := []struct {
		name     string
		reading  models.WeatherReading
		expected []models.Signal
	}{
		{"exactly 100 is not heavy", models.WeatherReading{Rainfall24h: models.Float64(100)}, []models.Signal{models.SignalNormalConditions}},
		{"101 is heavy only", models.WeatherReading{Rainfall24h: models.Float64(101)}, []models.Signal{models.SignalHeavyRainExpected}},
		{"149.9 is heavy only", models.WeatherReading{Rainfall24h: models.Float64(149.9)}, []models.Signal{models.SignalHeavyRainExpected}},
		{"exactly 150 adds flood", models.WeatherReading{Rainfall24h: models.Float64(150)}, []models.Signal{models.SignalHeavyRainExpected, models.SignalFloodRisk}},
		{"falls back to instantaneous", models.WeatherReading{Rainfall: models.Float64(120)}, []models.Signal{models.SignalHeavyRainExpected}},
		{"24h wins over instantaneous", models.WeatherReading{Rainfall: models.Float64(200), Rainfall24h: models.Float64(50)}, []models.Signal{models.SignalNormalConditions}},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := tt.reading
			assert.Equal(t, tt.expected, d.DetectSignals(&reading))
		})
	}
}

func TestDetectSignals_Temperature(t *testing.T) {
	tests := []struct {
		name     string
		reading  models.WeatherReading
		expected []models.Signal
	}{
		{"heat wave at 40", models.WeatherReading{Temperature: models.Float64(40)}, []models.Signal{models.SignalHeatWaveAlert}},
		{"high temperature at 35", models.WeatherReading{Temperature: models.Float64(35)}, []models.Signal{models.SignalHighTemperature}},
		{"34.9 is normal", models.WeatherReading{Temperature: models.Float64(34.9)}, []models.Signal{models.SignalNormalConditions}},
		{"frost at 2", models.WeatherReading{Temperature: models.Float64(2)}, []models.Signal{models.SignalColdWave, models.SignalFrostRisk}},
		{"cold wave at 7", models.WeatherReading{Temperature: models.Float64(7)}, []models.Signal{models.SignalColdWave}},
		{
			"min and max evaluated separately",
			models.WeatherReading{MinTemperature: models.Float64(1), MaxTemperature: models.Float64(41)},
			[]models.Signal{models.SignalHeatWaveAlert, models.SignalColdWave, models.SignalFrostRisk},
		},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := tt.reading
			assert.Equal(t, tt.expected, d.DetectSignals(&reading))
		})
	}
}

func TestDetectSignals_HumidityAndWind(t *testing.T) {
	tests := []struct {
		name     string
		reading  models.WeatherReading
		expected []models.Signal
	}{
		{"humid", models.WeatherReading{Humidity: models.Float64(85)}, []models.Signal{models.SignalHighHumidity}},
		{"dry", models.WeatherReading{Humidity: models.Float64(30)}, []models.Signal{models.SignalLowHumidity}},
		{"strong wind", models.WeatherReading{WindSpeed: models.Float64(40)}, []models.Signal{models.SignalStrongWind}},
		{"storm wind", models.WeatherReading{WindSpeed: models.Float64(60)}, []models.Signal{models.SignalStrongWind, models.SignalStormWarning}},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := tt.reading
			assert.Equal(t, tt.expected, d.DetectSignals(&reading))
		})
	}
}

// ============================================================================
// TEST SUITE 3: PROVIDER ALERTS
// ============================================================================

func TestDetectSignals_Alerts(t *testing.T) {
	tests := []struct {
		name     string
		alert    string
		severity *string
		expected []models.Signal
	}{
		{"thunderstorm before storm", "Severe Thunderstorm Warning", nil, []models.Signal{models.SignalThunderstormAlert}},
		{"hail", "HAIL", nil, []models.Signal{models.SignalHailstormAlert}},
		{"flood", "flash flood watch", nil, []models.Signal{models.SignalFloodRisk}},
		{"storm", "tropical storm", nil, []models.Signal{models.SignalStormWarning}},
		{"wind", "high wind advisory", nil, []models.Signal{models.SignalStrongWind}},
		{"unmatched but extreme", "dust", models.String("Extreme"), []models.Signal{models.SignalExtremeWeather}},
		{"unmatched and mild", "fog", models.String("minor"), []models.Signal{models.SignalNormalConditions}},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := &models.WeatherReading{AlertType: models.String(tt.alert), AlertSeverity: tt.severity}
			assert.Equal(t, tt.expected, d.DetectSignals(reading))
		})
	}
}

func TestDetectSignals_DuplicatesRemovedInOrder(t *testing.T) {
	reading := &models.WeatherReading{
		Rainfall24h: models.Float64(160),
		WindSpeed:   models.Float64(45),
		AlertType:   models.String("flood"),
	}
	assert.Equal(t,
		[]models.Signal{models.SignalHeavyRainExpected, models.SignalFloodRisk, models.SignalStrongWind},
		newTestDetector().DetectSignals(reading))
}

func TestDetectSignals_KathmanduScenario(t *testing.T) {
	reading := &models.WeatherReading{District: "Kathmandu", Rainfall24h: models.Float64(160)}
	assert.Equal(t,
		[]models.Signal{models.SignalHeavyRainExpected, models.SignalFloodRisk},
		newTestDetector().DetectSignals(reading))
}

// ============================================================================
// TEST SUITE 4: TIE-BREAK
// ============================================================================

func TestHighestSeverity(t *testing.T) {
	_, ok := HighestSeverity(nil)
	assert.False(t, ok)

	best, ok := HighestSeverity([]models.Signal{models.SignalColdWave, models.SignalFrostRisk, models.SignalHighHumidity})
	assert.True(t, ok)
	assert.Equal(t, models.SignalFrostRisk, best)

	best, _ = HighestSeverity([]models.Signal{models.SignalHeavyRainExpected, models.SignalFloodRisk})
	assert.Equal(t, models.SignalFloodRisk, best)
}

// ============================================================================
// TEST SUITE 5: MERGING & ALERT UNION
// ============================================================================

func TestMergeWeather_ForecastFillsGaps(t *testing.T) {
	current := &models.WeatherReading{Temperature: models.Float64(30), Rainfall: models.Float64(4)}
	forecast := []models.WeatherReading{
		{Rainfall: models.Float64(60), Temperature: models.Float64(33), WindSpeed: models.Float64(20)},
		{Rainfall: models.Float64(55), MaxTemperature: models.Float64(36), MinTemperature: models.Float64(21)},
		{Rainfall: models.Float64(45), Humidity: models.Float64(88), WindSpeed: models.Float64(42)},
	}

	merged := MergeWeather("Chitwan", current, forecast)

	require.NotNil(t, merged)
	assert.Equal(t, "Chitwan", merged.District)
	assert.InDelta(t, 160, *merged.Rainfall24h, 1e-9)
	assert.InDelta(t, 36, *merged.MaxTemperature, 1e-9)
	assert.InDelta(t, 21, *merged.MinTemperature, 1e-9)
	assert.InDelta(t, 42, *merged.WindSpeed, 1e-9)
	assert.InDelta(t, 88, *merged.Humidity, 1e-9)
	assert.InDelta(t, 4, *merged.Rainfall, 1e-9, "instantaneous rainfall is untouched")
	assert.Nil(t, current.Rainfall24h, "input is not mutated")
}

func TestMergeWeather_ObservedValuesWin(t *testing.T) {
	current := &models.WeatherReading{
		District:    "Kathmandu",
		Rainfall24h: models.Float64(12),
		WindSpeed:   models.Float64(5),
	}
	forecast := []models.WeatherReading{{Rainfall: models.Float64(300), WindSpeed: models.Float64(90)}}

	merged := MergeWeather("Kathmandu", current, forecast)

	assert.InDelta(t, 12, *merged.Rainfall24h, 1e-9)
	assert.InDelta(t, 5, *merged.WindSpeed, 1e-9)
}

func TestMergeWeather_NoData(t *testing.T) {
	assert.Nil(t, MergeWeather("Kathmandu", nil, nil))

	onlyForecast := MergeWeather("Kathmandu", nil, []models.WeatherReading{{Rainfall: models.Float64(160)}})
	require.NotNil(t, onlyForecast)
	assert.Equal(t,
		[]models.Signal{models.SignalHeavyRainExpected, models.SignalFloodRisk},
		newTestDetector().DetectSignals(onlyForecast))
}

func TestDetectAll(t *testing.T) {
	safe := &models.WeatherReading{Temperature: models.Float64(22), Humidity: models.Float64(60)}
	hail := models.WeatherReading{AlertType: models.String("Hailstorm warning")}
	thunder := models.WeatherReading{AlertType: models.String("Thunderstorm")}
	extreme := models.WeatherReading{AlertType: models.String("Cyclone"), AlertSeverity: models.String("EXTREME")}
	minor := models.WeatherReading{AlertType: models.String("Dust"), AlertSeverity: models.String("minor")}

	tests := []struct {
		name    string
		reading *models.WeatherReading
		alerts  []models.WeatherReading
		want    []models.Signal
	}{
		{"no reading no alerts", nil, nil, []models.Signal{}},
		{"safe reading only", safe, nil, []models.Signal{models.SignalNormalConditions}},
		{"alerts replace normal", safe, []models.WeatherReading{hail, thunder}, []models.Signal{models.SignalHailstormAlert, models.SignalThunderstormAlert}},
		{"alerts without reading", nil, []models.WeatherReading{extreme}, []models.Signal{models.SignalExtremeWeather}},
		{"unmapped minor alert", safe, []models.WeatherReading{minor}, []models.Signal{models.SignalNormalConditions}},
		{"duplicate alerts collapse", nil, []models.WeatherReading{hail, hail}, []models.Signal{models.SignalHailstormAlert}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newTestDetector().DetectAll(tt.reading, tt.alerts))
		})
	}
}
