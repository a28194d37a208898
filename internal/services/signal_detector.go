package services

import (
	"strings"

	"advisory-service/internal/config"
	"advisory-service/internal/models"
)

type SignalDetector struct {
	thresholds config.SignalThresholds
}

func NewSignalDetector(thresholds config.SignalThresholds) *SignalDetector {
	return &SignalDetector{thresholds: thresholds}
}

// alertKeywords is checked in order; the first keyword found in the alert type wins.
var alertKeywords = []struct {
	keyword string
	signal  models.Signal
}{
	{"thunderstorm", models.SignalThunderstormAlert},
	{"hail", models.SignalHailstormAlert},
	{"flood", models.SignalFloodRisk},
	{"storm", models.SignalStormWarning},
	{"wind", models.SignalStrongWind},
}

// DetectSignals interprets one reading. A nil reading, or one carrying no
// measurement at all, yields an empty slice: absence of data is never normal.
func (d *SignalDetector) DetectSignals(reading *models.WeatherReading) []models.Signal {
	if !reading.HasMeasurements() {
		return []models.Signal{}
	}

	t := d.thresholds
	var signals []models.Signal

	if rain := reading.EffectiveRainfall24h(); rain != nil {
		if *rain >= t.FloodRiskAtLeast {
			signals = append(signals, models.SignalHeavyRainExpected, models.SignalFloodRisk)
		} else if *rain > t.HeavyRainAbove {
			signals = append(signals, models.SignalHeavyRainExpected)
		}
	}

	if high := reading.EffectiveMaxTemperature(); high != nil {
		if *high >= t.HeatWaveAtLeast {
			signals = append(signals, models.SignalHeatWaveAlert)
		} else if *high >= t.HighTempAtLeast {
			signals = append(signals, models.SignalHighTemperature)
		}
	}

	if low := reading.EffectiveMinTemperature(); low != nil {
		if *low <= t.FrostAtMost {
			signals = append(signals, models.SignalColdWave, models.SignalFrostRisk)
		} else if *low <= t.ColdWaveAtMost {
			signals = append(signals, models.SignalColdWave)
		}
	}

	if h := reading.Humidity; h != nil {
		if *h >= t.HighHumidityAtLeast {
			signals = append(signals, models.SignalHighHumidity)
		} else if *h <= t.LowHumidityAtMost {
			signals = append(signals, models.SignalLowHumidity)
		}
	}

	if w := reading.WindSpeed; w != nil {
		if *w >= t.StormWindAtLeast {
			signals = append(signals, models.SignalStrongWind, models.SignalStormWarning)
		} else if *w >= t.StrongWindAtLeast {
			signals = append(signals, models.SignalStrongWind)
		}
	}

	if s, ok := d.alertSignal(reading); ok {
		signals = append(signals, s)
	}

	signals = dedupeSignals(signals)
	if len(signals) == 0 {
		return []models.Signal{models.SignalNormalConditions}
	}
	return signals
}

func (d *SignalDetector) alertSignal(reading *models.WeatherReading) (models.Signal, bool) {
	if reading.AlertType == nil || strings.TrimSpace(*reading.AlertType) == "" {
		return "", false
	}

	alertType := strings.ToLower(*reading.AlertType)
	for _, k := range alertKeywords {
		if strings.Contains(alertType, k.keyword) {
			return k.signal, true
		}
	}

	if reading.AlertSeverity != nil {
		severity := strings.ToLower(strings.TrimSpace(*reading.AlertSeverity))
		for _, extreme := range d.thresholds.ExtremeAlertSeverity {
			if severity == strings.ToLower(extreme) {
				return models.SignalExtremeWeather, true
			}
		}
	}
	return "", false
}

func dedupeSignals(signals []models.Signal) []models.Signal {
	seen := make(map[models.Signal]bool, len(signals))
	out := make([]models.Signal, 0, len(signals))
	for _, s := range signals {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// HighestSeverity picks the single signal to communicate when only one fits.
// Equal ranks keep the earlier signal.
func HighestSeverity(signals []models.Signal) (models.Signal, bool) {
	if len(signals) == 0 {
		return "", false
	}
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Rank() > best.Rank() {
			best = s
		}
	}
	return best, true
}

// DetectAll combines the merged reading with every provider alert for the
// district. NORMAL_CONDITIONS is kept only when nothing else fired, and no
// data at all still yields an empty slice.
func (d *SignalDetector) DetectAll(reading *models.WeatherReading, alerts []models.WeatherReading) []models.Signal {
	signals := d.DetectSignals(reading)
	for i := range alerts {
		if s, ok := d.alertSignal(&alerts[i]); ok {
			signals = append(signals, s)
		}
	}
	signals = dedupeSignals(signals)

	if len(signals) > 1 {
		out := signals[:0]
		for _, s := range signals {
			if s != models.SignalNormalConditions {
				out = append(out, s)
			}
		}
		signals = out
	}
	return signals
}

// MergeWeather completes the current observation with the forecast: summed
// forecast rainfall fills a missing 24h total, and forecast extremes fill
// missing min/max temperature and wind. Nil is returned when neither exists.
func MergeWeather(district string, current *models.WeatherReading, forecast []models.WeatherReading) *models.WeatherReading {
	if current == nil && len(forecast) == 0 {
		return nil
	}

	merged := models.WeatherReading{District: district}
	if current != nil {
		merged = *current
		if merged.District == "" {
			merged.District = district
		}
	}

	var rainSum, maxTemp, minTemp, maxWind *float64
	for i := range forecast {
		step := &forecast[i]
		if step.Rainfall != nil {
			rainSum = addTo(rainSum, *step.Rainfall)
		}
		for _, v := range []*float64{step.Temperature, step.MaxTemperature} {
			maxTemp = keepMax(maxTemp, v)
		}
		for _, v := range []*float64{step.Temperature, step.MinTemperature} {
			minTemp = keepMin(minTemp, v)
		}
		maxWind = keepMax(maxWind, step.WindSpeed)
		if merged.Humidity == nil && step.Humidity != nil {
			merged.Humidity = step.Humidity
		}
	}

	if merged.Rainfall24h == nil && rainSum != nil {
		merged.Rainfall24h = rainSum
	}
	if merged.MaxTemperature == nil && maxTemp != nil {
		merged.MaxTemperature = keepMax(maxTemp, merged.Temperature)
	}
	if merged.MinTemperature == nil && minTemp != nil {
		merged.MinTemperature = keepMin(minTemp, merged.Temperature)
	}
	if merged.WindSpeed == nil {
		merged.WindSpeed = maxWind
	}
	return &merged
}

func addTo(sum *float64, v float64) *float64 {
	if sum == nil {
		return models.Float64(v)
	}
	return models.Float64(*sum + v)
}

func keepMax(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v > *cur {
		return models.Float64(*v)
	}
	return cur
}

func keepMin(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v < *cur {
		return models.Float64(*v)
	}
	return cur
}
