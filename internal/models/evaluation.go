package models

import "strings"

// EvaluationContext is the per-farmer snapshot rules are matched against.
// Optional fields stay nil when unknown so conditions over them evaluate to Unknown.
type EvaluationContext struct {
	FarmerID     string
	District     string
	CropType     *string
	GrowthStage  *string
	Season       *string
	RiskLevel    *string
	Signals      []Signal
	DiseaseCodes []string
	PestCodes    []string
	Weather      *WeatherReading
	Extra        map[string]any
}

// ToMap flattens the context into the field namespace used by rule conditions.
// Unknown values are omitted rather than zeroed.
func (c EvaluationContext) ToMap() map[string]any {
	out := make(map[string]any, 16+len(c.Extra))
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.FarmerID != "" {
		out["farmer_id"] = c.FarmerID
	}
	if c.District != "" {
		out["district"] = c.District
	}
	putString(out, "crop_type", c.CropType)
	putString(out, "growth_stage", c.GrowthStage)
	putString(out, "season", c.Season)
	putString(out, "risk_level", c.RiskLevel)

	if c.Signals != nil {
		signals := make([]any, 0, len(c.Signals))
		for _, s := range c.Signals {
			signals = append(signals, string(s))
		}
		out["signals"] = signals
	}
	if c.DiseaseCodes != nil {
		out["disease_codes"] = stringsToAny(c.DiseaseCodes)
	}
	if c.PestCodes != nil {
		out["pest_codes"] = stringsToAny(c.PestCodes)
	}

	if w := c.Weather; w != nil {
		putFloat(out, "temperature", w.Temperature)
		putFloat(out, "min_temperature", w.EffectiveMinTemperature())
		putFloat(out, "max_temperature", w.EffectiveMaxTemperature())
		putFloat(out, "rainfall", w.Rainfall)
		putFloat(out, "rainfall_24h", w.EffectiveRainfall24h())
		putFloat(out, "humidity", w.Humidity)
		putFloat(out, "wind_speed", w.WindSpeed)
		putString(out, "alert_type", w.AlertType)
	}
	return out
}

// PrimarySignal returns the most severe detected signal, if any.
func (c EvaluationContext) PrimarySignal() (Signal, bool) {
	var best Signal
	found := false
	for _, s := range c.Signals {
		if !found || s.Rank() > best.Rank() {
			best = s
			found = true
		}
	}
	return best, found
}

func putString(m map[string]any, key string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		m[key] = *v
	}
}

func putFloat(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func stringsToAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
