package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

const blightRuleJSON = `{
	"conditions": {"op": "AND", "children": [
		{"field": "crop_type", "op": "in", "values": ["rice", "wheat"]},
		{"field": "humidity", "op": ">=", "value": 85}
	]},
	"outcome": {"severity": "HIGH", "advisory_type": "DISEASE", "title": "Blight risk for {{.Crop}}"}
}`

type pipelineFixture struct {
	ingestion *IngestionService
	logs      *DeliveryLogService
	store     *memoryLogStore
	notifier  *recordingNotifier
	bulletins *memoryBulletins
	weather   *staticWeather
	rules     *staticRules
}

func newPipelineFixture(t *testing.T, dailyCap int) pipelineFixture {
	cfg := config.PipelineConfig{
		Districts:                 []string{"Kathmandu", "Chitwan"},
		DedupBucket:               24 * time.Hour,
		MaxAdvisoriesPerFarmerDay: dailyCap,
		ForecastHours:             24,
	}

	store := newMemoryLogStore()
	logs := NewDeliveryLogService(store, &recordingEvents{}, cfg, zap.NewNop())
	notifier := &recordingNotifier{}
	pool := startServicePool(t, 4)
	content := NewContentBuilder(nil, nil, zap.NewNop())
	bulletins := &memoryBulletins{}

	weather := &staticWeather{
		current: map[string]*models.WeatherReading{
			"Kathmandu": {District: "Kathmandu", Temperature: models.Float64(24), Humidity: models.Float64(90)},
		},
		forecast: map[string][]models.WeatherReading{
			"Kathmandu": {{Rainfall: models.Float64(90)}, {Rainfall: models.Float64(70)}},
		},
	}
	rules := &staticRules{rules: []models.AdvisoryRule{
		createTestRule("flood", 1, floodRuleJSON),
		createTestRule("blight", 2, blightRuleJSON),
		createTestRule("broken", 3, `{"conditions": {"op": "XOR"}}`),
	}}
	farmers := &staticFarmers{byDistrict: map[string][]models.Farmer{
		"Kathmandu": {testFarmer("f1", "Kathmandu"), testFarmer("f2", "Kathmandu")},
		"Chitwan":   {testFarmer("f3", "Chitwan")},
	}}

	ingestion := NewIngestionService(IngestionDeps{
		Weather:   weather,
		Farmers:   farmers,
		Rules:     rules,
		Engine:    NewRuleEngine(zap.NewNop()),
		Detector:  newTestDetector(),
		Logs:      logs,
		Content:   content,
		Dispatch:  NewDispatchService(notifier, logs, content, pool, time.Second, zap.NewNop()),
		Bulletins: NewWeatherAdvisoryService(bulletins, 6*time.Hour, zap.NewNop()),
		Pool:      pool,
	}, cfg, zap.NewNop())
	fixedNow := time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC)
	ingestion.now = func() time.Time { return fixedNow }

	for i := range rules.rules {
		rules.rules[i].EffectiveFrom = fixedNow.Add(-24 * time.Hour)
	}

	return pipelineFixture{
		ingestion: ingestion,
		logs:      logs,
		store:     store,
		notifier:  notifier,
		bulletins: bulletins,
		weather:   weather,
		rules:     rules,
	}
}

// ============================================================================
// TEST SUITE 1: FULL CYCLE
// ============================================================================

func TestRunCycle_KathmanduFloodEndToEnd(t *testing.T) {
	f := newPipelineFixture(t, 0)

	summary, err := f.ingestion.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Districts)
	assert.Equal(t, []string{"Chitwan"}, summary.NoData, "missing weather is skipped, not normal")
	assert.Equal(t, 1, summary.SkippedRules)
	assert.Equal(t, 2, summary.Farmers)
	assert.Equal(t, 4, summary.Triggered, "flood and blight for both farmers")
	assert.Equal(t, 4, summary.Recorded)
	assert.Equal(t, 4, summary.Delivered)
	assert.Equal(t, 1, summary.BulletinsPublished)

	logs := f.store.all()
	require.Len(t, logs, 4)
	keys := map[string]bool{}
	for _, entry := range logs {
		assert.Equal(t, models.DeliveryDelivered, entry.DeliveryStatus)
		assert.False(t, keys[entry.DeduplicationKey], "dedup keys are unique")
		keys[entry.DeduplicationKey] = true
		require.NotNil(t, entry.Content, "content snapshot is stored")
		require.NotNil(t, entry.Season)
		assert.Equal(t, "MONSOON", *entry.Season)
	}

	var floodMessages int
	for _, msg := range f.notifier.messages() {
		if msg.Subject == "Flood risk in Kathmandu" {
			floodMessages++
			assert.Equal(t, models.ChannelSMS, msg.Type)
			assert.Equal(t, models.TransportUrgent, msg.Priority)
		}
	}
	assert.Equal(t, 2, floodMessages)

	require.Len(t, f.bulletins.published, 1)
	assert.Equal(t, models.AlertLevelSevere, f.bulletins.published[0].AlertLevel)
}

func TestRunCycle_RerunIsDeduplicated(t *testing.T) {
	f := newPipelineFixture(t, 0)
	ctx := context.Background()

	_, err := f.ingestion.RunCycle(ctx)
	require.NoError(t, err)
	summary, err := f.ingestion.RunCycle(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Recorded)
	assert.Equal(t, 4, summary.Duplicates)
	assert.Len(t, f.store.all(), 4)
	assert.Len(t, f.notifier.messages(), 4, "duplicates are never dispatched twice")
}

func TestRunCycle_DailyCapKeepsMostUrgent(t *testing.T) {
	f := newPipelineFixture(t, 1)

	summary, err := f.ingestion.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Recorded)
	assert.Equal(t, 2, summary.Capped)
	for _, entry := range f.store.all() {
		assert.Equal(t, models.SeverityEmergency, entry.Severity)
	}
}

func TestRunCycle_RerunWithNewRuleUsesRemainingCap(t *testing.T) {
	const riceTipJSON = `{
		"conditions": {"field": "crop_type", "op": "==", "value": "rice"},
		"outcome": {"severity": "LOW", "advisory_type": "CROP", "title": "Rice tip"}
	}`

	tests := []struct {
		name         string
		dailyCap     int
		wantRecorded int
		wantCapped   int
	}{
		{"slots left for the new rule", 3, 2, 0},
		{"cap already used by earlier advisories", 2, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPipelineFixture(t, tt.dailyCap)
			ctx := context.Background()

			first, err := f.ingestion.RunCycle(ctx)
			require.NoError(t, err)
			require.Equal(t, 4, first.Recorded)

			riceTip := createTestRule("rice-tip", 4, riceTipJSON)
			riceTip.EffectiveFrom = f.ingestion.now().Add(-time.Hour)
			f.rules.rules = append(f.rules.rules, riceTip)

			second, err := f.ingestion.RunCycle(ctx)

			require.NoError(t, err)
			assert.Equal(t, 6, second.Triggered)
			assert.Equal(t, 4, second.Duplicates, "flood and blight are already recorded today")
			assert.Equal(t, tt.wantRecorded, second.Recorded)
			assert.Equal(t, tt.wantCapped, second.Capped, "duplicates never count as capped")
			assert.Len(t, f.store.all(), 4+tt.wantRecorded)
			assert.Len(t, f.notifier.messages(), 4+tt.wantRecorded)
		})
	}
}

func TestRunCycle_TransportFailuresDoNotAbortCycle(t *testing.T) {
	f := newPipelineFixture(t, 0)
	f.notifier.err = errors.New("sms gateway down")

	summary, err := f.ingestion.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Recorded)
	assert.Equal(t, 0, summary.Delivered)
	for _, entry := range f.store.all() {
		assert.Equal(t, models.DeliveryFailed, entry.DeliveryStatus)
		require.NotNil(t, entry.FailureReason)
	}
}

// ============================================================================
// TEST SUITE 2: DEGRADED INPUTS
// ============================================================================

func TestRunCycle_WeatherServiceDown(t *testing.T) {
	f := newPipelineFixture(t, 0)
	f.weather.down = true

	_, err := f.ingestion.RunCycle(context.Background())

	assert.ErrorIs(t, err, models.ErrNoWeatherData)
	assert.Empty(t, f.store.all())
}

func TestRunCycle_WeatherErrorsSkipDistricts(t *testing.T) {
	f := newPipelineFixture(t, 0)
	f.weather.err = errors.New("upstream 502")

	summary, err := f.ingestion.RunCycle(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "upstream 502")
	assert.Empty(t, summary.NoData)
	assert.Empty(t, f.store.all())
}

func TestRunCycle_RuleSourceError(t *testing.T) {
	f := newPipelineFixture(t, 0)
	f.rules.err = errors.New("redis and postgres down")

	_, err := f.ingestion.RunCycle(context.Background())

	assert.ErrorContains(t, err, "failed to load advisory rules")
}

// ============================================================================
// TEST SUITE 3: CONTEXT
// ============================================================================

func TestBuildEvaluationContext(t *testing.T) {
	farmer := testFarmer("f1", "Kathmandu")
	farmer.GrowthStage = models.String("flowering")
	farmer.DiseaseCodes = []string{"RICE_BLAST"}
	reading := &models.WeatherReading{Rainfall24h: models.Float64(160)}
	signals := []models.Signal{models.SignalFloodRisk}

	c := BuildEvaluationContext(&farmer, "Kathmandu", signals, reading, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	m := c.ToMap()
	assert.Equal(t, "Kathmandu", m["district"])
	assert.Equal(t, "rice", m["crop_type"])
	assert.Equal(t, "flowering", m["growth_stage"])
	assert.Equal(t, "WINTER", m["season"])
	assert.Equal(t, []any{"FLOOD_RISK"}, m["signals"])
	assert.Equal(t, []any{"RICE_BLAST"}, m["disease_codes"])
	assert.Equal(t, 160.0, m["rainfall_24h"])
	_, hasRisk := m["risk_level"]
	assert.False(t, hasRisk, "unknown fields stay absent")
}

func TestSeasonFor(t *testing.T) {
	tests := map[time.Month]string{
		time.January:   "WINTER",
		time.April:     "PRE_MONSOON",
		time.July:      "MONSOON",
		time.September: "MONSOON",
		time.November:  "POST_MONSOON",
		time.December:  "WINTER",
	}
	for month, want := range tests {
		assert.Equal(t, want, SeasonFor(time.Date(2026, month, 15, 0, 0, 0, 0, time.UTC)), month.String())
	}
}
