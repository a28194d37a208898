package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"advisory-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func columnNames(list string) []string {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func deliveryLogValues(id uuid.UUID, status models.DeliveryStatus, overrides map[string]driver.Value) []driver.Value {
	now := time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)
	defaults := map[string]driver.Value{
		"id":                id.String(),
		"farmer_id":         "farmer-1",
		"advisory_type":     "WEATHER",
		"severity":          "EMERGENCY",
		"weather_signal":    "FLOOD_RISK",
		"district":          "Kathmandu",
		"delivery_status":   string(status),
		"channel":           "SMS",
		"priority":          int64(1),
		"deduplication_key": "3f1c",
		"retry_count":       int64(0),
		"permanent_failure": false,
		"feedback":          "NO_FEEDBACK",
		"created_at":        now,
	}
	for k, v := range overrides {
		defaults[k] = v
	}

	cols := columnNames(deliveryLogColumns)
	values := make([]driver.Value, len(cols))
	for i, c := range cols {
		values[i] = defaults[c]
	}
	return values
}

func advisoryRuleValues(id uuid.UUID, status models.RuleStatus, version int) []driver.Value {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	values := map[string]driver.Value{
		"id":             id.String(),
		"rule_group_id":  id.String(),
		"name":           "Kathmandu flood",
		"definition":     []byte(`{"conditions":{"field":"district","op":"==","value":"Kathmandu"},"outcome":{"severity":"EMERGENCY"}}`),
		"rule_type":      "WEATHER",
		"priority":       int64(1),
		"version":        int64(version),
		"status":         string(status),
		"is_active":      status == models.RuleActive,
		"effective_from": now,
		"created_at":     now,
		"updated_at":     now,
	}
	cols := columnNames(advisoryRuleColumns)
	out := make([]driver.Value, len(cols))
	for i, c := range cols {
		out[i] = values[c]
	}
	return out
}

// ============================================================================
// DELIVERY LOG: DEDUPLICATED INSERT
// ============================================================================

func newPendingLog() *models.AdvisoryDeliveryLog {
	return &models.AdvisoryDeliveryLog{
		FarmerID:         "farmer-1",
		AdvisoryType:     "WEATHER",
		Severity:         models.SeverityEmergency,
		District:         "Kathmandu",
		DeliveryStatus:   models.DeliveryPending,
		Channel:          models.ChannelSMS,
		Priority:         1,
		DeduplicationKey: "3f1c",
		Feedback:         models.FeedbackNoFeedback,
	}
}

func TestDeliveryLogRepository_InsertIfAbsent(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(mock sqlmock.Sqlmock)
		wantInserted bool
		wantErr      bool
	}{
		{
			name: "inserted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO advisory_delivery_logs .* ON CONFLICT \(deduplication_key\) DO NOTHING RETURNING id`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.NewString()))
			},
			wantInserted: true,
		},
		{
			name: "conflict returns no row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO advisory_delivery_logs`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantInserted: false,
		},
		{
			name: "unique violation is absorbed",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO advisory_delivery_logs`).
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantInserted: false,
		},
		{
			name: "other errors surface",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO advisory_delivery_logs`).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewDeliveryLogRepository(db, zap.NewNop())
			tt.setup(mock)

			entry := newPendingLog()
			inserted, err := repo.InsertIfAbsent(context.Background(), entry)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantInserted, inserted)
			assert.NotEqual(t, uuid.Nil, entry.ID)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// ============================================================================
// DELIVERY LOG: STATE TRANSITIONS
// ============================================================================

func TestDeliveryLogRepository_Transition_Delivered(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	id := uuid.New()
	at := time.Date(2026, 7, 1, 6, 5, 0, 0, time.UTC)
	cols := append(columnNames(deliveryLogColumns), "previous_status")
	values := append(deliveryLogValues(id, models.DeliveryDelivered, map[string]driver.Value{"delivered_at": at}), "PENDING")

	mock.ExpectQuery(`WITH prev AS .* FOR UPDATE .* UPDATE advisory_delivery_logs AS l SET delivery_status = 'DELIVERED'`).
		WithArgs(id, sqlmock.AnyArg(), at, "").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(values...))

	updated, prev, err := repo.Transition(context.Background(), id, models.StatusChange{To: models.DeliveryDelivered, At: at})

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, prev)
	assert.Equal(t, models.DeliveryDelivered, updated.DeliveryStatus)
	require.NotNil(t, updated.DeliveredAt)
	assert.True(t, at.Equal(*updated.DeliveredAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_Transition_FeedbackPassesValues(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	id := uuid.New()
	at := time.Now().UTC()
	comment := "moved the seedlings in time"
	cols := append(columnNames(deliveryLogColumns), "previous_status")
	values := append(deliveryLogValues(id, models.DeliveryFeedbackReceived, map[string]driver.Value{
		"feedback":    "USEFUL",
		"opened_at":   at,
		"feedback_at": at,
	}), "DELIVERED")

	mock.ExpectQuery(`opened_at = COALESCE\(l.opened_at, \$3\), feedback_at = \$3`).
		WithArgs(id, sqlmock.AnyArg(), at, "USEFUL", comment).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(values...))

	updated, prev, err := repo.Transition(context.Background(), id, models.StatusChange{
		To:       models.DeliveryFeedbackReceived,
		At:       at,
		Feedback: models.FeedbackUseful,
		Comment:  &comment,
	})

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, prev)
	assert.Equal(t, models.FeedbackUseful, updated.Feedback)
	assert.NotNil(t, updated.OpenedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_Transition_FailedRecordsChannelAndPermanence(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	id := uuid.New()
	at := time.Date(2026, 7, 1, 6, 5, 0, 0, time.UTC)
	reason := models.ErrNoContact.Error()
	cols := append(columnNames(deliveryLogColumns), "previous_status")
	values := append(deliveryLogValues(id, models.DeliveryFailed, map[string]driver.Value{
		"channel":           "PUSH",
		"retry_count":       int64(1),
		"permanent_failure": true,
		"failure_reason":    reason,
	}), "PENDING")

	mock.ExpectQuery(`retry_count = l.retry_count \+ 1, channel = COALESCE\(NULLIF\(\$5, ''\), l.channel\), permanent_failure = \$6`).
		WithArgs(id, sqlmock.AnyArg(), at, sqlmock.AnyArg(), "PUSH", true).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(values...))

	updated, prev, err := repo.Transition(context.Background(), id, models.StatusChange{
		To:        models.DeliveryFailed,
		At:        at,
		Channel:   models.ChannelPush,
		Reason:    &reason,
		Permanent: true,
	})

	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, prev)
	assert.Equal(t, models.ChannelPush, updated.Channel)
	assert.True(t, updated.PermanentFailure)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_Transition_RejectsBackwardsMove(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	id := uuid.New()
	cols := append(columnNames(deliveryLogColumns), "previous_status")
	mock.ExpectQuery(`WITH prev AS`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT delivery_status FROM advisory_delivery_logs WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"delivery_status"}).AddRow("FEEDBACK_RECEIVED"))

	updated, current, err := repo.Transition(context.Background(), id, models.StatusChange{To: models.DeliveryOpened, At: time.Now()})

	assert.Nil(t, updated)
	assert.Equal(t, models.DeliveryFeedbackReceived, current)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_Transition_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	id := uuid.New()
	cols := append(columnNames(deliveryLogColumns), "previous_status")
	mock.ExpectQuery(`WITH prev AS`).WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT delivery_status`).WithArgs(id).WillReturnError(sql.ErrNoRows)

	_, _, err := repo.Transition(context.Background(), id, models.StatusChange{To: models.DeliveryDelivered, At: time.Now()})

	assert.True(t, errors.Is(err, models.ErrDeliveryLogNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_Transition_IntoPendingIsInvalid(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	_, _, err := repo.Transition(context.Background(), uuid.New(), models.StatusChange{To: models.DeliveryPending, At: time.Now()})

	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// DELIVERY LOG: READS
// ============================================================================

func TestDeliveryLogRepository_ClaimRetryable(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	now := time.Date(2026, 7, 1, 7, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-15 * time.Minute)
	older, newer := uuid.New(), uuid.New()
	mock.ExpectQuery(`WITH due AS .* retry_count <= \$2 AND NOT permanent_failure.* FOR UPDATE SKIP LOCKED \) UPDATE advisory_delivery_logs AS l SET last_attempt_at = \$4`).
		WithArgs(staleBefore, 3, 100, now).
		WillReturnRows(sqlmock.NewRows(columnNames(deliveryLogColumns)).
			AddRow(deliveryLogValues(newer, models.DeliveryPending, map[string]driver.Value{"last_attempt_at": now})...).
			AddRow(deliveryLogValues(older, models.DeliveryFailed, map[string]driver.Value{
				"retry_count":     int64(1),
				"created_at":      now.Add(-2 * time.Hour),
				"last_attempt_at": now,
			})...))

	entries, err := repo.ClaimRetryable(context.Background(), now, staleBefore, 3, 100)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, older, entries[0].ID, "oldest first")
	assert.Equal(t, 1, entries[0].RetryCount)
	require.NotNil(t, entries[1].LastAttemptAt)
	assert.True(t, now.Equal(*entries[1].LastAttemptAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_ExistingKeys(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT deduplication_key FROM advisory_delivery_logs WHERE deduplication_key = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"deduplication_key"}).AddRow("k2"))

	found, err := repo.ExistingKeys(context.Background(), []string{"k1", "k2"})

	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"k2": true}, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_ExistingKeys_EmptySkipsQuery(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	found, err := repo.ExistingKeys(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepository_CountForFarmerSince(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM advisory_delivery_logs`).
		WithArgs("farmer-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountForFarmerSince(context.Background(), "farmer-1", since)

	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestDeliveryLogRepository_GetByID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDeliveryLogRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, models.ErrDeliveryLogNotFound))
}

// ============================================================================
// ADVISORY RULES
// ============================================================================

func TestAdvisoryRuleRepository_ListActive(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAdvisoryRuleRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectQuery(`WHERE status = 'ACTIVE' AND is_active = TRUE ORDER BY priority ASC`).
		WillReturnRows(sqlmock.NewRows(columnNames(advisoryRuleColumns)).AddRow(advisoryRuleValues(id, models.RuleActive, 2)...))

	rules, err := repo.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
	assert.Equal(t, 2, rules[0].Version)
	assert.Nil(t, rules[0].EffectiveTo)
	assert.Contains(t, string(rules[0].Definition), "Kathmandu")
}

func TestAdvisoryRuleRepository_GetByID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAdvisoryRuleRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM advisory_rules WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, models.ErrRuleNotFound))
}

func TestAdvisoryRuleRepository_UpdateDraft_NonDraftNotEditable(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAdvisoryRuleRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE advisory_rules SET .* WHERE id = \$9 AND status = 'DRAFT'`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateDraft(context.Background(), &models.AdvisoryRule{ID: uuid.New(), Name: "x", Definition: models.JSONRaw(`{}`)})
	assert.True(t, errors.Is(err, models.ErrRuleNotEditable))
}

func TestAdvisoryRuleRepository_ReplaceWithVersion(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAdvisoryRuleRepository(db, zap.NewNop())

	current := &models.AdvisoryRule{ID: uuid.New(), RuleGroupID: uuid.New(), Version: 3, Status: models.RuleActive}
	next := &models.AdvisoryRule{Name: "Kathmandu flood v4", Definition: models.JSONRaw(`{}`), Status: models.RuleActive, IsActive: true}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE advisory_rules SET status = 'ARCHIVED'.* WHERE id = \$3 AND status = 'ACTIVE'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO advisory_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ReplaceWithVersion(context.Background(), current, next)

	require.NoError(t, err)
	assert.Equal(t, current.RuleGroupID, next.RuleGroupID)
	assert.Equal(t, 4, next.Version)
	assert.NotEqual(t, uuid.Nil, next.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryRuleRepository_ReplaceWithVersion_StaleCurrent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAdvisoryRuleRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE advisory_rules`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ReplaceWithVersion(context.Background(),
		&models.AdvisoryRule{ID: uuid.New(), Version: 1},
		&models.AdvisoryRule{Definition: models.JSONRaw(`{}`)})

	assert.True(t, errors.Is(err, models.ErrRuleNotEditable))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// ANALYTICS
// ============================================================================

func TestAnalyticsRepository_LoadReportData(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAnalyticsRepository(db, zap.NewNop())

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	cutoff := to.Add(-6 * time.Hour)
	ruleID := uuid.New()
	logID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`GROUP BY delivery_status, channel, rule_id, rule_name, district, severity, feedback`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"delivery_status", "channel", "rule_id", "rule_name", "district", "severity", "feedback", "count"}).
			AddRow("DELIVERED", "SMS", ruleID.String(), "Kathmandu flood", "Kathmandu", "EMERGENCY", "NO_FEEDBACK", 3).
			AddRow("DELIVERY_FAILED", "PUSH", nil, nil, "Pokhara", "HIGH", "NO_FEEDBACK", 1))
	mock.ExpectQuery(`WHERE daily > \$3`).
		WithArgs(from, to, 3).
		WillReturnRows(sqlmock.NewRows([]string{"farmer_id", "count"}).AddRow("farmer-9", 7))
	mock.ExpectQuery(`WHERE severity = 'EMERGENCY' AND opened_at IS NULL`).
		WithArgs(from, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "farmer_id", "district", "rule_name", "delivery_status", "created_at"}).
			AddRow(logID.String(), "farmer-1", "Kathmandu", "Kathmandu flood", "DELIVERED", from))
	mock.ExpectCommit()

	data, err := repo.LoadReportData(context.Background(), from, to, 3, cutoff)

	require.NoError(t, err)
	require.Len(t, data.Stats, 2)
	assert.Equal(t, int64(3), data.Stats[0].Count)
	require.NotNil(t, data.Stats[0].RuleID)
	assert.Equal(t, ruleID, *data.Stats[0].RuleID)
	assert.Nil(t, data.Stats[1].RuleID)
	assert.Equal(t, []models.FarmerAlertCount{{FarmerID: "farmer-9", Count: 7}}, data.FatigueFarmers)
	require.Len(t, data.IgnoredEmergencies, 1)
	assert.Equal(t, logID, data.IgnoredEmergencies[0].LogID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// WEATHER ADVISORIES
// ============================================================================

func TestWeatherAdvisoryRepository_PublishSupersedesRegion(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewWeatherAdvisoryRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE weather_advisories SET is_active = FALSE WHERE region = \$1`).
		WithArgs("Kathmandu").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO weather_advisories`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	advisory := &models.WeatherAdvisory{
		Title:      "Flood risk",
		Region:     "Kathmandu",
		AlertLevel: models.AlertLevelSevere,
		ValidUntil: time.Now().Add(24 * time.Hour),
		IsActive:   true,
	}
	require.NoError(t, repo.Publish(context.Background(), advisory))
	assert.NotEqual(t, uuid.Nil, advisory.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWeatherAdvisoryRepository_ExpireStale(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewWeatherAdvisoryRepository(db, zap.NewNop())

	now := time.Now()
	mock.ExpectExec(`valid_until <= \$1`).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ExpireStale(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
