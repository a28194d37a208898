package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
)

// ============================================================================
// IN-MEMORY DELIVERY LOG STORE
// ============================================================================

type memoryLogStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.AdvisoryDeliveryLog
	byKey   map[string]uuid.UUID
	failErr error
}

func newMemoryLogStore() *memoryLogStore {
	return &memoryLogStore{
		byID:  make(map[uuid.UUID]*models.AdvisoryDeliveryLog),
		byKey: make(map[string]uuid.UUID),
	}
}

func (s *memoryLogStore) InsertIfAbsent(_ context.Context, entry *models.AdvisoryDeliveryLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	if _, taken := s.byKey[entry.DeduplicationKey]; taken {
		return false, nil
	}
	cp := *entry
	s.byID[entry.ID] = &cp
	s.byKey[entry.DeduplicationKey] = entry.ID
	return true, nil
}

func (s *memoryLogStore) GetByID(_ context.Context, id uuid.UUID) (*models.AdvisoryDeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("delivery log %s: %w", id, models.ErrDeliveryLogNotFound)
	}
	cp := *entry
	return &cp, nil
}

func (s *memoryLogStore) List(_ context.Context, filter models.DeliveryLogFilter) ([]models.AdvisoryDeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AdvisoryDeliveryLog
	for _, entry := range s.byID {
		if filter.FarmerID != nil && entry.FarmerID != *filter.FarmerID {
			continue
		}
		if filter.District != nil && !strings.EqualFold(entry.District, *filter.District) {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryLogStore) CountForFarmerSince(_ context.Context, farmerID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.byID {
		if entry.FarmerID == farmerID && !entry.CreatedAt.Before(since) && entry.DeliveryStatus != models.DeliveryFailed {
			count++
		}
	}
	return count, nil
}

func (s *memoryLogStore) ExistingKeys(_ context.Context, keys []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	found := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, ok := s.byKey[key]; ok {
			found[key] = true
		}
	}
	return found, nil
}

func (s *memoryLogStore) ClaimRetryable(_ context.Context, now, staleBefore time.Time, maxRetries int, limit int) ([]models.AdvisoryDeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.AdvisoryDeliveryLog
	for _, entry := range s.byID {
		if entry.LastAttemptAt != nil && !entry.LastAttemptAt.Before(staleBefore) {
			continue
		}
		stalePending := entry.DeliveryStatus == models.DeliveryPending && entry.CreatedAt.Before(staleBefore)
		retryFailed := entry.DeliveryStatus == models.DeliveryFailed && entry.RetryCount <= maxRetries && !entry.PermanentFailure
		if stalePending || retryFailed {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.AdvisoryDeliveryLog, 0, len(due))
	for _, entry := range due {
		claimedAt := now
		entry.LastAttemptAt = &claimedAt
		out = append(out, *entry)
	}
	return out, nil
}

func (s *memoryLogStore) Transition(_ context.Context, id uuid.UUID, change models.StatusChange) (*models.AdvisoryDeliveryLog, models.DeliveryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return nil, "", fmt.Errorf("delivery log %s: %w", id, models.ErrDeliveryLogNotFound)
	}
	from := entry.DeliveryStatus
	if !models.CanTransition(from, change.To) {
		return nil, from, fmt.Errorf("%s -> %s: %w", from, change.To, models.ErrInvalidTransition)
	}

	at := change.At
	entry.DeliveryStatus = change.To
	if change.Channel != "" && (change.To == models.DeliveryDelivered || change.To == models.DeliveryFailed) {
		entry.Channel = change.Channel
	}
	switch change.To {
	case models.DeliveryDelivered:
		entry.DeliveredAt = &at
		entry.LastAttemptAt = &at
		entry.FailureReason = nil
	case models.DeliveryFailed:
		entry.LastAttemptAt = &at
		entry.FailureReason = change.Reason
		entry.RetryCount++
		entry.PermanentFailure = change.Permanent
	case models.DeliveryOpened:
		entry.OpenedAt = &at
	case models.DeliveryFeedbackReceived:
		if entry.OpenedAt == nil {
			entry.OpenedAt = &at
		}
		entry.FeedbackAt = &at
		entry.Feedback = change.Feedback
		entry.FeedbackComment = change.Comment
	}
	cp := *entry
	return &cp, from, nil
}

func (s *memoryLogStore) all() []models.AdvisoryDeliveryLog {
	out, _ := s.List(context.Background(), models.DeliveryLogFilter{})
	return out
}

// ============================================================================
// RECORDING COLLABORATORS
// ============================================================================

type recordingEvents struct {
	mu     sync.Mutex
	events []models.DeliveryLogEvent
	err    error
}

func (r *recordingEvents) PublishDeliveryEvent(_ context.Context, evt models.DeliveryLogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingEvents) statuses() []models.DeliveryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.DeliveryStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.ToStatus)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.MessageRequest
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg models.MessageRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []models.MessageRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.MessageRequest(nil), n.sent...)
}

type mapContentStore struct {
	content map[string]string
}

func (m *mapContentStore) GetContent(_ context.Context, key, language string) (string, error) {
	if text, ok := m.content[key+"/"+language]; ok {
		return text, nil
	}
	if text, ok := m.content[key]; ok {
		return text, nil
	}
	return "", fmt.Errorf("content %s: %w", key, models.ErrContentNotFound)
}

type stubSnippets struct {
	text  string
	err   error
	calls int
}

func (s *stubSnippets) GenerateSnippet(_ context.Context, _ models.SnippetRequest) (string, error) {
	s.calls++
	return s.text, s.err
}

// ============================================================================
// UPSTREAM FAKES
// ============================================================================

type staticWeather struct {
	current  map[string]*models.WeatherReading
	forecast map[string][]models.WeatherReading
	alerts   map[string][]models.WeatherReading
	err      error
	down     bool
}

func (w *staticWeather) IsAvailable(context.Context) bool {
	return !w.down
}

func (w *staticWeather) GetCurrentWeather(_ context.Context, district string) (*models.WeatherReading, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.current[district], nil
}

func (w *staticWeather) GetForecast(_ context.Context, district string, _ int) ([]models.WeatherReading, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.forecast[district], nil
}

func (w *staticWeather) GetAlerts(_ context.Context, district string) ([]models.WeatherReading, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.alerts[district], nil
}

type staticFarmers struct {
	byDistrict map[string][]models.Farmer
}

func (f *staticFarmers) ListFarmersByDistrict(_ context.Context, district string) ([]models.Farmer, error) {
	return f.byDistrict[district], nil
}

func (f *staticFarmers) GetFarmer(_ context.Context, id string) (*models.Farmer, error) {
	for _, farmers := range f.byDistrict {
		for i := range farmers {
			if farmers[i].ID == id {
				cp := farmers[i]
				return &cp, nil
			}
		}
	}
	return nil, errFarmerMissing
}

var errFarmerMissing = errors.New("farmer missing")

type staticRules struct {
	rules []models.AdvisoryRule
	err   error
}

func (s *staticRules) EligibleRules(_ context.Context, now time.Time) ([]models.AdvisoryRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.AdvisoryRule
	for _, r := range s.rules {
		if r.IsEligible(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memoryBulletins struct {
	mu        sync.Mutex
	published []models.WeatherAdvisory
}

func (m *memoryBulletins) Publish(_ context.Context, advisory *models.WeatherAdvisory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if advisory.ID == uuid.Nil {
		advisory.ID = uuid.New()
	}
	for i := range m.published {
		if strings.EqualFold(m.published[i].Region, advisory.Region) {
			m.published[i].IsActive = false
		}
	}
	m.published = append(m.published, *advisory)
	return nil
}

func (m *memoryBulletins) ListActive(_ context.Context, region string, now time.Time) ([]models.WeatherAdvisory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WeatherAdvisory
	for _, a := range m.published {
		if a.IsActive && strings.EqualFold(a.Region, region) && a.ValidUntil.After(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryBulletins) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.published {
		if m.published[i].IsActive && !m.published[i].ValidUntil.After(now) {
			m.published[i].IsActive = false
			n++
		}
	}
	return n, nil
}

func testFarmer(id, district string) models.Farmer {
	return models.Farmer{
		ID:        id,
		Name:      "Farmer " + id,
		Phone:     models.String("+97798" + id),
		PushToken: models.String("push-" + id),
		District:  district,
		CropType:  models.String("rice"),
		Language:  "ne",
	}
}
