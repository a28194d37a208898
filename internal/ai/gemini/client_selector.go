package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrNoClients = errors.New("no gemini clients configured")

// GeminiClientSelector fails over across API keys. It sticks to the last
// client that answered and only rotates past one that returned an error.
type GeminiClientSelector struct {
	clients   []*GeminiClient
	preferred int
	mu        sync.Mutex
	log       *zap.Logger
}

func NewGeminiClientSelector(clients []*GeminiClient, log *zap.Logger) *GeminiClientSelector {
	return &GeminiClientSelector{clients: clients, log: log}
}

// Preferred returns the index the next call starts from, -1 without clients.
func (s *GeminiClientSelector) Preferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return -1
	}
	return s.preferred
}

// TryAllClients runs op against each client at most once, starting from the
// preferred one, until it succeeds or ctx is done.
func (s *GeminiClientSelector) TryAllClients(ctx context.Context, op func(*GeminiClient, int) error) error {
	start := s.Preferred()
	if start < 0 {
		return ErrNoClients
	}

	count := len(s.clients)
	var lastErr error
	for attempt := 0; attempt < count; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := (start + attempt) % count

		err := op(s.clients[idx], idx)
		if err == nil {
			s.mu.Lock()
			s.preferred = idx
			s.mu.Unlock()
			return nil
		}

		lastErr = err
		s.log.Warn("gemini request failed, trying next key",
			zap.Int("client_index", idx),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return fmt.Errorf("all %d gemini clients failed: %w", count, lastErr)
}

func (s *GeminiClientSelector) Close() {
	for _, c := range s.clients {
		if c != nil && c.Client != nil {
			_ = c.Close()
		}
	}
}
