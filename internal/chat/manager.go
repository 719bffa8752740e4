package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paperlens/internal/domain"
	"paperlens/internal/llm"
)

// Manager keeps at most one session per chat and rebuilds it whenever
// the chat switches to a different document.
type Manager struct {
	client llm.Client
	model  string
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager(client llm.Client, model string, log *slog.Logger) *Manager {
	return &Manager{
		client:   client,
		model:    model,
		now:      time.Now,
		log:      log,
		sessions: make(map[int64]*Session),
	}
}

// NewSession creates a detached session seeded with payload.
func (m *Manager) NewSession(payload domain.Payload) (*Session, error) {
	return newSession(m.client, m.model, payload, m.now, m.log)
}

// Open returns the session of key bound to payload. created is true when
// a new session replaced a missing one or one bound to another payload.
func (m *Manager) Open(key int64, payload domain.Payload) (session *Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok && domain.SamePayload(s.Payload(), payload) {
		return s, false, nil
	}

	s, err := m.NewSession(payload)
	if err != nil {
		return nil, false, err
	}

	m.sessions[key] = s
	return s, true, nil
}

func (m *Manager) Get(key int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	return s, ok
}

func (m *Manager) Close(key int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[key]
	delete(m.sessions, key)
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// EvictIdle drops sessions inactive for longer than ttl. Sessions with a
// response in flight are kept.
func (m *Manager) EvictIdle(ctx context.Context, now time.Time, ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for key, s := range m.sessions {
		if s.IsLoading() || now.Sub(s.LastActive()) <= ttl {
			continue
		}

		delete(m.sessions, key)
		evicted++
	}

	if evicted > 0 {
		m.log.InfoContext(ctx, "Idle chat sessions are evicted",
			"evicted", evicted,
			"remaining", len(m.sessions))
	}

	return evicted
}
