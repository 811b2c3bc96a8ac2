package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

// memoryEntry хранит сериализованную сессию и срок её жизни.
type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

// memorySessionStore - простое in-memory хранилище сессий для локальной
// разработки, когда Redis не сконфигурирован. Данные теряются при рестарте
// процесса. Всегда внедряется явно через NewMemorySessionStore, никакого
// глобального состояния на уровне пакета.
type memorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	now     func() time.Time
}

var _ SessionStore = (*memorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory SessionStore.
func NewMemorySessionStore(logger *zap.Logger) SessionStore {
	return &memorySessionStore{
		entries: make(map[string]memoryEntry),
		logger:  logger.Named("MemorySessionStore"),
		now:     time.Now,
	}
}

func (s *memorySessionStore) Save(_ context.Context, session *domain.StorySession, ttl time.Duration) error {
	session.Version = 1
	session.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[session.ID]; ok && s.now().Before(entry.expiresAt) {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.entries[session.ID] = memoryEntry{
		data:      data,
		version:   session.Version,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *memorySessionStore) Get(_ context.Context, id string) (*domain.StorySession, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && !s.now().Before(entry.expiresAt) {
		// Истекшие записи выметаем лениво, при обращении
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	var session domain.StorySession
	if err := json.Unmarshal(entry.data, &session); err != nil {
		return nil, fmt.Errorf("corrupted session data for %s: %w", id, err)
	}
	return &session, nil
}

func (s *memorySessionStore) Update(_ context.Context, session *domain.StorySession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[session.ID]
	if !ok || !s.now().Before(entry.expiresAt) {
		delete(s.entries, session.ID)
		return domain.ErrSessionNotFound
	}
	if entry.version != session.Version {
		s.logger.Warn("Session update lost optimistic concurrency race",
			zap.String("sessionID", session.ID),
			zap.Int64("expectedVersion", session.Version),
			zap.Int64("storedVersion", entry.version),
		)
		return ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(session)
	if err != nil {
		session.Version--
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	s.entries[session.ID] = memoryEntry{
		data:      data,
		version:   session.Version,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}
