package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
)

const sessionKeyPrefix = "story_session:"

// Compile-time check to ensure redisSessionStore implements SessionStore
var _ SessionStore = (*redisSessionStore)(nil)

type redisSessionStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a new Redis-backed SessionStore.
func NewRedisSessionStore(client *redis.Client, logger *zap.Logger) SessionStore {
	return &redisSessionStore{
		client: client,
		logger: logger.Named("RedisSessionStore"),
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Save stores a freshly created session. Fails if the key already exists,
// so a uuid collision cannot silently overwrite someone else's story.
func (s *redisSessionStore) Save(ctx context.Context, session *domain.StorySession, ttl time.Duration) error {
	session.Version = 1
	session.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), data, ttl).Result()
	if err != nil {
		s.logger.Error("Failed to save session in redis", zap.Error(err), zap.String("sessionID", session.ID))
		return fmt.Errorf("failed to save session in redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}

	s.logger.Debug("Session saved",
		zap.String("sessionID", session.ID),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// Get loads a session by id, mapping redis.Nil to domain.ErrSessionNotFound.
func (s *redisSessionStore) Get(ctx context.Context, id string) (*domain.StorySession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug("Session not found in redis", zap.String("sessionID", id))
			return nil, domain.ErrSessionNotFound
		}
		s.logger.Error("Failed to get session from redis", zap.Error(err), zap.String("sessionID", id))
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var session domain.StorySession
	if err := json.Unmarshal(data, &session); err != nil {
		// Данные в Redis повреждены - это серьезная ошибка
		s.logger.Error("Failed to unmarshal session data from redis",
			zap.Error(err),
			zap.String("sessionID", id),
		)
		return nil, fmt.Errorf("corrupted session data in redis for %s: %w", id, err)
	}
	return &session, nil
}

// Update rewrites the session with a refreshed TTL, guarded by an optimistic
// version check inside a WATCH/MULTI transaction. The read-modify-write turn
// cycle spans two external API calls, so the version stamp is what prevents a
// lost update between two concurrent turns on the same story.
func (s *redisSessionStore) Update(ctx context.Context, session *domain.StorySession, ttl time.Duration) error {
	key := sessionKey(session.ID)
	expectedVersion := session.Version

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("failed to read session for update: %w", err)
		}

		var stored domain.StorySession
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("corrupted session data in redis for %s: %w", session.ID, err)
		}
		if stored.Version != expectedVersion {
			return ErrVersionConflict
		}

		session.Version = expectedVersion + 1
		session.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)

	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Ключ изменился между WATCH и EXEC - тот же проигрыш гонки
			err = ErrVersionConflict
		}
		if errors.Is(err, ErrVersionConflict) {
			// Откатываем инкремент, если успели его сделать
			session.Version = expectedVersion
			s.logger.Warn("Session update lost optimistic concurrency race",
				zap.String("sessionID", session.ID),
				zap.Int64("expectedVersion", expectedVersion),
			)
			return ErrVersionConflict
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrSessionNotFound
		}
		s.logger.Error("Failed to update session in redis", zap.Error(err), zap.String("sessionID", session.ID))
		return fmt.Errorf("failed to update session in redis: %w", err)
	}

	s.logger.Debug("Session updated",
		zap.String("sessionID", session.ID),
		zap.Int64("version", session.Version),
		zap.Int("stepCount", session.StepCount),
		zap.Duration("ttl", ttl),
	)
	return nil
}
