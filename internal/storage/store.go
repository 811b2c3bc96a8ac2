package storage

import (
	"context"
	"errors"
	"time"

	"storyteller-server/internal/domain"
)

// ErrVersionConflict возвращается из Update, когда версия сессии в хранилище
// не совпадает с версией, прочитанной вызывающей стороной.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore - интерфейс хранилища сессий историй.
//
// Save создает запись с Version=1. Update выполняет compare-and-swap по
// Version: запись проходит только если версия в хранилище равна версии
// переданной сессии; при успехе Version инкрементируется (и в хранилище,
// и в переданной структуре). Get возвращает domain.ErrSessionNotFound для
// отсутствующего или истекшего ключа.
type SessionStore interface {
	Save(ctx context.Context, session *domain.StorySession, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.StorySession, error)
	Update(ctx context.Context, session *domain.StorySession, ttl time.Duration) error
}
