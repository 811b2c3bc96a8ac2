package domain

import "errors"

// Application-wide standard errors
var (
	// ErrSessionNotFound - сессия отсутствует в хранилище или истек её TTL.
	ErrSessionNotFound = errors.New("story session not found or has expired")

	// ErrStoryFinished - попытка продолжить историю, которая уже завершена.
	ErrStoryFinished = errors.New("story has already reached its final step")

	// ErrConcurrentTurn - параллельный ход успел записать сессию первым,
	// результат этого хода отброшен.
	ErrConcurrentTurn = errors.New("concurrent turn modified the session, turn discarded")

	// ErrInvalidInput - невалидные данные запроса.
	ErrInvalidInput = errors.New("invalid input data")
)
