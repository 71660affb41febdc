package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrVerification провайдер недоступен или вернул некорректный ответ
	ErrVerification = errors.New("payment verification failed")

	// ErrGrantIssuance не удалось создать приглашение
	ErrGrantIssuance = errors.New("grant issuance failed")

	// ErrStore ошибка хранилища подписчиков
	ErrStore = errors.New("subscriber store failure")

	// ErrRevocation не удалось удалить участника из канала
	ErrRevocation = errors.New("access revocation failed")

	// ErrNotification не удалось доставить сообщение
	ErrNotification = errors.New("notification failed")

	// ErrInvalidIdentity идентификатор подписчика пуст или некорректен
	ErrInvalidIdentity = errors.New("invalid subscriber identity")

	// ErrSweepInProgress проверка истечения подписок уже выполняется
	ErrSweepInProgress = errors.New("expiry sweep already in progress")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
)

// LifecycleError describes a failed lifecycle step for one subscriber.
// Kind is one of the sentinel errors above and is matched by errors.Is.
type LifecycleError struct {
	Op          string
	Identity    string
	Kind        error
	OriginalErr error
}

// Error реализует интерфейс error
func (e *LifecycleError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.OriginalErr)
	}
	return fmt.Sprintf("%s (identity: %s): %v: %v", e.Op, e.Identity, e.Kind, e.OriginalErr)
}

// Unwrap возвращает оригинальную ошибку
func (e *LifecycleError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the error kind
func (e *LifecycleError) Is(target error) bool {
	return target == e.Kind
}

// NewLifecycleError создает новую ошибку жизненного цикла
func NewLifecycleError(op, identity string, kind, err error) *LifecycleError {
	return &LifecycleError{
		Op:          op,
		Identity:    identity,
		Kind:        kind,
		OriginalErr: err,
	}
}

// StoreError is a persistence failure. It always matches ErrStore.
type StoreError struct {
	Op          string
	Identity    string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *StoreError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.OriginalErr)
	}
	return fmt.Sprintf("store %s (identity: %s): %v", e.Op, e.Identity, e.OriginalErr)
}

// Unwrap возвращает оригинальную ошибку
func (e *StoreError) Unwrap() error {
	return e.OriginalErr
}

// Is проверяет, является ли ошибка ошибкой хранилища
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// NewStoreError создает новую ошибку хранилища
func NewStoreError(op, identity string, err error) *StoreError {
	return &StoreError{
		Op:          op,
		Identity:    identity,
		OriginalErr: err,
	}
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// Is makes every external failure match ErrExternalServiceUnavailable
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalServiceUnavailable
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}
