package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateContent возвращается при попытке сохранить уже известный контент.
// Ожидаемый исход создания, а не сбой.
var ErrDuplicateContent = errors.New("контент уже сохранён для пользователя")

// ErrContentNotFound возвращается, если контент не найден или принадлежит другому
// пользователю. Оба случая неразличимы для вызывающего.
var ErrContentNotFound = errors.New("контент не найден")

// ErrConfigNotFound возвращается, если у пользователя нет конфигурации.
var ErrConfigNotFound = errors.New("конфигурация пользователя не найдена")

// InvalidTransitionError описывает недопустимый переход статуса.
type InvalidTransitionError struct {
	From ContentStatus
	To   ContentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход статуса %s → %s", e.From, e.To)
}

// FetchErrorKind вид ошибки получения данных из источника.
type FetchErrorKind string

const (
	// FetchTimeout источник не ответил за отведённое время.
	FetchTimeout FetchErrorKind = "timeout"
	// FetchAuthFailure источник отверг учётные данные.
	FetchAuthFailure FetchErrorKind = "auth_failure"
	// FetchParseFailure ответ источника не удалось разобрать.
	FetchParseFailure FetchErrorKind = "parse_failure"
	// FetchUnreachable источник недоступен.
	FetchUnreachable FetchErrorKind = "unreachable"
)

// FetchError типизированная ошибка SourceFetcher.
type FetchError struct {
	Kind    FetchErrorKind
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ошибка источника %s: %s", e.Locator, e.Kind)
	}
	return fmt.Sprintf("ошибка источника %s (%s): %v", e.Locator, e.Kind, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError создаёт FetchError.
func NewFetchError(kind FetchErrorKind, locator string, err error) *FetchError {
	return &FetchError{Kind: kind, Locator: locator, Err: err}
}

// AnalysisError типизированная ошибка анализатора.
// Никогда не покидает RelevanceGate: шлюз переключается на эвристику.
type AnalysisError struct {
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ошибка анализа: %s", e.Reason)
	}
	return fmt.Sprintf("ошибка анализа (%s): %v", e.Reason, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *AnalysisError) Unwrap() error { return e.Err }

// StorageError сбой хранилища, не являющийся ожидаемым дубликатом.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ошибка хранилища (%s): %v", e.Op, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *StorageError) Unwrap() error { return e.Err }
