package models

import (
	"errors"
	"fmt"
)

// Классы ошибок движка начислений
var (
	// ErrNotFound запись (пользователь, пакет, узел) не найдена
	ErrNotFound = errors.New("не найдено")
	// ErrInvalidState операция недопустима в текущем состоянии
	ErrInvalidState = errors.New("недопустимое состояние")
	// ErrStructuralInconsistency нарушена структура дерева (цикл, ссылка на себя)
	ErrStructuralInconsistency = errors.New("нарушена целостность структуры")
	// ErrExternalDependency недоступно хранилище или оракул цены
	ErrExternalDependency = errors.New("ошибка внешней зависимости")
)

// Типизированные ошибки операций покупки и вывода
var (
	ErrInvalidPackage      = fmt.Errorf("недопустимый пакет: %w", ErrInvalidState)
	ErrInsufficientBalance = fmt.Errorf("недостаточно средств: %w", ErrInvalidState)
	ErrInvalidAmount       = fmt.Errorf("недопустимая сумма: %w", ErrInvalidState)
	ErrUserNotFound        = fmt.Errorf("пользователь: %w", ErrNotFound)
	ErrReferrerNotFound    = fmt.Errorf("реферер: %w", ErrNotFound)
	ErrNodeNotFound        = fmt.Errorf("узел дерева: %w", ErrNotFound)
	ErrAlreadyEnrolled     = fmt.Errorf("пользователь уже в автопуле: %w", ErrInvalidState)
)
