// Package lock содержит рекомендательные блокировки пользователей и деревьев.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocked блокировка удерживается другим владельцем
var ErrLocked = errors.New("блокировка занята")

// TreeKey сериализует изменения объемов бинарного дерева
const TreeKey = "tree:binary"

// AutopoolKey сериализует вступления в автопул
const AutopoolKey = "tree:autopool"

// UserKey возвращает ключ блокировки пользователя
func UserKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Unlock освобождает блокировку
type Unlock func()

// Locker выдает эксклюзивные блокировки по ключу
type Locker interface {
	// Lock ждет освобождения ключа до отмены ctx
	Lock(ctx context.Context, key string) (Unlock, error)
	// TryLock не ждет и возвращает ErrLocked, если ключ занят
	TryLock(ctx context.Context, key string) (Unlock, error)
}

// Memory блокировки внутри процесса
type Memory struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ Locker = (*Memory)(nil)

// NewMemory создает блокировки внутри процесса
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]chan struct{})}
}

func (m *Memory) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.slots[key] = ch
	}
	return ch
}

// Lock захватывает ключ, ожидая его освобождения
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
	}
}

// TryLock захватывает ключ без ожидания
func (m *Memory) TryLock(_ context.Context, key string) (Unlock, error) {
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	default:
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
}

func release(ch chan struct{}) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}

// LockAll захватывает ключи по порядку и освобождает их в обратном порядке
func LockAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	unlocks := make([]Unlock, 0, len(keys))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, nil
}

// TryLockAll захватывает ключи по порядку без ожидания. Если хотя бы один ключ
// занят, уже взятые освобождаются и возвращается ErrLocked.
func TryLockAll(ctx context.Context, l Locker, keys ...string) (Unlock, error) {
	unlocks := make([]Unlock, 0, len(keys))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := l.TryLock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, nil
}
