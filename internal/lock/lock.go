// Package lock — взаимное исключение по ключу: в процессе (Local) и между инстансами (Redis).
package lock

import (
	"context"
	"sync"
)

// Locker захватывает эксклюзивную блокировку ключа. Вызывающий обязан вызвать unlock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local — мьютекс на ключ внутри одного процесса. Записи удаляются, когда ключ никому не нужен.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // буфер 1: занятый слот = блокировка захвачена
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len — число ключей в работе (для тестов и метрик).
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
