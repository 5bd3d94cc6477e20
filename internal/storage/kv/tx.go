package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type write struct {
	key   string
	value []byte
	del   bool
}

// Tx контекст одной попытки транзакции Store.Update.
// Чтения идут напрямую в Redis под WATCH, записи копятся до EXEC.
type Tx struct {
	ctx    context.Context
	rtx    *redis.Tx
	writes []write
}

// Get читает документ; повторное чтение ключа, записанного в этой же попытке,
// возвращает записанное значение.
func (t *Tx) Get(key string, result any) (bool, error) {
	const op = "kv.Tx.Get"
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].key != key {
			continue
		}
		if t.writes[i].del {
			return false, nil
		}
		if err := decode(t.writes[i].value, result); err != nil {
			return false, fmt.Errorf("%s: %s: %w", op, key, err)
		}
		return true, nil
	}

	val, err := t.rtx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := decode(val, result); err != nil {
		return false, fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return true, nil
}

// Set ставит запись документа в очередь транзакции.
func (t *Tx) Set(key string, value any) error {
	const op = "kv.Tx.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	t.writes = append(t.writes, write{key: key, value: data})
	return nil
}

// Delete ставит удаление ключа в очередь транзакции.
func (t *Tx) Delete(key string) {
	t.writes = append(t.writes, write{key: key, del: true})
}

// BumpVersion продвигает счётчик версии под ключом key.
// Новое значение равно текущему времени в миллисекундах, но строго больше предыдущего.
// Испорченный счётчик считается нулевым.
func (t *Tx) BumpVersion(key string, now time.Time) (int64, error) {
	var prev int64
	if _, err := t.Get(key, &prev); err != nil && !errors.Is(err, ErrCorrupt) {
		return 0, err
	}
	next := now.UnixMilli()
	if next <= prev {
		next = prev + 1
	}
	if err := t.Set(key, next); err != nil {
		return 0, err
	}
	return next, nil
}
