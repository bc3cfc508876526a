// Package store is the persistence gateway for process-wide state: the
// signed-in user, theme, notifications and system configuration.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const (
	KeyUser          = "gotodoUser"
	KeyTheme         = "gotodo-theme"
	KeyNotifications = "gotodo-notifications_v2"
	KeySystemConfig  = "gotodo_system_config"
)

// GlobalScope holds values shared by every user.
const GlobalScope = "global"

// UserScope namespaces per-user values.
func UserScope(userID string) string {
	return "user:" + userID
}

// Gateway stores raw JSON values by (scope, key). Subscribers are called
// after each Set or Delete with the new value, nil when deleted.
type Gateway interface {
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, value []byte) error
	Delete(ctx context.Context, scope, key string) error
	Subscribe(scope, key string, fn func([]byte)) (cancel func())
}

// TxSetter is implemented by gateways that can join a database transaction.
type TxSetter interface {
	SetTx(ctx context.Context, tx *sql.Tx, scope, key string, value []byte) (publish func(), err error)
}

var ErrNoTransactions = errors.New("store: gateway cannot write inside a transaction")

type hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func([]byte)
}

func subKey(scope, key string) string { return scope + "\x00" + key }

func (h *hub) subscribe(scope, key string, fn func([]byte)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = map[string]map[int]func([]byte){}
	}
	k := subKey(scope, key)
	if h.subs[k] == nil {
		h.subs[k] = map[int]func([]byte){}
	}
	id := h.next
	h.next++
	h.subs[k][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[k], id)
		})
	}
}

func (h *hub) publish(scope, key string, value []byte) {
	h.mu.Lock()
	var fns []func([]byte)
	for _, fn := range h.subs[subKey(scope, key)] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// Typed binds one key to a Go type with JSON encoding.
type Typed[T any] struct {
	Gateway Gateway
	Scope   string
	Key     string
	// Default is returned by Load when nothing is stored yet.
	Default func() T
}

func NewTyped[T any](gw Gateway, scope, key string, def func() T) Typed[T] {
	return Typed[T]{Gateway: gw, Scope: scope, Key: key, Default: def}
}

func (t Typed[T]) zero() T {
	if t.Default != nil {
		return t.Default()
	}
	var v T
	return v
}

// Load returns the stored value, or Default when the key is absent.
func (t Typed[T]) Load(ctx context.Context) (T, bool, error) {
	raw, ok, err := t.Gateway.Get(ctx, t.Scope, t.Key)
	if err != nil || !ok {
		return t.zero(), false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return t.zero(), false, fmt.Errorf("decode %s: %w", t.Key, err)
	}
	return v, true, nil
}

func (t Typed[T]) Save(ctx context.Context, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.Key, err)
	}
	return t.Gateway.Set(ctx, t.Scope, t.Key, raw)
}

// SaveTx stores v inside tx. Call publish once tx has committed.
func (t Typed[T]) SaveTx(ctx context.Context, tx *sql.Tx, v T) (publish func(), err error) {
	setter, ok := t.Gateway.(TxSetter)
	if !ok {
		return nil, ErrNoTransactions
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.Key, err)
	}
	return setter.SetTx(ctx, tx, t.Scope, t.Key, raw)
}

func (t Typed[T]) Clear(ctx context.Context) error {
	return t.Gateway.Delete(ctx, t.Scope, t.Key)
}

// Subscribe delivers decoded values. Undecodable writes are skipped and a
// delete delivers Default.
func (t Typed[T]) Subscribe(fn func(T)) func() {
	return t.Gateway.Subscribe(t.Scope, t.Key, func(raw []byte) {
		if raw == nil {
			fn(t.zero())
			return
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return
		}
		fn(v)
	})
}
