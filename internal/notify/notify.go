// Package notify owns each user's notification list, persisted through the
// store gateway under the notifications key.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/store"
)

const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeMessage = "message"
	TypeBid     = "bid"
)

const DefaultLimit = 50

var ErrNotFound = errors.New("notification not found")

// Service hands out one Center per owner so concurrent writers for the same
// user serialize on the same lock.
type Service struct {
	Gateway store.Gateway
	// Limit returns the current cap; it is read on every Add so admin
	// changes apply without a restart.
	Limit func() int
	Now   func() time.Time

	mu      sync.Mutex
	centers map[string]*Center
}

func NewService(gw store.Gateway, limit func() int, now func() time.Time) *Service {
	return &Service{Gateway: gw, Limit: limit, Now: now}
}

func (s *Service) For(ownerID string) *Center {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.centers == nil {
		s.centers = map[string]*Center{}
	}
	if c, ok := s.centers[ownerID]; ok {
		return c
	}
	c := &Center{
		items: store.NewTyped(s.Gateway, store.UserScope(ownerID), store.KeyNotifications, func() []domain.Notification {
			return []domain.Notification{}
		}),
		limit: s.Limit,
		now:   s.Now,
	}
	s.centers[ownerID] = c
	return c
}

type Center struct {
	mu    sync.Mutex
	items store.Typed[[]domain.Notification]
	limit func() int
	now   func() time.Time
}

func (c *Center) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *Center) max() int {
	if c.limit == nil {
		return DefaultLimit
	}
	if n := c.limit(); n > 0 {
		return n
	}
	return DefaultLimit
}

// Add prepends n, newest first, and drops the oldest entries beyond the
// limit. ID, timestamp and read flag are assigned here.
func (c *Center) Add(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _, err := c.items.Load(ctx)
	if err != nil {
		return n, err
	}
	n.ID = uuid.NewString()
	n.Timestamp = c.clock().UTC().Format(time.RFC3339Nano)
	n.Read = false
	if n.Type == "" {
		n.Type = TypeInfo
	}
	list = append([]domain.Notification{n}, list...)
	if max := c.max(); len(list) > max {
		list = list[:max]
	}
	if err := c.items.Save(ctx, list); err != nil {
		return n, err
	}
	return n, nil
}

func (c *Center) List(ctx context.Context) ([]domain.Notification, error) {
	list, _, err := c.items.Load(ctx)
	if list == nil {
		list = []domain.Notification{}
	}
	return list, err
}

func (c *Center) UnreadCount(ctx context.Context) (int, error) {
	list, err := c.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range list {
		if !item.Read {
			n++
		}
	}
	return n, nil
}

func (c *Center) MarkRead(ctx context.Context, id string) error {
	return c.update(ctx, func(list []domain.Notification) error {
		for i := range list {
			if list[i].ID == id {
				list[i].Read = true
				return nil
			}
		}
		return ErrNotFound
	})
}

func (c *Center) MarkAllRead(ctx context.Context) error {
	return c.update(ctx, func(list []domain.Notification) error {
		for i := range list {
			list[i].Read = true
		}
		return nil
	})
}

// Clear removes every notification. Items are never removed one by one.
func (c *Center) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Save(ctx, []domain.Notification{})
}

// Subscribe calls fn with the full list after every change.
func (c *Center) Subscribe(fn func([]domain.Notification)) func() {
	return c.items.Subscribe(fn)
}

func (c *Center) update(ctx context.Context, fn func([]domain.Notification) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _, err := c.items.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(list); err != nil {
		return err
	}
	return c.items.Save(ctx, list)
}
