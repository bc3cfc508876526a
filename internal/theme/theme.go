package theme

import (
	"context"
	"fmt"
	"sync"

	"gotodo/internal/store"
)

const (
	Light = "light"
	Dark  = "dark"
)

// ClassApplier sets the root document class for a theme.
type ClassApplier interface {
	ApplyClass(theme string)
}

type ClassApplierFunc func(theme string)

func (f ClassApplierFunc) ApplyClass(theme string) { f(theme) }

// State owns one user's theme. The applier is called only when the applied
// class actually changes.
type State struct {
	mu      sync.Mutex
	value   store.Typed[string]
	applier ClassApplier
	applied string
	current string
}

func New(gw store.Gateway, scope string, applier ClassApplier) *State {
	return &State{
		value:   store.NewTyped(gw, scope, store.KeyTheme, func() string { return Light }),
		applier: applier,
	}
}

// Load reads the persisted theme, light when unset or unknown, and applies it.
func (s *State) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.stored(ctx)
	if err != nil {
		return "", err
	}
	s.current = v
	s.apply(v)
	return v, nil
}

// stored reads the gateway; other processes may have written since Load.
func (s *State) stored(ctx context.Context) (string, error) {
	v, _, err := s.value.Load(ctx)
	if err != nil {
		return "", err
	}
	if v != Dark {
		v = Light
	}
	return v, nil
}

func (s *State) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return Light
	}
	return s.current
}

// Toggle flips the persisted theme between light and dark.
func (s *State) Toggle(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.stored(ctx)
	if err != nil {
		return s.current, err
	}
	next := Dark
	if cur == Dark {
		next = Light
	}
	if err := s.value.Save(ctx, next); err != nil {
		return s.current, err
	}
	s.current = next
	s.apply(next)
	return next, nil
}

// Set stores an explicit theme.
func (s *State) Set(ctx context.Context, theme string) error {
	if theme != Light && theme != Dark {
		return fmt.Errorf("unknown theme %q", theme)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.value.Save(ctx, theme); err != nil {
		return err
	}
	s.current = theme
	s.apply(theme)
	return nil
}

func (s *State) apply(theme string) {
	if s.applier == nil || s.applied == theme {
		return
	}
	s.applied = theme
	s.applier.ApplyClass(theme)
}
