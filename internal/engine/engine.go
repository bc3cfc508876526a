package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"gotodo/internal/chat"
	"gotodo/internal/config"
	"gotodo/internal/domain"
	"gotodo/internal/events"
	"gotodo/internal/notify"
	"gotodo/internal/repo"
	"gotodo/internal/store"
	"gotodo/internal/theme"
)

// Engine coordinates request, bid and journey mutations. Every mutation runs
// in one transaction together with its audit event; notifications are sent
// after commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Store    store.Gateway
	Notify   *notify.Service
	Chat     *chat.Manager
	Defaults *config.Config
	Logger   *log.Logger
	Now      func() time.Time

	themes *themeCache
}

type themeCache struct {
	mu     sync.Mutex
	states map[string]*theme.State
}

func New(db *sql.DB, defaults *config.Config) Engine {
	if defaults == nil {
		defaults = config.Default()
	}
	r := repo.Repo{DB: db}
	gw := store.NewSQL(r, nil)
	e := Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Store:    gw,
		Defaults: defaults,
		Now:      time.Now,
		themes:   &themeCache{states: map[string]*theme.State{}},
	}
	e.Notify = notify.NewService(gw, func() int {
		cfg, err := e.SystemConfig(context.Background())
		if err != nil {
			return notify.DefaultLimit
		}
		return cfg.Notifications.Limit
	}, nil)
	e.Chat = &chat.Manager{
		Messages: r,
		Notify:   e.Notify,
		Settings: func() chat.Settings {
			cfg, err := e.SystemConfig(context.Background())
			if err != nil {
				cfg = defaults
			}
			min, max := cfg.ChatDelayRange()
			return chat.Settings{
				MinDelay:      min,
				MaxDelay:      max,
				IdleTimeout:   cfg.ChatIdleTimeout(),
				PreviewLength: cfg.Chat.PreviewLength,
				Replies:       cfg.Chat.Replies,
			}
		},
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// ValidationError is returned for bad input, before anything is written.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when the current state forbids the operation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

func forbidden(format string, args ...any) error {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

// ErrMaintenance is returned for new work while the platform is in
// maintenance mode.
var ErrMaintenance = errors.New("platform is in maintenance mode")

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateOpts(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := map[string]string{}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := snake(fe.Field())
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[name] = rule
		msgs = append(msgs, fmt.Sprintf("%s failed %s", name, rule))
	}
	return &ValidationError{Message: strings.Join(msgs, "; "), Fields: fields}
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (e Engine) systemConfig() store.Typed[*config.Config] {
	return store.NewTyped(e.Store, store.GlobalScope, store.KeySystemConfig, func() *config.Config {
		cp := *e.Defaults
		return &cp
	})
}

// SystemConfig returns the runtime configuration, falling back to the
// workspace defaults until an admin saves one.
func (e Engine) SystemConfig(ctx context.Context) (*config.Config, error) {
	cfg, _, err := e.systemConfig().Load(ctx)
	return cfg, err
}

// notifyUser adds a notification after commit; failures are logged.
func (e Engine) notifyUser(ctx context.Context, userID string, n domain.Notification) {
	if e.Notify == nil || userID == "" {
		return
	}
	if _, err := e.Notify.For(userID).Add(ctx, n); err != nil {
		e.logf("notify %s: %v", userID, err)
	}
}

// Notifications returns the notification center of a user.
func (e Engine) Notifications(userID string) *notify.Center {
	return e.Notify.For(userID)
}

// Theme returns the theme state of a user. A cached state is reloaded so
// writes from another process are picked up.
func (e Engine) Theme(ctx context.Context, userID string, applier theme.ClassApplier) (*theme.State, error) {
	e.themes.mu.Lock()
	defer e.themes.mu.Unlock()
	if s, ok := e.themes.states[userID]; ok {
		if _, err := s.Load(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	s := theme.New(e.Store, store.UserScope(userID), applier)
	if _, err := s.Load(ctx); err != nil {
		return nil, err
	}
	e.themes.states[userID] = s
	return s, nil
}

type EnsureUserOptions struct {
	ID    string `validate:"required,max=64"`
	Name  string `validate:"required,max=120"`
	Email string `validate:"omitempty,email"`
	Role  string `validate:"omitempty,oneof=requester provider admin"`
}

// EnsureUser creates the user or updates name, email and role.
func (e Engine) EnsureUser(ctx context.Context, opts EnsureUserOptions) (domain.User, error) {
	if err := validateOpts(opts); err != nil {
		return domain.User{}, err
	}
	if opts.Role == "" {
		opts.Role = domain.RoleRequester
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUser(ctx, tx, opts.ID)
	evt := "user.update"
	switch {
	case errors.Is(err, repo.ErrNotFound):
		u = domain.User{ID: opts.ID, Name: opts.Name, Email: opts.Email, Role: opts.Role, CreatedAt: e.stamp()}
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return u, fmt.Errorf("insert user: %w", err)
		}
		evt = "user.create"
	case err != nil:
		return u, err
	default:
		if u.Name == opts.Name && u.Email == opts.Email && u.Role == opts.Role {
			return u, nil
		}
		u.Name, u.Email, u.Role = opts.Name, opts.Email, opts.Role
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return u, err
		}
	}
	if err := e.Events.Append(ctx, tx, evt, events.KindUser, u.ID, u.ID, events.EventPayload{"role": u.Role}); err != nil {
		return u, err
	}
	return u, tx.Commit()
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, nil, id)
}

func (e Engine) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	return e.Repo.ListUsers(ctx, nil, role)
}

func (e Engine) isAdmin(ctx context.Context, tx *sql.Tx, userID string) bool {
	u, err := e.Repo.GetUser(ctx, tx, userID)
	return err == nil && u.Role == domain.RoleAdmin
}
