// Package chat simulates a live conversation between a viewer and the other
// party of a request. Each open session runs one background goroutine that
// posts a canned counterpart reply after a random delay and re-arms. A
// session nobody opens, focuses, reads or writes to within the idle timeout
// ends on its own.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"gotodo/internal/domain"
	"gotodo/internal/notify"
)

var (
	ErrNoSession    = errors.New("chat session is not open")
	ErrEmptyMessage = errors.New("message text is required")
)

type MessageStore interface {
	InsertChatMessage(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) error
	ListChatMessages(ctx context.Context, requestID string) ([]domain.ChatMessage, error)
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Settings struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	IdleTimeout   time.Duration
	PreviewLength int
	Replies       []string
}

const DefaultIdleTimeout = 5 * time.Minute

type Manager struct {
	Messages MessageStore
	Notify   *notify.Service
	Settings func() Settings
	Now      func() time.Time
	Logger   *log.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	requestID string
	viewerID  string
}

// Session is one viewer's open chat on a request.
type Session struct {
	RequestID   string
	Viewer      Participant
	Counterpart Participant

	mu       sync.Mutex
	lastSeen string
	active   time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.active = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) seen(id string) {
	s.mu.Lock()
	s.lastSeen = id
	s.mu.Unlock()
}

func (s *Session) lastSeenID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Manager) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

func (m *Manager) settings() Settings {
	s := Settings{MinDelay: 15 * time.Second, MaxDelay: 40 * time.Second, PreviewLength: 20}
	if m.Settings != nil {
		s = m.Settings()
	}
	if s.MaxDelay < s.MinDelay {
		s.MaxDelay = s.MinDelay
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if len(s.Replies) == 0 {
		s.Replies = []string{"On my way."}
	}
	return s
}

// Open starts a session, or returns the one already open for the pair. The
// history is marked seen.
func (m *Manager) Open(ctx context.Context, requestID string, viewer, counterpart Participant) (*Session, []domain.ChatMessage, error) {
	history, err := m.Messages.ListChatMessages(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	key := sessionKey{requestID: requestID, viewerID: viewer.ID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[sessionKey]*Session{}
	}
	if s, ok := m.sessions[key]; ok {
		s.touch()
		return s, history, nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{RequestID: requestID, Viewer: viewer, Counterpart: counterpart, active: time.Now(), cancel: cancel, done: make(chan struct{})}
	if n := len(history); n > 0 {
		s.lastSeen = history[n-1].ID
	}
	m.sessions[key] = s
	go m.run(runCtx, s)
	return s, history, nil
}

func (m *Manager) run(ctx context.Context, s *Session) {
	defer close(s.done)
	cfg := m.settings()
	replyAt := time.Now().Add(replyDelay(cfg))
	for {
		now := time.Now()
		idleAt := s.lastActive().Add(cfg.IdleTimeout)
		if !now.Before(idleAt) {
			m.expire(s)
			return
		}
		wake := replyAt
		if idleAt.Before(wake) {
			wake = idleAt
		}
		timer := time.NewTimer(wake.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if time.Now().Before(replyAt) {
			continue
		}
		msg := m.message(s.RequestID, s.Counterpart, cfg.Replies[rand.Intn(len(cfg.Replies))])
		if err := m.Messages.InsertChatMessage(ctx, nil, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logf("chat: simulated reply on %s: %v", s.RequestID, err)
		}
		cfg = m.settings()
		replyAt = time.Now().Add(replyDelay(cfg))
	}
}

func replyDelay(cfg Settings) time.Duration {
	delay := cfg.MinDelay
	if span := cfg.MaxDelay - cfg.MinDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	return delay
}

// expire drops an idle session unless it was already closed or replaced.
func (m *Manager) expire(s *Session) {
	key := sessionKey{requestID: s.RequestID, viewerID: s.Viewer.ID}
	m.mu.Lock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	m.logf("chat: session of %s on %s expired", s.Viewer.ID, s.RequestID)
}

func (m *Manager) message(requestID string, from Participant, text string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		SenderID:   from.ID,
		SenderName: from.Name,
		Text:       text,
		Timestamp:  m.now().UTC().Format(time.RFC3339Nano),
	}
}

func (m *Manager) session(requestID, viewerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey{requestID: requestID, viewerID: viewerID}]
}

// Send appends the sender's message immediately. With an open session the
// message also counts as seen so the viewer's own echo is never unread.
func (m *Manager) Send(ctx context.Context, requestID string, from Participant, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	msg := m.message(requestID, from, text)
	if err := m.Messages.InsertChatMessage(ctx, nil, msg); err != nil {
		return msg, err
	}
	if s := m.session(requestID, from.ID); s != nil {
		s.seen(msg.ID)
		s.touch()
	}
	return msg, nil
}

// Focus marks everything currently in the conversation as seen.
func (m *Manager) Focus(ctx context.Context, requestID, viewerID string) error {
	s := m.session(requestID, viewerID)
	if s == nil {
		return ErrNoSession
	}
	s.touch()
	msgs, err := m.Messages.ListChatMessages(ctx, requestID)
	if err != nil {
		return err
	}
	if n := len(msgs); n > 0 {
		s.seen(msgs[n-1].ID)
	}
	return nil
}

// History lists the conversation and keeps the viewer's session alive.
func (m *Manager) History(ctx context.Context, requestID, viewerID string) ([]domain.ChatMessage, error) {
	if s := m.session(requestID, viewerID); s != nil {
		s.touch()
	}
	return m.Messages.ListChatMessages(ctx, requestID)
}

// Close stops the session's goroutine. When the newest message came from the
// counterpart after the viewer last looked, exactly one notification is
// raised for the viewer and returned.
func (m *Manager) Close(ctx context.Context, requestID, viewerID string) (*domain.Notification, error) {
	key := sessionKey{requestID: requestID, viewerID: viewerID}
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	s.cancel()
	<-s.done

	msgs, err := m.Messages.ListChatMessages(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	latest := msgs[len(msgs)-1]
	if latest.SenderID == viewerID || latest.ID == s.lastSeenID() {
		return nil, nil
	}
	if m.Notify == nil {
		return nil, nil
	}
	n, err := m.Notify.For(viewerID).Add(ctx, domain.Notification{
		Message:          fmt.Sprintf("New message from %s: \"%s\"", latest.SenderName, Preview(latest.Text, m.settings().PreviewLength)),
		Type:             notify.TypeMessage,
		RelatedRequestID: requestID,
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CloseRequest stops every session on a request without raising
// notifications and returns how many were stopped.
func (m *Manager) CloseRequest(requestID string) int {
	m.mu.Lock()
	var stopped []*Session
	for key, s := range m.sessions {
		if key.requestID == requestID {
			stopped = append(stopped, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()
	for _, s := range stopped {
		s.cancel()
		<-s.done
	}
	return len(stopped)
}

// Shutdown stops every session without raising notifications.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()
	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
}

// OpenSessions reports how many sessions are running.
func (m *Manager) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Preview returns the first n characters of text, with an ellipsis when cut.
func Preview(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return string(r[:n]) + "..."
}
