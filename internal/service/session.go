package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tourbook/internal/checkout"
	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrEmptyUserID  = errors.New("user id is required")
	ErrEmptyListing = errors.New("activity id is required")
)

// Session is everything owned by one logged-in chat. It is created on login
// and torn down on logout; nothing in it outlives that.
type Session struct {
	ChatID    int64
	UserID    string
	StartedAt time.Time
	Wishlist  *Wishlist

	mu   sync.Mutex
	flow *checkout.Flow
}

// Flow returns the active checkout, if any.
func (s *Session) Flow() *checkout.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// ReplaceFlow installs f as the active checkout and closes the previous one.
func (s *Session) ReplaceFlow(f *checkout.Flow) {
	s.mu.Lock()
	prev := s.flow
	s.flow = f
	s.mu.Unlock()

	if prev != nil && prev != f {
		prev.Close()
	}
}

// EndFlow closes the active checkout when it is f. A stale f is ignored.
func (s *Session) EndFlow(f *checkout.Flow) {
	s.mu.Lock()
	if s.flow != f {
		s.mu.Unlock()
		return
	}
	s.flow = nil
	s.mu.Unlock()
	f.Close()
}

func (s *Session) close() {
	s.ReplaceFlow(nil)
}

// Wishlist is the session-scoped view of a user's saved activities.
type Wishlist struct {
	userID string
	repo   domain.WishlistRepository
	now    func() time.Time
}

func (w *Wishlist) Save(ctx context.Context, activityID string) error {
	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		return ErrEmptyListing
	}
	return w.repo.AddToWishlist(ctx, w.userID, activityID, w.now())
}

func (w *Wishlist) Remove(ctx context.Context, activityID string) error {
	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		return ErrEmptyListing
	}
	return w.repo.RemoveFromWishlist(ctx, w.userID, activityID)
}

func (w *Wishlist) Items(ctx context.Context) ([]models.WishlistEntry, error) {
	return w.repo.GetWishlist(ctx, w.userID)
}

func (w *Wishlist) Contains(ctx context.Context, activityID string) (bool, error) {
	activityID = strings.TrimSpace(activityID)
	items, err := w.Items(ctx)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.ActivityID == activityID {
			return true, nil
		}
	}
	return false, nil
}

// SessionManager owns the per-chat sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	repo     domain.WishlistRepository
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewSessionManager(repo domain.WishlistRepository, logger *zerolog.Logger) *SessionManager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SessionManager{
		sessions: make(map[int64]*Session),
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Login binds chatID to a marketplace user. Logging in as someone else
// ends the previous session first.
func (m *SessionManager) Login(ctx context.Context, chatID int64, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	m.mu.Lock()
	existing := m.sessions[chatID]
	m.mu.Unlock()

	if existing != nil {
		if existing.UserID == userID {
			return existing, nil
		}
		if err := m.Logout(ctx, chatID); err != nil {
			return nil, fmt.Errorf("end previous session: %w", err)
		}
	}

	s := &Session{
		ChatID:    chatID,
		UserID:    userID,
		StartedAt: m.now(),
		Wishlist:  &Wishlist{userID: userID, repo: m.repo, now: m.now},
	}

	m.mu.Lock()
	m.sessions[chatID] = s
	m.mu.Unlock()

	m.logger.Info().Int64("chat_id", chatID).Str("user_id", userID).Msg("session started")
	return s, nil
}

// Logout closes the active checkout and drops the cached wishlist.
func (m *SessionManager) Logout(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()

	if !ok {
		return ErrNotLoggedIn
	}

	s.close()
	if err := m.repo.ClearWishlist(ctx, s.UserID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", s.UserID).Msg("clear wishlist on logout")
		return fmt.Errorf("clear wishlist: %w", err)
	}

	m.logger.Info().Int64("chat_id", chatID).Str("user_id", s.UserID).Msg("session ended")
	return nil
}

// Get returns the session for chatID or ErrNotLoggedIn.
func (m *SessionManager) Get(chatID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return s, nil
}

// Allow applies the per-chat message rate limit.
func (m *SessionManager) Allow(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	return m.repo.CheckRateLimit(ctx, chatID, limit, window)
}

// CloseAll closes every active checkout; sessions stay logged in.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
