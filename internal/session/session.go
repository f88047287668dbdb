// Package session owns the process-wide authentication state: the primary
// API token, the short-lived grader token, and the logged-in profile. It is
// the single writer of both tokens; every other component only reads them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkivela/lmsc/internal/api"
	"github.com/mkivela/lmsc/internal/model"
	"github.com/mkivela/lmsc/internal/schema"
	"github.com/mkivela/lmsc/internal/store"
)

// ErrNotLoggedIn is returned by operations that need an authenticated
// session.
var ErrNotLoggedIn = errors.New("not logged in")

// Session is constructed once at application start and passed by reference
// into every collaborator that needs authorization. Login, refresh and
// logout are guarded against concurrent invocation.
type Session struct {
	mu sync.Mutex
	st *store.Store

	token       string
	graderToken string
	profile     *model.UserProfile
}

// Load restores persisted tokens from the local store. A stored value that
// fails validation clears both keys rather than failing startup.
func Load(st *store.Store) (*Session, error) {
	s := &Session{st: st}

	raw, err := st.GetToken(store.KeyToken)
	if err != nil {
		return nil, fmt.Errorf("load primary token: %w", err)
	}
	if raw != "" {
		tok, err := schema.StoredToken([]byte(raw))
		if err != nil {
			slog.Warn("stored tokens corrupted, clearing", "error", err)
			if cerr := st.ClearTokens(); cerr != nil {
				return nil, fmt.Errorf("clear corrupted tokens: %w", cerr)
			}
			return s, nil
		}
		s.token = tok
	}

	raw, err = st.GetToken(store.KeyGraderToken)
	if err != nil {
		return nil, fmt.Errorf("load grader token: %w", err)
	}
	if raw != "" {
		tok, err := schema.StoredToken([]byte(raw))
		if err != nil {
			slog.Warn("stored tokens corrupted, clearing", "error", err)
			s.token = ""
			if cerr := st.ClearTokens(); cerr != nil {
				return nil, fmt.Errorf("clear corrupted tokens: %w", cerr)
			}
			return s, nil
		}
		s.graderToken = tok
	}

	return s, nil
}

// PrimaryToken returns the current primary token ("" when logged out).
func (s *Session) PrimaryToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// GraderToken returns the current secondary token ("" when never issued).
func (s *Session) GraderToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graderToken
}

// LoggedIn reports whether a primary token is held.
func (s *Session) LoggedIn() bool {
	return s.PrimaryToken() != ""
}

// Profile returns the logged-in profile, fetching it once per process if a
// token was restored from storage.
func (s *Session) Profile(ctx context.Context, c *api.Client) (*model.UserProfile, error) {
	s.mu.Lock()
	if s.profile != nil {
		p := s.profile
		s.mu.Unlock()
		return p, nil
	}
	if s.token == "" {
		s.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	s.mu.Unlock()

	p, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return p, nil
}

// Login validates the token against the platform, then stores it as the
// session's primary token, both in memory and durably.
func (s *Session) Login(ctx context.Context, c *api.Client, token string) (*model.UserProfile, error) {
	// The client reads the token through PrimaryToken, so it must be set
	// before the validation call and must not be set under s.mu.
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	profile, err := c.Me(ctx)
	if err != nil {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
		return nil, fmt.Errorf("validate token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(store.KeyToken, token); err != nil {
		s.token = ""
		return nil, err
	}
	s.profile = profile
	slog.Info("logged in", "user", profile.FullName)
	return profile, nil
}

// RefreshGraderToken re-issues the secondary token, scoped to the user's
// enrolled courses, and persists the replacement. This is the secondary
// token's only refresh path.
func (s *Session) RefreshGraderToken(ctx context.Context, c *api.Client) error {
	profile, err := s.Profile(ctx, c)
	if err != nil {
		return err
	}

	tok, err := c.GraderToken(ctx, profile.EnrolledCourses)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(store.KeyGraderToken, tok); err != nil {
		return err
	}
	s.graderToken = tok
	slog.Debug("grader token refreshed")
	return nil
}

// Logout clears both tokens from memory and storage. It is the only
// revocation path the grader token has.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.graderToken = ""
	s.profile = nil
	if err := s.st.ClearTokens(); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	slog.Info("logged out")
	return nil
}

// ExpireIfAuthError forces a logout when err is a primary-token failure and
// reports whether it did so. This is the single designated boundary for
// AuthExpired handling; all other errors propagate to the caller's view.
func (s *Session) ExpireIfAuthError(err error) bool {
	if !errors.Is(err, api.ErrAuthExpired) {
		return false
	}
	if lerr := s.Logout(); lerr != nil {
		slog.Error("forced logout failed", "error", lerr)
	}
	return true
}

// persistLocked serializes a token as a JSON string under a fixed key.
// Callers hold s.mu.
func (s *Session) persistLocked(key, token string) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := s.st.SetToken(key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
