// Package auth implements the authentication core of spec.md §4.12 (C12):
// a fixed-capacity session table over a hardcoded user table, with a
// sliding-window failed-login rate limiter.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/logging"
)

// Role is the §4.12 role ordering: None < Viewer < Manager < Owner.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleManager
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleManager:
		return "manager"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// User is one entry of the hardcoded user table (§4.12 step 2).
type User struct {
	Username string
	Password string
	Role     Role
}

// Session is one active login (§4.12).
type Session struct {
	Token        string
	Username     string
	Role         Role
	Created      time.Time
	LastActivity time.Time
	RequestCount uint64
	Active       bool
}

// Config carries the §4.12 tunables.
type Config struct {
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	MaxLoginAttempts      int
	RateLimitWindow       time.Duration
}

// Stats is the snapshot backing GET /api/auth/stats (§6.1).
type Stats struct {
	ActiveSessions int
	TotalLogins    uint64
	FailedLogins   uint64
	RateLimited    uint64
	Expired        uint64
}

// Core owns the session table and rate limiter.
type Core struct {
	mu    sync.Mutex
	users map[string]User

	sessions map[string]*Session
	capacity int

	sessionTimeout time.Duration
	limiter        *rateLimiter
	maxAttempts    int

	stats Stats

	clock func() time.Time
	log   *logging.Logger
}

// New constructs a Core with the given hardcoded user table.
func New(cfg Config, users []User, log *logging.Logger) *Core {
	if log == nil {
		log = logging.Nop()
	}
	capacity := cfg.MaxConcurrentSessions
	if capacity <= 0 {
		capacity = 5
	}
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	maxAttempts := cfg.MaxLoginAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}

	return &Core{
		users:          byName,
		sessions:       make(map[string]*Session),
		capacity:       capacity,
		sessionTimeout: timeout,
		limiter:        newRateLimiter(window, maxAttempts),
		maxAttempts:    maxAttempts,
		clock:          time.Now,
		log:            log,
	}
}

// Login implements §4.12 login(username, password).
func (c *Core) Login(username, password string) (*Session, error) {
	now := c.clock()

	if c.limiter.Exceeded(username, now) {
		c.mu.Lock()
		c.stats.RateLimited++
		c.mu.Unlock()
		return nil, apierr.New(apierr.RateLimited, "too many failed login attempts for %s", username)
	}

	c.mu.Lock()
	user, ok := c.users[username]
	c.mu.Unlock()

	if !ok || user.Password != password {
		c.limiter.RecordFailure(username, now)
		c.mu.Lock()
		c.stats.FailedLogins++
		c.mu.Unlock()
		return nil, apierr.New(apierr.InvalidCredentials, "invalid username or password")
	}
	c.limiter.Reset(username)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sessions) >= c.capacity {
		if !c.evictLRULocked() {
			return nil, apierr.New(apierr.MaxSessions, "session table is full")
		}
	}

	token, err := generateToken()
	if err != nil {
		return nil, apierr.New(apierr.Hardware, "failed to generate session token")
	}

	sess := &Session{
		Token:        token,
		Username:     user.Username,
		Role:         user.Role,
		Created:      now,
		LastActivity: now,
		Active:       true,
	}
	c.sessions[token] = sess
	c.stats.TotalLogins++

	return copySession(sess), nil
}

// evictLRULocked evicts the least-recently-active session. Caller must
// hold c.mu. Returns false if the table is empty (nothing to evict).
func (c *Core) evictLRULocked() bool {
	var oldestToken string
	var oldestTime time.Time
	first := true
	for token, s := range c.sessions {
		if first || s.LastActivity.Before(oldestTime) {
			oldestToken = token
			oldestTime = s.LastActivity
			first = false
		}
	}
	if first {
		return false
	}
	delete(c.sessions, oldestToken)
	return true
}

// Validate implements §4.12 validate(token).
func (c *Core) Validate(token string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[token]
	if !ok || !sess.Active {
		return nil, apierr.New(apierr.SessionExpired, "session not found or inactive")
	}

	now := c.clock()
	if now.Sub(sess.LastActivity) > c.sessionTimeout {
		sess.Active = false
		c.stats.Expired++
		return nil, apierr.New(apierr.SessionExpired, "session expired")
	}

	sess.LastActivity = now
	sess.RequestCount++
	return copySession(sess), nil
}

// RequireRole implements §4.12 require_role(token, min_role).
func (c *Core) RequireRole(token string, minRole Role) (*Session, error) {
	sess, err := c.Validate(token)
	if err != nil {
		return nil, err
	}
	if sess.Role < minRole {
		return nil, apierr.New(apierr.InvalidRole, "role %s insufficient, requires %s", sess.Role, minRole)
	}
	return sess, nil
}

// Logout implements §4.12 logout(token): idempotent.
func (c *Core) Logout(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[token]; ok {
		sess.Active = false
	}
}

// CleanupExpired implements §4.12 cleanup_expired(): sweeps the session
// table, returning the count cleaned.
func (c *Core) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	cleaned := 0
	for token, sess := range c.sessions {
		if !sess.Active || now.Sub(sess.LastActivity) > c.sessionTimeout {
			delete(c.sessions, token)
			cleaned++
		}
	}
	return cleaned
}

// Stats returns the current counters plus live session count.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.ActiveSessions = len(c.sessions)
	return snap
}

func copySession(s *Session) *Session {
	cp := *s
	return &cp
}

// generateToken produces a 32-character hex token from a CSPRNG (§4.12
// step 4).
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
