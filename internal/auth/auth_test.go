package auth

import (
	"testing"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
)

func testUsers() []User {
	return []User{
		{Username: "alice", Password: "secret", Role: RoleOwner},
		{Username: "bob", Password: "hunter2", Role: RoleViewer},
	}
}

func TestLoginSuccessIssuesSession(t *testing.T) {
	c := New(Config{}, testUsers(), nil)
	sess, err := c.Login("alice", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Token) != 32 {
		t.Fatalf("expected 32-char hex token, got %d chars", len(sess.Token))
	}
	if sess.Role != RoleOwner {
		t.Fatalf("expected owner role, got %s", sess.Role)
	}
}

func TestLoginWrongPasswordInvalidCredentials(t *testing.T) {
	c := New(Config{}, testUsers(), nil)
	_, err := c.Login("alice", "wrong")
	if apierr.KindOf(err) != apierr.InvalidCredentials {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestValidateThenLogoutExpires(t *testing.T) {
	c := New(Config{}, testUsers(), nil)
	sess, _ := c.Login("alice", "secret")

	if _, err := c.Validate(sess.Token); err != nil {
		t.Fatalf("unexpected error validating fresh session: %v", err)
	}

	c.Logout(sess.Token)
	_, err := c.Validate(sess.Token)
	if apierr.KindOf(err) != apierr.SessionExpired {
		t.Fatalf("expected SessionExpired after logout, got %v", err)
	}
}

func TestSessionTimeoutExpiresOnInactivity(t *testing.T) {
	c := New(Config{SessionTimeout: 10 * time.Millisecond}, testUsers(), nil)
	now := time.Now()
	c.clock = func() time.Time { return now }

	sess, _ := c.Login("alice", "secret")

	now = now.Add(20 * time.Millisecond)
	_, err := c.Validate(sess.Token)
	if apierr.KindOf(err) != apierr.SessionExpired {
		t.Fatalf("expected SessionExpired after timeout, got %v", err)
	}
}

func TestRequireRoleInsufficientRejected(t *testing.T) {
	c := New(Config{}, testUsers(), nil)
	sess, _ := c.Login("bob", "hunter2")

	_, err := c.RequireRole(sess.Token, RoleManager)
	if apierr.KindOf(err) != apierr.InvalidRole {
		t.Fatalf("expected InvalidRole, got %v", err)
	}
}

func TestMaxSessionsEvictsLRU(t *testing.T) {
	c := New(Config{MaxConcurrentSessions: 2}, []User{
		{Username: "a", Password: "p", Role: RoleViewer},
		{Username: "b", Password: "p", Role: RoleViewer},
		{Username: "d", Password: "p", Role: RoleViewer},
	}, nil)

	now := time.Now()
	c.clock = func() time.Time { return now }

	sessA, _ := c.Login("a", "p")
	now = now.Add(time.Millisecond)
	_, _ = c.Login("b", "p")
	now = now.Add(time.Millisecond)

	// a is least-recently-active; logging in a third user should evict it.
	if _, err := c.Login("d", "p"); err != nil {
		t.Fatalf("unexpected error on 3rd login: %v", err)
	}

	if _, err := c.Validate(sessA.Token); apierr.KindOf(err) != apierr.SessionExpired {
		t.Fatal("expected a's session to have been evicted")
	}
}

func TestRateLimiterBlocksAfterMaxAttempts(t *testing.T) {
	// Seed case 7 of spec.md §8: max_login_attempts=3, window=5min.
	c := New(Config{MaxLoginAttempts: 3, RateLimitWindow: 5 * time.Minute}, testUsers(), nil)
	now := time.Now()
	c.clock = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.Login("u", "wrong")
		if apierr.KindOf(err) != apierr.InvalidCredentials {
			t.Fatalf("attempt %d: expected InvalidCredentials, got %v", i+1, err)
		}
	}
	for i := 0; i < 3; i++ {
		_, err := c.Login("u", "wrong")
		if apierr.KindOf(err) != apierr.RateLimited {
			t.Fatalf("attempt %d: expected RateLimited, got %v", i+4, err)
		}
	}
}

func TestSuccessfulLoginResetsRateLimitCounter(t *testing.T) {
	c := New(Config{MaxLoginAttempts: 3}, testUsers(), nil)
	c.Login("alice", "wrong")
	c.Login("alice", "wrong")
	if _, err := c.Login("alice", "secret"); err != nil {
		t.Fatalf("expected success to still be possible below the limit: %v", err)
	}
	// Counter reset by the success: two more failures should not yet trip it.
	c.Login("alice", "wrong")
	_, err := c.Login("alice", "wrong")
	if apierr.KindOf(err) != apierr.InvalidCredentials {
		t.Fatalf("expected InvalidCredentials after reset, got %v", err)
	}
}

func TestCleanupExpiredSweepsInactiveSessions(t *testing.T) {
	c := New(Config{SessionTimeout: 5 * time.Millisecond}, testUsers(), nil)
	now := time.Now()
	c.clock = func() time.Time { return now }

	c.Login("alice", "secret")
	now = now.Add(10 * time.Millisecond)

	cleaned := c.CleanupExpired()
	if cleaned != 1 {
		t.Fatalf("expected 1 session cleaned, got %d", cleaned)
	}
	if c.Stats().ActiveSessions != 0 {
		t.Fatal("expected no active sessions after cleanup")
	}
}
