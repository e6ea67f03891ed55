// Package classifier implements the request classifier of spec.md §4.8
// (C8): URI-pattern-first classification with a method-based fallback.
// The mode-based degrade/reject rules are applied afterwards by
// priority.Manager.Admit, not by this package.
package classifier

import (
	"strings"
	"sync"

	"github.com/jihwankim/irrig-core/internal/priority"
)

// Classification is the classifier's output (§4.8): {priority,
// estimated_ms, requires_auth, is_emergency, reason}.
type Classification struct {
	Priority     priority.Priority
	EstimatedMs  int
	RequiresAuth bool
	IsEmergency  bool
	Reason       string
}

type patternRule struct {
	match       func(uri string) bool
	priority    priority.Priority
	estimatedMs int
	reason      string
}

var staticExtensions = []string{".css", ".js", ".html", ".png", ".jpg", ".ico"}

// MatchFunc reports whether a request URI should be handled by the
// classifier function it's paired with.
type MatchFunc func(uri string) bool

// RuleFunc produces a Classification for a request that matched the
// paired MatchFunc.
type RuleFunc func(method, uri string) Classification

type customRule struct {
	match MatchFunc
	fn    RuleFunc
}

// Classifier holds a registry of custom URI-pattern rules checked ahead
// of the built-in §4.8 table. The zero value is ready to use; Classify
// uses a package-level default Classifier so callers that don't need
// custom rules can keep calling the package function directly.
type Classifier struct {
	mu     sync.Mutex
	custom []customRule
}

var defaultClassifier Classifier

// Register adds a custom URI-pattern matcher and classifier function to
// the default Classifier, checked before the built-in pattern table and
// method fallback (spec.md §9: "a URI-pattern matcher plus classifier
// function pluggable into C8 before method-fallback"). Registrations are
// tried in registration order; the first match wins.
func Register(pattern MatchFunc, fn RuleFunc) {
	defaultClassifier.Register(pattern, fn)
}

// Register adds a custom rule to this Classifier.
func (c *Classifier) Register(pattern MatchFunc, fn RuleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom = append(c.custom, customRule{match: pattern, fn: fn})
}

// rules implements the §4.8 pattern table; first match wins.
func rules() []patternRule {
	return []patternRule{
		{
			match:       func(uri string) bool { return strings.Contains(uri, "/api/emergency") || strings.Contains(uri, "/emergency-stop") },
			priority:    priority.Emergency,
			estimatedMs: 50,
			reason:      "emergency endpoint",
		},
		{
			match: func(uri string) bool {
				return strings.Contains(uri, "/api/io/points") && strings.Contains(uri, "/set")
			},
			priority:    priority.IoCritical,
			estimatedMs: 100,
			reason:      "io point set",
		},
		{
			match: func(uri string) bool {
				return strings.Contains(uri, "/api/irrigation/zones") && strings.Contains(uri, "/activate")
			},
			priority:    priority.IoCritical,
			estimatedMs: 200,
			reason:      "zone activation",
		},
		{
			match:       func(uri string) bool { return strings.Contains(uri, "/api/auth/") },
			priority:    priority.Authentication,
			estimatedMs: 500,
			reason:      "authentication endpoint",
		},
		{
			match: func(uri string) bool {
				return strings.Contains(uri, "/api/status") || strings.Contains(uri, "/api/dashboard/")
			},
			priority:    priority.UiCritical,
			estimatedMs: 300,
			reason:      "dashboard/status endpoint",
		},
		{
			match: func(uri string) bool {
				return strings.Contains(uri, "/api/io/points") && !strings.Contains(uri, "/set")
			},
			priority:    priority.UiCritical,
			estimatedMs: 200,
			reason:      "io point listing",
		},
		{
			match: func(uri string) bool {
				return strings.Contains(uri, "/api/logs/") || strings.Contains(uri, "/api/statistics/")
			},
			priority:    priority.Background,
			estimatedMs: 2000,
			reason:      "logs/statistics endpoint",
		},
		{
			match: func(uri string) bool {
				for _, ext := range staticExtensions {
					if strings.HasSuffix(uri, ext) {
						return true
					}
				}
				return false
			},
			priority:    priority.Normal,
			estimatedMs: 100,
			reason:      "static asset",
		},
	}
}

// Classify runs the default Classifier (custom registrations, then the
// §4.8 pattern table, then method fallback).
func Classify(method, uri string) Classification {
	return defaultClassifier.Classify(method, uri)
}

// Classify implements §4.8: registered custom rules first, then URI
// patterns, then method fallback.
func (c *Classifier) Classify(method, uri string) Classification {
	c.mu.Lock()
	custom := c.custom
	c.mu.Unlock()

	for _, cr := range custom {
		if cr.match(uri) {
			return cr.fn(method, uri)
		}
	}

	for _, rule := range rules() {
		if rule.match(uri) {
			return Classification{
				Priority:     rule.priority,
				EstimatedMs:  rule.estimatedMs,
				RequiresAuth: requiresAuth(rule.priority, uri),
				IsEmergency:  rule.priority == priority.Emergency,
				Reason:       rule.reason,
			}
		}
	}

	p, ms, reason := methodFallback(method)
	return Classification{
		Priority:     p,
		EstimatedMs:  ms,
		RequiresAuth: requiresAuth(p, uri),
		IsEmergency:  false,
		Reason:       reason,
	}
}

// methodFallback implements §4.8's "Method fallback (when no URI rule
// matches)" table.
func methodFallback(method string) (priority.Priority, int, string) {
	switch method {
	case "POST":
		return priority.UiCritical, 800, "method fallback: POST"
	case "PUT":
		return priority.UiCritical, 600, "method fallback: PUT"
	case "DELETE":
		return priority.Normal, 400, "method fallback: DELETE"
	case "GET":
		return priority.Normal, 300, "method fallback: GET"
	default:
		return priority.Normal, 1000, "method fallback: other"
	}
}

// requiresAuth reflects §6.1's role column: every route except the
// unauthenticated auth endpoints (login, status, validate) and static
// assets needs a session.
func requiresAuth(p priority.Priority, uri string) bool {
	if strings.Contains(uri, "/api/auth/login") {
		return false
	}
	if strings.Contains(uri, "/api/auth/status") || strings.Contains(uri, "/api/auth/validate") {
		return false
	}
	for _, ext := range staticExtensions {
		if strings.HasSuffix(uri, ext) {
			return false
		}
	}
	return true
}

// The §4.8 mode-based degrade/reject behavior described for LoadShedding
// and Emergency is the same table spec.md §4.11 gives the priority
// manager; Classify stays pure and callers apply priority.Manager.Admit
// to the classified priority before enqueue.
