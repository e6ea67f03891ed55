package classifier

import (
	"testing"

	"github.com/jihwankim/irrig-core/internal/priority"
)

func TestEmergencyPatternWins(t *testing.T) {
	c := Classify("POST", "/api/emergency-stop")
	if c.Priority != priority.Emergency || !c.IsEmergency {
		t.Fatalf("expected Emergency classification, got %+v", c)
	}
	if c.EstimatedMs != 50 {
		t.Fatalf("expected estimated_ms 50, got %d", c.EstimatedMs)
	}
}

func TestIoPointSetIsIoCritical(t *testing.T) {
	c := Classify("POST", "/api/io/points/R0/set")
	if c.Priority != priority.IoCritical {
		t.Fatalf("expected IoCritical, got %s", c.Priority)
	}
}

func TestIoPointListingWithoutSetIsUiCritical(t *testing.T) {
	c := Classify("GET", "/api/io/points")
	if c.Priority != priority.UiCritical {
		t.Fatalf("expected UiCritical, got %s", c.Priority)
	}
}

func TestAuthEndpointIsAuthenticationPriority(t *testing.T) {
	c := Classify("POST", "/api/auth/login")
	if c.Priority != priority.Authentication {
		t.Fatalf("expected Authentication, got %s", c.Priority)
	}
	if c.RequiresAuth {
		t.Fatal("login itself must not require an existing session")
	}
}

func TestStaticAssetIsNormal(t *testing.T) {
	c := Classify("GET", "/static/app.js")
	if c.Priority != priority.Normal || c.EstimatedMs != 100 {
		t.Fatalf("expected Normal/100ms for static asset, got %+v", c)
	}
	if c.RequiresAuth {
		t.Fatal("static assets must not require auth")
	}
}

func TestMethodFallbackWhenNoPatternMatches(t *testing.T) {
	cases := []struct {
		method string
		want   priority.Priority
		ms     int
	}{
		{"POST", priority.UiCritical, 800},
		{"PUT", priority.UiCritical, 600},
		{"DELETE", priority.Normal, 400},
		{"GET", priority.Normal, 300},
		{"PATCH", priority.Normal, 1000},
	}
	for _, tc := range cases {
		c := Classify(tc.method, "/unmatched/route")
		if c.Priority != tc.want || c.EstimatedMs != tc.ms {
			t.Fatalf("%s: expected %s/%dms, got %s/%dms", tc.method, tc.want, tc.ms, c.Priority, c.EstimatedMs)
		}
	}
}

func TestZoneActivationIsIoCritical(t *testing.T) {
	c := Classify("POST", "/api/irrigation/zones/2/activate")
	if c.Priority != priority.IoCritical {
		t.Fatalf("expected IoCritical, got %s", c.Priority)
	}
}

func TestLogsAndStatisticsAreBackground(t *testing.T) {
	c := Classify("GET", "/api/logs/recent")
	if c.Priority != priority.Background {
		t.Fatalf("expected Background, got %s", c.Priority)
	}
}

func TestRegisteredRuleWinsOverBuiltinTable(t *testing.T) {
	var cust Classifier
	cust.Register(
		func(uri string) bool { return uri == "/api/io/points/R0/set" },
		func(method, uri string) Classification {
			return Classification{Priority: priority.Background, EstimatedMs: 1, Reason: "custom override"}
		},
	)

	c := cust.Classify("POST", "/api/io/points/R0/set")
	if c.Priority != priority.Background || c.Reason != "custom override" {
		t.Fatalf("expected custom rule to win, got %+v", c)
	}

	// An unregistered URI on the same Classifier still falls through to
	// the built-in table.
	c2 := cust.Classify("POST", "/api/emergency-stop")
	if c2.Priority != priority.Emergency {
		t.Fatalf("expected built-in table to still apply, got %+v", c2)
	}
}

func TestRegisteredRulesTriedInOrderFirstMatchWins(t *testing.T) {
	var cust Classifier
	always := func(uri string) bool { return true }
	cust.Register(always, func(method, uri string) Classification {
		return Classification{Priority: priority.UiCritical, Reason: "first"}
	})
	cust.Register(always, func(method, uri string) Classification {
		return Classification{Priority: priority.Background, Reason: "second"}
	})

	c := cust.Classify("GET", "/anything")
	if c.Reason != "first" {
		t.Fatalf("expected first-registered rule to win, got %+v", c)
	}
}

func TestPackageRegisterAffectsDefaultClassify(t *testing.T) {
	marker := "/api/io/points/custom-marker-route"
	defer func() {
		defaultClassifier.mu.Lock()
		defaultClassifier.custom = nil
		defaultClassifier.mu.Unlock()
	}()

	Register(
		func(uri string) bool { return uri == marker },
		func(method, uri string) Classification {
			return Classification{Priority: priority.Emergency, Reason: "package-level custom"}
		},
	)

	c := Classify("GET", marker)
	if c.Reason != "package-level custom" {
		t.Fatalf("expected package-level Register to take effect, got %+v", c)
	}
}
