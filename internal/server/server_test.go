package server

import (
	"testing"

	"github.com/jihwankim/irrig-core/internal/auth"
	"github.com/jihwankim/irrig-core/internal/config"
	"github.com/jihwankim/irrig-core/internal/priority"
)

func TestRoleFromNameMapsKnownRoles(t *testing.T) {
	cases := map[string]auth.Role{
		"viewer":  auth.RoleViewer,
		"manager": auth.RoleManager,
		"owner":   auth.RoleOwner,
		"bogus":   auth.RoleNone,
		"":        auth.RoleNone,
	}
	for name, want := range cases {
		if got := roleFromName(name); got != want {
			t.Errorf("roleFromName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestUsersFromConfigConvertsEntries(t *testing.T) {
	entries := []config.UserConfig{
		{Username: "admin", Password: "pw", Role: "owner"},
		{Username: "bob", Password: "pw2", Role: "viewer"},
	}
	users := usersFromConfig(entries)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].Username != "admin" || users[0].Role != auth.RoleOwner {
		t.Errorf("unexpected first user: %+v", users[0])
	}
	if users[1].Username != "bob" || users[1].Role != auth.RoleViewer {
		t.Errorf("unexpected second user: %+v", users[1])
	}
}

func TestPriorityByNameMapsAllSixBands(t *testing.T) {
	cases := map[string]priority.Priority{
		"emergency":      priority.Emergency,
		"io_critical":    priority.IoCritical,
		"authentication": priority.Authentication,
		"ui_critical":    priority.UiCritical,
		"normal":         priority.Normal,
		"background":     priority.Background,
	}
	for name, want := range cases {
		got, ok := priorityByName(name)
		if !ok {
			t.Errorf("priorityByName(%q) reported not found", name)
			continue
		}
		if got != want {
			t.Errorf("priorityByName(%q) = %v, want %v", name, got, want)
		}
	}
	if _, ok := priorityByName("unknown"); ok {
		t.Error("priorityByName(\"unknown\") should report not found")
	}
}

func TestDefaultADCPinsCoversFirstEightPins(t *testing.T) {
	pins := defaultADCPins()
	for p := 0; p < 8; p++ {
		if !pins[p] {
			t.Errorf("expected pin %d to be ADC-capable", p)
		}
	}
	if pins[8] {
		t.Error("pin 8 should not be marked ADC-capable")
	}
}
