// Package server wires together C1-C12 into one explicitly-constructed
// context (no singletons), and sequences startup/shutdown per spec.md
// §4.7's safe-state ordering.
package server

import (
	"context"
	"time"

	"github.com/jihwankim/irrig-core/internal/auth"
	"github.com/jihwankim/irrig-core/internal/config"
	"github.com/jihwankim/irrig-core/internal/gpio"
	"github.com/jihwankim/irrig-core/internal/iomanager"
	"github.com/jihwankim/irrig-core/internal/iopoint"
	"github.com/jihwankim/irrig-core/internal/logging"
	"github.com/jihwankim/irrig-core/internal/memtier"
	"github.com/jihwankim/irrig-core/internal/metrics"
	"github.com/jihwankim/irrig-core/internal/priority"
	"github.com/jihwankim/irrig-core/internal/queue"
	"github.com/jihwankim/irrig-core/internal/shiftreg"
	"github.com/jihwankim/irrig-core/internal/workerpool"
)

// Context is the explicit collaborator graph, passed by pointer into the
// HTTP layer instead of being reached via package-level state.
type Context struct {
	Cfg *config.Config
	Log *logging.Logger

	IoConfig *config.IoConfigStore
	GPIO     *gpio.Controller
	ShiftReg *shiftreg.Driver
	IO       *iomanager.Manager

	Queues *queue.Set
	Pri    *priority.Manager
	Pool   *workerpool.Pool
	Auth   *auth.Core
	Alloc  *memtier.Allocator

	Metrics *metrics.Collector
}

// defaultADCPins returns the set of GPIO pins wired to an ADC on the reference
// hardware; used by the C1 validator to reject non-ADC-capable analog
// point configurations.
func defaultADCPins() map[int]bool {
	pins := make(map[int]bool, 8)
	for _, p := range []int{0, 1, 2, 3, 4, 5, 6, 7} {
		pins[p] = true
	}
	return pins
}

// New constructs the full collaborator graph from configuration but does
// not yet touch hardware or start any goroutines.
func New(cfg *config.Config, log *logging.Logger) (*Context, error) {
	if log == nil {
		log = logging.Nop()
	}

	ioStore := config.NewIoConfigStore(cfg.Server.IoConfigPath, defaultADCPins())
	if err := ioStore.Load(); err != nil {
		return nil, err
	}

	hw := gpio.NewSimHardware()
	gp := gpio.New(hw)
	ioCfg := ioStore.Get()
	configureGPIOMasks(gp, ioCfg)

	sr := shiftreg.New(ioCfg.Wiring, gp)

	alloc := memtier.New(cfg.Memory.FastTierBytes, cfg.Memory.LargeTierBytes, log)

	pri := priority.New(priority.Config{LoadSheddingThresholdPercent: 80}, log)

	capacities := queue.DefaultCapacities()
	for name, n := range cfg.Priority.QueueCapacities {
		if p, ok := priorityByName(name); ok {
			capacities[p] = n
		}
	}
	queues := queue.NewSet(capacities)

	authCore := auth.New(auth.Config{
		MaxConcurrentSessions: cfg.Auth.MaxConcurrentSessions,
		SessionTimeout:        time.Duration(cfg.Auth.SessionTimeoutMS) * time.Millisecond,
		MaxLoginAttempts:      cfg.Auth.MaxLoginAttempts,
		RateLimitWindow:       time.Duration(cfg.Auth.RateLimitWindowMS) * time.Millisecond,
	}, usersFromConfig(cfg.Users), log)

	pollInterval := time.Duration(cfg.Polling.IntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ioMgr := iomanager.New(ioCfg, gp, sr, pollInterval, log)

	pool := workerpool.New(workerpool.Config{
		HeavyOperationThresholdMs: cfg.Priority.HeavyOperationMS,
		WatchdogFeedIntervalMs:    cfg.Priority.WatchdogFeedIntervalMS,
	}, queues, pri, alloc, nil, log)

	coll := metrics.New(ioMgr, queues, pri, authCore, alloc)

	return &Context{
		Cfg: cfg, Log: log,
		IoConfig: ioStore, GPIO: gp, ShiftReg: sr, IO: ioMgr,
		Queues: queues, Pri: pri, Pool: pool, Auth: authCore, Alloc: alloc,
		Metrics: coll,
	}, nil
}

// Start implements §4.7's safe-state initialization sequence: (a) C3/C4
// safe-state, run here first since New does not touch hardware; (b) runtime digital
// flags start zeroed by construction; (c) start polling; (d) only then
// start accepting writes via the worker pool and HTTP layer.
func (c *Context) Start(ctx context.Context) {
	c.GPIO.SafeStateInit()
	c.ShiftReg.SafeStateInit()
	c.IO.StartPolling(ctx)
	c.Pool.Start()
}

// Stop shuts down the worker pool and polling task.
func (c *Context) Stop() {
	c.Pool.Stop()
	c.IO.StopPolling()
}

// ReloadConfig re-reads the I/O configuration document and, if it
// validates, pushes it into the I/O manager (§4.1/§4.7 reload_config).
// The old configuration remains in force on validation failure.
func (c *Context) ReloadConfig(ctx context.Context) error {
	if err := c.IoConfig.Reload(); err != nil {
		return err
	}
	c.IO.ReloadConfig(ctx, c.IoConfig.Get())
	return nil
}

// configureGPIOMasks registers each configured point's pin with the GPIO
// controller's input/output/analog masks before the first SafeStateInit,
// per §4.7's safe-state ordering.
func configureGPIOMasks(gp *gpio.Controller, cfg *iopoint.IoConfiguration) {
	for _, id := range cfg.SortedPointIds() {
		pc := cfg.Points[id]
		switch pc.Kind.Tag {
		case iopoint.KindGpioAnalogIn:
			gp.ConfigureAnalog(pc.Kind.Pin)
		case iopoint.KindGpioBinaryIn:
			gp.ConfigureInput(pc.Kind.Pin)
		case iopoint.KindGpioBinaryOut:
			gp.ConfigureOutput(pc.Kind.Pin)
		}
	}
}

// usersFromConfig converts the YAML user table into auth.User entries,
// parsing each role name against the §4.12 role ordering; an unknown
// role name is treated as RoleNone rather than rejected, so a typo
// degrades a user's privileges instead of failing startup.
func usersFromConfig(entries []config.UserConfig) []auth.User {
	users := make([]auth.User, 0, len(entries))
	for _, e := range entries {
		users = append(users, auth.User{
			Username: e.Username,
			Password: e.Password,
			Role:     roleFromName(e.Role),
		})
	}
	return users
}

func roleFromName(name string) auth.Role {
	switch name {
	case "viewer":
		return auth.RoleViewer
	case "manager":
		return auth.RoleManager
	case "owner":
		return auth.RoleOwner
	default:
		return auth.RoleNone
	}
}

func priorityByName(name string) (priority.Priority, bool) {
	switch name {
	case "emergency":
		return priority.Emergency, true
	case "io_critical":
		return priority.IoCritical, true
	case "authentication":
		return priority.Authentication, true
	case "ui_critical":
		return priority.UiCritical, true
	case "normal":
		return priority.Normal, true
	case "background":
		return priority.Background, true
	default:
		return 0, false
	}
}
