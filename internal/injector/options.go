package injector

import (
	"errors"
	"time"
)

// Default bounds. The entry wait covers slow loader start-up on cold disks;
// remote threads run the module's static initialisers and get more room.
const (
	DefaultPollInterval        = 10 * time.Millisecond
	DefaultWaitTimeout         = 10 * time.Second
	DefaultRemoteThreadTimeout = 30 * time.Second

	DefaultRuntimeModule = "thcrap.dll"
	DefaultSetupExport   = "thcrap_init"
)

// Options configures the engine.
type Options struct {
	// RuntimeModule is the path of the module loaded into targets.
	RuntimeModule string
	// SetupExport names the module's setup routine.
	SetupExport string
	// SetupArgument is passed to the setup routine of processes launched
	// through intercepted CreateProcess calls.
	SetupArgument string
	// EntryModule, when set, makes entry waits target the entry point of
	// this already-mapped module instead of the one found in the thread's
	// context.
	EntryModule string

	PollInterval        time.Duration
	WaitTimeout         time.Duration
	RemoteThreadTimeout time.Duration
}

// DefaultOptions returns options with conservative bounded waits.
func DefaultOptions() Options {
	return Options{
		RuntimeModule:       DefaultRuntimeModule,
		SetupExport:         DefaultSetupExport,
		PollInterval:        DefaultPollInterval,
		WaitTimeout:         DefaultWaitTimeout,
		RemoteThreadTimeout: DefaultRemoteThreadTimeout,
	}
}

// Validate checks that every bound is usable.
func (o Options) Validate() error {
	var errs []error
	if o.RuntimeModule == "" {
		errs = append(errs, errors.New("runtime module path is empty"))
	}
	if o.SetupExport == "" {
		errs = append(errs, errors.New("setup export name is empty"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if o.WaitTimeout < o.PollInterval {
		errs = append(errs, errors.New("wait timeout must be at least one poll interval"))
	}
	if o.RemoteThreadTimeout < o.PollInterval {
		errs = append(errs, errors.New("remote thread timeout must be at least one poll interval"))
	}
	return errors.Join(errs...)
}
