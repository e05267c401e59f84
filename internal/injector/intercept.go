package injector

// CallKind tags an intercepted call with the handler it is routed to.
type CallKind int

const (
	// PassThrough forwards the call with its original arguments.
	PassThrough CallKind = iota
	// LoaderRedirect replaces a library-load thread with the runtime's setup.
	LoaderRedirect
)

func (k CallKind) String() string {
	if k == LoaderRedirect {
		return "loader-redirect"
	}
	return "pass-through"
}

// RemoteThreadCall holds the arguments of one CreateRemoteThread call by
// value.
type RemoteThreadCall struct {
	Process          uintptr
	ThreadAttributes uintptr
	StackSize        uintptr
	StartAddress     uintptr
	Parameter        uintptr
	CreationFlags    uintptr
	ThreadID         uintptr
}

func (c RemoteThreadCall) args() []uintptr {
	return []uintptr{
		c.Process,
		c.ThreadAttributes,
		c.StackSize,
		c.StartAddress,
		c.Parameter,
		c.CreationFlags,
		c.ThreadID,
	}
}

// classifyRemoteThread recognises the classic DLL-injection pattern: a
// remote thread whose start routine is exactly the loader function.
func classifyRemoteThread(call RemoteThreadCall, loader uintptr) CallKind {
	if loader != 0 && call.StartAddress == loader {
		return LoaderRedirect
	}
	return PassThrough
}

// ProcessCreateCall holds the arguments of one CreateProcessA/W call by
// value. Wide tells which native entry point was called.
type ProcessCreateCall struct {
	Wide               bool
	ApplicationName    uintptr
	CommandLine        uintptr
	ProcessAttributes  uintptr
	ThreadAttributes   uintptr
	InheritHandles     uintptr
	CreationFlags      uint32
	Environment        uintptr
	CurrentDirectory   uintptr
	StartupInfo        uintptr
	ProcessInformation uintptr
}

// args returns the native argument list with the suspended flag forced.
func (c ProcessCreateCall) args() []uintptr {
	a := c.nativeArgs()
	a[5] = uintptr(forceSuspended(c.CreationFlags))
	return a
}

// nativeArgs returns the argument list exactly as the caller passed it.
func (c ProcessCreateCall) nativeArgs() []uintptr {
	return []uintptr{
		c.ApplicationName,
		c.CommandLine,
		c.ProcessAttributes,
		c.ThreadAttributes,
		c.InheritHandles,
		uintptr(c.CreationFlags),
		c.Environment,
		c.CurrentDirectory,
		c.StartupInfo,
		c.ProcessInformation,
	}
}

const createSuspended = 0x00000004

// forceSuspended adds the suspended-creation flag regardless of what was
// asked.
func forceSuspended(flags uint32) uint32 {
	return flags | createSuspended
}

// callerOwnsResume reports whether the caller asked for a suspended start.
// When it did, resuming is left to the caller so that chained injection
// layers never resume (or inject) twice.
func callerOwnsResume(flags uint32) bool {
	return flags&createSuspended != 0
}
