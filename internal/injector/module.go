package injector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Binject/debug/pe"
)

// RuntimeModule describes the module file that gets loaded into targets.
type RuntimeModule struct {
	Path     string
	Name     string
	Machine  uint16
	SetupRVA uint32
}

// Is64 reports whether the module is built for amd64.
func (m RuntimeModule) Is64() bool {
	return m.Machine == pe.IMAGE_FILE_MACHINE_AMD64
}

// OpenRuntimeModule reads the module file's headers and resolves the
// relative address of its setup export. Resolving it from the file means
// the injector never has to map the module into its own address space.
func OpenRuntimeModule(path, export string) (RuntimeModule, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return RuntimeModule{}, fmt.Errorf("resolve runtime module path: %w", err)
	}

	f, err := pe.Open(abs)
	if err != nil {
		return RuntimeModule{}, fmt.Errorf("%w: open %s: %w", ErrLoaderThreadFailed, abs, err)
	}
	defer f.Close()

	exports, err := f.Exports()
	if err != nil {
		return RuntimeModule{}, fmt.Errorf("%w: read exports of %s: %w", ErrSetupThreadFailed, abs, err)
	}

	module := RuntimeModule{
		Path:    abs,
		Name:    filepath.Base(abs),
		Machine: f.FileHeader.Machine,
	}
	for _, exp := range exports {
		if exp.Name == export {
			// A forwarder's address points at a string, not at code.
			if exp.Forward != "" {
				return RuntimeModule{}, fmt.Errorf("%w: %s forwards %q to %s", ErrSetupThreadFailed, module.Name, export, exp.Forward)
			}
			module.SetupRVA = exp.VirtualAddress
			return module, nil
		}
	}
	return RuntimeModule{}, fmt.Errorf("%w: %s does not export %q", ErrSetupThreadFailed, module.Name, export)
}

// sameModuleName compares module names the way the Windows loader does.
func sameModuleName(a, b string) bool {
	return strings.EqualFold(baseName(a), baseName(b))
}

// baseName strips a directory with either separator, since module paths
// come from the target and not from the local file system.
func baseName(path string) string {
	return path[strings.LastIndexAny(path, `\/`)+1:]
}
