package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ExtensionEntryPoint is the init symbol exported by the sqlite-vec library.
const ExtensionEntryPoint = "sqlite3_vec_init"

// ExtensionPathEnv overrides the extension location when set.
const ExtensionPathEnv = "KIOKU_SQLITE_VEC_PATH"

// ExtensionResolver locates the sqlite-vec shared library.
type ExtensionResolver interface {
	Resolve() (string, error)
}

// ExtensionError is returned when no candidate path yields a loadable library.
type ExtensionError struct {
	Platform string
	Tried    []string
	Cause    error
}

func (e *ExtensionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sqlite-vec extension not found for %s", e.Platform)
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " (tried: %s)", strings.Join(e.Tried, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ExtensionError) Unwrap() error { return e.Cause }

// PathResolver probes an ordered list of filesystem locations.
type PathResolver struct {
	// Explicit is a configured path; when set it is tried first.
	Explicit   string
	SearchDirs []string
	GOOS       string
	GOARCH     string
	Getenv     func(string) string
	Stat       func(string) (os.FileInfo, error)
	// PlatformDirs lists the platform directories probed after SearchDirs.
	PlatformDirs func(goos string) []string
}

// NewPathResolver returns a resolver for the running platform.
func NewPathResolver(explicit string, searchDirs []string) *PathResolver {
	return &PathResolver{
		Explicit:     explicit,
		SearchDirs:   searchDirs,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		Getenv:       os.Getenv,
		Stat:         os.Stat,
		PlatformDirs: DefaultSearchDirs,
	}
}

// LibraryFileName returns the platform file name of the extension.
func LibraryFileName(goos string) string {
	switch goos {
	case "darwin":
		return "vec0.dylib"
	case "windows":
		return "vec0.dll"
	default:
		return "vec0.so"
	}
}

// DefaultSearchDirs are the executable and working directories followed by
// the platform library directories.
func DefaultSearchDirs(goos string) []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	switch goos {
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/lib", "/usr/local/lib")
	case "windows":
		// executable and working directories only
	default:
		dirs = append(dirs, "/usr/local/lib", "/usr/lib")
	}
	return dirs
}

// Candidates returns every path the resolver would try, in order, without duplicates.
func (r *PathResolver) Candidates() []string {
	name := LibraryFileName(r.GOOS)
	platform := r.GOOS + "-" + r.GOARCH
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" {
			return
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(r.Explicit)
	if r.Getenv != nil {
		add(r.Getenv(ExtensionPathEnv))
	}
	dirs := r.SearchDirs
	if r.PlatformDirs != nil {
		dirs = append(append([]string(nil), dirs...), r.PlatformDirs(r.GOOS)...)
	}
	for _, dir := range dirs {
		add(filepath.Join(dir, name))
		add(filepath.Join(dir, "sqlite-vec", platform, name))
	}
	return out
}

// Resolve returns the first candidate that exists as a regular file.
func (r *PathResolver) Resolve() (string, error) {
	stat := r.Stat
	if stat == nil {
		stat = os.Stat
	}
	candidates := r.Candidates()
	var errs []error
	for _, p := range candidates {
		info, err := stat(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		return p, nil
	}
	return "", &ExtensionError{
		Platform: r.GOOS + "/" + r.GOARCH,
		Tried:    candidates,
		Cause:    errors.Join(errs...),
	}
}
