//go:build linux

package strata

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sys/unix"
)

// execve hook, overridable in tests. unix.Exec replaces the process
// image and never returns on success.
var execve = unix.Exec

// defaultSearchPath is consulted when PATH is unset, matching execvp.
const defaultSearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Dispatch locates file and replaces the process image with it.
//
// A file containing a path separator is executed directly and the
// search path is never consulted. Otherwise PATH is split on colons
// and walked in order, skipping every entry that starts with
// skipPrefix (cross-stratum shims must not satisfy a search inside the
// new context); the first successful exec ends the search by replacing
// the process.
//
// Dispatch only returns on failure. If any candidate failed with a
// permission error the DispatchError carries EACCES, otherwise
// "not found", mirroring execvp.
func Dispatch(file string, argv []string, env Environment, skipPrefix string) error {
	if file == "" {
		return &DispatchError{File: file, Err: ErrDispatchNotFound}
	}

	envv := env.envSlice()

	if strings.ContainsRune(file, '/') {
		err := execve(file, argv, envv)

		return &DispatchError{File: file, Err: err}
	}

	searchPath, ok := env.Env["PATH"]
	if !ok {
		searchPath = defaultSearchPath
	}

	sawPermission := false

	for _, dir := range strings.Split(searchPath, ":") {
		if dir == "" {
			// Empty entry means the current directory, per execvp.
			dir = "."
		}

		if skipPrefix != "" && strings.HasPrefix(dir, skipPrefix) {
			continue
		}

		err := execve(filepath.Join(dir, file), argv, envv)
		// Reaching here means the exec failed; on success the process
		// image was replaced.
		if errors.Is(err, unix.EACCES) {
			sawPermission = true
		}
	}

	if sawPermission {
		return &DispatchError{File: file, Err: unix.EACCES}
	}

	return &DispatchError{File: file, Err: ErrDispatchNotFound}
}

// DispatchWithFallback runs the top-level fallback chain: the explicit
// command if one was given, otherwise the basename of $SHELL, and as a
// last resort the layout's fallback shell.
//
// Only the basename of $SHELL is used, never its full path: a shell
// like zsh must be resolved fresh inside the new context instead of
// reusing a cross-stratum absolute path from the old one.
//
// A non-empty arg0 replaces the zeroth argument handed to the executed
// image; the search target itself is unaffected.
func DispatchWithFallback(command []string, arg0 string, env Environment, layout Layout) error {
	withArg0 := func(argv []string) []string {
		if arg0 == "" {
			return argv
		}

		argv = slices.Clone(argv)
		argv[0] = arg0

		return argv
	}

	if len(command) > 0 {
		return Dispatch(command[0], withArg0(command), env, layout.CrossPrefix)
	}

	if shell := env.Env["SHELL"]; shell != "" {
		base := filepath.Base(shell)

		// Dispatch only returns on failure; fall through to the
		// hardcoded shell.
		_ = Dispatch(base, withArg0([]string{base}), env, layout.CrossPrefix)
	}

	fallback := layout.FallbackShell

	return Dispatch(fallback, withArg0([]string{filepath.Base(fallback)}), env, layout.CrossPrefix)
}
