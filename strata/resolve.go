//go:build linux

package strata

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Symlink-resolution and xattr hooks, overridable in tests.
var (
	evalSymlinks = filepath.EvalSymlinks
	getxattr     = unix.Getxattr
)

// Resolver turns user-supplied names into canonical stratum
// identifiers against a fixed layout.
type Resolver struct {
	layout Layout
}

// NewResolver returns a resolver bound to layout.
func NewResolver(layout Layout) *Resolver {
	return &Resolver{layout: layout}
}

// Resolve maps name to the stratum it identifies.
//
// The reserved LocalAlias short-circuits before any filesystem access
// and is returned verbatim; callers treat it as "no change". Any other
// name is resolved as a path under the strata root through full
// symlink resolution, then accepted only if the result is a direct
// child of the strata root: strict prefix, no further path separator,
// and a name within MaxStratumName. Anything else is a
// ResolutionError.
func (r *Resolver) Resolve(name string) (string, error) {
	if name == LocalAlias {
		return LocalAlias, nil
	}

	if name == "" || strings.ContainsRune(name, '/') {
		return "", &ResolutionError{Name: name}
	}

	resolved, err := evalSymlinks(filepath.Join(r.layout.StrataRoot, name))
	if err != nil {
		return "", &ResolutionError{Name: name}
	}

	prefix := r.layout.StrataRoot + "/"
	if !strings.HasPrefix(resolved, prefix) {
		// Alias escaped the strata namespace.
		return "", &ResolutionError{Name: name}
	}

	stratum := resolved[len(prefix):]
	if stratum == "" || strings.ContainsRune(stratum, '/') {
		// Aliasing is shallow: exactly one direct child, never a
		// nested path.
		return "", &ResolutionError{Name: name}
	}

	if len(stratum) > MaxStratumName {
		return "", &ResolutionError{Name: name}
	}

	return stratum, nil
}

// Current reads the self-tag attribute off the current root directory.
// Failure is a hard error: without knowing the origin stratum no
// switch decision can be made.
func (r *Resolver) Current() (string, error) {
	return readStratumTag("/")
}

// StratumTag reads the self-tag attribute off a candidate stratum
// directory, used to disambiguate targets.
func (r *Resolver) StratumTag(dir string) (string, error) {
	return readStratumTag(dir)
}

func readStratumTag(dir string) (string, error) {
	buf := make([]byte, MaxStratumName+1)

	n, err := getxattr(dir, StratumXattr, buf)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s from %s: %w", ErrCurrentStratumUnknown, StratumXattr, dir, err)
	}

	tag := strings.TrimRight(string(buf[:n]), "\x00\n")
	if tag == "" {
		return "", fmt.Errorf("%w: empty %s on %s", ErrCurrentStratumUnknown, StratumXattr, dir)
	}

	return tag, nil
}
