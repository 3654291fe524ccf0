//go:build linux

package strata

import (
	"path/filepath"
	"strings"
)

// Restrict rewrites env in place so the executed command cannot reach
// cross-stratum shims: every colon-delimited entry of the search path
// variables that starts with the cross-stratum prefix is removed
// (relative order and delimiters of the rest preserved), SHELL is
// forced to the minimal known-good shell, and the restriction marker
// variable is set so re-entrant invocations know hooks are disabled.
//
// Restrict is idempotent; applying it twice yields the same
// environment as once.
func Restrict(env map[string]string, layout Layout) {
	for _, key := range searchPathVars {
		value, ok := env[key]
		if !ok {
			continue
		}

		env[key] = stripCrossEntries(value, layout.CrossPrefix)
	}

	env["SHELL"] = layout.FallbackShell
	env[RestrictMarkerVar] = "1"
}

// stripCrossEntries removes the entries of a colon-delimited list that
// start with prefix. The output has no leading, trailing, or doubled
// colons beyond those already present between kept entries.
func stripCrossEntries(value, prefix string) string {
	if value == "" {
		return ""
	}

	entries := strings.Split(value, ":")
	kept := entries[:0]

	for _, entry := range entries {
		if strings.HasPrefix(entry, prefix) {
			continue
		}

		kept = append(kept, entry)
	}

	return strings.Join(kept, ":")
}

// CommandIsRestricted reports whether the marker for the command
// basename exists in the restricted-commands directory. A secure
// marker means restricted, a missing one means not; any other trust
// state is an error because the decision cannot be made either way
// from a tampered marker.
func CommandIsRestricted(layout Layout, command string) (bool, error) {
	base := filepath.Base(command)
	if base == "." || base == "/" {
		return false, nil
	}

	marker := filepath.Join(layout.RestrictedCmdsDir, base)

	switch state := Check(marker); state {
	case TrustSecure:
		return true, nil
	case TrustMissing:
		return false, nil
	default:
		return false, &TrustError{Path: marker, State: state}
	}
}
