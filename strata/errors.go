//go:build linux

package strata

import (
	"errors"
	"fmt"
)

// Static errors shared across components. More detailed failures carry
// a typed error below so the top-level boundary can render a
// cause-specific diagnostic.
var (
	// ErrStratumNotFound is returned when a name or alias does not
	// resolve to exactly one direct child of the strata root.
	ErrStratumNotFound = errors.New("no such stratum or alias")
	// ErrCurrentStratumUnknown is returned when the self-tag attribute
	// cannot be read off the current root. Without knowing the origin
	// stratum no switch decision can be made.
	ErrCurrentStratumUnknown = errors.New("cannot determine current stratum")
	// ErrNotAttested is returned when the caller lacks the exact
	// cross-root capability pattern.
	ErrNotAttested = errors.New("not permitted to cross strata (missing CAP_SYS_CHROOT in permitted+effective with inheritable clear; " +
		"a traced or debugged process loses this attestation)")
	// ErrDispatchNotFound is returned when every search path entry was
	// skipped or failed to execute the target.
	ErrDispatchNotFound = errors.New("command not found")
)

// ResolutionError reports a stratum name that failed to resolve.
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v: %q", ErrStratumNotFound, e.Name)
}

// Unwrap lets callers match with errors.Is(err, ErrStratumNotFound).
func (e *ResolutionError) Unwrap() error { return ErrStratumNotFound }

// TrustError reports a marker or config file that failed the security
// walk. State is never TrustSecure.
type TrustError struct {
	Path  string
	State TrustState
}

func (e *TrustError) Error() string {
	switch e.State {
	case TrustMissing:
		return fmt.Sprintf("%s: missing", e.Path)
	case TrustBadOwner:
		return fmt.Sprintf("%s: not owned by root, refusing to trust it", e.Path)
	case TrustWritable:
		return fmt.Sprintf("%s: group- or world-writable, refusing to trust it", e.Path)
	case TrustSymlinkAncestor:
		return fmt.Sprintf("%s: symlink in ancestry, refusing to trust it", e.Path)
	default:
		return fmt.Sprintf("%s: untrusted (%v)", e.Path, e.State)
	}
}

// PrivilegeError reports a failed cross-root attestation.
type PrivilegeError struct {
	Err error
}

func (e *PrivilegeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("privilege check failed: %v", e.Err)
	}

	return ErrNotAttested.Error()
}

func (e *PrivilegeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}

	return ErrNotAttested
}

// TransitionError reports a failed chroot or pivot step. Step names the
// syscall sequence position so a partial namespace pivot (which cannot
// be rolled back) is diagnosable.
type TransitionError struct {
	Strategy string // "chroot" or "pivot"
	Step     string
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition failed at %s: %v", e.Strategy, e.Step, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// DispatchError reports the final exec failure. It is the last error
// that can occur in an otherwise successful run.
type DispatchError struct {
	File string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("cannot execute %q: %v", e.File, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
