//go:build linux

package strata

import (
	"errors"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// TrustState is the outcome of the security walk over a path and its
// ancestors.
type TrustState int

const (
	// TrustSecure means the path and every ancestor is root-owned, not
	// group- or world-writable, and symlink-free (except possibly the
	// final target itself, whose destination was then re-checked).
	TrustSecure TrustState = iota
	// TrustMissing means some level of the path does not exist.
	TrustMissing
	// TrustBadOwner means some level is not owned by root.
	TrustBadOwner
	// TrustWritable means some level is group- or world-writable.
	TrustWritable
	// TrustSymlinkAncestor means a symlink was found at a non-final
	// level. An intermediate symlink can be swapped between check and
	// use to redirect the walk, so it is rejected outright rather than
	// resolved.
	TrustSymlinkAncestor
)

func (s TrustState) String() string {
	switch s {
	case TrustSecure:
		return "secure"
	case TrustMissing:
		return "missing"
	case TrustBadOwner:
		return "not-root-owned"
	case TrustWritable:
		return "writable"
	case TrustSymlinkAncestor:
		return "symlink-in-ancestor"
	default:
		return "unknown"
	}
}

// groupOtherWrite covers the permission bits that let a non-owner
// modify the entry.
const groupOtherWrite = 0o022

// Stat hooks, overridable in tests to simulate foreign owners and
// permission bits without root-owned fixtures.
var (
	trustLstat = unix.Lstat
	trustStat  = unix.Stat
)

// Check walks path and every ancestor up to (but not including) the
// filesystem root and classifies the result. It gates the enabled and
// restricted-command markers and the layout config; any future
// trust-path file should go through it too.
//
// The final target may itself be a symlink; its resolved destination is
// then held to the same ownership and writability rules, but the
// destination's own ancestry is not re-walked.
func Check(path string) TrustState {
	path = filepath.Clean(path)
	if !filepath.IsAbs(path) {
		// Relative paths have attacker-influenced ancestry by
		// definition.
		return TrustSymlinkAncestor
	}

	final := true

	for level := path; level != "/"; level = filepath.Dir(level) {
		var st unix.Stat_t

		err := trustLstat(level, &st)
		if err != nil {
			if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) {
				return TrustMissing
			}
			// Unreadable ancestry cannot be vouched for.
			return TrustBadOwner
		}

		if st.Mode&unix.S_IFMT == unix.S_IFLNK {
			if !final {
				return TrustSymlinkAncestor
			}

			// Trailing symlink: judge the destination instead.
			state := checkResolved(level)
			if state != TrustSecure {
				return state
			}

			final = false

			continue
		}

		state := checkStat(&st)
		if state != TrustSecure {
			return state
		}

		final = false
	}

	return TrustSecure
}

// checkResolved stats the final target with symlinks followed and
// applies the ownership and writability rules to the destination.
func checkResolved(path string) TrustState {
	var st unix.Stat_t

	err := trustStat(path, &st)
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR) {
			return TrustMissing
		}

		return TrustBadOwner
	}

	return checkStat(&st)
}

func checkStat(st *unix.Stat_t) TrustState {
	if st.Uid != 0 {
		return TrustBadOwner
	}

	if st.Mode&groupOtherWrite != 0 {
		return TrustWritable
	}

	return TrustSecure
}
