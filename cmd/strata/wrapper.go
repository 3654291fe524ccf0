// Bounce wrapper dispatch.
//
// When a cross-stratum shim for a command like "zsh" is created, the
// strata binary is linked over the shim path and tagged with two
// extended attributes: the stratum the command lives in and the path
// to execute there. When the shim is invoked, argv[0] is "zsh" but the
// actual binary is strata. main detects this (argv[0] basename !=
// "strata") and re-enters Run as
//
//	strata --arg0 <original argv[0]> <stratum> <local path> [args...]
//
// so the command runs inside its home stratum with the argv[0] the
// caller used.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/strataos/strata/strata"
)

// wrapperSelfPath is where the wrapper reads its own tags from. The
// xattrs live on the executable actually invoked, which the kernel
// exposes here regardless of argv.
const wrapperSelfPath = "/proc/self/exe"

// errNotWrapper is returned when the invoked binary carries no bounce
// tags.
var errNotWrapper = errors.New("not a strata bounce wrapper (missing stratum xattrs)")

// Xattr hook, overridable in tests.
var wrapperGetxattr = unix.Getxattr

// RunWrapper handles an invocation through a bounce wrapper. It reads
// the target stratum and local path off the invoked executable and
// re-enters Run with the original argv[0] preserved as an override.
func RunWrapper(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	stratum, err := readWrapperTag(strata.StratumXattr)
	if err != nil {
		fprintError(stderr, err)

		return exitRuntime
	}

	localPath, err := readWrapperTag(strata.LocalPathXattr)
	if err != nil {
		fprintError(stderr, err)

		return exitRuntime
	}

	rebuilt := make([]string, 0, len(args)+3)
	rebuilt = append(rebuilt, "strata", "--arg0="+args[0], stratum, localPath)
	rebuilt = append(rebuilt, args[1:]...)

	return Run(stdin, stdout, stderr, rebuilt, env)
}

func readWrapperTag(name string) (string, error) {
	buf := make([]byte, strata.MaxStratumName+1)

	n, err := wrapperGetxattr(wrapperSelfPath, name, buf)
	if err != nil {
		if errors.Is(err, unix.ENODATA) {
			return "", errNotWrapper
		}

		return "", fmt.Errorf("reading %s from %s: %w", name, wrapperSelfPath, err)
	}

	tag := strings.TrimRight(string(buf[:n]), "\x00\n")
	if tag == "" {
		return "", errNotWrapper
	}

	return tag, nil
}
