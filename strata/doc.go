// Package strata implements the stratum-switch and execution-dispatch
// engine: resolving a stratum name or alias to a filesystem root,
// attesting that the caller may cross roots, trust-checking the marker
// files that authorize the switch, transitioning the process root by
// chroot or mount-namespace pivot, and exec'ing the target command
// inside the new context.
//
// The package never persists state. Every invocation reads the host
// layout fresh, performs a single synchronous sequence of syscalls, and
// ends either in a successful exec (the process image is replaced) or a
// typed error for the caller to report.
package strata
