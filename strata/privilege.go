//go:build linux

package strata

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// capget hook, overridable in tests.
var capget = unix.Capget

// crossRootCap is the capability that permits changing the process
// root. CAP_SYS_CHROOT is bit 18 and therefore lives in the first
// 32-bit capability word.
const crossRootCap = unix.CAP_SYS_CHROOT

// AssertCrossRootPrivilege checks that the calling process holds the
// exact capability pattern required to cross strata: CAP_SYS_CHROOT
// present in both the permitted and effective sets with the inheritable
// set clear.
//
// An inheritable CAP_SYS_CHROOT is the signature of a traced or
// debugger-attached child that received the privilege from its parent;
// such a process is treated as not attested because the privilege
// boundary between strata could be subverted through it.
//
// Call this only after the cheap short-circuits (already at target,
// reserved local alias) so the common no-switch path issues no
// syscalls.
func AssertCrossRootPrivilege() error {
	hdr := unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     0, // self
	}

	// Version 3 reads two data words; Capget takes a pointer to the
	// first.
	var data [2]unix.CapUserData

	err := capget(&hdr, &data[0])
	if err != nil {
		return &PrivilegeError{Err: fmt.Errorf("capget: %w", err)}
	}

	bit := uint32(1) << uint(crossRootCap)

	permitted := data[0].Permitted&bit != 0
	effective := data[0].Effective&bit != 0
	inheritable := data[0].Inheritable&bit != 0

	if !permitted || !effective || inheritable {
		return &PrivilegeError{}
	}

	return nil
}
