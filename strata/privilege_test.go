//go:build linux

package strata

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// installCapget fakes the capability sets returned for the calling
// process. Tests using this must not run in parallel.
func installCapget(t *testing.T, permitted, effective, inheritable bool) {
	t.Helper()

	saved := capget

	capget = func(hdr *unix.CapUserHeader, data *unix.CapUserData) error {
		if hdr.Version != unix.LINUX_CAPABILITY_VERSION_3 {
			t.Errorf("capget version = %#x, want %#x", hdr.Version, unix.LINUX_CAPABILITY_VERSION_3)
		}

		bit := uint32(1) << uint(crossRootCap)

		data.Permitted = 0
		data.Effective = 0
		data.Inheritable = 0

		if permitted {
			data.Permitted = bit
		}

		if effective {
			data.Effective = bit
		}

		if inheritable {
			data.Inheritable = bit
		}

		return nil
	}

	t.Cleanup(func() { capget = saved })
}

func Test_Attestation_Passes_For_Permitted_Effective_Inheritable_Clear(t *testing.T) {
	installCapget(t, true, true, false)

	err := AssertCrossRootPrivilege()
	if err != nil {
		t.Fatalf("AssertCrossRootPrivilege: %v", err)
	}
}

func Test_Attestation_Fails_When_Capability_Is_Inheritable(t *testing.T) {
	// Inheritable CAP_SYS_CHROOT is the traced-process signature.
	installCapget(t, true, true, true)

	err := AssertCrossRootPrivilege()
	if !errors.Is(err, ErrNotAttested) {
		t.Fatalf("error = %v, want ErrNotAttested", err)
	}
}

func Test_Attestation_Fails_Without_Effective_Capability(t *testing.T) {
	installCapget(t, true, false, false)

	err := AssertCrossRootPrivilege()
	if !errors.Is(err, ErrNotAttested) {
		t.Fatalf("error = %v, want ErrNotAttested", err)
	}
}

func Test_Attestation_Fails_Without_Permitted_Capability(t *testing.T) {
	installCapget(t, false, true, false)

	err := AssertCrossRootPrivilege()
	if !errors.Is(err, ErrNotAttested) {
		t.Fatalf("error = %v, want ErrNotAttested", err)
	}
}

func Test_Attestation_Wraps_Capget_Failure(t *testing.T) {
	saved := capget

	capget = func(hdr *unix.CapUserHeader, data *unix.CapUserData) error {
		return unix.EINVAL
	}

	t.Cleanup(func() { capget = saved })

	err := AssertCrossRootPrivilege()

	var privErr *PrivilegeError
	if !errors.As(err, &privErr) {
		t.Fatalf("error = %v, want *PrivilegeError", err)
	}

	if !errors.Is(err, unix.EINVAL) {
		t.Errorf("error = %v, want wrapped EINVAL", err)
	}
}
