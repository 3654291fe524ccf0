//go:build linux

package strata

import (
	"testing"

	"golang.org/x/sys/unix"
)

// fakeEntry is a synthetic lstat/stat result for one path level.
type fakeEntry struct {
	uid  uint32
	mode uint32
	err  error
}

// installTrustHooks replaces the stat hooks with lookups into entries.
// Paths not present default to a root-owned 0755 directory, so tests
// only describe the interesting level. Tests using this must not run
// in parallel.
func installTrustHooks(t *testing.T, lstatEntries, statEntries map[string]fakeEntry) {
	t.Helper()

	savedLstat := trustLstat
	savedStat := trustStat

	lookup := func(entries map[string]fakeEntry) func(string, *unix.Stat_t) error {
		return func(path string, st *unix.Stat_t) error {
			entry, ok := entries[path]
			if !ok {
				entry = fakeEntry{uid: 0, mode: unix.S_IFDIR | 0o755}
			}

			if entry.err != nil {
				return entry.err
			}

			st.Uid = entry.uid
			st.Mode = entry.mode

			return nil
		}
	}

	trustLstat = lookup(lstatEntries)
	trustStat = lookup(statEntries)

	t.Cleanup(func() {
		trustLstat = savedLstat
		trustStat = savedStat
	})
}

func Test_Check_Returns_Missing_For_Nonexistent_Path(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run/enabled_strata/alpine": {err: unix.ENOENT},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustMissing {
		t.Errorf("Check = %v, want %v", got, TrustMissing)
	}
}

func Test_Check_Returns_BadOwner_For_Non_Root_Owned_Path(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run/enabled_strata/alpine": {uid: 1000, mode: unix.S_IFREG | 0o644},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustBadOwner {
		t.Errorf("Check = %v, want %v", got, TrustBadOwner)
	}
}

func Test_Check_Returns_Writable_For_World_Writable_Path(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run/enabled_strata/alpine": {uid: 0, mode: unix.S_IFREG | 0o666},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustWritable {
		t.Errorf("Check = %v, want %v", got, TrustWritable)
	}
}

func Test_Check_Returns_Writable_For_Group_Writable_Ancestor(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run": {uid: 0, mode: unix.S_IFDIR | 0o775},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustWritable {
		t.Errorf("Check = %v, want %v", got, TrustWritable)
	}
}

func Test_Check_Rejects_Symlink_In_Ancestor(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run/enabled_strata": {uid: 0, mode: unix.S_IFLNK | 0o777},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustSymlinkAncestor {
		t.Errorf("Check = %v, want %v", got, TrustSymlinkAncestor)
	}
}

func Test_Check_Accepts_Secure_Path(t *testing.T) {
	installTrustHooks(t, map[string]fakeEntry{
		"/bedrock/run/enabled_strata/alpine": {uid: 0, mode: unix.S_IFREG | 0o644},
	}, nil)

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustSecure {
		t.Errorf("Check = %v, want %v", got, TrustSecure)
	}
}

func Test_Check_Follows_Trailing_Symlink_And_Checks_Destination(t *testing.T) {
	// The final target may be a symlink; its destination is held to the
	// same owner/mode rules.
	installTrustHooks(t,
		map[string]fakeEntry{
			"/bedrock/run/enabled_strata/alpine": {uid: 0, mode: unix.S_IFLNK | 0o777},
		},
		map[string]fakeEntry{
			"/bedrock/run/enabled_strata/alpine": {uid: 1000, mode: unix.S_IFREG | 0o644},
		})

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustBadOwner {
		t.Errorf("Check = %v, want %v", got, TrustBadOwner)
	}
}

func Test_Check_Accepts_Trailing_Symlink_With_Secure_Destination(t *testing.T) {
	installTrustHooks(t,
		map[string]fakeEntry{
			"/bedrock/run/enabled_strata/alpine": {uid: 0, mode: unix.S_IFLNK | 0o777},
		},
		map[string]fakeEntry{
			"/bedrock/run/enabled_strata/alpine": {uid: 0, mode: unix.S_IFREG | 0o600},
		})

	got := Check("/bedrock/run/enabled_strata/alpine")
	if got != TrustSecure {
		t.Errorf("Check = %v, want %v", got, TrustSecure)
	}
}

func Test_Check_Rejects_Relative_Path(t *testing.T) {
	t.Parallel()

	got := Check("enabled_strata/alpine")
	if got != TrustSymlinkAncestor {
		t.Errorf("Check = %v, want %v", got, TrustSymlinkAncestor)
	}
}
