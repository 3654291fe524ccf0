//go:build linux

package strata

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Target identifies the stratum a transition enters. Path is the
// stratum directory as seen from the real filesystem root; OldName is
// the stratum the process is leaving, needed by the pivot strategy to
// relocate the previous root.
type Target struct {
	Name    string
	OldName string
	Path    string
}

// Transition is one of exactly two root-switch strategies. The
// strategy is selected once at invocation time and never branched on
// again.
type Transition interface {
	// Enter switches the process root context to the target stratum.
	// It does not return on partial namespace-pivot failure with a
	// usable mount table; such failures are terminal for the
	// invocation.
	Enter(target Target) error
}

// NewTransition selects the strategy for this invocation: the
// namespace-wide pivot when pivot is true, the process-local chroot
// otherwise.
func NewTransition(pivot bool, layout Layout) Transition {
	if pivot {
		return &PivotTransition{layout: layout}
	}

	return &ChrootTransition{layout: layout}
}

// sysOps is the syscall surface of the transition strategies, held as
// function values so tests can record and fake the sequence.
type sysOps struct {
	chdir     func(path string) error
	chroot    func(path string) error
	stat      func(path string, st *unix.Stat_t) error
	mount     func(source, target, fstype string, flags uintptr, data string) error
	unshare   func(flags int) error
	pivotRoot func(newroot, putold string) error
}

var sys = sysOps{
	chdir:     unix.Chdir,
	chroot:    unix.Chroot,
	stat:      unix.Stat,
	mount:     unix.Mount,
	unshare:   unix.Unshare,
	pivotRoot: unix.PivotRoot,
}

// maxEscapeDepth bounds the upward walk of the chroot escape. The
// directory tree has bounded depth, so hitting this is a corrupt
// filesystem, not a deep one.
const maxEscapeDepth = 1024

// escapeToRealRoot moves the process root from an arbitrary chroot
// depth to the true filesystem root. It chroots into a directory known
// not to contain the working directory (the shared infrastructure
// tree, present in every stratum), which leaves the working directory
// outside the new root, then walks ".." comparing the device and inode
// of "." and ".." after each step. They are equal only at the true
// root; re-chrooting to "." there pins it.
//
// Both strategies need this first, because the caller may already be
// nested inside a stratum.
func escapeToRealRoot(layout Layout, strategy string) error {
	fail := func(step string, err error) error {
		return &TransitionError{Strategy: strategy, Step: step, Err: err}
	}

	err := sys.chdir("/")
	if err != nil {
		return fail("chdir /", err)
	}

	scratch := strings.TrimPrefix(layout.SharedDir, "/")

	err = sys.chroot(scratch)
	if err != nil {
		return fail("chroot "+scratch, err)
	}

	for i := 0; ; i++ {
		var dot, dotdot unix.Stat_t

		err = sys.stat(".", &dot)
		if err != nil {
			return fail("stat .", err)
		}

		err = sys.stat("..", &dotdot)
		if err != nil {
			return fail("stat ..", err)
		}

		if dot.Dev == dotdot.Dev && dot.Ino == dotdot.Ino {
			break
		}

		if i >= maxEscapeDepth {
			return fail("walk ..", errors.New("no filesystem root found"))
		}

		err = sys.chdir("..")
		if err != nil {
			return fail("chdir ..", err)
		}
	}

	err = sys.chroot(".")
	if err != nil {
		return fail("chroot .", err)
	}

	return nil
}

// atTarget reports whether the real root already is the target
// directory, by device and inode.
func atTarget(target Target, strategy string) (bool, error) {
	var rootSt, targetSt unix.Stat_t

	err := sys.stat("/", &rootSt)
	if err != nil {
		return false, &TransitionError{Strategy: strategy, Step: "stat /", Err: err}
	}

	err = sys.stat(target.Path, &targetSt)
	if err != nil {
		return false, &TransitionError{Strategy: strategy, Step: "stat " + target.Path, Err: err}
	}

	return rootSt.Dev == targetSt.Dev && rootSt.Ino == targetSt.Ino, nil
}

// ChrootTransition switches the root of the calling process and its
// descendants only. No other process is affected and the mount table
// is untouched.
type ChrootTransition struct {
	layout Layout
}

// Enter escapes any existing chroot, then chroots into the target
// stratum directory. Already being there is a no-op.
func (t *ChrootTransition) Enter(target Target) error {
	err := escapeToRealRoot(t.layout, "chroot")
	if err != nil {
		return err
	}

	same, err := atTarget(target, "chroot")
	if err != nil || same {
		return err
	}

	err = sys.chdir(target.Path)
	if err != nil {
		return &TransitionError{Strategy: "chroot", Step: "chdir " + target.Path, Err: err}
	}

	err = sys.chroot(".")
	if err != nil {
		return &TransitionError{Strategy: "chroot", Step: "chroot .", Err: err}
	}

	return nil
}

// PivotTransition re-roots the entire mount namespace of the calling
// process onto the target stratum. The namespace is unshared first, so
// nothing outside the process tree observes the change.
//
// The resulting topology makes the new stratum indistinguishable from
// having been the original root while the previous stratum stays
// reachable under the strata root, so later switches back remain
// possible without restarting the process tree.
type PivotTransition struct {
	layout Layout
}

// Enter performs the pivot. Failure at any mount-table step is
// terminal: the table may be mid-surgery and a partial rollback (or a
// chroot fallback) could expose a half-built root.
func (t *PivotTransition) Enter(target Target) error {
	fail := func(step string, err error) error {
		return &TransitionError{Strategy: "pivot", Step: step, Err: err}
	}

	err := escapeToRealRoot(t.layout, "pivot")
	if err != nil {
		return err
	}

	same, err := atTarget(target, "pivot")
	if err != nil || same {
		return err
	}

	err = sys.unshare(unix.CLONE_NEWNS)
	if err != nil {
		return fail("unshare mount namespace", err)
	}

	// Keep mount events from propagating back to the parent namespace.
	err = sys.mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, "")
	if err != nil {
		return fail("make / private", err)
	}

	// pivot_root needs the new root to be a mount point. The recursive
	// bind also carries the stratum's pre-mounted global directories
	// along.
	err = sys.mount(target.Path, target.Path, "", unix.MS_BIND|unix.MS_REC, "")
	if err != nil {
		return fail("bind "+target.Path, err)
	}

	err = sys.chdir(target.Path)
	if err != nil {
		return fail("chdir "+target.Path, err)
	}

	// The previous root lands inside the new stratum's tree at the
	// spot the strata root reserves for it.
	putOld := strings.TrimPrefix(filepath.Join(t.layout.StrataRoot, target.OldName), "/")

	err = sys.pivotRoot(".", putOld)
	if err != nil {
		return fail(fmt.Sprintf("pivot_root . %s", putOld), err)
	}

	err = sys.chdir("/")
	if err != nil {
		return fail("chdir /", err)
	}

	// Relocate the shared infrastructure tree from inside the previous
	// root to the new root, where both strata can reach it. After the
	// move the previous stratum's userland stays visible through the
	// shared tree's own strata directory.
	sharedInOld := filepath.Join(t.layout.StrataRoot, target.OldName, t.layout.SharedDir)

	err = sys.mount(sharedInOld, t.layout.SharedDir, "", unix.MS_MOVE, "")
	if err != nil {
		return fail(fmt.Sprintf("move %s to %s", sharedInOld, t.layout.SharedDir), err)
	}

	return nil
}

// RestoreWorkDir tries to return to the working directory captured
// before the transition, inside the new context. On failure it falls
// back to the new root and returns a warning distinguishing permission
// problems from a directory that does not exist in the target stratum.
// An empty return means the directory was restored.
func RestoreWorkDir(dir string) string {
	if dir == "" {
		dir = "/"
	}

	err := sys.chdir(dir)
	if err == nil {
		return ""
	}

	_ = sys.chdir("/")

	switch {
	case errors.Is(err, unix.EACCES):
		return fmt.Sprintf("cannot return to %s: permission denied in target stratum, starting at /", dir)
	case errors.Is(err, unix.ENOENT):
		return fmt.Sprintf("cannot return to %s: no such directory in target stratum, starting at /", dir)
	default:
		return fmt.Sprintf("cannot return to %s: %v, starting at /", dir, err)
	}
}
