package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/strataos/strata/strata"
)

// Static usage errors.
var (
	// errMissingStratum is returned when no stratum argument is given.
	errMissingStratum = errors.New("missing stratum argument")
	// errRestrictConflict is returned when both restriction flags are set.
	errRestrictConflict = errors.New("--restrict and --unrestrict are mutually exclusive")
)

// Build metadata, set via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes. Success is only ever reached by the exec replacing the
// process image, so exitOK is returned solely for --help/--version.
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

// Seams between the command surface and the engine, overridable in
// tests so a full invocation can run without privileges or syscalls.
var (
	loadLayout          = strata.LoadLayout
	attestPrivilege     = strata.AssertCrossRootPrivilege
	checkTrust          = strata.Check
	commandIsRestricted = strata.CommandIsRestricted
	newTransition       = strata.NewTransition
	restoreWorkDir      = strata.RestoreWorkDir
	dispatch            = strata.DispatchWithFallback
	getwd               = os.Getwd

	newResolver = func(layout strata.Layout) stratumResolver {
		return strata.NewResolver(layout)
	}
)

// stratumResolver is the slice of *strata.Resolver the command surface
// uses.
type stratumResolver interface {
	Resolve(name string) (string, error)
	Current() (string, error)
}

// Run is the main entry point. Returns the process exit code; on a
// successful invocation it does not return at all because dispatch
// replaces the process image.
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	_ = stdin // stdin is inherited untouched by the executed command

	flags := flag.NewFlagSet("strata", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	flagHelp := flags.BoolP("help", "h", false, "Show help")
	flagVersion := flags.BoolP("version", "v", false, "Show version and exit")
	flagRestrict := flags.BoolP("restrict", "r", false, "Strip cross-stratum shims from the environment")
	flagUnrestrict := flags.BoolP("unrestrict", "u", false, "Skip restriction even for marked commands")
	flagPivot := flags.BoolP("pivot", "p", false, "Re-root the whole mount namespace instead of a local chroot")
	flagArg0 := flags.StringP("arg0", "0", "", "Override argv[0] of the executed command")
	flagConfig := flags.String("config", "", "Use specified layout config `file`")
	flagDebug := flags.Bool("debug", false, "Print switch decisions to stderr")

	err := flags.Parse(args[1:])
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		printUsage(stderr)

		return exitUsage
	}

	if *flagVersion {
		if commit == "none" && date == "unknown" {
			fprintf(stdout, "strata %s (built from source)\n", version)
		} else {
			fprintf(stdout, "strata %s (%s, %s)\n", version, commit, date)
		}

		return exitOK
	}

	if *flagHelp {
		printUsage(stdout)

		return exitOK
	}

	rest := flags.Args()
	if len(rest) == 0 {
		fprintError(stderr, errMissingStratum)
		fprintln(stderr)
		printUsage(stderr)

		return exitUsage
	}

	if *flagRestrict && *flagUnrestrict {
		fprintError(stderr, errRestrictConflict)

		return exitUsage
	}

	var debug *DebugLogger
	if *flagDebug {
		debug = NewDebugLogger(stderr)
	} else {
		debug = NewDebugLogger(nil)
	}

	targetName := rest[0]
	command := rest[1:]

	// Ambient state is captured once; everything below works on the
	// snapshot.
	workDir, err := getwd()
	if err != nil {
		workDir = "/"
	}

	environment := strata.Environment{Env: env, WorkDir: workDir}

	layout, err := loadLayout(*flagConfig)
	if err != nil {
		fprintError(stderr, err)

		return exitRuntime
	}

	debug.Logf("layout: strata root %s, cross prefix %s", layout.StrataRoot, layout.CrossPrefix)

	// Restriction policy: explicit flags win; otherwise the command
	// basename's restricted marker decides.
	restricted := *flagRestrict

	if !restricted && !*flagUnrestrict {
		probe := ""
		if len(command) > 0 {
			probe = command[0]
		} else if shell := env["SHELL"]; shell != "" {
			probe = shell
		}

		if probe != "" {
			restricted, err = commandIsRestricted(layout, probe)
			if err != nil {
				fprintError(stderr, err)

				return exitRuntime
			}
		}
	}

	if restricted {
		debug.Logf("restricting environment")
		strata.Restrict(env, layout)
	}

	resolver := newResolver(layout)

	transition := false

	var target strata.Target

	if targetName == strata.LocalAlias {
		debug.Logf("target is %q, no switch", strata.LocalAlias)
	} else {
		name, err := resolver.Resolve(targetName)
		if err != nil {
			fprintError(stderr, err)

			return exitRuntime
		}

		current, err := resolver.Current()
		if err != nil {
			fprintError(stderr, err)

			return exitRuntime
		}

		debug.Logf("resolved %q to stratum %q (current %q)", targetName, name, current)

		if name == current {
			debug.Logf("already in %q, no switch", name)
		} else {
			// Privilege and trust gates run only when an actual switch
			// is needed.
			err = attestPrivilege()
			if err != nil {
				fprintError(stderr, err)

				return exitRuntime
			}

			marker := filepath.Join(layout.EnabledDir, name)

			state := checkTrust(marker)
			if state != strata.TrustSecure {
				fprintError(stderr, &strata.TrustError{Path: marker, State: state})

				return exitRuntime
			}

			transition = true
			target = strata.Target{
				Name:    name,
				OldName: current,
				Path:    filepath.Join(layout.StrataRoot, name),
			}
		}
	}

	if transition {
		mode := "chroot"
		if *flagPivot {
			mode = "pivot"
		}

		debug.Logf("entering %q via %s", target.Name, mode)

		err = newTransition(*flagPivot, layout).Enter(target)
		if err != nil {
			fprintError(stderr, err)

			return exitRuntime
		}

		warning := restoreWorkDir(environment.WorkDir)
		if warning != "" {
			fprintf(stderr, "warning: %s\n", warning)
		}
	}

	// Only reached on failure; success replaces the process image.
	err = dispatch(command, *flagArg0, environment, layout)
	fprintError(stderr, err)

	return exitRuntime
}

func fprintln(output io.Writer, a ...any) {
	_, _ = fmt.Fprintln(output, a...)
}

func fprintf(output io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(output, format, a...)
}

// ANSI color codes for terminal output.
const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// fprintError prints an error message with optional red coloring for TTY.
func fprintError(output io.Writer, err error) {
	if IsTerminal() {
		fprintln(output, colorRed+"error:"+colorReset, err)
	} else {
		fprintln(output, "error:", err)
	}
}

const usageText = `strata - run a command inside another stratum

Usage: strata [flags] <stratum> [command [args...]]

The stratum may be a directory name under the strata root, an alias
symlink beside it, or the reserved name "local" for the current one.
Without a command, a shell is started: $SHELL by basename, then /bin/sh.

Flags:
  -h, --help         Show help
  -v, --version      Show version and exit
  -r, --restrict     Strip cross-stratum shims from the environment
  -u, --unrestrict   Skip restriction even for marked commands
  -p, --pivot        Re-root the whole mount namespace instead of a
                     local chroot
  -0, --arg0 <name>  Override argv[0] of the executed command
      --config <file> Use specified layout config file
      --debug        Print switch decisions to stderr`

func printUsage(output io.Writer) {
	fprintln(output, usageText)
}

// isTerminal is a function variable that returns true if stdin is a terminal.
// It can be overridden in tests to control TTY behavior.
var isTerminal = func() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return isTerminal()
}
