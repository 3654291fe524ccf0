//go:build linux

package strata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// MaxStratumName bounds the length of a resolved stratum name. Names
// longer than this are treated as resolution failures rather than
// truncated.
const MaxStratumName = 255

// Layout describes the fixed filesystem surface the engine consumes:
// where strata live, where the enable/restrict markers live, and which
// path prefix marks cross-stratum shims. All paths are absolute.
//
// The layout is owned and populated by external installation tooling;
// this package only ever reads it.
type Layout struct {
	// StrataRoot contains one subdirectory per stratum plus symlink
	// aliases alongside them.
	StrataRoot string `json:"strata_root,omitempty"`
	// EnabledDir holds one marker file per enabled stratum name.
	EnabledDir string `json:"enabled_dir,omitempty"`
	// RestrictedCmdsDir holds one marker file per command basename
	// that must always run with a restricted environment.
	RestrictedCmdsDir string `json:"restricted_cmds_dir,omitempty"`
	// CrossPrefix is the well-known cross-stratum shim prefix. Search
	// path entries starting with it are stripped under restriction and
	// skipped during dispatch.
	CrossPrefix string `json:"cross_prefix,omitempty"`
	// SharedDir is the shared infrastructure tree both the old and new
	// stratum need after a namespace pivot.
	SharedDir string `json:"shared_dir,omitempty"`
	// FallbackShell is the minimal shell forced under restriction and
	// the last entry of the dispatch fallback chain.
	FallbackShell string `json:"fallback_shell,omitempty"`
}

// Xattr names and reserved identifiers. These are wire-level constants
// shared with the installation tooling and the bounce wrapper; they are
// not configurable.
const (
	// StratumXattr self-tags a stratum's root directory with its name.
	// Read off "/" it identifies the current stratum.
	StratumXattr = "user.strata.stratum"
	// LocalPathXattr is set on bounce-wrapper executables alongside
	// StratumXattr and names the path to re-exec inside that stratum.
	LocalPathXattr = "user.strata.localpath"
	// LocalAlias is the reserved stratum name meaning "no change".
	// It short-circuits before any filesystem access, so a real
	// stratum directory named "local" is unreachable through it.
	LocalAlias = "local"
	// RestrictMarkerVar is set to "1" in a restricted environment so
	// re-entrant invocations know hooks are disabled.
	RestrictMarkerVar = "STRATA_RESTRICT"
)

// searchPathVars are the colon-delimited environment variables rewritten
// under restriction and consulted by dispatch.
var searchPathVars = []string{"PATH", "MANPATH", "INFOPATH", "XDG_DATA_DIRS"}

// DefaultLayout returns the layout every installation ships with.
func DefaultLayout() Layout {
	return Layout{
		StrataRoot:        "/bedrock/strata",
		EnabledDir:        "/bedrock/run/enabled_strata",
		RestrictedCmdsDir: "/bedrock/etc/restricted_cmds",
		CrossPrefix:       "/bedrock/cross",
		SharedDir:         "/bedrock",
		FallbackShell:     "/bin/sh",
	}
}

// LayoutConfigPath is the optional layout override file. It is only
// believed if the trust checker reports it secure.
const LayoutConfigPath = "/bedrock/etc/strata.jsonc"

// ErrLayoutConfig is returned when the layout override file exists but
// cannot be parsed.
var ErrLayoutConfig = errors.New("invalid layout config")

// LoadLayout returns the effective layout: the defaults, overlaid with
// any fields set in the layout config file. A missing config file is
// not an error. A config file that fails the trust check is: layout
// paths drive every later security decision, so an attacker-writable
// config would defeat all of them.
func LoadLayout(configPath string) (Layout, error) {
	layout := DefaultLayout()

	if configPath == "" {
		configPath = LayoutConfigPath
	}

	state := Check(configPath)
	switch state {
	case TrustMissing:
		return layout, nil
	case TrustSecure:
		// fall through to parse
	default:
		return Layout{}, &TrustError{Path: configPath, State: state}
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: reading %s: %w", ErrLayoutConfig, configPath, err)
	}

	// JSONC: comments and trailing commas are allowed.
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %s: %w", ErrLayoutConfig, configPath, err)
	}

	var override Layout

	err = json.Unmarshal(std, &override)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %s: %w", ErrLayoutConfig, configPath, err)
	}

	layout = mergeLayout(layout, override)

	err = validateLayout(layout)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %s: %w", ErrLayoutConfig, configPath, err)
	}

	return layout, nil
}

// mergeLayout overlays non-empty fields of override onto base.
func mergeLayout(base, override Layout) Layout {
	if override.StrataRoot != "" {
		base.StrataRoot = override.StrataRoot
	}

	if override.EnabledDir != "" {
		base.EnabledDir = override.EnabledDir
	}

	if override.RestrictedCmdsDir != "" {
		base.RestrictedCmdsDir = override.RestrictedCmdsDir
	}

	if override.CrossPrefix != "" {
		base.CrossPrefix = override.CrossPrefix
	}

	if override.SharedDir != "" {
		base.SharedDir = override.SharedDir
	}

	if override.FallbackShell != "" {
		base.FallbackShell = override.FallbackShell
	}

	return base
}

// validateLayout enforces the invariants the rest of the package
// assumes: every layout path is absolute and clean, and the strata root
// is not the filesystem root (prefix stripping in the resolver would
// otherwise be meaningless).
func validateLayout(layout Layout) error {
	errs := make([]error, 0, 6)

	for name, path := range map[string]string{
		"strata_root":         layout.StrataRoot,
		"enabled_dir":         layout.EnabledDir,
		"restricted_cmds_dir": layout.RestrictedCmdsDir,
		"cross_prefix":        layout.CrossPrefix,
		"shared_dir":          layout.SharedDir,
		"fallback_shell":      layout.FallbackShell,
	} {
		if strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("layout %s is empty", name))
			continue
		}

		if !filepath.IsAbs(path) {
			errs = append(errs, fmt.Errorf("layout %s %q is not absolute", name, path))
			continue
		}

		if filepath.Clean(path) != path {
			errs = append(errs, fmt.Errorf("layout %s %q is not a clean path", name, path))
		}
	}

	if layout.StrataRoot == "/" {
		errs = append(errs, errors.New("layout strata_root must not be /"))
	}

	return errors.Join(errs...)
}
