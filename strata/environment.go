//go:build linux

package strata

// Environment is a snapshot of the ambient process state taken once at
// the start of an invocation. Components take it as a parameter instead
// of reading environment variables directly, so tests can inject
// fixtures.
type Environment struct {
	// Env is the environment variable snapshot. Restriction rewrites
	// it in place; dispatch flattens it for exec.
	Env map[string]string
	// WorkDir is the working directory at invocation time, restored
	// best-effort after a root transition.
	WorkDir string
}

// envSlice flattens the snapshot into the KEY=VALUE form exec wants.
func (e Environment) envSlice() []string {
	out := make([]string, 0, len(e.Env))
	for k, v := range e.Env {
		out = append(out, k+"="+v)
	}

	return out
}
