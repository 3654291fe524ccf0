package main

import (
	"os"
	"path/filepath"
	"strings"
)

func main() {
	env := environMap(os.Environ())

	// A basename other than our own means we were invoked through a
	// bounce wrapper.
	if filepath.Base(os.Args[0]) != "strata" {
		os.Exit(RunWrapper(os.Stdin, os.Stdout, os.Stderr, os.Args, env))
	}

	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env))
}

// environMap converts os.Environ() KEY=VALUE pairs into a map.
func environMap(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		env[key] = value
	}

	return env
}
