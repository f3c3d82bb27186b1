// Package shellcmd builds the POSIX shell command line that runs an agent in
// a multiplexer pane and records its exit code in a marker file.
package shellcmd

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvName reports whether name is safe to emit unquoted as an
// environment variable name.
func ValidEnvName(name string) bool {
	return envNamePattern.MatchString(name)
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Spec is the input to Wrap.
type Spec struct {
	Cwd     string
	Env     map[string]string
	Command string
	Args    []string
	// MarkerPath receives the exit code. The command writes MarkerPath+".tmp"
	// first and renames it into place.
	MarkerPath string
}

// Wrap renders spec as
//
//	cd <cwd> && env K=V... <cmd> <args...>; echo $? > <marker>.tmp && mv <marker>.tmp <marker>
//
// Every dynamic fragment is quoted. Env names must pass ValidEnvName; keys are
// emitted in sorted order.
func Wrap(spec Spec) (string, error) {
	var b strings.Builder

	if spec.Cwd != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(spec.Cwd))
		b.WriteString(" && ")
	}

	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			if !ValidEnvName(k) {
				return "", fmt.Errorf("invalid environment variable name %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("env")
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(Quote(spec.Env[k]))
		}
		b.WriteString(" ")
	}

	b.WriteString(Quote(spec.Command))
	for _, arg := range spec.Args {
		b.WriteString(" ")
		b.WriteString(Quote(arg))
	}

	if spec.MarkerPath != "" {
		tmp := Quote(spec.MarkerPath + ".tmp")
		fmt.Fprintf(&b, "; echo $? > %s && mv %s %s", tmp, tmp, Quote(spec.MarkerPath))
	}

	return b.String(), nil
}
