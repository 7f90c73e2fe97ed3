package execution

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/model"
)

// Tools locates the tracer binaries.
type Tools struct {
	Stap string
	Perf string
}

// Invocation is a resolved tracer command line.
type Invocation struct {
	Path string
	Args []string
	// Env is appended to the daemon's environment, as KEY=VALUE.
	Env []string
}

// String renders the command line for logs.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Path)
	for _, a := range inv.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Resolve turns a definition's content into the tracer command line.
// dataPath is where perf writes its samples; stap ignores it.
func Resolve(def model.TraceDefinition, tools Tools, dataPath string) (Invocation, error) {
	switch c := def.Content.(type) {
	case *model.SystemTap:
		return resolveSystemTap(c, tools.Stap), nil
	case *model.PerfBranch:
		return resolvePerfBranch(c, tools.Perf, dataPath), nil
	case nil:
		return Invocation{}, errdefs.Invalid("%s has no content", def.Name)
	default:
		return Invocation{}, errdefs.Invalid("%s: unsupported method %s", def.Name, c.Method())
	}
}

func resolveSystemTap(c *model.SystemTap, stap string) Invocation {
	var script strings.Builder
	for _, fn := range c.FunctionList {
		fmt.Fprintf(&script, "probe process(%s).function(%s) { printf(\"%%s %%s\\n\", probefunc(), $$parms) }\n",
			strconv.Quote(c.Process), strconv.Quote(fn))
	}

	target := make([]string, 0, len(c.Args)+1)
	target = append(target, shellQuote(c.Process))
	for _, a := range c.Args {
		target = append(target, shellQuote(a))
	}

	env := make([]string, 0, len(c.Envs))
	for _, e := range c.Envs {
		env = append(env, e.Key+"="+e.Value)
	}

	return Invocation{
		Path: stap,
		Args: []string{"-v", "-e", script.String(), "-c", strings.Join(target, " ")},
		Env:  env,
	}
}

func resolvePerfBranch(c *model.PerfBranch, perf, dataPath string) Invocation {
	args := []string{"record", "-b", "-o", dataPath}
	freq := c.Frequency.Normalized()
	switch freq.Mode {
	case model.FrequencyModeMax:
		args = append(args, "-F", "max")
	case model.FrequencyModeSpecific:
		args = append(args, "-F", strconv.FormatUint(uint64(freq.Value), 10))
	}
	args = append(args, "--", c.AbsolutePath)
	args = append(args, c.AdditionalArgs...)
	return Invocation{Path: perf, Args: args}
}

// shellQuote single-quotes s unless it is made only of safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
