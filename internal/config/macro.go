package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// macroPattern matches ${NAME} where NAME is 1-63 characters of
// [A-Za-z0-9_-], per §6 of the specification.
var macroPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_-]{1,63})\}`)

// portMacro is the reserved macro name auto-assigned monotonically from
// startPort, once per model that references it.
const portMacro = "PORT"

// modelIDMacro is the reserved macro name resolving to the model's own id.
const modelIDMacro = "MODEL_ID"

// expandMacros substitutes ${MODEL_ID} and, when hasPort is true,
// ${PORT} in s. Any other ${NAME} occurrence is left untouched here;
// resolveMacros (the caller) is responsible for detecting what remains
// unresolved once the model's fields have been expanded.
func expandMacros(s, modelID string, assignedPort int, hasPort bool) string {
	return macroPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := macroPattern.FindStringSubmatch(m)[1]
		switch name {
		case modelIDMacro:
			return modelID
		case portMacro:
			if hasPort {
				return strconv.Itoa(assignedPort)
			}
			return m
		default:
			return m
		}
	})
}

// referencesPort reports whether s contains the ${PORT} macro.
func referencesPort(s string) bool {
	for _, m := range macroPattern.FindAllStringSubmatch(s, -1) {
		if m[1] == portMacro {
			return true
		}
	}
	return false
}

func cmdReferencesPort(argv []string) bool {
	for _, a := range argv {
		if referencesPort(a) {
			return true
		}
	}
	return false
}

// resolveMacros expands macros in the Cmd, CmdStop, Proxy, CheckEndpoint
// and Env fields of a copy of mdl and returns that resolved copy, plus
// the port assigned to it (if any). mdl itself is not modified.
// nextPort is called at most once, only when the model references
// ${PORT} anywhere.
func resolveMacros(mdl ModelConfig, nextPort func() int) (ModelConfig, int, bool, error) {
	referencesAnyPort := cmdReferencesPort(mdl.Cmd) ||
		referencesPort(mdl.Proxy) ||
		referencesPort(mdl.CheckEndpoint) ||
		referencesPort(mdl.CmdStop)
	for _, e := range mdl.Env {
		if referencesPort(e) {
			referencesAnyPort = true
			break
		}
	}

	if referencesPort(mdl.Proxy) && !cmdReferencesPort(mdl.Cmd) {
		return ModelConfig{}, 0, false, fmt.Errorf("model %q: proxy references ${PORT} but cmd does not", mdl.ID)
	}

	assignedPort := 0
	hasPort := false
	if referencesAnyPort {
		assignedPort = nextPort()
		hasPort = true
	}

	out := mdl
	out.Cmd = make(RawCmd, len(mdl.Cmd))
	for i, a := range mdl.Cmd {
		out.Cmd[i] = expandMacros(a, mdl.ID, assignedPort, hasPort)
	}
	out.CmdStop = expandMacros(mdl.CmdStop, mdl.ID, assignedPort, hasPort)
	out.Proxy = expandMacros(mdl.Proxy, mdl.ID, assignedPort, hasPort)
	out.CheckEndpoint = expandMacros(mdl.CheckEndpoint, mdl.ID, assignedPort, hasPort)
	out.Env = make([]string, len(mdl.Env))
	for i, e := range mdl.Env {
		out.Env[i] = normalizeEnvEntry(expandMacros(e, mdl.ID, assignedPort, hasPort))
	}

	if err := checkUnresolved(out); err != nil {
		return ModelConfig{}, 0, false, err
	}
	return out, assignedPort, hasPort, nil
}

func checkUnresolved(mdl ModelConfig) error {
	fields := append([]string{mdl.Proxy, mdl.CheckEndpoint, mdl.CmdStop}, mdl.Cmd...)
	fields = append(fields, mdl.Env...)
	for _, f := range fields {
		if m := macroPattern.FindString(f); m != "" {
			return fmt.Errorf("model %q: unresolved macro %s", mdl.ID, m)
		}
	}
	return nil
}

// portAllocator hands out monotonically increasing ports starting at
// start, one per call.
type portAllocator struct {
	next int
}

func newPortAllocator(start int) *portAllocator {
	return &portAllocator{next: start}
}

func (a *portAllocator) allocate() int {
	p := a.next
	a.next++
	return p
}

// assertNoDuplicatePorts is called once per model, right after that
// model's macros are resolved. Ports are only meaningful across models
// that actually bound one via ${PORT}, tracked in used.
func assertNoDuplicatePorts(used map[int]string, modelID string, port int, hasPort bool) error {
	if !hasPort {
		return nil
	}
	if other, ok := used[port]; ok && other != modelID {
		return fmt.Errorf("port %d resolved for both %q and %q", port, other, modelID)
	}
	used[port] = modelID
	return nil
}

// stripQuotesIfAny strips a matching pair of leading/trailing quotes from
// s, for env values operators sometimes wrap in quotes out of shell habit.
func stripQuotesIfAny(s string) string {
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// normalizeEnvEntry strips quotes from a KEY=VALUE env entry's value,
// after macro expansion, leaving the key and any bare (non-KEY=VALUE)
// entry untouched.
func normalizeEnvEntry(e string) string {
	key, value, ok := strings.Cut(e, "=")
	if !ok {
		return e
	}
	return key + "=" + stripQuotesIfAny(value)
}
