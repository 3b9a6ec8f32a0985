// Package config parses and validates the YAML configuration that feeds
// the process-lifecycle core. It resolves macros, assigns ports, computes
// the alias table, and folds ungrouped models into the synthetic default
// group before handing a fully validated Config to internal/manager.
package config

// Config is the top-level, validated configuration object handed to the
// core. Zero values are never passed through to the core: Load always
// fills in defaults or fails.
type Config struct {
	HealthCheckTimeoutSeconds int                    `yaml:"healthCheckTimeout"`
	StartPort                 int                    `yaml:"startPort"`
	Models                    map[string]ModelConfig `yaml:"models"`
	Groups                    map[string]GroupConfig `yaml:"groups"`
	Hooks                     Hooks                  `yaml:"hooks"`

	// Aliases is computed by Load from every model's Aliases field; it is
	// not read directly from YAML.
	Aliases map[string]string `yaml:"-"`
}

// ModelConfig is the immutable per-model configuration, one entry per
// configured model id.
type ModelConfig struct {
	ID string `yaml:"-"`

	// Cmd is the tokenised command line with macros already resolved.
	// Prefer a YAML sequence (pre-tokenised argv); a scalar string is
	// accepted and quote-aware tokenised at load time.
	Cmd RawCmd `yaml:"cmd"`

	// CmdStop is an optional shell command template, may contain ${PID}.
	CmdStop string `yaml:"cmdStop"`

	// Proxy is the upstream base URL, typically http://localhost:<port>.
	Proxy string `yaml:"proxy"`

	// CheckEndpoint is a path, or the sentinel NoHealthCheck meaning
	// "treat the process as ready as soon as it has been spawned".
	CheckEndpoint string `yaml:"checkEndpoint"`

	Env []string `yaml:"env"`

	// UnloadAfter is the idle TTL in seconds; 0 means never evict.
	UnloadAfter int `yaml:"unloadAfter"`

	Aliases []string `yaml:"aliases"`

	// UseModelName and Filters are request-rewrite hints consumed by the
	// endpoint layer, not by the core; the core carries them through
	// untouched so external collaborators can read them off a resolved
	// ModelConfig.
	UseModelName string       `yaml:"useModelName"`
	Filters      FilterConfig `yaml:"filters"`

	Unlisted bool `yaml:"unlisted"`
}

// FilterConfig carries endpoint-layer request-rewrite hints.
type FilterConfig struct {
	StripParams []string `yaml:"stripParams"`
}

// NoHealthCheck is the sentinel checkEndpoint value meaning "no health
// check": the process transitions STARTING -> READY as soon as the
// startup delay elapses.
const NoHealthCheck = "none"

// GroupConfig is the immutable configuration of one process group.
type GroupConfig struct {
	ID         string   `yaml:"-"`
	Members    []string `yaml:"members"`
	Swap       bool     `yaml:"swap"`
	Exclusive  bool     `yaml:"exclusive"`
	Persistent bool     `yaml:"persistent"`
}

// DefaultGroupID names the synthetic group that ungrouped models join.
const DefaultGroupID = "(default)"

// Hooks configures lifecycle hooks run around the server's own lifecycle.
type Hooks struct {
	OnStartup OnStartupHooks `yaml:"on_startup"`
}

// OnStartupHooks lists model ids to warm immediately after the server
// starts listening.
type OnStartupHooks struct {
	Preload []string `yaml:"preload"`
}

// MinHealthCheckTimeoutSeconds is the floor enforced on
// healthCheckTimeout by Load.
const MinHealthCheckTimeoutSeconds = 15
