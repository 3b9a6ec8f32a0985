package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gpubuilders/model-swapping-service/internal/common/fsutil"
)

// Load reads, macro-expands, and validates a configuration file. The
// format is chosen by file extension: .yaml/.yml (the primary format),
// .json, or .toml (accepted for local override files, same as the
// teacher's loader dispatch).
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return Config{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var raw rawConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config extension: %s", ext)
	}

	return build(raw)
}

// rawConfig mirrors Config's shape for unmarshalling before ids are
// stamped onto the map values and macros are resolved.
type rawConfig struct {
	HealthCheckTimeoutSeconds int                    `yaml:"healthCheckTimeout" json:"healthCheckTimeout" toml:"healthCheckTimeout"`
	StartPort                 int                    `yaml:"startPort" json:"startPort" toml:"startPort"`
	Models                    map[string]ModelConfig `yaml:"models" json:"models" toml:"models"`
	Groups                    map[string]GroupConfig `yaml:"groups" json:"groups" toml:"groups"`
	Hooks                     Hooks                  `yaml:"hooks" json:"hooks" toml:"hooks"`
}

func build(raw rawConfig) (Config, error) {
	var verr ValidationError

	timeout := raw.HealthCheckTimeoutSeconds
	if timeout < MinHealthCheckTimeoutSeconds {
		if timeout != 0 {
			verr.add("healthCheckTimeout must be >= %d seconds, got %d", MinHealthCheckTimeoutSeconds, timeout)
		}
		timeout = MinHealthCheckTimeoutSeconds
	}
	startPort := raw.StartPort
	if startPort <= 0 {
		startPort = 8000
	}

	// Stamp ids, sort for deterministic port assignment across runs.
	modelIDs := make([]string, 0, len(raw.Models))
	for id := range raw.Models {
		modelIDs = append(modelIDs, id)
	}
	sort.Strings(modelIDs)

	ports := newPortAllocator(startPort)
	usedPorts := map[int]string{}
	models := make(map[string]ModelConfig, len(raw.Models))
	for _, id := range modelIDs {
		mdl := raw.Models[id]
		mdl.ID = id
		if mdl.CheckEndpoint == "" {
			mdl.CheckEndpoint = NoHealthCheck
		}
		resolved, port, hasPort, err := resolveMacros(mdl, ports.allocate)
		if err != nil {
			verr.add("%v", err)
			continue
		}
		if err := assertNoDuplicatePorts(usedPorts, id, port, hasPort); err != nil {
			verr.add("%v", err)
		}
		models[id] = resolved
	}

	groupIDs := make([]string, 0, len(raw.Groups))
	for id := range raw.Groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	groups := make(map[string]GroupConfig, len(raw.Groups))
	memberOf := map[string]string{}
	for _, id := range groupIDs {
		g := raw.Groups[id]
		g.ID = id
		for _, member := range g.Members {
			if _, exists := models[member]; !exists {
				verr.add("group %q: member %q is not a configured model", id, member)
				continue
			}
			if prior, dup := memberOf[member]; dup {
				verr.add("model %q belongs to both group %q and group %q", member, prior, id)
				continue
			}
			memberOf[member] = id
		}
		groups[id] = g
	}

	// Fold every ungrouped model into the synthetic default group.
	var defaultMembers []string
	for _, id := range modelIDs {
		if _, ok := models[id]; !ok {
			continue
		}
		if _, grouped := memberOf[id]; !grouped {
			defaultMembers = append(defaultMembers, id)
		}
	}
	if len(defaultMembers) > 0 {
		groups[DefaultGroupID] = GroupConfig{
			ID:         DefaultGroupID,
			Members:    defaultMembers,
			Swap:       true,
			Exclusive:  true,
			Persistent: false,
		}
	}

	// Alias table: eagerly computed, immutable, disjoint from model ids.
	aliases := map[string]string{}
	for _, id := range modelIDs {
		mdl, ok := models[id]
		if !ok {
			continue
		}
		for _, alias := range mdl.Aliases {
			if _, isModel := models[alias]; isModel {
				verr.add("alias %q collides with a configured model id", alias)
				continue
			}
			if prior, dup := aliases[alias]; dup && prior != id {
				verr.add("alias %q is defined for both %q and %q", alias, prior, id)
				continue
			}
			aliases[alias] = id
		}
	}
	// Every model resolves to itself.
	for _, id := range modelIDs {
		if _, ok := models[id]; ok {
			aliases[id] = id
		}
	}

	for _, id := range raw.Hooks.OnStartup.Preload {
		if _, ok := aliases[id]; !ok {
			verr.add("hooks.on_startup.preload: %q does not resolve to any model", id)
		}
	}

	if err := verr.errOrNil(); err != nil {
		return Config{}, err
	}

	return Config{
		HealthCheckTimeoutSeconds: timeout,
		StartPort:                 startPort,
		Models:                    models,
		Groups:                    groups,
		Hooks:                     raw.Hooks,
		Aliases:                   aliases,
	}, nil
}

