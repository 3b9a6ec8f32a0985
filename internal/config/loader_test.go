package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "swapd.yaml", `
startPort: 9000
healthCheckTimeout: 20
models:
  llama-7b:
    cmd: ["llama-server", "--port", "${PORT}"]
    proxy: "http://localhost:${PORT}"
    checkEndpoint: "/health"
    aliases: ["llama"]
groups:
  chat:
    members: ["llama-7b"]
    swap: true
    exclusive: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StartPort != 9000 {
		t.Errorf("StartPort = %d, want 9000", cfg.StartPort)
	}
	if cfg.HealthCheckTimeoutSeconds != 20 {
		t.Errorf("HealthCheckTimeoutSeconds = %d, want 20", cfg.HealthCheckTimeoutSeconds)
	}
	mdl, ok := cfg.Models["llama-7b"]
	if !ok {
		t.Fatal("expected model llama-7b to be present")
	}
	if mdl.Proxy != "http://localhost:9000" {
		t.Errorf("Proxy = %q, want resolved to port 9000", mdl.Proxy)
	}
	if cfg.Aliases["llama"] != "llama-7b" {
		t.Errorf("alias %q -> %q, want llama-7b", "llama", cfg.Aliases["llama"])
	}
	if cfg.Aliases["llama-7b"] != "llama-7b" {
		t.Error("expected a model id to resolve to itself in the alias table")
	}
	if _, ok := cfg.Groups["chat"]; !ok {
		t.Error("expected group chat to be present")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeTempConfig(t, "swapd.json", `{
		"startPort": 9100,
		"models": {
			"m1": {"cmd": ["echo", "hi"], "checkEndpoint": "none"}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Models["m1"]; !ok {
		t.Fatal("expected model m1")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeTempConfig(t, "swapd.toml", `
startPort = 9200

[models.m1]
cmd = ["echo", "hi"]
checkEndpoint = "none"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Models["m1"]; !ok {
		t.Fatal("expected model m1")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeTempConfig(t, "swapd.ini", "not a real format")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadExpandsHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available in this environment")
	}
	dir, err := os.MkdirTemp(home, "swapd-loader-test-*")
	if err != nil {
		t.Skip("cannot create temp dir under home directory")
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	full := filepath.Join(dir, "swapd.yaml")
	if err := os.WriteFile(full, []byte("models:\n  m1:\n    cmd: [\"echo\"]\n    checkEndpoint: none\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rel, err := filepath.Rel(home, full)
	if err != nil {
		t.Fatalf("rel: %v", err)
	}
	tildePath := "~/" + rel

	cfg, err := Load(tildePath)
	if err != nil {
		t.Fatalf("Load(%q): %v", tildePath, err)
	}
	if _, ok := cfg.Models["m1"]; !ok {
		t.Fatal("expected model m1 to load via a ~-expanded path")
	}
}

func TestBuildHealthCheckTimeoutFloor(t *testing.T) {
	raw := rawConfig{
		HealthCheckTimeoutSeconds: 5,
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected validation error when healthCheckTimeout is below the floor and non-zero")
	}
}

func TestBuildHealthCheckTimeoutDefaultsWhenZero(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
	}
	cfg, err := build(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.HealthCheckTimeoutSeconds != MinHealthCheckTimeoutSeconds {
		t.Errorf("HealthCheckTimeoutSeconds = %d, want default %d", cfg.HealthCheckTimeoutSeconds, MinHealthCheckTimeoutSeconds)
	}
}

func TestBuildStartPortDefaults(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
	}
	cfg, err := build(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.StartPort != 8000 {
		t.Errorf("StartPort = %d, want default 8000", cfg.StartPort)
	}
}

func TestBuildDefaultCheckEndpointIsNoHealthCheck(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}},
		},
	}
	cfg, err := build(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Models["m1"].CheckEndpoint != NoHealthCheck {
		t.Errorf("CheckEndpoint = %q, want default %q", cfg.Models["m1"].CheckEndpoint, NoHealthCheck)
	}
}

func TestBuildGroupMemberMustBeConfiguredModel(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
		Groups: map[string]GroupConfig{
			"g1": {Members: []string{"nonexistent"}},
		},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected error for group referencing an unconfigured model")
	}
}

func TestBuildModelCannotBelongToTwoGroups(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
		Groups: map[string]GroupConfig{
			"g1": {Members: []string{"m1"}},
			"g2": {Members: []string{"m1"}},
		},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected error when a model belongs to two groups")
	}
}

func TestBuildUngroupedModelsFoldIntoDefaultGroup(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
			"m2": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
		Groups: map[string]GroupConfig{
			"g1": {Members: []string{"m1"}},
		},
	}
	cfg, err := build(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	def, ok := cfg.Groups[DefaultGroupID]
	if !ok {
		t.Fatal("expected synthetic default group to be created for m2")
	}
	if len(def.Members) != 1 || def.Members[0] != "m2" {
		t.Errorf("default group members = %#v, want [m2]", def.Members)
	}
}

func TestBuildAliasCollidesWithModelID(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck, Aliases: []string{"m2"}},
			"m2": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected error when an alias collides with a configured model id")
	}
}

func TestBuildAliasDefinedTwiceForDifferentModels(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck, Aliases: []string{"shared"}},
			"m2": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck, Aliases: []string{"shared"}},
		},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected error when the same alias is defined for two different models")
	}
}

func TestBuildPreloadHookMustResolve(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck},
		},
		Hooks: Hooks{OnStartup: OnStartupHooks{Preload: []string{"nonexistent"}}},
	}
	if _, err := build(raw); err == nil {
		t.Fatal("expected error when a preload hook names an unresolvable model")
	}
}

func TestBuildPreloadHookResolvesViaAlias(t *testing.T) {
	raw := rawConfig{
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo"}, CheckEndpoint: NoHealthCheck, Aliases: []string{"main"}},
		},
		Hooks: Hooks{OnStartup: OnStartupHooks{Preload: []string{"main"}}},
	}
	if _, err := build(raw); err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestBuildAssignsDistinctPortsAcrossModels(t *testing.T) {
	raw := rawConfig{
		StartPort: 9000,
		Models: map[string]ModelConfig{
			"m1": {Cmd: RawCmd{"echo", "${PORT}"}, CheckEndpoint: NoHealthCheck},
			"m2": {Cmd: RawCmd{"echo", "${PORT}"}, CheckEndpoint: NoHealthCheck},
		},
	}
	cfg, err := build(raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Each model gets a distinct monotonically assigned port, so no
	// collision should occur even though both reference ${PORT}.
	if cfg.Models["m1"].Cmd[1] == cfg.Models["m2"].Cmd[1] {
		t.Error("expected distinct ports assigned to m1 and m2")
	}
}
