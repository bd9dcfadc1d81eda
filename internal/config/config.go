// Package config loads warden's TOML configuration: daemon settings,
// instance definitions (inline and drop-in files), schedules and the
// shared defaults applied to every instance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/instance"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/metrics"
)

// Schedule actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionCommand = "command"
)

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Listen         string    `toml:"listen" mapstructure:"listen"`
	BasePath       string    `toml:"base_path" mapstructure:"base_path"`
	AuthSecret     string    `toml:"auth_secret" mapstructure:"auth_secret"`
	AuthSecretFile string    `toml:"auth_secret_file" mapstructure:"auth_secret_file"`
	TLS            TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Either point cert_file
// and key_file at an existing pair, or set dir (with auto_generate to
// mint a self-signed pair there on first start).
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"` // extra SANs for generated certs
}

// Defaults are applied to every instance field left unset. Zero values
// here fall through to the stock spec defaults.
type Defaults struct {
	StopCommand  string        `toml:"stop_command" mapstructure:"stop_command"`
	StartupGrace time.Duration `toml:"startup_grace" mapstructure:"startup_grace"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	TermTimeout  time.Duration `toml:"term_timeout" mapstructure:"term_timeout"`
	BufferLines  int           `toml:"buffer_lines" mapstructure:"buffer_lines"`
	Signature    string        `toml:"signature" mapstructure:"signature"`
	Markers      []string      `toml:"markers" mapstructure:"markers"`
}

// InstanceConfig mirrors one [[instances]] table.
type InstanceConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Program      string        `toml:"program" mapstructure:"program"`
	Args         []string      `toml:"args" mapstructure:"args"`
	Dir          string        `toml:"dir" mapstructure:"dir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	StopCommand  string        `toml:"stop_command" mapstructure:"stop_command"`
	StartupGrace time.Duration `toml:"startup_grace" mapstructure:"startup_grace"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	TermTimeout  time.Duration `toml:"term_timeout" mapstructure:"term_timeout"`
	BufferLines  int           `toml:"buffer_lines" mapstructure:"buffer_lines"`
	ConsoleLog   string        `toml:"console_log" mapstructure:"console_log"`
	Signature    string        `toml:"signature" mapstructure:"signature"`
	Markers      []string      `toml:"markers" mapstructure:"markers"`
	AutoStart    bool          `toml:"auto_start" mapstructure:"auto_start"`
}

// Schedule is one [[schedules]] entry: a cron expression bound to an
// action on a defined instance.
type Schedule struct {
	Name     string `toml:"name" mapstructure:"name"`
	Instance string `toml:"instance" mapstructure:"instance"`
	Cron     string `toml:"cron" mapstructure:"cron"`
	Action   string `toml:"action" mapstructure:"action"`
	Command  string `toml:"command" mapstructure:"command"` // console text for action = "command"
}

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env         []string                `toml:"env" mapstructure:"env"`
	EnvFiles    []string                `toml:"env_files" mapstructure:"env_files"`
	InstanceDir string                  `toml:"instance_dir" mapstructure:"instance_dir"`
	Server      ServerConfig            `toml:"server" mapstructure:"server"`
	Log         logger.Config           `toml:"log" mapstructure:"log"`
	Metrics     metrics.CollectorConfig `toml:"metrics" mapstructure:"metrics"`
	History     history.Config          `toml:"history" mapstructure:"history"`
	Defaults    Defaults                `toml:"defaults" mapstructure:"defaults"`
	Instances   []InstanceConfig        `toml:"instances" mapstructure:"instances"`
	Schedules   []Schedule              `toml:"schedules" mapstructure:"schedules"`
}

// Config is the fully resolved configuration: global env merged into
// specs, defaults applied, drop-in instances folded in, everything
// validated.
type Config struct {
	Server      ServerConfig
	Log         logger.Config
	Metrics     metrics.CollectorConfig
	History     history.Config
	Specs       []instance.Spec
	Schedules   []Schedule
	AutoStart   []string // names flagged auto_start, in definition order
	InstanceDir string   // absolute drop-in directory, empty when unset
}

// Load reads and resolves the whole configuration from a TOML file.
// Relative env_files and instance_dir paths are taken relative to the
// config file's directory.
func Load(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(path)

	global, err := globalEnv(fc, baseDir)
	if err != nil {
		return nil, err
	}

	specs := make([]instance.Spec, 0, len(fc.Instances))
	var autoStart []string
	for _, ic := range fc.Instances {
		specs = append(specs, fc.spec(ic, global))
		if ic.AutoStart {
			autoStart = append(autoStart, ic.Name)
		}
	}

	instDir := fc.InstanceDir
	if instDir != "" && !filepath.IsAbs(instDir) {
		instDir = filepath.Join(baseDir, instDir)
	}
	if instDir != "" {
		extra, extraAuto, err := fc.loadInstanceDir(instDir, global)
		if err != nil {
			return nil, err
		}
		specs = append(specs, extra...)
		autoStart = append(autoStart, extraAuto...)
	}

	if err := validate(specs, fc.Schedules); err != nil {
		return nil, err
	}

	srv := fc.Server
	if srv.AuthSecret == "" && srv.AuthSecretFile != "" {
		secretPath := srv.AuthSecretFile
		if !filepath.IsAbs(secretPath) {
			secretPath = filepath.Join(baseDir, secretPath)
		}
		b, err := os.ReadFile(filepath.Clean(secretPath))
		if err != nil {
			return nil, fmt.Errorf("read auth_secret_file: %w", err)
		}
		srv.AuthSecret = strings.TrimSpace(string(b))
	}
	srv.TLS.CertFile = resolveRel(baseDir, srv.TLS.CertFile)
	srv.TLS.KeyFile = resolveRel(baseDir, srv.TLS.KeyFile)
	srv.TLS.Dir = resolveRel(baseDir, srv.TLS.Dir)

	return &Config{
		Server:      srv,
		Log:         fc.Log,
		Metrics:     fc.Metrics,
		History:     fc.History,
		Specs:       specs,
		Schedules:   fc.Schedules,
		AutoStart:   autoStart,
		InstanceDir: instDir,
	}, nil
}

// LoadSpecs reads only the instance definitions (inline plus drop-ins)
// from a TOML file. Used by the drop-in watcher to refresh definitions
// without re-resolving the daemon sections.
func LoadSpecs(path string) ([]instance.Spec, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Specs, nil
}

// resolveRel makes p absolute against the config file's directory so the
// daemon behaves the same no matter where it was started from.
func resolveRel(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// spec converts one instance table into a launchable Spec, applying
// [defaults] for unset fields and the merged global environment.
func (fc *FileConfig) spec(ic InstanceConfig, global map[string]string) instance.Spec {
	d := fc.Defaults
	s := instance.Spec{
		Name:         ic.Name,
		Program:      ic.Program,
		Args:         ic.Args,
		Dir:          ic.Dir,
		StopCommand:  strOr(ic.StopCommand, d.StopCommand),
		StartupGrace: durOr(ic.StartupGrace, d.StartupGrace),
		StopTimeout:  durOr(ic.StopTimeout, d.StopTimeout),
		TermTimeout:  durOr(ic.TermTimeout, d.TermTimeout),
		BufferLines:  intOr(ic.BufferLines, d.BufferLines),
		ConsoleLog:   ic.ConsoleLog,
		Signature:    strOr(ic.Signature, d.Signature),
		Markers:      ic.Markers,
	}
	if len(s.Markers) == 0 {
		s.Markers = d.Markers
	}
	s.Env = mergeEnv(global, ic.Env)
	return s
}

// loadInstanceDir reads every *.toml drop-in in dir, lexicographic
// order. Drop-ins use the same [[instances]] tables as the main file
// and inherit its [defaults] and global env.
func (fc *FileConfig) loadInstanceDir(dir string, global map[string]string) ([]instance.Spec, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("instance_dir %s: %w", dir, err)
	}
	var specs []instance.Spec
	var autoStart []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".toml") {
			continue
		}
		sub, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("instance drop-in %s: %w", name, err)
		}
		for _, ic := range sub.Instances {
			specs = append(specs, fc.spec(ic, global))
			if ic.AutoStart {
				autoStart = append(autoStart, ic.Name)
			}
		}
	}
	return specs, autoStart, nil
}

// globalEnv composes env_files contents (in order) with the top-level
// env list, which overrides last.
func globalEnv(fc *FileConfig, baseDir string) (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		pairs, err := parseEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	return m, nil
}

// parseEnvFile reads a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func parseEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}

// mergeEnv builds the spec env list: global pairs (sorted for
// determinism) followed by per-instance pairs in declared order, with
// ${VAR} references expanded against OS env, globals and the instance's
// own entries. Later entries win at exec time, so per-instance values
// override globals of the same key.
func mergeEnv(global map[string]string, per []string) []string {
	comp := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			comp[k] = v
		}
	}
	for k, v := range global {
		comp[k] = v
	}
	for _, kv := range per {
		if k, v, ok := splitKV(kv); ok {
			comp[k] = v
		}
	}

	keys := make([]string, 0, len(global))
	for k := range global {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(global)+len(per))
	for _, k := range keys {
		out = append(out, k+"="+expand(global[k], comp))
	}
	for _, kv := range per {
		if k, v, ok := splitKV(kv); ok {
			out = append(out, k+"="+expand(v, comp))
		}
	}
	return out
}

// expand replaces ${VAR} occurrences using the composed map. Simple
// substitution, no recursion.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func validate(specs []instance.Spec, schedules []Schedule) error {
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate instance name %q", s.Name)
		}
		names[s.Name] = true
	}

	seen := make(map[string]bool, len(schedules))
	for _, sc := range schedules {
		if sc.Name == "" {
			return fmt.Errorf("schedule requires name")
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate schedule name %q", sc.Name)
		}
		seen[sc.Name] = true
		if sc.Cron == "" {
			return fmt.Errorf("schedule %s: cron expression is required", sc.Name)
		}
		if !names[sc.Instance] {
			return fmt.Errorf("schedule %s references unknown instance %q", sc.Name, sc.Instance)
		}
		switch sc.Action {
		case ActionStart, ActionStop, ActionRestart:
			if sc.Command != "" {
				return fmt.Errorf("schedule %s: command is only valid with action %q", sc.Name, ActionCommand)
			}
		case ActionCommand:
			if sc.Command == "" {
				return fmt.Errorf("schedule %s: action %q requires command", sc.Name, ActionCommand)
			}
		default:
			return fmt.Errorf("schedule %s: unknown action %q", sc.Name, sc.Action)
		}
	}
	return nil
}

func strOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func durOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func intOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
