// Package config loads relaybot's YAML configuration: identity and
// server list, per-room and global behavior overrides, the admin list,
// and runtime settings. A *Config is immutable once returned by Load;
// a reload builds a fresh one and the owner swaps the pointer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/logging"
	"github.com/relaycore/relaybot/internal/netconn"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/session"
	"github.com/relaycore/relaybot/internal/tokenbucket"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; these are the
// fallbacks.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "relaybot", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/relaybot/config.yaml")
	return paths
}

// searchPathsFunc is overridable in tests.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise searches searchPathsFunc() and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// ServerConfig is one candidate in the server round-robin list.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLS        bool   `yaml:"tls"`
	VerifyCert bool   `yaml:"verify_cert"`
	Password   string `yaml:"password"`
}

// SASLConfig carries the optional SASL PLAIN credentials.
type SASLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// commandOverrideRaw is the YAML shape of a command override. Enabled
// is a pointer so an override that only sets requires (without an
// explicit enabled: false) still leaves the command enabled.
type commandOverrideRaw struct {
	Enabled  *bool  `yaml:"enabled"`
	Requires string `yaml:"requires"`
}

func (r commandOverrideRaw) resolve() roomconfig.CommandConfig {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return roomconfig.CommandConfig{Enabled: enabled, Requires: r.Requires}
}

func resolveCommands(raw map[string]commandOverrideRaw) map[string]roomconfig.CommandConfig {
	if raw == nil {
		return nil
	}
	out := make(map[string]roomconfig.CommandConfig, len(raw))
	for name, r := range raw {
		out[name] = r.resolve()
	}
	return out
}

// RoomConfig is one room's join key, command overrides, and freeform
// behavior values (cmd_prefix, ai_*, idle_chat_*, floodpro, ...). Values
// collects every key besides "key" and "commands" via yaml inlining.
type RoomConfig struct {
	Key      string                        `yaml:"key"`
	Commands map[string]commandOverrideRaw `yaml:"commands"`
	Values   map[string]any                `yaml:",inline"`
}

// Config is the full parsed configuration surface.
type Config struct {
	Nick     string `yaml:"nick"`
	AltNick  string `yaml:"altnick"`
	Ident    string `yaml:"ident"`
	Realname string `yaml:"realname"`
	Password string `yaml:"password"`

	Servers  []ServerConfig `yaml:"servers"`
	BindHost string         `yaml:"bindhost"`
	UserMode string         `yaml:"usermode"`
	SASL     SASLConfig     `yaml:"sasl"`

	PostConnectCommands []string `yaml:"post_connect_commands"`
	Admins              []string `yaml:"admins"`

	Defaults map[string]any                `yaml:"defaults"`
	Commands map[string]commandOverrideRaw `yaml:"commands"`
	Rooms    map[string]RoomConfig         `yaml:"rooms"`

	PidFile      string  `yaml:"pid_file"`
	LogLevel     string  `yaml:"log_level"`
	LogRaw       bool    `yaml:"log_raw"`
	LogAPI       bool    `yaml:"log_api"`
	LogFile      string  `yaml:"log_file"`
	IRCBurstSize float64 `yaml:"irc_burst_size"`
	IRCFillRate  float64 `yaml:"irc_fill_rate"`

	AIServices map[string]AIServiceConfig `yaml:"ai_services"`
	Control    ControlConfig              `yaml:"control"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Tracing    TracingConfig              `yaml:"tracing"`
	DotenvPath string                     `yaml:"dotenv_path"`
}

// AIServiceConfig names one entry in the ai_service registry that
// room config's ai_service values resolve against.
type AIServiceConfig struct {
	BaseURL string `yaml:"base_url"`
}

// ControlConfig configures the optional authenticated HTTP control
// plane. Disabled by default: the core agent runs identically without
// it, driven only by signals.
type ControlConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address"`
	Port               int    `yaml:"port"`
	AuthKey            string `yaml:"auth_key"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// MetricsConfig is parsed from the metrics block, but Enabled is not read
// anywhere: metrics are always collected in-process, and the /metrics
// scrape route is served whenever the control plane is enabled.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Load reads path, overlays a sibling .env file if one exists, expands
// environment variables, applies defaults, and validates the result.
// After Load returns successfully every field is usable without
// further nil/empty checks.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.AltNick == "" && c.Nick != "" {
		c.AltNick = c.Nick + "_"
	}
	if c.Ident == "" {
		c.Ident = c.Nick
	}
	if c.Realname == "" {
		c.Realname = c.Nick
	}
	if c.PidFile == "" {
		c.PidFile = "./relaybot.pid"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.IRCBurstSize <= 0 {
		c.IRCBurstSize = tokenbucket.DefaultCapacity
	}
	if c.IRCFillRate <= 0 {
		c.IRCFillRate = tokenbucket.DefaultFillRate
	}
	if c.Control.Address == "" {
		c.Control.Address = "127.0.0.1"
	}
	if c.Control.Port == 0 {
		c.Control.Port = 8337
	}
	if c.Control.RateLimitPerMinute <= 0 {
		c.Control.RateLimitPerMinute = 10
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "relaybot"
	}
	if c.DotenvPath == "" {
		c.DotenvPath = ".env"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Nick == "" {
		return fmt.Errorf("nick is required")
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server is required")
	}
	for i, s := range c.Servers {
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("servers[%d].port %d out of range (1-65535)", i, s.Port)
		}
	}
	if len(c.Rooms) == 0 {
		return fmt.Errorf("at least one room is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateFloodWindow(c.Defaults, "defaults"); err != nil {
		return err
	}
	for name, rc := range c.Rooms {
		if err := validateFloodWindow(rc.Values, "rooms."+name); err != nil {
			return err
		}
	}
	if c.Control.Enabled && c.Control.AuthKey == "" {
		return fmt.Errorf("control.auth_key is required when control.enabled is true")
	}
	return nil
}

// validateFloodWindow checks that any floodpro/privmsg_floodpro block
// present in tree specifies a positive window in seconds.
func validateFloodWindow(tree map[string]any, label string) error {
	for _, key := range []string{"floodpro", "privmsg_floodpro"} {
		raw, ok := tree[key]
		if !ok {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if seconds := configval.Float(m["seconds"], 0); seconds <= 0 {
			return fmt.Errorf("%s.%s.seconds must be positive", label, key)
		}
	}
	return nil
}

// SessionConfig derives the identity/registration configuration the
// protocol state machine needs.
func (c *Config) SessionConfig() session.Config {
	names := make([]string, 0, len(c.Rooms))
	for name := range c.Rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	rooms := make([]session.RoomJoin, 0, len(names))
	for _, name := range names {
		rooms = append(rooms, session.RoomJoin{Name: name, Key: c.Rooms[name].Key})
	}

	return session.Config{
		Nick:     c.Nick,
		AltNick:  c.AltNick,
		Ident:    c.Ident,
		Realname: c.Realname,
		Password: c.Password,
		SASL: session.SASLConfig{
			Enabled:  c.SASL.Enabled,
			Username: c.SASL.Username,
			Password: c.SASL.Password,
		},
		UserMode:            c.UserMode,
		PostConnectCommands: c.PostConnectCommands,
		Rooms:               rooms,
	}
}

// NetconnConfig derives the connection manager's server list and bind
// address.
func (c *Config) NetconnConfig() netconn.Config {
	servers := make([]netconn.Server, len(c.Servers))
	for i, s := range c.Servers {
		servers[i] = netconn.Server{
			Host:       s.Host,
			Port:       s.Port,
			TLS:        s.TLS,
			VerifyCert: s.VerifyCert,
			Password:   s.Password,
		}
	}
	return netconn.Config{Servers: servers, BindHost: c.BindHost}
}

// resolvedTrees builds the global tree, global command overrides, and
// per-room trees in the shape roomconfig.View expects.
func (c *Config) resolvedTrees() (map[string]any, map[string]roomconfig.CommandConfig, map[string]roomconfig.Room) {
	rooms := make(map[string]roomconfig.Room, len(c.Rooms))
	for name, rc := range c.Rooms {
		rooms[strings.ToLower(name)] = roomconfig.Room{
			Values:   rc.Values,
			Commands: resolveCommands(rc.Commands),
		}
	}
	return c.Defaults, resolveCommands(c.Commands), rooms
}

// RoomConfigView derives the dotted-key lookup view the router,
// reply pipeline, scheduler, and command registry all read behavior
// from.
func (c *Config) RoomConfigView() *roomconfig.View {
	global, globalCommands, rooms := c.resolvedTrees()
	return &roomconfig.View{Global: global, GlobalCommands: globalCommands, Rooms: rooms}
}

// ApplyTo replaces an existing view's trees in place, for a reload. The
// view's own locking makes this safe to call while other goroutines are
// reading from it.
func (c *Config) ApplyTo(v *roomconfig.View) {
	global, globalCommands, rooms := c.resolvedTrees()
	v.Replace(global, globalCommands, rooms)
}

// AdminPatterns returns the ordered admin nick/account/mask list for
// access.New.
func (c *Config) AdminPatterns() []string {
	return c.Admins
}

// AIServiceEndpoints returns the ai_service name -> base URL registry
// the LLM client resolves a room's configured ai_service against.
func (c *Config) AIServiceEndpoints() map[string]string {
	out := make(map[string]string, len(c.AIServices))
	for name, svc := range c.AIServices {
		out[name] = svc.BaseURL
	}
	return out
}
