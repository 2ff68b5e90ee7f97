// Package config loads the agent daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelagent.ai/internal/agent"
	"voxelagent.ai/internal/world"
)

const DefaultPath = "./configs/agent.yaml"

type Config struct {
	Server  Server  `yaml:"server"`
	World   World   `yaml:"world"`
	Agent   Agent   `yaml:"agent"`
	Catalog Catalog `yaml:"catalog"`
	Journal Journal `yaml:"journal"`
	Logging Logging `yaml:"logging"`
}

type Server struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type World struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Version     string `yaml:"version"`
	Password    string `yaml:"password"`
	Auth        string `yaml:"auth"`
	AutoConnect bool   `yaml:"auto_connect"`
	// Scheme and Path locate the websocket endpoint on Host:Port.
	Scheme string `yaml:"scheme"`
	Path   string `yaml:"path"`
}

type Agent struct {
	HealthThreshold  float64       `yaml:"health_threshold"`
	FoodThreshold    float64       `yaml:"food_threshold"`
	DangerRadius     float64       `yaml:"danger_radius"`
	HuntRadius       float64       `yaml:"hunt_radius"`
	MaxFightHostiles int           `yaml:"max_fight_hostiles"`
	EntityRadius     float64       `yaml:"entity_radius"`
	LoginPhrase      string        `yaml:"login_phrase"`
	LoginDelay       time.Duration `yaml:"login_delay"`
	ChatCapacity     int           `yaml:"chat_capacity"`
}

type Catalog struct {
	// Override is an optional YAML/JSON file merged over the embedded tables.
	Override string `yaml:"override"`
}

type Journal struct {
	Dir       string `yaml:"dir"`
	DisableDB bool   `yaml:"disable_db"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	o := agent.DefaultOptions()
	return Config{
		Server: Server{Listen: ":3000", ShutdownTimeout: 10 * time.Second},
		World: World{
			Host:     o.Defaults.Host,
			Port:     o.Defaults.Port,
			Username: o.Defaults.Username,
			Auth:     o.Defaults.Auth,
			Scheme:   "ws",
			Path:     "/v1/ws",
		},
		Agent: Agent{
			HealthThreshold:  o.HealthThreshold,
			FoodThreshold:    o.FoodThreshold,
			DangerRadius:     o.DangerRadius,
			HuntRadius:       o.HuntRadius,
			MaxFightHostiles: o.MaxFightHostiles,
			EntityRadius:     o.EntityRadius,
			LoginDelay:       o.LoginDelay,
			ChatCapacity:     o.ChatCapacity,
		},
		Journal: Journal{Dir: "./data/journal"},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Env variables read by ApplyEnv.
const (
	EnvListen      = "VOXAGENT_LISTEN"
	EnvWorldHost   = "VOXAGENT_WORLD_HOST"
	EnvWorldPort   = "VOXAGENT_WORLD_PORT"
	EnvUsername    = "VOXAGENT_USERNAME"
	EnvPassword    = "VOXAGENT_PASSWORD"
	EnvLoginPhrase = "VOXAGENT_LOGIN_PHRASE"
	EnvLogLevel    = "VOXAGENT_LOG_LEVEL"
	EnvAutoConnect = "VOXAGENT_AUTO_CONNECT"
)

// ApplyEnv overrides c from lookup, normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvListen, &c.Server.Listen)
	str(EnvWorldHost, &c.World.Host)
	str(EnvUsername, &c.World.Username)
	str(EnvPassword, &c.World.Password)
	str(EnvLoginPhrase, &c.Agent.LoginPhrase)
	str(EnvLogLevel, &c.Logging.Level)

	if v, ok := lookup(EnvWorldPort); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorldPort, err)
		}
		c.World.Port = n
	}
	if v, ok := lookup(EnvAutoConnect); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAutoConnect, err)
		}
		c.World.AutoConnect = b
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	}
	if c.World.Port < 0 || c.World.Port > 65535 {
		errs = append(errs, fmt.Errorf("world.port %d out of range", c.World.Port))
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"agent.health_threshold", c.Agent.HealthThreshold},
		{"agent.food_threshold", c.Agent.FoodThreshold},
		{"agent.danger_radius", c.Agent.DangerRadius},
		{"agent.hunt_radius", c.Agent.HuntRadius},
		{"agent.entity_radius", c.Agent.EntityRadius},
		{"agent.max_fight_hostiles", float64(c.Agent.MaxFightHostiles)},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.Agent.LoginDelay < 0 {
		errs = append(errs, errors.New("agent.login_delay is negative"))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want console or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// AgentOptions maps the config onto the agent's options.
func (c Config) AgentOptions() agent.Options {
	o := agent.DefaultOptions()
	o.HealthThreshold = c.Agent.HealthThreshold
	o.FoodThreshold = c.Agent.FoodThreshold
	o.DangerRadius = c.Agent.DangerRadius
	o.HuntRadius = c.Agent.HuntRadius
	o.MaxFightHostiles = c.Agent.MaxFightHostiles
	o.EntityRadius = c.Agent.EntityRadius
	o.LoginPhrase = c.Agent.LoginPhrase
	o.LoginDelay = c.Agent.LoginDelay
	if c.Agent.ChatCapacity > 0 {
		o.ChatCapacity = c.Agent.ChatCapacity
	}
	o.Defaults = c.ConnectParams()
	return o
}

func (c Config) ConnectParams() world.ConnectParams {
	return world.ConnectParams{
		Host:     c.World.Host,
		Port:     c.World.Port,
		Username: c.World.Username,
		Version:  c.World.Version,
		Password: c.World.Password,
		Auth:     c.World.Auth,
	}
}
