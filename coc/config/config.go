// Package config loads cocstress configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/TheusHen/cocstress/coc"
	"github.com/TheusHen/cocstress/coc/link"
	"github.com/TheusHen/cocstress/coc/stress"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Host      HostConfig      `mapstructure:"host"`
	Scenario  ScenarioConfig  `mapstructure:"scenario"`
	Transport TransportConfig `mapstructure:"transport"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// HostConfig sizes every host the process runs.
type HostConfig struct {
	MaxChannels    int           `mapstructure:"max_channels"`
	MaxLinks       int           `mapstructure:"max_links"`
	SDUBuffers     int           `mapstructure:"sdu_buffers"`
	SDUMax         int           `mapstructure:"sdu_max"`
	MPS            int           `mapstructure:"mps"`
	HeaderReserve  int           `mapstructure:"header_reserve"`
	SegmentBuffers int           `mapstructure:"segment_buffers"`
	InitialCredits int           `mapstructure:"initial_credits"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxDeferrals   int           `mapstructure:"max_deferrals"`
}

// ScenarioConfig sizes the stress run.
type ScenarioConfig struct {
	Peers        int           `mapstructure:"peers"`
	Messages     int           `mapstructure:"messages"`
	MessageLen   int           `mapstructure:"sdu_len"`
	PSM          uint16        `mapstructure:"psm"`
	Security     int           `mapstructure:"security"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TransportConfig configures the QUIC provider and the simulated radio.
type TransportConfig struct {
	// Listen is the UDP address a QUIC peripheral binds.
	Listen string `mapstructure:"listen"`
	// Seed derives the device key; empty means a fresh key per run.
	Seed             string        `mapstructure:"seed"`
	Compress         bool          `mapstructure:"compress"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	// Peers are ADDRESS@host:port endpoints a QUIC central connects to.
	Peers []string `mapstructure:"peers"`
	// Airtime delays every frame on the simulated radio.
	Airtime time.Duration `mapstructure:"airtime"`
}

// Default returns a Config populated with the stress scenario defaults.
func Default() *Config {
	hc := coc.DefaultConfig()
	sc := stress.DefaultScenario()
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/cocstress.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Host: HostConfig{
			MaxChannels:    hc.MaxChannels,
			MaxLinks:       hc.MaxLinks,
			SDUBuffers:     hc.SDUBuffers,
			SDUMax:         hc.SDUMax,
			MPS:            hc.MPS,
			HeaderReserve:  hc.HeaderReserve,
			SegmentBuffers: hc.SegmentBuffers,
			InitialCredits: hc.InitialCredits,
			ConnectTimeout: hc.ConnectTimeout,
			MaxDeferrals:   hc.MaxDeferrals,
		},
		Scenario: ScenarioConfig{
			Peers:        sc.Peers,
			Messages:     sc.Messages,
			MessageLen:   sc.MessageLen,
			PSM:          sc.PSM,
			Security:     int(sc.Security),
			PollInterval: sc.PollInterval,
			Timeout:      2 * time.Minute,
		},
		Transport: TransportConfig{
			Listen:           "127.0.0.1:7480",
			HandshakeTimeout: 5 * time.Second,
			IdleTimeout:      10 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix COCSTRESS and `.`
// and `-` are replaced with `_`, e.g. COCSTRESS_HOST_MPS=100.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COCSTRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		if envPath := os.Getenv("COCSTRESS_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cocstress")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cocstress"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds every key so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("host.max_channels", cfg.Host.MaxChannels)
	v.SetDefault("host.max_links", cfg.Host.MaxLinks)
	v.SetDefault("host.sdu_buffers", cfg.Host.SDUBuffers)
	v.SetDefault("host.sdu_max", cfg.Host.SDUMax)
	v.SetDefault("host.mps", cfg.Host.MPS)
	v.SetDefault("host.header_reserve", cfg.Host.HeaderReserve)
	v.SetDefault("host.segment_buffers", cfg.Host.SegmentBuffers)
	v.SetDefault("host.initial_credits", cfg.Host.InitialCredits)
	v.SetDefault("host.connect_timeout", cfg.Host.ConnectTimeout)
	v.SetDefault("host.max_deferrals", cfg.Host.MaxDeferrals)

	v.SetDefault("scenario.peers", cfg.Scenario.Peers)
	v.SetDefault("scenario.messages", cfg.Scenario.Messages)
	v.SetDefault("scenario.sdu_len", cfg.Scenario.MessageLen)
	v.SetDefault("scenario.psm", cfg.Scenario.PSM)
	v.SetDefault("scenario.security", cfg.Scenario.Security)
	v.SetDefault("scenario.poll_interval", cfg.Scenario.PollInterval)
	v.SetDefault("scenario.timeout", cfg.Scenario.Timeout)

	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("transport.seed", cfg.Transport.Seed)
	v.SetDefault("transport.compress", cfg.Transport.Compress)
	v.SetDefault("transport.handshake_timeout", cfg.Transport.HandshakeTimeout)
	v.SetDefault("transport.idle_timeout", cfg.Transport.IdleTimeout)
	v.SetDefault("transport.peers", cfg.Transport.Peers)
	v.SetDefault("transport.airtime", cfg.Transport.Airtime)
}

// Validate checks c and fills derived defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if c.Scenario.Peers <= 0 {
		return fmt.Errorf("invalid scenario.peers: %d", c.Scenario.Peers)
	}
	if c.Scenario.Messages < 0 {
		return fmt.Errorf("invalid scenario.messages: %d", c.Scenario.Messages)
	}
	if c.Scenario.MessageLen < 0 || c.Scenario.MessageLen > c.Host.SDUMax {
		return fmt.Errorf("invalid scenario.sdu_len: %d (host.sdu_max %d)", c.Scenario.MessageLen, c.Host.SDUMax)
	}
	switch link.SecurityLevel(c.Scenario.Security) {
	case 0, link.SecurityL1, link.SecurityL2:
	default:
		return fmt.Errorf("invalid scenario.security: %d", c.Scenario.Security)
	}
	if c.Scenario.PSM != 0 && (c.Scenario.PSM < 0x0080 || c.Scenario.PSM > 0x00FF) {
		return fmt.Errorf("invalid scenario.psm: 0x%04x", c.Scenario.PSM)
	}
	// The central needs one link and one channel per peer.
	if c.Host.MaxLinks < c.Scenario.Peers {
		c.Host.MaxLinks = c.Scenario.Peers
	}
	if c.Host.MaxChannels < c.Scenario.Peers {
		c.Host.MaxChannels = c.Scenario.Peers
	}
	return c.HostConfig(nil).Validate()
}

// HostConfig maps the host section to a coc.Config logging to log.
func (c *Config) HostConfig(log *zap.Logger) coc.Config {
	return coc.Config{
		MaxChannels:    c.Host.MaxChannels,
		MaxLinks:       c.Host.MaxLinks,
		SDUBuffers:     c.Host.SDUBuffers,
		SDUMax:         c.Host.SDUMax,
		MPS:            c.Host.MPS,
		HeaderReserve:  c.Host.HeaderReserve,
		SegmentBuffers: c.Host.SegmentBuffers,
		InitialCredits: c.Host.InitialCredits,
		ConnectTimeout: c.Host.ConnectTimeout,
		MaxDeferrals:   c.Host.MaxDeferrals,
		Logger:         log,
	}
}

// ScenarioConfig maps the scenario section to a stress.Scenario.
func (c *Config) ScenarioConfig() stress.Scenario {
	return stress.Scenario{
		Peers:        c.Scenario.Peers,
		Messages:     c.Scenario.Messages,
		MessageLen:   c.Scenario.MessageLen,
		PSM:          c.Scenario.PSM,
		Security:     link.SecurityLevel(c.Scenario.Security),
		PollInterval: c.Scenario.PollInterval,
		Timeout:      c.Scenario.Timeout,
	}
}
