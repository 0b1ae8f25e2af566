package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	apisrv "github.com/compose-network/builder-gate/server/api"
	"github.com/compose-network/builder-gate/x/hostchain"
	"github.com/compose-network/builder-gate/x/perms"
	permshttp "github.com/compose-network/builder-gate/x/perms/http"
	"github.com/compose-network/builder-gate/x/slot"
)

// Config holds the complete application configuration
type Config struct {
	API       apisrv.Config    `mapstructure:"api"        yaml:"api"`
	Metrics   MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
	Log       LogConfig        `mapstructure:"log"        yaml:"log"`
	Chain     ChainConfig      `mapstructure:"chain"      yaml:"chain"`
	Perms     PermsConfig      `mapstructure:"perms"      yaml:"perms"`
	Upstream  UpstreamConfig   `mapstructure:"upstream"   yaml:"upstream"`
	HostChain hostchain.Config `mapstructure:"host_chain" yaml:"host_chain"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// ChainConfig selects the slot calculator. Preset wins over ChainID, which
// wins over the explicit numeric parameters.
type ChainConfig struct {
	Preset         string `mapstructure:"preset"          yaml:"preset,omitempty"`
	ChainID        uint64 `mapstructure:"chain_id"        yaml:"chain_id,omitempty"`
	StartTimestamp uint64 `mapstructure:"start_timestamp" yaml:"start_timestamp"`
	SlotOffset     uint64 `mapstructure:"slot_offset"     yaml:"slot_offset"`
	SlotDuration   uint64 `mapstructure:"slot_duration"   yaml:"slot_duration"`
}

// PermsConfig holds the builder roster and query window.
type PermsConfig struct {
	// Builders accepts a YAML list or a comma-separated string.
	Builders         Roster `mapstructure:"builders"           yaml:"builders"`
	BlockQueryStart  int64  `mapstructure:"block_query_start"  yaml:"block_query_start"`
	BlockQueryCutoff int64  `mapstructure:"block_query_cutoff" yaml:"block_query_cutoff"`
	IdentityHeader   string `mapstructure:"identity_header"    yaml:"identity_header"`
}

// Roster is the ordered list of builder identities.
type Roster []string

// UpstreamConfig configures forwarding of permitted builder requests.
type UpstreamConfig struct {
	URL     string        `mapstructure:"url"     yaml:"url,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Load loads configuration from file and environment and validates it.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Read loads configuration from file and environment without validating it,
// so command line overrides can be applied first.
func Read(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		rosterHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fallback env alias used by the deployment charts
	if len(cfg.Perms.Builders) == 0 {
		if s := strings.TrimSpace(os.Getenv("PERMISSIONED_BUILDERS")); s != "" {
			cfg.Perms.Builders = perms.ParseBuilders(s)
		}
	}

	return &cfg, nil
}

// rosterHook decodes a comma-separated string into a Roster.
func rosterHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(Roster{}) || from.Kind() != reflect.String {
			return data, nil
		}
		return Roster(perms.ParseBuilders(data.(string))), nil
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	api := apisrv.DefaultConfig()
	v.SetDefault("api.listen_addr", api.ListenAddr)
	v.SetDefault("api.read_header_timeout", api.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", api.ReadTimeout)
	v.SetDefault("api.write_timeout", api.WriteTimeout)
	v.SetDefault("api.idle_timeout", api.IdleTimeout)
	v.SetDefault("api.max_header_bytes", api.MaxHeaderBytes)
	v.SetDefault("api.enable_cors", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("chain.preset", "")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.start_timestamp", 0)
	v.SetDefault("chain.slot_offset", 0)
	v.SetDefault("chain.slot_duration", slot.EthereumSlotDuration)

	v.SetDefault("perms.builders", "")
	v.SetDefault("perms.block_query_start", 1)
	v.SetDefault("perms.block_query_cutoff", 11)
	v.SetDefault("perms.identity_header", permshttp.DefaultIdentityHeader)

	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.timeout", "10s")

	v.SetDefault("host_chain.enabled", false)
	v.SetDefault("host_chain.rpc_endpoint", "")
	v.SetDefault("host_chain.poll_interval", hostchain.DefaultPollInterval)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validatePerms(); err != nil {
		return err
	}
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.HostChain.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateChain() error {
	_, err := c.Chain.Calculator()
	return err
}

func (c *Config) validatePerms() error {
	if len(c.Perms.Builders) == 0 {
		return fmt.Errorf("perms.builders must list at least one builder")
	}
	for i, b := range c.Perms.Builders {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("perms.builders[%d] is empty", i)
		}
	}
	return nil
}

func (c *Config) validateUpstream() error {
	if strings.TrimSpace(c.Upstream.URL) == "" {
		return nil
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must be http or https, got %q", u.Scheme)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative")
	}
	return nil
}

// Calculator resolves the slot calculator for the configured chain.
func (c ChainConfig) Calculator() (slot.Calculator, error) {
	if name := strings.TrimSpace(c.Preset); name != "" {
		return slot.Preset(name)
	}
	if c.ChainID != 0 {
		return slot.ForChainID(c.ChainID)
	}
	calc, err := slot.NewCalculator(c.StartTimestamp, c.SlotOffset, c.SlotDuration)
	if err != nil {
		return slot.Calculator{}, fmt.Errorf("chain.slot_duration: %w", err)
	}
	return calc, nil
}

// WindowConfig builds the authorization window for the configured chain.
func (c *Config) WindowConfig() (perms.WindowConfig, error) {
	calc, err := c.Chain.Calculator()
	if err != nil {
		return perms.WindowConfig{}, err
	}
	return perms.NewWindowConfig(calc, c.Perms.BlockQueryStart, c.Perms.BlockQueryCutoff), nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: apisrv.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
		Chain: ChainConfig{
			SlotDuration: slot.EthereumSlotDuration,
		},
		Perms: PermsConfig{
			BlockQueryStart:  1,
			BlockQueryCutoff: 11,
			IdentityHeader:   permshttp.DefaultIdentityHeader,
		},
		Upstream: UpstreamConfig{
			Timeout: 10 * time.Second,
		},
		HostChain: hostchain.Config{
			PollInterval: hostchain.DefaultPollInterval,
		},
	}
}
