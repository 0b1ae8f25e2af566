package hostchain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPollInterval matches the host chain block time.
const DefaultPollInterval = 12 * time.Second

// Config configures the host chain head watcher.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"       yaml:"enabled"`
	RPCEndpoint  string        `mapstructure:"rpc_endpoint"  yaml:"rpc_endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Validate checks the watcher parameters when enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.RPCEndpoint) == "" {
		return fmt.Errorf("host_chain.rpc_endpoint is required when host_chain.enabled is true")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("host_chain.poll_interval must not be negative")
	}
	return nil
}
