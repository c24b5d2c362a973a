package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks the loaded node configuration.
func (cfg *Config) Validate() error {
	if _, _, err := net.SplitHostPort(cfg.RPCAddress); err != nil {
		return fmt.Errorf("config: RPCAddress %q: %w", cfg.RPCAddress, err)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", cfg.LogLevel)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("config: RateLimit must not be negative")
	}
	for name, raw := range map[string]string{
		"Exchange":    cfg.Addresses.Exchange,
		"Factory":     cfg.Addresses.Factory,
		"Coordinator": cfg.Addresses.Coordinator,
	} {
		if raw != "" && !common.IsHexAddress(raw) {
			return fmt.Errorf("config: Addresses.%s %q is not a hex address", name, raw)
		}
	}
	return nil
}

// EngineAddress returns the configured address or fallback when unset.
func EngineAddress(raw string, fallback common.Address) common.Address {
	if raw == "" {
		return fallback
	}
	return common.HexToAddress(raw)
}
