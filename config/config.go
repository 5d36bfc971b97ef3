// Package config loads the registry's per-channel-prefix size limits from
// a JSONC file, standardizing it with hujson and then decoding it with
// encoding/json.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/diskqueue/internal/registry"
)

// Limits is the on-disk shape of a limits file:
//
//	{
//	  "default_capacity": 4194304,
//	  "prefixes": {
//	    "metrics.": 1048576,
//	    "audit.": 67108864
//	  }
//	}
type Limits struct {
	DefaultCapacity uint64            `json:"default_capacity"`
	Prefixes        map[string]uint64 `json:"prefixes,omitempty"`
}

// DefaultLimits returns the limits used when no config file is present.
func DefaultLimits() Limits {
	return Limits{DefaultCapacity: 4 << 20}
}

// Load reads and parses the JSONC limits file at path, returning a
// ready-to-use [registry.Limits]. A missing file is not an error; it
// yields [DefaultLimits].
func Load(path string) (*registry.Limits, error) {
	raw := DefaultLimits()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		parsed, parseErr := parse(data)
		if parseErr != nil {
			return nil, fmt.Errorf("config: %s: %w", path, parseErr)
		}
		raw = parsed
	case os.IsNotExist(err):
		// fall through with defaults
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	limits, err := registry.NewLimits(raw.DefaultCapacity, raw.Prefixes)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return limits, nil
}

func parse(data []byte) (Limits, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Limits{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	cfg := DefaultLimits()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Limits{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}
