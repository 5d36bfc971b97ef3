package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Limits maps channel-name prefixes to the memory-ring capacity new
// storages for matching channels should get. An exact configured prefix
// match wins; everything else gets Default (§4.10).
type Limits struct {
	Default  uint64
	prefixes map[string]uint64
}

// NewLimits validates prefixes (none may be a prefix of another — that
// would make the match ambiguous) and returns a Limits using def for
// unmatched channel names.
func NewLimits(def uint64, prefixes map[string]uint64) (*Limits, error) {
	keys := make([]string, 0, len(prefixes))
	for k := range prefixes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i := range keys {
		for j := range keys {
			if i == j {
				continue
			}
			if strings.HasPrefix(keys[j], keys[i]) {
				return nil, fmt.Errorf("registry: limit prefix %q overlaps with %q", keys[i], keys[j])
			}
		}
	}

	cp := make(map[string]uint64, len(prefixes))
	for k, v := range prefixes {
		cp[k] = v
	}

	return &Limits{Default: def, prefixes: cp}, nil
}

// Capacity returns the configured capacity for name: the matching
// prefix's limit, or Default if none match.
func (l *Limits) Capacity(name string) uint64 {
	for prefix, cap := range l.prefixes {
		if strings.HasPrefix(name, prefix) {
			return cap
		}
	}
	return l.Default
}
