// ============================================================================
// HEAP CONFIGURATION
// ============================================================================
//
// Every collector tunable lives on Config so tests can inject alternate
// thresholds. Defaults come from the constants package; the page size comes
// from the OS where it can be asked.
//
// JSON config files are decoded with sonnet over DefaultConfig, so a file
// only needs the fields it overrides.

package heap

import (
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"

	"gengc/constants"
	"gengc/utils"
)

// Config holds the collector's sizing policy and diagnostics switches.
type Config struct {
	Limit                             uint64 `json:"limit"`                // Soft heap limit in bytes
	SystemLimit                       uint64 `json:"system_limit"`         // Hard limit for the aborting path, 0 = unbounded
	LowMemoryThreshold                uint64 `json:"low_memory_threshold"` // Initial threshold, 0 = Limit/2
	TenureThreshold                   uint32 `json:"tenure_threshold"`
	FixieTenureThreshold              uint32 `json:"fixie_tenure_threshold"`
	InitialGen2CapacityInBytes        uint64 `json:"initial_gen2_capacity"`
	InitialTenuredFixieCeilingInBytes uint64 `json:"initial_tenured_fixie_ceiling"`
	LowMemoryPaddingInBytes           uint64 `json:"low_memory_padding"`
	LikelyPageSizeInBytes             uint32 `json:"page_size"`
	HeapMapPages                      uint32 `json:"heap_map_pages"`
	OversizedGen2Divisor              uint32 `json:"oversized_gen2_divisor"`
	Gen2GrowthFactor                  uint32 `json:"gen2_growth_factor"`

	DebugAllocation bool `json:"debug_allocation"` // Canary-bracketed, poisoned storage
	Verbose         bool `json:"verbose"`          // Per-cycle sizing and timing lines
	DebugFixies     bool `json:"debug_fixies"`     // Fixie lifecycle lines

	Recorder Recorder `json:"-"`
}

// DefaultConfig returns the stock policy for a heap of limit bytes.
func DefaultConfig(limit uint64) Config {
	return Config{
		Limit:                             limit,
		TenureThreshold:                   constants.TenureThreshold,
		FixieTenureThreshold:              constants.FixieTenureThreshold,
		InitialGen2CapacityInBytes:        constants.InitialGen2CapacityInBytes,
		InitialTenuredFixieCeilingInBytes: constants.InitialTenuredFixieCeilingInBytes,
		LowMemoryPaddingInBytes:           constants.LowMemoryPaddingInBytes,
		LikelyPageSizeInBytes:             pageSize(),
		HeapMapPages:                      constants.HeapMapPages,
		OversizedGen2Divisor:              constants.OversizedGen2Divisor,
		Gen2GrowthFactor:                  constants.Gen2GrowthFactor,
	}
}

// ParseConfig decodes JSON over DefaultConfig(0) and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig(0)
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode heap config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a JSON config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read heap config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate rejects configurations the collector cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Limit == 0:
		return fmt.Errorf("%w: limit must be non-zero", ErrInvalidConfig)
	case c.TenureThreshold == 0:
		return fmt.Errorf("%w: tenure_threshold must be non-zero", ErrInvalidConfig)
	case c.FixieTenureThreshold == 0 || c.FixieTenureThreshold >= 255:
		return fmt.Errorf("%w: fixie_tenure_threshold must be in [1, 254]", ErrInvalidConfig)
	case !utils.PowerOfTwo(c.LikelyPageSizeInBytes) || c.LikelyPageSizeInBytes < constants.BytesPerWord:
		return fmt.Errorf("%w: page_size %d is not a power of two ≥ %d", ErrInvalidConfig,
			c.LikelyPageSizeInBytes, constants.BytesPerWord)
	case !utils.PowerOfTwo(c.HeapMapPages):
		return fmt.Errorf("%w: heap_map_pages %d is not a power of two", ErrInvalidConfig, c.HeapMapPages)
	case c.OversizedGen2Divisor == 0:
		return fmt.Errorf("%w: oversized_gen2_divisor must be non-zero", ErrInvalidConfig)
	case c.Gen2GrowthFactor == 0:
		return fmt.Errorf("%w: gen2_growth_factor must be non-zero", ErrInvalidConfig)
	case c.InitialGen2CapacityInBytes/constants.BytesPerWord > 1<<31:
		return fmt.Errorf("%w: initial_gen2_capacity too large", ErrInvalidConfig)
	case c.SystemLimit != 0 && c.SystemLimit < c.Limit:
		return fmt.Errorf("%w: system_limit below limit", ErrInvalidConfig)
	}
	return nil
}

// ageBits is the width of one nursery age record: enough to hold
// TenureThreshold, rounded up to a power of two.
func (c *Config) ageBits() uint32 {
	need := max(1, utils.Log2Ceil(c.TenureThreshold+1))
	bits := uint32(1)
	for bits < need {
		bits <<= 1
	}
	return bits
}

func (c *Config) pageWords() uint32 {
	return c.LikelyPageSizeInBytes / constants.BytesPerWord
}

func (c *Config) initialGen2Words() uint32 {
	return uint32(c.InitialGen2CapacityInBytes / constants.BytesPerWord)
}
