package heap

import (
	"fmt"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// CollectionRecord summarises one finished collection. Sizes ending in
// Words are heap words, everything else is bytes.
type CollectionRecord struct {
	Sequence           uint64         `json:"sequence"`
	Requested          CollectionType `json:"requested"`
	Mode               CollectionType `json:"mode"`
	Reason             string         `json:"reason,omitempty"` // Why a minor request became major
	Gen1PositionWords  uint32         `json:"gen1_position_words"`
	Gen1CapacityWords  uint32         `json:"gen1_capacity_words"`
	Gen2PositionWords  uint32         `json:"gen2_position_words"`
	Gen2CapacityWords  uint32         `json:"gen2_capacity_words"`
	MinimumNextGen1    uint32         `json:"minimum_next_gen1_words"`
	TenureFootprint    uint32         `json:"tenure_footprint_words"`
	ObjectsCopied      uint64         `json:"objects_copied"`
	ObjectsPromoted    uint64         `json:"objects_promoted"`
	UntenuredFixies    uint64         `json:"untenured_fixie_bytes"`
	TenuredFixies      uint64         `json:"tenured_fixie_bytes"`
	FixieCeiling       uint64         `json:"fixie_ceiling_bytes"`
	BytesInUse         uint64         `json:"bytes_in_use"`
	LowMemoryThreshold uint64         `json:"low_memory_threshold"`
	Duration           time.Duration  `json:"duration_ns"`
}

// Stats is a point-in-time view of the heap.
type Stats struct {
	Collections        uint64        `json:"collections"`
	MinorCollections   uint64        `json:"minor_collections"`
	MajorCollections   uint64        `json:"major_collections"`
	Escalations        uint64        `json:"escalations"`
	ObjectsCopied      uint64        `json:"objects_copied"`
	ObjectsPromoted    uint64        `json:"objects_promoted"`
	BytesInUse         uint64        `json:"bytes_in_use"`
	Limit              uint64        `json:"limit"`
	LowMemoryThreshold uint64        `json:"low_memory_threshold"`
	Gen1PositionWords  uint32        `json:"gen1_position_words"`
	Gen1CapacityWords  uint32        `json:"gen1_capacity_words"`
	Gen2PositionWords  uint32        `json:"gen2_position_words"`
	Gen2CapacityWords  uint32        `json:"gen2_capacity_words"`
	UntenuredFixies    uint64        `json:"untenured_fixie_bytes"`
	TenuredFixies      uint64        `json:"tenured_fixie_bytes"`
	LiveFixies         int           `json:"live_fixies"`
	LiveRegions        int           `json:"live_regions"`
	TotalPause         time.Duration `json:"total_pause_ns"`
	LastPause          time.Duration `json:"last_pause_ns"`
	TotalRun           time.Duration `json:"total_run_ns"`
}

// MarshalJSON renders a collection type by name.
func (t CollectionType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts "minor" or "major".
func (t *CollectionType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"major"`:
		*t = MajorCollection
	case `"minor"`:
		*t = MinorCollection
	default:
		return fmt.Errorf("heap: unknown collection type %s", data)
	}
	return nil
}

// snapshot fills the occupancy half of s from the live context.
func (c *Context) snapshot() Stats {
	s := c.stats
	s.BytesInUse = c.bytesInUse()
	s.Limit = c.limit
	s.LowMemoryThreshold = c.lowMemoryThreshold
	s.Gen1PositionWords = c.gen1.Position()
	s.Gen1CapacityWords = c.gen1.Capacity()
	s.Gen2PositionWords = c.gen2.Position()
	s.Gen2CapacityWords = c.gen2.Capacity()
	s.UntenuredFixies = c.untenuredFixieFootprint
	s.TenuredFixies = c.tenuredFixieFootprint
	s.LiveFixies = c.fixies.live
	s.LiveRegions = c.space.Live()
	return s
}

// marshalStats encodes s with sonnet.
func marshalStats(s Stats) ([]byte, error) {
	return sonnet.Marshal(s)
}
