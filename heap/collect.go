// ============================================================================
// COLLECTION CYCLE
// ============================================================================
//
// One collection runs to completion on the calling thread:
//
//	Deciding  → escalate minor to major on low memory, oversized or
//	            undersized gen2, or an exceeded fixie ceiling
//	Sizing    → smooth the low-memory threshold, build the next segments
//	Tracing   → (minor) card scan and dirty fixies, then every root
//	Swapping  → next segments replace the current ones
//	Sweeping  → free unreached fixies, age and tenure reached ones
//
// Major is a superset of minor: it also sizes, traces and swaps gen2.

package heap

import (
	"time"

	"gengc/constants"
	"gengc/debug"
	"gengc/memory"
	"gengc/utils"
)

// collect2 traces everything reachable into the next segments.
func (c *Context) collect2() {
	c.gen2Base = top
	c.tenureFootprint = 0
	c.fixieTenureFootprint = 0
	c.gen1Padding = 0
	c.tenurePadding = 0
	if c.mode == MajorCollection {
		c.gen2Padding = 0
	}

	c.forward.Reset()
	c.stack = c.stack[:0]

	if c.mode == MinorCollection {
		if end := c.gen2.Position(); end != 0 {
			c.collectMap(c.heapMap, 0, end)
		}
		c.visitDirtyFixies()
		c.visitMarkedFixies()
	}

	c.client.VisitRoots(func(slot *memory.Address) {
		c.collect(slot, memory.Null, memory.Null, 0)
		c.visitMarkedFixies()
	})
	c.visitMarkedFixies()
}

// collectCycle runs one full collection and returns its record.
func (c *Context) collectCycle(requested CollectionType, incoming uint32) CollectionRecord {
	debug.Assert(c.client != nil, "collection without a client")

	c.mode = requested
	c.incomingFootprint = incoming

	reason := c.escalation()
	if reason != "" {
		if c.mode == MinorCollection {
			c.stats.Escalations++
		}
		c.mode = MajorCollection
	}

	then := time.Now()
	if c.cfg.Verbose {
		line := c.mode.String() + " collection"
		if reason != "" {
			line = reason + " causes " + line
		}
		debug.DropMessage("GC", line)
	}

	c.adjustLowMemoryThreshold()

	record := CollectionRecord{
		Sequence:        c.stats.Collections + 1,
		Requested:       requested,
		Mode:            c.mode,
		Reason:          reason,
		MinimumNextGen1: c.minimumNextGen1Capacity(),
	}

	c.copied, c.promoted = 0, 0

	c.initNextGen1()
	if c.mode == MajorCollection {
		c.initNextGen2()
	}

	debug.Assert(c.nextGen1.Capacity() >= record.MinimumNextGen1, "next nursery below its minimum")

	c.collect2()

	c.gen1.ReplaceWith(c.nextGen1)
	if c.mode == MajorCollection {
		c.gen2.ReplaceWith(c.nextGen2)
	}

	c.sweepFixies()

	now := time.Now()
	pause := now.Sub(then)
	run := then.Sub(c.lastCollection)
	c.lastCollection = now

	c.stats.Collections++
	if c.mode == MajorCollection {
		c.stats.MajorCollections++
	} else {
		c.stats.MinorCollections++
	}
	c.stats.ObjectsCopied += c.copied
	c.stats.ObjectsPromoted += c.promoted
	c.stats.TotalPause += pause
	c.stats.LastPause = pause
	c.stats.TotalRun += run

	record.Gen1PositionWords = c.gen1.Position()
	record.Gen1CapacityWords = c.gen1.Capacity()
	record.Gen2PositionWords = c.gen2.Position()
	record.Gen2CapacityWords = c.gen2.Capacity()
	record.TenureFootprint = c.tenureFootprint
	record.ObjectsCopied = c.copied
	record.ObjectsPromoted = c.promoted
	record.UntenuredFixies = c.untenuredFixieFootprint
	record.TenuredFixies = c.tenuredFixieFootprint
	record.FixieCeiling = c.tenuredFixieCeiling
	record.BytesInUse = c.bytesInUse()
	record.LowMemoryThreshold = c.lowMemoryThreshold
	record.Duration = pause

	if c.cfg.Verbose {
		c.logCycle(pause, run)
	}
	return record
}

func (c *Context) logCycle(pause, run time.Duration) {
	ms := func(d time.Duration) string { return utils.Itoa(int(d.Milliseconds())) + "ms" }
	bytes := func(words uint32) string { return utils.Utoa(uint64(words) * constants.BytesPerWord) }

	debug.DropMessage("GC", " - collect: "+ms(pause)+"; total: "+ms(c.stats.TotalPause)+
		"; run: "+ms(run)+"; total: "+ms(c.stats.TotalRun))
	debug.DropMessage("GC", " -             gen1: "+bytes(c.gen1.Position())+"/"+bytes(c.gen1.Capacity())+" bytes")
	debug.DropMessage("GC", " -             gen2: "+bytes(c.gen2.Position())+"/"+bytes(c.gen2.Capacity())+" bytes")
	debug.DropMessage("GC", " - untenured fixies: "+utils.Utoa(c.untenuredFixieFootprint)+" bytes")
	debug.DropMessage("GC", " -   tenured fixies: "+utils.Utoa(c.tenuredFixieFootprint)+" bytes")
}
