package sstriping

import (
	"exanodes.dev/vrt/units"
	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheKey identifies a (zone, UE-within-the-zone) pair.
type cacheKey struct {
	zone *Zone
	ue   uint64
}

type cacheValue struct {
	extent     ExtentIndex
	ueInExtent uint64
}

// TranslateCache memoizes the extent-lookup portion of Translate. It is
// a pure performance aid: Translate is correct whether or not a cache is
// attached, so tests exercise both paths. The cache must be invalidated
// (Invalidate) whenever a zone's Plages slice changes, i.e. on resize.
type TranslateCache struct {
	cache *lru.Cache[cacheKey, cacheValue]
}

// NewTranslateCache creates a cache holding up to size entries. size <=
// 0 disables caching (lookups always miss).
func NewTranslateCache(size int) *TranslateCache {
	if size <= 0 {
		return &TranslateCache{}
	}
	c, _ := lru.New[cacheKey, cacheValue](size)
	return &TranslateCache{cache: c}
}

// Invalidate drops every cached entry for z. The cache's user calls it
// after any mutation of z.Plages (resize); Table.Resize does not call it.
func (c *TranslateCache) Invalidate(z *Zone) {
	if c == nil || c.cache == nil {
		return
	}
	for _, k := range c.cache.Keys() {
		if k.zone == z {
			c.cache.Remove(k)
		}
	}
}

// TranslateCached behaves like Table.Translate but consults cache first
// for the extent lookup, falling back to the linear locate() scan on a
// miss and populating the cache with the result.
func (t *Table) TranslateCached(cache *TranslateCache, z *Zone, zs uint64) (PhysicalLocation, error) {
	if cache == nil {
		return t.Translate(z, zs)
	}

	ueInZone := zs / units.SectorsPerUE
	offsetInUE := zs % units.SectorsPerUE

	var idx ExtentIndex
	var ueInExtent uint64

	if cache.cache != nil {
		if v, ok := cache.cache.Get(cacheKey{zone: z, ue: ueInZone}); ok {
			idx, ueInExtent = v.extent, v.ueInExtent
		} else {
			var err error
			idx, ueInExtent, err = t.locate(z, ueInZone)
			if err != nil {
				return PhysicalLocation{}, err
			}
			cache.cache.Add(cacheKey{zone: z, ue: ueInZone}, cacheValue{idx, ueInExtent})
		}
	} else {
		var err error
		idx, ueInExtent, err = t.locate(z, ueInZone)
		if err != nil {
			return PhysicalLocation{}, err
		}
	}

	e := t.Extents[idx]
	col := ueInExtent % uint64(e.Width)
	rowOffset := ueInExtent / uint64(e.Width)
	ueInRdev := e.StripeStart + rowOffset

	slot := RdevSlot(len(t.SortedDevs) - int(e.Width) + int(col))

	return PhysicalLocation{
		Rdev:   slot,
		Sector: ueInRdev*units.SectorsPerUE + offsetInUE,
	}, nil
}
