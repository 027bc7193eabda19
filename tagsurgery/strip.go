// Package tagsurgery implements chunk-level tag tree mutation: removing
// derived, regenerable subtrees from a chunk's decoded NBT data.
package tagsurgery

import (
	"bytes"

	"github.com/sandertv/gophertunnel/minecraft/nbt"

	"github.com/cobblestone-tools/anviltools/region"
)

// derivedTopLevelTags are the names removed from the chunk's top-level
// compound (or its "Level" compound, for the older world format), per
// spec.md §4.1.
var derivedTopLevelTags = []string{"Heightmaps", "isLightOn"}

// derivedSectionTags are the names removed from each element of a
// "sections" list, per spec.md §4.1.
var derivedSectionTags = []string{"SkyLight", "BlockLight"}

// Strip returns a new Chunk with the same position and a freshly
// serialized payload in which Heightmaps, isLightOn, and per-section
// SkyLight/BlockLight have been removed, per spec.md §4.1. If the decoded
// root is not a compound, chunk is returned unchanged. Missing names are
// silently tolerated.
func Strip(chunk region.Chunk) (region.Chunk, error) {
	var root interface{}
	if err := nbt.UnmarshalEncoding(chunk.Data, &root, nbt.BigEndian); err != nil {
		return region.Chunk{}, &region.Error{Kind: region.KindMalformedTagTree, Op: "strip", Err: err}
	}

	compound, ok := root.(map[string]interface{})
	if !ok {
		return chunk, nil
	}

	target := compound
	if level, ok := compound["Level"].(map[string]interface{}); ok {
		target = level
	}

	for _, name := range derivedTopLevelTags {
		delete(target, name)
	}
	stripSections(target)

	var buf bytes.Buffer
	enc := nbt.NewEncoderWithEncoding(&buf, nbt.BigEndian)
	if err := enc.Encode(root); err != nil {
		return region.Chunk{}, &region.Error{Kind: region.KindSerializationFailed, Op: "strip", Err: err}
	}

	return chunk.WithData(buf.Bytes()), nil
}

// stripSections removes derivedSectionTags from each compound element of
// target's "sections" list, if one exists and its elements are compounds.
func stripSections(target map[string]interface{}) {
	sections, ok := target["sections"].([]interface{})
	if !ok {
		return
	}
	for _, elem := range sections {
		section, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		for _, name := range derivedSectionTags {
			delete(section, name)
		}
	}
}
