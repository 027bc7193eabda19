package tagsurgery

import (
	"testing"

	"github.com/sandertv/gophertunnel/minecraft/nbt"

	"github.com/cobblestone-tools/anviltools/region"
)

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := nbt.MarshalEncoding(v, nbt.BigEndian)
	if err != nil {
		t.Fatalf("MarshalEncoding: %v", err)
	}
	return data
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := nbt.UnmarshalEncoding(data, &m, nbt.BigEndian); err != nil {
		t.Fatalf("UnmarshalEncoding: %v", err)
	}
	return m
}

// TestStripScenario is scenario S3 from spec.md §8: strip a chunk with
// Heightmaps, isLightOn, InhabitedTime, and a sections list with light
// arrays; verify only the derived tags are removed.
func TestStripScenario(t *testing.T) {
	input := map[string]interface{}{
		"Heightmaps":    map[string]interface{}{"WORLD_SURFACE": []int64{1, 2, 3}},
		"isLightOn":     uint8(1),
		"InhabitedTime": int64(42),
		"sections": []interface{}{
			map[string]interface{}{
				"Y":            int8(0),
				"SkyLight":     []byte(make([]byte, 16)),
				"BlockLight":   []byte(make([]byte, 16)),
				"block_states": map[string]interface{}{},
			},
		},
	}

	chunk := region.Chunk{Position: region.ChunkPos{X: 1, Z: 2}, Data: encode(t, input)}
	stripped, err := Strip(chunk)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if stripped.Position != chunk.Position {
		t.Errorf("position = %v, want %v", stripped.Position, chunk.Position)
	}

	out := decode(t, stripped.Data)
	if _, ok := out["Heightmaps"]; ok {
		t.Error("Heightmaps not removed")
	}
	if _, ok := out["isLightOn"]; ok {
		t.Error("isLightOn not removed")
	}
	inhabited, ok := out["InhabitedTime"]
	if !ok {
		t.Fatal("InhabitedTime was removed")
	}
	if inhabited != int64(42) {
		t.Errorf("InhabitedTime = %v, want 42", inhabited)
	}

	sections, ok := out["sections"].([]interface{})
	if !ok || len(sections) != 1 {
		t.Fatalf("sections = %#v, want one-element list", out["sections"])
	}
	section := sections[0].(map[string]interface{})
	if _, ok := section["SkyLight"]; ok {
		t.Error("SkyLight not removed")
	}
	if _, ok := section["BlockLight"]; ok {
		t.Error("BlockLight not removed")
	}
	if _, ok := section["Y"]; !ok {
		t.Error("Y was removed")
	}
	if _, ok := section["block_states"]; !ok {
		t.Error("block_states was removed")
	}
}

// TestStripIdempotent is spec.md §8.3: stripping an already-stripped chunk
// is byte-for-byte identical to stripping it once.
func TestStripIdempotent(t *testing.T) {
	input := map[string]interface{}{
		"Heightmaps": map[string]interface{}{"WORLD_SURFACE": []int64{1}},
		"isLightOn":  uint8(1),
		"sections": []interface{}{
			map[string]interface{}{"Y": int8(0), "SkyLight": []byte{1, 2}},
		},
	}
	chunk := region.Chunk{Position: region.ChunkPos{X: 0, Z: 0}, Data: encode(t, input)}

	once, err := Strip(chunk)
	if err != nil {
		t.Fatalf("Strip (1st): %v", err)
	}
	twice, err := Strip(once)
	if err != nil {
		t.Fatalf("Strip (2nd): %v", err)
	}
	if string(once.Data) != string(twice.Data) {
		t.Error("strip is not idempotent")
	}
}

// TestStripLevelCompound covers the older world version where chunk state
// lives under a "Level" compound, per spec.md §4.1.
func TestStripLevelCompound(t *testing.T) {
	input := map[string]interface{}{
		"Level": map[string]interface{}{
			"Heightmaps":    map[string]interface{}{"WORLD_SURFACE": []int64{1}},
			"isLightOn":     uint8(1),
			"InhabitedTime": int64(7),
		},
		"DataVersion": int32(100),
	}
	chunk := region.Chunk{Position: region.ChunkPos{X: 0, Z: 0}, Data: encode(t, input)}

	stripped, err := Strip(chunk)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}

	out := decode(t, stripped.Data)
	if _, ok := out["DataVersion"]; !ok {
		t.Error("DataVersion was removed")
	}
	level, ok := out["Level"].(map[string]interface{})
	if !ok {
		t.Fatal("Level compound missing")
	}
	if _, ok := level["Heightmaps"]; ok {
		t.Error("Level.Heightmaps not removed")
	}
	if _, ok := level["isLightOn"]; ok {
		t.Error("Level.isLightOn not removed")
	}
	if _, ok := level["InhabitedTime"]; !ok {
		t.Error("Level.InhabitedTime was removed")
	}
}

// TestStripMissingNamesTolerated verifies that a chunk lacking any of the
// derived tags is returned without error, per spec.md §4.1.
func TestStripMissingNamesTolerated(t *testing.T) {
	input := map[string]interface{}{"InhabitedTime": int64(1)}
	chunk := region.Chunk{Position: region.ChunkPos{X: 0, Z: 0}, Data: encode(t, input)}

	stripped, err := Strip(chunk)
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	out := decode(t, stripped.Data)
	if out["InhabitedTime"] != int64(1) {
		t.Errorf("InhabitedTime = %v, want 1", out["InhabitedTime"])
	}
}

func TestStripMalformedTagTree(t *testing.T) {
	chunk := region.Chunk{Position: region.ChunkPos{X: 0, Z: 0}, Data: []byte{0xFF, 0xFF, 0xFF}}
	_, err := Strip(chunk)
	if err == nil {
		t.Fatal("Strip of malformed data: want error, got nil")
	}
	regErr, ok := err.(*region.Error)
	if !ok || regErr.Kind != region.KindMalformedTagTree {
		t.Errorf("err = %v, want KindMalformedTagTree", err)
	}
}
