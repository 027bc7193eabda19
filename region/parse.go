package region

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseName extracts the world coordinates encoded in a region (or chunk)
// file name of the form "<prefix>.<x>.<z>.<ext>" — e.g. "r.-3.4.mca" or
// "c.5.7.nbt". The coordinates are not stored inside the file itself; this
// belongs with the codec only because the codec is the natural place for
// collaborators to find it, per spec.md §4.2/§6.
func ParseName(name string) (ChunkPos, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return ChunkPos{}, fmt.Errorf("region: parse name %q: expected at least 3 dot-separated fields", name)
	}
	x, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return ChunkPos{}, fmt.Errorf("region: parse name %q: invalid x-coordinate: %w", name, err)
	}
	z, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return ChunkPos{}, fmt.Errorf("region: parse name %q: invalid z-coordinate: %w", name, err)
	}
	return ChunkPos{X: int32(x), Z: int32(z)}, nil
}

// FileName formats the canonical region file name for the given region
// position. The canonical prefix is "r."; spec.md §9 notes an "f." variant
// appears in the source but is an unintended one, so it is not reproduced
// here.
func FileName(pos ChunkPos) string {
	return fmt.Sprintf("r.%d.%d.mca", pos.X, pos.Z)
}
