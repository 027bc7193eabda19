// Package region implements the region file codec: the reader that decodes
// the sectored, compressed on-disk format used to store Minecraft chunks,
// the writer that allocates sectors and emits a valid region file
// incrementally, and the value types shared between them.
//
// See https://minecraft.gamepedia.com/Region_file_format.
package region

import "fmt"

const (
	// sectorSize is the fixed size, in bytes, of one allocation unit within
	// a region file.
	sectorSize = 4096

	// entriesPerAxis is the number of chunk slots along one axis of a
	// region (32x32 chunks per region).
	entriesPerAxis = 32

	// entryCount is the total number of chunk slots in a region file.
	entryCount = entriesPerAxis * entriesPerAxis

	// entryLength is the size, in bytes, of one location-table entry.
	entryLength = 4

	// headerSize is the size, in bytes, of the location table, which fills
	// sector 0 of the file.
	headerSize = entryCount * entryLength

	// headerSectors is the number of sectors occupied by the header
	// (sectors 0 and 1, 8192 bytes); the first payload sector is 2.
	headerSectors = 2

	// maxSectorCount is the largest sector count representable in the
	// 8-bit sector-count field of a location entry.
	maxSectorCount = 0xFF

	// maxSectorIndex is the largest sector index representable in the
	// 24-bit sector-index field of a location entry.
	maxSectorIndex = 0xFFFFFF
)

// CompressionMode identifies how a chunk's payload is compressed within its
// sector range. See §3 of the region file format: the fifth byte of a
// chunk's sector range is one of these values.
type CompressionMode uint8

const (
	// CompressionGZip indicates the payload is gzip-compressed.
	CompressionGZip CompressionMode = 1
	// CompressionZlib indicates the payload is zlib-compressed.
	CompressionZlib CompressionMode = 2
	// CompressionNone indicates the payload is stored uncompressed.
	CompressionNone CompressionMode = 3
)

// ChunkPos is the position of a chunk, either within its region (x, z in
// [0,32)) or, for collaborators using ParseName, in absolute
// world-chunk coordinates.
type ChunkPos struct {
	X, Z int32
}

func (p ChunkPos) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Z)
}

// slotIndex returns the row-major index of this position's wrapped slot
// within a region (x, z reduced modulo 32), matching spec.md's
// "index = z*32 + x" and the writer's "mod 32" reduction.
func (p ChunkPos) slotIndex() int {
	x := wrapAxis(p.X)
	z := wrapAxis(p.Z)
	return int(z)*entriesPerAxis + int(x)
}

// wrapAxis reduces a coordinate into [0, 32) using truncated remainder,
// matching the source behavior described in spec.md §9: negative
// coordinates are not rejected, only wrapped so the writer cannot panic.
func wrapAxis(v int32) int32 {
	v %= entriesPerAxis
	if v < 0 {
		v += entriesPerAxis
	}
	return v
}

// Chunk is a decoded chunk: its position and the decompressed bytes of its
// serialized tag tree.
type Chunk struct {
	Position ChunkPos
	Data     []byte
}

// WithData returns a copy of c with its payload replaced, keeping the same
// position. Used by tag surgery to produce a rewritten chunk without
// mutating the original.
func (c Chunk) WithData(data []byte) Chunk {
	return Chunk{Position: c.Position, Data: data}
}

// RegionEntry is a decoded location-table entry: the sector range occupied
// by one chunk's payload.
type RegionEntry struct {
	Position    ChunkPos
	SectorIndex uint32 // 24-bit effective
	SectorCount uint32 // 8-bit effective
}

// encodeEntry packs a sector index and sector count into the big-endian
// 32-bit field stored in a region file's location table: upper 24 bits are
// the sector index, lower 8 bits are the sector count.
func encodeEntry(sectorIndex, sectorCount uint32) uint32 {
	return (sectorIndex << 8) | (sectorCount & maxSectorCount)
}

// decodeEntry unpacks a location-table field into its sector index and
// sector count.
func decodeEntry(field uint32) (sectorIndex, sectorCount uint32) {
	return (field >> 8) & maxSectorIndex, field & maxSectorCount
}
