package region

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// RegionFile is a read-only, memory-mapped view of a region file. It is
// immutable after construction and may be shared for concurrent read-only
// decoding, per spec.md §5.
type RegionFile struct {
	file *os.File
	m    mmap.MMap
}

// Open memory-maps the region file at path for reading. Empty files are
// accepted; their chunk stream is empty. A file shorter than the 8192-byte
// header is accepted with all-absent entries for its truncated portion of
// the header, per spec.md §4.2 (a production implementation should instead
// reject such a file as Corrupt).
func Open(path string) (*RegionFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(KindIO, "open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newError(KindIO, "open", err)
	}

	if info.Size() == 0 {
		return &RegionFile{file: f, m: nil}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, newError(KindIO, "open", err)
	}

	return &RegionFile{file: f, m: m}, nil
}

// Close releases the memory map and the underlying file handle.
func (r *RegionFile) Close() error {
	var err error
	if r.m != nil {
		err = r.m.Unmap()
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ChunkResult is one element of a chunk stream: at most one of Chunk and
// Err is meaningful, and Present distinguishes an absent slot (both zero)
// from a present chunk.
type ChunkResult struct {
	Present bool
	Chunk   Chunk
	Err     error
}

// ChunkIterator is a finite (length exactly 1024), non-restartable,
// independently-fallible sequence over every slot of a region, in row-major
// order. It does not buffer decoded chunks ahead of the caller.
type ChunkIterator struct {
	region *RegionFile
	index  int
}

// StreamChunks returns a fresh iterator over every slot of r, in row-major
// order (index = z*32 + x).
func (r *RegionFile) StreamChunks() *ChunkIterator {
	return &ChunkIterator{region: r, index: 0}
}

// ChunkCount returns the number of present slots in r, without decoding any
// chunk payload. Collaborators such as the archive container use this to
// size a region's chunk-count header field up front.
func (r *RegionFile) ChunkCount() int {
	if r.m == nil {
		return 0
	}
	count := 0
	limit := len(r.m)
	if limit > headerSize {
		limit = headerSize
	}
	for offset := 0; offset+entryLength <= limit; offset += entryLength {
		if binary.BigEndian.Uint32(r.m[offset:offset+entryLength]) != 0 {
			count++
		}
	}
	return count
}

// Next advances the iterator and returns the next slot's result, or false
// once all 1024 slots have been produced.
func (it *ChunkIterator) Next() (ChunkResult, bool) {
	if it.index >= entryCount {
		return ChunkResult{}, false
	}
	result := it.region.chunkAtIndex(it.index)
	it.index++
	return result, true
}

// chunkAtIndex decodes the slot at the given row-major index.
func (r *RegionFile) chunkAtIndex(index int) ChunkResult {
	entry, ok, err := r.readEntry(index)
	if err != nil {
		return ChunkResult{Present: true, Err: err}
	}
	if !ok {
		return ChunkResult{Present: false}
	}

	chunk, err := r.readChunk(entry)
	if err != nil {
		return ChunkResult{Present: true, Err: err}
	}
	return ChunkResult{Present: true, Chunk: chunk}
}

// readEntry reads and decodes the location-table entry for the given slot
// index, per spec.md §4.2 ("entry decode").
func (r *RegionFile) readEntry(index int) (RegionEntry, bool, error) {
	offset := index * entryLength
	if r.m == nil || offset+entryLength > len(r.m) {
		// A truncated or empty file: treat as absent, per spec.md §4.2.
		return RegionEntry{}, false, nil
	}

	field := binary.BigEndian.Uint32(r.m[offset : offset+entryLength])
	if field == 0 {
		return RegionEntry{}, false, nil
	}

	sectorIndex, sectorCount := decodeEntry(field)
	pos := ChunkPos{X: int32(index % entriesPerAxis), Z: int32(index / entriesPerAxis)}
	return RegionEntry{Position: pos, SectorIndex: sectorIndex, SectorCount: sectorCount}, true, nil
}

// readChunk reads and decompresses the payload for a present entry, per
// spec.md §4.2 ("payload decode").
func (r *RegionFile) readChunk(entry RegionEntry) (Chunk, error) {
	start := int(entry.SectorIndex) * sectorSize
	end := int(entry.SectorIndex+entry.SectorCount) * sectorSize
	if start < 0 || end > len(r.m) || start > end {
		return Chunk{}, newError(KindCorrupt, "read chunk", io.ErrUnexpectedEOF)
	}

	sector := r.m[start:end]
	if len(sector) < 4 {
		return Chunk{}, newError(KindCorrupt, "read chunk", io.ErrUnexpectedEOF)
	}

	exactLength := binary.BigEndian.Uint32(sector[0:4])
	if int(exactLength) < 1 || 4+int(exactLength) > len(sector) {
		return Chunk{}, newError(KindCorrupt, "read chunk", io.ErrUnexpectedEOF)
	}

	compression := CompressionMode(sector[4])
	compressed := sector[5 : 4+int(exactLength)]

	data, err := decompress(compression, compressed)
	if err != nil {
		return Chunk{}, err
	}

	return Chunk{Position: entry.Position, Data: data}, nil
}

// decompress decodes a chunk payload according to its compression tag, per
// spec.md §4.2: 1 = gzip, 2 = zlib, 3 = uncompressed. Any other value is
// Corrupt.
func decompress(mode CompressionMode, compressed []byte) ([]byte, error) {
	switch mode {
	case CompressionGZip:
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, newError(KindDecompressionFailed, "gzip", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, newError(KindDecompressionFailed, "gzip", err)
		}
		return data, nil
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, newError(KindDecompressionFailed, "zlib", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, newError(KindDecompressionFailed, "zlib", err)
		}
		return data, nil
	case CompressionNone:
		data := make([]byte, len(compressed))
		copy(data, compressed)
		return data, nil
	default:
		return nil, newError(KindCorrupt, "decompress", nil)
	}
}
