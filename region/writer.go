package region

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/klauspost/compress/zlib"
)

// initialCapacity is the file length a freshly-created region file is
// grown to: just the two header sectors.
const initialCapacity = headerSectors * sectorSize

// RegionFileWriter creates a region file and accepts chunks in any order,
// assigning each an aligned sector range. It is exclusive: AddChunk mutates
// shared state and must be serialized by the caller, per spec.md §5.
type RegionFileWriter struct {
	file        *os.File
	header      mmap.MMap
	usedSectors int
	capacity    int
	closed      bool
}

// Create opens or truncates the region file at path, grows it to the
// 8192-byte header, and memory-maps that header mutably. Any pre-existing
// content at path is discarded.
func Create(path string) (*RegionFileWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, newError(KindIO, "create", err)
	}

	if err := f.Truncate(initialCapacity); err != nil {
		f.Close()
		return nil, newError(KindIO, "create", err)
	}

	header, err := mmap.MapRegion(f, initialCapacity, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, newError(KindIO, "create", err)
	}

	return &RegionFileWriter{
		file:        f,
		header:      header,
		usedSectors: headerSectors,
		capacity:    initialCapacity,
	}, nil
}

// AddChunk compresses, frames, and appends chunk to the file, assigning it
// the next available sector range and updating its location-table entry to
// point there. Double-writing the same slot is permitted: it simply
// appends new sectors and updates the entry to point at them, orphaning
// the old sectors (spec.md §4.3).
func (w *RegionFileWriter) AddChunk(chunk Chunk) error {
	if w.closed {
		return newError(KindIO, "add chunk", fmt.Errorf("writer is closed"))
	}

	framed, err := frameChunk(chunk.Data)
	if err != nil {
		return err
	}

	sectorCount := (len(framed) + sectorSize - 1) / sectorSize
	if sectorCount > maxSectorCount {
		return newError(KindCorrupt, "add chunk", fmt.Errorf("chunk requires %d sectors, exceeds %d", sectorCount, maxSectorCount))
	}
	sectorIndex := w.usedSectors

	if err := w.writeData(sectorIndex, framed); err != nil {
		return err
	}
	if err := w.writeEntry(chunk.Position, sectorIndex, sectorCount); err != nil {
		return err
	}

	w.usedSectors += sectorCount
	return nil
}

// frameChunk compresses data with zlib at the highest-ratio setting and
// builds the on-sector framing: a 4-byte big-endian length (counting the
// compression byte) followed by the compression byte and the compressed
// bytes. The writer always emits compression tag 2 (zlib), per spec.md
// §4.3 step 1, regardless of the source chunk's original compression.
func frameChunk(data []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, zlib.BestCompression)
	if err != nil {
		return nil, newError(KindIO, "frame chunk", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, newError(KindIO, "frame chunk", err)
	}
	if err := zw.Close(); err != nil {
		return nil, newError(KindIO, "frame chunk", err)
	}

	exactLength := uint32(1 + compressed.Len())
	framed := make([]byte, 4+1+compressed.Len())
	binary.BigEndian.PutUint32(framed[0:4], exactLength)
	framed[4] = byte(CompressionZlib)
	copy(framed[5:], compressed.Bytes())
	return framed, nil
}

// writeData grows the file if necessary and writes framed at the start of
// sectorIndex.
func (w *RegionFileWriter) writeData(sectorIndex int, framed []byte) error {
	sectorCount := (len(framed) + sectorSize - 1) / sectorSize
	required := (sectorIndex + sectorCount) * sectorSize

	if required > w.capacity {
		if err := w.file.Truncate(int64(required)); err != nil {
			return newError(KindIO, "add chunk", err)
		}
		w.capacity = required
	}

	if _, err := w.file.WriteAt(framed, int64(sectorIndex)*sectorSize); err != nil {
		return newError(KindIO, "add chunk", err)
	}
	return nil
}

// writeEntry updates the location-table entry for pos in the mutable
// header map. The slot index uses truncated-remainder reduction of pos
// into [0,32) on each axis (spec.md §4.3 step 6), so out-of-range inputs
// cannot index past the header.
func (w *RegionFileWriter) writeEntry(pos ChunkPos, sectorIndex, sectorCount int) error {
	index := pos.slotIndex()
	offset := index * entryLength
	if offset+entryLength > len(w.header) {
		return newError(KindCorrupt, "add chunk", fmt.Errorf("slot index %d out of range", index))
	}

	field := encodeEntry(uint32(sectorIndex), uint32(sectorCount))
	binary.BigEndian.PutUint32(w.header[offset:offset+entryLength], field)
	return nil
}

// Close flushes the header map and the file. This is the only point at
// which the header becomes durable; readers opening the file before Close
// may observe a zero header. Close is idempotent: calling it more than
// once is a no-op after the first call.
func (w *RegionFileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.header != nil {
		if ferr := w.header.Flush(); ferr != nil {
			err = newError(KindIO, "close", ferr)
		}
		if uerr := w.header.Unmap(); uerr != nil && err == nil {
			err = newError(KindIO, "close", uerr)
		}
	}
	if serr := w.file.Sync(); serr != nil && err == nil {
		err = newError(KindIO, "close", serr)
	}
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = newError(KindIO, "close", cerr)
	}
	return err
}
