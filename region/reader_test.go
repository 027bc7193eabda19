package region

import (
	"encoding/binary"
	"os"
	"testing"
)

// TestCorruptCompressionTag is scenario S4 from spec.md §8: a region file
// with an invalid compression tag (9) in slot (0,0) yields a Corrupt error
// at that slot while every subsequent populated slot decodes normally.
func TestCorruptCompressionTag(t *testing.T) {
	path := tempRegionPath(t)
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AddChunk(Chunk{Position: ChunkPos{X: 0, Z: 0}, Data: []byte("corrupt me")}); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if err := w.AddChunk(Chunk{Position: ChunkPos{X: 1, Z: 0}, Data: []byte("still valid")}); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt the compression byte of slot (0,0)'s payload in place.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	header := make([]byte, entryLength)
	if _, err := f.ReadAt(header, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	sectorIndex, _ := decodeEntry(binary.BigEndian.Uint32(header))
	compressionOffset := int64(sectorIndex)*sectorSize + 4
	if _, err := f.WriteAt([]byte{9}, compressionOffset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	it := r.StreamChunks()
	index := 0
	sawCorrupt := false
	sawValid := false
	for {
		result, ok := it.Next()
		if !ok {
			break
		}
		if result.Present {
			switch index {
			case 0:
				if result.Err == nil {
					t.Error("slot 0: want error, got nil")
				} else {
					regErr, ok := result.Err.(*Error)
					if !ok || regErr.Kind != KindCorrupt {
						t.Errorf("slot 0: err = %v, want KindCorrupt", result.Err)
					}
				}
				sawCorrupt = true
			case 1:
				if result.Err != nil {
					t.Errorf("slot 1: unexpected error: %v", result.Err)
				}
				sawValid = true
			}
		}
		index++
	}
	if !sawCorrupt || !sawValid {
		t.Fatalf("sawCorrupt=%v sawValid=%v", sawCorrupt, sawValid)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	path := tempRegionPath(t)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	it := r.StreamChunks()
	count := 0
	for {
		result, ok := it.Next()
		if !ok {
			break
		}
		count++
		if result.Present {
			t.Errorf("slot %d: present in empty file", count-1)
		}
	}
	if count != entryCount {
		t.Errorf("stream length = %d, want %d", count, entryCount)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/path/r.0.0.mca"); err == nil {
		t.Error("Open of missing file: want error, got nil")
	}
}

// TestParseName is scenario S5: parse_name("r.-3.4.mca") == ChunkPos{x: -3, z: 4}.
func TestParseName(t *testing.T) {
	pos, err := ParseName("r.-3.4.mca")
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if pos != (ChunkPos{X: -3, Z: 4}) {
		t.Errorf("ParseName = %v, want (-3, 4)", pos)
	}
}

func TestParseNameChunkEntry(t *testing.T) {
	pos, err := ParseName("c.12.-8.nbt")
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	if pos != (ChunkPos{X: 12, Z: -8}) {
		t.Errorf("ParseName = %v, want (12, -8)", pos)
	}
}

func TestParseNameInvalid(t *testing.T) {
	if _, err := ParseName("not-a-valid-name"); err == nil {
		t.Error("ParseName of invalid name: want error, got nil")
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(ChunkPos{X: -3, Z: 4}); got != "r.-3.4.mca" {
		t.Errorf("FileName = %q, want %q", got, "r.-3.4.mca")
	}
}
