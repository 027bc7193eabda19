package archive

import (
	"bytes"
	"io"
	"testing"

	"github.com/cobblestone-tools/anviltools/region"
)

func TestWriteReadRecordsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	header := PackHeader{RegionCount: 1}
	entry := RegionEntry{X: 3, Z: -4, ChunkCount: 2}
	chunks := []ChunkEntry{
		{Position: region.ChunkPos{X: 0, Z: 0}, Data: []byte("abc")},
		{Position: region.ChunkPos{X: 31, Z: 31}, Data: bytes.Repeat([]byte{0x42}, 5000)},
	}

	if err := w.WriteRecord(header); err != nil {
		t.Fatalf("WriteRecord(header): %v", err)
	}
	if err := w.WriteRecord(entry); err != nil {
		t.Fatalf("WriteRecord(entry): %v", err)
	}
	for _, c := range chunks {
		if err := w.WriteRecord(c); err != nil {
			t.Fatalf("WriteRecord(chunk): %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf, false)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var gotHeader PackHeader
	if err := r.ReadRecord(&gotHeader); err != nil {
		t.Fatalf("ReadRecord(header): %v", err)
	}
	if gotHeader != header {
		t.Errorf("header = %+v, want %+v", gotHeader, header)
	}

	var gotEntry RegionEntry
	if err := r.ReadRecord(&gotEntry); err != nil {
		t.Fatalf("ReadRecord(entry): %v", err)
	}
	if gotEntry != entry {
		t.Errorf("entry = %+v, want %+v", gotEntry, entry)
	}

	for i, want := range chunks {
		var got ChunkEntry
		if err := r.ReadRecord(&got); err != nil {
			t.Fatalf("ReadRecord(chunk %d): %v", i, err)
		}
		if got.Position != want.Position || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("chunk %d = %+v, want %+v", i, got, want)
		}
	}

	var extra PackHeader
	if err := r.ReadRecord(&extra); err != io.EOF {
		t.Errorf("ReadRecord past end: err = %v, want io.EOF", err)
	}
}

func TestWriteReadRecordsCompressed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	entry := RegionEntry{X: 1, Z: 2, ChunkCount: 1}
	if err := w.WriteRecord(entry); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf, true)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	var got RegionEntry
	if err := r.ReadRecord(&got); err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got != entry {
		t.Errorf("entry = %+v, want %+v", got, entry)
	}
}
