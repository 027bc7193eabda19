// Package archive implements the portable container format used by the
// pack/unpack commands: a sequence of length-prefixed records, optionally
// externally compressed, per spec.md §6.
package archive

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cobblestone-tools/anviltools/region"
)

// PackHeader is the first record of an archive: the number of regions that
// follow.
type PackHeader struct {
	RegionCount uint32
}

// RegionEntry precedes a region's chunks in an archive: the region's world
// position and how many ChunkEntry records follow.
type RegionEntry struct {
	X, Z       int32
	ChunkCount uint32
}

// ChunkEntry is one chunk's position and decompressed tag-tree payload.
type ChunkEntry struct {
	Position region.ChunkPos
	Data     []byte
}

// Writer appends length-prefixed, msgpack-encoded records to an underlying
// io.Writer.
type Writer struct {
	w   io.Writer
	gz  *gzip.Writer
	dst io.Writer
}

// NewWriter wraps w for writing archive records. If compress is true, the
// record stream is wrapped in a gzip writer so the whole archive is
// externally compressed, independent of each chunk's own zlib compression
// inside its region file.
func NewWriter(w io.Writer, compress bool) *Writer {
	aw := &Writer{w: w, dst: w}
	if compress {
		aw.gz = gzip.NewWriter(w)
		aw.dst = aw.gz
	}
	return aw
}

// WriteRecord encodes v as msgpack and appends it as one length-prefixed
// record.
func (w *Writer) WriteRecord(v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: encode record: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := w.dst.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("archive: write length prefix: %w", err)
	}
	if _, err := w.dst.Write(payload); err != nil {
		return fmt.Errorf("archive: write record: %w", err)
	}
	return nil
}

// Flush flushes any buffered compressed output. It does not close the
// underlying writer.
func (w *Writer) Flush() error {
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			return fmt.Errorf("archive: flush: %w", err)
		}
	}
	return nil
}

// Close finalizes the archive stream (flushing and closing the gzip
// wrapper, if any). It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return fmt.Errorf("archive: close: %w", err)
		}
	}
	return nil
}

// Reader decodes length-prefixed, msgpack-encoded records from an
// underlying io.Reader.
type Reader struct {
	r   io.Reader
	gz  *gzip.Reader
	src io.Reader
}

// NewReader wraps r for reading archive records. If compress is true, r is
// assumed to be gzip-compressed as a whole.
func NewReader(r io.Reader, compress bool) (*Reader, error) {
	ar := &Reader{r: r, src: r}
	if compress {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("archive: open gzip stream: %w", err)
		}
		ar.gz = gz
		ar.src = gz
	}
	return ar, nil
}

// ReadRecord decodes the next length-prefixed record into v.
func (r *Reader) ReadRecord(v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r.src, lenPrefix[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return fmt.Errorf("archive: read record: %w", err)
	}

	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("archive: decode record: %w", err)
	}
	return nil
}

// Close releases the gzip wrapper, if any. It does not close the
// underlying reader.
func (r *Reader) Close() error {
	if r.gz != nil {
		return r.gz.Close()
	}
	return nil
}
