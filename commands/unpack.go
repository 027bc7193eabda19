package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/subcommands"
	"github.com/mattn/go-isatty"

	"github.com/cobblestone-tools/anviltools/archive"
	"github.com/cobblestone-tools/anviltools/log"
	"github.com/cobblestone-tools/anviltools/region"
)

// writerCacheCapacity bounds the number of region files held open for
// writing at once, per spec.md §5 ("no more than 8 region files open for
// writing at any time").
const writerCacheCapacity = 8

// Unpack implements the unpack command: rebuild a directory of region files
// from an archive stream, per spec.md §1.
type Unpack struct {
	inputFile string
	outputDir string
	compress  bool
	ignoreTTY bool
}

func (*Unpack) Name() string { return "unpack" }

func (*Unpack) Synopsis() string {
	return "Rebuild a directory of region files from an archive stream."
}

func (*Unpack) Usage() string {
	return `unpack --output-dir=<dir> [--input-file=<path>] [--compress]
Reconstruct region files under <output-dir> from an archive stream, read
from --input-file if given, or from stdin otherwise.

`
}

func (u *Unpack) SetFlags(f *flag.FlagSet) {
	f.StringVar(&u.inputFile, "input-file", "", "Input archive file to unpack (default is read from stdin).")
	f.StringVar(&u.outputDir, "output-dir", "", "Output directory where rebuilt region files will be stored.")
	f.BoolVar(&u.compress, "compress", false, "The archive stream is externally gzip-compressed.")
	f.BoolVar(&u.ignoreTTY, "ignore-tty", false, "Allow binary archive data to be read from a terminal.")
}

func (u *Unpack) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 0 {
		log.Error("Extra positional arguments found.")
		return subcommands.ExitUsageError
	}
	if u.outputDir == "" {
		log.Error("--output-dir is required.")
		return subcommands.ExitUsageError
	}
	if err := os.MkdirAll(u.outputDir, 0o755); err != nil {
		log.Errorf("Cannot create output directory: %v", err)
		return subcommands.ExitFailure
	}

	var r *os.File
	if u.inputFile != "" {
		f, err := os.Open(u.inputFile)
		if err != nil {
			log.Errorf("Cannot open input file: %v", err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		r = f
	} else {
		if isatty.IsTerminal(os.Stdin.Fd()) && !u.ignoreTTY {
			log.Error("Refusing to read binary archive data from a terminal (pass --ignore-tty to override).")
			return subcommands.ExitUsageError
		}
		r = os.Stdin
	}

	if err := unpackStream(r, u.outputDir, u.compress); err != nil {
		log.Errorf("Unpack: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// writerHandle pairs an open region writer with the output path it was
// created for, so the eviction callback can report it by name.
type writerHandle struct {
	path string
	w    *region.RegionFileWriter
}

// unpackStream reads an archive from r and rebuilds region files under
// outputDir, keeping at most writerCacheCapacity writers open at once via an
// LRU cache: the least-recently-used writer is flushed and closed to make
// room for a newly referenced region, per spec.md §5.
func unpackStream(r io.Reader, outputDir string, compress bool) error {
	ar, err := archive.NewReader(r, compress)
	if err != nil {
		return fmt.Errorf("open archive stream: %w", err)
	}

	var evictErr error
	cache, err := lru.NewWithEvict(writerCacheCapacity, func(_ region.ChunkPos, h *writerHandle) {
		if cerr := h.w.Close(); cerr != nil && evictErr == nil {
			evictErr = fmt.Errorf("close region file %q: %w", h.path, cerr)
		}
	})
	if err != nil {
		return fmt.Errorf("create writer cache: %w", err)
	}

	var header archive.PackHeader
	if err := ar.ReadRecord(&header); err != nil {
		return fmt.Errorf("read pack header: %w", err)
	}

	for i := uint32(0); i < header.RegionCount; i++ {
		if err := unpackRegion(ar, cache, outputDir); err != nil {
			return err
		}
		if evictErr != nil {
			return evictErr
		}
	}

	for _, key := range cache.Keys() {
		h, ok := cache.Peek(key)
		if !ok {
			continue
		}
		if err := h.w.Close(); err != nil {
			return fmt.Errorf("close region file %q: %w", h.path, err)
		}
	}
	return ar.Close()
}

// unpackRegion reads one RegionEntry and its following ChunkEntry records,
// writing each chunk to the region file identified by the entry's world
// position.
func unpackRegion(ar *archive.Reader, cache *lru.Cache[region.ChunkPos, *writerHandle], outputDir string) error {
	var entry archive.RegionEntry
	if err := ar.ReadRecord(&entry); err != nil {
		return fmt.Errorf("read region entry: %w", err)
	}

	key := region.ChunkPos{X: entry.X, Z: entry.Z}
	h, ok := cache.Get(key)
	if !ok {
		path := filepath.Join(outputDir, region.FileName(key))
		w, err := region.Create(path)
		if err != nil {
			return fmt.Errorf("create region file %q: %w", path, err)
		}
		h = &writerHandle{path: path, w: w}
		cache.Add(key, h)
	}

	for i := uint32(0); i < entry.ChunkCount; i++ {
		var ce archive.ChunkEntry
		if err := ar.ReadRecord(&ce); err != nil {
			return fmt.Errorf("read chunk entry for region %v: %w", key, err)
		}
		if err := h.w.AddChunk(region.Chunk{Position: ce.Position, Data: ce.Data}); err != nil {
			return fmt.Errorf("write chunk %v to %q: %w", ce.Position, h.path, err)
		}
	}
	return nil
}
