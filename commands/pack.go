package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/cobblestone-tools/anviltools/archive"
	"github.com/cobblestone-tools/anviltools/log"
	"github.com/cobblestone-tools/anviltools/region"
	"github.com/cobblestone-tools/anviltools/tagsurgery"
)

// chunkHandoffCapacity is the bounded channel size between a region's
// chunk-producing goroutine and the single archive-writing consumer, per
// spec.md §5 ("a bounded handoff (capacity 4 is known to suffice)").
const chunkHandoffCapacity = 4

// Pack implements the pack command: serialize a directory of region files
// into a single portable archive stream, per spec.md §1.
type Pack struct {
	inputDir   string
	outputFile string
	strip      bool
	compress   bool
	ignoreTTY  bool
	threads    int
}

func (*Pack) Name() string { return "pack" }

func (*Pack) Synopsis() string {
	return "Archive a directory of region files into a single stream."
}

func (*Pack) Usage() string {
	return `pack --input-dir=<dir> [--output-file=<path>] [--strip] [--compress] [--threads=<n>]
Serialize every region file in <input-dir> into a single archive, written
to --output-file if given, or to stdout otherwise.

`
}

func (p *Pack) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.inputDir, "input-dir", "", "Input directory of region (.mca) files to archive.")
	f.StringVar(&p.outputFile, "output-file", "", "Output path for the archive file (default is pipe to stdout).")
	f.BoolVar(&p.strip, "strip", false, "Strip cached data from chunks before archiving.")
	f.BoolVar(&p.compress, "compress", false, "Externally gzip-compress the archive stream.")
	f.BoolVar(&p.ignoreTTY, "ignore-tty", false, "Allow binary archive data to be written to a terminal.")
	f.IntVar(&p.threads, "threads", 1, "Threads used for reading and processing chunks within a region file.")
}

func (p *Pack) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 0 {
		log.Error("Extra positional arguments found.")
		return subcommands.ExitUsageError
	}
	if p.inputDir == "" {
		log.Error("--input-dir is required.")
		return subcommands.ExitUsageError
	}

	var w *os.File
	if p.outputFile != "" {
		f, err := os.Create(p.outputFile)
		if err != nil {
			log.Errorf("Cannot open output file: %v", err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		w = f
	} else {
		if isatty.IsTerminal(os.Stdout.Fd()) && !p.ignoreTTY {
			log.Error("Refusing to write binary archive data to a terminal (pass --ignore-tty to override).")
			return subcommands.ExitUsageError
		}
		w = os.Stdout
	}

	if err := packDir(ctx, w, p.inputDir, p.strip, p.compress, p.threads); err != nil {
		log.Errorf("Pack: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// packDir writes an archive of every region file in inputDir to w.
func packDir(ctx context.Context, w io.Writer, inputDir string, strip, compress bool, threads int) error {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return fmt.Errorf("cannot read contents of directory %q: %w", inputDir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".mca") {
			files = append(files, entry.Name())
		}
	}

	aw := archive.NewWriter(w, compress)
	if err := aw.WriteRecord(archive.PackHeader{RegionCount: uint32(len(files))}); err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(files)), "packing region files")
	for _, name := range files {
		if err := packFile(ctx, aw, filepath.Join(inputDir, name), name, strip, threads); err != nil {
			return err
		}
		bar.Add(1)
	}

	return aw.Close()
}

// packFile archives one region file's chunks: one goroutine dispatches each
// present slot to a pool of threads worker goroutines bounded by
// errgroup.Group.SetLimit, which apply tag surgery (if requested) and feed
// the single archive-writing consumer over a channel of capacity
// chunkHandoffCapacity, per spec.md §5. The dispatcher and consumer share a
// context that errgroup cancels as soon as either returns an error, so a
// failed write (e.g. a broken output pipe) unblocks every worker still
// trying to send instead of leaving the pipeline hung.
func packFile(ctx context.Context, aw *archive.Writer, path, name string, strip bool, threads int) error {
	pos, err := region.ParseName(name)
	if err != nil {
		return fmt.Errorf("invalid region file name %q: %w", path, err)
	}

	r, err := region.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer r.Close()

	if err := aw.WriteRecord(archive.RegionEntry{X: pos.X, Z: pos.Z, ChunkCount: uint32(r.ChunkCount())}); err != nil {
		return err
	}

	if threads < 1 {
		threads = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make(chan region.Chunk, chunkHandoffCapacity)

	g.Go(func() error {
		defer close(results)

		workers, workerCtx := errgroup.WithContext(ctx)
		workers.SetLimit(threads)

		it := r.StreamChunks()
		for {
			result, ok := it.Next()
			if !ok {
				break
			}
			if !result.Present {
				continue
			}
			if result.Err != nil {
				readErr := result.Err
				workers.Go(func() error {
					return fmt.Errorf("read chunk in %q: %w", path, readErr)
				})
				continue
			}

			result := result
			workers.Go(func() error {
				chunk := result.Chunk
				if strip {
					stripped, err := tagsurgery.Strip(chunk)
					if err != nil {
						return fmt.Errorf("strip chunk %v in %q: %w", result.Chunk.Position, path, err)
					}
					chunk = stripped
				}
				select {
				case results <- chunk:
					return nil
				case <-workerCtx.Done():
					return workerCtx.Err()
				}
			})
		}
		return workers.Wait()
	})

	g.Go(func() error {
		for chunk := range results {
			if err := aw.WriteRecord(archive.ChunkEntry{Position: chunk.Position, Data: chunk.Data}); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}
