// anviltools is a command-line tool for working with Minecraft region files:
// stripping cached data from chunks, archiving and restoring a world's
// region files as a single portable stream, and reclaiming orphaned sectors.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/cobblestone-tools/anviltools/commands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&commands.Strip{}, "")
	subcommands.Register(&commands.Pack{}, "")
	subcommands.Register(&commands.Unpack{}, "")
	subcommands.Register(&commands.Compact{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
