package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/breezy-team/breezy-debian/cmd/debimport/commands"
)

var version = "dev"

func main() {
	// Optional .env for committer identity and store locations.
	_ = godotenv.Load()

	cli := commands.CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("debimport"),
		kong.Description("Reconstruct upstream and packaging git history from released Debian source packages."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	err := ctx.Run(&commands.Global{}, &cli)
	ctx.FatalIfErrorf(err)
}
