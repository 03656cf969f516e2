package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-git/go-git/v5"

	"github.com/breezy-team/breezy-debian/internal/gitstore"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"debimport.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Import ImportCmd `cmd:"" help:"Import source packages into upstream and packaging branches"`
	Tags   TagsCmd   `cmd:"" help:"List imported upstream versions"`
	Init   InitCmd   `cmd:"" help:"Write a default configuration file"`
}

// AfterApply runs after flag parsing; sets up logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// openStore opens the repository at path, initializing a fresh one when
// create is set and none exists.
func openStore(path string, create bool) (*gitstore.Store, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return gitstore.New(repo), nil
	}
	if create && errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return nil, err
		}
		return gitstore.New(repo), nil
	}
	return nil, err
}
