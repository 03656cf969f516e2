package commands

import (
	"fmt"

	"github.com/breezy-team/breezy-debian/internal/config"
	"github.com/breezy-team/breezy-debian/internal/tagindex"
)

// TagsCmd implements the 'tags' command.
type TagsCmd struct {
	Repo string `short:"r" help:"Path to the git repository" default:"."`
}

func (c *TagsCmd) Run(_ *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(c.Repo, false)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	index, err := tagindex.Load(store, cfg.Tags.UpstreamPrefix)
	if err != nil {
		return err
	}
	for _, entry := range index.Entries() {
		fmt.Printf("%s\t%s\n", entry.Upstream, entry.Commit)
	}
	return nil
}
