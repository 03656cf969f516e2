package commands

import (
	"fmt"

	"github.com/breezy-team/breezy-debian/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (c *InitCmd) Run(_ *Global, root *CLI) error {
	if err := config.Default().Write(root.Config, c.Force); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", root.Config)
	return nil
}
