package commands

import (
	"fmt"
	"os"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/publish"
)

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	Output bool `help:"Also remove a real (non-symlink) output directory"`
}

func (c *CleanCmd) Run(g *Global, root *CLI) error {
	cfg, p, err := root.load()
	if err != nil {
		return err
	}
	pub, err := publish.New(p.Output, p.State, publish.Mode(cfg.Publish.Mode), publish.WithLogger(g.Logger))
	if err != nil {
		return err
	}
	if err := pub.Clean(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIO, "remove published generations").Fatal().Build()
	}
	if err := os.RemoveAll(p.State); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIO, "remove state directory").
			Fatal().WithContext("path", p.State).Build()
	}
	_, _ = fmt.Fprintf(g.Stdout, "removed %s\n", p.State)
	if c.Output {
		if err := os.RemoveAll(p.Output); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryIO, "remove output directory").
				Fatal().WithContext("path", p.Output).Build()
		}
		_, _ = fmt.Fprintf(g.Stdout, "removed %s\n", p.Output)
	}
	return nil
}
