package commands

import (
	"fmt"

	"git.home.luguber.info/inful/stalagmite/internal/project"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Dir   string `arg:"" optional:"" help:"Directory to scaffold (default: --project)" type:"path"`
	Git   bool   `help:"Initialise a git repository with a .gitignore"`
	Force bool   `help:"Overwrite existing files"`
}

func (c *InitCmd) Run(g *Global, root *CLI) error {
	dir := c.Dir
	if dir == "" {
		dir = root.Project
	}
	res, err := project.Init(dir, project.InitOptions{Git: c.Git, Force: c.Force})
	if err != nil {
		return err
	}
	for _, f := range res.Created {
		_, _ = fmt.Fprintf(g.Stdout, "created %s\n", f)
	}
	for _, f := range res.Skipped {
		_, _ = fmt.Fprintf(g.Stdout, "kept    %s\n", f)
	}
	if res.GitRepo {
		_, _ = fmt.Fprintln(g.Stdout, "initialised git repository")
	}
	return nil
}
