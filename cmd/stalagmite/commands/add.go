package commands

import (
	"fmt"

	"git.home.luguber.info/inful/stalagmite/internal/project"
)

// AddCmd groups the 'add' subcommands.
type AddCmd struct {
	Page  AddPageCmd  `cmd:"" help:"Create a markdown page with frontmatter"`
	Rules AddRulesCmd `cmd:"" help:"Write a rules.yaml for a content directory"`
}

// AddPageCmd implements 'add page'.
type AddPageCmd struct {
	Path  string `arg:"" help:"Page path relative to the content directory"`
	Title string `help:"Page title (default: derived from the file name)"`
	Slug  string `help:"Route slug override"`
}

func (c *AddPageCmd) Run(g *Global, root *CLI) error {
	_, p, err := root.load()
	if err != nil {
		return err
	}
	path, err := project.AddPage(p, c.Path, project.PageOptions{Title: c.Title, Slug: c.Slug})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Stdout, "created %s\n", path)
	return nil
}

// AddRulesCmd implements 'add rules'.
type AddRulesCmd struct {
	Dir             string   `arg:"" help:"Directory relative to the content directory"`
	Layout          []string `help:"Layout chain, innermost first" default:"primary"`
	ListingLayout   []string `name:"listing-layout" help:"Listing layout chain (default: listing, then the outermost layout)"`
	ListingPageSize int      `name:"listing-page-size" help:"Enable listings with this many entries per page"`
	Force           bool     `help:"Overwrite an existing rules.yaml"`
}

func (c *AddRulesCmd) Run(g *Global, root *CLI) error {
	_, p, err := root.load()
	if err != nil {
		return err
	}
	path, err := project.AddRules(p, c.Dir, project.RulesOptions{
		Layouts:         c.Layout,
		ListingLayouts:  c.ListingLayout,
		ListingPageSize: c.ListingPageSize,
		Force:           c.Force,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.Stdout, "created %s\n", path)
	return nil
}
