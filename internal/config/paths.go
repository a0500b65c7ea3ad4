package config

import "path/filepath"

// Project holds the absolute locations of a project's directories.
type Project struct {
	Root    string
	Content string
	Layouts string
	Blocks  string
	Assets  string
	Output  string
	State   string
}

// Resolve anchors the configured paths at root. Absolute paths are kept.
func (c *Config) Resolve(root string) (Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Project{}, err
	}
	join := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(abs, p)
	}
	return Project{
		Root:    abs,
		Content: join(c.Paths.Content),
		Layouts: join(c.Paths.Layouts),
		Blocks:  join(c.Paths.Blocks),
		Assets:  join(c.Paths.Assets),
		Output:  join(c.Paths.Output),
		State:   join(c.Paths.State),
	}, nil
}

// CachePath is the SQLite cache file.
func (p Project) CachePath() string { return filepath.Join(p.State, "cache.sqlite") }
