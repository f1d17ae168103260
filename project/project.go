// Package project loads the Agent's static project catalog from
// projects.json.
package project

import (
	"encoding/json"
	"fmt"
	"os"
)

// QuickSessionID is the reserved project identifier for sessions rooted
// at the user's home directory rather than a configured project.
const QuickSessionID = "__quick__"

// Project is a named working directory plus optional matching hints,
// as loaded from projects.json. Immutable for the Agent's lifetime.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Keywords    []string `json:"keywords,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
	Description string   `json:"description,omitempty"`
}

// config is the on-disk shape of projects.json: a wrapped list, per
// the wire contract's rule that new implementations pick the wrapped
// form over an unwrapped top-level array.
type config struct {
	Projects []Project `json:"projects"`
}

// Catalog is the immutable, in-memory set of configured projects,
// indexed by ID for O(1) lookup.
type Catalog struct {
	ordered []Project
	byID    map[string]Project
}

// Load reads and parses projects.json from path. A missing file is not
// an error — it yields an empty catalog, letting the Agent run with
// quick sessions only.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{byID: map[string]Project{}}, nil
		}
		return nil, fmt.Errorf("read projects file %s: %w", path, err)
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse projects file %s: %w", path, err)
	}

	catalog := &Catalog{
		ordered: cfg.Projects,
		byID:    make(map[string]Project, len(cfg.Projects)),
	}
	for _, p := range cfg.Projects {
		catalog.byID[p.ID] = p
	}
	return catalog, nil
}

// Lookup returns the project with the given ID, or false if unknown.
func (c *Catalog) Lookup(id string) (Project, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// List returns all configured projects in projects.json order.
func (c *Catalog) List() []Project {
	out := make([]Project, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// QuickSession synthesizes the reserved quick-session project rooted at
// homeDir (typically the user's home, or QUICK_SESSION_PATH override).
func QuickSession(homeDir string) Project {
	return Project{
		ID:   QuickSessionID,
		Name: "Quick Session",
		Path: homeDir,
	}
}
